// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package imapsource lists an owner's INBOX over IMAP. The cursor records
// the mailbox UIDVALIDITY and the highest UID already returned.
package imapsource

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/inboxcopilot/pipeline/internal/mailbox"
	"github.com/inboxcopilot/pipeline/internal/models"
)

const defaultPort = "993"

// Config holds the IMAP provider settings.
type Config struct {
	PageSize int
	Timeout  time.Duration
	// InsecureSkipVerify disables certificate checks for local test servers.
	InsecureSkipVerify bool
}

// Provider implements mailbox.Provider over IMAP with implicit TLS.
type Provider struct {
	cfg Config
}

// NewProvider creates an IMAP provider.
func NewProvider(cfg Config) *Provider {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Provider{cfg: cfg}
}

func (p *Provider) Name() string { return models.ProviderIMAP }

// connect dials, authenticates and ties the connection's lifetime to ctx.
// The returned func logs out and closes the connection.
func (p *Provider) connect(ctx context.Context, cred *models.Credential) (*imapclient.Client, func(), error) {
	addr := cred.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, defaultPort)
	}
	host, _, _ := net.SplitHostPort(addr)

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: p.cfg.Timeout},
		Config:    &tls.Config{ServerName: host, InsecureSkipVerify: p.cfg.InsecureSkipVerify},
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}
	deadline := time.Now().Add(p.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	client := imapclient.New(conn, nil)
	stop := context.AfterFunc(ctx, func() { client.Close() })

	if err := client.Login(cred.Username, cred.Password).Wait(); err != nil {
		stop()
		client.Close()
		if loginRejected(err) {
			return nil, nil, fmt.Errorf("login as %s: %v: %w", cred.Username, err, mailbox.ErrAuthExpired)
		}
		return nil, nil, fmt.Errorf("login as %s: %w", cred.Username, err)
	}
	return client, func() {
		stop()
		_ = client.Logout().Wait()
		client.Close()
	}, nil
}

// loginRejected reports whether the server refused the credentials with a
// tagged NO. A NO without a response code counts, since many servers send
// a bare "NO LOGIN failed". Transport errors never count.
func loginRejected(err error) bool {
	var ierr *imap.Error
	if !errors.As(err, &ierr) || ierr.Type != imap.StatusResponseTypeNo {
		return false
	}
	switch ierr.Code {
	case "", imap.ResponseCodeAuthenticationFailed, imap.ResponseCodeAuthorizationFailed, imap.ResponseCode("EXPIRED"):
		return true
	}
	return false
}

// FetchPage returns up to PageSize messages with UIDs above the cursor,
// oldest first.
func (p *Provider) FetchPage(ctx context.Context, cred *models.Credential, cursor string) (*mailbox.Page, error) {
	pos, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}

	client, closeFn, err := p.connect(ctx, cred)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	sel, err := client.Select("INBOX", &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return nil, fmt.Errorf("selecting INBOX: %w", err)
	}
	if pos.validity != 0 && pos.validity != sel.UIDValidity {
		return nil, fmt.Errorf("UIDVALIDITY changed from %d to %d: %w", pos.validity, sel.UIDValidity, mailbox.ErrCursorExpired)
	}

	var set imap.UIDSet
	set.AddRange(imap.UID(pos.lastUID+1), 0)
	data, err := client.UIDSearch(&imap.SearchCriteria{UID: []imap.UIDSet{set}}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}

	uids, more := pageUIDs(data.AllUIDs(), pos.lastUID, p.cfg.PageSize)
	page := &mailbox.Page{HasMore: more}
	next := position{validity: sel.UIDValidity, lastUID: pos.lastUID}

	if len(uids) > 0 {
		msgs, err := fetch(client, uids)
		if err != nil {
			return nil, err
		}
		page.Messages = msgs
		next.lastUID = uint32(uids[len(uids)-1])
	}
	page.NextCursor = next.String()
	return page, nil
}

// pageUIDs drops UIDs at or below last (a "n:*" search always matches the
// newest message) and returns the first size of the rest in ascending
// order.
func pageUIDs(all []imap.UID, last uint32, size int) ([]imap.UID, bool) {
	uids := make([]imap.UID, 0, len(all))
	for _, uid := range all {
		if uint32(uid) > last {
			uids = append(uids, uid)
		}
	}
	slices.Sort(uids)
	if len(uids) > size {
		return uids[:size], true
	}
	return uids, false
}

func fetch(client *imapclient.Client, uids []imap.UID) ([]models.Message, error) {
	section := &imap.FetchItemBodySection{Peek: true}
	cmd := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:          true,
		Flags:        true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{section},
	})
	defer cmd.Close()

	var msgs []models.Message
	for {
		msg := cmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			return nil, fmt.Errorf("collecting message data: %w", err)
		}

		m := parseMessage(buf.FindBodySection(section))
		m.ExternalID = strconv.FormatUint(uint64(buf.UID), 10)
		m.IsRead = slices.Contains(buf.Flags, imap.FlagSeen)
		if m.ReceivedAt.IsZero() {
			m.ReceivedAt = buf.InternalDate.UTC()
		}
		msgs = append(msgs, m)
	}
	if err := cmd.Close(); err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}

	slices.SortFunc(msgs, func(a, b models.Message) int {
		ai, _ := strconv.ParseUint(a.ExternalID, 10, 32)
		bi, _ := strconv.ParseUint(b.ExternalID, 10, 32)
		return int(ai) - int(bi)
	})
	return msgs, nil
}

// position is the decoded cursor "uid:<validity>:<last uid>".
type position struct {
	validity uint32
	lastUID  uint32
}

func (p position) String() string {
	return fmt.Sprintf("uid:%d:%d", p.validity, p.lastUID)
}

func parseCursor(s string) (position, error) {
	if s == "" {
		return position{}, nil
	}
	parts := strings.Split(s, ":")
	if len(parts) != 3 || parts[0] != "uid" {
		return position{}, fmt.Errorf("unrecognised IMAP cursor %q: %w", s, mailbox.ErrCursorExpired)
	}
	v, err1 := strconv.ParseUint(parts[1], 10, 32)
	u, err2 := strconv.ParseUint(parts[2], 10, 32)
	if err1 != nil || err2 != nil {
		return position{}, fmt.Errorf("malformed IMAP cursor %q: %w", s, mailbox.ErrCursorExpired)
	}
	return position{validity: uint32(v), lastUID: uint32(u)}, nil
}
