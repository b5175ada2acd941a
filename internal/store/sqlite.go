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

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/inboxcopilot/pipeline/internal/models"
)

// SQLite implements Store on a local SQLite database. Timestamps are stored
// as INTEGER unix milliseconds.
type SQLite struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLite opens (or creates) the database at path and applies pending
// migrations. An empty path or ":memory:" gives a private in-memory database.
func NewSQLite(path string) (*SQLite, error) {
	path = strings.TrimSpace(path)
	inMemory := path == "" || path == ":memory:" || strings.Contains(path, "mode=memory")
	if path == "" {
		path = ":memory:"
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps an in-memory database shared and serialises
	// writers on file databases.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if !inMemory {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}

	s := &SQLite{db: db, now: time.Now}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// SetClock replaces the clock used for row timestamps and lease staleness.
func (s *SQLite) SetClock(now func() time.Time) {
	s.now = now
}

func (s *SQLite) runMigrations() error {
	current := 0

	var tables int
	if err := s.db.Get(&tables,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'"); err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tables > 0 {
		if err := s.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
	}

	for _, m := range sqliteMigrations {
		if m.version <= current {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
	}
	return nil
}

type migration struct {
	version int
	sql     string
}

var sqliteMigrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	owner_id        TEXT NOT NULL,
	external_id     TEXT NOT NULL,
	subject         TEXT NOT NULL DEFAULT '',
	sender_name     TEXT NOT NULL DEFAULT '',
	sender_address  TEXT NOT NULL DEFAULT '',
	body_plain      TEXT NOT NULL DEFAULT '',
	body_html       TEXT NOT NULL DEFAULT '',
	body_preview    TEXT NOT NULL DEFAULT '',
	received_at     INTEGER NOT NULL,
	conversation_id TEXT NOT NULL DEFAULT '',
	is_read         INTEGER NOT NULL DEFAULT 0,
	category        TEXT,
	priority        INTEGER CHECK (priority BETWEEN 1 AND 10),
	tone            TEXT,
	summary         TEXT,
	hidden_intent   TEXT,
	risk_flag       INTEGER NOT NULL DEFAULT 0,
	draft_reply     TEXT,
	processed       INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL,
	UNIQUE(owner_id, external_id),
	CHECK (processed = 0 OR (category IS NOT NULL AND priority IS NOT NULL AND summary IS NOT NULL))
);
CREATE INDEX IF NOT EXISTS idx_messages_received ON messages(owner_id, received_at);
CREATE INDEX IF NOT EXISTS idx_messages_unprocessed ON messages(owner_id, processed, received_at);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(owner_id, conversation_id);

CREATE TABLE IF NOT EXISTS sync_cursors (
	owner_id        TEXT PRIMARY KEY,
	token           TEXT NOT NULL DEFAULT '',
	last_success_at INTEGER,
	error_count     INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT NOT NULL DEFAULT '',
	in_flight       INTEGER NOT NULL DEFAULT 0,
	in_flight_since INTEGER,
	messages_synced INTEGER NOT NULL DEFAULT 0,
	updated_at      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS preferences (
	owner_id             TEXT PRIMARY KEY,
	display_name         TEXT NOT NULL DEFAULT '',
	tone                 TEXT NOT NULL DEFAULT '',
	reply_length         TEXT NOT NULL DEFAULT '',
	course_policies      TEXT NOT NULL DEFAULT '',
	signature            TEXT NOT NULL DEFAULT '',
	categorization_notes TEXT NOT NULL DEFAULT '',
	updated_at           INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS credentials (
	owner_id      TEXT PRIMARY KEY,
	provider      TEXT NOT NULL,
	access_token  TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT '',
	expiry        INTEGER,
	host          TEXT NOT NULL DEFAULT '',
	username      TEXT NOT NULL DEFAULT '',
	password      TEXT NOT NULL DEFAULT '',
	updated_at    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS digests (
	owner_id     TEXT NOT NULL,
	digest_date  TEXT NOT NULL,
	payload      TEXT NOT NULL,
	generated_at INTEGER NOT NULL,
	PRIMARY KEY (owner_id, digest_date)
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}

// messageRow mirrors messageColumns for sqlx scanning.
type messageRow struct {
	ID             string `db:"id"`
	OwnerID        string `db:"owner_id"`
	ExternalID     string `db:"external_id"`
	Subject        string `db:"subject"`
	SenderName     string `db:"sender_name"`
	SenderAddress  string `db:"sender_address"`
	BodyPlain      string `db:"body_plain"`
	BodyHTML       string `db:"body_html"`
	BodyPreview    string `db:"body_preview"`
	ReceivedAt     int64  `db:"received_at"`
	ConversationID string `db:"conversation_id"`
	IsRead         bool   `db:"is_read"`
	Category       string `db:"category"`
	Priority       int    `db:"priority"`
	Tone           string `db:"tone"`
	Summary        string `db:"summary"`
	HiddenIntent   string `db:"hidden_intent"`
	RiskFlag       bool   `db:"risk_flag"`
	DraftReply     string `db:"draft_reply"`
	Processed      bool   `db:"processed"`
	CreatedAt      int64  `db:"created_at"`
	UpdatedAt      int64  `db:"updated_at"`
}

func (r messageRow) toModel() models.Message {
	return models.Message{
		ID:             r.ID,
		OwnerID:        r.OwnerID,
		ExternalID:     r.ExternalID,
		Subject:        r.Subject,
		SenderName:     r.SenderName,
		SenderAddress:  r.SenderAddress,
		BodyPlain:      r.BodyPlain,
		BodyHTML:       r.BodyHTML,
		BodyPreview:    r.BodyPreview,
		ReceivedAt:     fromMillis(r.ReceivedAt),
		ConversationID: r.ConversationID,
		IsRead:         r.IsRead,
		Category:       models.Category(r.Category),
		Priority:       r.Priority,
		Tone:           models.Tone(r.Tone),
		Summary:        r.Summary,
		HiddenIntent:   r.HiddenIntent,
		RiskFlag:       r.RiskFlag,
		DraftReply:     r.DraftReply,
		Processed:      r.Processed,
		CreatedAt:      fromMillis(r.CreatedAt),
		UpdatedAt:      fromMillis(r.UpdatedAt),
	}
}

func toModels(rows []messageRow) []models.Message {
	out := make([]models.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out
}

func (s *SQLite) InsertMessage(ctx context.Context, m *models.Message) (bool, error) {
	now := s.now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages
			(id, owner_id, external_id, subject, sender_name, sender_address,
			 body_plain, body_html, body_preview, received_at, conversation_id, is_read,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, external_id) DO NOTHING`,
		m.ID, m.OwnerID, m.ExternalID, m.Subject, m.SenderName, m.SenderAddress,
		m.BodyPlain, m.BodyHTML, m.BodyPreview, m.ReceivedAt.UnixMilli(), m.ConversationID, m.IsRead,
		now, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLite) GetMessage(ctx context.Context, ownerID, id string) (*models.Message, error) {
	var row messageRow
	err := s.db.GetContext(ctx, &row, `SELECT `+messageColumns+`
		FROM messages WHERE owner_id = ? AND id = ?`, ownerID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m := row.toModel()
	return &m, nil
}

func (s *SQLite) ListUnprocessed(ctx context.Context, ownerID string, limit int) ([]models.Message, error) {
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+messageColumns+`
		FROM messages
		WHERE owner_id = ? AND processed = 0
		ORDER BY received_at ASC
		LIMIT ?`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	return toModels(rows), nil
}

func (s *SQLite) ListConversation(ctx context.Context, ownerID, conversationID string, before time.Time, limit int) ([]models.Message, error) {
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+messageColumns+`
		FROM messages
		WHERE owner_id = ? AND conversation_id = ? AND received_at < ?
		ORDER BY received_at DESC
		LIMIT ?`, ownerID, conversationID, before.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	return toModels(rows), nil
}

func (s *SQLite) ListReceivedBetween(ctx context.Context, ownerID string, from, to time.Time) ([]models.Message, error) {
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+messageColumns+`
		FROM messages
		WHERE owner_id = ? AND received_at >= ? AND received_at < ?
		ORDER BY received_at ASC`, ownerID, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, err
	}
	return toModels(rows), nil
}

func (s *SQLite) SearchMessages(ctx context.Context, ownerID string, terms []string, limit int) ([]models.Message, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	args := []any{ownerID}
	clauses := make([]string, 0, len(terms))
	for _, term := range terms {
		p := likePattern(term)
		args = append(args, p, p, p, p, p)
		clauses = append(clauses, `(LOWER(subject) LIKE ? ESCAPE '\' OR LOWER(body_preview) LIKE ? ESCAPE '\'
			OR LOWER(COALESCE(summary, '')) LIKE ? ESCAPE '\' OR LOWER(sender_name) LIKE ? ESCAPE '\'
			OR LOWER(sender_address) LIKE ? ESCAPE '\')`)
	}
	args = append(args, limit)

	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+messageColumns+`
		FROM messages
		WHERE owner_id = ? AND (`+strings.Join(clauses, " OR ")+`)
		ORDER BY received_at DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	return toModels(rows), nil
}

func (s *SQLite) SaveClassification(ctx context.Context, ownerID, id string, c models.ClassificationResult) error {
	if err := validateClassification(c); err != nil {
		return fmt.Errorf("save classification %s: %w", id, err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET category = ?, priority = ?, tone = ?, summary = ?, hidden_intent = ?,
		    risk_flag = ?, processed = 1, updated_at = ?
		WHERE owner_id = ? AND id = ?`,
		string(c.Category), c.Priority, nullIfEmpty(string(c.Tone)), c.Summary,
		nullIfEmpty(c.HiddenIntent), c.RiskFlag, s.now().UnixMilli(), ownerID, id)
	return affectedOne(res, err)
}

func (s *SQLite) SaveDraft(ctx context.Context, ownerID, id, draft string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET draft_reply = ?, updated_at = ?
		WHERE owner_id = ? AND id = ?`, draft, s.now().UnixMilli(), ownerID, id)
	return affectedOne(res, err)
}

func (s *SQLite) ListMessages(ctx context.Context, ownerID string, f MessageFilter) ([]models.Message, int, error) {
	where := []string{"owner_id = ?"}
	args := []any{ownerID}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(f.Category))
	}
	if f.MinPriority > 0 {
		where = append(where, "priority >= ?")
		args = append(args, f.MinPriority)
	}
	if f.UnreadOnly {
		where = append(where, "is_read = 0")
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM messages WHERE `+cond, args...); err != nil {
		return nil, 0, err
	}
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+messageColumns+`
		FROM messages
		WHERE `+cond+`
		ORDER BY received_at DESC, id
		LIMIT ? OFFSET ?`, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	return toModels(rows), total, nil
}

func (s *SQLite) MarkRead(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_read = 1, updated_at = ?
		WHERE owner_id = ? AND id = ?`, s.now().UnixMilli(), ownerID, id)
	return affectedOne(res, err)
}

func (s *SQLite) InboxCounts(ctx context.Context, ownerID string) (*models.InboxStats, error) {
	var st models.InboxStats
	err := s.db.QueryRowxContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN is_read = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN processed = 1 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN priority >= ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN risk_flag = 1 THEN 1 ELSE 0 END), 0)
		FROM messages WHERE owner_id = ?`, models.HighPriorityThreshold, ownerID).
		Scan(&st.Total, &st.Unread, &st.Processed, &st.Urgent, &st.Risk)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *SQLite) CategoryCounts(ctx context.Context, ownerID string) ([]models.CategoryCount, error) {
	var rows []struct {
		Category string `db:"category"`
		Count    int    `db:"n"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT category, COUNT(*) AS n
		FROM messages
		WHERE owner_id = ? AND category IS NOT NULL
		GROUP BY category
		ORDER BY n DESC, category`, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]models.CategoryCount, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.CategoryCount{Category: models.Category(r.Category), Count: r.Count})
	}
	return out, nil
}

func (s *SQLite) GetPreferences(ctx context.Context, ownerID string) (*models.Preferences, error) {
	p := models.Preferences{OwnerID: ownerID}
	err := s.db.QueryRowxContext(ctx, `
		SELECT display_name, tone, reply_length, course_policies, signature, categorization_notes
		FROM preferences WHERE owner_id = ?`, ownerID).
		Scan(&p.DisplayName, &p.Tone, &p.ReplyLength, &p.CoursePolicies, &p.Signature, &p.CategorizationNotes)
	if errors.Is(err, sql.ErrNoRows) {
		return &p, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLite) UpsertPreferences(ctx context.Context, p models.Preferences) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences
			(owner_id, display_name, tone, reply_length, course_policies, signature, categorization_notes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id) DO UPDATE SET
			display_name         = excluded.display_name,
			tone                 = excluded.tone,
			reply_length         = excluded.reply_length,
			course_policies      = excluded.course_policies,
			signature            = excluded.signature,
			categorization_notes = excluded.categorization_notes,
			updated_at           = excluded.updated_at`,
		p.OwnerID, p.DisplayName, p.Tone, p.ReplyLength, p.CoursePolicies, p.Signature,
		p.CategorizationNotes, s.now().UnixMilli())
	return err
}

func (s *SQLite) SaveDigest(ctx context.Context, ownerID, date string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO digests (owner_id, digest_date, payload, generated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (owner_id, digest_date) DO UPDATE SET
			payload      = excluded.payload,
			generated_at = excluded.generated_at`,
		ownerID, date, string(payload), s.now().UnixMilli())
	return err
}

func (s *SQLite) GetDigest(ctx context.Context, ownerID, date string) ([]byte, error) {
	var payload string
	err := s.db.GetContext(ctx, &payload,
		`SELECT payload FROM digests WHERE owner_id = ? AND digest_date = ?`, ownerID, date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

func (s *SQLite) GetCursor(ctx context.Context, ownerID string) (*models.SyncCursor, error) {
	c := models.SyncCursor{OwnerID: ownerID}
	var lastSuccess, since sql.NullInt64
	err := s.db.QueryRowxContext(ctx, `
		SELECT token, last_success_at, error_count, last_error, in_flight, in_flight_since, messages_synced
		FROM sync_cursors WHERE owner_id = ?`, ownerID).
		Scan(&c.Token, &lastSuccess, &c.ErrorCount, &c.LastError, &c.InFlight, &since, &c.MessagesSynced)
	if errors.Is(err, sql.ErrNoRows) {
		return &c, nil
	}
	if err != nil {
		return nil, err
	}
	c.LastSuccessAt = nullableMillis(lastSuccess)
	c.InFlightSince = nullableMillis(since)
	return &c, nil
}

func (s *SQLite) AcquireSyncLease(ctx context.Context, ownerID string, staleAfter time.Duration) (bool, error) {
	now := s.now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (owner_id, in_flight, in_flight_since, updated_at)
		VALUES (?, 1, ?, ?)
		ON CONFLICT (owner_id) DO UPDATE SET
			in_flight       = 1,
			in_flight_since = excluded.in_flight_since,
			updated_at      = excluded.updated_at
		WHERE sync_cursors.in_flight = 0 OR sync_cursors.in_flight_since < ?`,
		ownerID, now, now, staleCutoff(s.now(), staleAfter).UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLite) ReleaseSyncLease(ctx context.Context, ownerID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_cursors SET in_flight = 0, in_flight_since = NULL, updated_at = ?
		WHERE owner_id = ?`, s.now().UnixMilli(), ownerID)
	return err
}

func (s *SQLite) AdvanceCursor(ctx context.Context, ownerID, token string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (owner_id, token, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (owner_id) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`,
		ownerID, token, s.now().UnixMilli())
	return err
}

func (s *SQLite) RecordSyncSuccess(ctx context.Context, ownerID string, inserted int) error {
	now := s.now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_cursors
		SET last_success_at = ?, error_count = 0, last_error = '',
		    messages_synced = messages_synced + ?, updated_at = ?
		WHERE owner_id = ?`, now, inserted, now, ownerID)
	return err
}

func (s *SQLite) RecordSyncError(ctx context.Context, ownerID, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (owner_id, error_count, last_error, updated_at) VALUES (?, 1, ?, ?)
		ON CONFLICT (owner_id) DO UPDATE SET
			error_count = sync_cursors.error_count + 1,
			last_error  = excluded.last_error,
			updated_at  = excluded.updated_at`,
		ownerID, message, s.now().UnixMilli())
	return err
}

func (s *SQLite) GetCredential(ctx context.Context, ownerID string) (*models.Credential, error) {
	c := models.Credential{OwnerID: ownerID}
	var expiry sql.NullInt64
	var updated int64
	err := s.db.QueryRowxContext(ctx, `
		SELECT provider, access_token, refresh_token, expiry, host, username, password, updated_at
		FROM credentials WHERE owner_id = ?`, ownerID).
		Scan(&c.Provider, &c.AccessToken, &c.RefreshToken, &expiry, &c.Host, &c.Username, &c.Password, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if t := nullableMillis(expiry); t != nil {
		c.Expiry = *t
	}
	c.UpdatedAt = fromMillis(updated)
	return &c, nil
}

func (s *SQLite) SaveCredential(ctx context.Context, c models.Credential) error {
	var expiry any
	if !c.Expiry.IsZero() {
		expiry = c.Expiry.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials
			(owner_id, provider, access_token, refresh_token, expiry, host, username, password, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id) DO UPDATE SET
			provider      = excluded.provider,
			access_token  = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expiry        = excluded.expiry,
			host          = excluded.host,
			username      = excluded.username,
			password      = excluded.password,
			updated_at    = excluded.updated_at`,
		c.OwnerID, c.Provider, c.AccessToken, c.RefreshToken, expiry, c.Host, c.Username, c.Password,
		s.now().UnixMilli())
	return err
}

func (s *SQLite) ListCredentialOwners(ctx context.Context) ([]string, error) {
	var owners []string
	if err := s.db.SelectContext(ctx, &owners, `SELECT owner_id FROM credentials ORDER BY owner_id`); err != nil {
		return nil, err
	}
	return owners, nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullableMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}
