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
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inboxcopilot/pipeline/internal/models"
)

// messageColumns is shared by both backends. Nullable enrichment columns
// are coalesced so rows scan into plain Go values.
const messageColumns = `
	id, owner_id, external_id, subject, sender_name, sender_address,
	body_plain, body_html, body_preview, received_at, conversation_id, is_read,
	COALESCE(category, '') AS category, COALESCE(priority, 0) AS priority,
	COALESCE(tone, '') AS tone, COALESCE(summary, '') AS summary,
	COALESCE(hidden_intent, '') AS hidden_intent, risk_flag,
	COALESCE(draft_reply, '') AS draft_reply, processed, created_at, updated_at`

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgres connects to dsn and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return NewPostgresWithPool(ctx, pool)
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	s := &Postgres{pool: pool, now: time.Now}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure postgres schema: %w", err)
	}
	slog.Info("postgres store initialised")
	return s, nil
}

func (s *Postgres) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
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
			received_at     TIMESTAMPTZ NOT NULL,
			conversation_id TEXT NOT NULL DEFAULT '',
			is_read         BOOLEAN NOT NULL DEFAULT FALSE,
			category        TEXT,
			priority        SMALLINT CHECK (priority BETWEEN 1 AND 10),
			tone            TEXT,
			summary         TEXT,
			hidden_intent   TEXT,
			risk_flag       BOOLEAN NOT NULL DEFAULT FALSE,
			draft_reply     TEXT,
			processed       BOOLEAN NOT NULL DEFAULT FALSE,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(owner_id, external_id),
			CHECK (NOT processed OR (category IS NOT NULL AND priority IS NOT NULL AND summary IS NOT NULL))
		);
		CREATE INDEX IF NOT EXISTS idx_messages_received ON messages(owner_id, received_at);
		CREATE INDEX IF NOT EXISTS idx_messages_unprocessed ON messages(owner_id, processed, received_at);
		CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(owner_id, conversation_id);

		CREATE TABLE IF NOT EXISTS sync_cursors (
			owner_id        TEXT PRIMARY KEY,
			token           TEXT NOT NULL DEFAULT '',
			last_success_at TIMESTAMPTZ,
			error_count     INTEGER NOT NULL DEFAULT 0,
			last_error      TEXT NOT NULL DEFAULT '',
			in_flight       BOOLEAN NOT NULL DEFAULT FALSE,
			in_flight_since TIMESTAMPTZ,
			messages_synced BIGINT NOT NULL DEFAULT 0,
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS preferences (
			owner_id             TEXT PRIMARY KEY,
			display_name         TEXT NOT NULL DEFAULT '',
			tone                 TEXT NOT NULL DEFAULT '',
			reply_length         TEXT NOT NULL DEFAULT '',
			course_policies      TEXT NOT NULL DEFAULT '',
			signature            TEXT NOT NULL DEFAULT '',
			categorization_notes TEXT NOT NULL DEFAULT '',
			updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS credentials (
			owner_id      TEXT PRIMARY KEY,
			provider      TEXT NOT NULL,
			access_token  TEXT NOT NULL DEFAULT '',
			refresh_token TEXT NOT NULL DEFAULT '',
			expiry        TIMESTAMPTZ,
			host          TEXT NOT NULL DEFAULT '',
			username      TEXT NOT NULL DEFAULT '',
			password      TEXT NOT NULL DEFAULT '',
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS digests (
			owner_id     TEXT NOT NULL,
			digest_date  TEXT NOT NULL,
			payload      JSONB NOT NULL,
			generated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (owner_id, digest_date)
		);
	`)
	return err
}

// InsertMessage relies on the (owner_id, external_id) unique key so
// concurrent or repeated ingests of the same message are no-ops.
func (s *Postgres) InsertMessage(ctx context.Context, m *models.Message) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO messages
			(id, owner_id, external_id, subject, sender_name, sender_address,
			 body_plain, body_html, body_preview, received_at, conversation_id, is_read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (owner_id, external_id) DO NOTHING
	`, m.ID, m.OwnerID, m.ExternalID, m.Subject, m.SenderName, m.SenderAddress,
		m.BodyPlain, m.BodyHTML, m.BodyPreview, m.ReceivedAt.UTC(), m.ConversationID, m.IsRead)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Postgres) GetMessage(ctx context.Context, ownerID, id string) (*models.Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+messageColumns+`
		FROM messages WHERE owner_id = $1 AND id = $2`, ownerID, id)
	return scanMessage(row)
}

func (s *Postgres) ListUnprocessed(ctx context.Context, ownerID string, limit int) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+messageColumns+`
		FROM messages
		WHERE owner_id = $1 AND processed = FALSE
		ORDER BY received_at ASC
		LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (s *Postgres) ListConversation(ctx context.Context, ownerID, conversationID string, before time.Time, limit int) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+messageColumns+`
		FROM messages
		WHERE owner_id = $1 AND conversation_id = $2 AND received_at < $3
		ORDER BY received_at DESC
		LIMIT $4`, ownerID, conversationID, before.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (s *Postgres) ListReceivedBetween(ctx context.Context, ownerID string, from, to time.Time) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+messageColumns+`
		FROM messages
		WHERE owner_id = $1 AND received_at >= $2 AND received_at < $3
		ORDER BY received_at ASC`, ownerID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (s *Postgres) SearchMessages(ctx context.Context, ownerID string, terms []string, limit int) ([]models.Message, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	args := []any{ownerID}
	clauses := make([]string, 0, len(terms))
	for _, term := range terms {
		args = append(args, likePattern(term))
		p := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf(
			`(LOWER(subject) LIKE %[1]s ESCAPE '\' OR LOWER(body_preview) LIKE %[1]s ESCAPE '\'
			  OR LOWER(COALESCE(summary, '')) LIKE %[1]s ESCAPE '\' OR LOWER(sender_name) LIKE %[1]s ESCAPE '\'
			  OR LOWER(sender_address) LIKE %[1]s ESCAPE '\')`, p))
	}
	args = append(args, limit)
	query := `SELECT ` + messageColumns + `
		FROM messages
		WHERE owner_id = $1 AND (` + strings.Join(clauses, " OR ") + `)
		ORDER BY received_at DESC
		LIMIT ` + fmt.Sprintf("$%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

// SaveClassification writes every enrichment column and processed = TRUE
// in one statement.
func (s *Postgres) SaveClassification(ctx context.Context, ownerID, id string, c models.ClassificationResult) error {
	if err := validateClassification(c); err != nil {
		return fmt.Errorf("save classification %s: %w", id, err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET category = $1, priority = $2, tone = $3, summary = $4, hidden_intent = $5,
		    risk_flag = $6, processed = TRUE, updated_at = NOW()
		WHERE owner_id = $7 AND id = $8
	`, string(c.Category), c.Priority, nullIfEmpty(string(c.Tone)), c.Summary,
		nullIfEmpty(c.HiddenIntent), c.RiskFlag, ownerID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) SaveDraft(ctx context.Context, ownerID, id, draft string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET draft_reply = $1, updated_at = NOW()
		WHERE owner_id = $2 AND id = $3
	`, draft, ownerID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) ListMessages(ctx context.Context, ownerID string, f MessageFilter) ([]models.Message, int, error) {
	where := []string{"owner_id = $1"}
	args := []any{ownerID}
	if f.Category != "" {
		args = append(args, string(f.Category))
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if f.MinPriority > 0 {
		args = append(args, f.MinPriority)
		where = append(where, fmt.Sprintf("priority >= $%d", len(args)))
	}
	if f.UnreadOnly {
		where = append(where, "is_read = FALSE")
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	rows, err := s.pool.Query(ctx, `SELECT `+messageColumns+`
		FROM messages
		WHERE `+cond+`
		ORDER BY received_at DESC, id
		LIMIT `+fmt.Sprintf("$%d OFFSET $%d", n+1, n+2), append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

func (s *Postgres) MarkRead(ctx context.Context, ownerID, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET is_read = TRUE, updated_at = NOW()
		WHERE owner_id = $1 AND id = $2
	`, ownerID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) InboxCounts(ctx context.Context, ownerID string) (*models.InboxStats, error) {
	var st models.InboxStats
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE NOT is_read),
		       COUNT(*) FILTER (WHERE processed),
		       COUNT(*) FILTER (WHERE priority >= $2),
		       COUNT(*) FILTER (WHERE risk_flag)
		FROM messages WHERE owner_id = $1
	`, ownerID, models.HighPriorityThreshold).
		Scan(&st.Total, &st.Unread, &st.Processed, &st.Urgent, &st.Risk)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Postgres) CategoryCounts(ctx context.Context, ownerID string) ([]models.CategoryCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT category, COUNT(*) AS n
		FROM messages
		WHERE owner_id = $1 AND category IS NOT NULL
		GROUP BY category
		ORDER BY n DESC, category
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.CategoryCount{}
	for rows.Next() {
		var c models.CategoryCount
		var category string
		if err := rows.Scan(&category, &c.Count); err != nil {
			return nil, err
		}
		c.Category = models.Category(category)
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetPreferences returns empty preferences when none were stored.
func (s *Postgres) GetPreferences(ctx context.Context, ownerID string) (*models.Preferences, error) {
	p := models.Preferences{OwnerID: ownerID}
	err := s.pool.QueryRow(ctx, `
		SELECT display_name, tone, reply_length, course_policies, signature, categorization_notes
		FROM preferences WHERE owner_id = $1
	`, ownerID).Scan(&p.DisplayName, &p.Tone, &p.ReplyLength, &p.CoursePolicies, &p.Signature, &p.CategorizationNotes)
	if errors.Is(err, pgx.ErrNoRows) {
		return &p, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Postgres) UpsertPreferences(ctx context.Context, p models.Preferences) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO preferences
			(owner_id, display_name, tone, reply_length, course_policies, signature, categorization_notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (owner_id) DO UPDATE SET
			display_name         = EXCLUDED.display_name,
			tone                 = EXCLUDED.tone,
			reply_length         = EXCLUDED.reply_length,
			course_policies      = EXCLUDED.course_policies,
			signature            = EXCLUDED.signature,
			categorization_notes = EXCLUDED.categorization_notes,
			updated_at           = NOW()
	`, p.OwnerID, p.DisplayName, p.Tone, p.ReplyLength, p.CoursePolicies, p.Signature, p.CategorizationNotes)
	return err
}

// SaveDigest overwrites any earlier snapshot for the same owner and date.
func (s *Postgres) SaveDigest(ctx context.Context, ownerID, date string, payload []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO digests (owner_id, digest_date, payload)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (owner_id, digest_date) DO UPDATE SET
			payload      = EXCLUDED.payload,
			generated_at = NOW()
	`, ownerID, date, string(payload))
	return err
}

func (s *Postgres) GetDigest(ctx context.Context, ownerID, date string) ([]byte, error) {
	var payload string
	err := s.pool.QueryRow(ctx, `
		SELECT payload::text FROM digests WHERE owner_id = $1 AND digest_date = $2
	`, ownerID, date).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

// GetCursor returns a zero cursor for owners that never synced.
func (s *Postgres) GetCursor(ctx context.Context, ownerID string) (*models.SyncCursor, error) {
	c := models.SyncCursor{OwnerID: ownerID}
	err := s.pool.QueryRow(ctx, `
		SELECT token, last_success_at, error_count, last_error, in_flight, in_flight_since, messages_synced
		FROM sync_cursors WHERE owner_id = $1
	`, ownerID).Scan(&c.Token, &c.LastSuccessAt, &c.ErrorCount, &c.LastError, &c.InFlight, &c.InFlightSince, &c.MessagesSynced)
	if errors.Is(err, pgx.ErrNoRows) {
		return &c, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// AcquireSyncLease is a single conditional upsert: the update branch only
// fires when the lease is free or older than staleAfter.
func (s *Postgres) AcquireSyncLease(ctx context.Context, ownerID string, staleAfter time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO sync_cursors (owner_id, in_flight, in_flight_since)
		VALUES ($1, TRUE, NOW())
		ON CONFLICT (owner_id) DO UPDATE SET
			in_flight       = TRUE,
			in_flight_since = NOW(),
			updated_at      = NOW()
		WHERE sync_cursors.in_flight = FALSE OR sync_cursors.in_flight_since < $2
	`, ownerID, staleCutoff(s.now(), staleAfter))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Postgres) ReleaseSyncLease(ctx context.Context, ownerID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_cursors
		SET in_flight = FALSE, in_flight_since = NULL, updated_at = NOW()
		WHERE owner_id = $1
	`, ownerID)
	return err
}

func (s *Postgres) AdvanceCursor(ctx context.Context, ownerID, token string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_cursors (owner_id, token) VALUES ($1, $2)
		ON CONFLICT (owner_id) DO UPDATE SET token = EXCLUDED.token, updated_at = NOW()
	`, ownerID, token)
	return err
}

func (s *Postgres) RecordSyncSuccess(ctx context.Context, ownerID string, inserted int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_cursors
		SET last_success_at = NOW(), error_count = 0, last_error = '',
		    messages_synced = messages_synced + $2, updated_at = NOW()
		WHERE owner_id = $1
	`, ownerID, inserted)
	return err
}

func (s *Postgres) RecordSyncError(ctx context.Context, ownerID, message string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_cursors (owner_id, error_count, last_error) VALUES ($1, 1, $2)
		ON CONFLICT (owner_id) DO UPDATE SET
			error_count = sync_cursors.error_count + 1,
			last_error  = EXCLUDED.last_error,
			updated_at  = NOW()
	`, ownerID, message)
	return err
}

func (s *Postgres) GetCredential(ctx context.Context, ownerID string) (*models.Credential, error) {
	c := models.Credential{OwnerID: ownerID}
	var expiry *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT provider, access_token, refresh_token, expiry, host, username, password, updated_at
		FROM credentials WHERE owner_id = $1
	`, ownerID).Scan(&c.Provider, &c.AccessToken, &c.RefreshToken, &expiry, &c.Host, &c.Username, &c.Password, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if expiry != nil {
		c.Expiry = *expiry
	}
	return &c, nil
}

func (s *Postgres) SaveCredential(ctx context.Context, c models.Credential) error {
	var expiry any
	if !c.Expiry.IsZero() {
		expiry = c.Expiry.UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO credentials
			(owner_id, provider, access_token, refresh_token, expiry, host, username, password)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (owner_id) DO UPDATE SET
			provider      = EXCLUDED.provider,
			access_token  = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expiry        = EXCLUDED.expiry,
			host          = EXCLUDED.host,
			username      = EXCLUDED.username,
			password      = EXCLUDED.password,
			updated_at    = NOW()
	`, c.OwnerID, c.Provider, c.AccessToken, c.RefreshToken, expiry, c.Host, c.Username, c.Password)
	return err
}

func (s *Postgres) ListCredentialOwners(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT owner_id FROM credentials ORDER BY owner_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var owners []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		owners = append(owners, id)
	}
	return owners, rows.Err()
}

func (s *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

// scanMessage scans a single row into a Message.
func scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	var category, tone string
	err := row.Scan(
		&m.ID, &m.OwnerID, &m.ExternalID, &m.Subject, &m.SenderName, &m.SenderAddress,
		&m.BodyPlain, &m.BodyHTML, &m.BodyPreview, &m.ReceivedAt, &m.ConversationID, &m.IsRead,
		&category, &m.Priority, &tone, &m.Summary, &m.HiddenIntent, &m.RiskFlag,
		&m.DraftReply, &m.Processed, &m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.Category = models.Category(category)
	m.Tone = models.Tone(tone)
	return &m, nil
}

// collectMessages scans multiple rows into a slice of Messages.
func collectMessages(rows pgx.Rows) ([]models.Message, error) {
	var out []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func staleCutoff(now time.Time, staleAfter time.Duration) time.Time {
	if staleAfter <= 0 {
		return time.Time{}
	}
	return now.Add(-staleAfter).UTC()
}
