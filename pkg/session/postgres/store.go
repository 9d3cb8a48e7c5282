// Package postgres provides a PostgreSQL-backed implementation of
// [session.Store].
//
// Sessions are stored as one row per session with the conversation history and
// opaque maps held in JSONB columns. [NewStore] runs the schema migration on
// startup via CREATE TABLE IF NOT EXISTS, so no external migration tooling is
// required.
//
// All operations are safe for concurrent use; the store holds a single
// [pgxpool.Pool].
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxguard-ai/voxguard/pkg/session"
	"github.com/voxguard-ai/voxguard/pkg/voice"
)

// Compile-time assertion that Store satisfies the session.Store interface.
var _ session.Store = (*Store)(nil)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT         PRIMARY KEY,
    provider_id TEXT         NOT NULL,
    messages    JSONB        NOT NULL DEFAULT '[]',
    sentiment   TEXT         NOT NULL DEFAULT '',
    insights    JSONB        NOT NULL DEFAULT '{}',
    metadata    JSONB        NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sessions_provider_id
    ON sessions (provider_id);
`

// Store is a PostgreSQL-backed [session.Store].
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the database at dsn and ensures
// the sessions table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("session store: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlSessions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("session store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Get implements [session.Store.Get].
func (s *Store) Get(ctx context.Context, id string) (*session.Session, error) {
	const q = `
		SELECT id, provider_id, messages, sentiment, insights, metadata, created_at, updated_at
		FROM   sessions
		WHERE  id = $1`

	var (
		sess          session.Session
		messagesJSON  []byte
		insightsJSON  []byte
		metadataJSON  []byte
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&sess.ID,
		&sess.ProviderID,
		&messagesJSON,
		&sess.Sentiment,
		&insightsJSON,
		&metadataJSON,
		&sess.CreatedAt,
		&sess.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session store: get %q: %w", id, err)
	}

	if err := json.Unmarshal(messagesJSON, &sess.Messages); err != nil {
		return nil, fmt.Errorf("session store: decode messages for %q: %w", id, err)
	}
	if err := json.Unmarshal(insightsJSON, &sess.Insights); err != nil {
		return nil, fmt.Errorf("session store: decode insights for %q: %w", id, err)
	}
	if err := json.Unmarshal(metadataJSON, &sess.Metadata); err != nil {
		return nil, fmt.Errorf("session store: decode metadata for %q: %w", id, err)
	}
	return &sess, nil
}

// Put implements [session.Store.Put]. Existing rows are replaced wholesale.
func (s *Store) Put(ctx context.Context, sess *session.Session) error {
	messagesJSON, insightsJSON, metadataJSON, err := encodeSession(sess)
	if err != nil {
		return err
	}

	createdAt := sess.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	const q = `
		INSERT INTO sessions (id, provider_id, messages, sentiment, insights, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (id) DO UPDATE SET
		    provider_id = EXCLUDED.provider_id,
		    messages    = EXCLUDED.messages,
		    sentiment   = EXCLUDED.sentiment,
		    insights    = EXCLUDED.insights,
		    metadata    = EXCLUDED.metadata,
		    updated_at  = now()`

	_, err = s.pool.Exec(ctx, q,
		sess.ID,
		string(sess.ProviderID),
		messagesJSON,
		string(sess.Sentiment),
		insightsJSON,
		metadataJSON,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("session store: put %q: %w", sess.ID, err)
	}
	return nil
}

// Update implements [session.Store.Update].
func (s *Store) Update(ctx context.Context, sess *session.Session) error {
	messagesJSON, insightsJSON, metadataJSON, err := encodeSession(sess)
	if err != nil {
		return err
	}

	const q = `
		UPDATE sessions SET
		    provider_id = $2,
		    messages    = $3,
		    sentiment   = $4,
		    insights    = $5,
		    metadata    = $6,
		    updated_at  = now()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q,
		sess.ID,
		string(sess.ProviderID),
		messagesJSON,
		string(sess.Sentiment),
		insightsJSON,
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("session store: update %q: %w", sess.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrNotFound
	}
	return nil
}

// SessionsOnProvider returns the ids of all sessions currently bound to the
// given provider. The failover supervisor uses this to find the sessions
// affected by a provider outage.
func (s *Store) SessionsOnProvider(ctx context.Context, provider voice.ProviderID) ([]string, error) {
	const q = `SELECT id FROM sessions WHERE provider_id = $1 ORDER BY updated_at DESC`

	rows, err := s.pool.Query(ctx, q, string(provider))
	if err != nil {
		return nil, fmt.Errorf("session store: sessions on %q: %w", provider, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("session store: scan rows: %w", err)
	}
	return ids, nil
}

// encodeSession marshals the JSONB columns, substituting empty documents for
// nil values so the NOT NULL defaults hold.
func encodeSession(sess *session.Session) (messages, insights, metadata []byte, err error) {
	msgs := sess.Messages
	if msgs == nil {
		msgs = []voice.Message{}
	}
	if messages, err = json.Marshal(msgs); err != nil {
		return nil, nil, nil, fmt.Errorf("session store: encode messages: %w", err)
	}
	if insights, err = marshalMap(sess.Insights); err != nil {
		return nil, nil, nil, fmt.Errorf("session store: encode insights: %w", err)
	}
	if metadata, err = marshalMap(sess.Metadata); err != nil {
		return nil, nil, nil, fmt.Errorf("session store: encode metadata: %w", err)
	}
	return messages, insights, metadata, nil
}

func marshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	return json.Marshal(m)
}
