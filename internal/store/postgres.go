package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

const ddl = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS voice_templates (
    subject     TEXT         NOT NULL,
    key         TEXT         NOT NULL,
    data        BYTEA        NOT NULL,
    embedding   vector,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (subject, key)
);

CREATE TABLE IF NOT EXISTS voice_settings (
    id          SMALLINT     PRIMARY KEY CHECK (id = 1),
    data        JSONB        NOT NULL,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// Postgres is a Store backed by PostgreSQL. Templates whose engine exposes an
// embedding also get it indexed in a pgvector column.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ Store           = (*Postgres)(nil)
	_ EmbeddingWriter = (*Postgres)(nil)
)

// NewPostgres creates the schema if needed, then opens a pool on dsn with
// pgvector types registered on every connection.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	// The vector type must exist before pool connections can register it.
	if err := migrate(ctx, dsn); err != nil {
		return nil, err
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func migrate(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("store: connect: %w", err)
	}
	defer conn.Close(ctx)
	if _, err := conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (p *Postgres) PutTemplate(ctx context.Context, subject, key string, data []byte) error {
	const q = `
INSERT INTO voice_templates (subject, key, data, embedding, updated_at)
VALUES ($1, $2, $3, NULL, now())
ON CONFLICT (subject, key) DO UPDATE
    SET data = EXCLUDED.data, embedding = NULL, updated_at = now()`
	if _, err := p.pool.Exec(ctx, q, Subject(subject), key, data); err != nil {
		return fmt.Errorf("store: put template: %w", err)
	}
	return nil
}

// PutEmbedding attaches embedding to an existing template row.
func (p *Postgres) PutEmbedding(ctx context.Context, subject, key string, embedding []float32) error {
	const q = `UPDATE voice_templates SET embedding = $3 WHERE subject = $1 AND key = $2`
	tag, err := p.pool.Exec(ctx, q, Subject(subject), key, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("store: put embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) GetTemplate(ctx context.Context, subject, key string) ([]byte, error) {
	const q = `SELECT data FROM voice_templates WHERE subject = $1 AND key = $2`
	var data []byte
	err := p.pool.QueryRow(ctx, q, Subject(subject), key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get template: %w", err)
	}
	return data, nil
}

func (p *Postgres) DeleteTemplates(ctx context.Context, subject string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	const q = `DELETE FROM voice_templates WHERE subject = $1 AND key = ANY($2)`
	if _, err := p.pool.Exec(ctx, q, Subject(subject), keys); err != nil {
		return fmt.Errorf("store: delete templates: %w", err)
	}
	return nil
}

func (p *Postgres) ListTemplates(ctx context.Context, subject string) ([]string, error) {
	const q = `SELECT key FROM voice_templates WHERE subject = $1 ORDER BY key`
	rows, err := p.pool.Query(ctx, q, Subject(subject))
	if err != nil {
		return nil, fmt.Errorf("store: list templates: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("store: list templates: %w", err)
	}
	return keys, nil
}

func (p *Postgres) GetSettings(ctx context.Context) (Settings, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx, `SELECT data FROM voice_settings WHERE id = 1`).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("store: get settings: %w", err)
	}
	s := DefaultSettings()
	if err := json.Unmarshal(raw, &s); err != nil {
		return Settings{}, fmt.Errorf("store: decode settings: %w", err)
	}
	return s, nil
}

func (p *Postgres) PutSettings(ctx context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("store: encode settings: %w", err)
	}
	const q = `
INSERT INTO voice_settings (id, data, updated_at) VALUES (1, $1, now())
ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`
	if _, err := p.pool.Exec(ctx, q, raw); err != nil {
		return fmt.Errorf("store: put settings: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
