package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/ashendes/transactional-rest/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS transactions (
	id               TEXT PRIMARY KEY,
	request_method   TEXT NOT NULL,
	request_source   TEXT NOT NULL,
	related_route    TEXT NOT NULL,
	related_ids      JSONB NOT NULL,
	model            TEXT NOT NULL,
	post_content     JSONB,
	query_params     JSONB NOT NULL,
	status           INTEGER NOT NULL,
	success          BOOLEAN NOT NULL,
	messages         JSONB NOT NULL,
	response_time_ms BIGINT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
)`

const insertSQL = `INSERT INTO transactions (
	id, request_method, request_source, related_route, related_ids, model, post_content,
	query_params, status, success, messages, response_time_ms, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO NOTHING`

// Postgres writes transactions to a PostgreSQL table
type Postgres struct {
	stage
	db *sqlx.DB
}

// OpenPostgres connects to dsn with the lib/pq driver
func OpenPostgres(dsn string, maxPending int) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("postgres DSN is required")
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewPostgres(db, maxPending), nil
}

// NewPostgres wraps an existing connection pool
func NewPostgres(db *sqlx.DB, maxPending int) *Postgres {
	return &Postgres{stage: newStage(maxPending), db: db}
}

// EnsureSchema creates the transactions table if needed
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure transactions schema: %w", err)
	}
	return nil
}

// Persist implements Storage
func (p *Postgres) Persist(_ context.Context, tx *models.Transaction) error {
	return p.add(tx)
}

// Write inserts the staged batch in a single SQL transaction
func (p *Postgres) Write(ctx context.Context) error {
	return p.flushWith(ctx, p.insert)
}

func (p *Postgres) insert(ctx context.Context, batch []*models.Transaction) (err error) {
	sqlTx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	for _, tx := range batch {
		args, err := rowArgs(tx)
		if err != nil {
			return err
		}
		if _, err := sqlTx.ExecContext(ctx, insertSQL, args...); err != nil {
			return fmt.Errorf("insert transaction %s: %w", tx.ID, err)
		}
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func rowArgs(tx *models.Transaction) ([]any, error) {
	relatedIDs, err := jsonColumn(tx.RelatedIDs, "{}")
	if err != nil {
		return nil, err
	}
	queryParams, err := jsonColumn(tx.QueryParams, "{}")
	if err != nil {
		return nil, err
	}
	messages, err := jsonColumn(tx.Messages, "{}")
	if err != nil {
		return nil, err
	}
	var postContent any
	if tx.PostContent != nil {
		raw, err := json.Marshal(tx.PostContent)
		if err != nil {
			return nil, fmt.Errorf("encode post content: %w", err)
		}
		postContent = string(raw)
	}
	return []any{
		tx.ID,
		tx.RequestMethod,
		string(tx.RequestSource),
		tx.RelatedRoute,
		relatedIDs,
		tx.Model,
		postContent,
		queryParams,
		tx.Status,
		tx.Success,
		messages,
		tx.ResponseTime.Milliseconds(),
		tx.CreatedAt,
		tx.UpdatedAt,
	}, nil
}

func jsonColumn(v any, empty string) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json column: %w", err)
	}
	if string(raw) == "null" {
		return empty, nil
	}
	return string(raw), nil
}

// Name implements Backend
func (p *Postgres) Name() string { return DriverPostgres }

// Close implements Backend
func (p *Postgres) Close() error { return p.db.Close() }
