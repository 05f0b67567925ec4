// Package pg persists tenant documents as JSONB rows in Postgres.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"signum.org/internal/roster"
)

type Store struct {
	db *sql.DB
}

var _ roster.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection pool (used by tests).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Load(ctx context.Context, tenantID string) (*roster.Document, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `select doc from tenants where id=$1`, tenantID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return roster.NewDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load tenant %s: %v", roster.ErrStorage, tenantID, err)
	}
	doc := roster.NewDocument()
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, fmt.Errorf("%w: decode tenant %s: %v", roster.ErrStorage, tenantID, err)
	}
	return doc, nil
}

func (s *Store) Save(ctx context.Context, tenantID string, doc *roster.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: encode tenant %s: %v", roster.ErrStorage, tenantID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into tenants(id, doc, updated_at)
		values ($1, $2, now())
		on conflict (id) do update
		set doc = excluded.doc, updated_at = now()
	`, tenantID, raw)
	if err != nil {
		return fmt.Errorf("%w: save tenant %s: %v", roster.ErrStorage, tenantID, err)
	}
	return nil
}
