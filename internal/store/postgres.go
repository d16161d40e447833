package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
)

// PostgresStore keeps each top-level key of the user document as one row,
// so an upsert per key is the shallow merge.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Load(ctx context.Context) ([]byte, error) {
	doc, err := s.load(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if len(doc) == 0 {
		return nil, ErrNotFound
	}
	return doc.Encode()
}

func (s *PostgresStore) Merge(ctx context.Context, fields map[string]json.RawMessage) ([]byte, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin merge tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	const upsert = `
		INSERT INTO user_data (key, value, updated_at)
		VALUES ($1, $2::jsonb, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, upsert, k, string(fields[k])); err != nil {
			return nil, fmt.Errorf("upsert user data %s: %w", k, err)
		}
	}
	if err := recordRevision(ctx, tx, keys); err != nil {
		return nil, err
	}

	doc, err := s.load(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit merge: %w", err)
	}
	return doc.Encode()
}

// Replace swaps the whole document.
func (s *PostgresStore) Replace(ctx context.Context, raw []byte) error {
	doc, err := ParseDocument(raw)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_data`); err != nil {
		return fmt.Errorf("clear user data: %w", err)
	}
	keys := make([]string, 0, len(doc))
	for k, v := range doc {
		keys = append(keys, k)
		if _, err := tx.ExecContext(ctx, `INSERT INTO user_data (key, value) VALUES ($1, $2::jsonb)`, k, string(v)); err != nil {
			return fmt.Errorf("insert user data %s: %w", k, err)
		}
	}
	sort.Strings(keys)
	if err := recordRevision(ctx, tx, keys); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) load(ctx context.Context, q queryer) (Document, error) {
	rows, err := q.QueryContext(ctx, `SELECT key, value FROM user_data ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("query user data: %w", err)
	}
	defer rows.Close()

	doc := Document{}
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan user data: %w", err)
		}
		doc[key] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user data: %w", err)
	}
	return doc, nil
}

func recordRevision(ctx context.Context, tx *sql.Tx, keys []string) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO user_data_revisions (keys) VALUES ($1)`, keys); err != nil {
		return fmt.Errorf("record revision: %w", err)
	}
	return nil
}
