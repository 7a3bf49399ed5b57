package remember

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/jnlpguard/internal/model"
)

// Row is everything remembered for one subject at one scope.
type Row struct {
	Scope    model.RememberScope
	Key      string
	Actions  Actions
	LastUsed time.Time
}

// Store persists rows. The cache is the only writer.
type Store interface {
	Load(ctx context.Context) ([]Row, error)
	Put(ctx context.Context, row Row) error
	Delete(ctx context.Context, scope model.RememberScope, key string) error
	Clear(ctx context.Context) error
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS remembered (
	scope       TEXT    NOT NULL,
	subject_key TEXT    NOT NULL,
	actions     TEXT    NOT NULL,
	last_used   INTEGER NOT NULL,
	PRIMARY KEY (scope, subject_key)
)`

// SQLStore keeps remembered decisions in a sqlite database.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens or creates the database at path.
func OpenSQLStore(path string) (*SQLStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("create remember dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open remember db: %w", err)
	}
	// single writer; also keeps :memory: databases on one connection
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA busy_timeout = 5000", schema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init remember db: %w", err)
		}
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Load(ctx context.Context) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scope, subject_key, actions, last_used
		FROM remembered ORDER BY last_used`)
	if err != nil {
		return nil, fmt.Errorf("load remembered: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var scope, key, actions string
		var lastUsed int64
		if err := rows.Scan(&scope, &key, &actions, &lastUsed); err != nil {
			return nil, fmt.Errorf("scan remembered: %w", err)
		}
		sc, err := model.ParseRememberScope(scope)
		if err != nil || sc == model.RememberNone {
			continue
		}
		out = append(out, Row{
			Scope:    sc,
			Key:      key,
			Actions:  ParseActions(actions),
			LastUsed: time.UnixMilli(lastUsed).UTC(),
		})
	}
	return out, rows.Err()
}

func (s *SQLStore) Put(ctx context.Context, row Row) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO remembered (scope, subject_key, actions, last_used)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (scope, subject_key)
		DO UPDATE SET actions = excluded.actions, last_used = excluded.last_used`,
		row.Scope.String(), row.Key, row.Actions.String(), row.LastUsed.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save remembered %s: %w", row.Key, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, scope model.RememberScope, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM remembered WHERE scope = ? AND subject_key = ?`, scope.String(), key); err != nil {
		return fmt.Errorf("delete remembered %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM remembered`); err != nil {
		return fmt.Errorf("clear remembered: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
