// Package sqlite persists the memory store to a single SQLite file. It is meant for a
// single API process; the snapshot is rewritten after every write.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"bufficorns/internal/store/memory"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var buckets = []string{"players", "bufficorns", "ranches", "trades"}

type Store struct {
	*memory.Store
	db   *sql.DB
	path string
}

func Open(path string) (*Store, error) {
	if path == "" {
		path = "bufficorns.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Store: memory.New(), db: db, path: path}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.OnCommit(s.persist)
	return s, nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var snap memory.Snapshot
	found := false
	for rows.Next() {
		var (
			bucket  string
			payload []byte
		)
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		var target any
		switch bucket {
		case "players":
			target = &snap.Players
		case "bufficorns":
			target = &snap.Bufficorns
		case "ranches":
			target = &snap.Ranches
		case "trades":
			target = &snap.Trades
		default:
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return fmt.Errorf("decode %s: %w", bucket, err)
		}
		found = true
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if found {
		s.ImportState(snap)
	}
	return nil
}

func (s *Store) persist(snap memory.Snapshot) (retErr error) {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range buckets {
		var data []byte
		switch bucket {
		case "players":
			data, err = json.Marshal(snap.Players)
		case "bufficorns":
			data, err = json.Marshal(snap.Bufficorns)
		case "ranches":
			data, err = json.Marshal(snap.Ranches)
		case "trades":
			data, err = json.Marshal(snap.Trades)
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	return tx.Commit()
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Path() string { return s.path }
