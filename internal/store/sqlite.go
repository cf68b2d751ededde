package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

const (
	dbFileName   = "ariasync.db"
	lockFileName = "ariasync.lock"
)

const schema = `
CREATE TABLE IF NOT EXISTS sections (
	name TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS options (
	section TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (section, key),
	FOREIGN KEY(section) REFERENCES sections(name) ON DELETE CASCADE
);
`

// SQLite is a Store backed by a single SQLite file.
type SQLite struct {
	db   *sql.DB
	lock *flock.Flock
	seq  atomic.Int64
}

// Open opens (or creates) the store in dir and takes an exclusive lock on it.
func Open(dir string) (*SQLite, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock state dir: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}

	s, err := OpenFile(filepath.Join(dir, dbFileName))
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	s.lock = lock
	return s, nil
}

// OpenFile opens the database at path without taking the directory lock.
func OpenFile(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// one writer; every statement sees the previous one's effects
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		`PRAGMA foreign_keys = ON;`,
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA synchronous = FULL;`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the database and releases the directory lock.
func (s *SQLite) Close() error {
	err := s.db.Close()
	if s.lock != nil {
		if uerr := s.lock.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}
	return err
}

// Transaction helper
func (s *SQLite) withTx(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

func sectionExists(tx *sql.Tx, section string) error {
	var one int
	err := tx.QueryRow(`SELECT 1 FROM sections WHERE name = ?`, section).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", section, ErrNotFound)
	}
	return err
}

func putKeys(tx *sql.Tx, section string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(`
		INSERT INTO options (section, key, value) VALUES (?, ?, ?)
		ON CONFLICT(section, key) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for k, v := range values {
		if _, err := stmt.Exec(section, k, v); err != nil {
			return fmt.Errorf("failed to write %s.%s: %w", section, k, err)
		}
	}
	return nil
}

// Create adds a new section.
func (s *SQLite) Create(section string, values map[string]string) error {
	kind, _ := SplitSection(section)
	return s.withTx(func(tx *sql.Tx) error {
		if err := sectionExists(tx, section); err == nil {
			return fmt.Errorf("%s: %w", section, ErrExists)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		// created_at orders sections; the sequence breaks ties inside one nanosecond tick
		if _, err := tx.Exec(`INSERT INTO sections (name, kind, created_at) VALUES (?, ?, ?)`,
			section, kind, time.Now().UnixNano()+s.seq.Add(1)); err != nil {
			return fmt.Errorf("failed to insert section: %w", err)
		}
		return putKeys(tx, section, values)
	})
}

// ReadAll returns the section content.
func (s *SQLite) ReadAll(section string) (map[string]string, error) {
	out := make(map[string]string)
	err := s.withTx(func(tx *sql.Tx) error {
		if err := sectionExists(tx, section); err != nil {
			return err
		}
		rows, err := tx.Query(`SELECT key, value FROM options WHERE section = ?`, section)
		if err != nil {
			return fmt.Errorf("failed to query options: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var k, v string
			if err := rows.Scan(&k, &v); err != nil {
				return err
			}
			out[k] = v
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WriteKey sets one key.
func (s *SQLite) WriteKey(section, key, value string) error {
	return s.WriteKeys(section, map[string]string{key: value})
}

// WriteKeys sets several keys atomically.
func (s *SQLite) WriteKeys(section string, values map[string]string) error {
	return s.withTx(func(tx *sql.Tx) error {
		if err := sectionExists(tx, section); err != nil {
			return err
		}
		return putKeys(tx, section, values)
	})
}

// WriteSection replaces the section content.
func (s *SQLite) WriteSection(section string, values map[string]string) error {
	return s.withTx(func(tx *sql.Tx) error {
		if err := sectionExists(tx, section); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM options WHERE section = ?`, section); err != nil {
			return fmt.Errorf("failed to clear section: %w", err)
		}
		return putKeys(tx, section, values)
	})
}

// DeleteSection removes the section; options go with it through the foreign key.
func (s *SQLite) DeleteSection(section string) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM sections WHERE name = ?`, section)
		return err
	})
}

// Sections lists sections of one kind in creation order.
func (s *SQLite) Sections(kind string) ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM sections WHERE kind = ? ORDER BY created_at, name`, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
