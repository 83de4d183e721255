package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"iptv-catalog/work/logger"
)

// ErrNoActivePlaylist is returned when a user has no playlist marked
// active.
var ErrNoActivePlaylist = errors.New("no active playlist")

// Playlist is one stored playlist source pair for a user.
type Playlist struct {
	ID       int64
	Username string
	Name     string
	URL      string
	EPGURL   string
	Active   bool
}

// Store looks up per-user playlist sources. User and session records
// are owned by the auth service; this store only reads the playlist
// table it shares.
type Store struct {
	db *sql.DB
}

// Open creates the playlist store with WAL mode and a bounded
// connection pool.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_foreign_keys=ON", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	logger.Info("Playlist database opened at %s", path)
	return store, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS playlists (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL,
			epg_url TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_playlists_user_active ON playlists(username, active);
	`)
	return err
}

// ActivePlaylist returns the active playlist for a user, or
// ErrNoActivePlaylist when none is marked active.
func (s *Store) ActivePlaylist(username string) (*Playlist, error) {
	row := s.db.QueryRow(`
		SELECT id, username, name, url, epg_url, active
		FROM playlists
		WHERE username = ? AND active = 1
		ORDER BY id DESC
		LIMIT 1
	`, username)

	var p Playlist
	if err := row.Scan(&p.ID, &p.Username, &p.Name, &p.URL, &p.EPGURL, &p.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoActivePlaylist
		}
		return nil, fmt.Errorf("failed to query active playlist: %w", err)
	}
	return &p, nil
}

// SavePlaylist inserts a playlist and optionally marks it active,
// clearing any previous active flag for the user.
func (s *Store) SavePlaylist(p *Playlist) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	if p.Active {
		if _, err := tx.Exec("UPDATE playlists SET active = 0 WHERE username = ?", p.Username); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to clear active flag: %w", err)
		}
	}

	res, err := tx.Exec(`
		INSERT INTO playlists (username, name, url, epg_url, active)
		VALUES (?, ?, ?, ?, ?)
	`, p.Username, p.Name, p.URL, p.EPGURL, p.Active)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to insert playlist: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		p.ID = id
	}
	return tx.Commit()
}

func (s *Store) Close() error {
	return s.db.Close()
}
