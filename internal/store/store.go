// Package store persists the server's slow-changing policy tables (banned
// stringcmds, banned userinfo cvars) and its audit log (rcon attempts,
// session drops) in a local SQLite database via modernc.org/sqlite — a
// pure-Go driver, so the server stays CGO-free like the rest of the stack.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS banned_commands (
	name TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS banned_cvars (
	name TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS rcon_attempts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	remote TEXT NOT NULL,
	success INTEGER NOT NULL,
	at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS session_drops (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	client_id INTEGER NOT NULL,
	remote TEXT NOT NULL,
	reason TEXT NOT NULL,
	at DATETIME NOT NULL
);
`

// Store wraps the database handle and a small in-memory mirror of the ban
// tables so the hot path (HandleStringCmd on every reliable command) never
// takes a round trip to SQLite.
type Store struct {
	db *sql.DB

	bannedCommands map[string]struct{}
	bannedCvars    map[string]struct{}
}

// Open opens (creating if necessary) the SQLite database at path and loads
// the ban tables into memory.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate schema: %w", err)
	}
	s := &Store{db: db, bannedCommands: map[string]struct{}{}, bannedCvars: map[string]struct{}{}}
	if err := s.reload(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) reload() error {
	cmds, err := loadNames(s.db, "banned_commands")
	if err != nil {
		return err
	}
	cvars, err := loadNames(s.db, "banned_cvars")
	if err != nil {
		return err
	}
	s.bannedCommands = cmds
	s.bannedCvars = cvars
	return nil
}

func loadNames(db *sql.DB, table string) (map[string]struct{}, error) {
	rows, err := db.Query(fmt.Sprintf("SELECT name FROM %s", table))
	if err != nil {
		return nil, fmt.Errorf("store: query %s: %w", table, err)
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = struct{}{}
	}
	return out, rows.Err()
}

// IsBannedCommand satisfies dispatch.BanPolicy.
func (s *Store) IsBannedCommand(name string) bool {
	_, ok := s.bannedCommands[name]
	return ok
}

// IsBannedCvar satisfies dispatch.BanPolicy.
func (s *Store) IsBannedCvar(name string) bool {
	_, ok := s.bannedCvars[name]
	return ok
}

// BanCommand adds name to the banned-command table, persists it, and
// refreshes the in-memory mirror.
func (s *Store) BanCommand(name string) error {
	if _, err := s.db.Exec("INSERT OR IGNORE INTO banned_commands(name) VALUES (?)", name); err != nil {
		return fmt.Errorf("store: ban command %s: %w", name, err)
	}
	s.bannedCommands[name] = struct{}{}
	return nil
}

// BanCvar adds name to the banned-cvar table.
func (s *Store) BanCvar(name string) error {
	if _, err := s.db.Exec("INSERT OR IGNORE INTO banned_cvars(name) VALUES (?)", name); err != nil {
		return fmt.Errorf("store: ban cvar %s: %w", name, err)
	}
	s.bannedCvars[name] = struct{}{}
	return nil
}

// LogRconAttempt records one rcon password attempt for later audit.
func (s *Store) LogRconAttempt(remote string, success bool) error {
	_, err := s.db.Exec("INSERT INTO rcon_attempts(remote, success, at) VALUES (?, ?, ?)",
		remote, boolToInt(success), time.Now())
	return err
}

// LogSessionDrop records a client session being dropped, for anti-cheat and
// abuse post-mortems.
func (s *Store) LogSessionDrop(clientID uint64, remote, reason string) error {
	_, err := s.db.Exec("INSERT INTO session_drops(client_id, remote, reason, at) VALUES (?, ?, ?, ?)",
		clientID, remote, reason, time.Now())
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
