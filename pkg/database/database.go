// Package database is the durable message store: user accounts and the
// append-only private-message log, backed by SQLite.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrUsernameTaken indicates a registration for an already-existing username.
	ErrUsernameTaken = errors.New("username already registered")
	// ErrUserNotFound indicates the username has no account.
	ErrUserNotFound = errors.New("user not found")
	// ErrBadCredentials indicates the password does not match the stored one.
	ErrBadCredentials = errors.New("password does not match")
)

// DB wraps the SQLite database connection.
//
// Reads go through a pooled connection set; all writes go through a single
// dedicated connection so concurrent sessions can never race on a write.
// Two simultaneous registrations of the same username serialize on the write
// connection and the UNIQUE constraint rejects the loser.
type DB struct {
	conn      *sql.DB // Read connection pool
	writeConn *sql.DB // Dedicated write connection (1 connection)
}

// Open opens the SQLite database at the given path and initializes the
// schema if needed.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := applyPragmas(conn); err != nil {
		conn.Close()
		return nil, err
	}

	// Single write connection, no pooling (SQLite allows one writer)
	writeConn, err := sql.Open("sqlite", path)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open write connection: %w", err)
	}

	writeConn.SetMaxOpenConns(1)
	writeConn.SetMaxIdleConns(1)
	writeConn.SetConnMaxLifetime(0)

	if err := applyPragmas(writeConn); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, err
	}

	db := &DB{
		conn:      conn,
		writeConn: writeConn,
	}

	if err := db.initSchema(); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// applyPragmas configures a connection set for concurrent access.
// WAL allows multiple readers alongside the single writer, and the busy
// timeout makes SQLite wait instead of failing with SQLITE_BUSY.
func applyPragmas(conn *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes both database connections.
func (db *DB) Close() error {
	db.writeConn.Close()
	return db.conn.Close()
}

// initSchema creates the tables and indexes if they don't exist
func (db *DB) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT UNIQUE NOT NULL,
	password TEXT NOT NULL,
	online INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sender_id INTEGER NOT NULL,
	receiver_id INTEGER NOT NULL,
	message TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	FOREIGN KEY (sender_id) REFERENCES users(id),
	FOREIGN KEY (receiver_id) REFERENCES users(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, receiver_id, timestamp);
`

	_, err := db.writeConn.Exec(schema)
	return err
}

// User represents an account record.
type User struct {
	ID       int64
	Username string
	Password string // Stored verbatim; see VerifyCredentials
	Online   bool
}

// Message represents one record of the append-only message log.
type Message struct {
	ID        int64
	Sender    string
	Receiver  string
	Content   string
	Timestamp int64 // Unix timestamp in milliseconds, assigned at insert
}

// Contact is a (username, online) pair for contact snapshots.
type Contact struct {
	Username string
	Online   bool
}

// nowMillis returns current time as Unix timestamp in milliseconds
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// CreateUser creates a new account. Returns ErrUsernameTaken if the
// username already exists.
func (db *DB) CreateUser(username, password string) (int64, error) {
	result, err := db.writeConn.Exec(`
		INSERT INTO users (username, password, online)
		VALUES (?, ?, 0)
	`, username, password)

	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, ErrUsernameTaken
		}
		return 0, err
	}

	return result.LastInsertId()
}

// GetUserByUsername retrieves an account. Returns ErrUserNotFound if no
// account exists for the username.
func (db *DB) GetUserByUsername(username string) (*User, error) {
	var user User
	var online int
	err := db.conn.QueryRow(`
		SELECT id, username, password, online
		FROM users
		WHERE username = ?
	`, username).Scan(&user.ID, &user.Username, &user.Password, &online)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	user.Online = online != 0
	return &user, nil
}

// VerifyCredentials checks a username/password pair against the store.
// Returns nil on a match, ErrUserNotFound or ErrBadCredentials otherwise.
//
// The comparison is a verbatim string equality check against the stored
// credential. This is the single place credential verification happens, so
// a hashed comparison can replace it without touching session or protocol
// logic.
func (db *DB) VerifyCredentials(username, password string) error {
	user, err := db.GetUserByUsername(username)
	if err != nil {
		return err
	}
	if user.Password != password {
		return ErrBadCredentials
	}
	return nil
}

// SetOnline updates the durable online flag for a username. The flag feeds
// contact snapshots; live delivery is decided by the presence registry, not
// by this flag.
func (db *DB) SetOnline(username string, online bool) error {
	flag := 0
	if online {
		flag = 1
	}
	_, err := db.writeConn.Exec(`
		UPDATE users SET online = ? WHERE username = ?
	`, flag, username)
	return err
}

// AppendMessage appends one message to the log. The timestamp is assigned
// here, at insert time. Both sender and receiver must reference existing
// accounts or the insert fails.
func (db *DB) AppendMessage(sender, receiver, content string) (*Message, error) {
	now := nowMillis()
	result, err := db.writeConn.Exec(`
		INSERT INTO messages (sender_id, receiver_id, message, timestamp)
		VALUES (
			(SELECT id FROM users WHERE username = ?),
			(SELECT id FROM users WHERE username = ?),
			?, ?
		)
	`, sender, receiver, content, now)

	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &Message{
		ID:        id,
		Sender:    sender,
		Receiver:  receiver,
		Content:   content,
		Timestamp: now,
	}, nil
}

// History returns every message between userA and userB, in either
// direction, ordered by timestamp ascending. Insertion order breaks ties so
// the result is deterministic and non-decreasing. No pagination.
func (db *DB) History(userA, userB string) ([]*Message, error) {
	rows, err := db.conn.Query(`
		SELECT m.id, u1.username AS sender, u2.username AS receiver, m.message, m.timestamp
		FROM messages m
		JOIN users u1 ON m.sender_id = u1.id
		JOIN users u2 ON m.receiver_id = u2.id
		WHERE (u1.username = ? AND u2.username = ?)
		   OR (u1.username = ? AND u2.username = ?)
		ORDER BY m.timestamp ASC, m.id ASC
	`, userA, userB, userB, userA)

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.Sender, &msg.Receiver, &msg.Content, &msg.Timestamp); err != nil {
			return nil, err
		}
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

// Contacts returns every account except the excluded one, with its durable
// online flag, sorted by username.
func (db *DB) Contacts(excluding string) ([]Contact, error) {
	rows, err := db.conn.Query(`
		SELECT username, online
		FROM users
		WHERE username != ?
		ORDER BY username ASC
	`, excluding)

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		var online int
		if err := rows.Scan(&c.Username, &online); err != nil {
			return nil, err
		}
		c.Online = online != 0
		contacts = append(contacts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return contacts, nil
}
