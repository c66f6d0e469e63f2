package server

import (
	"bufio"
	"net"
	"sync"
	"time"
)

// SessionState tracks where a connection is in the protocol state machine.
type SessionState uint8

const (
	// StateUnauthenticated is the initial state; the only valid input is
	// one LOGIN or REGISTER frame.
	StateUnauthenticated SessionState = iota
	// StateAuthenticated means the session recorded a username and loops
	// on command frames.
	StateAuthenticated
	// StateTerminated is final; the connection is closed and presence
	// cleanup has run.
	StateTerminated
)

// Session represents one client connection and its protocol state.
type Session struct {
	ID         uint64
	Username   string // Set on successful LOGIN or REGISTER, empty before
	Conn       *SafeConn
	RemoteAddr string
	reader     *bufio.Reader

	mu    sync.Mutex
	state SessionState
}

// newSession wraps an accepted connection. Reads stay on the session's own
// bufio.Reader; writes go through the SafeConn.
func newSession(id uint64, conn net.Conn, writeTimeout time.Duration) *Session {
	return &Session{
		ID:         id,
		Conn:       NewSafeConn(conn, writeTimeout),
		RemoteAddr: conn.RemoteAddr().String(),
		reader:     bufio.NewReader(conn),
		state:      StateUnauthenticated,
	}
}

// State returns the session's current state.
func (sess *Session) State() SessionState {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.state
}

func (sess *Session) setState(state SessionState) {
	sess.mu.Lock()
	sess.state = state
	sess.mu.Unlock()
}

// readLine blocks until the next protocol line or a transport error. There
// is deliberately no read deadline: a session waits indefinitely until the
// peer sends data or closes.
func (sess *Session) readLine() (string, error) {
	line, err := sess.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return trimLineEnding(line), nil
}

func trimLineEnding(line string) string {
	for len(line) > 0 {
		last := line[len(line)-1]
		if last != '\n' && last != '\r' {
			break
		}
		line = line[:len(line)-1]
	}
	return line
}
