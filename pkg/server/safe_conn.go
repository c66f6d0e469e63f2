package server

import (
	"net"
	"sync"
	"time"
)

// SafeConn wraps a net.Conn with automatic write synchronization so that
// concurrent writers (the session's own handler and broadcast senders)
// cannot interleave their bytes on the wire.
//
// Every write carries a deadline. A peer that stops reading can stall its
// own frames for at most the write timeout; it can never stall another
// session's broadcast.
type SafeConn struct {
	conn         net.Conn
	writeTimeout time.Duration
	mu           sync.Mutex // Protects writes to conn
}

// NewSafeConn wraps a net.Conn with write synchronization.
func NewSafeConn(conn net.Conn, writeTimeout time.Duration) *SafeConn {
	return &SafeConn{
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

// WriteLine sends one protocol line, appending the newline terminator.
// This is the only way to write to the connection; the raw conn is private.
func (sc *SafeConn) WriteLine(line string) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.writeTimeout > 0 {
		if err := sc.conn.SetWriteDeadline(time.Now().Add(sc.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := sc.conn.Write([]byte(line + "\n"))
	return err
}

// Close closes the underlying connection.
func (sc *SafeConn) Close() error {
	return sc.conn.Close()
}

// RemoteAddr returns the remote network address.
func (sc *SafeConn) RemoteAddr() net.Addr {
	return sc.conn.RemoteAddr()
}
