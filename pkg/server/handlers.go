package server

import (
	"errors"
	"io"
	"log"
	"strings"

	"github.com/fardale/chatrelay/pkg/database"
	"github.com/fardale/chatrelay/pkg/protocol"
)

// handleAuth consumes the single authentication frame every connection must
// send first. Returns true when the session reached StateAuthenticated and
// the command loop should run. Malformed first frames terminate the session
// silently; failed authentication sends one failure frame and terminates.
func (s *Server) handleAuth(sess *Session) bool {
	line, err := sess.readLine()
	if err != nil {
		if err != io.EOF {
			debugLog.Printf("Session %d: read error before auth: %v", sess.ID, err)
		}
		return false
	}

	req, err := protocol.ParseAuthRequest(line)
	if err != nil {
		debugLog.Printf("Session %d: malformed auth frame from %s", sess.ID, sess.RemoteAddr)
		return false
	}

	switch req.Action {
	case protocol.CmdLogin:
		return s.handleLogin(sess, req)
	case protocol.CmdRegister:
		return s.handleRegister(sess, req)
	}
	return false
}

// handleLogin verifies credentials against the store. Any store failure
// during authentication is treated identically to bad credentials: one
// AUTH_FAILED frame, then termination.
func (s *Server) handleLogin(sess *Session, req *protocol.AuthRequest) bool {
	if err := s.db.VerifyCredentials(req.Username, req.Password); err != nil {
		if !errors.Is(err, database.ErrUserNotFound) && !errors.Is(err, database.ErrBadCredentials) {
			errorLog.Printf("Authentication error for %s: %v", req.Username, err)
		}
		s.metrics.RecordAuthAttempt("login", "failed")
		if err := sess.Conn.WriteLine(protocol.RespAuthFailed); err != nil {
			debugLog.Printf("Session %d: failed to send AUTH_FAILED: %v", sess.ID, err)
		}
		return false
	}

	if err := sess.Conn.WriteLine(protocol.RespAuthSuccess); err != nil {
		debugLog.Printf("Session %d: failed to send AUTH_SUCCESS: %v", sess.ID, err)
		return false
	}

	sess.Username = req.Username
	sess.setState(StateAuthenticated)

	s.registry.Register(req.Username, sess.Conn)
	if err := s.db.SetOnline(req.Username, true); err != nil {
		errorLog.Printf("Failed to update status for %s: %v", req.Username, err)
	}
	s.router.BroadcastPresence()

	s.metrics.RecordAuthAttempt("login", "success")
	log.Printf("%s logged in successfully", req.Username)
	return true
}

// handleRegister creates a new account. A successful registration
// authenticates the session but does not register presence or set the
// online flag; the client is expected to reconnect with LOGIN to appear
// online.
func (s *Server) handleRegister(sess *Session, req *protocol.AuthRequest) bool {
	if _, err := s.db.CreateUser(req.Username, req.Password); err != nil {
		if !errors.Is(err, database.ErrUsernameTaken) {
			errorLog.Printf("Registration error for %s: %v", req.Username, err)
		}
		s.metrics.RecordAuthAttempt("register", "failed")
		if err := sess.Conn.WriteLine(protocol.RespRegisterFailed); err != nil {
			debugLog.Printf("Session %d: failed to send REGISTER_FAILED: %v", sess.ID, err)
		}
		return false
	}

	if err := sess.Conn.WriteLine(protocol.RespRegisterSuccess); err != nil {
		debugLog.Printf("Session %d: failed to send REGISTER_SUCCESS: %v", sess.ID, err)
		return false
	}

	sess.Username = req.Username
	sess.setState(StateAuthenticated)

	s.metrics.RecordAuthAttempt("register", "success")
	log.Printf("%s registered successfully", req.Username)
	return true
}

// handleCommand dispatches one post-authentication line. Unrecognized lines
// are ignored silently; no error frame exists in the protocol.
func (s *Server) handleCommand(sess *Session, line string) {
	switch {
	case strings.HasPrefix(line, protocol.CmdPrivate+":"):
		s.handlePrivate(sess, line)
	case line == protocol.CmdGetContacts:
		s.handleGetContacts(sess)
	case strings.HasPrefix(line, protocol.CmdGetHistory+":"):
		s.handleGetHistory(sess, line)
	default:
		debugLog.Printf("Session %d: ignoring unrecognized line", sess.ID)
	}
}

// handlePrivate routes one private message. Malformed frames are dropped;
// persistence failures are logged and the session continues.
func (s *Server) handlePrivate(sess *Session, line string) {
	msg, err := protocol.ParsePrivate(line)
	if err != nil {
		debugLog.Printf("Session %d: malformed PRIVATE frame", sess.ID)
		return
	}

	if err := s.router.SendPrivate(sess.Username, msg.Recipient, msg.Content); err != nil {
		errorLog.Printf("Error handling message from %s: %v", sess.Username, err)
	}
}

// handleGetContacts sends the full contact snapshot, read from the store's
// durable online flags and excluding the requesting user.
func (s *Server) handleGetContacts(sess *Session) {
	contacts, err := s.db.Contacts(sess.Username)
	if err != nil {
		errorLog.Printf("Error reading contacts for %s: %v", sess.Username, err)
		return
	}

	entries := make([]protocol.Contact, len(contacts))
	for i, c := range contacts {
		entries[i] = protocol.Contact{Username: c.Username, Online: c.Online}
	}

	if err := sess.Conn.WriteLine(protocol.ContactsFrame(entries)); err != nil {
		debugLog.Printf("Session %d: failed to send CONTACTS: %v", sess.ID, err)
	}
}

// handleGetHistory sends the full chronological history between the
// requesting user and one peer.
func (s *Server) handleGetHistory(sess *Session, line string) {
	otherUser, err := protocol.ParseHistoryRequest(line)
	if err != nil {
		debugLog.Printf("Session %d: malformed GET_HISTORY frame", sess.ID)
		return
	}

	messages, err := s.db.History(sess.Username, otherUser)
	if err != nil {
		errorLog.Printf("Error reading history for %s/%s: %v", sess.Username, otherUser, err)
		return
	}

	entries := make([]protocol.HistoryEntry, len(messages))
	for i, m := range messages {
		entries[i] = protocol.HistoryEntry{
			Sender:    m.Sender,
			Receiver:  m.Receiver,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		}
	}

	if err := sess.Conn.WriteLine(protocol.HistoryFrame(entries)); err != nil {
		debugLog.Printf("Session %d: failed to send HISTORY: %v", sess.ID, err)
	}
}
