// Package protocol implements the chatrelay line protocol.
//
// Every frame is a single newline-terminated text line with colon-delimited
// fields. Field values must not contain the ':' delimiter themselves, except
// for the final field of a frame (message content, password), which absorbs
// the remainder of the line.
package protocol

import (
	"errors"
	"strconv"
	"strings"
)

// Client→server frame types.
const (
	CmdLogin       = "LOGIN"
	CmdRegister    = "REGISTER"
	CmdPrivate     = "PRIVATE"
	CmdGetContacts = "GET_CONTACTS"
	CmdGetHistory  = "GET_HISTORY"
)

// Server→client frame types.
const (
	RespAuthSuccess     = "AUTH_SUCCESS"
	RespAuthFailed      = "AUTH_FAILED"
	RespRegisterSuccess = "REGISTER_SUCCESS"
	RespRegisterFailed  = "REGISTER_FAILED"
	RespContacts        = "CONTACTS"
	RespOnlineUpdate    = "ONLINE_UPDATE"
	RespPrivateMsg      = "PRIVATE_MSG"
	RespHistory         = "HISTORY"
)

// ErrMalformedFrame indicates a line that does not parse as the expected
// frame. Callers ignore malformed frames silently; no error frame is sent.
var ErrMalformedFrame = errors.New("malformed protocol frame")

// AuthRequest is the first frame of every connection.
type AuthRequest struct {
	Action   string // CmdLogin or CmdRegister
	Username string
	Password string
}

// ParseAuthRequest parses a LOGIN or REGISTER frame. The password field
// absorbs any remaining colons.
func ParseAuthRequest(line string) (*AuthRequest, error) {
	parts := strings.SplitN(line, ":", 3)
	if len(parts) != 3 {
		return nil, ErrMalformedFrame
	}
	if parts[0] != CmdLogin && parts[0] != CmdRegister {
		return nil, ErrMalformedFrame
	}
	return &AuthRequest{
		Action:   parts[0],
		Username: parts[1],
		Password: parts[2],
	}, nil
}

// PrivateMessage is a PRIVATE frame from an authenticated client.
type PrivateMessage struct {
	Recipient string
	Content   string
}

// ParsePrivate parses a PRIVATE:<recipient>:<text> frame. The content field
// absorbs any remaining colons.
func ParsePrivate(line string) (*PrivateMessage, error) {
	parts := strings.SplitN(line, ":", 3)
	if len(parts) != 3 || parts[0] != CmdPrivate {
		return nil, ErrMalformedFrame
	}
	return &PrivateMessage{
		Recipient: parts[1],
		Content:   parts[2],
	}, nil
}

// ParseHistoryRequest parses a GET_HISTORY:<otherUser> frame and returns the
// peer username. An empty peer field is malformed.
func ParseHistoryRequest(line string) (string, error) {
	parts := strings.SplitN(line, ":", 3)
	if len(parts) < 2 || parts[0] != CmdGetHistory || parts[1] == "" {
		return "", ErrMalformedFrame
	}
	return parts[1], nil
}

// Contact is one entry of a contact snapshot.
type Contact struct {
	Username string
	Online   bool
}

// formatContacts renders the shared CONTACTS / ONLINE_UPDATE body:
// <user>,<0/1>;<user>,<0/1>;...
// Every record is terminated by ';', including the last one.
func formatContacts(contacts []Contact) string {
	var b strings.Builder
	for _, c := range contacts {
		b.WriteString(c.Username)
		b.WriteByte(',')
		if c.Online {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
		b.WriteByte(';')
	}
	return b.String()
}

// ContactsFrame renders a full contact snapshot response.
func ContactsFrame(contacts []Contact) string {
	return RespContacts + ":" + formatContacts(contacts)
}

// OnlineUpdateFrame renders a presence-change broadcast. The body format is
// identical to ContactsFrame.
func OnlineUpdateFrame(contacts []Contact) string {
	return RespOnlineUpdate + ":" + formatContacts(contacts)
}

// ParseContactsBody parses the body shared by CONTACTS and ONLINE_UPDATE
// frames (everything after the first colon).
func ParseContactsBody(body string) ([]Contact, error) {
	if body == "" {
		return nil, nil
	}
	records := strings.Split(strings.TrimSuffix(body, ";"), ";")
	contacts := make([]Contact, 0, len(records))
	for _, rec := range records {
		fields := strings.Split(rec, ",")
		if len(fields) != 2 {
			return nil, ErrMalformedFrame
		}
		switch fields[1] {
		case "0":
			contacts = append(contacts, Contact{Username: fields[0], Online: false})
		case "1":
			contacts = append(contacts, Contact{Username: fields[0], Online: true})
		default:
			return nil, ErrMalformedFrame
		}
	}
	return contacts, nil
}

// PrivateMsgFrame renders a live-delivered message for the recipient.
func PrivateMsgFrame(sender, content string) string {
	return RespPrivateMsg + ":" + sender + ":" + content
}

// HistoryEntry is one record of a HISTORY response.
type HistoryEntry struct {
	Sender    string
	Receiver  string
	Content   string
	Timestamp int64 // Unix timestamp in milliseconds, assigned by the store
}

// HistoryFrame renders the full history response for one peer:
// HISTORY:<sender>:<receiver>:<text>:<timestamp>;...
// Records appear in the order given (chronological) and each one is
// terminated by ';'.
func HistoryFrame(entries []HistoryEntry) string {
	var b strings.Builder
	b.WriteString(RespHistory)
	b.WriteByte(':')
	for _, e := range entries {
		b.WriteString(e.Sender)
		b.WriteByte(':')
		b.WriteString(e.Receiver)
		b.WriteByte(':')
		b.WriteString(e.Content)
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(e.Timestamp, 10))
		b.WriteByte(';')
	}
	return b.String()
}

// ParseHistoryBody parses the body of a HISTORY frame (everything after the
// first colon).
func ParseHistoryBody(body string) ([]HistoryEntry, error) {
	if body == "" {
		return nil, nil
	}
	records := strings.Split(strings.TrimSuffix(body, ";"), ";")
	entries := make([]HistoryEntry, 0, len(records))
	for _, rec := range records {
		fields := strings.Split(rec, ":")
		if len(fields) != 4 {
			return nil, ErrMalformedFrame
		}
		ts, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return nil, ErrMalformedFrame
		}
		entries = append(entries, HistoryEntry{
			Sender:    fields[0],
			Receiver:  fields[1],
			Content:   fields[2],
			Timestamp: ts,
		})
	}
	return entries, nil
}
