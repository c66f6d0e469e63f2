package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Property-based round-trip tests for the frame bodies. Field values are
// drawn delimiter-free, matching the protocol's contract that values never
// contain ':' ',' or ';'.

func genUsername() *rapid.Generator[string] {
	return rapid.StringMatching(`[a-zA-Z0-9_]{1,16}`)
}

func genContent() *rapid.Generator[string] {
	return rapid.StringMatching(`[a-zA-Z0-9 .!?_-]{0,64}`)
}

func TestContactsRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		count := rapid.IntRange(0, 20).Draw(t, "count")
		contacts := make([]Contact, count)
		for i := range contacts {
			contacts[i] = Contact{
				Username: genUsername().Draw(t, "username"),
				Online:   rapid.Bool().Draw(t, "online"),
			}
		}

		frame := ContactsFrame(contacts)
		require.True(t, strings.HasPrefix(frame, RespContacts+":"))

		parsed, err := ParseContactsBody(strings.TrimPrefix(frame, RespContacts+":"))
		require.NoError(t, err)
		require.Len(t, parsed, len(contacts))
		for i := range contacts {
			require.Equal(t, contacts[i], parsed[i])
		}
	})
}

func TestHistoryRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		count := rapid.IntRange(0, 20).Draw(t, "count")
		entries := make([]HistoryEntry, count)
		for i := range entries {
			entries[i] = HistoryEntry{
				Sender:    genUsername().Draw(t, "sender"),
				Receiver:  genUsername().Draw(t, "receiver"),
				Content:   genContent().Draw(t, "content"),
				Timestamp: rapid.Int64Range(0, 1<<52).Draw(t, "timestamp"),
			}
		}

		frame := HistoryFrame(entries)
		parsed, err := ParseHistoryBody(strings.TrimPrefix(frame, RespHistory+":"))
		require.NoError(t, err)
		require.Len(t, parsed, len(entries))
		for i := range entries {
			require.Equal(t, entries[i], parsed[i])
		}
	})
}

func TestAuthRequestRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		action := rapid.SampledFrom([]string{CmdLogin, CmdRegister}).Draw(t, "action")
		username := genUsername().Draw(t, "username")
		// Passwords are the final field and may contain colons
		password := rapid.StringMatching(`[a-zA-Z0-9:!@#$%^&*]{1,32}`).Draw(t, "password")

		req, err := ParseAuthRequest(action + ":" + username + ":" + password)
		require.NoError(t, err)
		require.Equal(t, action, req.Action)
		require.Equal(t, username, req.Username)
		require.Equal(t, password, req.Password)
	})
}
