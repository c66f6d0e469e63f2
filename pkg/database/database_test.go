package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "chatrelay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func TestCreateUser(t *testing.T) {
	db := openTestDB(t)

	id, err := db.CreateUser("alice", "secret")
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	user, err := db.GetUserByUsername("alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.False(t, user.Online)
}

func TestCreateUserDuplicateKeepsFirstPassword(t *testing.T) {
	db := openTestDB(t)

	_, err := db.CreateUser("alice", "first")
	require.NoError(t, err)

	_, err = db.CreateUser("alice", "second")
	assert.ErrorIs(t, err, ErrUsernameTaken)

	// The original credential survives the failed duplicate
	assert.NoError(t, db.VerifyCredentials("alice", "first"))
	assert.ErrorIs(t, db.VerifyCredentials("alice", "second"), ErrBadCredentials)
}

func TestVerifyCredentials(t *testing.T) {
	db := openTestDB(t)

	_, err := db.CreateUser("alice", "secret")
	require.NoError(t, err)

	assert.NoError(t, db.VerifyCredentials("alice", "secret"))
	assert.ErrorIs(t, db.VerifyCredentials("alice", "wrong"), ErrBadCredentials)
	assert.ErrorIs(t, db.VerifyCredentials("nobody", "secret"), ErrUserNotFound)
}

func TestSetOnline(t *testing.T) {
	db := openTestDB(t)

	_, err := db.CreateUser("alice", "a")
	require.NoError(t, err)
	_, err = db.CreateUser("bob", "b")
	require.NoError(t, err)

	require.NoError(t, db.SetOnline("bob", true))

	contacts, err := db.Contacts("alice")
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, Contact{Username: "bob", Online: true}, contacts[0])

	require.NoError(t, db.SetOnline("bob", false))

	contacts, err = db.Contacts("alice")
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.False(t, contacts[0].Online)
}

func TestContactsExcludesRequester(t *testing.T) {
	db := openTestDB(t)

	for _, name := range []string{"alice", "bob", "carol"} {
		_, err := db.CreateUser(name, "pw")
		require.NoError(t, err)
	}

	contacts, err := db.Contacts("bob")
	require.NoError(t, err)
	require.Len(t, contacts, 2)
	for _, c := range contacts {
		assert.NotEqual(t, "bob", c.Username)
	}
}

func TestAppendMessageAssignsTimestamp(t *testing.T) {
	db := openTestDB(t)

	_, err := db.CreateUser("alice", "a")
	require.NoError(t, err)
	_, err = db.CreateUser("bob", "b")
	require.NoError(t, err)

	msg, err := db.AppendMessage("alice", "bob", "hello")
	require.NoError(t, err)
	assert.Equal(t, "alice", msg.Sender)
	assert.Equal(t, "bob", msg.Receiver)
	assert.Equal(t, "hello", msg.Content)
	assert.Greater(t, msg.Timestamp, int64(0))
}

func TestAppendMessageUnknownUser(t *testing.T) {
	db := openTestDB(t)

	_, err := db.CreateUser("alice", "a")
	require.NoError(t, err)

	_, err = db.AppendMessage("alice", "ghost", "anyone there?")
	assert.Error(t, err)

	_, err = db.AppendMessage("ghost", "alice", "boo")
	assert.Error(t, err)
}

func TestHistoryOrderingAndSymmetry(t *testing.T) {
	db := openTestDB(t)

	_, err := db.CreateUser("alice", "a")
	require.NoError(t, err)
	_, err = db.CreateUser("bob", "b")
	require.NoError(t, err)
	_, err = db.CreateUser("carol", "c")
	require.NoError(t, err)

	contents := []string{"one", "two", "three", "four"}
	for i, content := range contents {
		var err error
		if i%2 == 0 {
			_, err = db.AppendMessage("alice", "bob", content)
		} else {
			_, err = db.AppendMessage("bob", "alice", content)
		}
		require.NoError(t, err)
	}

	// Unrelated traffic must not leak into the pair's history
	_, err = db.AppendMessage("alice", "carol", "psst")
	require.NoError(t, err)

	fromAlice, err := db.History("alice", "bob")
	require.NoError(t, err)
	fromBob, err := db.History("bob", "alice")
	require.NoError(t, err)

	require.Len(t, fromAlice, len(contents))
	require.Equal(t, len(fromAlice), len(fromBob))

	for i := range fromAlice {
		assert.Equal(t, contents[i], fromAlice[i].Content)
		assert.Equal(t, fromAlice[i].ID, fromBob[i].ID)
		if i > 0 {
			assert.GreaterOrEqual(t, fromAlice[i].Timestamp, fromAlice[i-1].Timestamp)
		}
	}
}

func TestHistoryEmptyPair(t *testing.T) {
	db := openTestDB(t)

	_, err := db.CreateUser("alice", "a")
	require.NoError(t, err)

	messages, err := db.History("alice", "nobody")
	require.NoError(t, err)
	assert.Empty(t, messages)
}
