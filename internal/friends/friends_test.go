package friends

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshapp/meshcore/internal/identity"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "friends.json"))
	require.NoError(t, err)
	return m
}

func testKeys(t *testing.T) ([32]byte, [32]byte) {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	return id.Ed25519Public, id.X25519Public
}

func TestAddComputesUserID(t *testing.T) {
	m := newTestManager(t)
	edPub, xPub := testKeys(t)

	userID, err := m.Add(edPub, xPub, "alice")
	require.NoError(t, err)
	assert.Equal(t, identity.UserIDFromPublicKey(edPub[:]), userID)

	f, err := m.Get(userID)
	require.NoError(t, err)
	assert.Equal(t, "alice", f.Nickname)
	assert.Equal(t, edPub, f.Ed25519Public)
	assert.Equal(t, xPub, f.X25519Public)
}

func TestAddRejectsEmptyNickname(t *testing.T) {
	m := newTestManager(t)
	edPub, xPub := testKeys(t)

	_, err := m.Add(edPub, xPub, "")
	assert.ErrorIs(t, err, ErrEmptyNickname)
}

func TestNicknameUniquenessCaseInsensitive(t *testing.T) {
	m := newTestManager(t)
	edPub1, xPub1 := testKeys(t)
	edPub2, xPub2 := testKeys(t)

	_, err := m.Add(edPub1, xPub1, "Alice")
	require.NoError(t, err)

	_, err = m.Add(edPub2, xPub2, "alice")
	assert.ErrorIs(t, err, ErrNicknameTaken)

	// Different nickname is fine.
	_, err = m.Add(edPub2, xPub2, "bob")
	assert.NoError(t, err)
}

func TestUpdateProfileExcludesSelfFromCollision(t *testing.T) {
	m := newTestManager(t)
	edPub, xPub := testKeys(t)

	userID, err := m.Add(edPub, xPub, "alice")
	require.NoError(t, err)

	// Re-setting the same nickname (different case) must not conflict
	// with the record itself.
	nick := "ALICE"
	require.NoError(t, m.UpdateProfile(userID, ProfileUpdate{Nickname: &nick}))

	f, err := m.Get(userID)
	require.NoError(t, err)
	assert.Equal(t, "ALICE", f.Nickname)
}

func TestUpdateProfileFields(t *testing.T) {
	m := newTestManager(t)
	edPub, xPub := testKeys(t)

	userID, err := m.Add(edPub, xPub, "alice")
	require.NoError(t, err)

	notes := "met at the park"
	tags := []string{"hiking", "radio"}
	display := "Alice W."
	require.NoError(t, m.UpdateProfile(userID, ProfileUpdate{
		Notes:       &notes,
		Tags:        &tags,
		DisplayName: &display,
	}))

	f, err := m.Get(userID)
	require.NoError(t, err)
	assert.Equal(t, "met at the park", f.Notes)
	assert.Equal(t, []string{"hiking", "radio"}, f.Tags)
	assert.Equal(t, "Alice W.", f.CustomDisplayName)

	name, err := m.DisplayName(userID)
	require.NoError(t, err)
	assert.Equal(t, "Alice W.", name)

	// Clearing the display name falls back to nickname.
	empty := ""
	require.NoError(t, m.UpdateProfile(userID, ProfileUpdate{DisplayName: &empty}))
	name, err = m.DisplayName(userID)
	require.NoError(t, err)
	assert.Equal(t, "alice", name)
}

func TestRemove(t *testing.T) {
	m := newTestManager(t)
	edPub, xPub := testKeys(t)

	userID, err := m.Add(edPub, xPub, "alice")
	require.NoError(t, err)
	require.NoError(t, m.Remove(userID))

	_, err = m.Get(userID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Remove(userID), ErrNotFound)
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "friends.json")
	m, err := NewManager(path)
	require.NoError(t, err)

	edPub, xPub := testKeys(t)
	userID, err := m.Add(edPub, xPub, "alice")
	require.NoError(t, err)
	notes := "n"
	require.NoError(t, m.UpdateProfile(userID, ProfileUpdate{Notes: &notes}))

	reloaded, err := NewManager(path)
	require.NoError(t, err)
	f, err := reloaded.Get(userID)
	require.NoError(t, err)
	assert.Equal(t, "alice", f.Nickname)
	assert.Equal(t, "n", f.Notes)
	assert.Equal(t, edPub, f.Ed25519Public)
	assert.Equal(t, xPub, f.X25519Public)
	assert.Len(t, reloaded.List(), 1)
}

func TestExportImportCycle(t *testing.T) {
	m := newTestManager(t)
	id, err := identity.Generate()
	require.NoError(t, err)

	payload, err := ExportIdentity(id).JSON()
	require.NoError(t, err)

	userID, err := m.ImportJSON(payload, "alice")
	require.NoError(t, err)
	assert.Equal(t, id.UserID, userID)

	f, err := m.Get(userID)
	require.NoError(t, err)
	assert.Equal(t, id.Ed25519Public, f.Ed25519Public)
	assert.Equal(t, id.X25519Public, f.X25519Public)
}

func TestImportRejectsBadPayloads(t *testing.T) {
	m := newTestManager(t)

	_, err := m.ImportJSON("not json", "alice")
	assert.ErrorIs(t, err, ErrInvalidExport)

	// Short hex key.
	_, err = m.ImportJSON(`{"user_id":"00","ed25519_public":"abcd","x25519_public":"abcd"}`, "alice")
	assert.ErrorIs(t, err, ErrInvalidExport)

	// Valid shape but user_id does not bind to the key.
	id, err2 := identity.Generate()
	require.NoError(t, err2)
	e := ExportIdentity(id)
	e.UserID = "00000000000000000000000000000000" + "00000000000000000000000000000000"
	payload, err2 := e.JSON()
	require.NoError(t, err2)
	_, err = m.ImportJSON(payload, "alice")
	assert.ErrorIs(t, err, ErrUserIDMismatch)
}
