package storage

import (
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "meshapp", "mesh.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func randomID(t *testing.T) [32]byte {
	t.Helper()
	var id [32]byte
	_, err := rand.Read(id[:])
	require.NoError(t, err)
	return id
}

func TestStoreMessageIdempotent(t *testing.T) {
	s := newTestStore(t)
	mid := randomID(t)
	ch := randomID(t)

	require.NoError(t, s.StoreMessage(mid, ch, []byte("ct"), 100, 10))
	require.NoError(t, s.StoreMessage(mid, ch, []byte("other"), 200, 5))

	rows, err := s.FetchMessages(ch, 50, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	// First insert wins.
	assert.Equal(t, []byte("ct"), rows[0].Ciphertext)
	assert.Equal(t, int64(100), rows[0].Timestamp)
	assert.Equal(t, uint8(10), rows[0].TTL)
}

func TestFetchMessagesOrderedAndPaginated(t *testing.T) {
	s := newTestStore(t)
	ch := randomID(t)

	// Insert out of timestamp order.
	for _, ts := range []int64{30, 10, 20, 40} {
		require.NoError(t, s.StoreMessage(randomID(t), ch, []byte{byte(ts)}, ts, 10))
	}

	rows, err := s.FetchMessages(ch, 50, 0)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	for i := 1; i < len(rows); i++ {
		assert.LessOrEqual(t, rows[i-1].Timestamp, rows[i].Timestamp)
	}

	page, err := s.FetchMessages(ch, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(20), page[0].Timestamp)
	assert.Equal(t, int64(30), page[1].Timestamp)
}

func TestFetchMessagesScopedToChannel(t *testing.T) {
	s := newTestStore(t)
	chA := randomID(t)
	chB := randomID(t)

	require.NoError(t, s.StoreMessage(randomID(t), chA, []byte("a"), 1, 10))
	require.NoError(t, s.StoreMessage(randomID(t), chB, []byte("b"), 2, 10))

	rows, err := s.FetchMessages(chA, 50, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []byte("a"), rows[0].Ciphertext)
}

func TestDeleteChannelMessages(t *testing.T) {
	s := newTestStore(t)
	chA := randomID(t)
	chB := randomID(t)

	require.NoError(t, s.StoreMessage(randomID(t), chA, []byte("a1"), 1, 10))
	require.NoError(t, s.StoreMessage(randomID(t), chA, []byte("a2"), 2, 10))
	require.NoError(t, s.StoreMessage(randomID(t), chB, []byte("b"), 3, 10))

	require.NoError(t, s.DeleteChannelMessages(chA))

	rows, err := s.FetchMessages(chA, 50, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = s.FetchMessages(chB, 50, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestChannelRegistry(t *testing.T) {
	s := newTestStore(t)
	ch := randomID(t)

	require.NoError(t, s.UpsertChannel(ch, ChannelTypeGeohash))
	require.NoError(t, s.UpsertChannel(ch, ChannelTypeGeohash))

	ids, err := s.ListChannelsByType(ChannelTypeGeohash)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, ch[:], ids[0][:])

	ids, err = s.ListChannelsByType(ChannelTypeDM)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mesh.db")
	s, err := Open(path)
	require.NoError(t, err)

	mid := randomID(t)
	ch := randomID(t)
	require.NoError(t, s.StoreMessage(mid, ch, []byte("ct"), 1, 10))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	rows, err := s2.FetchMessages(ch, 50, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, mid[:], rows[0].MessageID)
}
