package gplus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := OpenStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func TestStoreCache(t *testing.T) {
	s, _ := openTestStore(t)

	t.Run("miss", func(t *testing.T) {
		_, ok, err := s.GetCache("/api/points")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("round trip", func(t *testing.T) {
		err := s.PutCache(CacheEntry{
			Key:      "/api/points",
			Payload:  json.RawMessage(`{"balance":120}`),
			StoredAt: time.Now(),
		})
		require.NoError(t, err)

		entry, ok, err := s.GetCache("/api/points")
		require.NoError(t, err)
		require.True(t, ok)
		require.JSONEq(t, `{"balance":120}`, string(entry.Payload))
	})

	t.Run("overwrite keeps one entry per key", func(t *testing.T) {
		err := s.PutCache(CacheEntry{
			Key:      "/api/points",
			Payload:  json.RawMessage(`{"balance":150}`),
			StoredAt: time.Now(),
		})
		require.NoError(t, err)

		entry, ok, err := s.GetCache("/api/points")
		require.NoError(t, err)
		require.True(t, ok)
		require.JSONEq(t, `{"balance":150}`, string(entry.Payload))
	})

	t.Run("compact clears cache but not queue", func(t *testing.T) {
		_, err := s.Enqueue(PendingMutation{Method: "POST", URL: "/api/pickups"})
		require.NoError(t, err)

		require.NoError(t, s.CompactCache())

		_, ok, err := s.GetCache("/api/points")
		require.NoError(t, err)
		require.False(t, ok)

		depth, err := s.QueueDepth()
		require.NoError(t, err)
		require.Equal(t, 1, depth)
	})
}

func TestStoreSession(t *testing.T) {
	s, _ := openTestStore(t)

	_, ok, err := s.GetSession("accessToken")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.PutSession("accessToken", []byte("tok-1")))
	b, ok, err := s.GetSession("accessToken")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "tok-1", string(b))

	require.NoError(t, s.DeleteSession("accessToken"))
	_, ok, err = s.GetSession("accessToken")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreQueueFIFO(t *testing.T) {
	s, dir := openTestStore(t)

	for _, path := range []string{"/api/pickups", "/api/redemptions", "/api/pickups/3"} {
		_, err := s.Enqueue(PendingMutation{
			Method:    "POST",
			URL:       path,
			Body:      json.RawMessage(`{}`),
			Timestamp: time.Now(),
		})
		require.NoError(t, err)
	}

	ms, err := s.PendingMutations()
	require.NoError(t, err)
	require.Len(t, ms, 3)
	require.Equal(t, "/api/pickups", ms[0].URL)
	require.Equal(t, "/api/redemptions", ms[1].URL)
	require.Equal(t, "/api/pickups/3", ms[2].URL)
	require.Equal(t, uint64(1), ms[0].ID)
	require.Equal(t, uint64(3), ms[2].ID)

	// Order and the sequence counter survive a reopen.
	require.NoError(t, s.Close())
	s2, err := OpenStore(dir)
	require.NoError(t, err)
	defer s2.Close()

	m4, err := s2.Enqueue(PendingMutation{Method: "DELETE", URL: "/api/pickups/1"})
	require.NoError(t, err)
	require.Equal(t, uint64(4), m4.ID)

	ms, err = s2.PendingMutations()
	require.NoError(t, err)
	require.Len(t, ms, 4)
	require.Equal(t, "/api/pickups/1", ms[3].URL)
}

func TestStoreMarkSyncedAndDelete(t *testing.T) {
	s, _ := openTestStore(t)

	m, err := s.Enqueue(PendingMutation{Method: "POST", URL: "/api/pickups"})
	require.NoError(t, err)

	depth, err := s.QueueDepth()
	require.NoError(t, err)
	require.Equal(t, 1, depth)

	// Marked synced: still listed, no longer counted as pending work.
	require.NoError(t, s.MarkSynced(m.ID))
	ms, err := s.PendingMutations()
	require.NoError(t, err)
	require.Len(t, ms, 1)
	require.True(t, ms[0].Synced)

	depth, err = s.QueueDepth()
	require.NoError(t, err)
	require.Equal(t, 0, depth)

	require.NoError(t, s.DeleteMutation(m.ID))
	ms, err = s.PendingMutations()
	require.NoError(t, err)
	require.Empty(t, ms)

	// Marking an already-deleted entry is a no-op, not an error.
	require.NoError(t, s.MarkSynced(m.ID))
}
