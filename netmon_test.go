package gplus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMonitorProbeFailureFallsBackToPassiveSignal(t *testing.T) {
	var healthy atomic.Bool // false: probe target returns 500
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewMonitor(srv.URL, srv.Client(), time.Second, time.Hour)

	t.Run("failing probes with passive online stay online", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			online, err := m.CheckConnection(context.Background())
			require.NoError(t, err)
			require.True(t, online, "passive signal wins when the probe fails")
			require.False(t, m.IsChecking(), "probe flag must reset after the check")
		}
	})

	t.Run("failing probe with passive offline goes offline", func(t *testing.T) {
		m.SetPassiveOnline(false)
		require.False(t, m.Online())
	})

	t.Run("successful probe overrides passive offline", func(t *testing.T) {
		healthy.Store(true)
		online, err := m.CheckConnection(context.Background())
		require.NoError(t, err)
		require.True(t, online, "a reachable service is authoritative")
	})
}

func TestMonitorTransitionCallbacks(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	m := NewMonitor(srv.URL, srv.Client(), time.Second, time.Hour)

	var onlineFired, offlineFired atomic.Int32
	m.OnOnline(func() { onlineFired.Add(1) })
	m.OnOffline(func() { offlineFired.Add(1) })

	// Already online: confirming it again is not a transition.
	_, err := m.CheckConnection(context.Background())
	require.NoError(t, err)
	require.Zero(t, onlineFired.Load())

	healthy.Store(false)
	m.SetPassiveOnline(false)
	require.False(t, m.Online())
	require.Equal(t, int32(1), offlineFired.Load())

	healthy.Store(true)
	m.SetPassiveOnline(true)
	require.True(t, m.Online())
	require.Equal(t, int32(1), onlineFired.Load())
	require.Equal(t, int32(1), offlineFired.Load())
}

func TestMonitorUnreachableProbe(t *testing.T) {
	// Connection refused immediately; no listener on this port.
	m := NewMonitor("http://127.0.0.1:1", http.DefaultClient, 500*time.Millisecond, time.Hour)

	m.SetPassiveOnline(false)
	require.False(t, m.Online())

	state := m.State()
	require.False(t, state.Online)
	require.False(t, state.Probing)
}

func TestMonitorTimeSinceOnline(t *testing.T) {
	m := NewMonitor("http://127.0.0.1:1", http.DefaultClient, 500*time.Millisecond, time.Hour)

	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }
	m.mu.Lock()
	m.lastOnlineAt = base.Add(-(3*time.Minute + 42*time.Second))
	m.mu.Unlock()

	min, sec := m.TimeSinceOnline()
	require.Equal(t, 3, min)
	require.Equal(t, 42, sec)
}
