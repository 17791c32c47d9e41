package gplus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestIsExpired(t *testing.T) {
	m := newCredentialManager("http://example.invalid", http.DefaultClient, nil, time.Second)
	m.now = func() time.Time { return time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC) }

	t.Run("future expiry is live", func(t *testing.T) {
		tok := signedToken(t, jwt.MapClaims{"sub": "u1", "exp": m.now().Add(time.Hour).Unix()})
		require.False(t, m.IsExpired(tok))
	})

	t.Run("past expiry is expired", func(t *testing.T) {
		tok := signedToken(t, jwt.MapClaims{"sub": "u1", "exp": m.now().Add(-time.Minute).Unix()})
		require.True(t, m.IsExpired(tok))
	})

	t.Run("expiry right now is expired", func(t *testing.T) {
		tok := signedToken(t, jwt.MapClaims{"exp": m.now().Unix()})
		require.True(t, m.IsExpired(tok))
	})

	t.Run("missing exp claim fails closed", func(t *testing.T) {
		tok := signedToken(t, jwt.MapClaims{"sub": "u1"})
		require.True(t, m.IsExpired(tok))
	})

	t.Run("malformed token fails closed", func(t *testing.T) {
		require.True(t, m.IsExpired("not.a.jwt"))
		require.True(t, m.IsExpired("garbage"))
	})

	t.Run("empty token fails closed", func(t *testing.T) {
		require.True(t, m.IsExpired(""))
	})
}

func TestAttach(t *testing.T) {
	m := newCredentialManager("http://example.invalid", http.DefaultClient, nil, time.Second)
	m.Set(Credentials{AccessToken: "acc-1", CSRFToken: "csrf-1"})

	t.Run("GET carries bearer only", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/points", nil)
		m.Attach(req)
		require.Equal(t, "Bearer acc-1", req.Header.Get("Authorization"))
		require.Empty(t, req.Header.Get("X-CSRF-Token"))
	})

	t.Run("POST carries bearer and anti-forgery token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/pickups", nil)
		m.Attach(req)
		require.Equal(t, "Bearer acc-1", req.Header.Get("Authorization"))
		require.Equal(t, "csrf-1", req.Header.Get("X-CSRF-Token"))
	})

	t.Run("DELETE carries anti-forgery token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/api/pickups/3", nil)
		m.Attach(req)
		require.Equal(t, "csrf-1", req.Header.Get("X-CSRF-Token"))
	})

	t.Run("no tokens no headers", func(t *testing.T) {
		m.Set(Credentials{})
		req := httptest.NewRequest(http.MethodPost, "/api/pickups", nil)
		m.Attach(req)
		require.Empty(t, req.Header.Get("Authorization"))
		require.Empty(t, req.Header.Get("X-CSRF-Token"))
	})
}

func TestRefreshSingleFlight(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/auth/refresh", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "ref-1", body["refreshToken"])

		calls.Add(1)
		time.Sleep(100 * time.Millisecond) // hold the exchange open so callers overlap
		_ = json.NewEncoder(w).Encode(map[string]string{
			"accessToken":  "acc-2",
			"refreshToken": "ref-2",
		})
	}))
	defer srv.Close()

	m := newCredentialManager(srv.URL, srv.Client(), nil, 5*time.Second)
	m.Set(Credentials{AccessToken: "acc-1", RefreshToken: "ref-1"})

	const n = 8
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Refresh(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "acc-2", results[i])
	}
	require.Equal(t, int32(1), calls.Load(), "concurrent callers must share one network exchange")

	creds := m.Tokens()
	require.Equal(t, "acc-2", creds.AccessToken)
	require.Equal(t, "ref-2", creds.RefreshToken)
}

func TestRefreshFailureClearsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := newCredentialManager(srv.URL, srv.Client(), nil, 5*time.Second)
	m.Set(Credentials{AccessToken: "acc-1", RefreshToken: "ref-1", CSRFToken: "csrf-1"})

	ended := false
	m.OnSessionEnd(func() { ended = true })

	_, err := m.Refresh(context.Background())
	require.ErrorIs(t, err, ErrSessionExpired)
	require.True(t, ended, "session-end callback must fire")
	require.Equal(t, Credentials{}, m.Tokens())
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	m := newCredentialManager("http://example.invalid", http.DefaultClient, nil, time.Second)
	m.Set(Credentials{AccessToken: "acc-1"})

	_, err := m.Refresh(context.Background())
	require.ErrorIs(t, err, ErrSessionExpired)
	require.Equal(t, Credentials{}, m.Tokens())
}

func TestRefreshCSRF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/auth/csrf", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		// Auth endpoints are exempt from the anti-forgery header.
		require.Empty(t, r.Header.Get("X-CSRF-Token"))
		_ = json.NewEncoder(w).Encode(map[string]string{"csrfToken": "csrf-2"})
	}))
	defer srv.Close()

	m := newCredentialManager(srv.URL, srv.Client(), nil, 5*time.Second)
	m.Set(Credentials{AccessToken: "acc-1", CSRFToken: "csrf-1"})

	tok, err := m.RefreshCSRF(context.Background())
	require.NoError(t, err)
	require.Equal(t, "csrf-2", tok)
	require.Equal(t, "csrf-2", m.Tokens().CSRFToken)
	// Bearer-token state is untouched by an anti-forgery refresh.
	require.Equal(t, "acc-1", m.Tokens().AccessToken)
}

func TestCredentialsPersistAcrossRestart(t *testing.T) {
	s, _ := openTestStore(t)

	m := newCredentialManager("http://example.invalid", http.DefaultClient, s, time.Second)
	m.Set(Credentials{AccessToken: "acc-1", RefreshToken: "ref-1", CSRFToken: "csrf-1"})

	// A fresh manager over the same store restores the session.
	m2 := newCredentialManager("http://example.invalid", http.DefaultClient, s, time.Second)
	require.Equal(t, Credentials{AccessToken: "acc-1", RefreshToken: "ref-1", CSRFToken: "csrf-1"}, m2.Tokens())

	m2.Clear()
	m3 := newCredentialManager("http://example.invalid", http.DefaultClient, s, time.Second)
	require.Equal(t, Credentials{}, m3.Tokens())
}
