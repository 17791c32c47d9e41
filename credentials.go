package gplus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	headerAuthorization = "Authorization"
	headerCSRF          = "X-CSRF-Token"

	sessionKeyAccess  = "accessToken"
	sessionKeyRefresh = "refreshToken"
	sessionKeyCSRF    = "csrfToken"
)

// Credentials holds the token material for an authenticated session.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	CSRFToken    string
}

// CredentialManager owns the access, refresh and anti-forgery tokens and is
// the only component that mutates them. Access-token refresh and
// anti-forgery refresh are independent single-flight operations: concurrent
// callers converge on one in-flight call per operation.
type CredentialManager struct {
	baseURL    string
	refreshURL string
	csrfURL    string
	httpClient *http.Client
	timeout    time.Duration
	store      *Store

	mu    sync.RWMutex
	creds Credentials

	group singleflight.Group

	// onSessionEnd fires after credentials are cleared by an unrecoverable
	// refresh failure. The UI boundary redirects to re-authentication.
	onSessionEnd func()

	now func() time.Time
}

func newCredentialManager(baseURL string, httpClient *http.Client, store *Store, timeout time.Duration) *CredentialManager {
	m := &CredentialManager{
		baseURL:    baseURL,
		refreshURL: baseURL + pathAuthRefresh,
		csrfURL:    baseURL + pathAuthCSRF,
		httpClient: httpClient,
		timeout:    timeout,
		store:      store,
		now:        time.Now,
	}
	m.restore()
	return m
}

// restore loads persisted token fields from the session partition so a
// session survives a restart.
func (m *CredentialManager) restore() {
	if m.store == nil {
		return
	}
	var creds Credentials
	if b, ok, _ := m.store.GetSession(sessionKeyAccess); ok {
		creds.AccessToken = string(b)
	}
	if b, ok, _ := m.store.GetSession(sessionKeyRefresh); ok {
		creds.RefreshToken = string(b)
	}
	if b, ok, _ := m.store.GetSession(sessionKeyCSRF); ok {
		creds.CSRFToken = string(b)
	}
	m.mu.Lock()
	m.creds = creds
	m.mu.Unlock()
}

// OnSessionEnd registers the callback invoked when the session becomes
// unrecoverable.
func (m *CredentialManager) OnSessionEnd(f func()) {
	m.mu.Lock()
	m.onSessionEnd = f
	m.mu.Unlock()
}

// Set replaces the held credentials, typically at login, and persists them.
func (m *CredentialManager) Set(creds Credentials) {
	m.mu.Lock()
	m.creds = creds
	m.mu.Unlock()
	m.persist(creds)
}

// Tokens returns a snapshot of the held credentials.
func (m *CredentialManager) Tokens() Credentials {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creds
}

// Clear drops all credentials, in memory and persisted. The session is over.
func (m *CredentialManager) Clear() {
	m.mu.Lock()
	m.creds = Credentials{}
	end := m.onSessionEnd
	m.mu.Unlock()

	if m.store != nil {
		_ = m.store.DeleteSession(sessionKeyAccess)
		_ = m.store.DeleteSession(sessionKeyRefresh)
		_ = m.store.DeleteSession(sessionKeyCSRF)
	}
	if end != nil {
		end()
	}
}

func (m *CredentialManager) persist(creds Credentials) {
	if m.store == nil {
		return
	}
	// Best effort: a full store is no reason to fail the request that
	// produced the tokens.
	if err := m.store.PutSession(sessionKeyAccess, []byte(creds.AccessToken)); err != nil {
		log.Warn().Err(err).Msg("credentials: persist access token failed")
	}
	if err := m.store.PutSession(sessionKeyRefresh, []byte(creds.RefreshToken)); err != nil {
		log.Warn().Err(err).Msg("credentials: persist refresh token failed")
	}
	if err := m.store.PutSession(sessionKeyCSRF, []byte(creds.CSRFToken)); err != nil {
		log.Warn().Err(err).Msg("credentials: persist csrf token failed")
	}
}

// Attach adds the bearer token when one is held, and the anti-forgery header
// for mutation methods only. GET and HEAD never carry the anti-forgery token.
func (m *CredentialManager) Attach(req *http.Request) {
	creds := m.Tokens()
	if creds.AccessToken != "" {
		req.Header.Set(headerAuthorization, "Bearer "+creds.AccessToken)
	}
	if isMutation(req.Method) && creds.CSRFToken != "" {
		req.Header.Set(headerCSRF, creds.CSRFToken)
	}
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// IsExpired decodes the token's expiry claim without verifying the
// signature; verification is the server's job. Malformed or claim-less
// tokens are treated as expired (fail closed).
func (m *CredentialManager) IsExpired(token string) bool {
	if token == "" {
		return true
	}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return !exp.After(m.now())
}

// Refresh exchanges the refresh token for a new access token. Concurrent
// callers share one in-flight exchange. On failure all credentials are
// cleared and ErrSessionExpired is returned; there is no automatic retry.
func (m *CredentialManager) Refresh(ctx context.Context) (string, error) {
	token, err, shared := m.group.Do("token", func() (any, error) {
		return m.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	if shared {
		log.Debug().Msg("credentials: refresh result shared with concurrent caller")
	}
	return token.(string), nil
}

func (m *CredentialManager) doRefresh(ctx context.Context) (string, error) {
	creds := m.Tokens()
	if creds.RefreshToken == "" {
		m.Clear()
		return "", ErrSessionExpired
	}

	body, err := m.postJSON(ctx, m.refreshURL, map[string]string{"refreshToken": creds.RefreshToken})
	if err != nil {
		log.Warn().Err(err).Msg("credentials: token refresh failed, clearing session")
		m.Clear()
		return "", ErrSessionExpired
	}

	var env tokenEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.AccessToken == "" {
		m.Clear()
		return "", ErrSessionExpired
	}

	m.mu.Lock()
	m.creds.AccessToken = env.AccessToken
	if env.RefreshToken != "" {
		m.creds.RefreshToken = env.RefreshToken
	}
	if env.CSRFToken != "" {
		m.creds.CSRFToken = env.CSRFToken
	}
	updated := m.creds
	m.mu.Unlock()
	m.persist(updated)

	log.Debug().Msg("credentials: access token refreshed")
	return env.AccessToken, nil
}

// RefreshCSRF fetches a fresh anti-forgery token. This is the narrow path
// driven by a 419/422 response; it is independent of bearer-token refresh
// and the two never block each other.
func (m *CredentialManager) RefreshCSRF(ctx context.Context) (string, error) {
	token, err, _ := m.group.Do("csrf", func() (any, error) {
		body, err := m.postJSON(ctx, m.csrfURL, nil)
		if err != nil {
			return "", fmt.Errorf("gplus: csrf refresh: %w", err)
		}
		var env tokenEnvelope
		if err := json.Unmarshal(body, &env); err != nil || env.CSRFToken == "" {
			return "", fmt.Errorf("gplus: csrf refresh: no token in response")
		}
		m.RotateCSRF(env.CSRFToken)
		return env.CSRFToken, nil
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// RotateCSRF replaces the held anti-forgery token, typically harvested from
// a response body.
func (m *CredentialManager) RotateCSRF(token string) {
	m.mu.Lock()
	m.creds.CSRFToken = token
	m.mu.Unlock()
	if m.store != nil {
		if err := m.store.PutSession(sessionKeyCSRF, []byte(token)); err != nil {
			log.Warn().Err(err).Msg("credentials: persist csrf token failed")
		}
	}
}

// postJSON issues a bounded-timeout POST carrying the current bearer token
// but no anti-forgery token; the auth endpoints are exempt from it.
func (m *CredentialManager) postJSON(ctx context.Context, url string, payload any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var rd io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, rd)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if creds := m.Tokens(); creds.AccessToken != "" {
		req.Header.Set(headerAuthorization, "Bearer "+creds.AccessToken)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return body, nil
}
