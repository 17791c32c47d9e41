// Package gplus is the Go client for the GplusAPP recycling and rewards
// service. Its distinguishing feature is an offline-resilient request layer:
// reads are served from a durable local cache while the network is
// unavailable, writes are queued and replayed in order once connectivity
// returns, and short-lived access and anti-forgery tokens are refreshed
// transparently without duplicating in-flight refreshes.
//
// Usage:
//
//	client, _ := gplus.NewClient(cfg)
//	client.Start(ctx)
//	defer client.Close()
//
//	_, _ = client.Account().Login(ctx, &gplus.LoginOptions{Email: "...", Password: "..."})
//	res, _ := client.Pickups().Schedule(ctx, &gplus.SchedulePickupOptions{Address: "...", Date: "2026-09-01"})
//	if res.Queued {
//		// offline: the pickup is stored locally and will sync on reconnect
//	}
package gplus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	pathAuthLogin   = "/api/auth/login"
	pathAuthRefresh = "/api/auth/refresh"
	pathAuthCSRF    = "/api/auth/csrf"

	headerIdempotency = "X-Idempotency-Key"

	// cacheBustParam defeats intermediate HTTP caches on reads; the
	// application's own durable cache is the authority. It is excluded from
	// cache key derivation.
	cacheBustParam = "_t"
)

// Notifier is the surface the presentation layer supplies for non-blocking
// user notifications about queuing and sync outcomes.
type Notifier interface {
	ShowError(msg string)
	ShowSuccess(msg string)
}

type nopNotifier struct{}

func (nopNotifier) ShowError(string)   {}
func (nopNotifier) ShowSuccess(string) {}

// LogNotifier writes notifications to the structured log. It is the default
// for headless use such as the CLI.
type LogNotifier struct{}

func (LogNotifier) ShowError(msg string)   { log.Error().Msg(msg) }
func (LogNotifier) ShowSuccess(msg string) { log.Info().Msg(msg) }

// RequestHook transforms an outbound request before dispatch. Hooks run in
// registration order.
type RequestHook func(ctx context.Context, req *http.Request) error

// ResponseHook observes a successful response body before it is returned to
// the caller. Hooks run in registration order.
type ResponseHook func(ctx context.Context, req *http.Request, body []byte)

// request is the reissue-able description the pipeline operates on. Keeping
// it separate from http.Request lets a dispatch be retried or queued without
// re-reading a consumed body.
type request struct {
	method string
	path   string
	query  url.Values
	body   []byte
	header map[string]string

	// replay bypasses the offline short-circuit: the sync replayer only runs
	// when connectivity is confirmed.
	replay bool
}

// Client is the offline-resilient request layer. One instance owns the
// durable store, credential state and connectivity monitor for the lifetime
// of the session.
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      *Store
	creds      *CredentialManager
	monitor    *Monitor
	notifier   Notifier

	requestHooks  []RequestHook
	responseHooks []ResponseHook

	syncState syncState
}

// ClientOption customizes the client.
type ClientOption func(*clientSettings)

type clientSettings struct {
	httpClient   *http.Client
	notifier     Notifier
	probeURL     string
	probeTimeout time.Duration
}

// WithHTTPClient replaces the transport used for all requests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(s *clientSettings) { s.httpClient = hc }
}

// WithNotifier supplies the presentation layer's notification callbacks.
func WithNotifier(n Notifier) ClientOption {
	return func(s *clientSettings) { s.notifier = n }
}

// WithProbeURL overrides the reachability probe target.
func WithProbeURL(u string) ClientOption {
	return func(s *clientSettings) { s.probeURL = u }
}

// WithProbeTimeout bounds each reachability probe.
func WithProbeTimeout(d time.Duration) ClientOption {
	return func(s *clientSettings) { s.probeTimeout = d }
}

// NewClient builds the request layer: opens the durable store, restores any
// persisted session, and wires the connectivity monitor to the sync
// replayer. Call Start to begin periodic probing and Close to release the
// store.
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	cfg.applyDefaults()

	s := clientSettings{
		httpClient:   &http.Client{Timeout: cfg.RequestTimeout()},
		notifier:     nopNotifier{},
		probeURL:     strings.TrimRight(cfg.BaseURL, "/") + cfg.ProbePath,
		probeTimeout: cfg.ProbeTimeout(),
	}
	for _, opt := range opts {
		opt(&s)
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("gplus: cannot determine data directory: %w", err)
		}
		dataDir = filepath.Join(home, ".gplus", "data")
	}
	store, err := OpenStore(dataDir)
	if err != nil {
		return nil, err
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	c := &Client{
		baseURL:    baseURL,
		httpClient: s.httpClient,
		store:      store,
		creds:      newCredentialManager(baseURL, s.httpClient, store, cfg.RefreshTimeout()),
		monitor:    NewMonitor(s.probeURL, s.httpClient, s.probeTimeout, cfg.ProbeInterval()),
		notifier:   s.notifier,
	}

	// The pipeline is an ordered list of transforms; ordering is part of the
	// contract (credentials before cache busting is arbitrary, but explicit).
	c.requestHooks = []RequestHook{c.attachCredentials, c.bustCache}
	c.responseHooks = []ResponseHook{c.harvestCSRF, c.cacheRead}

	// Drain the queue whenever connectivity is confirmed restored.
	c.monitor.OnOnline(func() {
		go func() {
			if _, err := c.SyncNow(context.Background()); err != nil {
				log.Warn().Err(err).Msg("sync: replay after reconnect failed")
			}
		}()
	})

	return c, nil
}

// Start begins periodic connectivity probing.
func (c *Client) Start(ctx context.Context) {
	c.monitor.Start(ctx)
}

// Close stops background work and releases the durable store.
func (c *Client) Close() error {
	c.monitor.Stop()
	return c.store.Close()
}

// Credentials exposes the credential manager, primarily for session setup
// and the UI boundary's session-end handling.
func (c *Client) Credentials() *CredentialManager { return c.creds }

// Connectivity exposes the network monitor for offline banners and passive
// platform signals.
func (c *Client) Connectivity() *Monitor { return c.monitor }

// Store exposes the durable store, primarily for diagnostics.
func (c *Client) Store() *Store { return c.store }

// QueueDepth returns the number of mutations awaiting replay.
func (c *Client) QueueDepth() (int, error) { return c.store.QueueDepth() }

// AddRequestHook appends a custom request transform to the pipeline.
func (c *Client) AddRequestHook(h RequestHook) { c.requestHooks = append(c.requestHooks, h) }

// AddResponseHook appends a custom response observer to the pipeline.
func (c *Client) AddResponseHook(h ResponseHook) { c.responseHooks = append(c.responseHooks, h) }

// Do issues a request through the interceptor pipeline. Offline reads are
// served from the cache; offline writes are queued and acknowledged with a
// 202-shaped result.
func (c *Client) Do(ctx context.Context, method, path string, body any, query url.Values) (*Result, error) {
	var payload []byte
	header := map[string]string{}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("gplus: marshal request body: %w", err)
		}
		payload = b
		header["Content-Type"] = "application/json"
	}
	return c.dispatch(ctx, &request{
		method: method,
		path:   path,
		query:  query,
		body:   payload,
		header: header,
	}, false)
}

// dispatch runs the per-request state machine: credential preflight, offline
// short-circuit, transport dispatch, response classification. retried guards
// the single 401/419 retry.
func (c *Client) dispatch(ctx context.Context, r *request, retried bool) (*Result, error) {
	authPath := isAuthPath(r.path)

	// Preflight: refresh an expired access token before dispatch. The auth
	// endpoints themselves are exempt, or login could never break a refresh
	// loop. A failed refresh does not block the user; the request proceeds
	// unauthenticated and the server rejects it.
	if !authPath {
		if tok := c.creds.Tokens().AccessToken; tok != "" && c.creds.IsExpired(tok) {
			if _, err := c.creds.Refresh(ctx); err != nil {
				log.Warn().Err(err).Msg("pipeline: preflight token refresh failed, dispatching without token")
			}
		}
	}

	if !r.replay && !c.monitor.Online() {
		return c.shortCircuit(r)
	}

	req, err := c.buildHTTPRequest(ctx, r)
	if err != nil {
		return nil, err
	}
	for _, hook := range c.requestHooks {
		if err := hook(ctx, req); err != nil {
			return nil, err
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// No response at all while the monitor believes itself online: this
		// is the signal that should trigger a fresh probe.
		c.notifier.ShowError("Network error. Check your connection and try again.")
		go func() { _, _ = c.monitor.CheckConnection(context.Background()) }()
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		for _, hook := range c.responseHooks {
			hook(ctx, req, respBody)
		}
		return &Result{StatusCode: resp.StatusCode, Body: respBody}, nil
	}

	return c.handleFailure(ctx, r, retried, resp.StatusCode, respBody)
}

func (c *Client) handleFailure(ctx context.Context, r *request, retried bool, status int, body []byte) (*Result, error) {
	apiErr := decodeAPIError(body)
	authPath := isAuthPath(r.path)

	switch {
	case status == http.StatusUnauthorized && !authPath:
		if retried {
			// One refresh-and-retry only. A second 401 means the session is
			// beyond saving.
			c.creds.Clear()
			return nil, ErrSessionExpired
		}
		if _, err := c.creds.Refresh(ctx); err != nil {
			c.notifier.ShowError("Your session has expired. Please sign in again.")
			return nil, err
		}
		return c.dispatch(ctx, r, true)

	case status == 419 || status == http.StatusUnprocessableEntity:
		if retried {
			c.notifier.ShowError("Your session has expired. The app will reload.")
			return nil, ErrSessionExpired
		}
		if _, err := c.creds.RefreshCSRF(ctx); err != nil {
			c.notifier.ShowError("Your session has expired. The app will reload.")
			return nil, ErrSessionExpired
		}
		return c.dispatch(ctx, r, true)

	case status >= 500:
		c.notifier.ShowError("Server error. Please try again later.")
		return nil, &StatusError{StatusCode: status, API: apiErr}

	default:
		// Remaining 4xx: surface the server's message verbatim when present.
		if apiErr != nil && apiErr.Message != "" {
			c.notifier.ShowError(apiErr.Message)
		} else {
			c.notifier.ShowError("Request failed. Please try again.")
		}
		return nil, &StatusError{StatusCode: status, API: apiErr}
	}
}

// shortCircuit resolves a request locally while offline: reads from the
// durable cache, writes into the pending-mutation queue.
func (c *Client) shortCircuit(r *request) (*Result, error) {
	if r.method == http.MethodGet || r.method == http.MethodHead {
		entry, ok, err := c.store.GetCache(cacheKey(r.path, r.query))
		if err != nil {
			log.Warn().Err(err).Str("path", r.path).Msg("pipeline: offline cache read failed")
		}
		if !ok {
			return nil, ErrOfflineNoCache
		}
		return &Result{StatusCode: http.StatusOK, Body: entry.Payload, FromCache: true}, nil
	}

	m, err := c.store.Enqueue(PendingMutation{
		Method:         r.method,
		URL:            joinPathQuery(r.path, r.query),
		Body:           r.body,
		Header:         r.header,
		IdempotencyKey: newIdempotencyKey(),
		Timestamp:      time.Now(),
	})
	if err != nil {
		c.notifier.ShowError("Could not save your change for later. Please retry when online.")
		return nil, err
	}

	log.Info().Uint64("id", m.ID).Str("method", m.Method).Str("url", m.URL).
		Msg("pipeline: mutation queued while offline")
	c.notifier.ShowSuccess("You're offline. Your change was saved and will sync automatically.")
	return &Result{StatusCode: http.StatusAccepted, Queued: true, MutationID: m.ID}, nil
}

func (c *Client) buildHTTPRequest(ctx context.Context, r *request) (*http.Request, error) {
	u := c.baseURL + joinPathQuery(r.path, r.query)
	var rd io.Reader
	if r.body != nil {
		rd = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("gplus: build request: %w", err)
	}
	for k, v := range r.header {
		req.Header.Set(k, v)
	}
	return req, nil
}

// ── Built-in pipeline hooks ──────────────────────────────

func (c *Client) attachCredentials(_ context.Context, req *http.Request) error {
	if isAuthPath(req.URL.Path) {
		return nil
	}
	c.creds.Attach(req)
	return nil
}

func (c *Client) bustCache(_ context.Context, req *http.Request) error {
	if req.Method != http.MethodGet {
		return nil
	}
	q := req.URL.Query()
	q.Set(cacheBustParam, fmt.Sprintf("%d", time.Now().UnixMilli()))
	req.URL.RawQuery = q.Encode()
	return nil
}

func (c *Client) harvestCSRF(_ context.Context, _ *http.Request, body []byte) {
	var env tokenEnvelope
	if json.Unmarshal(body, &env) == nil && env.CSRFToken != "" {
		c.creds.RotateCSRF(env.CSRFToken)
	}
}

func (c *Client) cacheRead(_ context.Context, req *http.Request, body []byte) {
	if req.Method != http.MethodGet || isAuthPath(req.URL.Path) {
		return
	}
	err := c.store.PutCache(CacheEntry{
		Key:      cacheKey(req.URL.Path, req.URL.Query()),
		Payload:  append([]byte(nil), body...),
		StoredAt: time.Now(),
	})
	if err != nil {
		// Degrade gracefully: a failed cache write never fails the request.
		log.Warn().Err(err).Str("path", req.URL.Path).Msg("pipeline: cache write failed")
	}
}

// ── Helpers ──────────────────────────────────────────────

func isAuthPath(path string) bool {
	return strings.HasPrefix(path, "/api/auth/")
}

// cacheKey derives the cache key from the endpoint path and its query,
// excluding the cache-busting parameter so it never fragments the cache.
func cacheKey(path string, query url.Values) string {
	filtered := url.Values{}
	for k, vs := range query {
		if k == cacheBustParam {
			continue
		}
		filtered[k] = vs
	}
	if len(filtered) == 0 {
		return path
	}
	return path + "?" + filtered.Encode()
}

func joinPathQuery(path string, query url.Values) string {
	if len(query) == 0 {
		return path
	}
	return path + "?" + query.Encode()
}

func decodeAPIError(body []byte) *APIError {
	var e APIError
	if err := json.Unmarshal(body, &e); err != nil || e.Message == "" {
		return nil
	}
	return &e
}
