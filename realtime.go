package gplus

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"
)

// ChannelState is the realtime connection state.
type ChannelState string

const (
	ChannelConnecting ChannelState = "connecting"
	ChannelOpen       ChannelState = "open"
	ChannelClosed     ChannelState = "closed"
)

const (
	defaultRetryDelay  = 2 * time.Second
	defaultMaxAttempts = 5
)

// Envelope is the wire format of push messages: an opaque payload dispatched
// by its type discriminator.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MessageHandler receives the payload of a push message.
type MessageHandler func(payload json.RawMessage)

// Channel is the persistent push socket, keyed by the current user. Its
// lifecycle is independent of the HTTP pipeline: a dropped connection is
// retried with linear backoff (retryDelay × attempt) up to maxAttempts,
// and the attempt counter resets on every successful open. The channel is
// terminal only after an explicit Close.
type Channel struct {
	url         string
	retryDelay  time.Duration
	maxAttempts int

	mu       sync.Mutex
	conn     *websocket.Conn
	state    ChannelState
	closed   bool
	attempts int
	cancel   context.CancelFunc

	handlerMu sync.RWMutex
	handlers  map[string][]MessageHandler
}

// ChannelOption customizes the realtime channel.
type ChannelOption func(*Channel)

// WithRetryDelay sets the base reconnect delay (multiplied by the attempt
// number).
func WithRetryDelay(d time.Duration) ChannelOption {
	return func(ch *Channel) { ch.retryDelay = d }
}

// WithMaxAttempts caps consecutive reconnect attempts.
func WithMaxAttempts(n int) ChannelOption {
	return func(ch *Channel) { ch.maxAttempts = n }
}

// NewChannel creates the push channel for userID against the client's
// service. Call Connect to open it.
func (c *Client) NewChannel(userID string, opts ...ChannelOption) *Channel {
	base := strings.Replace(c.baseURL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)

	ch := &Channel{
		url:         base + "/ws/" + userID,
		retryDelay:  defaultRetryDelay,
		maxAttempts: defaultMaxAttempts,
		state:       ChannelClosed,
		handlers:    make(map[string][]MessageHandler),
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch
}

// On registers a handler for a message type.
func (ch *Channel) On(messageType string, h MessageHandler) {
	ch.handlerMu.Lock()
	ch.handlers[messageType] = append(ch.handlers[messageType], h)
	ch.handlerMu.Unlock()
}

// State returns the current connection state.
func (ch *Channel) State() ChannelState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// Connect opens the socket. Already-open or connecting channels are a no-op.
func (ch *Channel) Connect(ctx context.Context) error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return ErrChannelClosed
	}
	if ch.state == ChannelOpen || ch.state == ChannelConnecting {
		ch.mu.Unlock()
		return nil
	}
	ch.state = ChannelConnecting
	ch.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, ch.url, nil)
	if err != nil {
		ch.mu.Lock()
		ch.state = ChannelClosed
		ch.mu.Unlock()
		ch.scheduleReconnect(ctx)
		return err
	}

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ch.mu.Lock()
	if ch.cancel != nil {
		ch.cancel()
	}
	ch.conn = conn
	ch.state = ChannelOpen
	ch.attempts = 0
	ch.cancel = cancel
	ch.mu.Unlock()

	log.Info().Str("url", ch.url).Msg("realtime: channel open")
	go ch.readLoop(connCtx, conn)
	return nil
}

// Close terminates the channel permanently; no reconnect follows.
func (ch *Channel) Close() error {
	ch.mu.Lock()
	ch.closed = true
	ch.state = ChannelClosed
	conn := ch.conn
	ch.conn = nil
	if ch.cancel != nil {
		ch.cancel()
		ch.cancel = nil
	}
	ch.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client closed")
	}
	return nil
}

// Send writes v as JSON to the socket. If the socket is not open it returns
// false and triggers a fresh connection attempt rather than silently
// dropping the message.
func (ch *Channel) Send(ctx context.Context, v any) bool {
	ch.mu.Lock()
	conn := ch.conn
	open := ch.state == ChannelOpen
	closed := ch.closed
	ch.mu.Unlock()

	if !open || conn == nil {
		if !closed {
			go func() { _ = ch.Connect(context.WithoutCancel(ctx)) }()
		}
		return false
	}

	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		log.Warn().Err(err).Msg("realtime: send failed")
		return false
	}
	return true
}

func (ch *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			ch.mu.Lock()
			intentional := ch.closed
			if ch.conn == conn {
				ch.conn = nil
				ch.state = ChannelClosed
			}
			ch.mu.Unlock()

			if intentional {
				return
			}
			log.Warn().Err(err).Msg("realtime: channel dropped")
			ch.scheduleReconnect(ctx)
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil || env.Type == "" {
			continue
		}
		ch.handlerMu.RLock()
		handlers := append([]MessageHandler(nil), ch.handlers[env.Type]...)
		ch.handlerMu.RUnlock()
		for _, h := range handlers {
			h(env.Payload)
		}
	}
}

// scheduleReconnect arms the next attempt with linear backoff. Attempts past
// the cap leave the channel closed until the next explicit Connect or Send.
func (ch *Channel) scheduleReconnect(ctx context.Context) {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.attempts++
	attempt := ch.attempts
	ch.mu.Unlock()

	if attempt > ch.maxAttempts {
		log.Warn().Int("attempts", attempt-1).Msg("realtime: reconnect attempts exhausted")
		return
	}

	delay := ch.nextDelay(attempt)
	log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("realtime: reconnect scheduled")

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		_ = ch.Connect(context.WithoutCancel(ctx))
	}()
}

func (ch *Channel) nextDelay(attempt int) time.Duration {
	return ch.retryDelay * time.Duration(attempt)
}
