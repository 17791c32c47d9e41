package gplus

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SyncReport summarizes one replay pass over the pending-mutation queue.
type SyncReport struct {
	Replayed int
	Failed   int
	Skipped  int // already-synced entries cleaned up without resending
}

type syncState struct {
	mu      sync.Mutex
	running bool
}

// SyncNow drains the pending-mutation queue in insertion order, reissuing
// each captured request through the normal dispatch path with the offline
// short-circuit bypassed. It is triggered automatically on reconnect and may
// be invoked manually ("sync now").
//
// Delivery is two-phase: an entry is marked synced after the server
// acknowledges it and deleted afterwards, so a crash between the two cannot
// lose the fact that it was sent. The cost is at-least-once delivery, which
// the per-entry idempotency key lets the server deduplicate.
//
// A failed entry stays queued, unsynced, and does not block the rest of the
// batch.
func (c *Client) SyncNow(ctx context.Context) (SyncReport, error) {
	c.syncState.mu.Lock()
	if c.syncState.running {
		c.syncState.mu.Unlock()
		return SyncReport{}, nil
	}
	c.syncState.running = true
	c.syncState.mu.Unlock()
	defer func() {
		c.syncState.mu.Lock()
		c.syncState.running = false
		c.syncState.mu.Unlock()
	}()

	mutations, err := c.store.PendingMutations()
	if err != nil {
		return SyncReport{}, err
	}
	if len(mutations) == 0 {
		return SyncReport{}, nil
	}

	log.Info().Int("pending", len(mutations)).Msg("sync: replaying queued mutations")

	var report SyncReport
	for _, m := range mutations {
		if m.Synced {
			// Acknowledged in a previous pass but not yet deleted (crash
			// window); clean up without resending.
			if err := c.store.DeleteMutation(m.ID); err == nil {
				report.Skipped++
			}
			continue
		}

		if _, err := c.replay(ctx, m); err != nil {
			report.Failed++
			log.Warn().Err(err).Uint64("id", m.ID).Str("url", m.URL).
				Msg("sync: replay failed, entry stays queued")
			continue
		}

		if err := c.store.MarkSynced(m.ID); err != nil {
			log.Warn().Err(err).Uint64("id", m.ID).Msg("sync: mark synced failed")
			continue
		}
		if err := c.store.DeleteMutation(m.ID); err != nil {
			log.Warn().Err(err).Uint64("id", m.ID).Msg("sync: delete failed, will clean up next pass")
		}
		report.Replayed++
	}

	if report.Replayed > 0 {
		c.notifier.ShowSuccess(fmt.Sprintf("Synced %d queued change(s).", report.Replayed))
	}
	log.Info().Int("replayed", report.Replayed).Int("failed", report.Failed).
		Int("skipped", report.Skipped).Msg("sync: replay pass complete")
	return report, nil
}

// replay rebuilds the captured request and dispatches it with the offline
// short-circuit bypassed. Credentials are attached fresh; the captured
// idempotency key rides along so duplicate delivery is detectable
// server-side.
func (c *Client) replay(ctx context.Context, m PendingMutation) (*Result, error) {
	path := m.URL
	var query url.Values
	if i := strings.IndexByte(m.URL, '?'); i >= 0 {
		path = m.URL[:i]
		q, err := url.ParseQuery(m.URL[i+1:])
		if err != nil {
			return nil, fmt.Errorf("gplus: corrupt queued mutation %d: %w", m.ID, err)
		}
		query = q
	}

	header := make(map[string]string, len(m.Header)+1)
	for k, v := range m.Header {
		header[k] = v
	}
	header[headerIdempotency] = m.IdempotencyKey

	return c.dispatch(ctx, &request{
		method: m.Method,
		path:   path,
		query:  query,
		body:   m.Body,
		header: header,
		replay: true,
	}, false)
}

func newIdempotencyKey() string {
	return "gplus-" + uuid.NewString()
}
