package gplus

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key prefixes partition the store: cached read responses, session/token
// material, and the pending-mutation queue. Queue keys embed a big-endian
// sequence number so lexicographic iteration order equals insertion order.
const (
	prefixCache   = "c:"
	prefixSession = "s:"
	prefixQueue   = "q:"
	keyQueueSeq   = "m:queue_seq"
)

// CacheEntry is the last-known-good response body for a read endpoint. At
// most one entry exists per key; writes overwrite.
type CacheEntry struct {
	Key      string          `json:"key"`
	Payload  json.RawMessage `json:"payload"`
	StoredAt time.Time       `json:"storedAt"`
}

// PendingMutation is a write captured while offline, described completely
// enough to reissue. Credential headers are not captured; they are attached
// fresh at replay time.
type PendingMutation struct {
	ID             uint64            `json:"id"`
	Method         string            `json:"method"`
	URL            string            `json:"url"`
	Body           json.RawMessage   `json:"body,omitempty"`
	Header         map[string]string `json:"headers,omitempty"`
	IdempotencyKey string            `json:"idempotencyKey"`
	Timestamp      time.Time         `json:"timestamp"`
	Synced         bool              `json:"synced"`
}

// Store is the crash-consistent local store backing the offline layer. It is
// scoped to a data directory and survives restarts. goleveldb's file lock
// enforces single-process ownership of the queue.
type Store struct {
	db *leveldb.DB

	// guards sequence allocation so concurrent enqueues cannot observe the
	// same counter value
	mu sync.Mutex
}

// OpenStore opens (or creates) the store at dir.
func OpenStore(dir string) (*Store, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStoreUnavailable, dir, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ── Cached reads ─────────────────────────────────────────

// PutCache upserts the cache entry keyed by entry.Key.
func (s *Store) PutCache(entry CacheEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("gplus: encode cache entry: %w", err)
	}
	if err := s.db.Put([]byte(prefixCache+entry.Key), b, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// GetCache returns the cached entry for key, if any.
func (s *Store) GetCache(key string) (CacheEntry, bool, error) {
	b, err := s.db.Get([]byte(prefixCache+key), nil)
	if err == leveldb.ErrNotFound {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var entry CacheEntry
	if err := json.Unmarshal(b, &entry); err != nil {
		return CacheEntry{}, false, fmt.Errorf("gplus: decode cache entry: %w", err)
	}
	return entry, true, nil
}

// CompactCache deletes every cached read entry. The layer applies no
// automatic eviction; this is the explicit maintenance hook.
func (s *Store) CompactCache() error {
	batch := new(leveldb.Batch)
	it := s.db.NewIterator(util.BytesPrefix([]byte(prefixCache)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// ── Session ──────────────────────────────────────────────

// PutSession stores a session value (token material, user metadata).
func (s *Store) PutSession(key string, value []byte) error {
	if err := s.db.Put([]byte(prefixSession+key), value, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// GetSession returns a session value, if present.
func (s *Store) GetSession(key string) ([]byte, bool, error) {
	b, err := s.db.Get([]byte(prefixSession+key), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return b, true, nil
}

// DeleteSession removes a session value.
func (s *Store) DeleteSession(key string) error {
	if err := s.db.Delete([]byte(prefixSession+key), nil); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// ── Pending mutations ────────────────────────────────────

func queueKey(id uint64) []byte {
	k := make([]byte, len(prefixQueue)+8)
	copy(k, prefixQueue)
	binary.BigEndian.PutUint64(k[len(prefixQueue):], id)
	return k
}

// Enqueue assigns the next sequence id to m and persists it. The counter
// update and the record insert share one batch, so a crash cannot leave the
// counter ahead of a missing record.
func (s *Store) Enqueue(m PendingMutation) (PendingMutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := uint64(1)
	if b, err := s.db.Get([]byte(keyQueueSeq), nil); err == nil && len(b) == 8 {
		seq = binary.BigEndian.Uint64(b) + 1
	} else if err != nil && err != leveldb.ErrNotFound {
		return m, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	m.ID = seq
	m.Synced = false
	rec, err := json.Marshal(m)
	if err != nil {
		return m, fmt.Errorf("gplus: encode mutation: %w", err)
	}

	var seqb [8]byte
	binary.BigEndian.PutUint64(seqb[:], seq)

	batch := new(leveldb.Batch)
	batch.Put([]byte(keyQueueSeq), seqb[:])
	batch.Put(queueKey(seq), rec)
	if err := s.db.Write(batch, nil); err != nil {
		return m, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return m, nil
}

// PendingMutations returns every queued mutation in insertion (FIFO) order,
// including entries already marked synced but not yet deleted.
func (s *Store) PendingMutations() ([]PendingMutation, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte(prefixQueue)), nil)
	defer it.Release()

	var out []PendingMutation
	for it.Next() {
		var m PendingMutation
		if err := json.Unmarshal(it.Value(), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return out, nil
}

// MarkSynced flags a mutation as delivered. The record stays in the queue
// until DeleteMutation, so a crash between the network acknowledgment and the
// delete cannot lose the fact that it was sent.
func (s *Store) MarkSynced(id uint64) error {
	b, err := s.db.Get(queueKey(id), nil)
	if err == leveldb.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var m PendingMutation
	if err := json.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("gplus: decode mutation: %w", err)
	}
	m.Synced = true
	rec, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("gplus: encode mutation: %w", err)
	}
	if err := s.db.Put(queueKey(id), rec, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// DeleteMutation removes a queue entry. Callers must only delete entries
// previously marked synced.
func (s *Store) DeleteMutation(id uint64) error {
	if err := s.db.Delete(queueKey(id), nil); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// QueueDepth returns the number of unsynced pending mutations: the user's
// unacknowledged write intent.
func (s *Store) QueueDepth() (int, error) {
	ms, err := s.PendingMutations()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range ms {
		if !m.Synced {
			n++
		}
	}
	return n, nil
}
