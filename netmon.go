package gplus

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// ConnectivityState is a snapshot of the monitor's view of the network.
type ConnectivityState struct {
	Online       bool
	LastOnlineAt time.Time
	Probing      bool
}

// Monitor combines passive connectivity signals with active reachability
// probes. Passive signals alone are unreliable: a device can report online
// while partitioned from the service, so a cheap probe against a known
// endpoint is the authority when it succeeds. When the probe fails the
// passive signal wins, so one flaky probe never flags a healthy link
// offline.
type Monitor struct {
	probeURL     string
	httpClient   *http.Client
	probeTimeout time.Duration
	interval     time.Duration

	mu            sync.Mutex
	online        bool
	passiveOnline bool
	lastOnlineAt  time.Time
	probing       bool

	group singleflight.Group

	onOnline  []func()
	onOffline []func()

	stopOnce sync.Once
	stopCh   chan struct{}

	now func() time.Time
}

// NewMonitor creates a monitor probing probeURL. The monitor starts
// optimistic (online) until a signal says otherwise.
func NewMonitor(probeURL string, httpClient *http.Client, probeTimeout, interval time.Duration) *Monitor {
	return &Monitor{
		probeURL:      probeURL,
		httpClient:    httpClient,
		probeTimeout:  probeTimeout,
		interval:      interval,
		online:        true,
		passiveOnline: true,
		lastOnlineAt:  time.Now(),
		stopCh:        make(chan struct{}),
		now:           time.Now,
	}
}

// Start launches the periodic probe loop. It returns immediately.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				_, _ = m.CheckConnection(ctx)
			}
		}
	}()
}

// Stop halts the periodic probe loop.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// OnOnline registers a callback fired on each offline-to-online transition.
func (m *Monitor) OnOnline(f func()) {
	m.mu.Lock()
	m.onOnline = append(m.onOnline, f)
	m.mu.Unlock()
}

// OnOffline registers a callback fired on each online-to-offline transition.
func (m *Monitor) OnOffline(f func()) {
	m.mu.Lock()
	m.onOffline = append(m.onOffline, f)
	m.mu.Unlock()
}

// Online returns the monitor's current combined view.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// IsChecking reports whether a probe is currently in flight.
func (m *Monitor) IsChecking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.probing
}

// State returns a snapshot for UI banners.
func (m *Monitor) State() ConnectivityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ConnectivityState{Online: m.online, LastOnlineAt: m.lastOnlineAt, Probing: m.probing}
}

// TimeSinceOnline reports how long the client has been without confirmed
// connectivity, for "offline since" messaging.
func (m *Monitor) TimeSinceOnline() (minutes, seconds int) {
	m.mu.Lock()
	last := m.lastOnlineAt
	m.mu.Unlock()
	if last.IsZero() {
		return 0, 0
	}
	d := m.now().Sub(last)
	if d < 0 {
		return 0, 0
	}
	return int(d.Minutes()), int(d.Seconds()) % 60
}

// SetPassiveOnline records a passive connectivity event (the platform's
// online/offline signal) and immediately re-probes to confirm it.
func (m *Monitor) SetPassiveOnline(online bool) {
	m.mu.Lock()
	m.passiveOnline = online
	m.mu.Unlock()
	_, _ = m.CheckConnection(context.Background())
}

// CheckConnection issues a bounded-timeout reachability probe. Overlapping
// calls share one in-flight probe. On probe success the monitor is online
// and lastOnlineAt advances; on failure the passive signal decides.
func (m *Monitor) CheckConnection(ctx context.Context) (bool, error) {
	online, err, _ := m.group.Do("probe", func() (any, error) {
		m.mu.Lock()
		m.probing = true
		m.mu.Unlock()
		defer func() {
			m.mu.Lock()
			m.probing = false
			m.mu.Unlock()
		}()

		reachable := m.probe(ctx)

		m.mu.Lock()
		was := m.online
		if reachable {
			m.online = true
			m.lastOnlineAt = m.now()
		} else {
			// A failed probe falls back to the passive signal rather than
			// declaring offline outright.
			m.online = m.passiveOnline
		}
		now := m.online
		var fire []func()
		if !was && now {
			fire = append([]func(){}, m.onOnline...)
		} else if was && !now {
			fire = append([]func(){}, m.onOffline...)
		}
		m.mu.Unlock()

		if !was && now {
			log.Info().Msg("network: connectivity restored")
		} else if was && !now {
			log.Info().Msg("network: connectivity lost")
		}
		for _, f := range fire {
			f()
		}
		return now, nil
	})
	if err != nil {
		return false, err
	}
	return online.(bool), nil
}

func (m *Monitor) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}
