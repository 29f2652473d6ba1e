package connectivity

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"payvault/internal/config"
	"payvault/internal/domain"
	"payvault/internal/events"

	"github.com/rs/zerolog"
)

// Monitor tracks whether the remote API is reachable. It periodically probes
// the health endpoint, accepts externally reported state changes, and on an
// offline-to-online transition waits out a short debounce before announcing
// the change and triggering a sync pass. Flapping links inside the debounce
// window produce no events at all.
type Monitor struct {
	healthURL string
	http      *http.Client
	interval  time.Duration
	debounce  time.Duration
	backoff   BackoffPolicy

	bus    *events.Bus
	syncer domain.Syncer
	logger *zerolog.Logger

	online  atomic.Bool
	reports chan bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewMonitor(api config.APIConfig, cfg config.ConnectivityConfig, syncCfg config.SyncConfig, bus *events.Bus, syncer domain.Syncer, logger *zerolog.Logger) *Monitor {
	interval := time.Duration(cfg.ProbeIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	timeout := time.Duration(cfg.ProbeTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	m := &Monitor{
		healthURL: strings.TrimRight(api.BaseURL, "/") + api.HealthPath,
		http:      &http.Client{Timeout: timeout},
		interval:  interval,
		debounce:  syncCfg.Debounce(),
		backoff: BackoffPolicy{
			InitialDelay:  interval,
			MaxDelay:      5 * time.Minute,
			BackoffFactor: 2,
		},
		bus:     bus,
		syncer:  syncer,
		logger:  logger,
		reports: make(chan bool, 8),
	}
	// Assume online until a probe says otherwise, matching a fresh start
	// with the network up.
	m.online.Store(true)
	return m
}

// AttachSyncer binds the sync trigger. The monitor is built before the
// engine (the engine needs it as its connectivity source), so the trigger
// arrives late. Must be called before Start.
func (m *Monitor) AttachSyncer(s domain.Syncer) {
	m.syncer = s
}

// Online reports the last settled state.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Report feeds an externally observed state change (OS network change,
// a request-level transport failure) into the monitor. The loop settles it
// through the same debounce as probe results.
func (m *Monitor) Report(online bool) {
	select {
	case m.reports <- online:
	default:
		// A full channel means the loop already has fresher signals queued.
	}
}

// Start launches the probe loop. Call Close to stop it.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.loop(ctx)
	}()
}

func (m *Monitor) loop(ctx context.Context) {
	failStreak := 0
	timer := time.NewTimer(0) // immediate first probe
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case reported := <-m.reports:
			m.settle(ctx, reported)
			if reported {
				failStreak = 0
			}

		case <-timer.C:
			ok := m.probe(ctx)
			if ok {
				failStreak = 0
				timer.Reset(m.interval)
			} else {
				failStreak++
				timer.Reset(m.backoff.NextDelay(failStreak))
			}
			m.settle(ctx, ok)
		}
	}
}

// settle applies a new observation, debouncing the offline-to-online edge.
func (m *Monitor) settle(ctx context.Context, observed bool) {
	current := m.online.Load()
	if observed == current {
		return
	}

	if !observed {
		// Offline takes effect immediately: queue-only mode must start now.
		m.online.Store(false)
		m.logger.Warn().Msg("connection lost, operations will be queued")
		m.bus.Notify(events.Event{Type: events.EventOffline})
		return
	}

	if m.debounce > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.debounce):
		}
		// The link had the whole window to drop again.
		if !m.probe(ctx) {
			return
		}
	}

	m.online.Store(true)
	m.logger.Info().Msg("connection restored, starting sync")
	m.bus.Notify(events.Event{Type: events.EventOnline})

	if m.syncer != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if err := m.syncer.Sync(ctx); err != nil {
				m.logger.Error().Err(err).Msg("sync after reconnect failed")
			}
		}()
	}
}

// probe considers the API reachable when the health endpoint answers at all
// with anything below 500. Auth failures still mean the network is up.
func (m *Monitor) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.healthURL, nil)
	if err != nil {
		return false
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode < 500
}

// Close stops the probe loop and waits for in-flight work.
func (m *Monitor) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
