package session

import (
	"context"
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/thetooth/pinggraph/config"
	"github.com/thetooth/pinggraph/history"
	"github.com/thetooth/pinggraph/ping"
	"github.com/thetooth/pinggraph/statistics"
)

// Manager owns the current session and the history it feeds. All methods
// must be called from a single goroutine, normally the one in Run.
type Manager struct {
	// Resolve turns the configured host into an address.
	Resolve func(ctx context.Context, host string) (netip.Addr, error)

	// Build creates the pinger for a session.
	Build func(cfg *config.Config, addr netip.Addr) (ping.Pinger, error)

	// OnResult is called for every result recorded into the history
	OnResult func(*Session, ping.Result)

	// OnRestart is called after a new session replaced a running one
	OnRestart func(*Session)

	cfg     *config.Config
	current *Session
	history *history.History
	paused  bool
}

func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		Resolve: ping.Resolve,
		Build:   NewPinger,
		cfg:     cfg,
		history: history.New(cfg.MaxHistory()),
	}
}

func (m *Manager) Config() *config.Config { return m.cfg }

func (m *Manager) History() *history.History { return m.history }

// Session is the running session, nil before Start.
func (m *Manager) Session() *Session { return m.current }

// Start resolves the target and starts the first session.
func (m *Manager) Start(ctx context.Context) error {
	addr, err := m.Resolve(ctx, m.cfg.Host)
	if err != nil {
		return err
	}
	p, err := m.Build(m.cfg, addr)
	if err != nil {
		return err
	}
	m.current = Start(ctx, m.cfg, addr, p)
	return nil
}

// Apply switches to next. Changes to the target or the probing parameters
// start a new session with empty history; when the new target cannot be
// resolved the running session is kept and the error returned. Other changes
// are applied in place.
func (m *Manager) Apply(ctx context.Context, next *config.Config) error {
	if err := next.Validate(); err != nil {
		return err
	}

	if !m.cfg.RestartNeeded(next) {
		if next.BufferMB != m.cfg.BufferMB {
			m.history.Resize(next.MaxHistory())
		}
		m.cfg = next
		return nil
	}

	addr, err := m.Resolve(ctx, next.Host)
	if err != nil {
		logrus.WithField("target", next.Host).Warn("[ SESSION_KEEP ] ", err)
		return err
	}
	p, err := m.Build(next, addr)
	if err != nil {
		logrus.WithField("target", next.Host).Warn("[ SESSION_KEEP ] ", err)
		return err
	}

	if m.current != nil {
		m.current.Stop()
	}
	m.history.Reset()
	m.history.Resize(next.MaxHistory())
	m.cfg = next
	m.current = Start(ctx, next, addr, p)

	if handler := m.OnRestart; handler != nil {
		handler(m.current)
	}
	return nil
}

// Pause makes Poll discard results. Probing continues.
func (m *Manager) Pause() { m.paused = true }

func (m *Manager) Resume() { m.paused = false }

func (m *Manager) Paused() bool { return m.paused }

// Poll drains the session sink without blocking and returns how many results
// were recorded.
func (m *Manager) Poll() int {
	if m.current == nil {
		return 0
	}

	var n int
	for _, r := range m.current.Sink.Drain() {
		if m.paused {
			continue
		}
		m.history.Record(r)
		n++
		if handler := m.OnResult; handler != nil {
			handler(m.current, r)
		}
	}
	return n
}

// Snapshot describes the running session for the stats file.
func (m *Manager) Snapshot() statistics.Snapshot {
	s := statistics.Build(m.history.Stats())
	s.Target = m.cfg.Host
	s.Mode = m.cfg.Mode.String()
	s.History = m.history.Len()
	s.HistoryBase = m.history.Base()
	if m.current != nil {
		s.Session = m.current.ID.String()
		s.Address = m.current.Addr.String()
	}
	return s
}

// Stop ends the running session.
func (m *Manager) Stop() {
	if m.current != nil {
		m.current.Stop()
	}
}

// Run consumes results until ctx is cancelled or the pinger fails to set up
// its socket. Configurations received on reloads are applied as they come.
func (m *Manager) Run(ctx context.Context, reloads <-chan *config.Config) error {
	defer m.Stop()

	// The stats ticker follows the current config, so it is rebuilt when a
	// reload changes the path or rate.
	var (
		stats  *time.Ticker
		statsC <-chan time.Time
	)
	resetStats := func() {
		if stats != nil {
			stats.Stop()
			stats, statsC = nil, nil
		}
		if m.cfg.StatsPath != "" {
			stats = time.NewTicker(m.cfg.StatsRate.Duration)
			statsC = stats.C
		}
	}
	resetStats()
	defer func() {
		if stats != nil {
			stats.Stop()
		}
	}()

	for {
		var ready <-chan struct{}
		var done <-chan struct{}
		if m.current != nil {
			ready = m.current.Sink.Ready()
			done = m.current.Done()
		}

		select {
		case <-ctx.Done():
			m.Poll()
			return nil

		case <-ready:
			m.Poll()

		case <-done:
			m.Poll()
			if err := m.current.Err(); err != nil {
				return err
			}
			return nil

		case next, ok := <-reloads:
			if !ok {
				reloads = nil
				continue
			}
			prev := m.cfg
			if err := m.Apply(ctx, next); err != nil {
				logrus.Warn("[ CONFIG_RELOAD ] not applied: ", err)
				continue
			}
			if m.cfg.StatsPath != prev.StatsPath || m.cfg.StatsRate != prev.StatsRate {
				resetStats()
			}

		case <-statsC:
			if m.cfg.StatsPath == "" {
				continue
			}
			if err := m.Snapshot().Write(m.cfg.StatsPath); err != nil {
				logrus.Warn("Writing statistics: ", err)
			}
		}
	}
}
