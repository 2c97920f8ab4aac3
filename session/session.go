package session

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/thetooth/pinggraph/config"
	"github.com/thetooth/pinggraph/ping"
	"github.com/thetooth/pinggraph/util"
)

// Session is one running pinger and the sink it reports to.
type Session struct {
	ID      uuid.UUID
	Target  string
	Addr    netip.Addr
	Mode    config.Mode
	Started time.Time

	Sink *ping.Sink

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewPinger builds the pinger for cfg.Mode aimed at addr.
func NewPinger(cfg *config.Config, addr netip.Addr) (ping.Pinger, error) {
	opts := ping.Options{
		Interval:   cfg.Interval.Duration,
		Timeout:    cfg.Timeout.Duration,
		Port:       cfg.Port,
		Privileged: cfg.Privileged,
	}
	if cfg.Interface != "" {
		src, err := util.BindIface(cfg.Interface, addr.Is6())
		if err != nil {
			return nil, fmt.Errorf("interface %s: %w", cfg.Interface, err)
		}
		opts.Source = src
	}

	switch cfg.Mode {
	case config.ModeICMP:
		return ping.NewICMPPinger(addr, opts), nil
	case config.ModeUDPClient:
		return ping.NewUDPPinger(addr, opts), nil
	default:
		return nil, fmt.Errorf("mode %s does not probe a target", cfg.Mode)
	}
}

// Start runs p in the background with a fresh sink.
func Start(ctx context.Context, cfg *config.Config, addr netip.Addr, p ping.Pinger) *Session {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		ID:      uuid.New(),
		Target:  cfg.Host,
		Addr:    addr,
		Mode:    cfg.Mode,
		Started: time.Now(),
		Sink:    ping.NewSink(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	logrus.WithFields(logrus.Fields{
		"session": s.ID,
		"target":  s.Target,
		"addr":    s.Addr,
	}).Info("[ SESSION_START ] mode: ", s.Mode)

	go func() {
		defer close(s.done)
		s.err = p.Run(ctx, s.Sink)
		if s.err != nil {
			logrus.WithField("session", s.ID).Error("[ SESSION_FAIL ] ", s.err)
		}
	}()
	return s
}

// Stop cancels the pinger, waits for every probe goroutine to finish and
// closes the sink so nothing from this session is delivered afterwards.
func (s *Session) Stop() {
	s.cancel()
	<-s.done
	s.Sink.Close()
	logrus.WithField("session", s.ID).Info("[ SESSION_STOP ] target: ", s.Target)
}

// Done is closed when the pinger has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err is the pinger's exit error, valid once Done is closed.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}
