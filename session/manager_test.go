package session_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/thetooth/pinggraph/config"
	"github.com/thetooth/pinggraph/ping"
	"github.com/thetooth/pinggraph/session"
)

// scripted emits a fixed list of results and then idles until cancelled.
type scripted struct {
	results []ping.Result
	stopped chan struct{}
}

func (s *scripted) Run(ctx context.Context, sink *ping.Sink) error {
	for _, r := range s.results {
		sink.Send(r)
	}
	<-ctx.Done()
	close(s.stopped)
	return nil
}

type failing struct{}

func (failing) Run(context.Context, *ping.Sink) error { return errors.New("bind: permission denied") }

func endToEnd() []ping.Result {
	now := time.Now()
	return []ping.Result{
		ping.NewSuccess(1, 50*time.Millisecond, now, 0, false),
		ping.NewSuccess(2, 60*time.Millisecond, now, 50*time.Millisecond, true),
		ping.NewSuccess(3, 210*time.Millisecond, now, 60*time.Millisecond, true),
		ping.NewTimeout(4, now),
	}
}

type fixture struct {
	m        *session.Manager
	pingers  []*scripted
	resolved []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Host = "a.example"
	cfg.BufferMB = 1

	f := &fixture{m: session.NewManager(cfg)}
	f.m.Resolve = func(_ context.Context, host string) (netip.Addr, error) {
		f.resolved = append(f.resolved, host)
		switch host {
		case "a.example":
			return netip.MustParseAddr("192.0.2.1"), nil
		case "b.example":
			return netip.MustParseAddr("192.0.2.2"), nil
		}
		return netip.Addr{}, fmt.Errorf("%w: %s", ping.ErrResolve, host)
	}
	f.m.Build = func(cfg *config.Config, addr netip.Addr) (ping.Pinger, error) {
		p := &scripted{results: endToEnd(), stopped: make(chan struct{})}
		f.pingers = append(f.pingers, p)
		return p, nil
	}
	return f
}

// pollUntil polls until n results have been recorded in total.
func pollUntil(t *testing.T, m *session.Manager, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.History().Len() < n {
		if time.Now().After(deadline) {
			t.Fatalf("History has %d of %d results", m.History().Len(), n)
		}
		m.Poll()
		time.Sleep(time.Millisecond)
	}
}

func TestManagerEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer f.m.Stop()
	pollUntil(t, f.m, 4)

	stats := f.m.History().Stats()
	expected := "Sent: 4 | Rcvd: 3 | Lost: 1 (25.0%) | RTT min/avg/max: 50.0/106.7/210.0 ms"
	if stats.String() != expected {
		t.Errorf("stats = %q", stats.String())
	}

	snap := f.m.Snapshot()
	if snap.Target != "a.example" || snap.Address != "192.0.2.1" || snap.PacketsSent != 4 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestManagerStartResolveFailure(t *testing.T) {
	f := newFixture(t)
	f.m.Config().Host = "nowhere.invalid"

	if err := f.m.Start(context.Background()); !errors.Is(err, ping.ErrResolve) {
		t.Errorf("Start error = %v", err)
	}
	if f.m.Session() != nil || len(f.pingers) != 0 {
		t.Error("A session started without a resolved target")
	}
}

func TestManagerRestartOnTargetChange(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	restarts := 0
	f.m.OnRestart = func(*session.Session) { restarts++ }

	if err := f.m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer f.m.Stop()
	pollUntil(t, f.m, 4)
	first := f.m.Session()

	next := *f.m.Config()
	next.Host = "b.example"
	if err := f.m.Apply(ctx, &next); err != nil {
		t.Fatal(err)
	}

	select {
	case <-f.pingers[0].stopped:
	default:
		t.Error("Old pinger still running after restart")
	}
	if first.Sink.Send(ping.NewTimeout(99, time.Now())) {
		t.Error("Old sink still accepts results")
	}
	if f.m.Session() == first || f.m.Session().ID == first.ID {
		t.Error("Session was not replaced")
	}
	if f.m.Session().Addr != netip.MustParseAddr("192.0.2.2") {
		t.Errorf("New session addr = %v", f.m.Session().Addr)
	}
	if restarts != 1 {
		t.Errorf("OnRestart called %d times", restarts)
	}

	// History restarts from an empty store.
	if f.m.History().Total() > 4 {
		t.Errorf("History kept %d results across restart", f.m.History().Total())
	}
	pollUntil(t, f.m, 4)
	if r, _ := f.m.History().Get(0); r.Seq != 1 {
		t.Errorf("First stable result after restart has seq %d", r.Seq)
	}
	if f.m.History().Stats().Sent != 4 {
		t.Errorf("Statistics were not reset: sent %d", f.m.History().Stats().Sent)
	}
}

func TestManagerKeepsSessionOnResolveFailure(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer f.m.Stop()
	pollUntil(t, f.m, 4)
	first := f.m.Session()

	next := *f.m.Config()
	next.Host = "nowhere.invalid"
	if err := f.m.Apply(ctx, &next); !errors.Is(err, ping.ErrResolve) {
		t.Fatalf("Apply error = %v", err)
	}

	if f.m.Session() != first {
		t.Error("Session replaced despite resolution failure")
	}
	if f.m.Config().Host != "a.example" {
		t.Errorf("Config host = %q", f.m.Config().Host)
	}
	if f.m.History().Len() != 4 {
		t.Errorf("History was cleared: %d results", f.m.History().Len())
	}
	select {
	case <-f.pingers[0].stopped:
		t.Error("Running pinger was stopped")
	default:
	}
}

func TestManagerApplyInPlace(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer f.m.Stop()
	pollUntil(t, f.m, 4)
	first := f.m.Session()

	next := *f.m.Config()
	next.Scale = config.Interval{Duration: time.Second}
	next.BufferMB = 2
	if err := f.m.Apply(ctx, &next); err != nil {
		t.Fatal(err)
	}
	if f.m.Session() != first {
		t.Error("Display change restarted the session")
	}
	if f.m.History().Max() != next.MaxHistory() || f.m.History().Len() != 4 {
		t.Errorf("History max %d len %d", f.m.History().Max(), f.m.History().Len())
	}
	if len(f.resolved) != 1 {
		t.Errorf("Resolved %d times", len(f.resolved))
	}

	bad := next
	bad.Interval = config.Interval{}
	if err := f.m.Apply(ctx, &bad); !errors.Is(err, config.ErrInterval) {
		t.Errorf("Apply of invalid config = %v", err)
	}
}

func TestManagerPauseDiscards(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.m.Pause()
	if err := f.m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer f.m.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for f.m.Session().Sink.Len() < 4 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if n := f.m.Poll(); n != 0 {
		t.Errorf("Poll recorded %d results while paused", n)
	}
	if f.m.History().Len() != 0 || f.m.Session().Sink.Len() != 0 {
		t.Error("Paused results were kept")
	}

	f.m.Resume()
	if f.m.Paused() {
		t.Error("Resume did not resume")
	}
}

func TestManagerRunStopsOnPingerFailure(t *testing.T) {
	f := newFixture(t)
	f.m.Build = func(*config.Config, netip.Addr) (ping.Pinger, error) { return failing{}, nil }

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := f.m.Run(ctx, nil); err == nil || ctx.Err() != nil {
		t.Errorf("Run = %v, ctx = %v", err, ctx.Err())
	}
}

func TestManagerRunUDP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := &ping.Server{Bind: "127.0.0.1"}
	conns, err := srv.Listen()
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve(ctx, conns)
	port := conns[0].LocalAddr().(*net.UDPAddr).Port

	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Mode = config.ModeUDPClient
	cfg.Port = uint16(port)
	cfg.Interval = config.Interval{Duration: 20 * time.Millisecond}
	cfg.StatsPath = t.TempDir() + "/stats.json"
	cfg.StatsRate = config.Interval{Duration: 10 * time.Millisecond}

	m := session.NewManager(cfg)
	results := make(chan ping.Result, 100)
	m.OnResult = func(_ *session.Session, r ping.Result) {
		select {
		case results <- r:
		default:
		}
		if r.Seq == 3 {
			cancel()
		}
	}
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, nil) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not finish")
	}

	close(results)
	n := 0
	for r := range results {
		n++
		if !r.Success() {
			t.Errorf("Loopback probe %d timed out", r.Seq)
		}
	}
	if n < 3 {
		t.Errorf("Recorded %d results", n)
	}
}

func TestManagerRunAppliesReloads(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	restarted := make(chan *session.Session, 1)
	f.m.OnRestart = func(s *session.Session) { restarted <- s }
	if err := f.m.Start(ctx); err != nil {
		t.Fatal(err)
	}

	reloads := make(chan *config.Config)
	done := make(chan error, 1)
	go func() { done <- f.m.Run(ctx, reloads) }()

	next := *f.m.Config()
	next.Host = "b.example"
	reloads <- &next

	select {
	case s := <-restarted:
		if s.Target != "b.example" {
			t.Errorf("Restarted with target %q", s.Target)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Reload did not restart the session")
	}

	cancel()
	if err := <-done; err != nil {
		t.Error(err)
	}
}

func TestManagerRunFollowsStatsPath(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.m.Start(ctx); err != nil {
		t.Fatal(err)
	}

	reloads := make(chan *config.Config)
	done := make(chan error, 1)
	go func() { done <- f.m.Run(ctx, reloads) }()

	dir := t.TempDir()
	path := filepath.Join(dir, "stats.json")
	next := *f.m.Config()
	next.StatsPath = path
	next.StatsRate = config.Interval{Duration: 10 * time.Millisecond}
	reloads <- &next

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(path); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Stats file was not written after the reload")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Clearing the path stops the writes.
	cleared := next
	cleared.StatsPath = ""
	reloads <- &cleared
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := os.Stat(path); err == nil {
		t.Error("Stats file written after the path was cleared")
	}

	cancel()
	if err := <-done; err != nil {
		t.Error(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Left %d files in the stats directory", len(entries))
	}
}
