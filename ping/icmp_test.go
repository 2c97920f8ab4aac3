package ping

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// reply turns an echo request into the matching echo reply.
func reply(t *testing.T, proto int, req []byte, typ icmp.Type) []byte {
	t.Helper()
	m, err := icmp.ParseMessage(proto, req)
	if err != nil {
		t.Fatal(err)
	}
	m.Type = typ
	b, err := m.Marshal(nil)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestEchoRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		target string
		proto  int
		typ    icmp.Type
	}{
		{"ipv4", "192.0.2.1", protocolICMP, ipv4.ICMPTypeEchoReply},
		{"ipv6", "2001:db8::1", protocolIPv6ICMP, ipv6.ICMPTypeEchoReply},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewICMPPinger(netip.MustParseAddr(tt.target), DefaultOptions())
			p.Privileged = true

			const seq = 70000
			req, err := p.echoRequest(seq)
			if err != nil {
				t.Fatal(err)
			}
			got, ok := p.parseEchoReply(tt.proto, reply(t, tt.proto, req, tt.typ))
			if !ok || got != seq {
				t.Errorf("parseEchoReply = %d, %v; want %d", got, ok, seq)
			}
		})
	}
}

func TestParseEchoReplyIgnoresForeign(t *testing.T) {
	p := NewICMPPinger(netip.MustParseAddr("192.0.2.1"), DefaultOptions())
	p.Privileged = true
	other := NewICMPPinger(netip.MustParseAddr("192.0.2.1"), DefaultOptions())
	other.id = p.id
	other.Privileged = true

	req, _ := p.echoRequest(1)
	foreign, _ := other.echoRequest(1)

	tests := []struct {
		name string
		b    []byte
	}{
		{"request", req},
		{"other tracker", reply(t, protocolICMP, foreign, ipv4.ICMPTypeEchoReply)},
		{"garbage", []byte{0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := p.parseEchoReply(protocolICMP, tt.b); ok {
				t.Error("Accepted a packet that is not our echo reply")
			}
		})
	}
}

func TestICMPLoopback(t *testing.T) {
	opts := DefaultOptions()
	opts.Interval = 50 * time.Millisecond
	opts.Timeout = time.Second
	p := NewICMPPinger(netip.MustParseAddr("127.0.0.1"), opts)

	conn, err := p.listen()
	if err != nil {
		t.Skip("ICMP sockets unavailable: ", err)
	}
	conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := NewSink()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, sink) }()

	deadline := time.After(3 * time.Second)
	for sink.Len() < 2 {
		select {
		case <-sink.Ready():
		case <-deadline:
			t.Fatal("Timed out waiting for results")
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	for _, r := range sink.Drain() {
		if !r.Success() {
			t.Errorf("Loopback probe %d timed out", r.Seq)
		}
	}
}

// fakeConn is a PacketConn whose writes are handed to onWrite.
type fakeConn struct {
	net.PacketConn
	onWrite func(b []byte) error
}

func (c *fakeConn) WriteTo(b []byte, _ net.Addr) (int, error) {
	if err := c.onWrite(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func TestICMPProbe(t *testing.T) {
	errUnreachable := errors.New("network is unreachable")

	tests := []struct {
		name      string
		cancelled bool
		timeout   time.Duration
		answer    bool
		writeErr  error
		expected  []bool // success of each emitted result
	}{
		{"reply", false, time.Second, true, nil, []bool{true}},
		{"timeout", false, 20 * time.Millisecond, false, nil, []bool{false}},
		{"send error", false, time.Second, false, errUnreachable, []bool{false}},
		{"aborted while waiting", true, time.Hour, false, nil, nil},
		{"aborted send error", true, time.Hour, false, errUnreachable, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			opts.Timeout = tt.timeout
			p := NewICMPPinger(netip.MustParseAddr("192.0.2.1"), opts)

			const seq = 7
			conn := &fakeConn{onWrite: func([]byte) error {
				if tt.writeErr != nil {
					return tt.writeErr
				}
				if tt.answer {
					p.mu.Lock()
					p.waiters[seq] <- time.Now().Add(5 * time.Millisecond)
					p.mu.Unlock()
				}
				return nil
			}}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tt.cancelled {
				cancel()
			}

			sink := NewSink()
			p.probe(ctx, conn, seq, sink)

			results := sink.Drain()
			if len(results) != len(tt.expected) {
				t.Fatalf("Got %d results, want %d", len(results), len(tt.expected))
			}
			for i, r := range results {
				if r.Seq != seq {
					t.Errorf("Seq = %d", r.Seq)
				}
				if r.Success() != tt.expected[i] {
					t.Errorf("Success() = %v, want %v", r.Success(), tt.expected[i])
				}
			}
			if len(p.waiters) != 0 {
				t.Errorf("%d waiters left registered", len(p.waiters))
			}
		})
	}
}
