package ping

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sync/errgroup"
)

const (
	trackerLength    = len(uuid.UUID{})
	seqLength        = 8
	protocolICMP     = 1
	protocolIPv6ICMP = 58
)

var (
	ipv4Proto = map[bool]string{true: "ip4:icmp", false: "udp4"}
	ipv6Proto = map[bool]string{true: "ip6:ipv6-icmp", false: "udp6"}
)

// ICMPPinger sends echo requests and measures the reply RTT locally. Every
// probe runs on its own goroutine with its own timeout, so a slow reply never
// delays the next probe.
type ICMPPinger struct {
	Target netip.Addr
	Options

	id      int
	tracker uuid.UUID
	slot    rttSlot

	mu      sync.Mutex
	waiters map[uint64]chan time.Time
}

func NewICMPPinger(target netip.Addr, opts Options) *ICMPPinger {
	r := rand.New(rand.NewSource(getSeed()))
	return &ICMPPinger{
		Target:  target.Unmap(),
		Options: opts,
		id:      r.Intn(math.MaxUint16),
		tracker: uuid.New(),
		waiters: make(map[uint64]chan time.Time),
	}
}

func (p *ICMPPinger) Run(ctx context.Context, sink *Sink) error {
	conn, err := p.listen()
	if err != nil {
		logrus.Error("Unable to open ICMP socket: ", err)
		return fmt.Errorf("icmp listen: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return conn.Close()
	})

	g.Go(func() error {
		return p.recvLoop(ctx, conn)
	})

	g.Go(func() error {
		interval := time.NewTicker(p.Interval)
		defer interval.Stop()

		var seq uint64
		for {
			seq++
			s := seq
			g.Go(func() error {
				p.probe(ctx, conn, s, sink)
				return nil
			})

			select {
			case <-ctx.Done():
				return nil
			case <-interval.C:
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

func (p *ICMPPinger) listen() (*icmp.PacketConn, error) {
	if p.Target.Is4() {
		src := p.Source
		if src == "" {
			src = "0.0.0.0"
		}
		return icmp.ListenPacket(ipv4Proto[p.Privileged], src)
	}
	src := p.Source
	if src == "" {
		src = "::"
	}
	return icmp.ListenPacket(ipv6Proto[p.Privileged], src)
}

func (p *ICMPPinger) destination() net.Addr {
	ip := net.IP(p.Target.AsSlice())
	if p.Privileged {
		return &net.IPAddr{IP: ip, Zone: p.Target.Zone()}
	}
	return &net.UDPAddr{IP: ip, Zone: p.Target.Zone()}
}

// probe sends one echo request and waits for its reply or timeout.
func (p *ICMPPinger) probe(ctx context.Context, conn net.PacketConn, seq uint64, sink *Sink) {
	reply := make(chan time.Time, 1)
	p.mu.Lock()
	p.waiters[seq] = reply
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.waiters, seq)
		p.mu.Unlock()
	}()

	sentAt := time.Now()
	msg, err := p.echoRequest(seq)
	if err == nil {
		err = writeTo(conn, msg, p.destination())
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logrus.Warn("Sending packet: ", err)
		sink.Send(p.slot.timeout(seq, sentAt))
		return
	}

	timer := time.NewTimer(p.Timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case receivedAt := <-reply:
		sink.Send(p.slot.success(seq, receivedAt.Sub(sentAt), sentAt))
	case <-timer.C:
		sink.Send(p.slot.timeout(seq, sentAt))
	}
}

func (p *ICMPPinger) recvLoop(ctx context.Context, conn *icmp.PacketConn) error {
	proto := protocolICMP
	if !p.Target.Is4() {
		proto = protocolIPv6ICMP
	}

	buf := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(buf)
		receivedAt := time.Now()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logrus.Warn("Received packet: ", err)
			continue
		}

		seq, ok := p.parseEchoReply(proto, buf[:n])
		if !ok {
			continue
		}

		p.mu.Lock()
		waiter, inflight := p.waiters[seq]
		p.mu.Unlock()
		if !inflight {
			// Already timed out or a duplicate.
			continue
		}
		select {
		case waiter <- receivedAt:
		default:
		}
	}
}

// echoRequest marshals an echo request carrying the session tracker and the
// full sequence number, since the ICMP header only has room for 16 bits.
func (p *ICMPPinger) echoRequest(seq uint64) ([]byte, error) {
	data := make([]byte, trackerLength+seqLength)
	copy(data, p.tracker[:])
	binary.BigEndian.PutUint64(data[trackerLength:], seq)

	var typ icmp.Type = ipv4.ICMPTypeEcho
	if !p.Target.Is4() {
		typ = ipv6.ICMPTypeEchoRequest
	}

	msg := &icmp.Message{
		Type: typ,
		Code: 0,
		Body: &icmp.Echo{
			ID:   p.id,
			Seq:  int(seq & 0xffff),
			Data: data,
		},
	}
	return msg.Marshal(nil)
}

// parseEchoReply returns the sequence of an echo reply belonging to this
// pinger. Anything else on the socket is ignored.
func (p *ICMPPinger) parseEchoReply(proto int, b []byte) (uint64, bool) {
	m, err := icmp.ParseMessage(proto, b)
	if err != nil {
		logrus.Debug("Error parsing icmp message: ", err)
		return 0, false
	}
	if m.Type != ipv4.ICMPTypeEchoReply && m.Type != ipv6.ICMPTypeEchoReply {
		// Not an echo reply, ignore it
		return 0, false
	}

	pkt, ok := m.Body.(*icmp.Echo)
	if !ok {
		return 0, false
	}
	// Unprivileged sockets have the identifier rewritten by the kernel.
	if p.Privileged && pkt.ID != p.id {
		return 0, false
	}
	if len(pkt.Data) < trackerLength+seqLength {
		return 0, false
	}

	var tracker uuid.UUID
	if err := tracker.UnmarshalBinary(pkt.Data[:trackerLength]); err != nil || tracker != p.tracker {
		return 0, false
	}
	return binary.BigEndian.Uint64(pkt.Data[trackerLength:]), true
}

func writeTo(conn net.PacketConn, b []byte, dst net.Addr) (err error) {
	for attempt := 0; attempt < 3; attempt++ {
		if _, err = conn.WriteTo(b, dst); err != nil {
			var neterr *net.OpError
			if errors.As(err, &neterr) && errors.Is(neterr.Err, syscall.ENOBUFS) {
				continue
			}
		}
		break
	}
	return
}

var seed int64 = time.Now().UnixNano()

// getSeed returns a goroutine-safe unique seed
func getSeed() int64 {
	return atomic.AddInt64(&seed, 1)
}
