package ping

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// SweepInterval is how often unanswered UDP probes are checked for expiry.
const SweepInterval = 100 * time.Millisecond

// UDPPinger probes a UDP echo server. Sending, receiving and expiry run as
// independent loops sharing one pending table, so the sender never waits for
// a reply.
type UDPPinger struct {
	Target netip.AddrPort
	Options
}

func NewUDPPinger(target netip.Addr, opts Options) *UDPPinger {
	return &UDPPinger{
		Target:  netip.AddrPortFrom(target.Unmap(), opts.Port),
		Options: opts,
	}
}

func (p *UDPPinger) Run(ctx context.Context, sink *Sink) error {
	conn, err := p.dial()
	if err != nil {
		logrus.Error("Unable to open UDP socket: ", err)
		return fmt.Errorf("udp dial %v: %w", p.Target, err)
	}

	var slot rttSlot
	pending := newPendingTable(p.Timeout, func(seq uint64, sentAt time.Time) {
		sink.Send(slot.timeout(seq, sentAt))
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return conn.Close()
	})

	g.Go(func() error {
		return p.sendLoop(ctx, conn, pending)
	})

	g.Go(func() error {
		return p.recvLoop(ctx, conn, pending, &slot, sink)
	})

	g.Go(func() error {
		sweep := time.NewTicker(SweepInterval)
		defer sweep.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-sweep.C:
				pending.sweep()
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// dial opens a socket of the target's address family connected to it, so
// datagrams from anyone else are filtered by the kernel.
func (p *UDPPinger) dial() (*net.UDPConn, error) {
	network := "udp4"
	if !p.Target.Addr().Is4() {
		network = "udp6"
	}

	var laddr *net.UDPAddr
	if p.Source != "" {
		src, err := netip.ParseAddr(p.Source)
		if err != nil {
			return nil, fmt.Errorf("invalid source address %q: %w", p.Source, err)
		}
		laddr = net.UDPAddrFromAddrPort(netip.AddrPortFrom(src, 0))
	}
	return net.DialUDP(network, laddr, net.UDPAddrFromAddrPort(p.Target))
}

func (p *UDPPinger) sendLoop(ctx context.Context, conn *net.UDPConn, pending *pendingTable) error {
	interval := time.NewTicker(p.Interval)
	defer interval.Stop()

	start := time.Now()
	var seq uint64
	for {
		seq++
		sentAt := time.Now()
		pkt := Encode(seq, uint64(sentAt.Sub(start).Microseconds()))
		pending.add(seq, sentAt)

		// A failed send stays pending and is reported by the sweep.
		if _, err := conn.Write(pkt[:]); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !isConnReset(err) {
				logrus.WithField("seq", seq).Warn("Sending packet: ", err)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-interval.C:
		}
	}
}

func (p *UDPPinger) recvLoop(ctx context.Context, conn *net.UDPConn, pending *pendingTable, slot *rttSlot, sink *Sink) error {
	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		receivedAt := time.Now()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if isConnReset(err) {
				logrus.Trace("Suppressed connection reset: ", err)
				continue
			}
			logrus.Warn("Received packet: ", err)
			continue
		}

		seq, _, ok := Decode(buf[:n])
		if !ok {
			continue
		}
		sentAt, ok := pending.resolve(seq)
		if !ok {
			logrus.WithField("seq", seq).Debug("Dropping late or unknown reply")
			continue
		}
		sink.Send(slot.success(seq, receivedAt.Sub(sentAt), sentAt))
	}
}
