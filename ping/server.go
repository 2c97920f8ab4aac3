package ping

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Server echoes probe datagrams back to their sender unmodified.
type Server struct {
	// Bind is an explicit address to listen on. When empty the server listens
	// on the IPv4 wildcard and, if the host allows it, the IPv6 wildcard.
	Bind string

	Port uint16

	// OnEcho is called after a datagram has been echoed
	OnEcho func(src net.Addr, n int)
}

// Run listens and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	conns, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, conns)
}

// Listen opens the server sockets. Only a failure on the explicit bind
// address or the IPv4 wildcard is an error.
func (s *Server) Listen() ([]net.PacketConn, error) {
	port := strconv.Itoa(int(s.Port))

	if s.Bind != "" {
		conn, err := net.ListenPacket("udp", net.JoinHostPort(s.Bind, port))
		if err != nil {
			return nil, fmt.Errorf("bind %s: %w", s.Bind, err)
		}
		logrus.Info("Listening on ", conn.LocalAddr())
		return []net.PacketConn{conn}, nil
	}

	v4, err := net.ListenPacket("udp4", net.JoinHostPort("0.0.0.0", port))
	if err != nil {
		return nil, fmt.Errorf("bind 0.0.0.0: %w", err)
	}
	logrus.Info("Listening on ", v4.LocalAddr())
	conns := []net.PacketConn{v4}

	v6, err := net.ListenPacket("udp6", net.JoinHostPort("::", port))
	if err != nil {
		logrus.Warn("IPv6 unavailable, serving IPv4 only: ", err)
		return conns, nil
	}
	logrus.Info("Listening on ", v6.LocalAddr())
	return append(conns, v6), nil
}

// Serve echoes on every conn until ctx is cancelled, then closes them.
func (s *Server) Serve(ctx context.Context, conns []net.PacketConn) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		for _, conn := range conns {
			conn.Close()
		}
		return nil
	})

	for _, conn := range conns {
		conn := conn
		g.Go(func() error {
			return s.serve(ctx, conn)
		})
	}

	return g.Wait()
}

func (s *Server) serve(ctx context.Context, conn net.PacketConn) error {
	buf := make([]byte, 1024)
	for {
		n, src, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if isConnReset(err) {
				continue
			}
			logrus.Warn("Received packet: ", err)
			continue
		}
		if !IsProbe(buf[:n]) {
			continue
		}

		if _, err := conn.WriteTo(buf[:n], src); err != nil {
			logrus.WithField("peer", src.String()).Warn("Echoing packet: ", err)
			continue
		}
		if handler := s.OnEcho; handler != nil {
			handler(src, n)
		}
	}
}
