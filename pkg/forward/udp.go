package forward

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Wybxc/portfwd/pkg/pool"
)

// UDPForwarder relays datagrams between clients of the listen socket and
// the target. UDP has no connection lifecycle, so the forwarder tracks a
// session per client address: payloads go out through the session's own
// socket and whatever comes back on that socket is written to the client
// address it belongs to. Sessions idle past the timeout are swept.
type UDPForwarder struct {
	target      Target
	log         logrus.FieldLogger
	pool        *pool.Pool
	idleTimeout time.Duration

	inbound *net.UDPConn
	remote  *net.UDPAddr
	table   *sessionTable

	closed atomic.Bool
	done   chan struct{}
}

func NewUDPForwarder(target Target, p *pool.Pool, log logrus.FieldLogger, idleTimeout time.Duration) *UDPForwarder {
	if idleTimeout <= 0 {
		idleTimeout = DefaultUDPIdleTimeout
	}
	return &UDPForwarder{
		target:      target,
		log:         log,
		pool:        p,
		idleTimeout: idleTimeout,
		table:       newSessionTable(),
		done:        make(chan struct{}),
	}
}

// Listen binds the local UDP port and resolves the target address.
func (f *UDPForwarder) Listen() error {
	laddr, err := net.ResolveUDPAddr("udp", f.target.ListenAddr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", f.target.ListenAddr, err)
	}
	raddr, err := net.ResolveUDPAddr("udp", f.target.RemoteAddr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", f.target.RemoteAddr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return fmt.Errorf("listen udp %s: %w", f.target.ListenAddr, err)
	}
	f.inbound = conn
	f.remote = raddr
	f.log.Infof("Listening on udp %s, forwarding to %s", conn.LocalAddr(), raddr)
	return nil
}

// Addr returns the bound listen address, nil before Listen.
func (f *UDPForwarder) Addr() net.Addr {
	if f.inbound == nil {
		return nil
	}
	return f.inbound.LocalAddr()
}

func (f *UDPForwarder) Serve(ctx context.Context) error {
	if f.inbound == nil {
		if err := f.Listen(); err != nil {
			return err
		}
	}

	f.pool.Go(func() { f.sweep(ctx) })

	buf := make([]byte, maxDatagramSize)
	for {
		n, clientAddr, err := f.inbound.ReadFromUDP(buf)
		if err != nil {
			if f.closed.Load() || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		f.log.Debugf("Received %d bytes from %s", n, clientAddr)

		s, created, err := f.table.lookupOrCreate(clientAddr, func() (*net.UDPConn, error) {
			return net.DialUDP("udp", nil, f.remote)
		})
		if err != nil {
			// Socket exhaustion or the like: drop this datagram, the
			// client's next packet retries.
			f.log.Errorf("Session for %s: %s", clientAddr, err)
			continue
		}
		if created {
			f.log.Infof("New session for client %s", clientAddr)
			f.pool.Go(func() { f.relayReplies(s) })
		}

		if _, err := s.conn.Write(buf[:n]); err != nil {
			f.log.Warnf("Send %d bytes to %s: %s", n, f.remote, err)
			continue
		}
		f.log.Debugf("Sent %d bytes to %s", n, f.remote)
	}
}

// relayReplies reads replies from the session's socket and writes them back
// to the client that owns the session. It runs until the socket is closed
// by the sweeper or by shutdown; transient read errors (a connected UDP
// socket surfaces ICMP unreachable as a read error) do not end the session.
func (f *UDPForwarder) relayReplies(s *session) {
	buf := make([]byte, maxDatagramSize)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || f.closed.Load() {
				return
			}
			f.log.Debugf("Session %s read: %s", s.clientAddr, err)
			continue
		}
		s.touch()
		if _, err := f.inbound.WriteToUDP(buf[:n], s.clientAddr); err != nil {
			f.log.Warnf("Reply %d bytes to %s: %s", n, s.clientAddr, err)
			continue
		}
		f.log.Debugf("Replied %d bytes to %s", n, s.clientAddr)
	}
}

func (f *UDPForwarder) sweep(ctx context.Context) {
	interval := f.idleTimeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.done:
			return
		case <-ticker.C:
			for _, s := range f.table.expire(f.idleTimeout) {
				f.log.Infof("Session for client %s expired", s.clientAddr)
			}
		}
	}
}

// Close stops the receive loop, the sweeper and every session.
func (f *UDPForwarder) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	close(f.done)
	var err error
	if f.inbound != nil {
		err = f.inbound.Close()
	}
	f.table.closeAll()
	return err
}
