package forward

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Wybxc/portfwd/pkg/pool"
)

// TCPForwarder accepts connections on the listen address and relays each
// one to the target. Every accepted connection gets its own backend dial
// and its own relay task; a failed dial tears down that one connection and
// the accept loop carries on.
type TCPForwarder struct {
	target Target
	log    logrus.FieldLogger
	pool   *pool.Pool

	ln net.Listener

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

func NewTCPForwarder(target Target, p *pool.Pool, log logrus.FieldLogger) *TCPForwarder {
	return &TCPForwarder{
		target: target,
		log:    log,
		pool:   p,
		conns:  make(map[net.Conn]struct{}),
	}
}

// Listen binds the local port. Kept separate from Serve so that bind
// failures surface before any serving task is spawned.
func (f *TCPForwarder) Listen() error {
	ln, err := net.Listen("tcp", f.target.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen tcp %s: %w", f.target.ListenAddr, err)
	}
	f.ln = ln
	f.log.Infof("Listening on tcp %s, forwarding to %s", ln.Addr(), f.target.RemoteAddr)
	return nil
}

// Addr returns the bound listen address, nil before Listen.
func (f *TCPForwarder) Addr() net.Addr {
	if f.ln == nil {
		return nil
	}
	return f.ln.Addr()
}

func (f *TCPForwarder) Serve(ctx context.Context) error {
	if f.ln == nil {
		if err := f.Listen(); err != nil {
			return err
		}
	}

	for {
		conn, err := f.ln.Accept()
		if err != nil {
			if f.isClosed() || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		f.log.Infof("Accepted client %s", conn.RemoteAddr())
		f.pool.Go(func() { f.handle(conn) })
	}
}

func (f *TCPForwarder) handle(client net.Conn) {
	backend, err := net.DialTimeout("tcp", f.target.RemoteAddr, dialTimeout)
	if err != nil {
		f.log.Errorf("Dial %s: %s", f.target.RemoteAddr, err)
		client.Close()
		return
	}
	f.log.Debugf("Connected to %s for client %s", f.target.RemoteAddr, client.RemoteAddr())

	if !f.track(client, backend) {
		client.Close()
		backend.Close()
		return
	}
	f.relay(client, backend)
	f.untrack(client, backend)
	f.log.Infof("Client %s closed", client.RemoteAddr())
}

// track registers the connection pair so Close can tear down in-flight
// flows. Reports false when the forwarder is already shut down.
func (f *TCPForwarder) track(conns ...net.Conn) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	for _, c := range conns {
		f.conns[c] = struct{}{}
	}
	return true
}

func (f *TCPForwarder) untrack(conns ...net.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range conns {
		delete(f.conns, c)
	}
}

func (f *TCPForwarder) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Close stops the accept loop and closes every tracked connection, which
// unblocks the relays running on the pool.
func (f *TCPForwarder) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	conns := make([]net.Conn, 0, len(f.conns))
	for c := range f.conns {
		conns = append(conns, c)
	}
	f.mu.Unlock()

	var err error
	if f.ln != nil {
		err = f.ln.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	return err
}
