package forward

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Wybxc/portfwd/pkg/pool"
)

// Mode selects which transports the engine forwards.
type Mode int

const (
	ModeBoth Mode = iota
	ModeTCP
	ModeUDP
)

func (m Mode) TCP() bool { return m == ModeBoth || m == ModeTCP }
func (m Mode) UDP() bool { return m == ModeBoth || m == ModeUDP }

// Engine composes the enabled forwarders over one listen address and one
// target, and owns their shutdown. Both transports share configuration
// identity, so a fatal error in either one brings down the whole engine
// rather than leaving it half-alive.
type Engine struct {
	target      Target
	mode        Mode
	log         logrus.FieldLogger
	pool        *pool.Pool
	idleTimeout time.Duration

	tcp *TCPForwarder
	udp *UDPForwarder

	ready    chan struct{}
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewEngine(target Target, opts ...Option) *Engine {
	e := &Engine{
		target:      target,
		mode:        ModeBoth,
		idleTimeout: DefaultUDPIdleTimeout,
		ready:       make(chan struct{}),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	if e.log == nil {
		e.log = logrus.StandardLogger()
	}
	if e.pool == nil {
		e.pool = pool.New(0, e.log)
	}
	return e
}

// Run binds the enabled forwarders and serves until a fatal forwarder
// error, context cancellation or Stop. A bind failure is returned before
// any task is spawned. Run returns only after every spawned task has
// exited.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if e.mode.TCP() {
		e.tcp = NewTCPForwarder(e.target, e.pool, e.log)
		if err := e.tcp.Listen(); err != nil {
			return err
		}
	}
	if e.mode.UDP() {
		e.udp = NewUDPForwarder(e.target, e.pool, e.log, e.idleTimeout)
		if err := e.udp.Listen(); err != nil {
			if e.tcp != nil {
				e.tcp.Close()
			}
			return err
		}
	}
	close(e.ready)

	g, gctx := errgroup.WithContext(ctx)
	if e.tcp != nil {
		g.Go(func() error { return e.tcp.Serve(gctx) })
	}
	if e.udp != nil {
		g.Go(func() error { return e.udp.Serve(gctx) })
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-e.stopCh:
			cancel()
		}
		if e.tcp != nil {
			e.tcp.Close()
		}
		if e.udp != nil {
			e.udp.Close()
		}
		return nil
	})

	err := g.Wait()
	e.pool.Wait()
	return err
}

// Stop shuts the engine down and blocks until Run has returned, i.e. until
// every accept loop, relay and session has exited and every owned socket
// is closed. Valid once Run has been called.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	<-e.done
}

// TCPAddr returns the bound TCP listen address, nil when TCP is disabled
// or not yet bound.
func (e *Engine) TCPAddr() net.Addr {
	if e.tcp == nil {
		return nil
	}
	return e.tcp.Addr()
}

// UDPAddr returns the bound UDP listen address, nil when UDP is disabled
// or not yet bound.
func (e *Engine) UDPAddr() net.Addr {
	if e.udp == nil {
		return nil
	}
	return e.udp.Addr()
}
