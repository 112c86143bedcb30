package forward

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Wybxc/portfwd/pkg/pool"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func testPool() *pool.Pool {
	return pool.New(4, testLogger())
}

// startTCPEcho runs a TCP server that echoes everything back and closes
// when the client stops sending.
func startTCPEcho(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				io.Copy(c, c)
			}(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

// udpEcho echoes datagrams and records the peer address of everything it
// receives.
type udpEcho struct {
	pc    *net.UDPConn
	mu    sync.Mutex
	peers []string
}

func startUDPEcho(t *testing.T) *udpEcho {
	t.Helper()
	pc, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	e := &udpEcho{pc: pc}
	go func() {
		buf := make([]byte, 64*1024)
		for {
			n, addr, err := pc.ReadFromUDP(buf)
			if err != nil {
				return
			}
			e.mu.Lock()
			e.peers = append(e.peers, addr.String())
			e.mu.Unlock()
			pc.WriteToUDP(buf[:n], addr)
		}
	}()
	t.Cleanup(func() { pc.Close() })
	return e
}

func (e *udpEcho) addr() string {
	return e.pc.LocalAddr().String()
}

func (e *udpEcho) seenPeers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.peers...)
}

// serveForwarder runs f.Serve in the background and returns a channel that
// yields its result.
func serveForwarder(t *testing.T, f Forwarder) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.Serve(ctx) }()
	t.Cleanup(func() {
		f.Close()
		cancel()
	})
	return errCh
}

func waitServeDone(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("forwarder did not stop in time")
		return nil
	}
}
