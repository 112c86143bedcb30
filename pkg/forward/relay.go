package forward

import (
	"io"
	"net"
	"sync"
)

type closeWriter interface {
	CloseWrite() error
}

// closeWrite signals EOF to the peer while leaving the read side open. On
// endpoints without half-close support the connection is closed outright.
func closeWrite(c net.Conn) {
	if cw, ok := c.(closeWriter); ok {
		cw.CloseWrite()
		return
	}
	c.Close()
}

// relay copies bytes between a client connection and a backend connection
// in both directions until each direction has reached EOF or failed. When
// one direction ends its EOF is propagated to the opposite endpoint via
// half-close, so the remaining direction can drain. Both connections are
// closed before relay returns, on every path.
func (f *TCPForwarder) relay(client, backend net.Conn) {
	var wg sync.WaitGroup
	wg.Add(2)

	copyHalf := func(dst, src net.Conn) {
		defer wg.Done()
		if _, err := io.Copy(dst, src); err != nil {
			f.log.Debugf("relay %s -> %s: %s", src.RemoteAddr(), dst.RemoteAddr(), err)
		}
		closeWrite(dst)
	}

	f.pool.Go(func() { copyHalf(backend, client) })
	copyHalf(client, backend)

	wg.Wait()
	client.Close()
	backend.Close()
}
