package forward

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testDialer(t *testing.T) (func() (*net.UDPConn, error), *atomic.Int32) {
	t.Helper()
	target, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { target.Close() })

	var dials atomic.Int32
	dial := func() (*net.UDPConn, error) {
		dials.Add(1)
		return net.DialUDP("udp", nil, target.LocalAddr().(*net.UDPAddr))
	}
	return dial, &dials
}

func TestSessionTableConcurrentCreate(t *testing.T) {
	table := newSessionTable()
	dial, dials := testDialer(t)
	clientAddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}

	const workers = 32
	var wg sync.WaitGroup
	got := make([]*session, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], _, errs[i] = table.lookupOrCreate(clientAddr, dial)
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), dials.Load(), "concurrent first packets must create exactly one session")
	require.Equal(t, 1, table.size())
	for i := range got {
		require.NoError(t, errs[i])
		require.Same(t, got[0], got[i])
	}
}

func TestSessionTableExpire(t *testing.T) {
	table := newSessionTable()
	dial, _ := testDialer(t)

	stale, created, err := table.lookupOrCreate(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40001}, dial)
	require.NoError(t, err)
	require.True(t, created)
	fresh, _, err := table.lookupOrCreate(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40002}, dial)
	require.NoError(t, err)

	stale.lastActive.Store(time.Now().Add(-time.Minute).UnixNano())

	removed := table.expire(30 * time.Second)
	require.Len(t, removed, 1)
	require.Same(t, stale, removed[0])
	require.Equal(t, 1, table.size())

	// The removed session's socket is closed, the survivor's is not.
	_, err = stale.conn.Write([]byte("x"))
	require.Error(t, err)
	_, err = fresh.conn.Write([]byte("x"))
	require.NoError(t, err)
}

func TestSessionTableRefreshPreventsExpiry(t *testing.T) {
	table := newSessionTable()
	dial, dials := testDialer(t)
	clientAddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40003}

	s, _, err := table.lookupOrCreate(clientAddr, dial)
	require.NoError(t, err)
	s.lastActive.Store(time.Now().Add(-time.Minute).UnixNano())

	// A lookup refreshes the stamp, so the sweep right after must keep it.
	_, created, err := table.lookupOrCreate(clientAddr, dial)
	require.NoError(t, err)
	require.False(t, created)
	require.Empty(t, table.expire(30*time.Second))
	require.Equal(t, int32(1), dials.Load())
}

func TestSessionTableCloseAll(t *testing.T) {
	table := newSessionTable()
	dial, _ := testDialer(t)

	s, _, err := table.lookupOrCreate(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40004}, dial)
	require.NoError(t, err)

	table.closeAll()
	require.Equal(t, 0, table.size())
	_, err = s.conn.Write([]byte("x"))
	require.Error(t, err)

	_, _, err = table.lookupOrCreate(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40005}, dial)
	require.ErrorIs(t, err, net.ErrClosed)
}
