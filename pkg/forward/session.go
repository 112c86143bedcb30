package forward

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// session is one client's flow through the UDP forwarder: the client
// address datagrams arrived from and the dedicated socket their payloads
// leave through. Replies read from conn are routed back to clientAddr.
type session struct {
	clientAddr *net.UDPAddr
	conn       *net.UDPConn
	lastActive atomic.Int64
}

func (s *session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

func (s *session) idle(now time.Time, timeout time.Duration) bool {
	return now.Sub(time.Unix(0, s.lastActive.Load())) > timeout
}

// sessionTable maps client addresses to live sessions. All mutation goes
// through the table lock with short critical sections; a session's socket
// is closed exactly where its entry leaves the map, so it is closed exactly
// once no matter how the receive loop and the sweeper interleave.
type sessionTable struct {
	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

func newSessionTable() *sessionTable {
	return &sessionTable{sessions: make(map[string]*session)}
}

// lookupOrCreate returns the live session for clientAddr, refreshing its
// activity stamp. When none exists, dial is invoked under the lock and the
// new session inserted atomically, so concurrent first packets from one
// client can never yield two sessions.
func (t *sessionTable) lookupOrCreate(clientAddr *net.UDPAddr, dial func() (*net.UDPConn, error)) (*session, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, false, net.ErrClosed
	}

	key := clientAddr.String()
	if s, ok := t.sessions[key]; ok {
		s.touch()
		return s, false, nil
	}

	conn, err := dial()
	if err != nil {
		return nil, false, err
	}
	s := &session{clientAddr: clientAddr, conn: conn}
	s.touch()
	t.sessions[key] = s
	return s, true, nil
}

// expire removes every session idle past timeout, closing its socket. The
// closed sockets end the sessions' reply readers. Returns the removed
// sessions for logging.
func (t *sessionTable) expire(timeout time.Duration) []*session {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	var removed []*session
	for key, s := range t.sessions {
		if s.idle(now, timeout) {
			delete(t.sessions, key)
			s.conn.Close()
			removed = append(removed, s)
		}
	}
	return removed
}

// closeAll drops every session and rejects further creates.
func (t *sessionTable) closeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for key, s := range t.sessions {
		delete(t.sessions, key)
		s.conn.Close()
	}
}

func (t *sessionTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
