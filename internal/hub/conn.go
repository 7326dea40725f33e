package hub

import "sync"

const defaultSendBuffer = 256

// Conn is the hub's record of one open client connection. Identity fields are
// mutated in place so that fan-out always filters on the latest state.
type Conn struct {
	id          uint64
	remoteAddr  string
	boundUserID string
	send        chan []byte

	mu        sync.RWMutex
	userID    string
	sessionID string
	closed    bool
}

func newConn(id uint64, remoteAddr, boundUserID string, sendBuffer int) *Conn {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &Conn{
		id:          id,
		remoteAddr:  remoteAddr,
		boundUserID: boundUserID,
		send:        make(chan []byte, sendBuffer),
	}
}

// ID returns the process-unique connection number.
func (c *Conn) ID() uint64 {
	return c.id
}

// RemoteAddr returns the peer address recorded at upgrade time.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// State returns the claimed user id and current session id as one consistent pair.
func (c *Conn) State() (userID, sessionID string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID, c.sessionID
}

// UserID returns the claimed identity, empty until an auth frame is accepted.
func (c *Conn) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// SessionID returns the joined room, empty when not in a room.
func (c *Conn) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Outbound exposes the queue of encoded frames awaiting transmission. It is
// closed when the connection is torn down.
func (c *Conn) Outbound() <-chan []byte {
	return c.send
}

func (c *Conn) setUserID(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

func (c *Conn) setSessionID(sessionID string) {
	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()
}

// enqueue hands a frame to the writer without blocking. A closed connection
// or a full queue drops the frame.
func (c *Conn) enqueue(frame []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Conn) writable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// close shuts the outbound queue. It reports false when the connection was already closed.
func (c *Conn) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}
