package broker

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/b/tmux-remote/internal/runtime"
)

// controlContext is one authenticated control socket: its client identity,
// its runtime and attached session, and the set of data sockets bound to
// it. Its owning goroutine reads and handles one message at a time from
// this socket, which is what gives per-context serialization — no other
// context ever waits on it, since each runs on its own goroutine.
type controlContext struct {
	socket *websocket.Conn

	mu              sync.Mutex
	authenticated   bool
	clientID        string
	runtime         *runtime.TerminalRuntime
	attachedSession string
	baseSession     string
	dataSockets     map[*dataContext]struct{}

	sendMu sync.Mutex // serializes writes to socket
}

func newControlContext(socket *websocket.Conn) *controlContext {
	return &controlContext{
		socket:      socket,
		dataSockets: make(map[*dataContext]struct{}),
	}
}

func (c *controlContext) isAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *controlContext) addDataSocket(d *dataContext) {
	c.mu.Lock()
	c.dataSockets[d] = struct{}{}
	c.mu.Unlock()
}

func (c *controlContext) removeDataSocket(d *dataContext) {
	c.mu.Lock()
	delete(c.dataSockets, d)
	c.mu.Unlock()
}

func (c *controlContext) boundDataSockets() []*dataContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*dataContext, 0, len(c.dataSockets))
	for d := range c.dataSockets {
		out = append(out, d)
	}
	return out
}

// dataContext is one data-plane socket, bound to exactly one controlContext
// once authenticated.
type dataContext struct {
	socket *websocket.Conn
	sendMu sync.Mutex

	mu            sync.Mutex
	authenticated bool
	clientID      string
	control       *controlContext
}

func newDataContext(socket *websocket.Conn) *dataContext {
	return &dataContext{socket: socket}
}

// reconnectState is keyed by clientId, process-local, survives a control
// socket close but not a process restart.
type reconnectState struct {
	baseSession string
	paneID      string
	zoomed      bool
	updatedAt   time.Time
}
