package ipc

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TheEntropyCollective/docanalyzer/internal/telemetry/logging"
)

// Handler receives decoded frames from a Worker connection, keyed by
// the directory the Worker owns. Handlers run on the Hub's read
// goroutine for that connection; a Handler that blocks delays further
// frames from the same Worker only.
type Handler func(dir string, frame Frame)

// conn pairs a Worker's connection with the mutex guarding writes to it.
// gorilla/websocket connections support one concurrent reader and one
// concurrent writer; ServeHTTP owns the reader side, but Cancel can be
// invoked from both StopWatching and Drain, so writes need their own lock.
type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *conn) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

// Hub is the Master-side WebSocket server: one long-lived connection
// per Worker, identified by the directory it was spawned for.
type Hub struct {
	upgrader websocket.Upgrader
	onFrame  Handler
	log      *logging.Logger

	mu    sync.RWMutex
	conns map[string]*conn
}

// NewHub builds a Hub. onFrame is invoked for every frame received from
// any Worker connection.
func NewHub(onFrame Handler, log *logging.Logger) *Hub {
	if log == nil {
		log = logging.New(logging.Config{Level: logging.InfoLevel, Format: logging.TextFormat})
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			// Workers dial from localhost only (§11.5); origin checks
			// that matter for browser clients don't apply here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		onFrame: onFrame,
		log:     log.WithComponent("ipc.hub"),
		conns:   make(map[string]*conn),
	}
}

// ServeHTTP upgrades the request to a WebSocket and registers the
// connection under the "directory" query parameter the Worker supplies
// when dialing, then blocks reading frames until the Worker disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	dir := r.URL.Query().Get("directory")
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithField("directory", dir).Warnf("websocket upgrade failed: %v", err)
		return
	}
	c := &conn{ws: ws}

	h.mu.Lock()
	h.conns[dir] = c
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		if h.conns[dir] == c {
			delete(h.conns, dir)
		}
		h.mu.Unlock()
		ws.Close()
	}()

	for {
		var frame Frame
		if err := ws.ReadJSON(&frame); err != nil {
			return
		}
		h.onFrame(dir, frame)
	}
}

// Cancel sends a cancel frame to the Worker owning dir, if it currently
// holds an open connection. Returns false if no Worker is connected for
// that directory or the write fails; Master.StopWatching reports false
// as an error, Master.Drain ignores it.
func (h *Hub) Cancel(dir string) bool {
	h.mu.RLock()
	c := h.conns[dir]
	h.mu.RUnlock()
	if c == nil {
		return false
	}
	return c.writeJSON(cancelFrame(dir, time.Now())) == nil
}

// Connected reports whether a Worker for dir currently holds an open
// connection.
func (h *Hub) Connected(dir string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[dir] != nil
}
