package ipc

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TheEntropyCollective/docanalyzer/internal/telemetry/logging"
)

// Client is the Worker side of the transport: it dials the Master's
// control port once at startup and stays connected for the Worker's
// lifetime, sending heartbeat/progress/result frames and watching for
// an incoming cancel frame.
type Client struct {
	conn      *websocket.Conn
	directory string
	log       *logging.Logger

	mu        sync.Mutex
	cancelCh  chan struct{}
	closeOnce sync.Once
}

// Dial connects to the Master's WebSocket listen address for directory
// dir. The Master identifies this connection by dir (passed as a query
// parameter), not by PID, so a restarted Worker for the same directory
// simply replaces the prior connection.
func Dial(listenAddr, dir string, log *logging.Logger) (*Client, error) {
	if log == nil {
		log = logging.New(logging.Config{Level: logging.InfoLevel, Format: logging.TextFormat})
	}
	u := url.URL{Scheme: "ws", Host: listenAddr, Path: "/ipc", RawQuery: "directory=" + url.QueryEscape(dir)}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial master ipc at %s: %w", listenAddr, err)
	}

	c := &Client{
		conn:      conn,
		directory: dir,
		log:       log.WithComponent("ipc.client"),
		cancelCh:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	for {
		var frame Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Type == FrameCancel {
			c.closeOnce.Do(func() { close(c.cancelCh) })
		}
	}
}

// Cancelled returns a channel that closes when the Master sends a
// cancel frame for this Worker's directory.
func (c *Client) Cancelled() <-chan struct{} {
	return c.cancelCh
}

func (c *Client) send(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(frame)
}

// SendHeartbeat reports liveness on heartbeat.interval_seconds cadence.
func (c *Client) SendHeartbeat(p HeartbeatPayload) error {
	return c.send(heartbeatFrame(c.directory, time.Now(), p))
}

// SendProgress reports a stage transition or every-N-files update.
func (c *Client) SendProgress(p ProgressPayload) error {
	return c.send(progressFrame(c.directory, time.Now(), p))
}

// SendResult reports the Worker's final disposition. Call once, just
// before Close.
func (c *Client) SendResult(p ResultPayload) error {
	return c.send(resultFrame(c.directory, time.Now(), p))
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
