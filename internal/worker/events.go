package worker

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/bobmcallan/corequeue/internal/common"
	"github.com/bobmcallan/corequeue/internal/models"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// EventHub fans out emitted stat events (request_start_job, inactivate_job,
// flag_nonstop, flag_zombie, remove_job) to connected observers over
// WebSocket. It is purely observational — nothing in the scheduler blocks on
// it, and a full broadcast channel drops the event rather than stall a
// phase. Client bookkeeping is a plain mutex-guarded set rather than
// register/unregister channels: connects and disconnects are rare compared
// to broadcasts, so there's no contention to buy out of.
type EventHub struct {
	mu      sync.RWMutex
	clients map[*eventClient]struct{}

	broadcast chan models.StatPayload
	done      chan struct{}
	logger    *common.Logger
}

// eventClient is one subscriber. A non-empty subject narrows the stream to
// events whose job name equals it or has it as a dotted-prefix project
// (e.g. subject "billing" matches job name "billing.invoice").
type eventClient struct {
	hub     *EventHub
	conn    *websocket.Conn
	send    chan []byte
	subject string
}

func (c *eventClient) wants(payload models.StatPayload) bool {
	if c.subject == "" || c.subject == payload.JobName {
		return true
	}
	return strings.HasPrefix(payload.JobName, c.subject+".")
}

// NewEventHub creates a new event hub.
func NewEventHub(logger *common.Logger) *EventHub {
	return &EventHub{
		clients:   make(map[*eventClient]struct{}),
		broadcast: make(chan models.StatPayload, 256),
		done:      make(chan struct{}),
		logger:    logger,
	}
}

func (h *EventHub) addClient(c *eventClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *EventHub) dropClient(c *eventClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Run starts the hub's broadcast loop. Call as a goroutine. A panic in the
// loop is recovered and logged rather than taking down the process — the
// hub is observational, not load-bearing. Client connect/disconnect happen
// directly against the mutex-guarded map from ServeWS and the per-client
// pumps, not through this loop.
func (h *EventHub) Run() {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Str("panic", fmt.Sprintf("%v", r)).Str("stack", string(debug.Stack())).Msg("recovered from panic in event hub loop")
		}
	}()

	for {
		select {
		case <-h.done:
			return
		case payload := <-h.broadcast:
			h.publish(payload)
		}
	}
}

func (h *EventHub) publish(payload models.StatPayload) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to marshal stat event")
		return
	}

	h.mu.RLock()
	stale := make([]*eventClient, 0)
	for c := range h.clients {
		if !c.wants(payload) {
			continue
		}
		select {
		case c.send <- data:
		default:
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		h.dropClient(c)
	}
}

// Stop signals the hub's event loop to exit.
func (h *EventHub) Stop() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

// Emit broadcasts a stat event for jobID/jobName. Non-blocking: a full
// channel drops the event and logs a warning rather than stall the calling
// phase.
func (h *EventHub) Emit(event models.StatEvent, jobID, jobName string, at time.Time) {
	payload := models.StatPayload{Event: event, JobID: jobID, JobName: jobName, At: at}
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn().Str("event", string(event)).Str("job_id", jobID).Msg("event hub broadcast channel full, dropping event")
	}
}

// ServeWS upgrades an HTTP connection to a WebSocket stream of stat events.
// A "subject" query parameter narrows the stream to one job name or project
// prefix; omitted or empty subscribes to everything. The worker itself runs
// no HTTP server; this is wired in only if a caller's own debug mux chooses
// to expose it.
func (h *EventHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &eventClient{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, 256),
		subject: r.URL.Query().Get("subject"),
	}
	h.addClient(client)

	go client.readLoop()
	go client.writeLoop()
}

// ClientCount returns the number of connected observers.
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// writeLoop drains the client's send buffer to the socket and keeps the
// connection alive with periodic pings while idle.
func (c *eventClient) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, open := <-c.send:
			if !open {
				c.writeControl(websocket.CloseMessage)
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.writeControl(websocket.PingMessage); err != nil {
				return
			}
		}
	}
}

func (c *eventClient) writeControl(messageType int) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, nil)
}

// readLoop only exists to notice the peer closing the connection (or going
// silent past pongWait); subscribers never send anything meaningful inbound.
func (c *eventClient) readLoop() {
	defer func() {
		c.hub.dropClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.extendReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *eventClient) extendReadDeadline() {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
}
