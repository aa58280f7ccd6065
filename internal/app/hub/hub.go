// Package hub serves the calendar WebSocket endpoint. It tracks every connected client
// with the date window it displays, answers requests, and fans committed changes out to
// the clients whose window contains the changed event.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nuid"

	"github.com/calsync/project/internal/contracts"
	"github.com/calsync/project/internal/platform/logging"
	"github.com/calsync/project/internal/platform/metrics"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

var errUnknownType = errors.New("unknown message type")

// EventService is the part of the calendar service the hub calls. origin identifies the
// requesting client so the change fan-out can skip it.
type EventService interface {
	List(ctx context.Context, start, end string) ([]contracts.Event, error)
	Create(ctx context.Context, origin string, draft contracts.Event) (contracts.Event, error)
	Update(ctx context.Context, origin string, draft contracts.Event) (contracts.Event, error)
	Delete(ctx context.Context, origin, id string) (contracts.Event, error)
}

var (
	clientsGauge = metrics.NewGauge(metrics.Opts{
		Name: "calsync_hub_clients",
		Help: "Connected WebSocket clients.",
	})
	hubFrames = metrics.NewCounterVec(metrics.Opts{
		Name: "calsync_hub_frames_total",
		Help: "Frames handled by the hub by direction and type.",
	}, []string{"direction", "type"})
	droppedFrames = metrics.NewCounterVec(metrics.Opts{
		Name: "calsync_hub_dropped_frames_total",
		Help: "Outbound frames dropped because a client fell behind.",
	}, []string{"type"})
)

func init() {
	metrics.Default.MustRegister(clientsGauge, hubFrames, droppedFrames)
}

type Hub struct {
	service      EventService
	upgrader     websocket.Upgrader
	requestLimit time.Duration

	mu      sync.RWMutex
	clients map[string]*client
}

type Options struct {
	// AllowedOrigin restricts browser origins; empty or "*" allows any.
	AllowedOrigin string
	// RequestTimeout bounds each storage call made for a client frame.
	RequestTimeout time.Duration
}

func New(service EventService, opts Options) *Hub {
	h := &Hub{
		service:      service,
		requestLimit: opts.RequestTimeout,
		clients:      map[string]*client{},
	}
	if h.requestLimit <= 0 {
		h.requestLimit = 5 * time.Second
	}
	allowed := strings.TrimSpace(opts.AllowedOrigin)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  32 * 1024,
		WriteBufferSize: 32 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" || allowed == "" || allowed == "*" {
				return true
			}
			return origin == allowed || strings.Contains(origin, "://"+strings.TrimSpace(r.Host))
		},
	}
	return h
}

// OnlineUsers is the number of connected clients.
func (h *Hub) OnlineUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and runs the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("websocket upgrade failed", err, "remote", r.RemoteAddr)
		return
	}
	c := newClient(h, conn, nuid.Next())
	h.register(c)

	go c.writePump()
	c.readPump()

	h.unregister(c)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()
	clientsGauge.Set(float64(count))
	logging.Info("client connected", "client", c.id, "online", count)
	h.broadcastOnlineUsers(count)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	count := len(h.clients)
	h.mu.Unlock()
	c.close()
	clientsGauge.Set(float64(count))
	logging.Info("client disconnected", "client", c.id, "online", count)
	h.broadcastOnlineUsers(count)
}

func (h *Hub) broadcastOnlineUsers(count int) {
	msg := contracts.ServerMessage{Type: contracts.TypeOnlineUsers, Count: count}
	for _, c := range h.snapshot() {
		c.enqueue(msg)
	}
}

func (h *Hub) snapshot() []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

// PublishChange delivers a committed change to every interested client other than its
// origin. A client is interested when its window contains the event's date, or for an
// update, the date the event moved away from.
func (h *Hub) PublishChange(change contracts.EventChange) error {
	msg := changeMessage(change)
	delivered := 0
	for _, c := range h.snapshot() {
		if c.id == change.Origin {
			continue
		}
		if !c.interestedIn(change.Event.Date, change.PreviousDate) {
			continue
		}
		c.enqueue(msg)
		delivered++
	}
	logging.Debug("change fanned out", "type", change.Type, "id", change.Event.ID, "clients", delivered)
	return nil
}

func changeMessage(change contracts.EventChange) contracts.ServerMessage {
	ev := change.Event
	switch change.Type {
	case contracts.TypeEventDeleted:
		return contracts.ServerMessage{Type: contracts.TypeEventDeleted, EventID: ev.ID}
	default:
		return contracts.ServerMessage{Type: change.Type, Event: &ev}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	for _, c := range h.snapshot() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
	}
}

// handle answers one client frame.
func (h *Hub) handle(c *client, msg contracts.ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), h.requestLimit)
	defer cancel()

	switch msg.Type {
	case contracts.TypePing:
		c.enqueue(contracts.ServerMessage{Type: contracts.TypePong})

	case contracts.TypeViewRange:
		if msg.StartDate == "" || msg.EndDate == "" {
			c.replyError("invalid view range", nil)
			return
		}
		events, err := h.service.List(ctx, msg.StartDate, msg.EndDate)
		if err != nil {
			c.replyError("invalid view range", err)
			return
		}
		c.setRange(msg.StartDate, msg.EndDate)
		c.enqueue(contracts.ServerMessage{Type: contracts.TypeEvents, Events: events})

	case contracts.TypeGetEvents:
		start, end, _ := c.viewRange()
		events, err := h.service.List(ctx, start, end)
		if err != nil {
			c.replyError("failed to load events", err)
			return
		}
		c.enqueue(contracts.ServerMessage{Type: contracts.TypeEvents, Events: events})

	case contracts.TypeCreateEvent:
		if msg.Event == nil {
			c.replyError("failed to create event", contracts.ErrTitleRequired)
			return
		}
		ev, err := h.service.Create(ctx, c.id, *msg.Event)
		if err != nil {
			c.replyError("failed to create event", err)
			return
		}
		c.enqueue(contracts.ServerMessage{Type: contracts.TypeEventCreated, Event: &ev})

	case contracts.TypeUpdateEvent:
		if msg.Event == nil {
			c.replyError("failed to update event", contracts.ErrEventIDRequired)
			return
		}
		ev, err := h.service.Update(ctx, c.id, *msg.Event)
		if err != nil {
			c.replyError("failed to update event", err)
			return
		}
		c.enqueue(contracts.ServerMessage{Type: contracts.TypeEventUpdated, Event: &ev})

	case contracts.TypeDeleteEvent:
		ev, err := h.service.Delete(ctx, c.id, msg.EventID)
		if err != nil {
			c.replyError("failed to delete event", err)
			return
		}
		c.enqueue(contracts.ServerMessage{Type: contracts.TypeEventDeleted, EventID: ev.ID})

	default:
		c.replyError("unknown message type", errUnknownType)
	}
}

type client struct {
	hub  *Hub
	id   string
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}

	mu       sync.Mutex
	start    string
	end      string
	hasRange bool
}

func newClient(h *Hub, conn *websocket.Conn, id string) *client {
	return &client{
		hub:  h,
		id:   id,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *client) setRange(start, end string) {
	c.mu.Lock()
	c.start, c.end, c.hasRange = start, end, true
	c.mu.Unlock()
}

func (c *client) viewRange() (string, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.start, c.end, c.hasRange
}

func (c *client) interestedIn(date, previousDate string) bool {
	start, end, ok := c.viewRange()
	if !ok {
		return false
	}
	if contracts.InRange(date, start, end) {
		return true
	}
	return previousDate != "" && contracts.InRange(previousDate, start, end)
}

// enqueue queues msg without blocking. A client too slow to drain its buffer loses
// frames and catches up on its next events resync.
func (c *client) enqueue(msg contracts.ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logging.Error("encode frame", err, "type", msg.Type)
		return
	}
	select {
	case <-c.done:
	case c.send <- payload:
		hubFrames.WithLabelValues("out", msg.Type).Inc()
	default:
		droppedFrames.WithLabelValues(msg.Type).Inc()
		logging.Info("client send buffer full, dropping frame", "client", c.id, "type", msg.Type)
	}
}

func (c *client) replyError(text string, err error) {
	message := text
	if err != nil && !errors.Is(err, errUnknownType) {
		message = text + ": " + err.Error()
	}
	logging.Debug("client request failed", "client", c.id, "err", err)
	c.enqueue(contracts.ServerMessage{Type: contracts.TypeError, Message: message})
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logging.Error("websocket read failed", err, "client", c.id)
			}
			return
		}
		var msg contracts.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.replyError("invalid JSON payload", err)
			continue
		}
		hubFrames.WithLabelValues("in", msg.Type).Inc()
		c.hub.handle(c, msg)
	}
}

func (c *client) writePump() {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logging.Error("websocket write failed", err, "client", c.id)
				c.close()
				return
			}
		}
	}
}
