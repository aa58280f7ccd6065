// Package session owns the single live connection to the calendar server and keeps it
// alive: heartbeats detect half-open sockets, closed connections are redialed with
// capped exponential backoff, and visibility or network signals from the host
// application trigger immediate recovery.
//
// All state lives in one Session guarded by one mutex. Every connection attempt gets a
// new generation number; dial results, inbound frames and timer callbacks carry the
// generation they were started for and are ignored once it is superseded, so a late
// event from an old connection never touches the current one.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/calsync/project/internal/client/notice"
	"github.com/calsync/project/internal/contracts"
	"github.com/calsync/project/internal/platform/logging"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")
)

// State is the lifecycle state of the session.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
)

// Status is what the status indicator shows.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusConnecting   Status = "connecting"
	StatusDisconnected Status = "disconnected"
)

// MessageHandler receives every well-formed inbound frame except pong, in server order
// and never concurrently. It may call Send.
type MessageHandler interface {
	HandleServerMessage(msg contracts.ServerMessage)
}

// RangeSource provides the currently displayed date window, pushed right after open.
type RangeSource interface {
	CurrentRange() (start, end string)
}

// StatusSink observes connection status. It is called with the session lock held and
// must not call back into the session.
type StatusSink interface {
	SetStatus(Status)
}

type StatusFunc func(Status)

func (f StatusFunc) SetStatus(s Status) { f(s) }

type Config struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	Multiplier        float64
	MaxAttempts       int
	DialTimeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  5 * time.Second,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		Multiplier:        1.5,
		MaxAttempts:       10,
		DialTimeout:       10 * time.Second,
	}
}

// withDefaults fills every zero or negative field from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	return c
}

type Options struct {
	Config   Config
	Dialer   Dialer
	Clock    Clock
	Handler  MessageHandler
	Ranges   RangeSource
	Status   StatusSink
	Notices  notice.Sink
	Visible  *bool
	Endpoint string
}

type Session struct {
	endpoint string
	cfg      Config
	dialer   Dialer
	clock    Clock
	ranges   RangeSource
	status   StatusSink
	notices  notice.Sink

	deliverMu sync.Mutex

	mu         sync.Mutex
	handler    MessageHandler
	state      State
	lastStatus Status
	gen        uint64
	conn       Conn
	cancelDial context.CancelFunc
	manual     bool
	visible    bool
	exhausted  bool
	backoff    Backoff

	heartbeatTick    Timer
	heartbeatTimeout Timer
	pingSeq          uint64
	awaitingPong     bool
	reconnectTimer   Timer
}

// New builds a session for the page at pageURL. It does not connect; call Connect.
func New(pageURL string, opts Options) (*Session, error) {
	endpoint := opts.Endpoint
	if endpoint == "" {
		derived, err := EndpointURL(pageURL)
		if err != nil {
			return nil, err
		}
		endpoint = derived
	}

	cfg := opts.Config.withDefaults()
	s := &Session{
		endpoint: endpoint,
		cfg:      cfg,
		dialer:   opts.Dialer,
		clock:    opts.Clock,
		handler:  opts.Handler,
		ranges:   opts.Ranges,
		status:   opts.Status,
		notices:  opts.Notices,
		state:    StateIdle,
		visible:  true,
		backoff:  NewBackoff(cfg),
	}
	if opts.Visible != nil {
		s.visible = *opts.Visible
	}
	if s.dialer == nil {
		s.dialer = NewWSDialer()
	}
	if s.clock == nil {
		s.clock = realClock{}
	}
	if s.notices == nil {
		s.notices = notice.Discard
	}
	reportState(s.state)
	return s, nil
}

func (s *Session) Endpoint() string { return s.endpoint }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts is the number of reconnect attempts since the last successful open.
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backoff.Attempts()
}

// Connect explicitly (re)starts the session. It clears the manual-close flag and, like a
// page reload, the exhausted-retries condition. It is a no-op while open.
func (s *Session) Connect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manual = false
	if s.exhausted {
		s.exhausted = false
		s.backoff.Reset()
	}
	s.connectLocked()
}

// Close shuts the session down for good: timers are cancelled, the connection is
// detached and closed, and no automatic reconnect happens until Connect is called.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manual = true
	s.teardownLocked()
	s.setStateLocked(StateIdle)
	s.setStatusLocked(StatusDisconnected)
}

// Send encodes and writes msg when the connection is open. Otherwise the message is
// dropped, the user is told, a reconnect is started, and ErrNotConnected is returned.
func (s *Session) Send(msg contracts.ClientMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen || s.conn == nil {
		s.notices.Notify(notice.Error("Connection lost, message not sent. Reconnecting..."))
		if s.autoConnectAllowedLocked() {
			s.connectLocked()
		}
		return fmt.Errorf("send %s: %w", msg.Type, ErrNotConnected)
	}
	return s.writeLocked(msg)
}

// SetVisible reports foreground (true) or background (false). Regaining visibility
// reconnects immediately unless already open.
func (s *Session) SetVisible(visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasVisible := s.visible
	s.visible = visible
	if !visible || wasVisible {
		return
	}
	if s.state != StateOpen && s.autoConnectAllowedLocked() {
		logging.Info("page visible again, checking connection", "state", s.state)
		s.connectLocked()
	}
}

func (s *Session) NetworkOnline() {
	s.mu.Lock()
	defer s.mu.Unlock()
	logging.Info("network online")
	s.notices.Notify(notice.Info("Network restored, reconnecting..."))
	if s.autoConnectAllowedLocked() {
		s.connectLocked()
	}
}

func (s *Session) NetworkOffline() {
	s.mu.Lock()
	defer s.mu.Unlock()
	logging.Info("network offline")
	s.notices.Notify(notice.Error("Network connection lost"))
	s.setStatusLocked(StatusDisconnected)
}

func (s *Session) autoConnectAllowedLocked() bool {
	return !s.manual && !s.exhausted
}

func (s *Session) connectLocked() {
	if s.state == StateOpen || s.state == StateConnecting {
		return
	}
	s.teardownLocked()

	gen := s.gen
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DialTimeout)
	s.cancelDial = cancel
	s.setStateLocked(StateConnecting)
	s.setStatusLocked(StatusConnecting)
	logging.Debug("dialing", "endpoint", s.endpoint, "generation", gen)
	go s.dial(ctx, cancel, gen)
}

func (s *Session) dial(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	conn, err := s.dialer.Dial(ctx, s.endpoint)
	cancel()

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	s.cancelDial = nil
	if err != nil {
		logging.Error("connect failed", err, "endpoint", s.endpoint)
		s.handleCloseLocked(err)
		s.mu.Unlock()
		return
	}
	s.openLocked(conn, gen)
	s.mu.Unlock()

	go s.readLoop(conn, gen)
}

func (s *Session) openLocked(conn Conn, gen uint64) {
	logging.Info("connection established", "endpoint", s.endpoint)
	s.conn = conn
	s.setStateLocked(StateOpen)
	s.backoff.Reset()
	s.startHeartbeatLocked(gen)
	s.setStatusLocked(StatusConnected)
	s.notices.Notify(notice.Success("Connected"))
	s.pushViewRangeLocked()
}

func (s *Session) pushViewRangeLocked() {
	if s.ranges == nil {
		return
	}
	start, end := s.ranges.CurrentRange()
	if start == "" || end == "" {
		return
	}
	_ = s.writeLocked(contracts.ClientMessage{Type: contracts.TypeViewRange, StartDate: start, EndDate: end})
}

func (s *Session) writeLocked(msg contracts.ClientMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	if err := s.conn.WriteMessage(payload); err != nil {
		logging.Error("write failed", err, "type", msg.Type)
		s.handleCloseLocked(err)
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	framesTotal.WithLabelValues("out", msg.Type).Inc()
	return nil
}

func (s *Session) readLoop(conn Conn, gen uint64) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			if gen == s.gen {
				logging.Info("connection closed", "err", err)
				s.handleCloseLocked(err)
			}
			s.mu.Unlock()
			return
		}

		var msg contracts.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logging.Error("dropping malformed frame", err, "bytes", len(data))
			framesTotal.WithLabelValues("in", "malformed").Inc()
			continue
		}
		if !s.deliver(gen, msg) {
			return
		}
	}
}

// deliver hands one frame to the handler. It reports false once gen is superseded.
func (s *Session) deliver(gen uint64, msg contracts.ServerMessage) bool {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return false
	}
	framesTotal.WithLabelValues("in", msg.Type).Inc()
	if msg.Type == contracts.TypePong {
		s.onPongLocked()
		s.mu.Unlock()
		return true
	}
	handler := s.handler
	s.mu.Unlock()

	if handler != nil {
		handler.HandleServerMessage(msg)
	}
	return true
}

// handleCloseLocked runs after the current connection failed for any reason: remote
// close, network error, dial failure, heartbeat timeout or write failure.
func (s *Session) handleCloseLocked(cause error) {
	s.teardownLocked()
	s.setStatusLocked(StatusDisconnected)
	if s.manual || !s.visible {
		logging.Info("not scheduling reconnect", "manual", s.manual, "visible", s.visible, "cause", cause)
		s.setStateLocked(StateIdle)
		return
	}
	s.scheduleReconnectLocked()
}

func (s *Session) scheduleReconnectLocked() {
	delay, ok := s.backoff.Next()
	if !ok {
		s.setStateLocked(StateIdle)
		if !s.exhausted {
			s.exhausted = true
			reconnectAttempts.WithLabelValues("exhausted").Inc()
			logging.Info("reconnect attempts exhausted", "max_attempts", s.cfg.MaxAttempts)
			s.notices.Notify(notice.Error("Connection failed. Reload to try again."))
		}
		return
	}

	gen := s.gen
	attempt := s.backoff.Attempts()
	s.setStateLocked(StateReconnecting)
	s.setStatusLocked(StatusConnecting)
	reconnectAttempts.WithLabelValues("scheduled").Inc()
	logging.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
	s.reconnectTimer = s.clock.AfterFunc(delay, func() {
		s.onReconnectTimer(gen, attempt)
	})
}

func (s *Session) onReconnectTimer(gen uint64, attempt int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state != StateReconnecting {
		return
	}
	s.reconnectTimer = nil
	if s.manual {
		return
	}
	if !s.visible {
		// Resumes on SetVisible(true).
		s.setStateLocked(StateIdle)
		s.setStatusLocked(StatusDisconnected)
		return
	}
	logging.Info("reconnect attempt", "attempt", attempt)
	s.connectLocked()
}

func (s *Session) startHeartbeatLocked(gen uint64) {
	s.stopHeartbeatLocked()
	s.heartbeatTick = s.clock.AfterFunc(s.cfg.HeartbeatInterval, func() {
		s.onHeartbeatTick(gen)
	})
}

func (s *Session) onHeartbeatTick(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state != StateOpen {
		return
	}

	if s.heartbeatTimeout != nil {
		s.heartbeatTimeout.Stop()
		s.heartbeatTimeout = nil
	}
	s.pingSeq++
	seq := s.pingSeq
	s.awaitingPong = true
	if err := s.writeLocked(contracts.ClientMessage{Type: contracts.TypePing}); err != nil {
		return
	}
	s.heartbeatTimeout = s.clock.AfterFunc(s.cfg.HeartbeatTimeout, func() {
		s.onHeartbeatTimeout(gen, seq)
	})
	s.heartbeatTick = s.clock.AfterFunc(s.cfg.HeartbeatInterval, func() {
		s.onHeartbeatTick(gen)
	})
}

func (s *Session) onHeartbeatTimeout(gen, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || seq != s.pingSeq || !s.awaitingPong {
		return
	}
	logging.Info("heartbeat timeout, closing connection", "timeout", s.cfg.HeartbeatTimeout)
	s.handleCloseLocked(ErrHeartbeatTimeout)
}

func (s *Session) onPongLocked() {
	s.awaitingPong = false
	if s.heartbeatTimeout != nil {
		s.heartbeatTimeout.Stop()
		s.heartbeatTimeout = nil
	}
}

func (s *Session) stopHeartbeatLocked() {
	if s.heartbeatTick != nil {
		s.heartbeatTick.Stop()
		s.heartbeatTick = nil
	}
	if s.heartbeatTimeout != nil {
		s.heartbeatTimeout.Stop()
		s.heartbeatTimeout = nil
	}
	s.awaitingPong = false
}

// teardownLocked invalidates the current generation and releases everything tied to it.
func (s *Session) teardownLocked() {
	s.gen++
	s.stopHeartbeatLocked()
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (s *Session) setStateLocked(state State) {
	s.state = state
	reportState(state)
}

func (s *Session) setStatusLocked(status Status) {
	if status == s.lastStatus {
		return
	}
	s.lastStatus = status
	if s.status != nil {
		s.status.SetStatus(status)
	}
}
