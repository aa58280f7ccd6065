// Package calendar wires the transport session, the event store and the view-range tracker
// into one client. The store handles every inbound message, the tracker supplies the range
// pushed on open, and both send through the session.
package calendar

import (
	"context"
	"sync"
	"time"

	"github.com/calsync/project/internal/client/eventstore"
	"github.com/calsync/project/internal/client/notice"
	"github.com/calsync/project/internal/client/session"
	"github.com/calsync/project/internal/client/viewrange"
	"github.com/calsync/project/internal/contracts"
)

type Options struct {
	Mode     viewrange.Mode
	Location *time.Location
	Now      func() time.Time

	Session session.Config
	Dialer  session.Dialer
	Clock   session.Clock

	Notices  notice.Sink
	Status   session.StatusSink
	Renderer eventstore.Renderer
	Presence eventstore.PresenceSink
}

type Calendar struct {
	Session *session.Session
	Store   *eventstore.Store
	Tracker *viewrange.Tracker

	status *statusWatch

	mu       sync.Mutex
	watchers map[int]chan contracts.ServerMessage
	nextID   int
}

func New(pageURL string, opts Options) (*Calendar, error) {
	c := &Calendar{
		status:   &statusWatch{next: opts.Status, changed: make(chan struct{})},
		watchers: map[int]chan contracts.ServerMessage{},
	}
	c.Store = eventstore.New(eventstore.Options{
		Notices:  opts.Notices,
		Renderer: opts.Renderer,
		Presence: opts.Presence,
	})
	c.Tracker = viewrange.NewTracker(viewrange.Options{
		Mode:     opts.Mode,
		Location: opts.Location,
		Now:      opts.Now,
	})

	sess, err := session.New(pageURL, session.Options{
		Config:  opts.Session,
		Dialer:  opts.Dialer,
		Clock:   opts.Clock,
		Handler: c,
		Ranges:  c.Tracker,
		Status:  c.status,
		Notices: opts.Notices,
	})
	if err != nil {
		return nil, err
	}
	c.Session = sess
	c.Store.SetSender(sess)
	c.Tracker.SetSender(sess)
	return c, nil
}

// Start opens the connection. Events for the current range arrive once it is open.
func (c *Calendar) Start() { c.Session.Connect() }

func (c *Calendar) Stop() { c.Session.Close() }

// HandleServerMessage lets the store apply msg, then hands it to any watchers.
func (c *Calendar) HandleServerMessage(msg contracts.ServerMessage) {
	c.Store.HandleServerMessage(msg)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.watchers {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Watch returns a channel receiving every inbound message after the store applied it.
// Messages are dropped when the buffer is full. Call the returned func to stop watching.
func (c *Calendar) Watch(buffer int) (<-chan contracts.ServerMessage, func()) {
	ch := make(chan contracts.ServerMessage, buffer)
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = ch
	c.mu.Unlock()
	return ch, func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}
}

// WaitConnected blocks until the session reports connected or ctx ends.
func (c *Calendar) WaitConnected(ctx context.Context) error {
	return c.status.waitFor(ctx, session.StatusConnected)
}

func (c *Calendar) Status() session.Status {
	return c.status.get()
}

func (c *Calendar) Prev() error { return c.Tracker.Prev() }
func (c *Calendar) Next() error { return c.Tracker.Next() }
func (c *Calendar) Today() error { return c.Tracker.Today() }
func (c *Calendar) SetMode(m viewrange.Mode) error { return c.Tracker.SetMode(m) }
func (c *Calendar) Range() viewrange.Range { return c.Tracker.Current() }
func (c *Calendar) Create(draft contracts.Event) error { return c.Store.RequestCreate(draft) }
func (c *Calendar) Update(draft contracts.Event) error { return c.Store.RequestUpdate(draft) }
func (c *Calendar) Delete(id string) error { return c.Store.RequestDelete(id) }
func (c *Calendar) Refresh() error { return c.Store.RequestAll() }

func (c *Calendar) EventsOnDate(date string) []contracts.Event { return c.Store.EventsOnDate(date) }

func (c *Calendar) EventByID(id string) (contracts.Event, bool) { return c.Store.EventByID(id) }

func (c *Calendar) Events() []contracts.Event { return c.Store.Events() }

// statusWatch records the last status and wakes waiters on every change.
type statusWatch struct {
	next session.StatusSink

	mu      sync.Mutex
	current session.Status
	changed chan struct{}
}

func (w *statusWatch) SetStatus(s session.Status) {
	w.mu.Lock()
	w.current = s
	close(w.changed)
	w.changed = make(chan struct{})
	w.mu.Unlock()
	if w.next != nil {
		w.next.SetStatus(s)
	}
}

func (w *statusWatch) get() session.Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

func (w *statusWatch) waitFor(ctx context.Context, want session.Status) error {
	for {
		w.mu.Lock()
		current, changed := w.current, w.changed
		w.mu.Unlock()
		if current == want {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}
