// Package eventstore holds the client's copy of the calendar events. The copy changes only
// when the server says so: request methods send messages and leave local state alone,
// and HandleServerMessage folds each server push in through Apply.
package eventstore

import (
	"fmt"
	"strings"
	"sync"

	"github.com/calsync/project/internal/client/notice"
	"github.com/calsync/project/internal/contracts"
	"github.com/calsync/project/internal/platform/logging"
)

// Sender is satisfied by the transport session.
type Sender interface {
	Send(msg contracts.ClientMessage) error
}

// Renderer is told about every change to the event list.
type Renderer interface {
	EventsChanged(events []contracts.Event)
}

// PresenceSink shows the number of connected users.
type PresenceSink interface {
	OnlineUsers(count int)
}

type RendererFunc func([]contracts.Event)

func (f RendererFunc) EventsChanged(events []contracts.Event) { f(events) }

type PresenceFunc func(int)

func (f PresenceFunc) OnlineUsers(count int) { f(count) }

type Options struct {
	Sender   Sender
	Notices  notice.Sink
	Renderer Renderer
	Presence PresenceSink
}

type Store struct {
	sender   Sender
	notices  notice.Sink
	renderer Renderer
	presence PresenceSink

	mu      sync.RWMutex
	events  []contracts.Event
	online  int
	resyncs int
}

func New(opts Options) *Store {
	s := &Store{
		sender:   opts.Sender,
		notices:  opts.Notices,
		renderer: opts.Renderer,
		presence: opts.Presence,
	}
	if s.notices == nil {
		s.notices = notice.Discard
	}
	return s
}

// SetSender attaches the transport once it exists.
func (s *Store) SetSender(sender Sender) {
	s.mu.Lock()
	s.sender = sender
	s.mu.Unlock()
}

// HandleServerMessage applies one server push. Messages arrive one at a time in server
// order.
func (s *Store) HandleServerMessage(msg contracts.ServerMessage) {
	s.mu.Lock()
	next, eff := Apply(s.events, msg)
	s.events = next
	if eff.OnlineUsers >= 0 {
		s.online = eff.OnlineUsers
	}
	if eff.Resync {
		s.resyncs++
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if eff.Notice != nil {
		s.notices.Notify(*eff.Notice)
	}
	if eff.Changed && s.renderer != nil {
		s.renderer.EventsChanged(snapshot)
	}
	if eff.OnlineUsers >= 0 && s.presence != nil {
		s.presence.OnlineUsers(eff.OnlineUsers)
	}
	if eff.Resync {
		id := ""
		if msg.Event != nil {
			id = msg.Event.ID
		}
		logging.Info("update for unknown event, requesting full list", "event_id", id)
		_ = s.RequestAll()
	}
}

// RequestAll asks the server for every event in the current view.
func (s *Store) RequestAll() error {
	return s.send(contracts.ClientMessage{Type: contracts.TypeGetEvents})
}

// RequestCreate sends a draft for creation. Any id on the draft is dropped; the server
// assigns one and echoes the record back as event_created.
func (s *Store) RequestCreate(draft contracts.Event) error {
	ev, err := contracts.NormalizeDraft(draft)
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	ev.ID = ""
	ev.CreatedAt = ""
	ev.UpdatedAt = ""
	return s.send(contracts.ClientMessage{Type: contracts.TypeCreateEvent, Event: &ev})
}

func (s *Store) RequestUpdate(draft contracts.Event) error {
	if strings.TrimSpace(draft.ID) == "" {
		return fmt.Errorf("update event: %w", contracts.ErrEventIDRequired)
	}
	ev, err := contracts.NormalizeDraft(draft)
	if err != nil {
		return fmt.Errorf("update event %s: %w", draft.ID, err)
	}
	return s.send(contracts.ClientMessage{Type: contracts.TypeUpdateEvent, Event: &ev})
}

func (s *Store) RequestDelete(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("delete event: %w", contracts.ErrEventIDRequired)
	}
	return s.send(contracts.ClientMessage{Type: contracts.TypeDeleteEvent, EventID: id})
}

func (s *Store) send(msg contracts.ClientMessage) error {
	s.mu.RLock()
	sender := s.sender
	s.mu.RUnlock()
	if sender == nil {
		return fmt.Errorf("send %s: no transport attached", msg.Type)
	}
	return sender.Send(msg)
}

// EventsOnDate returns the events on the given calendar day in store order.
func (s *Store) EventsOnDate(date string) []contracts.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contracts.Event
	for _, ev := range s.events {
		if ev.Date == date {
			out = append(out, ev)
		}
	}
	return out
}

func (s *Store) EventByID(id string) (contracts.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx := indexOf(s.events, id); idx >= 0 {
		return s.events[idx], true
	}
	return contracts.Event{}, false
}

// Events returns a copy of the whole list in store order.
func (s *Store) Events() []contracts.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func (s *Store) OnlineUsers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

// Resyncs counts full-list requests triggered by updates for unknown events.
func (s *Store) Resyncs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resyncs
}

func (s *Store) snapshotLocked() []contracts.Event {
	out := make([]contracts.Event, len(s.events))
	copy(out, s.events)
	return out
}
