package eventstore

import (
	"github.com/calsync/project/internal/client/notice"
	"github.com/calsync/project/internal/contracts"
)

// Effect describes what applying one server message did beyond the event list itself.
type Effect struct {
	Changed bool
	Notice  *notice.Notice
	// Resync asks the caller to request the full event list again.
	Resync bool
	// OnlineUsers is -1 when the message carried no presence count.
	OnlineUsers int
}

// Apply reduces one server message onto events and returns the new list. The input slice
// is never modified; the result shares no backing array with it when Changed is true.
// Every id in the result is unique.
func Apply(events []contracts.Event, msg contracts.ServerMessage) ([]contracts.Event, Effect) {
	eff := Effect{OnlineUsers: -1}

	switch msg.Type {
	case contracts.TypeEvents, contracts.TypeEventsList:
		eff.Changed = true
		return dedupe(msg.Events), eff

	case contracts.TypeEventCreated:
		if msg.Event == nil {
			return events, eff
		}
		next := clone(events)
		if idx := indexOf(next, msg.Event.ID); idx >= 0 {
			next[idx] = *msg.Event
		} else {
			next = append(next, *msg.Event)
		}
		eff.Changed = true
		eff.Notice = noticePtr(notice.Success("Event created"))
		return next, eff

	case contracts.TypeEventUpdated:
		if msg.Event == nil {
			return events, eff
		}
		idx := indexOf(events, msg.Event.ID)
		if idx < 0 {
			eff.Resync = true
			return events, eff
		}
		next := clone(events)
		next[idx] = *msg.Event
		eff.Changed = true
		eff.Notice = noticePtr(notice.Success("Event updated"))
		return next, eff

	case contracts.TypeEventDeleted:
		if msg.EventID == "" {
			return events, eff
		}
		idx := indexOf(events, msg.EventID)
		if idx < 0 {
			return events, eff
		}
		next := make([]contracts.Event, 0, len(events)-1)
		next = append(next, events[:idx]...)
		next = append(next, events[idx+1:]...)
		eff.Changed = true
		eff.Notice = noticePtr(notice.Success("Event deleted"))
		return next, eff

	case contracts.TypeOnlineUsers:
		eff.OnlineUsers = msg.Count
		return events, eff

	case contracts.TypeError:
		text := msg.Message
		if text == "" {
			text = "Operation failed"
		}
		eff.Notice = noticePtr(notice.Error(text))
		return events, eff
	}

	return events, eff
}

// dedupe keeps the first position of each id with the last value seen for it.
func dedupe(in []contracts.Event) []contracts.Event {
	out := make([]contracts.Event, 0, len(in))
	pos := make(map[string]int, len(in))
	for _, ev := range in {
		if idx, ok := pos[ev.ID]; ok {
			out[idx] = ev
			continue
		}
		pos[ev.ID] = len(out)
		out = append(out, ev)
	}
	return out
}

func indexOf(events []contracts.Event, id string) int {
	for i := range events {
		if events[i].ID == id {
			return i
		}
	}
	return -1
}

func clone(events []contracts.Event) []contracts.Event {
	out := make([]contracts.Event, len(events), len(events)+1)
	copy(out, events)
	return out
}

func noticePtr(n notice.Notice) *notice.Notice { return &n }
