package eventstore

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calsync/project/internal/client/notice"
	"github.com/calsync/project/internal/contracts"
)

type fakeSender struct {
	sent []contracts.ClientMessage
	err  error
}

func (f *fakeSender) Send(msg contracts.ClientMessage) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type sinks struct {
	notices  []notice.Notice
	renders  int
	presence []int
}

func newStore(sender Sender) (*Store, *sinks) {
	k := &sinks{}
	s := New(Options{
		Sender:   sender,
		Notices:  notice.SinkFunc(func(n notice.Notice) { k.notices = append(k.notices, n) }),
		Renderer: RendererFunc(func([]contracts.Event) { k.renders++ }),
		Presence: PresenceFunc(func(c int) { k.presence = append(k.presence, c) }),
	})
	return s, k
}

func ev(id, date string) contracts.Event {
	return contracts.Event{ID: id, Title: "title " + id, Date: date, Color: "blue"}
}

func TestStore_CreateDeleteScenario(t *testing.T) {
	s, k := newStore(&fakeSender{})

	s.HandleServerMessage(contracts.ServerMessage{Type: contracts.TypeEvents, Events: []contracts.Event{ev("1", "2024-06-01")}})
	require.Equal(t, 1, s.Len())

	s.HandleServerMessage(contracts.ServerMessage{Type: contracts.TypeEventDeleted, EventID: "1"})
	assert.Equal(t, 0, s.Len())
	_, ok := s.EventByID("1")
	assert.False(t, ok)
	require.Len(t, k.notices, 1)
	assert.Equal(t, notice.LevelSuccess, k.notices[0].Level)

	s.HandleServerMessage(contracts.ServerMessage{Type: contracts.TypeEventDeleted, EventID: "1"})
	assert.Equal(t, 0, s.Len())
	assert.Len(t, k.notices, 1, "repeat delete is silent")
	assert.Equal(t, 2, k.renders)
}

func TestStore_EventsIsFullReplace(t *testing.T) {
	s, _ := newStore(&fakeSender{})
	s.HandleServerMessage(contracts.ServerMessage{Type: contracts.TypeEvents, Events: []contracts.Event{ev("a", "2025-01-01"), ev("b", "2025-01-02")}})

	want := []contracts.Event{ev("c", "2025-02-01"), ev("d", "2025-02-02")}
	s.HandleServerMessage(contracts.ServerMessage{Type: contracts.TypeEvents, Events: want})
	assert.Equal(t, want, s.Events())

	s.HandleServerMessage(contracts.ServerMessage{Type: contracts.TypeEventsList})
	assert.Empty(t, s.Events())
}

func TestStore_CreatedAppendsAndKeepsIDsUnique(t *testing.T) {
	s, k := newStore(&fakeSender{})
	a := ev("a", "2025-01-01")
	s.HandleServerMessage(contracts.ServerMessage{Type: contracts.TypeEventCreated, Event: &a})

	again := a
	again.Title = "renamed"
	s.HandleServerMessage(contracts.ServerMessage{Type: contracts.TypeEventCreated, Event: &again})

	got := s.Events()
	require.Len(t, got, 1)
	assert.Equal(t, "renamed", got[0].Title)
	assert.Len(t, k.notices, 2)
}

func TestStore_UpdatedReplacesWholesale(t *testing.T) {
	s, _ := newStore(&fakeSender{})
	orig := ev("a", "2025-01-01")
	orig.Description = "keep me?"
	s.HandleServerMessage(contracts.ServerMessage{Type: contracts.TypeEvents, Events: []contracts.Event{orig, ev("b", "2025-01-01")}})

	upd := contracts.Event{ID: "a", Title: "new", Date: "2025-01-03"}
	s.HandleServerMessage(contracts.ServerMessage{Type: contracts.TypeEventUpdated, Event: &upd})

	got := s.Events()
	assert.Equal(t, upd, got[0], "replace, not merge")
	assert.Equal(t, "b", got[1].ID)
	assert.Len(t, s.EventsOnDate("2025-01-01"), 1)
	assert.Len(t, s.EventsOnDate("2025-01-03"), 1)
}

func TestStore_UpdateForUnknownEventRequestsFullList(t *testing.T) {
	sender := &fakeSender{}
	s, k := newStore(sender)
	s.HandleServerMessage(contracts.ServerMessage{Type: contracts.TypeEvents, Events: []contracts.Event{ev("a", "2025-01-01")}})

	ghost := ev("zzz", "2025-01-05")
	s.HandleServerMessage(contracts.ServerMessage{Type: contracts.TypeEventUpdated, Event: &ghost})

	assert.Equal(t, []contracts.Event{ev("a", "2025-01-01")}, s.Events())
	require.Len(t, sender.sent, 1)
	assert.Equal(t, contracts.TypeGetEvents, sender.sent[0].Type)
	assert.Equal(t, 1, s.Resyncs())
	assert.Empty(t, k.notices)
}

func TestStore_PresenceAndErrors(t *testing.T) {
	s, k := newStore(&fakeSender{})
	s.HandleServerMessage(contracts.ServerMessage{Type: contracts.TypeOnlineUsers, Count: 4})
	s.HandleServerMessage(contracts.ServerMessage{Type: contracts.TypeError, Message: "title is required"})
	s.HandleServerMessage(contracts.ServerMessage{Type: "something_new"})

	assert.Equal(t, []int{4}, k.presence)
	assert.Equal(t, 4, s.OnlineUsers())
	require.Len(t, k.notices, 1)
	assert.Equal(t, notice.Error("title is required"), k.notices[0])
	assert.Equal(t, 0, k.renders)
}

func TestStore_RequestsDoNotTouchLocalState(t *testing.T) {
	sender := &fakeSender{}
	s, _ := newStore(sender)

	require.NoError(t, s.RequestCreate(contracts.Event{ID: "client-made", Title: "Lunch", Date: "2025-03-04"}))
	require.NoError(t, s.RequestUpdate(contracts.Event{ID: "x", Title: "Lunch", Date: "2025-03-04", Color: "green"}))
	require.NoError(t, s.RequestDelete("x"))
	require.NoError(t, s.RequestAll())

	assert.Equal(t, 0, s.Len())
	require.Len(t, sender.sent, 4)
	assert.Equal(t, contracts.TypeCreateEvent, sender.sent[0].Type)
	assert.Empty(t, sender.sent[0].Event.ID, "ids are server-assigned")
	assert.Equal(t, contracts.DefaultColor, sender.sent[0].Event.Color)
	assert.Equal(t, contracts.TypeUpdateEvent, sender.sent[1].Type)
	assert.Equal(t, "x", sender.sent[1].Event.ID)
	assert.Equal(t, contracts.ClientMessage{Type: contracts.TypeDeleteEvent, EventID: "x"}, sender.sent[2])
	assert.Equal(t, contracts.TypeGetEvents, sender.sent[3].Type)
}

func TestStore_RequestValidation(t *testing.T) {
	sender := &fakeSender{}
	s, _ := newStore(sender)

	assert.ErrorIs(t, s.RequestCreate(contracts.Event{Date: "2025-03-04"}), contracts.ErrTitleRequired)
	assert.ErrorIs(t, s.RequestUpdate(contracts.Event{Title: "x", Date: "2025-03-04"}), contracts.ErrEventIDRequired)
	assert.ErrorIs(t, s.RequestDelete("  "), contracts.ErrEventIDRequired)
	assert.Empty(t, sender.sent)

	sendErr := errors.New("not connected")
	s.SetSender(&fakeSender{err: sendErr})
	assert.ErrorIs(t, s.RequestAll(), sendErr)
}

func TestApply_RandomSequencesKeepIDsUnique(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ids := []string{"1", "2", "3", "4", "5"}

	for run := 0; run < 200; run++ {
		var events []contracts.Event
		for step := 0; step < 50; step++ {
			id := ids[rng.Intn(len(ids))]
			e := ev(id, fmt.Sprintf("2025-01-%02d", rng.Intn(28)+1))
			var msg contracts.ServerMessage
			switch rng.Intn(3) {
			case 0:
				msg = contracts.ServerMessage{Type: contracts.TypeEventCreated, Event: &e}
			case 1:
				msg = contracts.ServerMessage{Type: contracts.TypeEventUpdated, Event: &e}
			default:
				msg = contracts.ServerMessage{Type: contracts.TypeEventDeleted, EventID: id}
			}
			events, _ = Apply(events, msg)

			seen := map[string]bool{}
			for _, got := range events {
				require.False(t, seen[got.ID], "duplicate id %s after %s", got.ID, msg.Type)
				seen[got.ID] = true
			}
			if msg.Type == contracts.TypeEventDeleted {
				require.Equal(t, -1, indexOf(events, id))
			}
		}
	}
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	in := []contracts.Event{ev("a", "2025-01-01"), ev("b", "2025-01-02")}
	upd := contracts.Event{ID: "a", Title: "changed", Date: "2025-01-01"}

	out, eff := Apply(in, contracts.ServerMessage{Type: contracts.TypeEventUpdated, Event: &upd})
	assert.True(t, eff.Changed)
	assert.Equal(t, "title a", in[0].Title)
	assert.Equal(t, "changed", out[0].Title)

	out, _ = Apply(in, contracts.ServerMessage{Type: contracts.TypeEventDeleted, EventID: "a"})
	assert.Len(t, in, 2)
	assert.Len(t, out, 1)
}

func TestApply_EventsDeduplicatesByID(t *testing.T) {
	later := ev("a", "2025-01-09")
	out, _ := Apply(nil, contracts.ServerMessage{Type: contracts.TypeEvents, Events: []contracts.Event{
		ev("a", "2025-01-01"), ev("b", "2025-01-02"), later,
	}})
	require.Len(t, out, 2)
	assert.Equal(t, later, out[0])
}
