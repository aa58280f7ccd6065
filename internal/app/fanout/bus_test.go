package fanout

import (
	"encoding/json"
	"errors"
	"strconv"
	"testing"

	"github.com/calsync/project/internal/contracts"
	"github.com/calsync/project/internal/sharding"
)

func change(id string) contracts.EventChange {
	return contracts.EventChange{
		ChangeID: "chg-" + id,
		Origin:   "client-1",
		Type:     contracts.TypeEventCreated,
		Event:    contracts.Event{ID: id, Title: "Standup", Date: "2025-10-20"},
	}
}

func TestPublishChange_UsesShardSubject(t *testing.T) {
	var gotSubject string
	var gotPayload []byte
	bus := NewBus(func(subject string, payload []byte) error {
		gotSubject = subject
		gotPayload = payload
		return nil
	}, nil)

	if err := bus.PublishChange(change("evt-1")); err != nil {
		t.Fatalf("PublishChange returned error: %v", err)
	}
	if gotSubject != "calendar.change.57.evt-1" {
		t.Fatalf("unexpected subject: %q", gotSubject)
	}
	var decoded contracts.EventChange
	if err := json.Unmarshal(gotPayload, &decoded); err != nil {
		t.Fatalf("payload invalid JSON: %v", err)
	}
	if decoded.ChangeID != "chg-evt-1" || decoded.Origin != "client-1" || decoded.Event.Title != "Standup" {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
}

func TestPublishChange_RejectsUnknownType(t *testing.T) {
	bus := NewBus(func(string, []byte) error { return nil }, nil)
	c := change("a")
	c.Type = "event_archived"
	if err := bus.PublishChange(c); !errors.Is(err, ErrUnsupportedChangeType) {
		t.Fatalf("expected ErrUnsupportedChangeType, got %v", err)
	}
}

func TestPublishChange_WrapsPublishError(t *testing.T) {
	boom := errors.New("nats down")
	bus := NewBus(func(string, []byte) error { return boom }, nil)
	if err := bus.PublishChange(change("a")); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped publish error, got %v", err)
	}
}

func TestHandle_DeliversOnceAcrossRedelivery(t *testing.T) {
	var delivered []contracts.EventChange
	bus := NewBus(nil, func(c contracts.EventChange) error {
		delivered = append(delivered, c)
		return nil
	})
	c := change("event-abc")
	payload, _ := json.Marshal(c)
	subject := sharding.ChangeSubject(c.Event.ID)

	for i := 0; i < 3; i++ {
		if err := bus.Handle(subject, payload); err != nil {
			t.Fatalf("Handle returned error: %v", err)
		}
	}
	if len(delivered) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(delivered))
	}
	if delivered[0].Origin != "client-1" {
		t.Fatalf("origin must survive the bus, got %+v", delivered[0])
	}
}

func TestHandle_InvalidPayload(t *testing.T) {
	bus := NewBus(nil, func(contracts.EventChange) error { return nil })
	if err := bus.Handle("calendar.change.1.a", []byte("{invalid json")); !errors.Is(err, ErrInvalidChangePayload) {
		t.Fatalf("expected ErrInvalidChangePayload, got %v", err)
	}
	payload, _ := json.Marshal(change("a"))
	if err := bus.Handle("app.event.1.group.g", payload); !errors.Is(err, ErrInvalidChangePayload) {
		t.Fatalf("expected ErrInvalidChangePayload for foreign subject, got %v", err)
	}
	noID := change("")
	payload, _ = json.Marshal(noID)
	if err := bus.Handle("calendar.change.1.x", payload); !errors.Is(err, contracts.ErrEventIDRequired) {
		t.Fatalf("expected ErrEventIDRequired, got %v", err)
	}
}

func TestRemember_ForgetsOldestBeyondLimit(t *testing.T) {
	bus := NewBus(nil, nil)
	for i := 0; i <= recentLimit; i++ {
		if !bus.remember(strconv.Itoa(i)) {
			t.Fatalf("id %d reported as seen", i)
		}
	}
	if !bus.remember("0") {
		t.Fatal("oldest id should have been forgotten")
	}
	if bus.remember(strconv.Itoa(recentLimit)) {
		t.Fatal("newest id should still be remembered")
	}
}
