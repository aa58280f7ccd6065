package calendarapi

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/calsync/project/internal/app/storage"
	"github.com/calsync/project/internal/contracts"
)

type recordingSink struct {
	mu      sync.Mutex
	changes []contracts.EventChange
	err     error
}

func (r *recordingSink) PublishChange(change contracts.EventChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
	return r.err
}

func (r *recordingSink) all() []contracts.EventChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]contracts.EventChange, len(r.changes))
	copy(out, r.changes)
	return out
}

func newTestService(t *testing.T) (*Service, *recordingSink) {
	t.Helper()
	ctx := context.Background()
	repo, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "calendar.db"))
	if err != nil {
		t.Fatalf("OpenSQLite returned error: %v", err)
	}
	t.Cleanup(repo.Close)
	if err := storage.WaitReady(ctx, repo, 5*time.Second); err != nil {
		t.Fatalf("WaitReady returned error: %v", err)
	}

	sink := &recordingSink{}
	svc := NewService(repo, sink, time.UTC)
	svc.Now = func() time.Time { return time.Date(2025, 10, 18, 9, 30, 0, 0, time.UTC) }
	seq := 0
	svc.NewID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	return svc, sink
}

func TestServiceCreateAssignsIDAndPublishes(t *testing.T) {
	svc, sink := newTestService(t)

	ev, err := svc.Create(context.Background(), "client-a", contracts.Event{
		ID:    "ignored",
		Title: "  Standup ",
		Date:  "2025-10-20",
		Time:  "09:15",
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if ev.ID != "id-1" {
		t.Fatalf("expected server-assigned id, got %q", ev.ID)
	}
	if ev.Title != "Standup" || ev.Color != contracts.DefaultColor {
		t.Fatalf("draft not normalized: %+v", ev)
	}
	if ev.CreatedAt != "2025-10-18T09:30:00Z" || ev.UpdatedAt != ev.CreatedAt {
		t.Fatalf("unexpected timestamps: %+v", ev)
	}

	changes := sink.all()
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(changes))
	}
	got := changes[0]
	if got.Type != contracts.TypeEventCreated || got.Origin != "client-a" || got.Event != ev {
		t.Fatalf("unexpected change: %+v", got)
	}
}

func TestServiceUpdateKeepsCreatedAtAndRecordsPreviousDate(t *testing.T) {
	svc, sink := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "", contracts.Event{Title: "Review", Date: "2025-10-20"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	svc.Now = func() time.Time { return time.Date(2025, 10, 19, 12, 0, 0, 0, time.UTC) }

	moved, err := svc.Update(ctx, "client-b", contracts.Event{ID: created.ID, Title: "Review", Date: "2025-10-22", Color: "red"})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if moved.CreatedAt != created.CreatedAt {
		t.Fatalf("created_at changed: %s -> %s", created.CreatedAt, moved.CreatedAt)
	}
	if moved.UpdatedAt != "2025-10-19T12:00:00Z" {
		t.Fatalf("unexpected updated_at %s", moved.UpdatedAt)
	}

	renamed, err := svc.Update(ctx, "client-b", contracts.Event{ID: created.ID, Title: "Design review", Date: "2025-10-22"})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	changes := sink.all()
	if len(changes) != 3 {
		t.Fatalf("expected 3 changes, got %d", len(changes))
	}
	if changes[1].PreviousDate != "2025-10-20" {
		t.Fatalf("move should carry previous date, got %+v", changes[1])
	}
	if changes[2].PreviousDate != "" || changes[2].Event != renamed {
		t.Fatalf("same-day update should not carry previous date, got %+v", changes[2])
	}
}

func TestServiceUpdateUnknownEvent(t *testing.T) {
	svc, sink := newTestService(t)
	_, err := svc.Update(context.Background(), "", contracts.Event{ID: "nope", Title: "x", Date: "2025-10-20"})
	if !errors.Is(err, storage.ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
	if _, err := svc.Update(context.Background(), "", contracts.Event{Title: "x", Date: "2025-10-20"}); !errors.Is(err, contracts.ErrEventIDRequired) {
		t.Fatalf("expected ErrEventIDRequired, got %v", err)
	}
	if len(sink.all()) != 0 {
		t.Fatal("failed updates must not publish")
	}
}

func TestServiceDelete(t *testing.T) {
	svc, sink := newTestService(t)
	ctx := context.Background()
	created, _ := svc.Create(ctx, "", contracts.Event{Title: "Lunch", Date: "2025-10-21"})

	deleted, err := svc.Delete(ctx, "client-c", created.ID)
	if err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if deleted.Date != "2025-10-21" {
		t.Fatalf("delete should return stored event, got %+v", deleted)
	}
	if _, err := svc.Delete(ctx, "client-c", created.ID); !errors.Is(err, storage.ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound on repeat delete, got %v", err)
	}
	changes := sink.all()
	if len(changes) != 2 || changes[1].Type != contracts.TypeEventDeleted || changes[1].Origin != "client-c" {
		t.Fatalf("unexpected changes: %+v", changes)
	}
}

func TestServiceListRangeAndValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	for _, date := range []string{"2025-10-01", "2025-10-15", "2025-11-02"} {
		if _, err := svc.Create(ctx, "", contracts.Event{Title: "e " + date, Date: date}); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
	}

	inOctober, err := svc.List(ctx, "2025-10-01", "2025-10-31")
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(inOctober) != 2 {
		t.Fatalf("expected 2 events in October, got %d", len(inOctober))
	}
	all, err := svc.List(ctx, "", "")
	if err != nil || len(all) != 3 {
		t.Fatalf("expected all 3 events, got %d (%v)", len(all), err)
	}

	for _, tc := range []struct{ start, end string }{
		{"2025-10-31", "2025-10-01"},
		{"2025-10-01", ""},
		{"yesterday", "2025-10-01"},
	} {
		if _, err := svc.List(ctx, tc.start, tc.end); !errors.Is(err, ErrInvalidRange) {
			t.Fatalf("List(%q, %q) expected ErrInvalidRange, got %v", tc.start, tc.end, err)
		}
	}
}

func TestServicePublishFailureDoesNotFailWrite(t *testing.T) {
	svc, sink := newTestService(t)
	sink.err = errors.New("bus down")

	ev, err := svc.Create(context.Background(), "", contracts.Event{Title: "Still saved", Date: "2025-10-20"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, err := svc.Repo.Get(context.Background(), ev.ID); err != nil {
		t.Fatalf("event should be stored, got %v", err)
	}
}

func TestIsClientError(t *testing.T) {
	if !IsClientError(fmt.Errorf("wrap: %w", contracts.ErrTitleRequired)) {
		t.Fatal("missing title is a client error")
	}
	if !IsClientError(ErrInvalidRange) {
		t.Fatal("bad range is a client error")
	}
	if IsClientError(errors.New("disk full")) {
		t.Fatal("storage failure is not a client error")
	}
}
