package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/calsync/project/internal/contracts"
)

func newSQLite(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	repo, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "calendar.db"))
	if err != nil {
		t.Fatalf("OpenSQLite returned error: %v", err)
	}
	t.Cleanup(repo.Close)
	if err := WaitReady(ctx, repo, 5*time.Second); err != nil {
		t.Fatalf("WaitReady returned error: %v", err)
	}
	return repo
}

func event(id, date, at string) contracts.Event {
	return contracts.Event{
		ID:        id,
		Title:     "event " + id,
		Date:      date,
		Time:      at,
		Color:     "blue",
		CreatedAt: "2025-10-01T08:00:00+08:00",
		UpdatedAt: "2025-10-01T08:00:00+08:00",
	}
}

func TestSQLiteRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := newSQLite(t)

	ev := event("a", "2025-10-15", "09:00")
	if err := repo.Create(ctx, ev); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	got, err := repo.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got != ev {
		t.Fatalf("unexpected event: %+v", got)
	}

	ev.Title = "renamed"
	ev.Description = "moved"
	ev.Date = "2025-10-16"
	if err := repo.Update(ctx, ev); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	got, _ = repo.Get(ctx, "a")
	if got.Title != "renamed" || got.Date != "2025-10-16" || got.Description != "moved" {
		t.Fatalf("update not applied: %+v", got)
	}

	deleted, err := repo.Delete(ctx, "a")
	if err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if deleted.Title != "renamed" {
		t.Fatalf("Delete should return the stored event, got %+v", deleted)
	}
	if _, err := repo.Get(ctx, "a"); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound after delete, got %v", err)
	}
	if _, err := repo.Delete(ctx, "a"); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound on repeat delete, got %v", err)
	}
	if err := repo.Update(ctx, ev); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound on update of missing event, got %v", err)
	}
}

func TestSQLiteRepository_ListRangeOrdersByDateAndTime(t *testing.T) {
	ctx := context.Background()
	repo := newSQLite(t)
	for _, ev := range []contracts.Event{
		event("late", "2025-10-15", "18:00"),
		event("outside", "2025-11-09", ""),
		event("early", "2025-10-15", "08:00"),
		event("allday", "2025-10-15", ""),
		event("first", "2025-09-28", "12:00"),
	} {
		if err := repo.Create(ctx, ev); err != nil {
			t.Fatalf("Create %s: %v", ev.ID, err)
		}
	}

	got, err := repo.ListRange(ctx, "2025-09-28", "2025-11-08")
	if err != nil {
		t.Fatalf("ListRange returned error: %v", err)
	}
	want := []string{"first", "allday", "early", "late"}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d: %+v", len(want), len(got), got)
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}

	all, err := repo.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll returned error: %v", err)
	}
	if len(all) != 5 || all[4].ID != "outside" {
		t.Fatalf("unexpected ListAll result: %+v", all)
	}

	empty, err := repo.ListRange(ctx, "2030-01-01", "2030-01-31")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil list, got %v %v", empty, err)
	}
}

func TestOpen_FallsBackToSQLite(t *testing.T) {
	repo, err := Open(context.Background(), "", filepath.Join(t.TempDir(), "x.db"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer repo.Close()
	if _, ok := repo.(*SQLiteRepository); !ok {
		t.Fatalf("expected SQLite repository, got %T", repo)
	}
}
