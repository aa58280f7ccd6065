package calendarapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nuid"

	"github.com/calsync/project/internal/app/storage"
	"github.com/calsync/project/internal/contracts"
	"github.com/calsync/project/internal/platform/logging"
)

var ErrInvalidRange = errors.New("start_date and end_date must both be YYYY-MM-DD with start <= end")

// ChangeSink receives every committed change. The hub delivers directly; the NATS bus
// publishes for all replicas.
type ChangeSink interface {
	PublishChange(change contracts.EventChange) error
}

type ChangeSinkFunc func(contracts.EventChange) error

func (f ChangeSinkFunc) PublishChange(change contracts.EventChange) error { return f(change) }

type Service struct {
	Repo     storage.Repository
	Changes  ChangeSink
	Location *time.Location
	Now      func() time.Time
	NewID    func() string
}

func NewService(repo storage.Repository, changes ChangeSink, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		Repo:     repo,
		Changes:  changes,
		Location: loc,
		Now:      time.Now,
		NewID:    nuid.Next,
	}
}

func (s *Service) timestamp() string {
	return s.Now().In(s.Location).Format(time.RFC3339)
}

// List returns events in [start, end], or every event when both bounds are empty.
func (s *Service) List(ctx context.Context, start, end string) ([]contracts.Event, error) {
	start = strings.TrimSpace(start)
	end = strings.TrimSpace(end)
	if start == "" && end == "" {
		return s.Repo.ListAll(ctx)
	}
	if err := validateRange(start, end); err != nil {
		return nil, err
	}
	return s.Repo.ListRange(ctx, start, end)
}

func (s *Service) Create(ctx context.Context, origin string, draft contracts.Event) (contracts.Event, error) {
	ev, err := contracts.NormalizeDraft(draft)
	if err != nil {
		return contracts.Event{}, err
	}
	ev.ID = s.NewID()
	now := s.timestamp()
	ev.CreatedAt = now
	ev.UpdatedAt = now
	if err := s.Repo.Create(ctx, ev); err != nil {
		return contracts.Event{}, fmt.Errorf("create event: %w", err)
	}
	logging.Info("event created", "id", ev.ID, "date", ev.Date, "title", ev.Title)
	s.publish(origin, contracts.TypeEventCreated, ev, "")
	return ev, nil
}

// Update replaces the stored event wholesale with draft, keeping its creation time.
func (s *Service) Update(ctx context.Context, origin string, draft contracts.Event) (contracts.Event, error) {
	if strings.TrimSpace(draft.ID) == "" {
		return contracts.Event{}, contracts.ErrEventIDRequired
	}
	ev, err := contracts.NormalizeDraft(draft)
	if err != nil {
		return contracts.Event{}, err
	}
	prev, err := s.Repo.Get(ctx, ev.ID)
	if err != nil {
		return contracts.Event{}, err
	}
	ev.CreatedAt = prev.CreatedAt
	ev.UpdatedAt = s.timestamp()
	if err := s.Repo.Update(ctx, ev); err != nil {
		return contracts.Event{}, err
	}
	logging.Info("event updated", "id", ev.ID, "date", ev.Date)
	previousDate := ""
	if prev.Date != ev.Date {
		previousDate = prev.Date
	}
	s.publish(origin, contracts.TypeEventUpdated, ev, previousDate)
	return ev, nil
}

func (s *Service) Delete(ctx context.Context, origin, id string) (contracts.Event, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return contracts.Event{}, contracts.ErrEventIDRequired
	}
	ev, err := s.Repo.Delete(ctx, id)
	if err != nil {
		return contracts.Event{}, err
	}
	logging.Info("event deleted", "id", ev.ID, "date", ev.Date)
	s.publish(origin, contracts.TypeEventDeleted, ev, "")
	return ev, nil
}

// publish hands the change to the sink. Failures are logged: the change is committed
// and clients recover it on their next resync.
func (s *Service) publish(origin, changeType string, ev contracts.Event, previousDate string) {
	if s.Changes == nil {
		return
	}
	change := contracts.EventChange{
		ChangeID:     s.NewID(),
		Origin:       origin,
		Type:         changeType,
		Event:        ev,
		PreviousDate: previousDate,
		OccurredAt:   s.Now().UTC(),
	}
	if err := s.Changes.PublishChange(change); err != nil {
		logging.Error("publish change failed", err, "type", changeType, "id", ev.ID)
	}
}

func validateRange(start, end string) error {
	if _, err := time.Parse(contracts.DateLayout, start); err != nil {
		return ErrInvalidRange
	}
	if _, err := time.Parse(contracts.DateLayout, end); err != nil {
		return ErrInvalidRange
	}
	if start > end {
		return ErrInvalidRange
	}
	return nil
}

// IsClientError reports whether err stems from bad input rather than a server fault.
func IsClientError(err error) bool {
	switch {
	case errors.Is(err, contracts.ErrTitleRequired),
		errors.Is(err, contracts.ErrDateRequired),
		errors.Is(err, contracts.ErrInvalidDate),
		errors.Is(err, contracts.ErrInvalidTime),
		errors.Is(err, contracts.ErrInvalidColor),
		errors.Is(err, contracts.ErrEventIDRequired),
		errors.Is(err, ErrInvalidRange):
		return true
	}
	return false
}
