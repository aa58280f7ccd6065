package contracts

import (
	"errors"
	"strings"
	"time"
)

var ErrTitleRequired = errors.New("title is required")
var ErrDateRequired = errors.New("date is required")
var ErrInvalidDate = errors.New("date must be YYYY-MM-DD")
var ErrInvalidTime = errors.New("time must be HH:MM")
var ErrInvalidColor = errors.New("unknown color")
var ErrEventIDRequired = errors.New("event_id is required")

// NormalizeDraft trims the draft's fields, fills the default colour and checks the
// required ones. The id is left untouched.
func NormalizeDraft(ev Event) (Event, error) {
	ev.ID = strings.TrimSpace(ev.ID)
	ev.Title = strings.TrimSpace(ev.Title)
	ev.Date = strings.TrimSpace(ev.Date)
	ev.Time = strings.TrimSpace(ev.Time)
	ev.Description = strings.TrimSpace(ev.Description)
	ev.Color = strings.ToLower(strings.TrimSpace(ev.Color))

	if ev.Title == "" {
		return Event{}, ErrTitleRequired
	}
	if ev.Date == "" {
		return Event{}, ErrDateRequired
	}
	if _, err := time.Parse(DateLayout, ev.Date); err != nil {
		return Event{}, ErrInvalidDate
	}
	if ev.Time != "" {
		if _, err := time.Parse(TimeLayout, ev.Time); err != nil {
			return Event{}, ErrInvalidTime
		}
	}
	if ev.Color == "" {
		ev.Color = DefaultColor
	}
	if !ValidColor(ev.Color) {
		return Event{}, ErrInvalidColor
	}
	return ev, nil
}

// InRange reports whether date falls within [start, end]. Calendar-day strings compare
// lexically.
func InRange(date, start, end string) bool {
	return date >= start && date <= end
}
