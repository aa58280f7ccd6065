// Package viewrange computes the calendar days a month or week view displays and tells the
// server whenever that window moves.
package viewrange

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/calsync/project/internal/contracts"
)

type Mode string

const (
	ModeMonth Mode = "month"
	ModeWeek  Mode = "week"
)

// MonthDays is the size of the month grid: six full weeks.
const MonthDays = 42

const WeekDays = 7

var ErrUnknownMode = errors.New("unknown view mode")

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeMonth, "":
		return ModeMonth, nil
	case ModeWeek:
		return ModeWeek, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, raw)
	}
}

// Range is an inclusive span of calendar days in contracts.DateLayout.
type Range struct {
	Start string
	End   string
}

// Days lists every day of the range in order.
func (r Range) Days() []string {
	start, err := time.Parse(contracts.DateLayout, r.Start)
	if err != nil {
		return nil
	}
	end, err := time.Parse(contracts.DateLayout, r.End)
	if err != nil || end.Before(start) {
		return nil
	}
	var out []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format(contracts.DateLayout))
	}
	return out
}

// Compute returns the range displayed for ref in the given mode, using ref's calendar day
// in ref's own location. Month: 42 days from the Sunday on or before the 1st. Week: 7 days
// from the Sunday on or before ref.
func Compute(ref time.Time, mode Mode) Range {
	day := civil(ref)
	var start time.Time
	length := WeekDays
	switch mode {
	case ModeWeek:
		start = day.AddDate(0, 0, -int(day.Weekday()))
	default:
		first := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
		start = first.AddDate(0, 0, -int(first.Weekday()))
		length = MonthDays
	}
	end := start.AddDate(0, 0, length-1)
	return Range{Start: start.Format(contracts.DateLayout), End: end.Format(contracts.DateLayout)}
}

// civil drops the clock and location, keeping the calendar day as seen in t's location.
func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// shiftMonths moves day by n months, clamping to the last day of the target month.
func shiftMonths(day time.Time, n int) time.Time {
	first := time.Date(day.Year(), day.Month()+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	d := day.Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}

// Sender is satisfied by the transport session.
type Sender interface {
	Send(msg contracts.ClientMessage) error
}

type Options struct {
	Sender   Sender
	Mode     Mode
	Location *time.Location
	Now      func() time.Time
}

// Tracker holds the reference day and mode behind the visible grid.
type Tracker struct {
	sender Sender
	loc    *time.Location
	now    func() time.Time

	mu       sync.Mutex
	mode     Mode
	ref      time.Time
	lastSent Range
}

func NewTracker(opts Options) *Tracker {
	t := &Tracker{
		sender: opts.Sender,
		loc:    opts.Location,
		now:    opts.Now,
		mode:   opts.Mode,
	}
	if t.loc == nil {
		t.loc = time.Local
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.mode == "" {
		t.mode = ModeMonth
	}
	t.ref = t.today()
	return t
}

func (t *Tracker) SetSender(s Sender) {
	t.mu.Lock()
	t.sender = s
	t.mu.Unlock()
}

func (t *Tracker) today() time.Time {
	return civil(t.now().In(t.loc))
}

// Current is the range currently displayed.
func (t *Tracker) Current() Range {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Compute(t.ref, t.mode)
}

// CurrentRange returns the displayed range and records it as delivered. The session
// calls it when it pushes the range on open.
func (t *Tracker) CurrentRange() (string, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := Compute(t.ref, t.mode)
	t.lastSent = r
	return r.Start, r.End
}

func (t *Tracker) Mode() Mode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode
}

// Reference is the day the view is anchored to.
func (t *Tracker) Reference() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ref.Format(contracts.DateLayout)
}

func (t *Tracker) Prev() error {
	return t.navigate(func(ref time.Time, mode Mode) (time.Time, Mode) {
		if mode == ModeWeek {
			return ref.AddDate(0, 0, -WeekDays), mode
		}
		return shiftMonths(ref, -1), mode
	})
}

func (t *Tracker) Next() error {
	return t.navigate(func(ref time.Time, mode Mode) (time.Time, Mode) {
		if mode == ModeWeek {
			return ref.AddDate(0, 0, WeekDays), mode
		}
		return shiftMonths(ref, 1), mode
	})
}

func (t *Tracker) Today() error {
	today := t.today()
	return t.navigate(func(_ time.Time, mode Mode) (time.Time, Mode) {
		return today, mode
	})
}

func (t *Tracker) SetMode(mode Mode) error {
	if mode != ModeMonth && mode != ModeWeek {
		return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	return t.navigate(func(ref time.Time, _ Mode) (time.Time, Mode) {
		return ref, mode
	})
}

// GoTo anchors the view on the given calendar day.
func (t *Tracker) GoTo(date string) error {
	day, err := time.Parse(contracts.DateLayout, date)
	if err != nil {
		return fmt.Errorf("go to %q: %w", date, contracts.ErrInvalidDate)
	}
	return t.navigate(func(_ time.Time, mode Mode) (time.Time, Mode) {
		return day, mode
	})
}

// RollOver follows the calendar into a new day: a view anchored on yesterday moves to
// today. It reports whether the view moved.
func (t *Tracker) RollOver() (bool, error) {
	today := t.today()
	yesterday := today.AddDate(0, 0, -1)
	t.mu.Lock()
	following := t.ref.Equal(yesterday)
	t.mu.Unlock()
	if !following {
		return false, nil
	}
	return true, t.Today()
}

// Publish sends the current range if it differs from the last one delivered.
func (t *Tracker) Publish() error {
	return t.navigate(func(ref time.Time, mode Mode) (time.Time, Mode) {
		return ref, mode
	})
}

func (t *Tracker) navigate(step func(ref time.Time, mode Mode) (time.Time, Mode)) error {
	t.mu.Lock()
	t.ref, t.mode = step(t.ref, t.mode)
	r := Compute(t.ref, t.mode)
	if r == t.lastSent {
		t.mu.Unlock()
		return nil
	}
	sender := t.sender
	t.mu.Unlock()

	if sender == nil {
		return nil
	}
	if err := sender.Send(contracts.ClientMessage{Type: contracts.TypeViewRange, StartDate: r.Start, EndDate: r.End}); err != nil {
		return fmt.Errorf("send view range: %w", err)
	}

	t.mu.Lock()
	if Compute(t.ref, t.mode) == r {
		t.lastSent = r
	}
	t.mu.Unlock()
	return nil
}
