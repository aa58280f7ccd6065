package viewrange

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calsync/project/internal/contracts"
)

func day(s string) time.Time {
	t, err := time.Parse(contracts.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestCompute_Examples(t *testing.T) {
	cases := []struct {
		ref  string
		mode Mode
		want Range
	}{
		{"2025-10-15", ModeMonth, Range{"2025-09-28", "2025-11-08"}},
		{"2025-06-30", ModeMonth, Range{"2025-06-01", "2025-07-12"}},
		{"2025-10-15", ModeWeek, Range{"2025-10-12", "2025-10-18"}},
		{"2025-10-12", ModeWeek, Range{"2025-10-12", "2025-10-18"}},
		{"2024-12-31", ModeWeek, Range{"2024-12-29", "2025-01-04"}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Compute(day(tc.ref), tc.mode), "%s %s", tc.ref, tc.mode)
	}
}

func TestCompute_UsesReferenceLocation(t *testing.T) {
	shanghai, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)
	ref := time.Date(2025, 10, 31, 20, 0, 0, 0, time.UTC).In(shanghai)
	assert.Equal(t, Range{"2025-10-26", "2025-12-06"}, Compute(ref, ModeMonth))
}

func TestCompute_ShapeHoldsForEveryDay(t *testing.T) {
	for d := day("2024-01-01"); d.Before(day("2027-01-01")); d = d.AddDate(0, 0, 1) {
		month := Compute(d, ModeMonth)
		days := month.Days()
		require.Len(t, days, MonthDays, d)
		require.Equal(t, time.Sunday, day(days[0]).Weekday())
		require.Contains(t, days, time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC).Format(contracts.DateLayout))

		week := Compute(d, ModeWeek)
		days = week.Days()
		require.Len(t, days, WeekDays, d)
		require.Equal(t, time.Sunday, day(days[0]).Weekday())
		require.Contains(t, days, d.Format(contracts.DateLayout))
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Week ")
	require.NoError(t, err)
	assert.Equal(t, ModeWeek, m)
	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeMonth, m)
	_, err = ParseMode("year")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

type recordingSender struct {
	sent []contracts.ClientMessage
	err  error
}

func (r *recordingSender) Send(msg contracts.ClientMessage) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingSender) ranges() []Range {
	var out []Range
	for _, m := range r.sent {
		out = append(out, Range{m.StartDate, m.EndDate})
	}
	return out
}

func newTracker(sender Sender, now time.Time) *Tracker {
	return NewTracker(Options{
		Sender:   sender,
		Location: time.UTC,
		Now:      func() time.Time { return now },
	})
}

func TestTracker_NavigationSendsChangedRanges(t *testing.T) {
	sender := &recordingSender{}
	tr := newTracker(sender, time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC))

	require.NoError(t, tr.Publish())
	require.NoError(t, tr.Next())
	require.NoError(t, tr.Prev())
	require.NoError(t, tr.Prev())
	require.NoError(t, tr.Today())
	require.NoError(t, tr.Today())
	require.NoError(t, tr.SetMode(ModeMonth))
	require.NoError(t, tr.SetMode(ModeWeek))

	assert.Equal(t, []Range{
		{"2025-09-28", "2025-11-08"},
		{"2025-10-26", "2025-12-06"},
		{"2025-09-28", "2025-11-08"},
		{"2025-08-31", "2025-10-11"},
		{"2025-09-28", "2025-11-08"},
		{"2025-10-12", "2025-10-18"},
	}, sender.ranges())
	for _, m := range sender.sent {
		assert.Equal(t, contracts.TypeViewRange, m.Type)
	}
}

func TestTracker_WeekNavigation(t *testing.T) {
	sender := &recordingSender{}
	tr := NewTracker(Options{Sender: sender, Mode: ModeWeek, Location: time.UTC, Now: func() time.Time {
		return time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	}})
	require.NoError(t, tr.Next())
	assert.Equal(t, Range{"2026-01-04", "2026-01-10"}, tr.Current())
	require.NoError(t, tr.Prev())
	require.NoError(t, tr.Prev())
	assert.Equal(t, Range{"2025-12-21", "2025-12-27"}, tr.Current())
}

func TestTracker_MonthStepClampsDay(t *testing.T) {
	tr := newTracker(nil, time.Date(2025, 1, 31, 9, 0, 0, 0, time.UTC))
	require.NoError(t, tr.Next())
	assert.Equal(t, "2025-02-28", tr.Reference())
	require.NoError(t, tr.Next())
	assert.Equal(t, "2025-03-28", tr.Reference())
}

func TestTracker_FailedSendIsRetriedOnNextPublish(t *testing.T) {
	sendErr := errors.New("not connected")
	sender := &recordingSender{err: sendErr}
	tr := newTracker(sender, time.Date(2025, 10, 15, 0, 0, 0, 0, time.UTC))

	assert.ErrorIs(t, tr.Next(), sendErr)
	sender.err = nil
	require.NoError(t, tr.Publish())
	assert.Equal(t, []Range{{"2025-10-26", "2025-12-06"}}, sender.ranges())
}

func TestTracker_CurrentRangeCountsAsDelivered(t *testing.T) {
	sender := &recordingSender{}
	tr := newTracker(sender, time.Date(2025, 10, 15, 0, 0, 0, 0, time.UTC))

	start, end := tr.CurrentRange()
	assert.Equal(t, "2025-09-28", start)
	assert.Equal(t, "2025-11-08", end)
	require.NoError(t, tr.Publish())
	assert.Empty(t, sender.sent)
}

func TestTracker_RollOver(t *testing.T) {
	now := time.Date(2025, 10, 15, 23, 59, 0, 0, time.UTC)
	sender := &recordingSender{}
	tr := NewTracker(Options{Sender: sender, Mode: ModeWeek, Location: time.UTC, Now: func() time.Time { return now }})

	now = now.Add(2 * time.Minute)
	moved, err := tr.RollOver()
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, "2025-10-16", tr.Reference())

	require.NoError(t, tr.Next())
	now = now.Add(24 * time.Hour)
	moved, err = tr.RollOver()
	require.NoError(t, err)
	assert.False(t, moved, "a view moved away from today stays put")
}

func TestTracker_GoTo(t *testing.T) {
	tr := newTracker(nil, time.Date(2025, 10, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, tr.GoTo("2024-02-29"))
	assert.Equal(t, Range{"2024-01-28", "2024-03-09"}, tr.Current())
	assert.ErrorIs(t, tr.GoTo("29/02/2024"), contracts.ErrInvalidDate)
}
