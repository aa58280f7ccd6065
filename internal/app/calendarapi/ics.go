package calendarapi

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/calsync/project/internal/contracts"
)

const icsProductID = "-//calsync//calendar//EN"

// timedEventLength is the duration given to events that carry a clock time, since the
// event model has no end.
const timedEventLength = time.Hour

// BuildICS renders events as an iCalendar feed. Events without a time become all-day
// entries; the rest start at their time in loc.
func BuildICS(events []contracts.Event, loc *time.Location, now time.Time) string {
	if loc == nil {
		loc = time.UTC
	}
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(icsProductID)
	cal.SetXWRCalName("calsync")
	cal.SetXWRTimezone(loc.String())

	for _, ev := range events {
		day, err := time.ParseInLocation(contracts.DateLayout, ev.Date, loc)
		if err != nil {
			continue
		}
		vevent := cal.AddEvent(ev.ID + "@calsync")
		vevent.SetDtStampTime(now.UTC())
		vevent.SetSummary(ev.Title)
		if ev.Description != "" {
			vevent.SetDescription(ev.Description)
		}
		if ev.Color != "" {
			vevent.SetProperty(ical.ComponentPropertyCategories, strings.ToUpper(ev.Color))
		}
		if created, err := time.Parse(time.RFC3339, ev.CreatedAt); err == nil {
			vevent.SetCreatedTime(created.UTC())
		}
		if modified, err := time.Parse(time.RFC3339, ev.UpdatedAt); err == nil {
			vevent.SetModifiedAt(modified.UTC())
		}

		clock, err := time.Parse(contracts.TimeLayout, ev.Time)
		if ev.Time == "" || err != nil {
			vevent.SetAllDayStartAt(day)
			vevent.SetAllDayEndAt(day.AddDate(0, 0, 1))
			continue
		}
		start := time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, loc)
		vevent.SetStartAt(start.UTC())
		vevent.SetEndAt(start.Add(timedEventLength).UTC())
	}
	return cal.Serialize()
}
