package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/calsync/project/internal/client/calendar"
	"github.com/calsync/project/internal/contracts"
)

type eventFlags struct {
	id          string
	title       string
	date        string
	at          string
	description string
	color       string
}

func (f *eventFlags) bind(cmd *cobra.Command, withID bool) {
	if withID {
		cmd.Flags().StringVar(&f.id, "id", "", "event id")
		_ = cmd.MarkFlagRequired("id")
	}
	cmd.Flags().StringVar(&f.title, "title", "", "event title")
	cmd.Flags().StringVar(&f.date, "date", "", "event date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.at, "time", "", "event time (HH:MM), empty for all-day")
	cmd.Flags().StringVar(&f.description, "description", "", "event description")
	cmd.Flags().StringVar(&f.color, "color", "", "colour tag: "+strings.Join(contracts.Palette, ", "))
}

// apply overlays the flags the user set onto base.
func (f *eventFlags) apply(cmd *cobra.Command, base contracts.Event) contracts.Event {
	set := func(name string, dst *string, v string) {
		if cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	set("title", &base.Title, f.title)
	set("date", &base.Date, f.date)
	set("time", &base.Time, f.at)
	set("description", &base.Description, f.description)
	set("color", &base.Color, f.color)
	return base
}

func newListCommand(root *rootFlags) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the events in the current month or week",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			cal, printer, err := newCalendar(cfg, cmd.OutOrStdout(), false)
			if err != nil {
				return err
			}
			if date != "" {
				if err := cal.Tracker.GoTo(date); err != nil {
					return err
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), root.timeout)
			defer cancel()
			if err := runOnce(ctx, cal, nil, nil); err != nil {
				return err
			}
			r := cal.Range()
			fmt.Fprintf(cmd.OutOrStdout(), "%s view %s .. %s\n", cal.Tracker.Mode(), r.Start, r.End)
			fmt.Fprintln(cmd.OutOrStdout(), printer.FormatEvents(cal.Events()))
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "show the month or week containing this date")
	return cmd
}

func newCreateCommand(root *rootFlags) *cobra.Command {
	flags := &eventFlags{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an event",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			cal, printer, err := newCalendar(cfg, cmd.OutOrStdout(), false)
			if err != nil {
				return err
			}
			draft := flags.apply(cmd, contracts.Event{})
			ctx, cancel := context.WithTimeout(cmd.Context(), root.timeout)
			defer cancel()

			var created contracts.Event
			err = runOnce(ctx, cal, func() error { return cal.Create(draft) }, func(m contracts.ServerMessage) bool {
				if m.Type == contracts.TypeEventCreated && m.Event != nil && m.Event.Title == strings.TrimSpace(draft.Title) && m.Event.Date == strings.TrimSpace(draft.Date) {
					created = *m.Event
					return true
				}
				return false
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n%s\n", created.ID, printer.FormatEvent(created))
			return nil
		},
	}
	flags.bind(cmd, false)
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func newUpdateCommand(root *rootFlags) *cobra.Command {
	flags := &eventFlags{}
	var near string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Replace an event; unset flags keep the current values",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			cal, printer, err := newCalendar(cfg, cmd.OutOrStdout(), false)
			if err != nil {
				return err
			}
			if near != "" {
				if err := cal.Tracker.GoTo(near); err != nil {
					return err
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), root.timeout)
			defer cancel()

			var updated contracts.Event
			act := func() error {
				base, ok := cal.EventByID(flags.id)
				if !ok {
					base = contracts.Event{ID: flags.id}
				}
				return cal.Update(flags.apply(cmd, base))
			}
			err = runOnce(ctx, cal, act, func(m contracts.ServerMessage) bool {
				if m.Type == contracts.TypeEventUpdated && m.Event != nil && m.Event.ID == flags.id {
					updated = *m.Event
					return true
				}
				return false
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n%s\n", updated.ID, printer.FormatEvent(updated))
			return nil
		},
	}
	flags.bind(cmd, true)
	cmd.Flags().StringVar(&near, "near", "", "load the view containing this date to find the current values")
	return cmd
}

func newDeleteCommand(root *rootFlags) *cobra.Command {
	var id, start, end string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete an event, or every event between --start and --end",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id = strings.TrimSpace(id)
			byRange := cmd.Flags().Changed("start") || cmd.Flags().Changed("end")
			switch {
			case id == "" && !byRange:
				return errors.New("either --id or --start and --end is required")
			case id != "" && byRange:
				return errors.New("--id cannot be combined with --start/--end")
			}

			cfg, err := root.load()
			if err != nil {
				return err
			}
			cal, printer, err := newCalendar(cfg, cmd.OutOrStdout(), false)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), root.timeout)
			defer cancel()

			if byRange {
				var deleted []contracts.Event
				err := withSession(ctx, cal, func(inbound <-chan contracts.ServerMessage) error {
					var rangeErr error
					deleted, rangeErr = deleteRange(ctx, cal, inbound, start, end)
					return rangeErr
				})
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d events between %s and %s\n", len(deleted), start, end)
				if len(deleted) > 0 {
					fmt.Fprintln(cmd.OutOrStdout(), printer.FormatEvents(deleted))
				}
				return err
			}

			err = runOnce(ctx, cal, func() error { return cal.Delete(id) }, func(m contracts.ServerMessage) bool {
				return m.Type == contracts.TypeEventDeleted && m.EventID == id
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "event id")
	cmd.Flags().StringVar(&start, "start", "", "first day of the range to clear (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "last day of the range to clear (YYYY-MM-DD)")
	return cmd
}

var errInvalidRange = errors.New("start and end must be YYYY-MM-DD with start <= end")

// deleteRange asks the server for the events dated start..end and deletes them one at a
// time, waiting for each deletion to be echoed. It returns the events deleted so far,
// also when it fails part way.
func deleteRange(ctx context.Context, cal *calendar.Calendar, inbound <-chan contracts.ServerMessage, start, end string) ([]contracts.Event, error) {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if !validDay(start) || !validDay(end) || start > end {
		return nil, errInvalidRange
	}

	if err := cal.Session.Send(contracts.ClientMessage{Type: contracts.TypeViewRange, StartDate: start, EndDate: end}); err != nil {
		return nil, err
	}
	var listed []contracts.Event
	err := waitFor(ctx, inbound, func(m contracts.ServerMessage) bool {
		if !isEventsList(m) {
			return false
		}
		listed = m.Events
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("list %s..%s: %w", start, end, err)
	}

	deleted := make([]contracts.Event, 0, len(listed))
	for _, ev := range listed {
		if !contracts.InRange(ev.Date, start, end) {
			continue
		}
		if err := cal.Delete(ev.ID); err != nil {
			return deleted, err
		}
		err := waitFor(ctx, inbound, func(m contracts.ServerMessage) bool {
			return m.Type == contracts.TypeEventDeleted && m.EventID == ev.ID
		})
		if err != nil {
			return deleted, fmt.Errorf("delete %s: %w", ev.ID, err)
		}
		deleted = append(deleted, ev)
	}
	return deleted, nil
}

func validDay(s string) bool {
	_, err := time.Parse(contracts.DateLayout, s)
	return err == nil
}
