package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/calsync/project/internal/client/calendar"
	"github.com/calsync/project/internal/client/terminal"
	"github.com/calsync/project/internal/client/viewrange"
	"github.com/calsync/project/internal/platform/logging"
)

const watchHelp = `keys: n next, p previous, t today, m month, w week, r refresh, l list, q quit`

func newWatchCommand(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the calendar live, printing every change",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			cal, printer, err := newCalendar(cfg, out, true)
			if err != nil {
				return err
			}

			midnight := cron.New(cron.WithLocation(cfg.Location()))
			if _, err := midnight.AddFunc("0 0 * * *", func() { rollOver(cal) }); err != nil {
				return err
			}
			midnight.Start()
			defer midnight.Stop()

			stopSignals := watchVisibility(cal.Session)
			defer stopSignals()

			fmt.Fprintf(out, "connecting to %s\n%s\n", cal.Session.Endpoint(), watchHelp)
			cal.Start()
			defer cal.Stop()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go func() {
				readKeys(cmd.InOrStdin(), cal, printer, out)
				cancel()
			}()
			<-ctx.Done()
			return nil
		},
	}
}

// rollOver re-anchors the view on the new day when it was following today.
func rollOver(cal *calendar.Calendar) {
	moved, err := cal.Tracker.RollOver()
	if err != nil {
		logging.Error("midnight roll-over", err)
		return
	}
	if moved {
		logging.Info("view moved to new day", "range_start", cal.Range().Start, "range_end", cal.Range().End)
	}
}

func readKeys(in io.Reader, cal *calendar.Calendar, printer *terminal.Printer, out io.Writer) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		var err error
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "":
			continue
		case "n":
			err = cal.Next()
		case "p":
			err = cal.Prev()
		case "t":
			err = cal.Today()
		case "m":
			err = cal.SetMode(viewrange.ModeMonth)
		case "w":
			err = cal.SetMode(viewrange.ModeWeek)
		case "r":
			err = cal.Refresh()
		case "l":
			r := cal.Range()
			fmt.Fprintf(out, "%s view %s .. %s\n%s\n", cal.Tracker.Mode(), r.Start, r.End, printer.FormatEvents(cal.Events()))
		case "q":
			return
		default:
			fmt.Fprintln(out, watchHelp)
		}
		if err != nil {
			fmt.Fprintln(out, err)
		}
	}
}
