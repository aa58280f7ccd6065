package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/calsync/project/internal/client/calendar"
	"github.com/calsync/project/internal/client/notice"
	"github.com/calsync/project/internal/client/session"
	"github.com/calsync/project/internal/client/terminal"
	"github.com/calsync/project/internal/contracts"
	"github.com/calsync/project/internal/platform/config"
	"github.com/calsync/project/internal/platform/env"
	"github.com/calsync/project/internal/platform/logging"
)

type rootFlags struct {
	configPath string
	server     string
	mode       string
	timezone   string
	timeout    time.Duration
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "calendar-client",
		Short:         "Live terminal client for the shared calendar",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return env.LoadDotenv()
		},
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", config.DefaultPath(), "client config file")
	root.PersistentFlags().StringVar(&flags.server, "server", "", "calendar page URL (overrides config)")
	root.PersistentFlags().StringVar(&flags.mode, "mode", "", "view mode: month or week (overrides config)")
	root.PersistentFlags().StringVar(&flags.timezone, "timezone", "", "IANA timezone (overrides config)")
	root.PersistentFlags().DurationVar(&flags.timeout, "timeout", 15*time.Second, "how long one-shot commands wait for the server")

	root.AddCommand(
		newWatchCommand(flags),
		newListCommand(flags),
		newCreateCommand(flags),
		newUpdateCommand(flags),
		newDeleteCommand(flags),
	)
	return root
}

func (f *rootFlags) load() (config.Client, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Client{}, err
	}
	if f.server != "" {
		cfg.ServerURL = f.server
	}
	if f.mode != "" {
		cfg.Mode = f.mode
	}
	if f.timezone != "" {
		cfg.Timezone = f.timezone
	}
	if err := cfg.Validate(); err != nil {
		return config.Client{}, err
	}
	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

func sessionConfig(cfg config.Client) session.Config {
	sc := session.DefaultConfig()
	if cfg.Heartbeat.Interval > 0 {
		sc.HeartbeatInterval = cfg.Heartbeat.Interval
	}
	if cfg.Heartbeat.Timeout > 0 {
		sc.HeartbeatTimeout = cfg.Heartbeat.Timeout
	}
	return sc
}

// newCalendar builds a client printing to out. Live views also print status, presence
// and list updates; one-shot commands only print notices.
func newCalendar(cfg config.Client, out io.Writer, live bool) (*calendar.Calendar, *terminal.Printer, error) {
	printer := terminal.NewPrinter(out)
	opts := calendar.Options{
		Mode:     cfg.ViewMode(),
		Location: cfg.Location(),
		Session:  sessionConfig(cfg),
		Notices:  quietNotices{next: printer},
	}
	if live {
		opts.Notices = printer
		opts.Status = printer
		opts.Renderer = printer
		opts.Presence = printer
	}
	cal, err := calendar.New(cfg.ServerURL, opts)
	if err != nil {
		return nil, nil, err
	}
	return cal, printer, nil
}

var errServerRejected = errors.New("server rejected the request")

// runOnce connects, waits for the first events list, runs act and then waits until
// done accepts an inbound message.
func runOnce(ctx context.Context, cal *calendar.Calendar, act func() error, done func(contracts.ServerMessage) bool) error {
	return withSession(ctx, cal, func(inbound <-chan contracts.ServerMessage) error {
		if act == nil {
			return nil
		}
		if err := act(); err != nil {
			return err
		}
		return waitFor(ctx, inbound, done)
	})
}

// withSession connects, waits for the first events list and hands fn the inbound
// messages that follow. The session is closed when fn returns.
func withSession(ctx context.Context, cal *calendar.Calendar, fn func(inbound <-chan contracts.ServerMessage) error) error {
	inbound, stopWatching := cal.Watch(64)
	defer stopWatching()

	cal.Start()
	defer cal.Stop()

	if err := waitFor(ctx, inbound, isEventsList); err != nil {
		return fmt.Errorf("waiting for events from %s: %w", cal.Session.Endpoint(), err)
	}
	return fn(inbound)
}

func isEventsList(m contracts.ServerMessage) bool {
	return m.Type == contracts.TypeEvents || m.Type == contracts.TypeEventsList
}

func waitFor(ctx context.Context, inbound <-chan contracts.ServerMessage, match func(contracts.ServerMessage) bool) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-inbound:
			if msg.Type == contracts.TypeError {
				return fmt.Errorf("%w: %s", errServerRejected, msg.Message)
			}
			if match(msg) {
				return nil
			}
		}
	}
}

// quietNotices drops the success notices one-shot commands would otherwise print next
// to their own output.
type quietNotices struct{ next notice.Sink }

func (q quietNotices) Notify(n notice.Notice) {
	if n.Level == notice.LevelSuccess {
		return
	}
	q.next.Notify(n)
}
