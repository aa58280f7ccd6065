package messaging

import (
	"errors"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/calsync/project/internal/sharding"
)

// CalendarStream carries every calendar change so all server replicas see them.
const CalendarStream = "CALENDAR"

// ChangeRetention bounds how long changes stay in the stream. Replicas only need recent
// history; the database is the source of truth.
const ChangeRetention = 24 * time.Hour

// EnsureStreams creates the calendar stream when it does not exist yet.
func EnsureStreams(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(CalendarStream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return err
		}
		if _, addErr := js.AddStream(&nats.StreamConfig{
			Name:      CalendarStream,
			Subjects:  []string{sharding.AllChanges},
			Retention: nats.LimitsPolicy,
			Storage:   nats.FileStorage,
			MaxAge:    ChangeRetention,
			Replicas:  1,
		}); addErr != nil {
			return addErr
		}
	}
	return nil
}
