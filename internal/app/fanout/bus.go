// Package fanout carries committed calendar changes between server replicas over NATS
// JetStream. Every replica publishes its own changes and delivers everything it receives
// to its local hub, so a client sees changes made through any replica.
package fanout

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/calsync/project/internal/contracts"
	"github.com/calsync/project/internal/platform/logging"
	"github.com/calsync/project/internal/platform/metrics"
	"github.com/calsync/project/internal/sharding"
)

var ErrInvalidChangePayload = errors.New("invalid change payload")

// ErrUnsupportedChangeType rejects changes the hub has no frame for.
var ErrUnsupportedChangeType = errors.New("unsupported change type")

type PublishFunc func(subject string, payload []byte) error

type DeliverFunc func(change contracts.EventChange) error

// recentLimit bounds the change ids remembered for redelivery suppression.
const recentLimit = 1024

var busChanges = metrics.NewCounterVec(metrics.Opts{
	Name: "calsync_fanout_changes_total",
	Help: "Changes handled by the fan-out bus by outcome.",
}, []string{"outcome"})

func init() {
	metrics.Default.MustRegister(busChanges)
}

type Bus struct {
	Publish PublishFunc
	Deliver DeliverFunc

	mu     sync.Mutex
	seen   map[string]struct{}
	recent []string
}

func NewBus(publish PublishFunc, deliver DeliverFunc) *Bus {
	return &Bus{
		Publish: publish,
		Deliver: deliver,
		seen:    map[string]struct{}{},
	}
}

// PublishChange sends change on the subject of its event's shard.
func (b *Bus) PublishChange(change contracts.EventChange) error {
	if err := validate(change); err != nil {
		return err
	}
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	if err := b.Publish(sharding.ChangeSubject(change.Event.ID), payload); err != nil {
		busChanges.WithLabelValues("publish_failed").Inc()
		return fmt.Errorf("publish change %s: %w", change.ChangeID, err)
	}
	busChanges.WithLabelValues("published").Inc()
	return nil
}

// Handle decodes one bus message and hands it to Deliver. A change id seen before is
// dropped so redeliveries do not reach clients twice.
func (b *Bus) Handle(subject string, payload []byte) error {
	var change contracts.EventChange
	if err := json.Unmarshal(payload, &change); err != nil {
		busChanges.WithLabelValues("invalid").Inc()
		return ErrInvalidChangePayload
	}
	if err := validate(change); err != nil {
		busChanges.WithLabelValues("invalid").Inc()
		return err
	}
	if !strings.HasPrefix(subject, sharding.ChangePrefix+".") {
		busChanges.WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: subject %q", ErrInvalidChangePayload, subject)
	}
	if change.ChangeID != "" && !b.remember(change.ChangeID) {
		busChanges.WithLabelValues("duplicate").Inc()
		return nil
	}
	busChanges.WithLabelValues("delivered").Inc()
	return b.Deliver(change)
}

// Subscribe consumes new changes from the calendar stream until the subscription is
// drained.
func (b *Bus) Subscribe(js nats.JetStreamContext) (*nats.Subscription, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream is not configured")
	}
	return js.Subscribe(sharding.AllChanges, func(msg *nats.Msg) {
		if err := b.Handle(msg.Subject, msg.Data); err != nil {
			logging.Error("handle change", err, "subject", msg.Subject)
		}
	}, nats.DeliverNew())
}

func (b *Bus) remember(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.seen[id]; ok {
		return false
	}
	b.seen[id] = struct{}{}
	b.recent = append(b.recent, id)
	if len(b.recent) > recentLimit {
		delete(b.seen, b.recent[0])
		b.recent = b.recent[1:]
	}
	return true
}

func validate(change contracts.EventChange) error {
	switch change.Type {
	case contracts.TypeEventCreated, contracts.TypeEventUpdated, contracts.TypeEventDeleted:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedChangeType, change.Type)
	}
	if strings.TrimSpace(change.Event.ID) == "" {
		return contracts.ErrEventIDRequired
	}
	return nil
}
