// Package events publishes ride state changes and driver locations to Kafka
// for downstream consumers (analytics, billing, the location consumer).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
)

// Ride event types.
const (
	RideCreated        = "ride.created"
	RideAccepted       = "ride.accepted"
	RideRejected       = "ride.rejected"
	RideReoffered      = "ride.reoffered"
	RideArrived        = "ride.arrived"
	RideStarted        = "ride.started"
	RideCompleted      = "ride.completed"
	RideCancelled      = "ride.cancelled"
	RideRated          = "ride.rated"
	RideNoDrivers      = "ride.no_drivers_available"
	DefaultRideTopic   = "ride-events"
	DefaultDriverTopic = "driver-locations"
)

type RideEvent struct {
	Type     string            `json:"type"`
	RideID   string            `json:"ride_id"`
	Status   models.RideStatus `json:"status"`
	DriverID string            `json:"driver_id,omitempty"`
	At       time.Time         `json:"at"`
}

// FromRide builds an event from the ride as stored after a transition.
func FromRide(typ string, r *models.Ride) RideEvent {
	return RideEvent{Type: typ, RideID: r.ID, Status: r.Status, DriverID: r.DriverID, At: r.UpdatedAt}
}

type Publisher interface {
	PublishRide(ctx context.Context, e RideEvent) error
}

type LocationPublisher interface {
	PublishLocation(ctx context.Context, d models.Driver) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes ride events keyed by ride id and driver locations
// keyed by driver id, so each key stays ordered within its partition.
type KafkaPublisher struct {
	rides     messageWriter
	locations messageWriter
	timeout   time.Duration
}

func NewKafkaPublisher(brokers []string, rideTopic, locationTopic string) *KafkaPublisher {
	if rideTopic == "" {
		rideTopic = DefaultRideTopic
	}
	if locationTopic == "" {
		locationTopic = DefaultDriverTopic
	}
	return &KafkaPublisher{
		rides:     &kafka.Writer{Addr: kafka.TCP(brokers...), Topic: rideTopic, Balancer: &kafka.Hash{}},
		locations: &kafka.Writer{Addr: kafka.TCP(brokers...), Topic: locationTopic, Balancer: &kafka.Hash{}},
		timeout:   2 * time.Second,
	}
}

func (k *KafkaPublisher) PublishRide(ctx context.Context, e RideEvent) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal ride event: %w", err)
	}
	return k.write(ctx, k.rides, e.RideID, b)
}

func (k *KafkaPublisher) PublishLocation(ctx context.Context, d models.Driver) error {
	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal location: %w", err)
	}
	return k.write(ctx, k.locations, d.ID, b)
}

func (k *KafkaPublisher) write(ctx context.Context, w messageWriter, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value})
}

func (k *KafkaPublisher) Close() error {
	var first error
	for _, w := range []messageWriter{k.rides, k.locations} {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Nop discards events. Used when no brokers are configured.
type Nop struct{}

func (Nop) PublishRide(context.Context, RideEvent) error          { return nil }
func (Nop) PublishLocation(context.Context, models.Driver) error { return nil }
