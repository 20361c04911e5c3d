package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("write without deadline")
	}
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { f.closed = true; return nil }

func TestPublishRideKeyedByRide(t *testing.T) {
	rides, locs := &fakeWriter{}, &fakeWriter{}
	k := &KafkaPublisher{rides: rides, locations: locs, timeout: time.Second}
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	r := &models.Ride{ID: "r1", Status: models.StatusAccepted, DriverID: "d1", UpdatedAt: at}

	if err := k.PublishRide(context.Background(), FromRide(RideAccepted, r)); err != nil {
		t.Fatal(err)
	}
	if len(rides.msgs) != 1 || string(rides.msgs[0].Key) != "r1" || len(locs.msgs) != 0 {
		t.Fatalf("unexpected messages rides=%v locs=%v", rides.msgs, locs.msgs)
	}
	var got RideEvent
	if err := json.Unmarshal(rides.msgs[0].Value, &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != RideAccepted || got.Status != models.StatusAccepted || got.DriverID != "d1" || !got.At.Equal(at) {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestPublishLocationAndClose(t *testing.T) {
	rides, locs := &fakeWriter{}, &fakeWriter{err: errors.New("broker down")}
	k := &KafkaPublisher{rides: rides, locations: locs, timeout: time.Second}
	if err := k.PublishLocation(context.Background(), models.Driver{ID: "d9"}); err == nil {
		t.Fatalf("expected broker error")
	}
	k.Close()
	if !rides.closed || !locs.closed {
		t.Fatalf("both writers should be closed")
	}
}
