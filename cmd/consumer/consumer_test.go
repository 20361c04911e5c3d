package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// fakeMover fails the first fail calls.
type fakeMover struct {
	fail  int
	calls int
	last  models.Coord
}

func (f *fakeMover) Move(ctx context.Context, id string, loc models.Coord, active bool) error {
	f.calls++
	f.last = loc
	if f.calls <= f.fail {
		return errors.New("geoadd fail")
	}
	return nil
}

func TestMoveWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeMover{fail: 2}
	d := models.Driver{ID: "d1", Loc: models.Coord{Lat: 1, Lng: 2}, Rating: 4.5, Active: true}
	start := time.Now()
	if err := moveWithRetry(context.Background(), f, d, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls != 3 || f.last != d.Loc {
		t.Fatalf("expected 3 calls ending at %+v, got %d at %+v", d.Loc, f.calls, f.last)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("expected doubling backoff between attempts")
	}
}

func TestMoveWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeMover{fail: 5}
	d := models.Driver{ID: "d1", Loc: models.Coord{Lat: 1, Lng: 2}}
	if err := moveWithRetry(context.Background(), f, d, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", f.calls)
	}
}

func TestMoveWithRetry_StopsOnCancel(t *testing.T) {
	f := &fakeMover{fail: 5}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := moveWithRetry(ctx, f, models.Driver{ID: "d1"}, 3, time.Second)
	if !errors.Is(err, context.Canceled) || f.calls != 1 {
		t.Fatalf("expected cancellation after first attempt, got %v (%d calls)", err, f.calls)
	}
}

func TestDecodeLocation(t *testing.T) {
	d, err := decodeLocation([]byte(`{"id":"d1","loc":{"lat":6.5,"lng":3.4},"rating":4.8,"active":true}`))
	if err != nil || d.ID != "d1" || d.Loc.Lng != 3.4 || !d.Active {
		t.Fatalf("unexpected decode %+v err=%v", d, err)
	}
	if _, err := decodeLocation([]byte(`{"id":"d1","loc":{"lat":0,"lng":0}}`)); !errors.Is(err, errInvalidLocation) {
		t.Fatalf("zero coordinates should be invalid, got %v", err)
	}
	if _, err := decodeLocation([]byte(`not json`)); err == nil {
		t.Fatalf("expected json error")
	}
}
