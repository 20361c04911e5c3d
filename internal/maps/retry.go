package maps

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Retrying retries transient provider failures with exponential backoff.
// Not-found and no-route answers are returned immediately.
type Retrying struct {
	Next     Provider
	Attempts int
	Delay    time.Duration
	Logger   *slog.Logger
}

func NewRetrying(next Provider, attempts int, delay time.Duration, logger *slog.Logger) *Retrying {
	if attempts <= 0 {
		attempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{Next: next, Attempts: attempts, Delay: delay, Logger: logger}
}

func (r *Retrying) Geocode(ctx context.Context, address string) (models.Coord, error) {
	var out models.Coord
	err := r.do(ctx, "geocode", func() error {
		var err error
		out, err = r.Next.Geocode(ctx, address)
		return err
	})
	return out, err
}

func (r *Retrying) Route(ctx context.Context, from, to models.Coord) (models.Route, error) {
	var out models.Route
	err := r.do(ctx, "route", func() error {
		var err error
		out, err = r.Next.Route(ctx, from, to)
		return err
	})
	return out, err
}

// Autocomplete retries Next's completions when Next can complete addresses.
func (r *Retrying) Autocomplete(ctx context.Context, input string) ([]Suggestion, error) {
	a, ok := r.Next.(Autocompleter)
	if !ok {
		return nil, ErrUnsupported
	}
	var out []Suggestion
	err := r.do(ctx, "autocomplete", func() error {
		var err error
		out, err = a.Autocomplete(ctx, input)
		return err
	})
	return out, err
}

func (r *Retrying) do(ctx context.Context, op string, call func() error) error {
	delay := r.Delay
	var err error
	for i := 0; i < r.Attempts; i++ {
		if err = call(); err == nil || permanent(err) {
			return err
		}
		if i == r.Attempts-1 {
			break
		}
		r.Logger.Warn("maps call failed, retrying", "op", op, "attempt", i+1, "backoff", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
