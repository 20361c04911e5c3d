// Package maps is the geocoding/directions collaborator of the dispatch
// engine. Adapters talk to a real provider; Retrying and CachedRouter add the
// retry and caching policy around them so the engine never calls a provider
// inline.
package maps

import (
	"context"
	"errors"

	"github.com/example/ride-dispatch/internal/models"
)

var (
	// ErrAddressNotFound means the provider answered but could not resolve the address.
	ErrAddressNotFound = errors.New("address not found")
	// ErrNoRoute means the provider answered but found no drivable route.
	ErrNoRoute = errors.New("no route found")
	// ErrUnsupported means the wrapped provider cannot answer this kind of lookup.
	ErrUnsupported = errors.New("lookup not supported by provider")
)

type Geocoder interface {
	Geocode(ctx context.Context, address string) (models.Coord, error)
}

type Router interface {
	Route(ctx context.Context, from, to models.Coord) (models.Route, error)
}

// Suggestion is one address completion for a partially typed place.
type Suggestion struct {
	Description string `json:"description"`
	PlaceID     string `json:"place_id"`
}

// Autocompleter completes partially typed addresses so riders pick a pickup
// or destination the geocoder will resolve.
type Autocompleter interface {
	Autocomplete(ctx context.Context, input string) ([]Suggestion, error)
}

// Provider is what the dispatch engine consumes.
type Provider interface {
	Geocoder
	Router
}

type composite struct {
	Geocoder
	Router
}

// Compose joins a geocoder and a router from different backends.
func Compose(g Geocoder, r Router) Provider {
	return composite{Geocoder: g, Router: r}
}

// permanent reports errors that retrying will not fix.
func permanent(err error) bool {
	return errors.Is(err, ErrAddressNotFound) || errors.Is(err, ErrNoRoute) || errors.Is(err, ErrUnsupported) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
