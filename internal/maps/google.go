package maps

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

const googleEndpoint = "https://maps.googleapis.com/maps/api"

// GoogleClient implements Provider with the Geocoding and Directions web
// APIs, and Autocompleter with Places Autocomplete.
type GoogleClient struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewGoogleClient(key string) *GoogleClient {
	return &GoogleClient{Endpoint: googleEndpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

type googleLatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (g *GoogleClient) Geocode(ctx context.Context, address string) (models.Coord, error) {
	var out struct {
		Status  string `json:"status"`
		Results []struct {
			Geometry struct {
				Location googleLatLng `json:"location"`
			} `json:"geometry"`
		} `json:"results"`
		ErrorMessage string `json:"error_message"`
	}
	if err := g.get(ctx, "/geocode/json", url.Values{"address": {address}}, &out); err != nil {
		return models.Coord{}, err
	}
	switch out.Status {
	case "OK":
	case "ZERO_RESULTS":
		return models.Coord{}, ErrAddressNotFound
	default:
		return models.Coord{}, fmt.Errorf("geocode %s: %s", out.Status, out.ErrorMessage)
	}
	if len(out.Results) == 0 {
		return models.Coord{}, ErrAddressNotFound
	}
	loc := out.Results[0].Geometry.Location
	return models.Coord{Lat: loc.Lat, Lng: loc.Lng}, nil
}

func (g *GoogleClient) Route(ctx context.Context, from, to models.Coord) (models.Route, error) {
	var out struct {
		Status string `json:"status"`
		Routes []struct {
			Legs []struct {
				Distance struct {
					Value float64 `json:"value"`
				} `json:"distance"`
				Duration struct {
					Value float64 `json:"value"`
				} `json:"duration"`
			} `json:"legs"`
		} `json:"routes"`
		ErrorMessage string `json:"error_message"`
	}
	q := url.Values{
		"origin":      {fmt.Sprintf("%f,%f", from.Lat, from.Lng)},
		"destination": {fmt.Sprintf("%f,%f", to.Lat, to.Lng)},
	}
	if err := g.get(ctx, "/directions/json", q, &out); err != nil {
		return models.Route{}, err
	}
	switch out.Status {
	case "OK":
	case "ZERO_RESULTS", "NOT_FOUND":
		return models.Route{}, ErrNoRoute
	default:
		return models.Route{}, fmt.Errorf("directions %s: %s", out.Status, out.ErrorMessage)
	}
	if len(out.Routes) == 0 || len(out.Routes[0].Legs) == 0 {
		return models.Route{}, ErrNoRoute
	}
	leg := out.Routes[0].Legs[0]
	return legToRoute(leg.Distance.Value, leg.Duration.Value), nil
}

// Autocomplete uses the Places Autocomplete API. No match is an empty list,
// not an error.
func (g *GoogleClient) Autocomplete(ctx context.Context, input string) ([]Suggestion, error) {
	var out struct {
		Status      string `json:"status"`
		Predictions []struct {
			Description string `json:"description"`
			PlaceID     string `json:"place_id"`
		} `json:"predictions"`
		ErrorMessage string `json:"error_message"`
	}
	if err := g.get(ctx, "/place/autocomplete/json", url.Values{"input": {input}}, &out); err != nil {
		return nil, err
	}
	switch out.Status {
	case "OK", "ZERO_RESULTS":
	default:
		return nil, fmt.Errorf("autocomplete %s: %s", out.Status, out.ErrorMessage)
	}
	suggestions := make([]Suggestion, 0, len(out.Predictions))
	for _, p := range out.Predictions {
		suggestions = append(suggestions, Suggestion{Description: p.Description, PlaceID: p.PlaceID})
	}
	return suggestions, nil
}

func (g *GoogleClient) get(ctx context.Context, path string, q url.Values, into any) error {
	q.Set("key", g.Key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.Endpoint+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("maps %s: http %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(into)
}
