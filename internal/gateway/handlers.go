package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/example/ride-dispatch/internal/apperr"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

// Inbound event names.
const (
	EventRegisterDriver    = "registerDriver"
	EventRegisterRider     = "registerRider"
	EventDriverLocation    = "driverLocation"
	EventAcceptRide        = "acceptRide"
	EventRejectRide        = "rejectRide"
	EventArrivedAtPickup   = "arrivedAtPickup"
	EventPickedUpPassenger = "pickedUpPassenger"
	EventEndTrip           = "endTrip"
	EventCancelRide        = "cancelRide"
	EventRateRide          = "rateRide"
)

var (
	badEnvelope   = apperr.Validation("bad_envelope", `expected {"event": ..., "data": {...}}`)
	notRegistered = apperr.InvalidAction("not_registered", "register before sending this event", false)
)

type registerData struct {
	DriverID string  `json:"driver_id"`
	RiderID  string  `json:"rider_id"`
	Token    string  `json:"token"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

type locationData struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Available *bool   `json:"available"`
}

type rideData struct {
	RideID string `json:"ride_id"`
	Reason string `json:"reason"`
	Rating int    `json:"rating"`
	Review string `json:"review"`
}

// handle runs one inbound event. Its context is detached from the
// connection: a disconnect does not abort a transition already under way.
func (g *Gateway) handle(c *client, in inbound) {
	observability.GatewayEvents.WithLabelValues(in.Event).Inc()
	ctx, cancel := context.WithTimeout(context.Background(), g.eventTimeout)
	defer cancel()

	var rideID string
	err := func() error {
		switch in.Event {
		case EventRegisterDriver, EventRegisterRider:
			return g.register(ctx, c, in)
		case EventDriverLocation:
			return g.location(ctx, c, in.Data)
		}

		if _, known := rideEvents[in.Event]; !known {
			return apperr.Validation("unknown_event", "unknown event "+in.Event)
		}
		var d rideData
		if err := decode(in.Data, &d); err != nil {
			return err
		}
		if rideID = strings.TrimSpace(d.RideID); rideID == "" {
			return apperr.Validation("missing_ride_id", "ride_id is required")
		}
		switch in.Event {
		case EventAcceptRide:
			driverID, err := g.driverOf(c)
			if err != nil {
				return err
			}
			// losing the race is answered with rideTaken by the engine
			_, _, err = g.dispatch.Accept(ctx, driverID, rideID)
			return err
		case EventRejectRide:
			driverID, err := g.driverOf(c)
			if err != nil {
				return err
			}
			_, err = g.dispatch.Reject(ctx, driverID, rideID)
			return err
		case EventArrivedAtPickup, EventPickedUpPassenger, EventEndTrip:
			driverID, err := g.driverOf(c)
			if err != nil {
				return err
			}
			return g.advance(ctx, in.Event, driverID, rideID)
		case EventCancelRide:
			actor, err := g.actorOf(c)
			if err != nil {
				return err
			}
			_, err = g.dispatch.Cancel(ctx, actor, rideID, d.Reason)
			return err
		case EventRateRide:
			riderID, ok := g.riders.IdentityOf(c.handle)
			if !ok {
				return notRegistered
			}
			_, err := g.lifecycle.Rate(ctx, riderID, rideID, d.Rating, d.Review)
			return err
		}
		return nil
	}()
	if err != nil {
		g.replyError(c, in.Event, rideID, err)
	}
}

var rideEvents = map[string]struct{}{
	EventAcceptRide:        {},
	EventRejectRide:        {},
	EventArrivedAtPickup:   {},
	EventPickedUpPassenger: {},
	EventEndTrip:           {},
	EventCancelRide:        {},
	EventRateRide:          {},
}

func (g *Gateway) advance(ctx context.Context, event, driverID, rideID string) error {
	var err error
	switch event {
	case EventArrivedAtPickup:
		_, err = g.lifecycle.Arrive(ctx, driverID, rideID)
	case EventPickedUpPassenger:
		_, err = g.lifecycle.Start(ctx, driverID, rideID)
	case EventEndTrip:
		_, err = g.lifecycle.Complete(ctx, driverID, rideID)
	}
	return err
}

func (g *Gateway) register(ctx context.Context, c *client, in inbound) error {
	var d registerData
	if err := decode(in.Data, &d); err != nil {
		return err
	}
	driver := in.Event == EventRegisterDriver
	id, reg, other, role := strings.TrimSpace(d.RiderID), g.riders, g.drivers, storage.RoleRider
	if driver {
		id, reg, other, role = strings.TrimSpace(d.DriverID), g.drivers, g.riders, storage.RoleDriver
	}
	if id == "" {
		return apperr.Validation("missing_id", role+"_id is required")
	}
	if err := g.auth.Verify(d.Token, id); err != nil {
		observability.AuthFailures.WithLabelValues("gateway").Inc()
		return apperr.InvalidAction("unauthorized", err.Error(), false)
	}

	// a connection is either a driver or a rider, never both
	other.RemoveByConnection(c.handle)
	reg.Register(id, c.handle)
	g.logger.Info("participant registered", "role", role, "id", id, "handle", c.handle)
	g.reply(c, notify.Notification{Event: notify.EventRegistered, Data: notify.Registered{Role: role, ID: id}})

	if driver {
		loc := models.Coord{Lat: d.Lat, Lng: d.Lng}
		if loc.Valid() {
			g.drivers.UpdateLocation(id, loc, true)
			if err := g.dispatch.ReportLocation(ctx, id, loc, true); err != nil {
				g.logger.Warn("register location not recorded", "driver_id", id, "error", err)
			}
		}
		_, err := g.dispatch.ResyncDriver(ctx, id)
		return err
	}
	_, err := g.dispatch.ResyncRider(ctx, id)
	return err
}

func (g *Gateway) location(ctx context.Context, c *client, raw json.RawMessage) error {
	driverID, err := g.driverOf(c)
	if err != nil {
		return err
	}
	var d locationData
	if err := decode(raw, &d); err != nil {
		return err
	}
	available := true
	if d.Available != nil {
		available = *d.Available
	}
	loc := models.Coord{Lat: d.Lat, Lng: d.Lng}
	if err := g.dispatch.ReportLocation(ctx, driverID, loc, available); err != nil {
		return err
	}
	g.drivers.UpdateLocation(driverID, loc, available)
	return nil
}

func (g *Gateway) driverOf(c *client) (string, error) {
	if id, ok := g.drivers.IdentityOf(c.handle); ok {
		return id, nil
	}
	return "", notRegistered
}

func (g *Gateway) actorOf(c *client) (storage.Participant, error) {
	if id, ok := g.drivers.IdentityOf(c.handle); ok {
		return storage.Participant{Role: storage.RoleDriver, ID: id}, nil
	}
	if id, ok := g.riders.IdentityOf(c.handle); ok {
		return storage.Participant{Role: storage.RoleRider, ID: id}, nil
	}
	return storage.Participant{}, notRegistered
}

func (g *Gateway) reply(c *client, n notify.Notification) {
	b, err := json.Marshal(n)
	if err != nil {
		return
	}
	g.sendTo(c.handle, b)
}

func (g *Gateway) replyError(c *client, action, rideID string, err error) {
	e := apperr.As(err)
	if e.Kind == apperr.KindInternal {
		g.logger.Error("event failed", "event", action, "ride_id", rideID, "error", err)
	}
	g.reply(c, notify.Notification{Event: notify.EventInvalidAction, Data: notify.InvalidAction{
		Action:    action,
		RideID:    rideID,
		Kind:      string(e.Kind),
		Code:      e.Code,
		Message:   e.Message,
		Retryable: e.Retryable,
	}})
}

func decode(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		var syn *json.SyntaxError
		if errors.As(err, &syn) {
			return badEnvelope
		}
		return apperr.Validation("bad_payload", err.Error())
	}
	return nil
}
