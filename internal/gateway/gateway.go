// Package gateway is the realtime transport: one websocket per participant,
// named events in, notifications out. It resolves who is speaking from the
// connection's registration and hands the work to the dispatch engine and
// ride lifecycle.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/storage"
)

// Dispatcher is the part of the dispatch engine the gateway drives.
type Dispatcher interface {
	Accept(ctx context.Context, driverID, rideID string) (*models.Ride, bool, error)
	Reject(ctx context.Context, driverID, rideID string) (*models.Ride, error)
	Cancel(ctx context.Context, actor storage.Participant, rideID, reason string) (*models.Ride, error)
	ResyncDriver(ctx context.Context, driverID string) (int, error)
	ResyncRider(ctx context.Context, riderID string) (int, error)
	ReportLocation(ctx context.Context, driverID string, loc models.Coord, active bool) error
}

// Lifecycle is the part of the ride lifecycle the gateway drives.
type Lifecycle interface {
	Arrive(ctx context.Context, driverID, rideID string) (*models.Ride, error)
	Start(ctx context.Context, driverID, rideID string) (*models.Ride, error)
	Complete(ctx context.Context, driverID, rideID string) (*models.Ride, error)
	Rate(ctx context.Context, riderID, rideID string, rating int, review string) (*models.Ride, error)
}

// Relay forwards a frame to whichever instance holds the participant.
type Relay interface {
	Publish(ctx context.Context, namespace, id string, envelope []byte) error
}

type Gateway struct {
	drivers *presence.Registry
	riders  *presence.Registry

	dispatch  Dispatcher
	lifecycle Lifecycle
	relay     Relay
	push      Pusher
	auth      *Authenticator

	upgrader     websocket.Upgrader
	eventTimeout time.Duration
	logger       *slog.Logger

	mu      sync.RWMutex
	clients map[presence.Handle]*client
}

type Option func(*Gateway)

func WithRelay(r Relay) Option                  { return func(g *Gateway) { g.relay = r } }
func WithPush(p Pusher) Option                  { return func(g *Gateway) { g.push = p } }
func WithAuthenticator(a *Authenticator) Option { return func(g *Gateway) { g.auth = a } }
func WithLogger(l *slog.Logger) Option          { return func(g *Gateway) { g.logger = l } }
func WithEventTimeout(d time.Duration) Option   { return func(g *Gateway) { g.eventTimeout = d } }

func New(drivers, riders *presence.Registry, opts ...Option) *Gateway {
	g := &Gateway{
		drivers: drivers,
		riders:  riders,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		eventTimeout: 10 * time.Second,
		logger:       slog.Default(),
		clients:      make(map[presence.Handle]*client),
	}
	for _, o := range opts {
		o(g)
	}
	g.logger = g.logger.With("component", "gateway")
	return g
}

// Bind attaches the handlers. The engine needs the gateway as its notifier,
// so the two are wired after construction.
func (g *Gateway) Bind(d Dispatcher, l Lifecycle) {
	g.dispatch = d
	g.lifecycle = l
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &client{handle: presence.Handle(uuid.NewString()), conn: conn, send: make(chan []byte, sendBuffer)}
	g.add(c)
	go g.writePump(c)
	g.readPump(c)
}

func (g *Gateway) add(c *client) {
	g.mu.Lock()
	g.clients[c.handle] = c
	g.mu.Unlock()
}

// unregister forgets the connection and whoever was registered on it.
// In-flight events from this connection keep running.
func (g *Gateway) unregister(c *client) {
	g.mu.Lock()
	if _, ok := g.clients[c.handle]; ok {
		delete(g.clients, c.handle)
		close(c.send)
	}
	g.mu.Unlock()
	if id, ok := g.drivers.RemoveByConnection(c.handle); ok {
		g.logger.Info("driver disconnected", "driver_id", id)
	}
	if id, ok := g.riders.RemoveByConnection(c.handle); ok {
		g.logger.Info("rider disconnected", "rider_id", id)
	}
}

func (g *Gateway) sendTo(h presence.Handle, b []byte) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.clients[h]
	if !ok {
		return false
	}
	return c.trySend(b)
}

func (g *Gateway) ToDriver(ctx context.Context, driverID string, n notify.Notification) bool {
	return g.deliver(ctx, g.drivers, driverID, n)
}

func (g *Gateway) ToRider(ctx context.Context, riderID string, n notify.Notification) bool {
	return g.deliver(ctx, g.riders, riderID, n)
}

// deliver tries the local connection first, then the relay, then push for
// drivers.
func (g *Gateway) deliver(ctx context.Context, reg *presence.Registry, id string, n notify.Notification) bool {
	b, err := json.Marshal(n)
	if err != nil {
		g.logger.Error("encode notification", "event", n.Event, "error", err)
		return false
	}
	if h, ok := reg.Lookup(id); ok && g.sendTo(h, b) {
		return true
	}
	delivered := false
	if g.relay != nil {
		if err := g.relay.Publish(ctx, reg.Namespace(), id, b); err != nil {
			g.logger.Warn("relay publish failed", "namespace", reg.Namespace(), "id", id, "error", err)
		} else {
			delivered = true
		}
	}
	if g.push != nil && reg.Namespace() == presence.Drivers {
		if err := g.push.Push(ctx, id, n); err != nil {
			g.logger.Warn("push failed", "driver_id", id, "event", n.Event, "error", err)
		} else {
			delivered = true
		}
	}
	return delivered
}

// DeliverRemote hands a frame relayed from another instance to a local
// connection, if the participant is connected here.
func (g *Gateway) DeliverRemote(namespace, id string, envelope []byte) {
	reg := g.riders
	if namespace == presence.Drivers {
		reg = g.drivers
	}
	if h, ok := reg.Lookup(id); ok {
		g.sendTo(h, envelope)
	}
}

// Broadcast sends n to every open connection.
func (g *Gateway) Broadcast(n notify.Notification) int {
	b, err := json.Marshal(n)
	if err != nil {
		return 0
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	sent := 0
	for _, c := range g.clients {
		if c.trySend(b) {
			sent++
		}
	}
	return sent
}

// Connections reports open websocket connections.
func (g *Gateway) Connections() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}
