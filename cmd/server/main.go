package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"

	"github.com/example/ride-dispatch/internal/carpool"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/gateway"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/maps"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/pricing"
	"github.com/example/ride-dispatch/internal/relay"
	"github.com/example/ride-dispatch/internal/roster"
	"github.com/example/ride-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	addr := flag.String("addr", "", "listen address, overrides HTTP_ADDR")
	policy := flag.String("policy", "", "dispatch policy (broadcast|single-assign), overrides DISPATCH_POLICY")
	migrate := flag.Bool("migrate", false, "apply database migrations on startup")
	flag.Parse()

	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if *policy != "" {
		cfg.Policy = *policy
	}
	cfg.RunMigrations = cfg.RunMigrations || *migrate

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	dispatchPolicy, err := dispatch.ParsePolicy(cfg.Policy)
	if err != nil {
		return err
	}

	store, rooms, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	drivers, closeRoster, err := openRoster(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRoster()

	fares := pricing.DefaultTable()
	if cfg.FareTablePath != "" {
		if fares, err = pricing.LoadTable(cfg.FareTablePath); err != nil {
			return err
		}
		logger.Info("fare table loaded", "path", cfg.FareTablePath, "currency", fares.Currency)
	}

	var publisher interface {
		events.Publisher
		events.LocationPublisher
	} = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaRideTopic, cfg.KafkaTopic)
		defer kp.Close()
		publisher = kp
		logger.Info("kafka publisher enabled", "brokers", cfg.KafkaBrokers, "ride_topic", cfg.KafkaRideTopic)
	}

	gwOpts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithEventTimeout(cfg.EventTimeout),
	}
	var apiOpts []httpapi.Option
	if cfg.JWTSecret != "" {
		auth := gateway.NewAuthenticator(cfg.JWTSecret)
		gwOpts = append(gwOpts, gateway.WithAuthenticator(auth))
		apiOpts = append(apiOpts, httpapi.WithAuth(auth))
	} else {
		logger.Warn("JWT_SECRET not set, callers are trusted to name themselves")
	}
	if cfg.PushEndpoint != "" {
		gwOpts = append(gwOpts, gateway.WithPush(gateway.NewHTTPPush(cfg.PushEndpoint, cfg.PushKey)))
	}
	var rel *relay.RabbitRelay
	if cfg.RabbitURL != "" {
		if rel, err = relay.Dial(ctx, cfg.RabbitURL, cfg.InstanceID, logger.With("component", "relay")); err != nil {
			return err
		}
		defer rel.Close()
		gwOpts = append(gwOpts, gateway.WithRelay(rel))
	}
	gw := gateway.New(presence.NewRegistry(presence.Drivers), presence.NewRegistry(presence.Riders), gwOpts...)
	if rel != nil {
		go func() {
			if err := rel.Consume(ctx, gw.DeliverRemote); err != nil {
				logger.Error("relay consumer stopped", "error", err)
			}
		}()
	}

	lc := lifecycle.New(store, gw,
		lifecycle.WithEvents(publisher),
		lifecycle.WithLogger(logger),
	)
	provider, places := newMapsProvider(cfg, logger)
	engine := dispatch.New(store, provider, drivers, gw, lc,
		dispatch.WithPlaces(places),
		dispatch.WithPolicy(dispatchPolicy),
		dispatch.WithRadii(cfg.RadiiKm),
		dispatch.WithDriverSpeed(cfg.DriverSpeedKmh),
		dispatch.WithFares(fares),
		dispatch.WithEvents(publisher),
		dispatch.WithLocationPublisher(publisher),
		dispatch.WithLogger(logger),
	)
	gw.Bind(engine, lc)

	pool := carpool.NewService(rooms, provider, gw, carpool.WithLogger(logger))
	apiOpts = append(apiOpts, httpapi.WithCarpool(pool))

	var ws http.Handler
	if cfg.GatewayEnabled {
		ws = gw
	}
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(engine, lc, ws, logger, apiOpts...),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr, "policy", dispatchPolicy, "instance", cfg.InstanceID)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore returns the ride store and the carpool room store, which share
// the ride database when one is configured.
func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.RideStore, carpool.Store, func(), error) {
	if cfg.PGDSN == "" {
		logger.Info("using in-memory ride store")
		return storage.NewMemoryStore(), carpool.NewMemoryStore(), func() {}, nil
	}
	ps, err := storage.NewPostgresStore(cfg.PGDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open ride store: %w", err)
	}
	rooms := carpool.NewPostgres(ps.DB())
	if cfg.RunMigrations {
		if err := ps.Migrate(ctx); err != nil {
			ps.Close()
			return nil, nil, nil, fmt.Errorf("migrate ride store: %w", err)
		}
		if err := rooms.Migrate(ctx); err != nil {
			ps.Close()
			return nil, nil, nil, fmt.Errorf("migrate carpool rooms: %w", err)
		}
		logger.Info("ride store migrations applied")
	}
	return ps, rooms, func() { ps.Close() }, nil
}

func openRoster(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (roster.Roster, func(), error) {
	switch cfg.RosterBackend {
	case config.RosterRedis:
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rc.Ping(ctx).Err(); err != nil {
			rc.Close()
			return nil, nil, fmt.Errorf("redis roster: %w", err)
		}
		logger.Info("using redis roster", "addr", cfg.RedisAddr, "key", cfg.RedisGeoKey)
		return roster.NewRedis(rc, cfg.RedisGeoKey), func() { rc.Close() }, nil
	case config.RosterPostgres:
		pg, err := roster.NewPostgres(ctx, cfg.RosterPGDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres roster: %w", err)
		}
		if cfg.RunMigrations {
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return nil, nil, fmt.Errorf("migrate roster: %w", err)
			}
		}
		logger.Info("using postgres roster")
		return pg, pg.Close, nil
	default:
		logger.Info("using in-memory roster")
		return roster.NewMemory(), func() {}, nil
	}
}

// newMapsProvider geocodes with Google and routes with OSRM when an
// endpoint is configured. Both go through the retry policy; routes are
// cached after it. Address suggestions always come from Google Places.
func newMapsProvider(cfg config.ServerConfig, logger *slog.Logger) (maps.Provider, maps.Autocompleter) {
	google := maps.NewGoogleClient(cfg.GoogleMapsKey)
	if cfg.GoogleMapsEndpoint != "" {
		google.Endpoint = cfg.GoogleMapsEndpoint
	}
	var router maps.Router = google
	if cfg.OSRMEndpoint != "" {
		router = maps.NewOSRMClient(cfg.OSRMEndpoint)
	}
	mapsLogger := logger.With("component", "maps")
	retrying := maps.NewRetrying(maps.Compose(google, router), cfg.MapsRetries, cfg.MapsRetryDelay, mapsLogger)
	places := maps.NewRetrying(google, cfg.MapsRetries, cfg.MapsRetryDelay, mapsLogger)
	return maps.Compose(retrying, &maps.CachedRouter{Next: retrying, Cache: maps.NewCache(cfg.RouteCacheTTL)}), places
}
