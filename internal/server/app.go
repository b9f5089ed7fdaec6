package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Tyrowin/gochat-relay/internal/messaging"
	"github.com/Tyrowin/gochat-relay/internal/presence"
	"github.com/Tyrowin/gochat-relay/internal/registry"
	"github.com/Tyrowin/gochat-relay/internal/signaling"
	"github.com/Tyrowin/gochat-relay/internal/store"
	"github.com/Tyrowin/gochat-relay/internal/telemetry"
	"github.com/Tyrowin/gochat-relay/internal/typing"
)

// App wires the relay components together and owns their lifecycle.
type App struct {
	config   *Config
	logger   *slog.Logger
	registry *registry.Registry
	typing   *typing.Tracker
	router   *messaging.Router
	hub      *Hub
	http     *http.Server

	stopRouter context.CancelFunc
}

func NewApp(ctx context.Context, cfg *Config, st store.Store, metrics *telemetry.Metrics, logger *slog.Logger) *App {
	reg := registry.New(logger)
	typingTracker := typing.NewTracker(reg, cfg.TypingTTL, metrics, logger)

	// Store calls outlive the request that triggered them; they are cut
	// only when shutdown gives up waiting.
	routerCtx, stopRouter := context.WithCancel(context.WithoutCancel(ctx))
	router := messaging.NewRouter(routerCtx, st, reg, cfg.StoreTimeout, metrics, logger)

	gateway := NewGateway(
		reg,
		presence.NewTracker(reg, metrics, logger),
		typingTracker,
		router,
		signaling.NewRelay(reg, metrics, logger),
		metrics,
		logger,
	)
	hub := NewHub(gateway, metrics, logger)

	origins := NewOriginPolicy(cfg.AllowedOrigins, logger)
	httpServer := CreateServer(cfg.Port, SetupRoutes(hub, router, origins, logger))
	httpServer.BaseContext = func(net.Listener) context.Context { return ctx }

	return &App{
		config:     cfg,
		logger:     logger,
		registry:   reg,
		typing:     typingTracker,
		router:     router,
		hub:        hub,
		http:       httpServer,
		stopRouter: stopRouter,
	}
}

// Handler exposes the routes, mostly for httptest.
func (a *App) Handler() http.Handler {
	return a.http.Handler
}

func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Start launches the hub loop. It must be called before any client connects.
func (a *App) Start() {
	go a.hub.Run()
	a.logger.Info("Hub started and ready to manage WebSocket connections")
}

// Run starts the hub and the HTTP server and blocks until ctx is done or the
// server fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	a.Start()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("Server listening", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutdown signal received")
	case err, ok := <-serveErr:
		if ok {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
			runErr = err
		}
	}

	return errors.Join(runErr, a.Shutdown())
}

// Shutdown stops accepting requests, closes every websocket, waits for the
// pumps and in-flight store calls, then stops the typing timers.
func (a *App) Shutdown() error {
	timeout := a.config.ShutdownTimeout

	httpErr := ShutdownServer(a.http, timeout, a.logger)
	hubErr := a.hub.Shutdown(timeout)
	routerErr := a.waitRouter(timeout)
	a.typing.Stop()

	if err := errors.Join(httpErr, hubErr, routerErr); err != nil {
		return err
	}
	a.logger.Info("Server shutdown completed")
	return nil
}

func (a *App) waitRouter(timeout time.Duration) error {
	defer a.stopRouter()

	done := make(chan struct{})
	go func() {
		a.router.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		a.logger.Warn("Abandoning in-flight store calls")
		a.stopRouter()
		<-done
		return context.DeadlineExceeded
	}
}
