package app

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"monexa/internal/api"
	"monexa/internal/command"
	"monexa/internal/config"
	"monexa/internal/gateway"
	"monexa/internal/reconciler"
	"monexa/internal/registry"
	"monexa/internal/session"
	"monexa/internal/store"
	"monexa/internal/survey"
)

// Application owns every component and their start/stop order.
type Application struct {
	cfg    *config.Config
	logger *zap.Logger

	store      *store.Store
	registry   *registry.Registry
	reconciler *reconciler.Reconciler
	server     *http.Server

	reconcilerStop context.CancelFunc
	reconcilerDone chan struct{}
}

// New wires the full dependency graph from configuration.
func New(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	st, err := store.New(cfg.Store.Path, logger)
	if err != nil {
		return nil, err
	}

	reg := registry.New()
	router := command.NewRouter(reg, st, logger)
	orchestrator := survey.NewOrchestrator(st, router, logger)
	rec := reconciler.New(st, reg, router, cfg.Reconciler.Interval, logger)

	// When a device's last session closes it goes offline in the store, and
	// the reconciler forgets its push history so a reconnect starts fresh.
	reg.OnLastSessionClosed(func(id session.Identity) {
		if err := st.SetStatus(context.Background(), id.OrgID, id.DeviceID, store.StatusOffline); err != nil {
			if !errors.Is(err, store.ErrDeviceNotFound) {
				logger.Warn("offline transition failed",
					zap.String("device_id", id.DeviceID), zap.Error(err))
			}
		}
		rec.Forget(id)
		logger.Info("device offline",
			zap.String("org_id", id.OrgID), zap.String("device_id", id.DeviceID))
	})

	gw := gateway.NewHandler(reg, st, orchestrator, rec, gateway.Config{
		SendBuffer:   cfg.Socket.SendBuffer,
		WriteTimeout: cfg.Socket.WriteTimeout,
		ReadTimeout:  cfg.Socket.ReadTimeout,
		PingInterval: cfg.Socket.PingInterval,
	}, logger)

	apiServer := api.NewServer(st, orchestrator, rec, reg, gw.HandleWS, logger)

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      apiServer.Routes(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		registry:   reg,
		reconciler: rec,
		server:     srv,
	}, nil
}

// Start launches the reconciler loop and the HTTP listener. It blocks until
// the listener stops.
func (a *Application) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.reconcilerStop = cancel
	a.reconcilerDone = make(chan struct{})
	go func() {
		defer close(a.reconcilerDone)
		a.reconciler.Run(ctx)
	}()

	a.logger.Info("server listening", zap.String("addr", a.cfg.HTTP.Addr))
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts components down in reverse dependency order: listener first so
// no new sessions arrive, then live sessions (Shutdown does not touch
// hijacked WebSocket conns), then the reconciler, then the store.
func (a *Application) Stop(ctx context.Context) error {
	var firstErr error

	if err := a.server.Shutdown(ctx); err != nil {
		firstErr = err
	}

	for _, id := range a.registry.LiveIdentities() {
		for _, sess := range a.registry.SessionsFor(id) {
			a.registry.Unbind(sess)
			_ = sess.Close()
		}
	}

	if a.reconcilerStop != nil {
		a.reconcilerStop()
		select {
		case <-a.reconcilerDone:
		case <-ctx.Done():
			if firstErr == nil {
				firstErr = ctx.Err()
			}
		}
	}

	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	a.logger.Info("server stopped")
	return firstErr
}
