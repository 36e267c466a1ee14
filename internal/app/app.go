package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	featurejob "squall/features/job"
	"squall/features/stats"
	"squall/internal/broker"
	"squall/internal/config"
	"squall/internal/controller"
	"squall/internal/cronengine"
	"squall/internal/job"
	"squall/internal/middleware"
	"squall/internal/store"
	"squall/internal/transport"
	"squall/internal/worker"
)

// JobType builds one job definition from the deployment defaults. The set
// is passed so a job type can hand work to another.
type JobType func(base job.Definition, set *controller.Set) job.Definition

type Options struct {
	// Subscriber feeds broker deliveries to the controllers. Nil disables
	// the worker.
	Subscriber worker.Subscriber
	Version    string
}

type App struct {
	Handler http.Handler
	Set     *controller.Set
	Cron    *cronengine.Engine

	cfg        *config.Config
	subscriber worker.Subscriber
}

// BaseDefinition maps the job defaults in cfg onto a definition.
func BaseDefinition(cfg *config.Config) job.Definition {
	def := job.Definition{
		Retries:           cfg.RetryOffsets,
		MaxProcessingTime: cfg.MaxProcessingTime,
		WrapInData:        cfg.WrapInData,
		CORSHosts:         cfg.CORSHosts,
	}
	if cfg.AuthToken != "" {
		def.Authenticate = job.SharedSecret(cfg.AuthToken)
	}
	return def
}

func New(
	cfg *config.Config,
	st store.Store,
	pub broker.Publisher,
	logger *slog.Logger,
	opts *Options,
	types ...JobType,
) (*App, error) {
	if opts == nil {
		opts = &Options{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	set, err := controller.NewSet()
	if err != nil {
		return nil, err
	}
	base := BaseDefinition(cfg)
	for _, build := range types {
		def := build(base, set)
		c, err := controller.New(def, st, pub,
			controller.WithLogger(logger.With("job", def.Name)),
			controller.WithScanConcurrency(cfg.ScanConcurrency),
		)
		if err != nil {
			return nil, fmt.Errorf("job type %q: %w", def.Name, err)
		}
		if err := set.Register(c); err != nil {
			return nil, err
		}
	}

	engine := cronengine.New(cronengine.FromSet(set),
		cronengine.WithTargets(cfg.RetryTargets...),
		cronengine.WithVersion(opts.Version))

	mux := http.NewServeMux()

	if cfg.EnableAPI {
		for _, c := range set.All() {
			transport.Mount(mux, c)
		}
	}

	// Admin routes take the same credentials as the job routes.
	auth := middleware.Auth(base.Authenticate)
	jobHandler := featurejob.NewHandler(featurejob.NewService(st, set))
	jobHandler.Register(mux, middleware.CorrelationID, auth)

	kinds := make([]string, 0)
	for _, c := range set.All() {
		kinds = append(kinds, c.Kind())
	}
	statsHandler := stats.NewHandler(st, kinds)
	mux.Handle("GET /stats", middleware.CorrelationID(auth(http.HandlerFunc(statsHandler.GetStats))))

	routes := transport.Routes(set)
	mux.HandleFunc("GET /routes", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{"data": routes}); err != nil {
			slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
		}
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Cron engine: GET /retry and the health probes.
	mux.Handle("/", middleware.CorrelationID(engine.Handler()))

	return &App{
		Handler:    mux,
		Set:        set,
		Cron:       engine,
		cfg:        cfg,
		subscriber: opts.Subscriber,
	}, nil
}

// Run starts the worker and cron engine if enabled, then serves HTTP until
// ctx is done.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.EnableWorker && a.subscriber != nil {
		stop, err := worker.Start(ctx, a.subscriber, a.Set)
		if err != nil {
			return err
		}
		defer stop()
	}

	if a.cfg.RetrySchedule != "" {
		if err := a.Cron.Start(a.cfg.RetrySchedule); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			a.Cron.Stop(stopCtx)
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort, "jobs", len(a.Set.All()))
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
