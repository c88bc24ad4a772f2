package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/mattsoldo/lumctl/internal/api"
	"github.com/mattsoldo/lumctl/internal/config"
	"github.com/mattsoldo/lumctl/internal/db"
	"github.com/mattsoldo/lumctl/internal/engine"
	"github.com/mattsoldo/lumctl/internal/eventbus"
	"github.com/mattsoldo/lumctl/internal/ledger"
	"github.com/mattsoldo/lumctl/internal/metrics"
	"github.com/mattsoldo/lumctl/internal/push"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB       *db.DB
	Ledger   *ledger.Ledger
	Registry *prometheus.Registry
	Metrics  *metrics.Collector

	// Transport
	Client *api.Client
	Bus    *eventbus.Bus
	Stream *push.Stream

	// Reconciliation
	Engine *engine.Engine

	// HTTP surface
	Health *HealthService

	wg sync.WaitGroup
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database and ledger
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.Ledger = ledger.New(database.DB)

	// Initialize metrics
	s.Registry = prometheus.NewRegistry()
	s.Metrics = metrics.NewCollector(s.Registry)

	// Initialize backend REST client
	s.Client = api.NewClient(cfg.Backend.Address, cfg.Backend.Timeout.Duration(), cfg.Backend.RateLimitRPS)

	// Initialize event bus and push stream
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())
	s.Bus.OnDrop(func(eventbus.EventType) { s.Metrics.RecordEventDropped() })
	s.Stream = push.NewStream(cfg.Backend.Address, push.Config{
		MinBackoff:    cfg.Push.MinRetryBackoff.Duration(),
		MaxBackoff:    cfg.Push.MaxRetryBackoff.Duration(),
		Multiplier:    cfg.Push.RetryMultiplier,
		MaxReconnects: cfg.Push.MaxReconnects,
	})

	// Initialize the reconciliation engine
	s.Engine = engine.New(s.Client, engine.Options{
		QuietPeriod:         cfg.Engine.DebounceQuiet.Duration(),
		FixtureIntentWindow: cfg.Engine.FixtureIntentWindow.Duration(),
		GroupIntentWindow:   cfg.Engine.GroupIntentWindow.Duration(),
		PollInterval:        cfg.Engine.PollInterval.Duration(),
		WriteTimeout:        cfg.Backend.Timeout.Duration(),
		Recorder:            s.Ledger,
		Metrics:             s.Metrics,
	})
	s.Engine.Bind(s.Bus)

	// Initialize health service
	s.Health = NewHealthService(cfg, s.Registry)

	return s, nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a fatal error occurs (e.g. the
// push stream exhausts its reconnect budget).
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	// Reconciliation engine (polls immediately on start)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Engine.Run(ctx); err != nil {
			onFatalError(err)
		}
	}()

	// Push stream
	if s.cfg.Push.IsEnabled() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.Stream.Run(ctx, s.Bus); err != nil {
				if errors.Is(err, push.ErrMaxReconnectsExceeded) {
					onFatalError(err)
					return
				}
				log.Error().Err(err).Msg("Push stream terminated")
			}
		}()
	} else {
		log.Warn().Msg("Push channel disabled, relying on polling only")
	}

	// Ledger retention
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour
		s.Ledger.RunCleanup(ctx, s.cfg.Ledger.CleanupInterval.Duration(), retention)
	}()

	s.Health.Start(ctx)

	return nil
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
	defer cancel()

	s.Bus.Close(shutdownCtx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Warn().Msg("Timed out waiting for background services")
	}

	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}
