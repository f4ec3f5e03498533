package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/haukened/netpolicyd/internal/netpolicy/common/clock"
	"github.com/haukened/netpolicyd/internal/netpolicy/common/log"
	"github.com/haukened/netpolicyd/internal/netpolicy/config"
	"github.com/haukened/netpolicyd/internal/netpolicy/domain"
	"github.com/haukened/netpolicyd/internal/netpolicy/gateways/capability"
	"github.com/haukened/netpolicyd/internal/netpolicy/gateways/control"
	"github.com/haukened/netpolicyd/internal/netpolicy/gateways/enforcer"
	"github.com/haukened/netpolicyd/internal/netpolicy/metrics"
	"github.com/haukened/netpolicyd/internal/netpolicy/repos/importance"
	"github.com/haukened/netpolicyd/internal/netpolicy/repos/policystore"
	"github.com/haukened/netpolicyd/internal/netpolicy/repos/policystore/bolt"
	"github.com/haukened/netpolicyd/internal/netpolicy/repos/verdictcache"
	"github.com/haukened/netpolicyd/internal/netpolicy/services/decision"
	"github.com/haukened/netpolicyd/internal/netpolicy/services/enforcement"
	"github.com/haukened/netpolicyd/internal/netpolicy/services/notifier"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "netpolicyd"

	defaultShutdownTimeout = 10 * time.Second
)

// Application holds all the components of the policy daemon
type Application struct {
	config     *config.AppConfig
	notifier   *notifier.Notifier
	store      *policystore.Store
	tracker    *importance.Tracker
	engine     *decision.Engine
	journal    *bolt.Journal
	dispatcher *enforcement.Dispatcher
	enforcer   *enforcer.LogEnforcer
	server     *control.Server
}

func main() {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// Configure global logging
	err = log.Configure(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Info(map[string]any{
		"app":         appName,
		"version":     version,
		"env":         cfg.Env,
		"log_level":   cfg.LogLevel,
		"listen_addr": cfg.ListenAddr,
		"state_db":    cfg.StateDB,
		"system_uid":  cfg.SystemUID,
		"short_delay": cfg.ShortDelay.String(),
		"long_delay":  cfg.LongDelay.String(),
	}, "Starting network policy daemon")

	// Build application with all dependencies
	app, err := buildApplication(cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err}, "Failed to build application")
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info(map[string]any{"signal": sig.String()}, "Shutdown signal received")
		cancel()
	}()

	if err := app.Run(ctx); err != nil {
		log.Fatal(map[string]any{"error": err}, "Server failed")
	}

	log.Info(nil, "Network policy daemon stopped gracefully")
}

// buildApplication constructs all components and wires them together
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	// Create shared clock for consistent time across all components
	clk := clock.RealClock{}

	// Initialize logger (already configured globally)
	logger := log.GetLogger()

	recorder := metrics.NewPrometheus(cfg.MetricsNamespace, nil)
	events := notifier.New(logger, recorder)

	store := policystore.New(policystore.Options{
		Publisher: events,
		Clock:     clk,
		Logger:    logger,
	})

	tracker := importance.New(importance.Options{
		Delays:    importance.Delays{Short: cfg.ShortDelay, Long: cfg.LongDelay},
		Clock:     clk,
		Publisher: events,
		Logger:    logger,
		Recorder:  recorder,
	})

	// Rebuild policy state before anyone subscribes, so replay is not re-journaled.
	var journal *bolt.Journal
	if cfg.StateDB != "" {
		var err error
		journal, err = bolt.New(cfg.StateDB, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open state journal: %w", err)
		}
		if err := journal.Restore(store); err != nil {
			log.Warn(map[string]any{"error": err.Error()}, "Journal restored with conflicts")
		}
		log.Info(map[string]any{"path": cfg.StateDB, "version": journal.Stats().Version}, "State journal opened")
	} else {
		log.Info(map[string]any{"disabled": true}, "State persistence disabled")
	}

	bypass := capability.FromInts(cfg.BypassUIDs)
	engine := decision.NewEngine(decision.EngineOptions{
		Policy:     store,
		Importance: tracker,
		Capability: bypass,
		SystemUID:  domain.UID(cfg.SystemUID),
		Logger:     logger,
		Recorder:   recorder,
	})

	cache, err := verdictcache.New(cfg.VerdictCacheSize)
	if err != nil {
		if journal != nil {
			_ = journal.Close()
		}
		return nil, fmt.Errorf("failed to create verdict cache: %w", err)
	}
	log.Info(map[string]any{
		"type": "LRU",
		"size": cfg.VerdictCacheSize,
	}, "Verdict cache configured")

	logEnforcer := enforcer.NewLogEnforcer(logger)
	dispatcher := enforcement.NewDispatcher(enforcement.DispatcherOptions{
		Decider:  engine,
		Enforcer: logEnforcer,
		Cache:    cache,
		Policy:   store,
		Tracked:  tracker,
		Logger:   logger,
		Recorder: recorder,
	})

	err = recorder.WatchVerdictCache(func() metrics.CacheSnapshot {
		st := dispatcher.Stats()
		return metrics.CacheSnapshot{
			Capacity:  st.Capacity,
			Size:      st.Size,
			Hits:      st.Hits,
			Misses:    st.Misses,
			Evictions: st.Evictions,
		}
	})
	if err == nil && journal != nil {
		err = recorder.WatchJournal(func() metrics.JournalSnapshot {
			st := journal.Stats()
			return metrics.JournalSnapshot{
				Version:     st.Version,
				UpdatedUnix: st.UpdatedUnix,
				Enabled:     st.Enabled,
				Members:     st.Members,
			}
		})
	}
	if err != nil {
		if journal != nil {
			_ = journal.Close()
		}
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	handler := control.NewHandler(control.Options{
		Policy:     store,
		Importance: tracker,
		Decider:    engine,
		Dispatcher: dispatcher,
		Enforced:   logEnforcer,
		Metrics:    recorder.Handler(),
		Clock:      clk,
		Logger:     logger,
	})

	return &Application{
		config:     cfg,
		notifier:   events,
		store:      store,
		tracker:    tracker,
		engine:     engine,
		journal:    journal,
		dispatcher: dispatcher,
		enforcer:   logEnforcer,
		server:     control.NewServer(cfg.ListenAddr, handler, logger),
	}, nil
}

// Run starts the followers and the control server and blocks until ctx is cancelled
func (app *Application) Run(ctx context.Context) error {
	followCtx, stopFollowers := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	if app.journal != nil {
		sub := app.notifier.Subscribe(domain.AllUIDs)
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.journal.Follow(followCtx, sub.Events())
		}()
	}

	sub := app.notifier.Subscribe(domain.AllUIDs)
	wg.Add(1)
	go func() {
		defer wg.Done()
		app.dispatcher.Run(followCtx, sub.Events())
	}()

	if err := app.syncRestored(ctx); err != nil {
		log.Warn(map[string]any{"error": err.Error()}, "Initial enforcement incomplete")
	}

	serveErr := app.server.ListenAndServe(ctx)

	log.Info(nil, "Shutdown initiated")

	// Pending demotions and undelivered events are dropped. Closing the
	// notifier closes every stream, which returns the followers.
	app.tracker.Close()
	app.notifier.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(defaultShutdownTimeout):
		log.Warn(map[string]any{"timeout": defaultShutdownTimeout}, "Shutdown timeout exceeded")
		err = errors.New("shutdown timeout")
	}
	stopFollowers()

	if app.journal != nil {
		if cerr := app.journal.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close journal: %w", cerr))
		}
	}
	if serveErr != nil {
		return errors.Join(serveErr, err)
	}
	if err == nil {
		log.Info(nil, "Graceful shutdown completed")
	}
	return err
}

// syncRestored pushes verdicts for every UID named in a restored list.
func (app *Application) syncRestored(ctx context.Context) error {
	listed := app.store.Snapshot().Listed()
	var errs []error
	for _, uid := range listed {
		if err := app.dispatcher.Sync(ctx, uid); err != nil {
			errs = append(errs, err)
		}
	}
	log.Info(map[string]any{"uids": len(listed)}, "Initial verdicts pushed")
	return errors.Join(errs...)
}
