package main

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"rigflip/config"
	"rigflip/gateway"
	"rigflip/httputil"
	"rigflip/logging"
	"rigflip/metrics"
	"rigflip/notify"
	"rigflip/pipeline"
	"rigflip/scheduler"
	"rigflip/scraper"
	"rigflip/services"
	"rigflip/storage"
)

var log = logrus.WithField("component", "main")

type workerGateway interface {
	scheduler.Gateway
	Close()
}

// app holds the wired components. Commands build only the parts they need.
type app struct {
	cfg     *config.Config
	logFile io.Closer

	sqlite   *storage.SQLiteStore
	postgres *storage.PostgresStore
	kv       storage.KV

	clients   *httputil.Clients
	pipeline  *pipeline.Pipeline
	sched     *scheduler.Scheduler
	gateway   workerGateway
	registry  *prometheus.Registry
	collector *metrics.Collector
}

// openApp loads config, sets up logging and opens the stores. The sqlite
// database always hosts the command queue; it also holds state unless
// DATABASE_URL points at Postgres.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	a := &app{cfg: cfg}
	if rw, err := logging.Setup(cfg.LogPath, cfg.LogLevel); err != nil {
		logging.SetLevel(cfg.LogLevel)
		log.WithError(err).Warn("Could not set up file logging")
	} else {
		a.logFile = rw
	}

	a.sqlite, err = storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	a.kv = a.sqlite

	if cfg.DatabaseURL != "" {
		a.postgres, err = storage.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		a.kv = a.postgres
		log.Info("State stored in Postgres")
	} else {
		log.WithField("path", cfg.DBPath).Info("State stored in SQLite")
	}

	a.clients = httputil.NewClients(&cfg.Proxy)
	a.registry = prometheus.NewRegistry()
	a.collector = metrics.NewCollector(a.registry)
	return a, nil
}

func (a *app) notifier() scheduler.Notifier {
	if a.cfg.Notify.WebhookURL != "" {
		return notify.NewWebhookNotifier(a.cfg.Notify.WebhookURL, a.clients.API)
	}
	return notify.LogNotifier{}
}

// loadPipeline restores the deal pipeline. Automations re-arm on load.
func (a *app) loadPipeline(ctx context.Context) error {
	pc := a.cfg.Pipeline
	a.pipeline = pipeline.New(pipeline.Config{
		AutoAdvance:          pc.AutoAdvance,
		Notifications:        pc.Notifications,
		AutoAdvanceDelay:     pc.AutoAdvanceDelay,
		PoorDealArchiveDelay: pc.PoorDealArchiveDelay,
	}, a.kv)
	a.pipeline.Subscribe(a.collector.ObservePipeline)
	a.pipeline.Subscribe(notify.NewPipelineAlerts(a.notifier()).Handle)
	if err := a.pipeline.Load(ctx); err != nil {
		return fmt.Errorf("load pipeline: %w", err)
	}
	return nil
}

// loadScheduler wires the scan scheduler to the configured gateway, the
// idle gate and the listing service. loadPipeline must run first.
func (a *app) loadScheduler(ctx context.Context) error {
	parsers := scraper.NewRegistry(a.cfg.Sites)
	switch a.cfg.Scan.Gateway {
	case "http":
		a.gateway = gateway.NewHTTPGateway(a.clients, a.cfg.Sites, parsers)
	default:
		a.gateway = gateway.NewBrowserGateway(a.cfg.Browser, parsers)
	}

	sc := a.cfg.Scan
	a.sched = scheduler.New(scheduler.Config{
		MaxConcurrentTabs: sc.MaxConcurrentTabs,
		JobTimeout:        sc.JobTimeout,
		IdleThreshold:     sc.IdleThreshold,
		IdleCooldown:      sc.IdleCooldown,
		NotifyOnComplete:  sc.NotifyOnComplete,
	}, a.gateway, a.kv, a.cfg)

	if sc.IdleCommand != "" {
		gate, err := gateway.NewCommandIdleGate(sc.IdleCommand)
		if err != nil {
			return err
		}
		a.sched.SetIdleGate(gate)
	} else {
		a.sched.SetIdleGate(gateway.AlwaysIdle{})
	}
	a.sched.SetResultHandler(services.NewListingService(a.pipeline, services.NewCompsAppraiser(a.cfg.Comps)))
	a.sched.SetNotifier(a.notifier())
	a.sched.Subscribe(a.collector.ObserveScheduler)

	if err := a.sched.Load(ctx); err != nil {
		return fmt.Errorf("load scan history: %w", err)
	}
	return nil
}

func (a *app) Close() {
	if a.gateway != nil {
		a.gateway.Close()
	}
	if a.pipeline != nil {
		a.pipeline.Close()
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.sqlite != nil {
		a.sqlite.Close()
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
}
