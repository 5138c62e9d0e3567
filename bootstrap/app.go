// Package bootstrap wires the Bastion components together: configuration,
// logging, storage, detection, dispatch and the ingest boundary.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"bastion/config"
	"bastion/core"
	"bastion/detect"
	"bastion/ingest"
	"bastion/notify"
	"bastion/service"
	"bastion/storage"
)

// App holds the assembled application.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	DB            *storage.SQLite
	Threats       *storage.SQLiteThreatStorage
	Notifications *storage.SQLiteNotificationStorage

	Windows    detect.WindowStore
	Signatures *detect.SignatureSet
	Detector   *detect.Detector

	Dispatcher *notify.Dispatcher
	Bus        *core.EventBus

	ThreatService       *service.ThreatService
	NotificationService *service.NotificationService

	EventCh  chan *core.SecurityEvent
	Listener *ingest.HTTPListener
	Workers  *ingest.WorkerPool

	redisWindows *detect.RedisWindowStore
	cancel       context.CancelFunc
}

// NewApp creates the application from configuration and initializes every
// component. No goroutines are started until Start.
func NewApp() (*App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := InitLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	sugar := logger.Sugar()
	sugar.Infow("Bastion starting",
		"sqlite_path", cfg.Data.SQLitePath,
		"redis_enabled", cfg.Redis.Enabled,
		"channels", cfg.Notify.Channels)

	app := &App{Config: cfg, Logger: logger, Sugar: sugar}

	if err := app.initStorage(); err != nil {
		return nil, err
	}
	if err := app.initDetection(); err != nil {
		return nil, err
	}
	app.initServices()
	app.initIngest()

	return app, nil
}

func (a *App) initStorage() error {
	db, err := storage.NewSQLite(a.Config.Data.SQLitePath, a.Sugar)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.DB = db

	a.Threats, err = storage.NewSQLiteThreatStorage(db, a.Sugar)
	if err != nil {
		return fmt.Errorf("failed to initialize threat storage: %w", err)
	}
	a.Notifications, err = storage.NewSQLiteNotificationStorage(db, a.Sugar)
	if err != nil {
		return fmt.Errorf("failed to initialize notification storage: %w", err)
	}
	return nil
}

func (a *App) initDetection() error {
	cfg := a.Config

	if cfg.Redis.Enabled {
		redisWindows := detect.NewRedisWindowStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			cfg.Detection.WindowHorizon, a.Sugar)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisWindows.Ping(ctx); err != nil {
			return fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
		}
		a.redisWindows = redisWindows
		a.Windows = redisWindows
		a.Sugar.Infow("Using Redis window store", "addr", cfg.Redis.Addr)
	} else {
		memWindows, err := detect.NewMemoryWindowStore(cfg.Detection.WindowHorizon, a.Sugar)
		if err != nil {
			return fmt.Errorf("failed to initialize window store: %w", err)
		}
		a.Windows = memWindows
	}

	rules := detect.DefaultSignatureRules()
	if cfg.Detection.SignatureFile != "" {
		loaded, err := detect.LoadSignatureRules(cfg.Detection.SignatureFile)
		if err != nil {
			return fmt.Errorf("failed to load signature table: %w", err)
		}
		rules = loaded
		a.Sugar.Infow("Loaded signature table",
			"file", cfg.Detection.SignatureFile,
			"rules", len(rules))
	}
	signatures, err := detect.NewSignatureSet(rules, a.Sugar)
	if err != nil {
		return fmt.Errorf("failed to compile signatures: %w", err)
	}
	a.Signatures = signatures

	a.Detector = detect.NewDetector(a.Windows, signatures,
		cfg.Detection.BruteForceWindow, cfg.Detection.BruteForceThreshold, a.Sugar)
	return nil
}

func (a *App) initServices() {
	cfg := a.Config
	a.Bus = core.NewEventBus(a.Sugar)

	var senders []notify.ChannelSender
	for _, channel := range cfg.Notify.Channels {
		switch core.Channel(channel) {
		case core.ChannelEmail:
			senders = append(senders, notify.NewEmailSender(cfg.Notify.Email, a.Sugar))
		case core.ChannelWebhook:
			senders = append(senders, notify.NewWebhookSender(cfg.Notify.Webhook, a.Sugar))
		case core.ChannelSlack:
			senders = append(senders, notify.NewSlackSender(cfg.Notify.Slack, a.Sugar))
		case core.ChannelSMS:
			senders = append(senders, notify.NewSMSSender(cfg.Notify.SMS, a.Sugar))
		case core.ChannelInApp:
			senders = append(senders, notify.NewInAppSender(a.Sugar))
		}
	}
	a.Dispatcher = notify.NewDispatcher(senders, cfg.Notify.SendsPerSecond, a.Sugar)

	a.NotificationService = service.NewNotificationService(a.Notifications, a.Dispatcher, a.Bus, a.Sugar)
	a.ThreatService = service.NewThreatService(a.Detector, a.Threats, a.NotificationService,
		a.Bus, cfg.Notify.AdminRecipients, a.Sugar)
}

func (a *App) initIngest() {
	cfg := a.Config
	a.EventCh = make(chan *core.SecurityEvent, cfg.Ingest.BufferSize)
	a.Listener = ingest.NewHTTPListener(cfg.Ingest.Host, cfg.Ingest.Port, cfg.Ingest.RateLimit,
		a.EventCh, a.Sugar)
	a.Workers = ingest.NewWorkerPool(a.EventCh, a.ThreatService, a.Sugar)
}

// Start launches the ingest workers and the HTTP listener.
func (a *App) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.Workers.Start(ctx, a.Config.Ingest.Workers)
	if err := a.Listener.Start(); err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}

	a.Sugar.Info("Bastion started")
	return nil
}

// WaitForShutdown blocks until SIGINT or SIGTERM.
func (a *App) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	a.Sugar.Infow("Shutdown signal received", "signal", sig)
}

// Shutdown stops intake first, drains the workers, then closes storage.
func (a *App) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.Listener != nil {
		if err := a.Listener.Stop(ctx); err != nil {
			a.Sugar.Warnw("Listener shutdown error", "error", err)
		}
	}
	if a.EventCh != nil {
		close(a.EventCh)
	}
	if a.Workers != nil {
		a.Workers.Wait()
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.redisWindows != nil {
		if err := a.redisWindows.Close(); err != nil {
			a.Sugar.Warnw("Redis shutdown error", "error", err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Sugar.Warnw("Database shutdown error", "error", err)
		}
	}

	a.Sugar.Info("Bastion stopped")
	_ = a.Logger.Sync()
}
