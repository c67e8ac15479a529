// Package core is the composition root: it wires the orchestration
// components from configuration and owns their lifecycles. The host
// application binds platform collaborators and embeds one Core per process.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/safety-core/internal/backend"
	"github.com/example/safety-core/internal/channel"
	"github.com/example/safety-core/internal/checkin"
	"github.com/example/safety-core/internal/config"
	"github.com/example/safety-core/internal/geofence"
	"github.com/example/safety-core/internal/ingest"
	"github.com/example/safety-core/internal/liveshare"
	"github.com/example/safety-core/internal/logging"
	"github.com/example/safety-core/internal/models"
	"github.com/example/safety-core/internal/native"
	"github.com/example/safety-core/internal/orchestrator"
	"github.com/example/safety-core/internal/queue"
	"github.com/example/safety-core/internal/routewatch"
	"github.com/example/safety-core/internal/storage"
)

// Collaborators are the platform bindings the host application provides.
// Calls and SMS may be nil on platforms without those capabilities; the
// dispatcher then always uses the OS-level fallback.
type Collaborators struct {
	Calls        native.CallCapability
	SMS          native.SMSCapability
	Launcher     native.Launcher
	Perms        native.Permissions
	Location     native.LocationProvider
	Notifier     native.Notifier
	Connectivity native.ConnectivityWatcher
	Circle       orchestrator.ContactSource
	ContactsByID checkin.Contacts
	Store        storage.KVStore // optional; falls back to Redis or memory
	UserName     string          // display name used in check-in reminders
}

type Core struct {
	Config config.CoreConfig
	Logger *slog.Logger

	Backend      *backend.Client
	Channels     *channel.Dispatcher
	Live         *liveshare.Manager
	Queue        *queue.Queue
	Orchestrator *orchestrator.Orchestrator
	RouteMonitor *routewatch.Monitor
	CheckIns     *checkin.Scheduler

	connectivity native.ConnectivityWatcher
	telemetry    *ingest.ShareProducer
	audit        *storage.PostgresAudit
	cancel       context.CancelFunc
}

// New wires a core for one user. Optional infrastructure (Redis store,
// Postgres audit, Kafka telemetry) is attached only when configured, with
// in-memory fallbacks so the core always comes up.
func New(cfg config.CoreConfig, userID string, plan models.PlanTier, col Collaborators) (*Core, error) {
	logger := logging.NewLogger(cfg.LogLevel)

	store := col.Store
	if store == nil {
		if cfg.RedisAddr != "" {
			store = storage.NewRedisKV(cfg.RedisAddr, cfg.RedisPassword)
		} else {
			store = storage.NewMemoryKV()
		}
	}

	c := &Core{
		Config:       cfg,
		Logger:       logger,
		connectivity: col.Connectivity,
	}

	c.Backend = backend.NewClient(cfg.BackendBaseURL, cfg.BackendTimeout)

	if cfg.PGDSN != "" {
		pa, err := storage.NewPostgresAudit(cfg.PGDSN)
		if err != nil {
			logger.Warn("audit store unavailable, continuing without", "error", err)
		} else {
			c.audit = pa
		}
	}

	var telemetry liveshare.TelemetryPublisher
	if len(cfg.KafkaBrokers) > 0 {
		c.telemetry = ingest.NewShareProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		telemetry = c.telemetry
	}

	c.Channels = &channel.Dispatcher{
		Calls:    col.Calls,
		SMS:      col.SMS,
		Launcher: col.Launcher,
		Perms:    col.Perms,
		Logger:   logging.WithComponent(logger, "channel"),
	}

	c.Live = &liveshare.Manager{
		Backend:          c.Backend,
		Location:         col.Location,
		Telemetry:        telemetry,
		Store:            store,
		Logger:           logging.WithComponent(logger, "liveshare"),
		ShareBaseURL:     cfg.ShareBaseURL,
		StaticMapBaseURL: cfg.StaticMapBaseURL,
		FreeShareMinutes: cfg.FreeShareMinutes,
		PushInterval:     cfg.PushInterval,
	}

	q, err := queue.New(store, c.Channels, cfg.QueueCap, logging.WithComponent(logger, "queue"))
	if err != nil {
		return nil, fmt.Errorf("offline queue: %w", err)
	}
	q.Notifier = col.Notifier
	c.Queue = q

	zones := &geofence.Service{
		Source: c.Backend,
		Cache:  geofence.NewSnapshotCache(time.Minute),
		Logger: logging.WithComponent(logger, "geofence"),
	}

	var audit storage.AuditLog
	if c.audit != nil {
		audit = c.audit
	}

	c.Orchestrator = &orchestrator.Orchestrator{
		UserID:          userID,
		Plan:            plan,
		Hotline:         cfg.HotlineNumber,
		Contacts:        col.Circle,
		Location:        col.Location,
		Zones:           zones,
		Channels:        c.Channels,
		Live:            c.Live,
		Incidents:       c.Backend,
		Queue:           q,
		Notifier:        col.Notifier,
		Connectivity:    col.Connectivity,
		Audit:           audit,
		Logger:          logging.WithComponent(logger, "orchestrator"),
		LocationTimeout: cfg.LocationTimeout,
	}

	c.RouteMonitor = &routewatch.Monitor{
		Location:        col.Location,
		Escalate:        c.Orchestrator,
		AutoEscalate:    cfg.RouteAutoEscalate,
		Audit:           audit,
		UserID:          userID,
		Logger:          logging.WithComponent(logger, "routewatch"),
		ThresholdMeters: cfg.DeviationThresholdM,
		Cooldown:        cfg.DeviationCooldown,
		ArrivalRadiusM:  cfg.ArrivalRadiusM,
	}

	checkins, err := checkin.NewScheduler(store, c.Channels, col.ContactsByID, logging.WithComponent(logger, "checkin"))
	if err != nil {
		return nil, fmt.Errorf("check-in scheduler: %w", err)
	}
	checkins.PollSpec = fmt.Sprintf("@every %s", cfg.CheckInPoll)
	checkins.UserName = col.UserName
	c.CheckIns = checkins

	return c, nil
}

// Start launches the background machinery: the check-in poll and the
// offline-queue connectivity binding.
func (c *Core) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	if err := c.CheckIns.Start(); err != nil {
		cancel()
		return err
	}
	if c.connectivity != nil {
		c.Queue.BindConnectivity(ctx, c.connectivity)
	}
	return nil
}

// OnForeground is called by the host when the app returns to the
// foreground; pending offline messages are flushed.
func (c *Core) OnForeground(ctx context.Context) {
	c.Queue.OnForeground(ctx)
}

// Stop tears down timers, watches, and connections. Outstanding dispatch
// background phases are waited out so nothing is torn down mid-send.
func (c *Core) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.CheckIns.Stop()
	c.RouteMonitor.Stop()
	c.Live.Stop()
	c.Orchestrator.WaitBackground()
	if c.telemetry != nil {
		if err := c.telemetry.Close(); err != nil {
			c.Logger.Warn("telemetry close failed", "error", err)
		}
	}
	if c.audit != nil {
		if err := c.audit.Close(); err != nil {
			c.Logger.Warn("audit close failed", "error", err)
		}
	}
}
