package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/nanobot/internal/config"
	"github.com/harun/nanobot/internal/logger"
	"github.com/harun/nanobot/internal/observability"
	"github.com/harun/nanobot/internal/tracing"
	"github.com/harun/nanobot/pkg/agent"
	"github.com/harun/nanobot/pkg/coretools"
	"github.com/harun/nanobot/pkg/gateway"
	"github.com/harun/nanobot/pkg/memory"
	"github.com/harun/nanobot/pkg/registry"
	"github.com/harun/nanobot/pkg/session"
	"github.com/harun/nanobot/pkg/storage"
	"github.com/harun/nanobot/pkg/toolexecutor"
)

// Daemon owns every component of a core node and their start/stop order
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Storage
	db       *storage.DB
	memory   memory.Backend
	sessions *session.Manager
	guard    session.Guard
	archiver *session.Archiver

	// Providers and tools
	registry   *registry.Registry
	sweeper    *registry.Sweeper
	executor   *toolexecutor.ToolExecutor
	dispatcher *toolexecutor.Dispatcher

	// Agents
	gateways     agent.GatewaySource
	orchestrator *agent.Orchestrator
	catalog      *agent.Catalog
	agents       *agent.Service

	gateway   *gateway.Server
	lifecycle *LifecycleManager

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status is a snapshot of the daemon state
type Status struct {
	Running          bool          `json:"running"`
	StartTime        time.Time     `json:"startTime,omitempty"`
	Uptime           time.Duration `json:"uptime"`
	ProvidersOnline  int           `json:"providersOnline"`
	ProvidersTotal   int           `json:"providersTotal"`
	LocalTools       int           `json:"localTools"`
	GatewayAddr      string        `json:"gatewayAddr,omitempty"`
	ConnectedClients int           `json:"connectedClients"`
}

var newGatewaySource = func(cfg config.LLMConfig) (agent.GatewaySource, error) {
	return agent.NewGatewayFactory(cfg.Profiles, cfg.Default)
}

// New creates a daemon and wires its components. Nothing listens until Start.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}

	observability.EnsureRegistered()

	d := &Daemon{
		config: cfg,
		logger: log,
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.Config); err != nil {
			log.Zerolog().Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			log.Zerolog().Info().Str("endpoint", cfg.Tracing.OTLPEndpoint).Msg("Tracing initialized")
		}
	}

	if cfg.AuditFile != "" {
		if err := observability.InitAuditLogger(cfg.AuditFile); err != nil {
			log.Zerolog().Warn().Err(err).Str("path", cfg.AuditFile).Msg("Failed to open audit log, audit events are discarded")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"storage", d.initStorage},
		{"sessions", d.initSessions},
		{"tools", d.initTools},
		{"agents", d.initAgents},
		{"gateway", d.initGateway},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			d.release()
			return nil, fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}

	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

func (d *Daemon) initStorage(ctx context.Context) error {
	log := d.logger.Component("storage")

	if d.config.Storage.Backend != config.StorageSQL {
		d.memory = memory.NewInMemoryBackend()
		log.Info().Msg("Using in-memory conversation history")
		return nil
	}

	db, err := storage.Open(ctx, d.config.Storage.Config)
	if err != nil {
		return err
	}
	d.db = db

	repo, err := memory.NewSQLRepository(ctx, db, d.logger.Component("memory"))
	if err != nil {
		return err
	}
	d.memory = memory.NewSQLBackend(repo)

	log.Info().Str("driver", string(db.Dialect)).Msg("SQL storage initialized")
	return nil
}

func (d *Daemon) initSessions(ctx context.Context) error {
	var store session.Store = session.NewMemoryStore()
	if d.db != nil {
		sqlStore, err := session.NewSQLStore(ctx, d.db)
		if err != nil {
			return err
		}
		store = sqlStore
	}

	sessions, err := session.NewManager(store)
	if err != nil {
		return err
	}
	d.sessions = sessions

	switch d.config.Guard.Backend {
	case config.GuardRedis:
		guard, err := session.NewRedisGuard(ctx, session.RedisGuardConfig{
			Address:   d.config.Guard.Address,
			Password:  d.config.Guard.Password,
			DB:        d.config.Guard.DB,
			KeyPrefix: d.config.Guard.KeyPrefix,
			LeaseTTL:  d.config.Guard.LeaseTTL,
		})
		if err != nil {
			return err
		}
		d.guard = guard
	default:
		d.guard = session.NewLocalGuard()
	}

	d.logger.Component("session").Info().Str("guard", d.config.Guard.Backend).Msg("Session manager initialized")
	return nil
}

func (d *Daemon) initTools(_ context.Context) error {
	log := d.logger.Component("dispatch")

	d.registry = registry.New(d.config.Registry.HeartbeatTimeout, registry.WithStatusListener(d.onProviderStatus))
	d.sweeper = registry.NewSweeper(d.registry, d.config.Registry.SweepInterval)

	d.executor = toolexecutor.New(toolexecutor.WithTimeout(d.config.Dispatch.ToolTimeout))
	if err := coretools.RegisterCoreTools(d.executor, coretools.Options{}); err != nil {
		return err
	}

	dispatcher, err := toolexecutor.NewDispatcher(toolexecutor.DispatcherConfig{
		Executor:  d.executor,
		Providers: d.registry,
		Remote: toolexecutor.NewRemoteClient(toolexecutor.RemoteConfig{
			ConnectTimeout: d.config.Dispatch.ConnectTimeout,
			RequestTimeout: d.config.Dispatch.RequestTimeout,
		}),
		Logger: log,
	})
	if err != nil {
		return err
	}
	d.dispatcher = dispatcher

	log.Info().Strs("localTools", d.executor.ListTools()).Msg("Tool dispatcher initialized")
	return nil
}

func (d *Daemon) initAgents(_ context.Context) error {
	log := d.logger.Component("agent")

	gateways, err := newGatewaySource(d.config.LLM)
	if err != nil {
		return err
	}
	d.gateways = gateways

	orchestrator, err := agent.NewOrchestrator(agent.OrchestratorConfig{
		Tools:  d.dispatcher,
		Logger: log,
	})
	if err != nil {
		return err
	}
	d.orchestrator = orchestrator

	catalog, err := agent.NewCatalog(d.config.Agents...)
	if err != nil {
		return err
	}
	d.catalog = catalog

	service, err := agent.NewService(agent.ServiceConfig{
		Orchestrator:  d.orchestrator,
		Catalog:       d.catalog,
		Sessions:      d.sessions,
		Memory:        d.memory,
		Guard:         d.guard,
		Capabilities:  d.dispatcher,
		Gateways:      d.gateways,
		StreamTimeout: d.config.Agent.StreamTimeout,
		EventBuffer:   d.config.Agent.EventBuffer,
		Logger:        log,
	})
	if err != nil {
		return err
	}
	d.agents = service

	if idle := d.config.Agent.SessionIdleTimeout; idle > 0 {
		d.archiver = session.NewArchiver(d.sessions, d.agents, d.guard, idle)
	}

	ids := make([]string, 0)
	for _, p := range catalog.List() {
		ids = append(ids, p.ID)
	}
	log.Info().Strs("agents", ids).Msg("Agent service initialized")
	return nil
}

func (d *Daemon) initGateway(_ context.Context) error {
	gw := d.config.Gateway
	server, err := gateway.NewServer(gateway.Config{
		Host:            gw.Host,
		Port:            gw.Port,
		SharedSecret:    gw.SharedSecret,
		RateLimit:       gw.RateLimit,
		TickInterval:    gw.TickInterval,
		ShutdownTimeout: gw.ShutdownTimeout,
		Agent:           d.agents,
		Registry:        d.registry,
		Logger:          d.logger.Component("gateway"),
	})
	if err != nil {
		return err
	}
	d.gateway = server
	return nil
}

// onProviderStatus logs registry transitions and pushes them to gateway clients
func (d *Daemon) onProviderStatus(change registry.StatusChange) {
	d.logger.Component("registry").Info().
		Str("instanceId", change.InstanceID).
		Str("address", change.Address).
		Str("from", string(change.From)).
		Str("to", string(change.To)).
		Msg("Provider status changed")

	observability.RecordProviderAudit(context.Background(), change.InstanceID, string(change.From), string(change.To),
		map[string]interface{}{"address": change.Address})

	if d.gateway != nil {
		d.gateway.Broadcaster().ProviderStatusListener()(change)
	}
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	log := tracing.LoggerFromContext(tracing.NewRequestContext(context.Background()), d.logger.Zerolog())
	log.Info().Msg("Starting nanobot daemon")

	if err := d.lifecycle.Start(); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.gateway.Start(); err != nil {
		_ = d.lifecycle.Stop()
		d.setStopped()
		return fmt.Errorf("failed to start gateway server: %w", err)
	}
	log.Info().Str("addr", d.gateway.Addr()).Msg("Gateway server started")

	d.sweeper.Start()
	log.Info().
		Dur("sweepInterval", d.config.Registry.SweepInterval).
		Dur("heartbeatTimeout", d.config.Registry.HeartbeatTimeout).
		Msg("Provider liveness sweep started")

	if d.archiver != nil {
		d.archiver.Start()
	}

	log.Info().Msg("Daemon started successfully")
	return nil
}

// Stop stops the daemon service gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	log := tracing.LoggerFromContext(tracing.NewRequestContext(context.Background()), d.logger.Zerolog())
	log.Info().Msg("Stopping nanobot daemon")

	if err := d.gateway.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop gateway server")
	}

	d.sweeper.Stop()
	log.Info().Msg("Provider liveness sweep stopped")

	if d.archiver != nil {
		d.archiver.Stop()
	}

	if err := d.lifecycle.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.release()

	log.Info().Msg("Daemon stopped successfully")
	return nil
}

// release closes storage, the guard connection and the tracer provider
func (d *Daemon) release() {
	log := d.logger.Zerolog()

	if closer, ok := d.guard.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close session guard")
		}
	}

	if d.db != nil {
		if err := d.db.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close storage")
		}
		d.db = nil
	}

	if d.config.AuditFile != "" {
		if err := observability.CloseAuditLogger(); err != nil {
			log.Error().Err(err).Msg("Failed to close audit log")
		}
	}

	if d.tracingEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:         d.running,
		ProvidersOnline: len(d.registry.ListOnline()),
		ProvidersTotal:  d.registry.Count(),
		LocalTools:      d.executor.GetToolCount(),
	}

	if d.running {
		status.StartTime = d.startTime
		status.Uptime = time.Since(d.startTime)
		status.GatewayAddr = d.gateway.Addr()
		status.ConnectedClients = len(d.gateway.GetConnectedClients())
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.logger.Zerolog().Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Zerolog().Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetGatewayServer returns the gateway server
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gateway
}

// GetRegistry returns the provider registry
func (d *Daemon) GetRegistry() *registry.Registry {
	return d.registry
}

// GetAgentService returns the session-level agent service
func (d *Daemon) GetAgentService() *agent.Service {
	return d.agents
}

// GetToolExecutor returns the local tool executor. Tools registered before
// Start are visible to every agent.
func (d *Daemon) GetToolExecutor() *toolexecutor.ToolExecutor {
	return d.executor
}
