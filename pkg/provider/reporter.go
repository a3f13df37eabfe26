package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/nanobot/pkg/registry"
	"github.com/harun/nanobot/pkg/toolexecutor"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultHeartbeatInterval is how often a provider reports liveness
const DefaultHeartbeatInterval = 30 * time.Second

// ReporterConfig configures the registration client of a provider
type ReporterConfig struct {
	CoreURL      string
	InstanceID   string
	Address      string
	Interval     time.Duration
	Capabilities []registry.Capability
	// Secret is the core's shared secret, sent on every registry request
	Secret       string
	HTTPClient   *http.Client
	Logger       zerolog.Logger
}

// Reporter registers a provider with the core and keeps it alive. A
// heartbeat the core does not recognise triggers a fresh registration.
type Reporter struct {
	coreURL      string
	instanceID   string
	address      string
	interval     time.Duration
	capabilities []registry.Capability
	secret       string
	client       *http.Client
	logger       zerolog.Logger

	mu         sync.Mutex
	registered bool
	cron       *cron.Cron
}

// NewReporter creates a reporter. The instance id defaults to the hostname
// plus a random suffix.
func NewReporter(cfg ReporterConfig) (*Reporter, error) {
	if strings.TrimSpace(cfg.CoreURL) == "" {
		return nil, fmt.Errorf("core url is required")
	}
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, fmt.Errorf("provider address is required")
	}
	if cfg.InstanceID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "provider"
		}
		cfg.InstanceID = host + "-" + uuid.NewString()[:8]
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultHeartbeatInterval
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}

	return &Reporter{
		coreURL:      strings.TrimRight(cfg.CoreURL, "/"),
		instanceID:   cfg.InstanceID,
		address:      cfg.Address,
		interval:     cfg.Interval,
		capabilities: cfg.Capabilities,
		secret:       cfg.Secret,
		client:       cfg.HTTPClient,
		logger:       cfg.Logger.With().Str("instanceId", cfg.InstanceID).Logger(),
	}, nil
}

// CapabilitiesOf lists the tools of an executor in registration form
func CapabilitiesOf(executor *toolexecutor.ToolExecutor) []registry.Capability {
	caps := executor.Capabilities()
	out := make([]registry.Capability, 0, len(caps))
	for _, c := range caps {
		out = append(out, registry.Capability{
			Name:            c.Name,
			Description:     c.Description,
			ParameterSchema: c.ParameterSchema,
		})
	}
	return out
}

// InstanceID returns the id the provider registers under
func (r *Reporter) InstanceID() string {
	return r.instanceID
}

// Register announces the provider and its capabilities
func (r *Reporter) Register(ctx context.Context) error {
	req := registry.RegisterRequest{
		InstanceID:   r.instanceID,
		Address:      r.address,
		Capabilities: r.capabilities,
		Timestamp:    time.Now().UnixMilli(),
	}
	if err := r.post(ctx, registry.PathRegister, req, nil); err != nil {
		r.setRegistered(false)
		return fmt.Errorf("failed to register: %w", err)
	}

	r.setRegistered(true)
	r.logger.Info().
		Str("core", r.coreURL).
		Int("capabilities", len(r.capabilities)).
		Msg("Registered with core")
	return nil
}

// Heartbeat reports liveness and returns whether the core knew the instance
func (r *Reporter) Heartbeat(ctx context.Context) (bool, error) {
	var ack registry.HeartbeatAck
	req := registry.HeartbeatRequest{InstanceID: r.instanceID, Timestamp: time.Now().UnixMilli()}
	if err := r.post(ctx, registry.PathHeartbeat, req, &ack); err != nil {
		return false, fmt.Errorf("failed to send heartbeat: %w", err)
	}
	return ack.Known, nil
}

// Tick runs one reporting round: register when not registered, otherwise
// heartbeat and re-register if the core has forgotten the instance.
func (r *Reporter) Tick(ctx context.Context) {
	if !r.isRegistered() {
		if err := r.Register(ctx); err != nil {
			r.logger.Warn().Err(err).Msg("Registration retry failed")
		}
		return
	}

	known, err := r.Heartbeat(ctx)
	if err != nil {
		r.logger.Debug().Err(err).Msg("Heartbeat failed")
		return
	}
	if !known {
		r.logger.Info().Msg("Core does not know this instance, re-registering")
		if err := r.Register(ctx); err != nil {
			r.logger.Warn().Err(err).Msg("Re-registration failed")
		}
	}
}

// Start registers once and schedules Tick every interval. A failed first
// registration is retried on the next tick. Calling Start twice is a no-op.
func (r *Reporter) Start(ctx context.Context) {
	r.mu.Lock()
	started := r.cron != nil
	r.mu.Unlock()
	if started {
		return
	}

	if err := r.Register(ctx); err != nil {
		r.logger.Error().Err(err).Msg("Initial registration failed")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return
	}

	r.cron = cron.New()
	r.cron.Schedule(cron.Every(r.interval), cron.FuncJob(func() {
		r.Tick(ctx)
	}))
	r.cron.Start()

	r.logger.Info().Dur("interval", r.interval).Msg("Heartbeat started")
}

// Stop halts the heartbeat and waits for a running tick
func (r *Reporter) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	r.logger.Info().Msg("Heartbeat stopped")
}

func (r *Reporter) setRegistered(v bool) {
	r.mu.Lock()
	r.registered = v
	r.mu.Unlock()
}

func (r *Reporter) isRegistered() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registered
}

func (r *Reporter) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.coreURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.secret != "" {
		req.Header.Set(registry.SecretHeader, r.secret)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("core returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("invalid response body: %w", err)
	}
	return nil
}
