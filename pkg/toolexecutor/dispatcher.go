package toolexecutor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/nanobot/internal/observability"
	"github.com/harun/nanobot/internal/tracing"
	"github.com/harun/nanobot/pkg/registry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Route tells where a capability executes
type Route string

const (
	RouteLocal  Route = "local"
	RouteRemote Route = "remote"
)

// Capability is one entry of the dispatcher catalog
type Capability struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	ParameterSchema string `json:"parameterSchema,omitempty"`
	Route           Route  `json:"route"`
}

// Observation is the outcome of one dispatch. Content is what the model sees;
// failures are prefixed with "Error: ".
type Observation struct {
	Content    string        `json:"content"`
	Success    bool          `json:"success"`
	Kind       ErrorKind     `json:"kind,omitempty"`
	Route      Route         `json:"route,omitempty"`
	ProviderID string        `json:"providerId,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// ProviderSource is the registry view the dispatcher needs
type ProviderSource interface {
	ListAll() []*registry.Provider
	ListOnline() []*registry.Provider
}

// DispatcherConfig holds dispatcher dependencies
type DispatcherConfig struct {
	Executor  *ToolExecutor
	Providers ProviderSource
	Remote    *RemoteClient
	Logger    zerolog.Logger
}

// Dispatcher resolves a capability name to a local tool or an ONLINE remote
// provider and runs it. Local tools shadow remote ones with the same name.
type Dispatcher struct {
	executor  *ToolExecutor
	providers ProviderSource
	remote    *RemoteClient
	logger    zerolog.Logger

	mu       sync.Mutex
	counters map[string]uint64
}

// NewDispatcher creates a dispatcher
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("tool executor is required")
	}
	if cfg.Remote == nil {
		cfg.Remote = NewRemoteClient(DefaultRemoteConfig())
	}

	return &Dispatcher{
		executor:  cfg.Executor,
		providers: cfg.Providers,
		remote:    cfg.Remote,
		logger:    cfg.Logger,
		counters:  make(map[string]uint64),
	}, nil
}

// Invoke runs the named capability. It never returns an error: every failure
// becomes an observation the agent loop can feed back to the model.
func (d *Dispatcher) Invoke(ctx context.Context, name string, args map[string]interface{}) Observation {
	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, "nanobot.dispatch", "tool.invoke",
		attribute.String("tool", name),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, d.logger).With().Str("tool", name).Logger()

	obs := d.invoke(ctx, name, args)
	obs.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("route", string(obs.Route)),
		attribute.Bool("success", obs.Success),
	)
	if !obs.Success {
		span.SetStatus(codes.Error, obs.Content)
		logger.Warn().
			Str("kind", string(obs.Kind)).
			Str("providerId", obs.ProviderID).
			Str("error", obs.Content).
			Msg("Tool dispatch failed")
	} else {
		logger.Debug().
			Str("route", string(obs.Route)).
			Str("providerId", obs.ProviderID).
			Dur("duration", obs.Duration).
			Msg("Tool dispatch completed")
	}

	outcome := "success"
	if !obs.Success {
		outcome = string(obs.Kind)
	}
	observability.RecordToolDispatch(name, string(obs.Route), outcome, obs.Duration)
	observability.RecordDispatchAudit(ctx, name, obs.ProviderID, outcome, map[string]interface{}{
		"route":      string(obs.Route),
		"durationMs": obs.Duration.Milliseconds(),
	})

	return obs
}

func (d *Dispatcher) invoke(ctx context.Context, name string, args map[string]interface{}) Observation {
	if d.executor.HasTool(name) {
		result := d.executor.Execute(ctx, name, args)
		if !result.Success {
			return failure(KindLocalExecutionFailure, RouteLocal, "", result.Error)
		}
		return Observation{
			Content: FormatOutput(result.Output),
			Success: true,
			Route:   RouteLocal,
		}
	}

	provider, kind := d.selectProvider(name)
	if provider == nil {
		if kind == KindNoOnlineProvider {
			return failure(kind, RouteRemote, "", fmt.Sprintf("no online provider for tool: %s", name))
		}
		return NotFound(name)
	}

	data, err := d.remote.Execute(ctx, provider.Address, name, args)
	if err != nil {
		return failure(remoteKind(err), RouteRemote, provider.InstanceID, err.Error())
	}

	return Observation{
		Content:    data,
		Success:    true,
		Route:      RouteRemote,
		ProviderID: provider.InstanceID,
	}
}

// selectProvider picks an ONLINE provider for name, rotating through the
// candidates in registry order. When none is online it reports whether an
// OFFLINE provider advertises the capability.
func (d *Dispatcher) selectProvider(name string) (*registry.Provider, ErrorKind) {
	if d.providers == nil {
		return nil, KindToolNotFound
	}

	var candidates []*registry.Provider
	for _, p := range d.providers.ListOnline() {
		if p.HasCapability(name) {
			candidates = append(candidates, p)
		}
	}

	if len(candidates) == 0 {
		for _, p := range d.providers.ListAll() {
			if p.HasCapability(name) {
				return nil, KindNoOnlineProvider
			}
		}
		return nil, KindToolNotFound
	}

	d.mu.Lock()
	n := d.counters[name]
	d.counters[name] = n + 1
	d.mu.Unlock()

	return candidates[n%uint64(len(candidates))], KindNone
}

// Catalog lists the capabilities visible to the model: every local tool plus
// the capabilities of ONLINE providers not shadowed by a local tool. allow
// filters by name when non-nil.
func (d *Dispatcher) Catalog(allow func(name string) bool) []Capability {
	seen := make(map[string]bool)
	var out []Capability

	for _, c := range d.executor.Capabilities() {
		if allow != nil && !allow(c.Name) {
			continue
		}
		seen[c.Name] = true
		out = append(out, c)
	}

	if d.providers != nil {
		var remote []Capability
		for _, p := range d.providers.ListOnline() {
			for _, c := range p.Capabilities {
				if seen[c.Name] || (allow != nil && !allow(c.Name)) {
					continue
				}
				seen[c.Name] = true
				remote = append(remote, Capability{
					Name:            c.Name,
					Description:     c.Description,
					ParameterSchema: c.ParameterSchema,
					Route:           RouteRemote,
				})
			}
		}
		sort.Slice(remote, func(i, j int) bool { return remote[i].Name < remote[j].Name })
		out = append(out, remote...)
	}

	return out
}

// NotFound is the observation for a tool that is unknown or not allowed
func NotFound(name string) Observation {
	return failure(KindToolNotFound, "", "", fmt.Sprintf("tool not found: %s", name))
}

func failure(kind ErrorKind, route Route, providerID, msg string) Observation {
	return Observation{
		Content:    "Error: " + msg,
		Success:    false,
		Kind:       kind,
		Route:      route,
		ProviderID: providerID,
	}
}
