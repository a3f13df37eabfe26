package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/nanobot/internal/observability"
	"github.com/rs/zerolog/log"
)

// Registry tracks remote tool providers and their liveness.
// Status is mutated only by Register, Heartbeat and Sweep.
type Registry struct {
	providers map[string]*Provider
	mu        sync.RWMutex
	timeout   time.Duration
	now       func() time.Time
	listener  func(StatusChange)
}

// Option configures a Registry
type Option func(*Registry)

// WithClock replaces time.Now, used to drive liveness deterministically
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithStatusListener is called after every status transition, outside the
// registry lock
func WithStatusListener(fn func(StatusChange)) Option {
	return func(r *Registry) {
		r.listener = fn
	}
}

// New creates a registry that marks providers offline after timeout of silence
func New(timeout time.Duration, opts ...Option) *Registry {
	if timeout <= 0 {
		timeout = DefaultConfig().HeartbeatTimeout
	}

	r := &Registry{
		providers: make(map[string]*Provider),
		timeout:   timeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register inserts or updates a provider. Re-registering an existing instance
// replaces its address and capabilities and keeps its original register time.
func (r *Registry) Register(req RegisterRequest) error {
	if strings.TrimSpace(req.InstanceID) == "" {
		return fmt.Errorf("%w: instanceId is required", ErrInvalidProvider)
	}
	if strings.TrimSpace(req.Address) == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidProvider)
	}
	for i, c := range req.Capabilities {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("%w: capability %d has no name", ErrInvalidProvider, i)
		}
	}

	r.notify(r.upsert(req))
	return nil
}

func (r *Registry) upsert(req RegisterRequest) []StatusChange {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	caps := append([]Capability(nil), req.Capabilities...)
	address := strings.TrimRight(req.Address, "/")

	if existing, ok := r.providers[req.InstanceID]; ok {
		from := existing.Status
		existing.Address = address
		existing.Capabilities = caps
		existing.Status = StatusOnline
		existing.LastHeartbeat = now

		log.Info().
			Str("instanceId", req.InstanceID).
			Str("address", address).
			Int("capabilities", len(caps)).
			Msg("Provider re-registered")

		r.recordStatusLocked()
		if from == StatusOnline {
			return nil
		}
		return []StatusChange{{InstanceID: req.InstanceID, Address: address, From: from, To: StatusOnline, At: now}}
	}

	r.providers[req.InstanceID] = &Provider{
		InstanceID:    req.InstanceID,
		Address:       address,
		Capabilities:  caps,
		Status:        StatusOnline,
		RegisterTime:  now,
		LastHeartbeat: now,
	}

	log.Info().
		Str("instanceId", req.InstanceID).
		Str("address", address).
		Int("capabilities", len(caps)).
		Msg("Provider registered")

	r.recordStatusLocked()
	return []StatusChange{{InstanceID: req.InstanceID, Address: address, To: StatusOnline, At: now}}
}

// Heartbeat refreshes a known provider and forces it ONLINE. It reports
// whether the instance was known; unknown instances are ignored.
func (r *Registry) Heartbeat(instanceID string) bool {
	known, changes := r.beat(instanceID)
	r.notify(changes)
	return known
}

func (r *Registry) beat(instanceID string) (bool, []StatusChange) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.providers[instanceID]
	if !ok {
		log.Debug().Str("instanceId", instanceID).Msg("Heartbeat from unknown provider ignored")
		return false, nil
	}

	p.LastHeartbeat = r.now()
	if p.Status == StatusOnline {
		return true, nil
	}

	from := p.Status
	p.Status = StatusOnline
	log.Info().Str("instanceId", instanceID).Msg("Provider back online")
	r.recordStatusLocked()
	return true, []StatusChange{{InstanceID: instanceID, Address: p.Address, From: from, To: StatusOnline, At: p.LastHeartbeat}}
}

// Get returns a copy of one provider
func (r *Registry) Get(instanceID string) (*Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[instanceID]
	if !ok {
		return nil, false
	}
	return p.clone(), true
}

// ListAll returns copies of every provider, ONLINE or not, in registry order
func (r *Registry) ListAll() []*Provider {
	return r.list(func(*Provider) bool { return true })
}

// ListOnline returns copies of ONLINE providers in registry order
func (r *Registry) ListOnline() []*Provider {
	return r.list(func(p *Provider) bool { return p.Status == StatusOnline })
}

// list returns providers ordered by register time, then instance id
func (r *Registry) list(keep func(*Provider) bool) []*Provider {
	r.mu.RLock()
	result := make([]*Provider, 0, len(r.providers))
	for _, p := range r.providers {
		if keep(p) {
			result = append(result, p.clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].RegisterTime.Equal(result[j].RegisterTime) {
			return result[i].RegisterTime.Before(result[j].RegisterTime)
		}
		return result[i].InstanceID < result[j].InstanceID
	})
	return result
}

// Sweep marks providers silent for longer than the timeout as OFFLINE and
// returns the ids that transitioned. Providers are never removed.
func (r *Registry) Sweep() []string {
	changes := r.sweep()
	r.notify(changes)

	transitioned := make([]string, 0, len(changes))
	for _, c := range changes {
		transitioned = append(transitioned, c.InstanceID)
	}
	return transitioned
}

func (r *Registry) sweep() []StatusChange {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var changes []StatusChange

	for id, p := range r.providers {
		if p.Status != StatusOnline {
			continue
		}
		silence := now.Sub(p.LastHeartbeat)
		if silence > r.timeout {
			p.Status = StatusOffline
			changes = append(changes, StatusChange{InstanceID: id, Address: p.Address, From: StatusOnline, To: StatusOffline, At: now})

			log.Warn().
				Str("instanceId", id).
				Dur("silence", silence).
				Msg("Provider marked offline")
		}
	}

	if len(changes) > 0 {
		sort.Slice(changes, func(i, j int) bool { return changes[i].InstanceID < changes[j].InstanceID })
		observability.RecordProviderOffline(len(changes))
		r.recordStatusLocked()
	}
	return changes
}

// Count returns the number of known providers
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

func (r *Registry) notify(changes []StatusChange) {
	if r.listener == nil {
		return
	}
	for _, c := range changes {
		r.listener(c)
	}
}

func (r *Registry) recordStatusLocked() {
	online := 0
	for _, p := range r.providers {
		if p.Status == StatusOnline {
			online++
		}
	}
	observability.SetProviders(online, len(r.providers)-online)
}
