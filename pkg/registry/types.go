package registry

import (
	"errors"
	"time"
)

// Status is the liveness state of a provider
type Status string

const (
	StatusOnline  Status = "ONLINE"
	StatusOffline Status = "OFFLINE"
)

// ErrInvalidProvider is returned when a registration request is missing required fields
var ErrInvalidProvider = errors.New("invalid provider")

// Capability describes one tool advertised by a remote provider
type Capability struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	ParameterSchema string `json:"parameterSchema,omitempty"`
}

// Provider is a remote process exposing capabilities, tracked by the registry
type Provider struct {
	InstanceID    string       `json:"instanceId"`
	Address       string       `json:"address"`
	Capabilities  []Capability `json:"capabilities"`
	Status        Status       `json:"status"`
	RegisterTime  time.Time    `json:"registerTime"`
	LastHeartbeat time.Time    `json:"lastHeartbeat"`
}

// HasCapability reports whether the provider advertises the named capability
func (p *Provider) HasCapability(name string) bool {
	for _, c := range p.Capabilities {
		if c.Name == name {
			return true
		}
	}
	return false
}

func (p *Provider) clone() *Provider {
	cp := *p
	cp.Capabilities = append([]Capability(nil), p.Capabilities...)
	return &cp
}

// StatusChange records one provider transition. From is empty for a first
// registration.
type StatusChange struct {
	InstanceID string    `json:"instanceId"`
	Address    string    `json:"address"`
	From       Status    `json:"from,omitempty"`
	To         Status    `json:"to"`
	At         time.Time `json:"at"`
}

// RegisterRequest is the payload a provider sends on startup
type RegisterRequest struct {
	InstanceID   string       `json:"instanceId"`
	Address      string       `json:"address"`
	Capabilities []Capability `json:"capabilities"`
	Timestamp    int64        `json:"timestamp,omitempty"`
}

// HeartbeatRequest is the periodic liveness signal from a provider
type HeartbeatRequest struct {
	InstanceID string `json:"instanceId"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

// HeartbeatAck tells the provider whether the registry knew it
type HeartbeatAck struct {
	Success bool `json:"success"`
	Known   bool `json:"known"`
}

// Config controls liveness detection
type Config struct {
	SweepInterval    time.Duration `json:"sweepInterval" mapstructure:"sweep_interval"`
	HeartbeatTimeout time.Duration `json:"heartbeatTimeout" mapstructure:"heartbeat_timeout"`
}

// DefaultConfig returns the 30s sweep / 90s timeout defaults
func DefaultConfig() Config {
	return Config{
		SweepInterval:    30 * time.Second,
		HeartbeatTimeout: 90 * time.Second,
	}
}
