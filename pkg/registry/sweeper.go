package registry

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Sweeper periodically runs Registry.Sweep on a fixed schedule
type Sweeper struct {
	registry *Registry
	interval time.Duration
	cron     *cron.Cron
	mu       sync.Mutex
	running  bool
}

// NewSweeper creates a sweeper; intervals below one second are rounded up by the scheduler
func NewSweeper(registry *Registry, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultConfig().SweepInterval
	}
	return &Sweeper{
		registry: registry,
		interval: interval,
	}
}

// Start schedules the sweep. Calling Start twice is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.cron = cron.New()
	s.cron.Schedule(cron.Every(s.interval), cron.FuncJob(func() {
		s.registry.Sweep()
	}))
	s.cron.Start()
	s.running = true

	log.Info().
		Dur("interval", s.interval).
		Dur("timeout", s.registry.timeout).
		Msg("Provider sweeper started")
}

// Stop halts scheduling and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	<-s.cron.Stop().Done()
	s.running = false

	log.Info().Msg("Provider sweeper stopped")
}
