package agent

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// CheckFunc probes central reachability. A nil error means reachable.
type CheckFunc func(ctx context.Context) error

// Connectivity tracks whether the central controller is reachable. Going
// offline is latched: it takes failureThreshold consecutive probe failures,
// so one dropped packet does not flap the site into offline mode. A single
// success flips back online immediately.
type Connectivity struct {
	check            CheckFunc
	interval         time.Duration
	timeout          time.Duration
	failureThreshold int

	mu           sync.RWMutex
	online       bool
	started      bool
	failures     int
	lastOnlineAt time.Time
	listeners    []func(online bool)
}

// NewConnectivity builds the monitor. The first probe decides the initial
// state; until then the agent is treated as offline.
func NewConnectivity(check CheckFunc, interval, timeout time.Duration, failureThreshold int) *Connectivity {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return &Connectivity{
		check:            check,
		interval:         interval,
		timeout:          timeout,
		failureThreshold: failureThreshold,
	}
}

// OnChange registers a callback invoked on every online/offline flip.
// Callbacks run on the monitor goroutine; long work belongs elsewhere.
func (c *Connectivity) OnChange(fn func(online bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// IsOnline reports the current reachability state.
func (c *Connectivity) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

// LastOnlineAt returns when central was last reachable; zero if never.
func (c *Connectivity) LastOnlineAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastOnlineAt
}

// OfflineDuration returns how long the agent has been offline, zero when
// online or never connected.
func (c *Connectivity) OfflineDuration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.online || c.lastOnlineAt.IsZero() {
		return 0
	}
	return time.Since(c.lastOnlineAt)
}

// Run probes central until ctx is cancelled. The first probe happens
// immediately.
func (c *Connectivity) Run(ctx context.Context) {
	c.probe(ctx)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.probe(ctx)
		}
	}
}

func (c *Connectivity) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	err := c.check(probeCtx)
	cancel()

	// A probe aborted by shutdown says nothing about reachability and must
	// not count toward the offline threshold.
	if err != nil && ctx.Err() != nil {
		return
	}

	c.mu.Lock()
	var flipped *bool
	if err == nil {
		c.failures = 0
		c.lastOnlineAt = time.Now().UTC()
		if !c.online || !c.started {
			c.online = true
			on := true
			flipped = &on
		}
	} else {
		c.failures++
		if (c.online || !c.started) && c.failures >= c.failureThreshold {
			c.online = false
			off := false
			flipped = &off
		}
	}
	c.started = true
	failures := c.failures
	listeners := c.listeners
	c.mu.Unlock()

	if flipped == nil {
		return
	}
	if *flipped {
		log.Info().Msg("Central controller reachable, entering online mode")
	} else {
		log.Warn().Int("failures", failures).Msg("Central controller unreachable, entering offline mode")
	}
	for _, fn := range listeners {
		fn(*flipped)
	}
}
