// Package agent provides the quota watch loop for tracemoe.
package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onllm-dev/tracemoe/internal/api"
)

// DefaultInterval is used when New is given a non-positive interval.
const DefaultInterval = 60 * time.Second

// StatusFetcher fetches the current account status. *api.Client satisfies it.
type StatusFetcher interface {
	Me(ctx context.Context) (*api.Me, error)
}

// Agent polls account status and reports limit and quota usage.
type Agent struct {
	client      StatusFetcher
	interval    time.Duration
	warnPercent float64
	logger      *slog.Logger

	mu         sync.RWMutex
	last       *api.Me
	warned     bool
	polls      int
	onLowQuota func(*api.Me)
}

// New creates a new Agent. warnPercent is the quota usage (0-100) that
// triggers the low-quota callback. A non-positive interval falls back to
// DefaultInterval.
func New(client StatusFetcher, interval time.Duration, warnPercent float64, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		logger.Warn("Invalid watch interval, using default", "interval", interval, "default", DefaultInterval)
		interval = DefaultInterval
	}
	return &Agent{
		client:      client,
		interval:    interval,
		warnPercent: warnPercent,
		logger:      logger,
	}
}

// SetOnLowQuota registers a callback invoked once each time quota usage
// crosses the warning threshold. It is re-armed when the quota resets.
func (a *Agent) SetOnLowQuota(fn func(*api.Me)) {
	a.mu.Lock()
	a.onLowQuota = fn
	a.mu.Unlock()
}

// Run starts the polling loop. It polls immediately, then continues at the
// configured interval until the context is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("Quota watch started", "interval", a.interval)

	defer func() {
		a.logger.Info("Quota watch stopped", "polls", a.Polls())
	}()

	// Poll immediately on start
	a.poll(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.poll(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// Last returns the most recent successfully fetched status, or nil.
func (a *Agent) Last() *api.Me {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.last
}

// Polls returns the number of successful polls.
func (a *Agent) Polls() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.polls
}

// poll performs a single poll cycle: fetch status, check threshold, log.
func (a *Agent) poll(ctx context.Context) {
	me, err := a.client.Me(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// Context cancelled during request - expected during shutdown
			return
		}
		a.logger.Error("Failed to fetch account status", "error", err)
		return
	}

	usage := me.QuotaUsagePercent()

	a.mu.Lock()
	prev := a.last
	a.last = me
	a.polls++

	// Remaining quota went up: a new quota period started.
	if prev != nil && me.Quota.Quota > prev.Quota.Quota {
		a.warned = false
		a.logger.Info("Quota reset detected",
			"previous", prev.Quota.Quota,
			"remaining", me.Quota.Quota,
		)
	}

	crossed := !a.warned && usage >= a.warnPercent
	if crossed {
		a.warned = true
	}
	notify := a.onLowQuota
	a.mu.Unlock()

	if crossed {
		a.logger.Warn("Quota usage above threshold",
			"usage_percent", usage,
			"threshold", a.warnPercent,
			"remaining", me.Quota.Quota,
			"resets_in", me.Quota.ResetIn(),
		)
		if notify != nil {
			notify(me)
		}
	}

	a.logger.Info("Poll complete",
		"email", me.Email,
		"limit", me.Limit.Limit,
		"user_limit", me.UserLimit.UserLimit,
		"limit_resets_in", me.Limit.ResetIn(),
		"quota", me.Quota.Quota,
		"user_quota", me.UserQuota.UserQuota,
		"quota_resets_in", me.Quota.ResetIn(),
		"quota_used_percent", usage,
	)
}
