package sched

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ollama-webchat/internal/domain/ports/adapter"
	"ollama-webchat/internal/infra/metrics"
)

// HealthMonitor periodically pings the inference backend and publishes
// the result as a gauge so dashboards see outages before users do.
type HealthMonitor struct {
	interval time.Duration
	ai       adapter.AIServiceAdapter
	log      *zerolog.Logger

	up atomic.Bool
}

func NewHealthMonitor(interval time.Duration, ai adapter.AIServiceAdapter, logger *zerolog.Logger) *HealthMonitor {
	l := logger.With().Str("component", "HealthMonitor").Logger()
	return &HealthMonitor{interval: interval, ai: ai, log: &l}
}

func (m *HealthMonitor) Run(ctx context.Context) error {
	m.log.Info().Dur("interval", m.interval).Msg("starting backend health monitor")
	m.check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("stopping backend health monitor")
			return ctx.Err()
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

// Up reports the result of the last check.
func (m *HealthMonitor) Up() bool { return m.up.Load() }

func (m *HealthMonitor) check(ctx context.Context) {
	err := m.ai.HealthCheck(ctx)
	up := err == nil
	if up != m.up.Load() {
		if up {
			m.log.Info().Msg("inference backend is reachable")
		} else {
			m.log.Warn().Err(err).Msg("inference backend health check failed")
		}
	}
	m.up.Store(up)
	metrics.SetBackendUp(up)
}
