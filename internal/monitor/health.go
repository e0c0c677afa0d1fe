package monitor

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// HealthSnapshot reports process liveness plus host resource headroom
type HealthSnapshot struct {
	Status        string    `json:"status"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	MemoryUsedMB  uint64    `json:"memory_used_mb"`
	CollectedAt   time.Time `json:"collected_at"`
}

// HealthCollector samples host resource usage for the health endpoint
type HealthCollector struct {
	logger    *zap.Logger
	startedAt time.Time
}

// NewHealthCollector creates a health collector
func NewHealthCollector(logger *zap.Logger) *HealthCollector {
	return &HealthCollector{
		logger:    logger.Named("health"),
		startedAt: time.Now(),
	}
}

// Collect samples CPU and memory. Sampling errors degrade the snapshot
// rather than failing the health check; the process answering is the signal
// that matters.
func (c *HealthCollector) Collect(ctx context.Context) *HealthSnapshot {
	snapshot := &HealthSnapshot{
		Status:        "ok",
		UptimeSeconds: time.Since(c.startedAt).Seconds(),
		CollectedAt:   time.Now().UTC(),
	}

	percentages, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		c.logger.Warn("Failed to sample CPU", zap.Error(err))
	} else if len(percentages) > 0 {
		snapshot.CPUPercent = percentages[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		c.logger.Warn("Failed to sample memory", zap.Error(err))
	} else {
		snapshot.MemoryPercent = vm.UsedPercent
		snapshot.MemoryUsedMB = vm.Used / (1 << 20)
	}

	return snapshot
}
