package metrics

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gruntyhq/grunty/pkg/database"
	"github.com/gruntyhq/grunty/pkg/k8s"
)

// metricRetention is how long samples are kept before pruning.
const metricRetention = 7 * 24 * time.Hour

// Collector samples platform metrics on an interval
type Collector struct {
	db        *database.DB
	k8sClient k8s.ClientInterface
	interval  time.Duration
	enabled   bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
	logger    *zap.Logger
}

// NewCollector creates a new metrics collector
func NewCollector(db *database.DB, k8sClient k8s.ClientInterface, logger *zap.Logger) *Collector {
	enabled := os.Getenv("GRUNTY_METRICS_ENABLED") != "false"
	intervalStr := os.Getenv("GRUNTY_METRICS_INTERVAL")
	interval := 30 * time.Second
	if intervalStr != "" {
		if d, err := time.ParseDuration(intervalStr); err == nil {
			interval = d
		}
	}

	return &Collector{
		db:        db,
		k8sClient: k8sClient,
		interval:  interval,
		enabled:   enabled,
		stopChan:  make(chan struct{}),
		logger:    logger,
	}
}

// Start starts the metrics collection loop
func (c *Collector) Start(ctx context.Context) {
	if !c.enabled {
		c.logger.Info("metrics collection disabled")
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.collectLoop(ctx)
	}()
}

// Stop stops the metrics collector
func (c *Collector) Stop() {
	if !c.enabled {
		return
	}
	close(c.stopChan)
	c.wg.Wait()
}

func (c *Collector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Collect immediately on start
	c.collect(ctx)

	for {
		select {
		case <-ticker.C:
			c.collect(ctx)
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Collector) collect(ctx context.Context) {
	now := time.Now().UTC()

	active, err := c.db.CountActiveSandboxSessions(ctx, now)
	if err != nil {
		c.logger.Warn("failed to count active sandboxes", zap.Error(err))
	} else {
		c.saveMetric(ctx, "active_sandboxes", float64(active))
	}

	c.collectSandboxUsage(ctx, now)

	if pruned, err := c.db.PruneMetrics(ctx, now.Add(-metricRetention)); err != nil {
		c.logger.Warn("failed to prune metrics", zap.Error(err))
	} else if pruned > 0 {
		c.logger.Debug("pruned old metrics", zap.Int64("count", pruned))
	}
}

// collectSandboxUsage samples CPU and memory of each live sandbox pod.
func (c *Collector) collectSandboxUsage(ctx context.Context, now time.Time) {
	if c.k8sClient == nil {
		return
	}

	sessions, err := c.db.ListActiveSandboxSessions(ctx, now)
	if err != nil {
		c.logger.Warn("failed to list sandbox sessions for metrics", zap.Error(err))
		return
	}

	for _, session := range sessions {
		usage, err := c.k8sClient.GetPodMetrics(ctx, session.Namespace, session.PodName)
		if err != nil {
			// metrics-server lag on a fresh pod is routine
			continue
		}
		c.saveUserMetric(ctx, session.UserID, "sandbox_cpu_millicores", float64(usage.CPUMillicores))
		c.saveUserMetric(ctx, session.UserID, "sandbox_memory_bytes", float64(usage.MemoryBytes))
	}
}

func (c *Collector) saveMetric(ctx context.Context, metricType string, value float64) {
	if err := c.db.SaveMetric(ctx, "", metricType, value); err != nil {
		c.logger.Warn("failed to save metric",
			zap.String("type", metricType), zap.Error(err))
	}
}

func (c *Collector) saveUserMetric(ctx context.Context, userID, metricType string, value float64) {
	if err := c.db.SaveMetric(ctx, userID, metricType, value); err != nil {
		c.logger.Warn("failed to save metric",
			zap.String("type", metricType), zap.Error(err))
	}
}
