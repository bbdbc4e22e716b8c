package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ignite/tinymail/internal/domain"
	"github.com/ignite/tinymail/internal/metrics"
	"github.com/ignite/tinymail/internal/pkg/logger"
	"github.com/ignite/tinymail/internal/queue"
)

// jobTimeout bounds one maintenance run.
const jobTimeout = time.Minute

// QueueAdmin is the queue surface maintenance needs.
type QueueAdmin interface {
	Recover(ctx context.Context, now time.Time, maxDeliveries int) (requeued, dead int, err error)
	Depth(ctx context.Context) (queue.Depth, error)
}

// SendCounter reports the rolling send totals. *ledger.Service satisfies it.
type SendCounter interface {
	Counts(ctx context.Context) (domain.RollingCounts, error)
}

// MaintenanceConfig holds the cron specs. Both accept robfig/cron syntax,
// including "@every 2m".
type MaintenanceConfig struct {
	RecoverySchedule string
	StatsSchedule    string
	MaxDeliveries    int
}

// Maintenance runs the periodic queue jobs: lease recovery, which hands
// out tasks whose worker died and dead-letters the ones that keep dying,
// and a stats report of queue depth and rolling send counts.
type Maintenance struct {
	queue  QueueAdmin
	counts SendCounter
	cfg    MaintenanceConfig
	cron   *cron.Cron
	now    func() time.Time
}

// NewMaintenance creates the job runner. Call Start to schedule it.
func NewMaintenance(q QueueAdmin, counts SendCounter, cfg MaintenanceConfig) *Maintenance {
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}
	return &Maintenance{queue: q, counts: counts, cfg: cfg, cron: cron.New(), now: time.Now}
}

// Start registers the jobs and starts the scheduler.
func (m *Maintenance) Start() error {
	if m.cfg.RecoverySchedule != "" {
		if _, err := m.cron.AddFunc(m.cfg.RecoverySchedule, m.runRecover); err != nil {
			return fmt.Errorf("schedule recovery %q: %w", m.cfg.RecoverySchedule, err)
		}
	}
	if m.cfg.StatsSchedule != "" {
		if _, err := m.cron.AddFunc(m.cfg.StatsSchedule, m.runReport); err != nil {
			return fmt.Errorf("schedule stats %q: %w", m.cfg.StatsSchedule, err)
		}
	}
	logger.Info("maintenance: starting",
		"recovery", m.cfg.RecoverySchedule, "stats", m.cfg.StatsSchedule, "max_deliveries", m.cfg.MaxDeliveries)
	m.cron.Start()
	return nil
}

// Stop stops scheduling and waits for a running job to return.
func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
}

func (m *Maintenance) runRecover() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, _, err := m.RecoverOnce(ctx); err != nil {
		logger.Error("maintenance: recovery failed", "error", err)
	}
}

func (m *Maintenance) runReport() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if err := m.ReportOnce(ctx); err != nil {
		logger.Error("maintenance: stats failed", "error", err)
	}
}

// RecoverOnce requeues tasks with expired leases.
func (m *Maintenance) RecoverOnce(ctx context.Context) (requeued, dead int, err error) {
	requeued, dead, err = m.queue.Recover(ctx, m.now(), m.cfg.MaxDeliveries)
	if err != nil {
		return 0, 0, err
	}
	if requeued > 0 || dead > 0 {
		logger.Warn("maintenance: recovered stuck tasks", "requeued", requeued, "dead_lettered", dead)
	}
	return requeued, dead, nil
}

// ReportOnce publishes queue depth gauges and logs the rolling counts.
func (m *Maintenance) ReportOnce(ctx context.Context) error {
	d, err := m.queue.Depth(ctx)
	if err != nil {
		return err
	}
	metrics.QueueDepth.WithLabelValues("ready").Set(float64(d.Ready))
	metrics.QueueDepth.WithLabelValues("delayed").Set(float64(d.Delayed))
	metrics.QueueDepth.WithLabelValues("in_flight").Set(float64(d.InFlight))
	metrics.QueueDepth.WithLabelValues("dead").Set(float64(d.Dead))

	c, err := m.counts.Counts(ctx)
	if err != nil {
		return err
	}
	logger.Info("maintenance: stats",
		"sent_24h", c.Day, "sent_30d", c.Month,
		"ready", d.Ready, "delayed", d.Delayed, "in_flight", d.InFlight, "dead", d.Dead)
	return nil
}
