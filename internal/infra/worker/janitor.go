package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"template-studio/internal/observability/metrics"
	"template-studio/internal/observability/slo"
	"template-studio/internal/observability/tracing"
	"template-studio/internal/repository"
)

const maxParallelPrunes = 4

// Target is a backup store the janitor prunes.
type Target struct {
	Name string
	Repo repository.BackupRepository
}

// garbageCollector is implemented by stores that reclaim disk space
// separately from deletes (badger value log).
type garbageCollector interface {
	CollectGarbage(discardRatio float64) error
}

// RunResult summarizes one janitor run.
type RunResult struct {
	Cutoff time.Time
	Pruned map[string]int
	SLO    slo.Report
}

// Janitor removes backups older than the retention window from every
// target store on a cron schedule, then publishes SLO ratios.
type Janitor struct {
	cfg     *JanitorConfig
	targets []Target
	logger  *slog.Logger
	metrics *JanitorMetrics
	counts  func() slo.Counts
	now     func() time.Time
	running atomic.Bool
}

// JanitorOption configures a Janitor.
type JanitorOption func(*Janitor)

// WithJanitorLogger sets the logger.
func WithJanitorLogger(logger *slog.Logger) JanitorOption {
	return func(j *Janitor) { j.logger = logger }
}

// WithJanitorMetrics records job duration and last success.
func WithJanitorMetrics(m *JanitorMetrics) JanitorOption {
	return func(j *Janitor) { j.metrics = m }
}

// WithSLOSource evaluates SLOs from counts after every run.
func WithSLOSource(counts func() slo.Counts) JanitorOption {
	return func(j *Janitor) { j.counts = counts }
}

// WithJanitorClock overrides time.Now.
func WithJanitorClock(now func() time.Time) JanitorOption {
	return func(j *Janitor) { j.now = now }
}

// NewJanitor creates a janitor over targets.
func NewJanitor(cfg *JanitorConfig, targets []Target, opts ...JanitorOption) *Janitor {
	j := &Janitor{
		cfg:     cfg,
		targets: targets,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// RunOnce prunes every target once. A failing store does not stop the
// others; all failures are joined into the returned error and the counts of
// the stores that succeeded are still reported.
func (j *Janitor) RunOnce(ctx context.Context) (RunResult, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, j.cfg.Timeout)
	defer cancel()

	cutoff := j.now().Add(-j.cfg.Retention)
	ctx, span := tracing.StartSpan(ctx, "janitor.Run",
		attribute.Int("janitor.targets", len(j.targets)),
		attribute.String("janitor.cutoff", cutoff.Format(time.RFC3339)))
	defer span.End()

	var (
		mu     sync.Mutex
		pruned = make(map[string]int, len(j.targets))
		errs   []error
	)

	var g errgroup.Group
	g.SetLimit(maxParallelPrunes)
	for _, t := range j.targets {
		g.Go(func() error {
			n, err := j.prune(ctx, t, cutoff)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			pruned[t.Name] = n
			return nil
		})
	}
	_ = g.Wait()

	err := errors.Join(errs...)
	tracing.RecordError(span, err)
	metrics.RecordJanitorRun(pruned, err)
	if j.metrics != nil {
		j.metrics.RecordJobDuration(time.Since(start).Seconds())
		if err == nil {
			j.metrics.RecordLastSuccess()
		}
	}

	result := RunResult{Cutoff: cutoff, Pruned: pruned}
	if j.counts != nil {
		result.SLO = slo.Evaluate(j.counts())
		if !result.SLO.Met() {
			j.logger.Warn("backup SLO not met",
				slog.Float64("backup_write_ratio", result.SLO.BackupWriteRatio),
				slog.Float64("recovery_ratio", result.SLO.RecoveryRatio),
				slog.Float64("queue_saturation", result.SLO.QueueSaturation))
		}
	}
	return result, err
}

func (j *Janitor) prune(ctx context.Context, t Target, cutoff time.Time) (int, error) {
	opStart := time.Now()
	n, err := t.Repo.PruneBefore(ctx, cutoff)
	metrics.RecordStoreOperation(t.Name, "prune", time.Since(opStart))
	if err != nil {
		j.logger.Error("backup prune failed", slog.String("store", t.Name), slog.Any("error", err))
		return 0, fmt.Errorf("prune %s: %w", t.Name, err)
	}

	if gc := findGarbageCollector(t.Repo); gc != nil && n > 0 {
		if err := gc.CollectGarbage(j.cfg.GCDiscardRatio); err != nil {
			j.logger.Warn("backup store GC failed", slog.String("store", t.Name), slog.Any("error", err))
		}
	}

	j.logger.Info("backup prune completed", slog.String("store", t.Name), slog.Int("pruned", n))
	return n, nil
}

// findGarbageCollector looks through decorators (Unwrap) for a store that
// collects garbage.
func findGarbageCollector(repo repository.BackupRepository) garbageCollector {
	for repo != nil {
		if gc, ok := repo.(garbageCollector); ok {
			return gc
		}
		u, ok := repo.(interface {
			Unwrap() repository.BackupRepository
		})
		if !ok {
			return nil
		}
		repo = u.Unwrap()
	}
	return nil
}

// Start schedules RunOnce and blocks until ctx is cancelled. A run that is
// still going when the next one fires is not overlapped; the new one is
// skipped. On cancellation Start waits for the running job to finish.
func (j *Janitor) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(j.cfg.Location()))
	if _, err := c.AddFunc(j.cfg.Schedule, func() { j.runScheduled(ctx) }); err != nil {
		return fmt.Errorf("add janitor job: %w", err)
	}
	c.Start()

	j.logger.Info("janitor started",
		slog.String("schedule", j.cfg.Schedule),
		slog.String("timezone", j.cfg.Timezone),
		slog.Duration("retention", j.cfg.Retention))

	<-ctx.Done()
	<-c.Stop().Done()
	j.logger.Info("janitor stopped")
	return nil
}

func (j *Janitor) runScheduled(ctx context.Context) {
	if !j.running.CompareAndSwap(false, true) {
		j.logger.Warn("janitor run skipped, previous run still in progress")
		return
	}
	defer j.running.Store(false)

	result, err := j.RunOnce(ctx)
	if err != nil {
		j.logger.Error("janitor run failed", slog.Any("error", err))
		return
	}
	total := 0
	for _, n := range result.Pruned {
		total += n
	}
	j.logger.Info("janitor run completed", slog.Int("pruned", total))
}
