package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"template-studio/internal/domain/entity"
	"template-studio/internal/infra/adapter/persistence/memory"
	"template-studio/internal/observability/slo"
	"template-studio/internal/resilience/circuitbreaker"
)

var now = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func put(t *testing.T, repo *memory.BackupRepo, id string, updated time.Time) {
	t.Helper()
	require.NoError(t, repo.Write(context.Background(), &entity.BackupRecord{
		ID:         "rec-" + id,
		DocumentID: id,
		Content:    "Draft " + id,
		CreatedAt:  updated,
		UpdatedAt:  updated,
		Meta:       entity.BackupMeta{Version: 1},
	}))
}

type gcRepo struct {
	*memory.BackupRepo
	collected atomic.Int32
	ratio     float64
}

func (r *gcRepo) CollectGarbage(discardRatio float64) error {
	r.collected.Add(1)
	r.ratio = discardRatio
	return nil
}

type failingRepo struct {
	*memory.BackupRepo
}

func (failingRepo) PruneBefore(context.Context, time.Time) (int, error) {
	return 0, errors.New("connection refused")
}

func testJanitor(targets []Target, opts ...JanitorOption) *Janitor {
	cfg := DefaultConfig()
	cfg.Retention = 24 * time.Hour
	opts = append([]JanitorOption{WithJanitorClock(func() time.Time { return now })}, opts...)
	return NewJanitor(&cfg, targets, opts...)
}

func TestJanitor_RunOncePrunesExpired(t *testing.T) {
	local := memory.NewBackupRepo()
	put(t, local, "old", now.Add(-48*time.Hour))
	put(t, local, "fresh", now.Add(-time.Hour))
	alt := memory.NewBackupRepo()
	put(t, alt, "old-a", now.Add(-25*time.Hour))
	put(t, alt, "old-b", now.Add(-30*time.Hour))

	m := NewJanitorMetricsWithRegistry(prometheus.NewRegistry())
	j := testJanitor([]Target{{Name: "local", Repo: local}, {Name: "alternate", Repo: alt}}, WithJanitorMetrics(m))

	result, err := j.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, now.Add(-24*time.Hour), result.Cutoff)
	assert.Equal(t, map[string]int{"local": 1, "alternate": 2}, result.Pruned)
	assert.Equal(t, 1, local.Len())
	assert.Equal(t, 0, alt.Len())
	assert.Greater(t, testutil.ToFloat64(m.LastSuccessTimestamp), 0.0)
}

func TestJanitor_FailingStoreDoesNotStopOthers(t *testing.T) {
	good := memory.NewBackupRepo()
	put(t, good, "old", now.Add(-48*time.Hour))

	m := NewJanitorMetricsWithRegistry(prometheus.NewRegistry())
	j := testJanitor([]Target{
		{Name: "postgres", Repo: failingRepo{memory.NewBackupRepo()}},
		{Name: "badger", Repo: good},
	}, WithJanitorMetrics(m))

	result, err := j.RunOnce(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "prune postgres")
	assert.Equal(t, map[string]int{"badger": 1}, result.Pruned)
	assert.Equal(t, 0, good.Len())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LastSuccessTimestamp))
}

func TestJanitor_CollectsGarbageThroughDecorators(t *testing.T) {
	inner := &gcRepo{BackupRepo: memory.NewBackupRepo()}
	put(t, inner.BackupRepo, "old", now.Add(-48*time.Hour))
	wrapped := circuitbreaker.NewBackupRepository(inner)

	j := testJanitor([]Target{{Name: "badger", Repo: wrapped}})

	_, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), inner.collected.Load())
	assert.Equal(t, 0.5, inner.ratio)

	// Nothing pruned, nothing to collect.
	_, err = j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), inner.collected.Load())
}

func TestJanitor_EvaluatesSLO(t *testing.T) {
	counts := slo.Counts{WritesStored: 90, WritesFailed: 10, Recovered: 5, QueueDepth: 1, QueueCapacity: 10}
	j := testJanitor(nil, WithSLOSource(func() slo.Counts { return counts }))

	result, err := j.RunOnce(context.Background())

	require.NoError(t, err)
	assert.InDelta(t, 0.9, result.SLO.BackupWriteRatio, 1e-9)
	assert.Equal(t, 1.0, result.SLO.RecoveryRatio)
	assert.InDelta(t, 0.1, result.SLO.QueueSaturation, 1e-9)
	assert.False(t, result.SLO.Met())
}

func TestJanitor_StartStopsOnCancel(t *testing.T) {
	j := testJanitor([]Target{{Name: "memory", Repo: memory.NewBackupRepo()}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestJanitor_StartRejectsBadSchedule(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Schedule = "not a schedule"
	j := NewJanitor(&cfg, nil)

	err := j.Start(context.Background())
	assert.ErrorContains(t, err, "add janitor job")
}

func TestJanitor_SkipsOverlappingRuns(t *testing.T) {
	repo := memory.NewBackupRepo()
	put(t, repo, "old", now.Add(-48*time.Hour))
	j := testJanitor([]Target{{Name: "memory", Repo: repo}})

	j.running.Store(true)
	j.runScheduled(context.Background())
	assert.Equal(t, 1, repo.Len())

	j.running.Store(false)
	j.runScheduled(context.Background())
	assert.Equal(t, 0, repo.Len())
}
