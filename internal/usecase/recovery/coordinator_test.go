package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"template-studio/internal/domain/entity"
	"template-studio/internal/infra/adapter/persistence/memory"
	"template-studio/internal/resilience/circuitbreaker"
	"template-studio/internal/resilience/classify"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock advances by one second per call.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// faultyRepo wraps an in-memory repository and injects failures.
type faultyRepo struct {
	*memory.BackupRepo

	mu          sync.Mutex
	writeErrs   []error
	readErr     error
	existsErr   error
	panicOnRead bool
	writes      int
	removes     int
}

func newFaultyRepo() *faultyRepo {
	return &faultyRepo{BackupRepo: memory.NewBackupRepo()}
}

func (r *faultyRepo) Write(ctx context.Context, rec *entity.BackupRecord) error {
	r.mu.Lock()
	r.writes++
	var err error
	if len(r.writeErrs) > 0 {
		err = r.writeErrs[0]
		r.writeErrs = r.writeErrs[1:]
	}
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.BackupRepo.Write(ctx, rec)
}

func (r *faultyRepo) Read(ctx context.Context, key entity.BackupKey) (*entity.BackupRecord, error) {
	if r.panicOnRead {
		panic("corrupted index")
	}
	if r.readErr != nil {
		return nil, r.readErr
	}
	return r.BackupRepo.Read(ctx, key)
}

func (r *faultyRepo) Exists(ctx context.Context, key entity.BackupKey) (bool, error) {
	if r.existsErr != nil {
		return false, r.existsErr
	}
	return r.BackupRepo.Exists(ctx, key)
}

func (r *faultyRepo) Remove(ctx context.Context, key entity.BackupKey) (bool, error) {
	r.mu.Lock()
	r.removes++
	r.mu.Unlock()
	return r.BackupRepo.Remove(ctx, key)
}

func newTestCoordinator(repo *faultyRepo, opts ...Option) *Coordinator {
	clock := &fakeClock{now: baseTime}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(repo, nil, opts...)
}

// seed stores a record with the given content directly, bypassing CreateBackup.
func seed(t *testing.T, repo *memory.BackupRepo, key entity.BackupKey, content string) {
	t.Helper()
	rec := &entity.BackupRecord{
		ID:         "seed-" + key.String(),
		DocumentID: key.DocumentID,
		Role:       key.Role,
		Title:      "Seeded",
		Content:    content,
		CreatedAt:  baseTime,
		UpdatedAt:  baseTime,
		Meta: entity.BackupMeta{
			Version:  1,
			Status:   entity.BackupStatusDraft,
			Checksum: entity.ContentChecksum(content),
		},
	}
	require.NoError(t, repo.Write(context.Background(), rec))
}

// seedDamaged stores a record of type ct whose content no longer matches the
// checksum taken when it was written.
func seedDamaged(t *testing.T, repo *memory.BackupRepo, key entity.BackupKey, ct entity.ContentType, content string) {
	t.Helper()
	rec := &entity.BackupRecord{
		ID:         "seed-" + key.String(),
		DocumentID: key.DocumentID,
		Role:       key.Role,
		Title:      "Seeded",
		Content:    content,
		CreatedAt:  baseTime,
		UpdatedAt:  baseTime,
		Meta: entity.BackupMeta{
			Version:     1,
			Status:      entity.BackupStatusDraft,
			Checksum:    entity.ContentChecksum(content + " (as written)"),
			ContentType: ct,
		},
	}
	require.NoError(t, repo.Write(context.Background(), rec))
}

/* ───────────────────────── 1. CreateBackup ───────────────────────── */

func TestCreateBackup_RoundTrip(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		docID       string
		role        string
		contentType entity.ContentType
	}{
		{name: "plain text", content: "Draft text", docID: "doc-1", role: "writer", contentType: entity.ContentText},
		{name: "json", content: `{"blocks":[{"type":"p","text":"Hello"}]}`, docID: "doc-2", contentType: entity.ContentJSON},
		{name: "markup", content: "<p>Hello <b>world</b></p>", docID: "doc-3", contentType: entity.ContentHTML},
		{name: "role keyed", content: "Unsaved template", role: "editor", contentType: entity.ContentText},
		{name: "unicode", content: "Résumé – 履歴書", docID: "doc-4", contentType: entity.ContentText},
		{name: "bracket prefixed text", content: "[TODO] write intro", docID: "doc-5", contentType: entity.ContentText},
		{name: "brace prefixed text", content: "{name} placeholder text", docID: "doc-6", contentType: entity.ContentText},
		{name: "markup with optional end tags", content: "<ul><li>one<li>two</ul>", docID: "doc-7", contentType: entity.ContentText},
		{name: "unclosed paragraph", content: "<p>Dear {{customer}},", docID: "doc-8", contentType: entity.ContentText},
		{name: "truncated json text", content: `{"title":"Q3","body":"draft te`, docID: "doc-9", contentType: entity.ContentText},
		{name: "embedded nul", content: "col1\x00col2", docID: "doc-10", contentType: entity.ContentText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFaultyRepo()
			c := newTestCoordinator(repo)
			ctx := context.Background()

			require.True(t, c.CreateBackup(ctx, tt.content, tt.docID, "Title", tt.role))

			key := entity.BackupKey{DocumentID: tt.docID, Role: tt.role}
			got := c.RecoverFromBackup(ctx, key)
			require.NotNil(t, got)
			assert.Equal(t, tt.content, got.Content)
			assert.Equal(t, entity.BackupStatusDraft, got.Meta.Status)
			assert.Equal(t, tt.contentType, got.Meta.ContentType)
			assert.Equal(t, 0, c.RecoveryAttempts())
		})
	}
}

func TestCreateBackup_RejectsBlankContent(t *testing.T) {
	for _, content := range []string{"", "   ", "\n\t \r\n"} {
		repo := newFaultyRepo()
		c := newTestCoordinator(repo)

		assert.False(t, c.CreateBackup(context.Background(), content, "doc-1", "Draft", "writer"))
		assert.Equal(t, 0, repo.writes)
		assert.Equal(t, 0, repo.Len())
	}
}

func TestCreateBackup_RequiresKey(t *testing.T) {
	repo := newFaultyRepo()
	c := newTestCoordinator(repo)

	assert.False(t, c.CreateBackup(context.Background(), "Draft text", "  ", "Draft", ""))
	assert.Equal(t, 0, repo.writes)
}

func TestCreateBackup_Versioning(t *testing.T) {
	repo := newFaultyRepo()
	c := newTestCoordinator(repo)
	ctx := context.Background()

	require.True(t, c.CreateBackup(ctx, "v1", "doc-1", "Draft", ""))
	first, err := repo.BackupRepo.Read(ctx, entity.DocumentKey("doc-1"))
	require.NoError(t, err)

	require.True(t, c.CreateBackup(ctx, "v2", "doc-1", "Draft", ""))
	second, err := repo.BackupRepo.Read(ctx, entity.DocumentKey("doc-1"))
	require.NoError(t, err)

	assert.Equal(t, 1, first.Meta.Version)
	assert.Equal(t, 2, second.Meta.Version)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, entity.ContentChecksum("v2"), second.Meta.Checksum)
}

func TestCreateBackup_StorageRemediation(t *testing.T) {
	quota := classify.Storage("badger.Write", errors.New("quota exceeded"))

	tests := []struct {
		name        string
		writeErrs   []error
		want        bool
		wantWrites  int
		wantRemoves int
	}{
		{name: "first write succeeds", want: true, wantWrites: 1},
		{name: "quota then success", writeErrs: []error{quota}, want: true, wantWrites: 2, wantRemoves: 1},
		{name: "quota twice", writeErrs: []error{quota, quota}, want: false, wantWrites: 2, wantRemoves: 1},
		{name: "non storage failure", writeErrs: []error{errors.New("invalid payload")}, want: false, wantWrites: 1},
		{name: "disk full sentinel", writeErrs: []error{fmt.Errorf("write wal: %w", syscall.ENOSPC)}, want: true, wantWrites: 2, wantRemoves: 1},
		{name: "insufficient storage status", writeErrs: []error{classify.WithStatus(507, "api.Put", errors.New("full"))}, want: true, wantWrites: 2, wantRemoves: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFaultyRepo()
			repo.writeErrs = tt.writeErrs
			c := newTestCoordinator(repo)

			got := c.CreateBackup(context.Background(), "Draft text", "doc-1", "Draft", "")

			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantWrites, repo.writes)
			assert.Equal(t, tt.wantRemoves, repo.removes)
			assert.Equal(t, tt.want, c.HasBackup(context.Background(), entity.DocumentKey("doc-1")))
		})
	}
}

func TestCreateBackup_FailureKeepsPreviousBackup(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "untagged error", err: errors.New("unexpected EOF")},
		{name: "breaker open", err: fmt.Errorf("backup-store:badger: %w", circuitbreaker.ErrOpen)},
		{name: "breaker half-open limit", err: circuitbreaker.ErrHalfOpenLimit},
		{name: "breaker open over storage cause", err: errors.Join(circuitbreaker.ErrOpen, classify.Storage("badger.Write", errors.New("quota")))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFaultyRepo()
			c := newTestCoordinator(repo)
			ctx := context.Background()
			key := entity.DocumentKey("doc-1")

			require.True(t, c.CreateBackup(ctx, "v1", "doc-1", "Draft", ""))
			repo.writeErrs = []error{tt.err, tt.err}

			assert.False(t, c.CreateBackup(ctx, "v2", "doc-1", "Draft", ""))
			assert.Equal(t, 0, repo.removes)
			assert.True(t, c.HasBackup(ctx, key))

			got := c.RecoverFromBackup(ctx, key)
			require.NotNil(t, got)
			assert.Equal(t, "v1", got.Content)
		})
	}
}

func TestCreateBackup_MirrorsToAlternate(t *testing.T) {
	repo := newFaultyRepo()
	alt := newFaultyRepo()
	c := newTestCoordinator(repo, WithAlternateStore(alt))

	require.True(t, c.CreateBackup(context.Background(), "Draft text", "doc-1", "Draft", ""))

	primary, err := repo.BackupRepo.Read(context.Background(), entity.DocumentKey("doc-1"))
	require.NoError(t, err)
	mirrored, err := alt.BackupRepo.Read(context.Background(), entity.DocumentKey("doc-1"))
	require.NoError(t, err)

	if diff := cmp.Diff(primary, mirrored); diff != "" {
		t.Errorf("mirrored record mismatch (-primary +alternate):\n%s", diff)
	}
}

func TestCreateBackup_AlternateFailureDoesNotFailWrite(t *testing.T) {
	repo := newFaultyRepo()
	alt := newFaultyRepo()
	alt.writeErrs = []error{errors.New("connection refused")}
	c := newTestCoordinator(repo, WithAlternateStore(alt))

	assert.True(t, c.CreateBackup(context.Background(), "Draft text", "doc-1", "Draft", ""))
	assert.Equal(t, 0, alt.Len())
}

/* ───────────────────────── 2. RecoverFromBackup ───────────────────────── */

func TestRecoverFromBackup_Missing(t *testing.T) {
	c := newTestCoordinator(newFaultyRepo())

	assert.Nil(t, c.RecoverFromBackup(context.Background(), entity.DocumentKey("nope")))
	assert.Nil(t, c.RecoverFromBackup(context.Background(), entity.BackupKey{}))
	assert.Equal(t, 0, c.RecoveryAttempts())
}

func TestRecoverFromBackup_RepairsCorruptedContent(t *testing.T) {
	repo := newFaultyRepo()
	key := entity.DocumentKey("doc-1")
	seedDamaged(t, repo.BackupRepo, key, entity.ContentJSON, `{"title":"Q3","body":"draft te`)
	c := newTestCoordinator(repo)

	got := c.RecoverFromBackup(context.Background(), key)

	require.NotNil(t, got)
	assert.Equal(t, `{"title":"Q3"}`, got.Content)
	assert.Equal(t, entity.BackupStatusRecovered, got.Meta.Status)
	assert.Equal(t, entity.ContentChecksum(`{"title":"Q3"}`), got.Meta.Checksum)
	assert.Equal(t, 0, c.RecoveryAttempts())

	// The stored record is left untouched.
	stored, err := repo.BackupRepo.Read(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, `{"title":"Q3","body":"draft te`, stored.Content)
}

func TestRecoverFromBackup_AlternativeRecovery(t *testing.T) {
	key := entity.DocumentKey("doc-1")

	t.Run("unrecoverable primary falls back to alternate", func(t *testing.T) {
		repo := newFaultyRepo()
		alt := newFaultyRepo()
		seedDamaged(t, repo.BackupRepo, key, entity.ContentText, "\x00\x00")
		seed(t, alt.BackupRepo, key, "Draft text")
		c := newTestCoordinator(repo, WithAlternateStore(alt))

		got := c.RecoverFromBackup(context.Background(), key)

		require.NotNil(t, got)
		assert.Equal(t, "Draft text", got.Content)
		assert.Equal(t, 1, c.RecoveryAttempts())
	})

	t.Run("no alternate store", func(t *testing.T) {
		repo := newFaultyRepo()
		seedDamaged(t, repo.BackupRepo, key, entity.ContentText, "\x00\x00")
		c := newTestCoordinator(repo)

		assert.Nil(t, c.RecoverFromBackup(context.Background(), key))
		assert.Equal(t, 1, c.RecoveryAttempts())
	})

	t.Run("budget exhausted skips alternate", func(t *testing.T) {
		repo := newFaultyRepo()
		alt := newFaultyRepo()
		seedDamaged(t, repo.BackupRepo, key, entity.ContentText, "\x00\x00")
		seed(t, alt.BackupRepo, key, "Draft text")
		c := newTestCoordinator(repo, WithAlternateStore(alt), WithMaxRecoveryAttempts(2))

		require.NotNil(t, c.RecoverFromBackup(context.Background(), key))
		assert.Nil(t, c.RecoverFromBackup(context.Background(), key))
		assert.Equal(t, 2, c.RecoveryAttempts())

		c.ResetRecoveryAttempts()
		assert.Equal(t, 0, c.RecoveryAttempts())
		assert.NotNil(t, c.RecoverFromBackup(context.Background(), key))
	})
}

func TestRecoverFromBackup_StoreErrorsNeverPropagate(t *testing.T) {
	key := entity.DocumentKey("doc-1")

	t.Run("read error", func(t *testing.T) {
		repo := newFaultyRepo()
		repo.readErr = classify.Storage("redis.Read", errors.New("OOM command not allowed"))
		alt := newFaultyRepo()
		seed(t, alt.BackupRepo, key, "Draft text")
		c := newTestCoordinator(repo, WithAlternateStore(alt))

		got := c.RecoverFromBackup(context.Background(), key)
		require.NotNil(t, got)
		assert.Equal(t, "Draft text", got.Content)
		assert.Equal(t, 1, c.RecoveryAttempts())
	})

	t.Run("panicking store", func(t *testing.T) {
		repo := newFaultyRepo()
		repo.panicOnRead = true
		c := newTestCoordinator(repo)

		var got *entity.BackupRecord
		assert.NotPanics(t, func() {
			got = c.RecoverFromBackup(context.Background(), key)
		})
		assert.Nil(t, got)
		assert.Equal(t, 1, c.RecoveryAttempts())
	})
}

func TestRecoverFromBackup_RetriesTransientReads(t *testing.T) {
	repo := &flakyReadRepo{faultyRepo: newFaultyRepo(), failures: 1}
	key := entity.DocumentKey("doc-1")
	seed(t, repo.BackupRepo, key, "Draft text")
	c := New(repo, nil)

	got := c.RecoverFromBackup(context.Background(), key)
	require.NotNil(t, got)
	assert.Equal(t, 2, repo.reads)
}

type flakyReadRepo struct {
	*faultyRepo
	failures int
	reads    int
}

func (r *flakyReadRepo) Read(ctx context.Context, key entity.BackupKey) (*entity.BackupRecord, error) {
	r.reads++
	if r.reads <= r.failures {
		return nil, classify.Tag(classify.CategoryNetwork, "postgres.Read", errors.New("connection reset"))
	}
	return r.faultyRepo.Read(ctx, key)
}

func TestRecoverFromBackup_Span(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	repo := newFaultyRepo()
	key := entity.DocumentKey("doc-1")
	seed(t, repo.BackupRepo, key, "Draft text")
	c := newTestCoordinator(repo)

	require.NotNil(t, c.RecoverFromBackup(context.Background(), key))
	require.NoError(t, tp.ForceFlush(context.Background()))

	var found bool
	for _, span := range exporter.GetSpans() {
		if span.Name != "recovery.RecoverFromBackup" {
			continue
		}
		found = true
		assert.Contains(t, span.Attributes, attribute.String("backup.key", "doc:doc-1"))
		assert.Contains(t, span.Attributes, attribute.Bool("backup.recovered", true))
	}
	assert.True(t, found, "expected a recovery span")
}

/* ───────────────────────── 3. HasBackup / ClearBackup ───────────────────────── */

func TestHasBackup(t *testing.T) {
	repo := newFaultyRepo()
	c := newTestCoordinator(repo)
	key := entity.DocumentKey("doc-1")

	assert.False(t, c.HasBackup(context.Background(), key))
	seed(t, repo.BackupRepo, key, "Draft text")
	assert.True(t, c.HasBackup(context.Background(), key))
	assert.False(t, c.HasBackup(context.Background(), entity.BackupKey{}))

	repo.existsErr = errors.New("connection refused")
	assert.False(t, c.HasBackup(context.Background(), key))
}

func TestClearBackup(t *testing.T) {
	t.Run("idempotent", func(t *testing.T) {
		repo := newFaultyRepo()
		c := newTestCoordinator(repo)
		seed(t, repo.BackupRepo, entity.DocumentKey("doc-1"), "Draft text")

		assert.True(t, c.ClearBackup(context.Background(), "doc-1"))
		assert.False(t, c.ClearBackup(context.Background(), "doc-1"))
		assert.False(t, c.ClearBackup(context.Background(), " "))
	})

	t.Run("clears the alternate store too", func(t *testing.T) {
		repo := newFaultyRepo()
		alt := newFaultyRepo()
		seed(t, alt.BackupRepo, entity.DocumentKey("doc-1"), "Draft text")
		c := newTestCoordinator(repo, WithAlternateStore(alt))

		assert.True(t, c.ClearBackup(context.Background(), "doc-1"))
		assert.Equal(t, 0, alt.Len())
	})
}

// The documented end-to-end example: back up, restore, clear, restore again.
func TestCoordinator_DraftLifecycle(t *testing.T) {
	c := newTestCoordinator(newFaultyRepo())
	ctx := context.Background()

	require.True(t, c.CreateBackup(ctx, "Draft text", "doc-1", "Draft", "writer"))

	got := c.RecoverFromBackup(ctx, entity.DocumentKey("doc-1"))
	require.NotNil(t, got)
	assert.Equal(t, "Draft text", got.Content)
	assert.Equal(t, "Draft", got.Title)
	assert.Equal(t, "writer", got.Role)

	assert.True(t, c.ClearBackup(ctx, "doc-1"))
	assert.Nil(t, c.RecoverFromBackup(ctx, entity.DocumentKey("doc-1")))
}

func TestStats(t *testing.T) {
	repo := newFaultyRepo()
	c := newTestCoordinator(repo, WithMaxConcurrentRecoveries(3), WithMaxQueueDepth(10))
	ctx := context.Background()

	require.True(t, c.CreateBackup(ctx, "Draft text", "doc-1", "Draft", ""))
	require.False(t, c.CreateBackup(ctx, " ", "doc-1", "Draft", ""))
	require.NotNil(t, c.RecoverFromBackup(ctx, entity.DocumentKey("doc-1")))
	c.SetPriorityDocument("doc-9")

	want := Stats{
		MaxRecoveryAttempts: DefaultMaxRecoveryAttempts,
		MaxConcurrent:       3,
		MaxQueueDepth:       10,
		PriorityKey:         "doc:doc-9",
		WritesStored:        1,
		Recovered:           1,
	}
	// Rejected blank content is not a failed write.
	if diff := cmp.Diff(want, c.Stats(), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Stats() mismatch (-want +got):\n%s", diff)
	}

	c.SetPriorityDocument("")
	assert.Empty(t, c.Stats().PriorityKey)
}
