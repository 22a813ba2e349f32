// Package recovery creates document backups and restores them after a failed
// save, throttling concurrent restores.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"template-studio/internal/domain/entity"
	"template-studio/internal/observability/logging"
	"template-studio/internal/observability/metrics"
	"template-studio/internal/observability/slo"
	"template-studio/internal/observability/tracing"
	"template-studio/internal/repository"
	"template-studio/internal/resilience/circuitbreaker"
	"template-studio/internal/resilience/classify"
	"template-studio/internal/resilience/retry"
	"template-studio/internal/usecase/integrity"
)

// Defaults for a Coordinator built without options.
const (
	DefaultMaxRecoveryAttempts     = 3
	DefaultMaxConcurrentRecoveries = 2
	DefaultMaxQueueDepth           = 64
	DefaultWriteRate               = 20
	DefaultWriteBurst              = 20
)

// Verifier checks backup records and salvages corrupted content.
// *integrity.Checker implements it.
type Verifier interface {
	Verify(rec *entity.BackupRecord) integrity.Result
	AttemptContentRecovery(raw string, ct entity.ContentType) integrity.Recovery
}

// Coordinator creates backups, restores them with integrity checking and
// bounds how many restores run at once.
//
// All exported operations report failure through their result (false, nil)
// and never panic or return storage errors to the caller.
type Coordinator struct {
	repo       repository.BackupRepository
	alternate  repository.BackupRepository
	checker    Verifier
	readPolicy retry.Policy
	limiter    *rate.Limiter
	logger     *slog.Logger
	now        func() time.Time

	maxAttempts   int
	maxConcurrent int
	maxQueueDepth int

	mu          sync.Mutex
	attempts    int
	inFlight    int
	queue       []*request
	priorityKey string
	totals      totals

	wg sync.WaitGroup
}

type totals struct {
	writesStored   int64
	writesFailed   int64
	recovered      int64
	recoveryFailed int64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMaxRecoveryAttempts sets the failure budget after which alternative
// recovery is no longer tried. Values below 1 are ignored.
func WithMaxRecoveryAttempts(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithMaxConcurrentRecoveries bounds concurrently running recoveries.
func WithMaxConcurrentRecoveries(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxConcurrent = n
		}
	}
}

// WithMaxQueueDepth caps the number of queued recovery requests.
func WithMaxQueueDepth(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxQueueDepth = n
		}
	}
}

// WithReadPolicy sets the retry policy for backup store reads.
func WithReadPolicy(p retry.Policy) Option {
	return func(c *Coordinator) {
		c.readPolicy = p
	}
}

// WithAlternateStore sets the store consulted by alternative recovery and
// mirrored on every successful backup write.
func WithAlternateStore(repo repository.BackupRepository) Option {
	return func(c *Coordinator) {
		c.alternate = repo
	}
}

// WithWriteLimiter sets the limiter that paces backup writes.
func WithWriteLimiter(l *rate.Limiter) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.limiter = l
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock sets the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// DefaultReadPolicy retries a backup read once on a transient store failure
// (retry.IsRetryable).
func DefaultReadPolicy() retry.Policy {
	p := retry.NewPolicy(retry.BackupStoreConfig())
	p.MaxAttempts = 2
	return p
}

// New creates a Coordinator over repo. A nil checker means integrity.NewChecker.
func New(repo repository.BackupRepository, checker Verifier, opts ...Option) *Coordinator {
	c := &Coordinator{
		repo:          repo,
		readPolicy:    DefaultReadPolicy(),
		limiter:       rate.NewLimiter(DefaultWriteRate, DefaultWriteBurst),
		logger:        slog.Default(),
		now:           time.Now,
		maxAttempts:   DefaultMaxRecoveryAttempts,
		maxConcurrent: DefaultMaxConcurrentRecoveries,
		maxQueueDepth: DefaultMaxQueueDepth,
	}
	for _, opt := range opts {
		opt(c)
	}
	if checker == nil {
		checker = integrity.NewChecker(integrity.WithLogger(c.logger))
	}
	c.checker = checker
	return c
}

/* ───────────────────────── Backups ───────────────────────── */

// CreateBackup stores content as the backup of documentID, or of role when
// documentID is empty. Blank content is rejected without a write.
//
// A write failing with an explicit storage signal (quota, disk full, a
// STORAGE tag, status 413/507) is remediated once: the existing backup for
// the key is removed and the write retried. Any other failure, including a
// rejection by the store's circuit breaker, leaves the existing backup alone.
func (c *Coordinator) CreateBackup(ctx context.Context, content, documentID, title, role string) bool {
	if strings.TrimSpace(content) == "" {
		metrics.RecordBackupWrite(metrics.WriteRejected)
		return false
	}
	key := entity.BackupKey{DocumentID: strings.TrimSpace(documentID), Role: strings.TrimSpace(role)}
	if key.IsZero() {
		c.logger.Warn("backup rejected: no document id or role")
		metrics.RecordBackupWrite(metrics.WriteRejected)
		return false
	}

	ctx = logging.ContextWithBackupKey(ctx, key.String())
	ctx, span := tracing.StartSpan(ctx, "recovery.CreateBackup", attribute.String("backup.key", key.String()))
	defer span.End()
	logger := logging.WithBackupKey(ctx, c.logger)

	stored, outcome, err := c.writeBackup(ctx, key, content, title)
	metrics.RecordBackupWrite(outcome)
	c.countWrite(stored)
	if err != nil {
		tracing.RecordError(span, err)
		logger.Warn("backup write failed", slog.Any("error", err))
	}
	return stored
}

func (c *Coordinator) writeBackup(ctx context.Context, key entity.BackupKey, content, title string) (stored bool, outcome string, err error) {
	defer func() {
		if r := recover(); r != nil {
			stored, outcome = false, metrics.WriteFailure
			err = fmt.Errorf("panic during backup write: %v", r)
		}
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return false, metrics.WriteFailure, fmt.Errorf("wait for write slot: %w", err)
	}

	rec, err := c.newRecord(ctx, key, content, title)
	if err != nil {
		return false, metrics.WriteFailure, err
	}

	err = c.write(ctx, c.repo, "primary", rec)
	if err == nil {
		c.mirror(ctx, rec)
		return true, metrics.WriteSuccess, nil
	}
	if circuitbreaker.IsRejection(err) || !classify.HasSignal(err, classify.CategoryStorage) {
		return false, metrics.WriteFailure, err
	}

	c.logger.Info("backup store full, removing previous backup",
		slog.String("backup_key", key.String()),
		slog.Any("error", err))
	if _, rmErr := c.repo.Remove(ctx, key); rmErr != nil {
		c.logger.Warn("failed to remove previous backup",
			slog.String("backup_key", key.String()),
			slog.Any("error", rmErr))
	}

	if err := c.write(ctx, c.repo, "primary", rec); err != nil {
		return false, metrics.WriteFailure, fmt.Errorf("write after remediation: %w", err)
	}
	c.mirror(ctx, rec)
	return true, metrics.WriteRemediated, nil
}

// newRecord builds the next version of the backup for key. A failing read of
// the previous version starts over at version 1.
func (c *Coordinator) newRecord(ctx context.Context, key entity.BackupKey, content, title string) (*entity.BackupRecord, error) {
	now := c.now().UTC()
	rec := &entity.BackupRecord{
		ID:         uuid.NewString(),
		DocumentID: key.DocumentID,
		Role:       key.Role,
		Title:      title,
		Content:    content,
		CreatedAt:  now,
		UpdatedAt:  now,
		Meta: entity.BackupMeta{
			Version:     1,
			Status:      entity.BackupStatusDraft,
			Checksum:    entity.ContentChecksum(content),
			ContentType: integrity.DetectContentType(content),
		},
	}

	prev, err := c.repo.Read(ctx, key)
	if err == nil && prev != nil {
		rec.CreatedAt = prev.CreatedAt
		rec.Meta.Version = prev.Meta.Version + 1
		rec.Meta.OwnerID = prev.Meta.OwnerID
	}

	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

func (c *Coordinator) write(ctx context.Context, repo repository.BackupRepository, store string, rec *entity.BackupRecord) error {
	start := time.Now()
	err := repo.Write(ctx, rec)
	metrics.RecordStoreOperation(store, "write", time.Since(start))
	return err
}

// mirror copies rec to the alternate store. Failures are only logged.
func (c *Coordinator) mirror(ctx context.Context, rec *entity.BackupRecord) {
	if c.alternate == nil {
		return
	}
	if err := c.write(ctx, c.alternate, "alternate", rec); err != nil {
		c.logger.Warn("failed to mirror backup to alternate store",
			slog.String("backup_key", rec.Key().String()),
			slog.Any("error", err))
	}
}

// HasBackup reports whether a backup is stored for key. Store errors count
// as no backup.
func (c *Coordinator) HasBackup(ctx context.Context, key entity.BackupKey) bool {
	if key.IsZero() {
		return false
	}
	ok, err := c.repo.Exists(ctx, key)
	if err != nil {
		c.logger.Warn("backup lookup failed",
			slog.String("backup_key", key.String()),
			slog.Any("error", err))
		return false
	}
	return ok
}

// ClearBackup removes the backup of documentID from every store, typically
// after the document was saved. It reports whether anything was removed.
func (c *Coordinator) ClearBackup(ctx context.Context, documentID string) bool {
	key := entity.DocumentKey(strings.TrimSpace(documentID))
	if key.IsZero() {
		return false
	}

	removed := c.remove(ctx, c.repo, key)
	if c.alternate != nil && c.remove(ctx, c.alternate, key) {
		removed = true
	}
	return removed
}

func (c *Coordinator) remove(ctx context.Context, repo repository.BackupRepository, key entity.BackupKey) bool {
	ok, err := repo.Remove(ctx, key)
	if err != nil {
		c.logger.Warn("failed to remove backup",
			slog.String("backup_key", key.String()),
			slog.Any("error", err))
		return false
	}
	return ok
}

/* ───────────────────────── Recovery ───────────────────────── */

// RecoverFromBackup returns the backup stored for key, verified for integrity.
//
// A corrupted backup whose content can be salvaged is returned with the
// salvaged content and status "recovered". When neither works the failure
// counts against the attempt budget and, while budget remains, the alternate
// store is tried. A missing backup returns nil without counting.
func (c *Coordinator) RecoverFromBackup(ctx context.Context, key entity.BackupKey) (rec *entity.BackupRecord) {
	ctx = logging.ContextWithBackupKey(ctx, key.String())
	ctx, span := tracing.StartSpan(ctx, "recovery.RecoverFromBackup", attribute.String("backup.key", key.String()))
	defer span.End()
	logger := logging.WithBackupKey(ctx, c.logger)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic during backup recovery",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			rec = c.fallback(ctx, key, logger, fmt.Errorf("panic: %v", r))
		}
		span.SetAttributes(attribute.Bool("backup.recovered", rec != nil))
	}()

	if key.IsZero() {
		return nil
	}

	stored, err := c.read(ctx, c.repo, "primary", key)
	if err != nil {
		tracing.RecordError(span, err)
		return c.fallback(ctx, key, logger, err)
	}
	if stored == nil {
		metrics.RecordRecovery(metrics.RecoveryMissing)
		return nil
	}

	if out, outcome, ok := c.restore(stored, logger); ok {
		metrics.RecordRecovery(outcome)
		c.countRecovery(true)
		return out
	}
	return c.fallback(ctx, key, logger, fmt.Errorf("backup %s is corrupted and could not be repaired", key))
}

// restore verifies rec and, when corrupted, tries to salvage its content.
func (c *Coordinator) restore(rec *entity.BackupRecord, logger *slog.Logger) (*entity.BackupRecord, string, bool) {
	res := c.checker.Verify(rec)
	if res.Valid {
		return rec, metrics.RecoveryOK, true
	}

	logger.Warn("backup failed integrity check", slog.Any("details", res.Details))

	salvaged := c.checker.AttemptContentRecovery(rec.Content, rec.Meta.ContentType)
	if !salvaged.Recovered {
		return nil, "", false
	}

	out := rec.WithContent(salvaged.Content)
	out.Meta.Status = entity.BackupStatusRecovered
	logger.Info("backup content recovered", slog.String("method", string(salvaged.Method)))
	return out, metrics.RecoveryContentRecovered, true
}

// fallback counts a failed recovery and tries the alternate store while the
// attempt budget allows it.
func (c *Coordinator) fallback(ctx context.Context, key entity.BackupKey, logger *slog.Logger, cause error) *entity.BackupRecord {
	c.mu.Lock()
	c.attempts++
	attempts := c.attempts
	c.mu.Unlock()

	logger.Warn("backup recovery failed",
		slog.Int("attempt", attempts),
		slog.Int("max_attempts", c.maxAttempts),
		slog.Any("error", cause))

	if attempts < c.maxAttempts {
		if rec := c.alternative(ctx, key, logger); rec != nil {
			metrics.RecordRecovery(metrics.RecoveryAlternative)
			c.countRecovery(true)
			return rec
		}
	}

	metrics.RecordRecovery(metrics.RecoveryFailed)
	c.countRecovery(false)
	return nil
}

// alternative reads key from the alternate store and restores it the same
// way as the primary copy.
func (c *Coordinator) alternative(ctx context.Context, key entity.BackupKey, logger *slog.Logger) (rec *entity.BackupRecord) {
	if c.alternate == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic during alternative recovery", slog.Any("panic", r))
			rec = nil
		}
	}()

	stored, err := c.read(ctx, c.alternate, "alternate", key)
	if err != nil {
		logger.Warn("alternate store read failed", slog.Any("error", err))
		return nil
	}
	if stored == nil {
		return nil
	}

	out, _, ok := c.restore(stored, logger)
	if !ok {
		return nil
	}
	return out
}

func (c *Coordinator) read(ctx context.Context, repo repository.BackupRepository, store string, key entity.BackupKey) (*entity.BackupRecord, error) {
	var rec *entity.BackupRecord
	err := retry.Do(ctx, c.readPolicy, func(ctx context.Context) error {
		start := time.Now()
		r, err := repo.Read(ctx, key)
		metrics.RecordStoreOperation(store, "read", time.Since(start))
		if err != nil {
			return err
		}
		rec = r
		return nil
	})
	return rec, err
}

// ResetRecoveryAttempts zeroes the attempt counter, typically after a
// successful save.
func (c *Coordinator) ResetRecoveryAttempts() {
	c.mu.Lock()
	c.attempts = 0
	c.mu.Unlock()
}

// RecoveryAttempts returns the number of failed recoveries since the last reset.
func (c *Coordinator) RecoveryAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *Coordinator) countWrite(stored bool) {
	c.mu.Lock()
	if stored {
		c.totals.writesStored++
	} else {
		c.totals.writesFailed++
	}
	c.mu.Unlock()
}

func (c *Coordinator) countRecovery(ok bool) {
	c.mu.Lock()
	if ok {
		c.totals.recovered++
	} else {
		c.totals.recoveryFailed++
	}
	c.mu.Unlock()
}

/* ───────────────────────── Concurrency ───────────────────────── */

// HandleConcurrentRecovery runs RecoverFromBackup for key when an execution
// slot is free and queues it otherwise. Queued requests run FIFO as slots are
// released, except that a request for the priority key is taken first.
//
// The recovery is detached from ctx cancellation: once accepted it runs even
// if the caller stops waiting on the returned Future.
func (c *Coordinator) HandleConcurrentRecovery(ctx context.Context, key entity.BackupKey) *Future {
	req := &request{
		ctx:    context.WithoutCancel(ctx),
		key:    key,
		future: newFuture(),
	}

	c.mu.Lock()
	if c.inFlight < c.maxConcurrent {
		c.inFlight++
		c.wg.Add(1)
		c.publishLocked()
		c.mu.Unlock()

		go c.run(req)
		return req.future
	}

	dropped, ok := c.enqueueLocked(req)
	c.publishLocked()
	c.mu.Unlock()

	if dropped != nil {
		c.logger.Warn("recovery queue full, dropped oldest request",
			slog.String("dropped_key", dropped.key.String()),
			slog.String("backup_key", key.String()))
		metrics.RecordRecoveryDropped()
		dropped.future.resolve(nil, ErrRecoveryDropped)
	}
	if !ok {
		c.logger.Warn("recovery queue full, request rejected", slog.String("backup_key", key.String()))
		req.future.resolve(nil, ErrQueueFull)
	}
	return req.future
}

// run executes req and then keeps the slot for queued requests until the
// queue is empty.
func (c *Coordinator) run(req *request) {
	defer c.wg.Done()

	for req != nil {
		rec := c.RecoverFromBackup(req.ctx, req.key)
		req.future.resolve(rec, nil)
		req = c.release()
	}
}

// release hands the slot to the next queued request, or frees it.
func (c *Coordinator) release() *request {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.dequeueLocked()
	if next == nil {
		c.inFlight--
	}
	c.publishLocked()
	return next
}

func (c *Coordinator) publishLocked() {
	metrics.UpdateRecoveryQueue(len(c.queue), c.inFlight)
}

// SetPriorityDocument marks documentID as the priority key: its next queued
// request is serviced before any other. An empty id clears the priority.
func (c *Coordinator) SetPriorityDocument(documentID string) {
	documentID = strings.TrimSpace(documentID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if documentID == "" {
		c.priorityKey = ""
		return
	}
	c.priorityKey = entity.DocumentKey(documentID).String()
}

// Shutdown waits for running and queued recoveries to finish.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		c.logger.Warn("recovery coordinator shutdown timeout")
		return ctx.Err()
	}
}

// Stats is a snapshot of the coordinator state.
type Stats struct {
	RecoveryAttempts    int    `json:"recovery_attempts"`
	MaxRecoveryAttempts int    `json:"max_recovery_attempts"`
	InFlight            int    `json:"in_flight"`
	MaxConcurrent       int    `json:"max_concurrent"`
	QueueDepth          int    `json:"queue_depth"`
	MaxQueueDepth       int    `json:"max_queue_depth"`
	PriorityKey         string `json:"priority_key,omitempty"`
	WritesStored        int64  `json:"writes_stored"`
	WritesFailed        int64  `json:"writes_failed"`
	Recovered           int64  `json:"recovered"`
	RecoveryFailed      int64  `json:"recovery_failed"`
}

// Stats returns a snapshot of the coordinator state.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		RecoveryAttempts:    c.attempts,
		MaxRecoveryAttempts: c.maxAttempts,
		InFlight:            c.inFlight,
		MaxConcurrent:       c.maxConcurrent,
		QueueDepth:          len(c.queue),
		MaxQueueDepth:       c.maxQueueDepth,
		PriorityKey:         c.priorityKey,
		WritesStored:        c.totals.writesStored,
		WritesFailed:        c.totals.writesFailed,
		Recovered:           c.totals.recovered,
		RecoveryFailed:      c.totals.recoveryFailed,
	}
}

// SLOCounts converts the snapshot into the totals SLO evaluation works on.
func (s Stats) SLOCounts() slo.Counts {
	return slo.Counts{
		WritesStored:   s.WritesStored,
		WritesFailed:   s.WritesFailed,
		Recovered:      s.Recovered,
		RecoveryFailed: s.RecoveryFailed,
		QueueDepth:     s.QueueDepth,
		QueueCapacity:  s.MaxQueueDepth,
	}
}
