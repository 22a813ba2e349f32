package recovery

import (
	"context"
	"sync"

	"template-studio/internal/domain/entity"
)

// Future is the pending result of HandleConcurrentRecovery.
//
// A nil record with a nil error means no usable backup was found. A non-nil
// error means the request never ran (ErrRecoveryDropped, ErrQueueFull).
type Future struct {
	done chan struct{}
	once sync.Once
	rec  *entity.BackupRecord
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(rec *entity.BackupRecord, err error) {
	f.once.Do(func() {
		f.rec = rec
		f.err = err
		close(f.done)
	})
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx is done. Abandoning the
// wait does not cancel the recovery.
func (f *Future) Wait(ctx context.Context) (*entity.BackupRecord, error) {
	select {
	case <-f.done:
		return f.rec, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
