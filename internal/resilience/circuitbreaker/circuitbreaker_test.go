package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Name:              "test-circuit",
		FailureThreshold:  3,
		ResetTimeout:      100 * time.Millisecond,
		HalfOpenCallLimit: 1,
	}
}

func fail(err error) func() (interface{}, error) {
	return func() (interface{}, error) { return nil, err }
}

func trip(t *testing.T, cb *CircuitBreaker, n int) {
	t.Helper()
	testErr := errors.New("backend down")
	for i := 0; i < n; i++ {
		_, err := cb.Execute(fail(testErr))
		require.ErrorIs(t, err, testErr)
	}
}

func TestNew(t *testing.T) {
	cb := New(testConfig())

	if cb == nil {
		t.Fatal("expected circuit breaker, got nil")
	}
	if cb.Name() != "test-circuit" {
		t.Errorf("expected name='test-circuit', got %q", cb.Name())
	}
	if cb.State() != StateClosed {
		t.Errorf("expected initial state=Closed, got %v", cb.State())
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	cb := New(Config{})
	cfg := cb.Config()

	assert.Equal(t, "default", cfg.Name)
	assert.Equal(t, uint32(5), cfg.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.ResetTimeout)
	assert.Equal(t, uint32(1), cfg.HalfOpenCallLimit)
}

func TestCircuitBreaker_Execute_Success(t *testing.T) {
	cb := New(testConfig())

	result, err := cb.Execute(func() (interface{}, error) {
		return "success", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "success", result)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := New(testConfig())

	trip(t, cb, 2)
	assert.Equal(t, 2, cb.Status().FailureCount)

	_, err := cb.Execute(func() (interface{}, error) { return nil, nil })
	require.NoError(t, err)
	assert.Equal(t, 0, cb.Status().FailureCount)

	// Two more failures must not trip a threshold of three.
	trip(t, cb, 2)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_TripsOpenAfterThreshold(t *testing.T) {
	cb := New(testConfig())

	trip(t, cb, 2)
	assert.Equal(t, StateClosed, cb.State())

	trip(t, cb, 1)
	assert.Equal(t, StateOpen, cb.State())
	assert.True(t, cb.IsOpen())

	st := cb.Status()
	assert.Equal(t, 3, st.FailureCount)
	assert.False(t, st.LastFailure.IsZero())

	called := false
	_, err := cb.Execute(func() (interface{}, error) {
		called = true
		return nil, nil
	})

	assert.False(t, called, "function should not be called when circuit is open")
	assert.ErrorIs(t, err, ErrOpen)
	assert.True(t, IsRejection(err))
}

func TestCircuitBreaker_HalfOpenSuccessCloses(t *testing.T) {
	cb := New(testConfig())
	trip(t, cb, 3)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(150 * time.Millisecond)

	result, err := cb.Execute(func() (interface{}, error) {
		return "trial", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "trial", result)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Status().FailureCount)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := New(testConfig())
	trip(t, cb, 3)

	time.Sleep(150 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	trialErr := errors.New("still down")
	_, err := cb.Execute(fail(trialErr))
	require.ErrorIs(t, err, trialErr)
	assert.Equal(t, StateOpen, cb.State())

	// Timeout clock restarted: still open right after the failed trial.
	_, err = cb.Execute(func() (interface{}, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrOpen)
}

func TestCircuitBreaker_HalfOpenLimit(t *testing.T) {
	cb := New(testConfig())
	trip(t, cb, 3)
	time.Sleep(150 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	var admittedErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, admittedErr = cb.Execute(func() (interface{}, error) {
			close(started)
			<-release
			return "ok", nil
		})
	}()

	<-started
	assert.Equal(t, 1, cb.Status().HalfOpenInFlight)

	called := false
	_, err := cb.Execute(func() (interface{}, error) {
		called = true
		return nil, nil
	})
	assert.False(t, called)
	assert.ErrorIs(t, err, ErrHalfOpenLimit)
	assert.True(t, IsRejection(err))

	close(release)
	wg.Wait()
	require.NoError(t, admittedErr)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenLimitAboveOne_FirstSuccessCloses(t *testing.T) {
	cfg := testConfig()
	cfg.HalfOpenCallLimit = 3
	cb := New(cfg)
	trip(t, cb, 3)
	time.Sleep(150 * time.Millisecond)

	_, err := cb.Execute(func() (interface{}, error) { return nil, nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := New(testConfig())
	trip(t, cb, 3)
	require.True(t, cb.IsOpen())

	cb.Reset()

	st := cb.Status()
	assert.Equal(t, StateClosed, st.State)
	assert.Equal(t, 0, st.FailureCount)
	assert.True(t, st.LastFailure.IsZero())
}

func TestCircuitBreaker_CanceledContextNotCounted(t *testing.T) {
	cb := New(testConfig())

	for i := 0; i < 5; i++ {
		_, err := cb.Execute(fail(context.Canceled))
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Status().FailureCount)
}

func TestCircuitBreaker_CanceledCallInClosedState(t *testing.T) {
	cb := New(testConfig())
	testErr := errors.New("backend down")

	_, _ = cb.Execute(fail(testErr))
	_, _ = cb.Execute(fail(testErr))
	_, err := cb.Execute(fail(context.Canceled))
	require.ErrorIs(t, err, context.Canceled)

	st := cb.Status()
	assert.Equal(t, StateClosed, st.State)
	assert.Equal(t, 2, st.FailureCount)

	// Cancellation neither resets nor extends the run of failures.
	_, _ = cb.Execute(fail(testErr))
	st = cb.Status()
	assert.Equal(t, StateOpen, st.State)
	assert.Equal(t, 3, st.FailureCount)
}

func TestCircuitBreaker_CanceledTrialKeepsHalfOpen(t *testing.T) {
	cb := New(testConfig())
	trip(t, cb, 3)
	time.Sleep(150 * time.Millisecond)

	_, err := cb.Execute(fail(context.Canceled))
	require.ErrorIs(t, err, context.Canceled)

	st := cb.Status()
	assert.Equal(t, StateHalfOpen, st.State)
	assert.Equal(t, 0, st.HalfOpenInFlight)

	// The slot is free again and a real trial decides the outcome.
	trialErr := errors.New("still down")
	_, err = cb.Execute(fail(trialErr))
	require.ErrorIs(t, err, trialErr)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_CanceledTrialThenSuccessCloses(t *testing.T) {
	cb := New(testConfig())
	trip(t, cb, 3)
	time.Sleep(150 * time.Millisecond)

	_, _ = cb.Execute(fail(context.Canceled))
	require.Equal(t, StateHalfOpen, cb.State())

	_, err := cb.Execute(func() (interface{}, error) { return nil, nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_StatusIsReadOnly(t *testing.T) {
	cb := New(testConfig())
	trip(t, cb, 3)
	time.Sleep(150 * time.Millisecond)

	// Reading reports the pending transition without performing it.
	for i := 0; i < 3; i++ {
		assert.Equal(t, StateHalfOpen, cb.Status().State)
		assert.Equal(t, StateHalfOpen, cb.State())
	}
	assert.Equal(t, 0, cb.Status().HalfOpenInFlight)
	assert.Equal(t, 3, cb.Status().FailureCount)

	// The first call after the timeout is still admitted as the trial.
	called := false
	_, err := cb.Execute(func() (interface{}, error) {
		called = true
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_PanicCountsAsFailure(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 1
	cb := New(cfg)

	assert.Panics(t, func() {
		_, _ = cb.Execute(func() (interface{}, error) { panic("store exploded") })
	})
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, 1, cb.Status().FailureCount)
}

func TestCall_DoneContext(t *testing.T) {
	cb := New(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := cb.Call(ctx, func(context.Context) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestDo_Typed(t *testing.T) {
	cb := New(testConfig())

	n, err := Do(context.Background(), cb, func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	trip(t, cb, 3)
	n, err = Do(context.Background(), cb, func(context.Context) (int, error) {
		return 7, nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, 0, n)
}

func TestPresetConfigs(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantName  string
		threshold uint32
	}{
		{"default", DefaultConfig("x"), "x", 5},
		{"backend", BackendAPIConfig(), "document-backend", 5},
		{"session", SessionRefreshConfig(), "session-refresh", 3},
		{"backup store", BackupStoreConfig(), "backup-store", 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantName, tt.cfg.Name)
			assert.Equal(t, tt.threshold, tt.cfg.FailureThreshold)
			assert.Positive(t, tt.cfg.ResetTimeout)
			assert.GreaterOrEqual(t, tt.cfg.HalfOpenCallLimit, uint32(1))
		})
	}
}
