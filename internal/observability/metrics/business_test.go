package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordBackupWrite(t *testing.T) {
	tests := []struct {
		name    string
		outcome string
	}{
		{name: "success", outcome: WriteSuccess},
		{name: "remediated", outcome: WriteRemediated},
		{name: "rejected", outcome: WriteRejected},
		{name: "failure", outcome: WriteFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(BackupWritesTotal.WithLabelValues(tt.outcome))
			RecordBackupWrite(tt.outcome)
			after := testutil.ToFloat64(BackupWritesTotal.WithLabelValues(tt.outcome))
			assert.Equal(t, before+1, after)
		})
	}
}

func TestRecordRecovery(t *testing.T) {
	before := testutil.ToFloat64(RecoveriesTotal.WithLabelValues(RecoveryContentRecovered))
	RecordRecovery(RecoveryContentRecovered)
	assert.Equal(t, before+1, testutil.ToFloat64(RecoveriesTotal.WithLabelValues(RecoveryContentRecovered)))
}

func TestUpdateRecoveryQueue(t *testing.T) {
	UpdateRecoveryQueue(5, 2)
	assert.Equal(t, 5.0, testutil.ToFloat64(RecoveryQueueDepth))
	assert.Equal(t, 2.0, testutil.ToFloat64(RecoveriesInFlight))

	UpdateRecoveryQueue(0, 0)
	assert.Equal(t, 0.0, testutil.ToFloat64(RecoveryQueueDepth))
}

func TestRecordRecoveryDropped(t *testing.T) {
	before := testutil.ToFloat64(RecoveriesDroppedTotal)
	RecordRecoveryDropped()
	assert.Equal(t, before+1, testutil.ToFloat64(RecoveriesDroppedTotal))
}

func TestRecordJanitorRun(t *testing.T) {
	t.Run("success counts pruned per store", func(t *testing.T) {
		runs := testutil.ToFloat64(JanitorRunsTotal.WithLabelValues("success"))
		badger := testutil.ToFloat64(JanitorPrunedTotal.WithLabelValues("badger"))

		RecordJanitorRun(map[string]int{"badger": 3, "redis": 0}, nil)

		assert.Equal(t, runs+1, testutil.ToFloat64(JanitorRunsTotal.WithLabelValues("success")))
		assert.Equal(t, badger+3, testutil.ToFloat64(JanitorPrunedTotal.WithLabelValues("badger")))
	})

	t.Run("failure", func(t *testing.T) {
		runs := testutil.ToFloat64(JanitorRunsTotal.WithLabelValues("failure"))
		RecordJanitorRun(nil, errors.New("postgres unavailable"))
		assert.Equal(t, runs+1, testutil.ToFloat64(JanitorRunsTotal.WithLabelValues("failure")))
	})
}

func TestMetricsFunctions_AllCallable(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordHTTPRequest("GET", "/health", "200", 5*time.Millisecond)
		RecordStoreOperation("memory", "read", time.Millisecond)
		RecordSessionRecovery("refreshed")
	})
}
