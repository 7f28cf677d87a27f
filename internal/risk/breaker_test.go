package risk

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRegistry() *BreakerRegistry {
	return NewBreakerRegistry(BreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenTrials:   2,
	}, discard())
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	r := testRegistry()
	now := time.Now()

	assert.True(t, r.CanExecute("m1", now))

	r.RecordFailure("m1", now)
	r.RecordFailure("m1", now)
	assert.Equal(t, BreakerClosed, r.State("m1"))
	assert.True(t, r.CanExecute("m1", now))

	r.RecordFailure("m1", now)
	assert.Equal(t, BreakerOpen, r.State("m1"))
	assert.False(t, r.CanExecute("m1", now))
}

func TestBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	r := testRegistry()
	now := time.Now()

	r.RecordFailure("m1", now)
	r.RecordFailure("m1", now)
	r.RecordSuccess("m1")
	r.RecordFailure("m1", now)
	r.RecordFailure("m1", now)

	// Never three in a row.
	assert.Equal(t, BreakerClosed, r.State("m1"))
}

func TestBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	r := testRegistry()
	now := time.Now()

	for i := 0; i < 3; i++ {
		r.RecordFailure("m1", now)
	}
	assert.False(t, r.CanExecute("m1", now.Add(29*time.Second)))

	// Recovery timeout elapses; trials admitted.
	later := now.Add(31 * time.Second)
	assert.True(t, r.CanExecute("m1", later))
	assert.Equal(t, BreakerHalfOpen, r.State("m1"))

	// Trial budget is 2; the third probe is refused.
	assert.True(t, r.CanExecute("m1", later))
	assert.False(t, r.CanExecute("m1", later))
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	r := testRegistry()
	now := time.Now()

	for i := 0; i < 3; i++ {
		r.RecordFailure("m1", now)
	}
	later := now.Add(31 * time.Second)
	assert.True(t, r.CanExecute("m1", later))

	r.RecordSuccess("m1")
	assert.Equal(t, BreakerClosed, r.State("m1"))
	assert.True(t, r.CanExecute("m1", later))

	// Failure count was reset: two fresh failures do not re-open.
	r.RecordFailure("m1", later)
	r.RecordFailure("m1", later)
	assert.Equal(t, BreakerClosed, r.State("m1"))
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	r := testRegistry()
	now := time.Now()

	for i := 0; i < 3; i++ {
		r.RecordFailure("m1", now)
	}
	later := now.Add(31 * time.Second)
	assert.True(t, r.CanExecute("m1", later))

	r.RecordFailure("m1", later)
	assert.Equal(t, BreakerOpen, r.State("m1"))
	assert.False(t, r.CanExecute("m1", later))
}

func TestBreaker_IsolationAcrossMarkets(t *testing.T) {
	r := testRegistry()
	now := time.Now()

	for i := 0; i < 3; i++ {
		r.RecordFailure("bad", now)
	}

	assert.False(t, r.CanExecute("bad", now))
	assert.True(t, r.CanExecute("good", now))
	assert.Equal(t, BreakerClosed, r.State("good"))
}

func TestBreaker_LazyCreationAndRemove(t *testing.T) {
	r := testRegistry()

	assert.Equal(t, 0, r.Len())
	_ = r.CanExecute("m1", time.Now())
	assert.Equal(t, 1, r.Len())

	r.Remove("m1")
	assert.Equal(t, 0, r.Len())
}

func TestBreaker_ReturnTrialRestoresBudget(t *testing.T) {
	r := testRegistry()
	now := time.Now()

	for i := 0; i < 3; i++ {
		r.RecordFailure("m1", now)
	}
	later := now.Add(31 * time.Second)
	assert.True(t, r.CanExecute("m1", later))
	assert.True(t, r.CanExecute("m1", later))
	assert.False(t, r.CanExecute("m1", later))

	// An admitted attempt that never reached the executor hands back its
	// trial; the budget is available again.
	r.ReturnTrial("m1")
	assert.True(t, r.CanExecute("m1", later))
	assert.False(t, r.CanExecute("m1", later))
}

func TestBreaker_ReturnTrialNoOpOutsideHalfOpen(t *testing.T) {
	r := testRegistry()
	now := time.Now()

	r.ReturnTrial("unknown")
	r.ReturnTrial("m1")
	assert.True(t, r.CanExecute("m1", now))
	assert.Equal(t, BreakerClosed, r.State("m1"))
}
