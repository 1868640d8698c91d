package executor

// #region imports
import (
	"context"
	"errors"
	"math/rand"
	"os/exec"
	"time"
)

// #endregion

// #region failure-kind

// FailureKind categorizes why a task attempt failed.
type FailureKind string

const (
	FailureNone      FailureKind = "none"
	FailureTimeout   FailureKind = "timeout"
	FailureCancelled FailureKind = "cancelled"
	FailureNotFound  FailureKind = "not_found" // command missing (exit 127)
	FailureTransient FailureKind = "transient" // signal kill, EX_TEMPFAIL
	FailureFatal     FailureKind = "fatal"     // ordinary non-zero exit
)

// Retryable reports whether another attempt can plausibly succeed.
func (k FailureKind) Retryable() bool {
	return k == FailureTimeout || k == FailureTransient
}

// #endregion failure-kind

// #region classify

// exitTempFail is the sysexits EX_TEMPFAIL convention.
const exitTempFail = 75

// Classify maps an attempt's error and exit code to a failure kind.
// attemptCtx is the per-attempt (timeout) context, parentCtx the run
// context; the distinction separates timeout from cancellation.
func Classify(parentCtx, attemptCtx context.Context, runErr error, exitCode int) FailureKind {
	if runErr == nil {
		return FailureNone
	}
	if parentCtx.Err() != nil {
		return FailureCancelled
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return FailureTimeout
	}
	if errors.Is(attemptCtx.Err(), context.Canceled) {
		// Another task's failure tore the run context down mid-attempt.
		return FailureCancelled
	}
	if errors.Is(runErr, exec.ErrNotFound) || exitCode == 127 {
		return FailureNotFound
	}
	if exitCode < 0 {
		// Killed by a signal without the run being cancelled.
		return FailureTransient
	}
	if exitCode == exitTempFail {
		return FailureTransient
	}
	return FailureFatal
}

// #endregion classify

// #region backoff

const (
	backoffBase = 100 * time.Millisecond
	backoffCap  = 5 * time.Second
)

// Backoff returns the delay before retry attempt n (0-based), exponential
// with ±25% jitter, capped.
func Backoff(attempt int) time.Duration {
	d := backoffBase << uint(attempt)
	if d > backoffCap || d <= 0 {
		d = backoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2))
	return d*3/4 + jitter
}

// #endregion backoff
