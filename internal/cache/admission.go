package cache

// #region imports
import "fmt"

// #endregion

// #region decision

// AdmitDecision is the outcome of the cache admission policy.
type AdmitDecision struct {
	Admit  bool
	Reason string
}

// AdmitInput is everything the policy looks at before storing an artifact.
type AdmitInput struct {
	TaskSucceeded bool
	OutputFiles   int
	ArtifactBytes int64
	MaxEntryBytes int64
}

// #endregion decision

// #region evaluate

// EvaluateAdmission checks hard vetoes in order; the first one that fires
// rejects the artifact. Nothing vetoed means admit.
func EvaluateAdmission(in AdmitInput) AdmitDecision {
	// 1. Never cache a failed task's outputs.
	if !in.TaskSucceeded {
		return AdmitDecision{Reason: "task failed"}
	}

	// 2. A successful task whose output globs matched nothing has nothing
	// worth restoring; admitting an empty artifact would turn later runs
	// into silent no-ops.
	if in.OutputFiles == 0 {
		return AdmitDecision{Reason: "no output files matched"}
	}

	// 3. Per-entry size cap.
	if in.MaxEntryBytes > 0 && in.ArtifactBytes > in.MaxEntryBytes {
		return AdmitDecision{Reason: fmt.Sprintf(
			"artifact %d bytes exceeds cap %d", in.ArtifactBytes, in.MaxEntryBytes)}
	}

	return AdmitDecision{Admit: true, Reason: "admitted"}
}

// #endregion evaluate
