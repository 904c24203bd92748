package analytics

// Stage is the activation state of the pipeline. Stages only move forward:
// initial → critical → critical-ready → deferred → complete.
type Stage int

const (
	// StageInitial is the pre-init state; capture calls are dropped.
	StageInitial Stage = iota
	// StageCritical means the lite platform is loading.
	StageCritical
	// StageCriticalReady means critical-path capture is live and the
	// immediate page view has been emitted.
	StageCriticalReady
	// StageDeferred means the remaining platforms are loading, triggered by
	// the first interaction or the fallback timeout.
	StageDeferred
	// StageComplete means every platform is live and queued ready callbacks
	// have run.
	StageComplete
)

func (s Stage) String() string {
	switch s {
	case StageInitial:
		return "initial"
	case StageCritical:
		return "critical"
	case StageCriticalReady:
		return "critical-ready"
	case StageDeferred:
		return "deferred"
	case StageComplete:
		return "complete"
	}
	return "unknown"
}
