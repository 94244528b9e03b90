package telemetry

// Stage is the pipeline stage a span belongs to.
type Stage int

const (
	SessionStage Stage = iota
	BuildStage
	FuzzStage
	CollectStage
	TriageStage
	DedupStage
	ArchiveStage
)

func (s Stage) String() string {
	switch s {
	case SessionStage:
		return "session"
	case BuildStage:
		return "building"
	case FuzzStage:
		return "fuzzing"
	case CollectStage:
		return "collecting"
	case TriageStage:
		return "triage"
	case DedupStage:
		return "dedup"
	case ArchiveStage:
		return "archive"
	default:
		return "unknown"
	}
}
