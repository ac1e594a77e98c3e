package models

// Stage identifies one phase of the portal extraction sequence. Stages are
// plain values so progress reporting, job events, and retry decisions can
// carry them without referencing the runner.
type Stage string

const (
	StageInit            Stage = "init"
	StageAuthenticating  Stage = "authenticating"
	StageNavigating      Stage = "navigating"
	StageSelectingPeriod Stage = "selecting_period"
	StageExtractingTable Stage = "extracting_table"
	StageParsing         Stage = "parsing"
	StageCompleted       Stage = "completed"
	StageFailed          Stage = "failed"
	StageRetrying        Stage = "retrying"
)

// IsTerminal returns true if the stage ends a run.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}
