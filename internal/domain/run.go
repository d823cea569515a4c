package domain

import "time"

// StageStatus is the terminal state of one stage within a run.
type StageStatus string

const (
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// StageExecutionRecord is one stage's outcome within a run. It is built
// once the stage reaches a terminal state and never changed afterwards.
type StageExecutionRecord struct {
	StageID        string
	Kind           string
	Status         StageStatus
	Attempts       int
	Retries        int
	ElapsedSeconds float64
	CostUSD        float64
	Error          string
	Reason         string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// RunStatus is the global state of an orchestration run.
type RunStatus string

const (
	RunRunning         RunStatus = "running"
	RunCompleted       RunStatus = "completed"
	RunPartiallyFailed RunStatus = "partially_failed"
)

// OrchestrationRun is one execution of the stage graph.
type OrchestrationRun struct {
	RunID               string
	Status              RunStatus
	SeedPromptID        string
	SeedScore           float64
	StageExecutions     []StageExecutionRecord
	TotalElapsedSeconds float64
	WallClockSeconds    float64
	TotalCostUSD        float64
	SuccessRatePercent  float64
	CostCeilingUSD      float64
	TimeCeilingSeconds  float64
	Warnings            []string
	StartedAt           time.Time
	FinishedAt          time.Time
}

// Finalize derives totals, success rate and status from the stage records.
func (r *OrchestrationRun) Finalize(finishedAt time.Time) {
	r.FinishedAt = finishedAt
	r.WallClockSeconds = finishedAt.Sub(r.StartedAt).Seconds()
	r.TotalElapsedSeconds = 0
	r.TotalCostUSD = 0

	completed := 0
	for _, rec := range r.StageExecutions {
		r.TotalElapsedSeconds += rec.ElapsedSeconds
		r.TotalCostUSD += rec.CostUSD
		if rec.Status == StageCompleted {
			completed++
		}
	}

	r.SuccessRatePercent = 0
	if len(r.StageExecutions) > 0 {
		r.SuccessRatePercent = float64(completed) / float64(len(r.StageExecutions)) * 100
	}

	r.Status = RunCompleted
	if completed != len(r.StageExecutions) {
		r.Status = RunPartiallyFailed
	}
}

// Stage returns the record of a stage by id.
func (r OrchestrationRun) Stage(id string) (StageExecutionRecord, bool) {
	for _, rec := range r.StageExecutions {
		if rec.StageID == id {
			return rec, true
		}
	}
	return StageExecutionRecord{}, false
}
