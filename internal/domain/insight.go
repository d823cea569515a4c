package domain

// FailureResolution pairs a failed stage with the suggested remedy.
type FailureResolution struct {
	StageID    string
	Error      string
	Retries    int
	Resolution string
}

// StageHighlight names a stage and the value that made it stand out.
type StageHighlight struct {
	StageID string
	Value   float64
}

// Trend compares the current run's metrics with the mean of prior runs.
type Trend struct {
	PriorRuns                 int
	SuccessRateDelta          float64
	CostDelta                 float64
	OutputQualityDelta        float64
	AudienceFitDelta          float64
	ProductionEfficiencyDelta float64
}

// InsightSummary is derived from a run and optional prior runs. It is a pure
// function of those inputs.
type InsightSummary struct {
	RunID                string
	Status               RunStatus
	SuccessfulPatterns   []string
	Fastest              *StageHighlight
	Cheapest             *StageHighlight
	Failures             []FailureResolution
	Skipped              []string
	OutputQuality        float64
	AudienceFit          float64
	ProductionEfficiency float64
	Warnings             []string
	Trend                *Trend
}
