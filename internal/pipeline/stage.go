package pipeline

import (
	"fmt"
	"time"
)

// Stage names one step of a run.
type Stage string

const (
	StageExpansion      Stage = "expansion"
	StageSerp           Stage = "serp_collection"
	StageMetrics        Stage = "metrics_enrichment"
	StageNormalization  Stage = "normalization"
	StageClassification Stage = "classification"
	StageScoring        Stage = "scoring"
	StageClustering     Stage = "clustering"
)

// Stages is the fixed execution order.
var Stages = []Stage{
	StageExpansion,
	StageSerp,
	StageMetrics,
	StageNormalization,
	StageClassification,
	StageScoring,
	StageClustering,
}

// ParseStage maps a configured stage name onto a Stage.
func ParseStage(name string) (Stage, error) {
	for _, s := range Stages {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q", name)
}

// Status is the lifecycle state of a stage.
type Status string

const (
	StatusPending         Status = "pending"
	StatusRunning         Status = "running"
	StatusCompleted       Status = "completed"
	StatusPartiallyFailed Status = "partially_failed"
	StatusFailed          Status = "failed"
	// StatusDisabled marks a stage switched off by configuration or
	// missing its collaborator. Its input passes through unchanged.
	StatusDisabled Status = "disabled"
)

// Terminal reports whether the stage has finished.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartiallyFailed, StatusFailed, StatusDisabled:
		return true
	}
	return false
}

// StageState is the recorded outcome of one stage.
type StageState struct {
	Stage     Stage         `json:"stage"`
	Status    Status        `json:"status"`
	Processed int           `json:"processed"`
	Degraded  int           `json:"degraded"`
	Duration  time.Duration `json:"duration"`
	Started   time.Time     `json:"started,omitzero"`
	Finished  time.Time     `json:"finished,omitzero"`
}

func initialStates() []StageState {
	states := make([]StageState, len(Stages))
	for i, s := range Stages {
		states[i] = StageState{Stage: s, Status: StatusPending}
	}
	return states
}
