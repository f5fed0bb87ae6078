package pipeline

import (
	"fmt"
)

// ErrorKind classifies a stage failure.
type ErrorKind string

const (
	KindPartialFailure ErrorKind = "partial_failure"
	KindTotalFailure   ErrorKind = "total_failure"
)

// KeywordFailure is the per-keyword detail of a stage error.
type KeywordFailure struct {
	KeywordID string `json:"keyword_id,omitempty"`
	Keyword   string `json:"keyword"`
	Provider  string `json:"provider,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Reason    string `json:"reason"`
}

// StageError reports the keywords a stage degraded. A partial failure
// still produced output; a total failure produced none.
type StageError struct {
	Stage    Stage            `json:"stage"`
	Kind     ErrorKind        `json:"kind"`
	Failures []KeywordFailure `json:"failures"`
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %s: %d keyword(s) degraded", e.Stage, e.Kind, len(e.Failures))
}

// Is matches any *StageError of the same kind, so callers can write
// errors.Is(err, pipeline.ErrTotalFailure).
func (e *StageError) Is(target error) bool {
	t, ok := target.(*StageError)
	return ok && t.Kind == e.Kind && (t.Stage == "" || t.Stage == e.Stage)
}

var (
	ErrPartialFailure = &StageError{Kind: KindPartialFailure}
	ErrTotalFailure   = &StageError{Kind: KindTotalFailure}
)
