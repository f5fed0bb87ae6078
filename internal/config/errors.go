package config

import "fmt"

// ErrorKind classifies a configuration error.
type ErrorKind string

const (
	KindInvalidWeights   ErrorKind = "invalid_weights"
	KindInvalidThreshold ErrorKind = "invalid_threshold"
	KindInvalidSettings  ErrorKind = "invalid_settings"
)

// Error is a fatal configuration problem detected before a run starts.
type Error struct {
	Kind  ErrorKind
	Field string
	Msg   string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("config: %s: %s: %s", e.Kind, e.Field, e.Msg)
}

// Is matches any *Error of the same kind, so callers can write
// errors.Is(err, config.ErrInvalidWeights).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidWeights   = &Error{Kind: KindInvalidWeights}
	ErrInvalidThreshold = &Error{Kind: KindInvalidThreshold}
	ErrInvalidSettings  = &Error{Kind: KindInvalidSettings}
)
