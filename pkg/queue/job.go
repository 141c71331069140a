package queue

import (
	"context"
	"encoding/json"
	"errors"
)

// Job handles one message type. The returned value is stored as the job result.
type Job interface {
	Type() string
	Handle(ctx context.Context, payload json.RawMessage) (any, error)
}

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
