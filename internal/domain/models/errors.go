package models

import (
	"errors"
	"fmt"
)

// ErrorKind discriminates run failures.
type ErrorKind int

const (
	KindInvalidInput ErrorKind = iota + 1
	KindUnsupportedMethod
	KindFitFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindUnsupportedMethod:
		return "unsupported_method"
	case KindFitFailure:
		return "fit_failure"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnsupportedMethod = errors.New("unsupported method")
	ErrFitFailure        = errors.New("fit failure")
)

// DetectionError is the single failure type returned by detectors and the dispatcher.
type DetectionError struct {
	Kind  ErrorKind
	Op    string
	Msg   string
	Field string
	Err   error
}

func (e *DetectionError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.sentinel().Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DetectionError) Unwrap() error { return e.Err }

// Is matches the kind sentinels so callers can use errors.Is(err, ErrFitFailure).
func (e *DetectionError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *DetectionError) sentinel() error {
	switch e.Kind {
	case KindInvalidInput:
		return ErrInvalidInput
	case KindUnsupportedMethod:
		return ErrUnsupportedMethod
	case KindFitFailure:
		return ErrFitFailure
	}
	return nil
}

// KindOf returns the kind carried by err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var de *DetectionError
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return 0, false
}

func InvalidInputf(field, format string, a ...any) *DetectionError {
	return &DetectionError{Kind: KindInvalidInput, Field: field, Msg: fmt.Sprintf(format, a...)}
}

func UnsupportedMethodError(m Method) *DetectionError {
	return &DetectionError{
		Kind:  KindUnsupportedMethod,
		Field: "method",
		Msg:   fmt.Sprintf("unsupported method %q", string(m)),
	}
}

func FitFailuref(op, format string, a ...any) *DetectionError {
	return &DetectionError{Kind: KindFitFailure, Op: op, Msg: fmt.Sprintf(format, a...)}
}
