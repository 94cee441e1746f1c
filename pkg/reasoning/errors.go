package reasoning

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the stable, machine-readable class of an Error.
type ErrorKind string

// Error kinds.
const (
	KindStageViolation        ErrorKind = "STAGE_VIOLATION"
	KindValidation            ErrorKind = "VALIDATION_ERROR"
	KindCapacityExceeded      ErrorKind = "CAPACITY_EXCEEDED"
	KindInternalInconsistency ErrorKind = "INTERNAL_INCONSISTENCY"
)

// Sentinels for errors.Is matching against any *Error of that kind.
var (
	ErrStageViolation        = errors.New("stage violation")
	ErrValidation            = errors.New("validation error")
	ErrCapacityExceeded      = errors.New("capacity exceeded")
	ErrInternalInconsistency = errors.New("internal inconsistency")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindStageViolation:
		return ErrStageViolation
	case KindValidation:
		return ErrValidation
	case KindCapacityExceeded:
		return ErrCapacityExceeded
	case KindInternalInconsistency:
		return ErrInternalInconsistency
	}
	return nil
}

// Error is returned by every Engine operation.
//
// Example:
//
//	_, err := engine.Decompose(reasoning.DecomposeInput{})
//	var rerr *reasoning.Error
//	if errors.As(err, &rerr) && rerr.Kind == reasoning.KindStageViolation {
//		fmt.Printf("need stage %s, at %s\n", rerr.Expected, rerr.Stage)
//	}
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Op      string    `json:"operation"`
	Message string    `json:"message"`
	// Stage is the engine stage when the error occurred.
	Stage Stage `json:"stage"`
	// Expected is the stage the operation required, for stage violations.
	Expected Stage `json:"expected_stage,omitempty"`
	// ID names the offending node, edge or field when there is one.
	ID  string `json:"id,omitempty"`
	Err error  `json:"-"`
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.ID != "" {
		fmt.Fprintf(&b, " (id %s)", e.ID)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return ""
}

func stageViolation(op string, required []Stage, actual Stage) *Error {
	names := make([]string, len(required))
	for i, s := range required {
		names[i] = s.String()
	}
	return &Error{
		Kind:     KindStageViolation,
		Op:       op,
		Message:  fmt.Sprintf("requires stage %s, engine is at stage %s", strings.Join(names, " or "), actual),
		Stage:    actual,
		Expected: required[0],
	}
}

func validationError(op string, stage Stage, id string, format string, args ...any) *Error {
	return &Error{
		Kind:    KindValidation,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		Stage:   stage,
		ID:      id,
	}
}

func capacityError(op string, stage Stage, format string, args ...any) *Error {
	return &Error{
		Kind:    KindCapacityExceeded,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		Stage:   stage,
	}
}

func inconsistencyError(op string, stage Stage, cause error) *Error {
	return &Error{
		Kind:    KindInternalInconsistency,
		Op:      op,
		Message: "graph invariant violated; engine is no longer usable",
		Stage:   stage,
		Err:     cause,
	}
}
