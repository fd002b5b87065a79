package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind enumerates the failure classes of a scheduling run.
type ErrorKind string

const (
	KindStructural            ErrorKind = "STRUCTURAL_ERROR"
	KindUnsupportedConstraint ErrorKind = "UNSUPPORTED_CONSTRAINT"
	KindInfeasible            ErrorKind = "INFEASIBLE"
	KindBudgetExceeded        ErrorKind = "BUDGET_EXCEEDED"
	KindValidationDefect      ErrorKind = "VALIDATION_DEFECT"
)

// Scope names the stream/subject/teacher a failure is attributed to.
type Scope struct {
	StreamID   string   `json:"streamId,omitempty"`
	SubjectID  string   `json:"subjectId,omitempty"`
	TeacherID  string   `json:"teacherId,omitempty"`
	TeacherIDs []string `json:"teacherIds,omitempty"`
}

// PartialScore summarises the deepest partial schedule reached before the budget ran out.
type PartialScore struct {
	Placed   int     `json:"placed"`
	Required int     `json:"required"`
	Penalty  float64 `json:"penalty"`
	Steps    int     `json:"steps"`
}

// SchedulingError is the typed failure returned by Generate and its stages.
type SchedulingError struct {
	Kind     ErrorKind     `json:"kind"`
	Message  string        `json:"message"`
	Scope    Scope         `json:"scope"`
	RecordID string        `json:"recordId,omitempty"`
	Defects  []Defect      `json:"defects,omitempty"`
	Partial  *PartialScore `json:"partial,omitempty"`
	Err      error         `json:"-"`
}

// Error implements the error interface.
func (e *SchedulingError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(strings.ToLower(string(e.Kind)))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the wrapped cause.
func (e *SchedulingError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsKind reports whether err is a SchedulingError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *SchedulingError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

func structuralf(scope Scope, format string, args ...any) *SchedulingError {
	return &SchedulingError{Kind: KindStructural, Message: fmt.Sprintf(format, args...), Scope: scope}
}

func unsupportedf(recordID string, format string, args ...any) *SchedulingError {
	return &SchedulingError{
		Kind:     KindUnsupportedConstraint,
		Message:  fmt.Sprintf("constraint %q: %s", recordID, fmt.Sprintf(format, args...)),
		RecordID: recordID,
	}
}

func infeasiblef(scope Scope, format string, args ...any) *SchedulingError {
	return &SchedulingError{Kind: KindInfeasible, Message: fmt.Sprintf(format, args...), Scope: scope}
}
