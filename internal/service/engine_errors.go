package service

import (
	"errors"
	"strings"

	"github.com/noah-isme/sma-timetable/internal/engine"
	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
)

const outcomeSuccess = "success"

// schedulingDetails is the machine-readable part of a failed run.
type schedulingDetails struct {
	Kind     engine.ErrorKind     `json:"kind"`
	Scope    engine.Scope         `json:"scope"`
	RecordID string               `json:"recordId,omitempty"`
	Partial  *engine.PartialScore `json:"partial,omitempty"`
	Defects  int                  `json:"defects,omitempty"`
}

// mapEngineError translates a SchedulingError into the API error taxonomy.
// Validation defects are the engine's fault and surface as internal errors.
func mapEngineError(err error) error {
	var se *engine.SchedulingError
	if !errors.As(err, &se) {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "timetable generation failed")
	}

	var base *appErrors.Error
	switch se.Kind {
	case engine.KindStructural:
		base = appErrors.ErrValidation
	case engine.KindUnsupportedConstraint:
		base = appErrors.ErrUnsupportedConstraint
	case engine.KindInfeasible:
		base = appErrors.ErrInfeasible
	case engine.KindBudgetExceeded:
		base = appErrors.ErrBudgetExceeded
	default:
		base = appErrors.ErrInternal
	}

	message := se.Message
	if base == appErrors.ErrInternal {
		message = "generated timetable failed internal validation"
	}
	out := appErrors.WithDetails(appErrors.Clone(base, message), schedulingDetails{
		Kind:     se.Kind,
		Scope:    se.Scope,
		RecordID: se.RecordID,
		Partial:  se.Partial,
		Defects:  len(se.Defects),
	})
	out.Err = err
	return out
}

func outcomeOf(err error) string {
	var se *engine.SchedulingError
	if errors.As(err, &se) {
		return strings.ToLower(string(se.Kind))
	}
	return "error"
}
