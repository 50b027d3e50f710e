package IBM

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/notargets/golbm/utils"
)

// ErrorKind classifies failures of the coupling layer. Each kind is itself an
// error so callers can test with errors.Is(err, IBM.MarkerEscaped).
type ErrorKind uint8

const (
	ConfigurationError ErrorKind = iota + 1
	MarkerEscaped
	SolverNotConverged
	SolverStagnated
	SingularMatrix
	NumericalBlowup
)

func (k ErrorKind) String() string {
	switch k {
	case ConfigurationError:
		return "ConfigurationError"
	case MarkerEscaped:
		return "MarkerEscaped"
	case SolverNotConverged:
		return "SolverNotConverged"
	case SolverStagnated:
		return "SolverStagnated"
	case SingularMatrix:
		return "SingularMatrix"
	case NumericalBlowup:
		return "NumericalBlowup"
	}
	return "Unknown"
}

func (k ErrorKind) Error() string { return k.String() }

// Fatal kinds halt the time step. MarkerEscaped and SolverNotConverged are
// recoverable, the caller picks the policy for the latter.
func (k ErrorKind) Fatal() bool {
	switch k {
	case MarkerEscaped, SolverNotConverged:
		return false
	}
	return true
}

// Error carries the context of one incident. Marker is -1 when the incident
// concerns the whole body, BodyID is -1 when no body is involved.
type Error struct {
	Kind       ErrorKind
	BodyID     int
	Marker     int
	Iterations int
	Residual   float64
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: body %d", e.Kind, e.BodyID)
	if e.Marker >= 0 {
		msg += fmt.Sprintf(", marker %d", e.Marker)
	}
	if e.Iterations > 0 {
		msg += fmt.Sprintf(", %d iterations, residual %.3e", e.Iterations, e.Residual)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func (e *Error) Fatal() bool { return e.Kind.Fatal() }

func (e *Error) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("kind", e.Kind.String()),
		slog.Int("body", e.BodyID),
		slog.Int("marker", e.Marker),
		slog.Int("iterations", e.Iterations),
		slog.Float64("residual", e.Residual),
	}
	if e.Err != nil {
		attrs = append(attrs, slog.String("cause", e.Err.Error()))
	}
	return slog.GroupValue(attrs...)
}

func newError(kind ErrorKind, bodyID, marker int, err error) *Error {
	return &Error{Kind: kind, BodyID: bodyID, Marker: marker, Err: err}
}

func configError(bodyID int, format string, args ...any) *Error {
	return newError(ConfigurationError, bodyID, -1, fmt.Errorf(format, args...))
}

// solverError maps the linear algebra sentinels onto error kinds.
func solverError(bodyID int, res utils.IterativeResult, err error) *Error {
	kind := ConfigurationError
	switch {
	case errors.Is(err, utils.ErrStagnated):
		kind = SolverStagnated
	case errors.Is(err, utils.ErrSingularMatrix):
		kind = SingularMatrix
	case errors.Is(err, utils.ErrNotConverged):
		kind = SolverNotConverged
	}
	return &Error{
		Kind:       kind,
		BodyID:     bodyID,
		Marker:     -1,
		Iterations: res.Iterations,
		Residual:   res.Residual,
		Err:        err,
	}
}

// Outcome lists the recoverable incidents of one coupling call.
type Outcome struct {
	Incidents []*Error
	Skipped   []int // IDs of bodies left out of this step
}

func (o *Outcome) OK() bool { return len(o.Incidents) == 0 }

func (o *Outcome) add(e *Error) { o.Incidents = append(o.Incidents, e) }

func (o *Outcome) merge(other Outcome) {
	o.Incidents = append(o.Incidents, other.Incidents...)
	o.Skipped = append(o.Skipped, other.Skipped...)
}
