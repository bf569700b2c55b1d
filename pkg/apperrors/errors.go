// Package apperrors defines the error-kind taxonomy used across the
// topology, matrix, detection, localization, and orchestration components,
// and the HTTP status mapping for each kind.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation and HTTP status mapping.
type Kind string

const (
	KindInvalidInput            Kind = "InvalidInput"
	KindNotFound                Kind = "NotFound"
	KindConflict                Kind = "Conflict"
	KindSimulatorUnavailable    Kind = "SimulatorUnavailable"
	KindSimulationFailed        Kind = "SimulationFailed"
	KindNoValidReadings         Kind = "NoValidReadings"
	KindLocalizationUndetermined Kind = "LocalizationUndetermined"
	KindInvariantViolation      Kind = "InvariantViolation"
)

// HTTPStatus returns the status code this error kind maps to per §6/§7.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindInvariantViolation:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error is a structured, kind-tagged error.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "MatrixEngine.Generate"
	Entity  string // entity type, e.g. "network", "sensor"
	ID      string // entity id, if applicable
	Cause   error
	Context string
}

// Error implements the error interface.
func (e *Error) Error() string {
	base := e.Op
	if e.Entity != "" {
		if e.ID != "" {
			base = fmt.Sprintf("%s %s %s", e.Op, e.Entity, e.ID)
		} else {
			base = fmt.Sprintf("%s %s", e.Op, e.Entity)
		}
	}
	if e.Context != "" {
		base = fmt.Sprintf("%s (%s)", base, e.Context)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", base, e.Cause)
	}
	return fmt.Sprintf("%s: %s", base, e.Kind)
}

// Unwrap supports errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error's kind-sentinel or its cause.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return errors.Is(e.Cause, target)
}

// Builder provides a fluent interface for constructing Errors.
type Builder struct {
	err Error
}

// New starts building an error of the given kind.
func New(kind Kind) *Builder {
	return &Builder{err: Error{Kind: kind}}
}

func (b *Builder) Op(op string) *Builder {
	b.err.Op = op
	return b
}

func (b *Builder) Entity(entity, id string) *Builder {
	b.err.Entity = entity
	b.err.ID = id
	return b
}

func (b *Builder) Context(ctx string) *Builder {
	b.err.Context = ctx
	return b
}

func (b *Builder) Cause(cause error) *Builder {
	b.err.Cause = cause
	return b
}

// Err returns the built error.
func (b *Builder) Err() error {
	return &b.err
}

// Convenience constructors matching the error kinds named in §7.

func InvalidInput(op, context string) error {
	return New(KindInvalidInput).Op(op).Context(context).Err()
}

func NotFound(op, entity, id string) error {
	return New(KindNotFound).Op(op).Entity(entity, id).Err()
}

func Conflict(op, entity, id string) error {
	return New(KindConflict).Op(op).Entity(entity, id).Err()
}

func SimulatorUnavailable(op string, cause error) error {
	return New(KindSimulatorUnavailable).Op(op).Cause(cause).Err()
}

func SimulationFailed(op string, cause error) error {
	return New(KindSimulationFailed).Op(op).Cause(cause).Err()
}

func NoValidReadings(op string) error {
	return New(KindNoValidReadings).Op(op).Err()
}

func LocalizationUndetermined(op, context string) error {
	return New(KindLocalizationUndetermined).Op(op).Context(context).Err()
}

func InvariantViolation(op, context string) error {
	return New(KindInvariantViolation).Op(op).Context(context).Err()
}

// Is<Kind> helpers used by the HTTP layer's status-code mapping.

func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

func IsInvalidInput(err error) bool       { return IsKind(err, KindInvalidInput) }
func IsNotFound(err error) bool           { return IsKind(err, KindNotFound) }
func IsConflict(err error) bool           { return IsKind(err, KindConflict) }
func IsSimulatorUnavailable(err error) bool { return IsKind(err, KindSimulatorUnavailable) }
func IsSimulationFailed(err error) bool   { return IsKind(err, KindSimulationFailed) }
func IsNoValidReadings(err error) bool    { return IsKind(err, KindNoValidReadings) }
func IsLocalizationUndetermined(err error) bool {
	return IsKind(err, KindLocalizationUndetermined)
}
func IsInvariantViolation(err error) bool { return IsKind(err, KindInvariantViolation) }

// KindOf extracts the Kind from err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// StatusCode returns the HTTP status code for err, defaulting to 500 for
// unrecognized error kinds (including plain, non-apperrors errors).
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind.HTTPStatus()
	}
	return http.StatusInternalServerError
}
