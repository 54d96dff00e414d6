// Package apperr defines the workflow error taxonomy shared by every
// component and mapped onto HTTP responses by the API.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
)

// Sentinel errors. Wrap them with eris.Wrap; errors.Is still matches.
var (
	// ErrNotFound means the entity has not been created yet. Readers treat it
	// as an expected waiting state, not a fault.
	ErrNotFound = eris.New("not yet created")

	// ErrAlreadyApproved is returned when approving an entity a second time.
	ErrAlreadyApproved = eris.New("already approved")

	// ErrRevisionConflict is returned when a write carries a stale revision.
	ErrRevisionConflict = eris.New("revision conflict")

	// ErrLocked is returned when another editor holds the entity's lease.
	ErrLocked = eris.New("locked by another editor")

	// ErrSaveInFlight is returned by a manual save while a save for the same
	// entity is still running.
	ErrSaveInFlight = eris.New("save already in flight")
)

// Kind classifies an error for transport and metrics.
type Kind string

const (
	KindNotFound          Kind = "not_yet_created"
	KindAlreadyApproved   Kind = "already_approved"
	KindIllegalTransition Kind = "illegal_transition"
	KindRevisionConflict  Kind = "revision_conflict"
	KindLocked            Kind = "locked"
	KindSaveInFlight      Kind = "save_in_flight"
	KindValidation        Kind = "validation_failed"
	KindExternal          Kind = "external_failure"
	KindNetwork           Kind = "network_failure"
	KindInternal          Kind = "internal"
)

// TransitionError reports an action that is not legal from the entity's
// current status.
type TransitionError struct {
	Entity   string
	ID       string
	Action   string
	Current  string
	Required []string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot %s from %q (requires %s)",
		e.Entity, e.ID, e.Action, e.Current, strings.Join(e.Required, " or "))
}

// IllegalTransition builds a TransitionError.
func IllegalTransition(entity, id, action, current string, required ...string) *TransitionError {
	return &TransitionError{Entity: entity, ID: id, Action: action, Current: current, Required: required}
}

// ValidationError reports malformed input, such as a missing recipient.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ExternalError wraps a failure from a generation or delivery collaborator.
// Transient marks network-level failures the caller may simply retry.
type ExternalError struct {
	Service   string
	Transient bool
	Err       error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalError) Unwrap() error {
	return e.Err
}

// External wraps err as an ExternalError for service. A nil err returns nil.
func External(service string, err error) error {
	if err == nil {
		return nil
	}
	var ext *ExternalError
	if errors.As(err, &ext) {
		return err
	}
	return &ExternalError{Service: service, Err: err}
}

// KindOf classifies err. Nil errors have an empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var te *TransitionError
	var ve *ValidationError
	var ee *ExternalError

	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyApproved):
		return KindAlreadyApproved
	case errors.Is(err, ErrRevisionConflict):
		return KindRevisionConflict
	case errors.Is(err, ErrLocked):
		return KindLocked
	case errors.Is(err, ErrSaveInFlight):
		return KindSaveInFlight
	case errors.As(err, &te):
		return KindIllegalTransition
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &ee):
		if ee.Transient {
			return KindNetwork
		}
		return KindExternal
	default:
		return KindInternal
	}
}

// HTTPStatus maps an error kind to a response status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyApproved, KindIllegalTransition, KindRevisionConflict, KindSaveInFlight:
		return http.StatusConflict
	case KindLocked:
		return http.StatusLocked
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindExternal:
		return http.StatusBadGateway
	case KindNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
