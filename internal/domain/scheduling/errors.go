package scheduling

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is matching of the typed errors below.
var (
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")
	ErrNotFound          = errors.New("not found")
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrWrongPatient is returned when a patient acts on someone else's
	// appointment.
	ErrWrongPatient = errors.New("patient is not authorized to access this appointment")
)

// ValidationError reports invalid new input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func validationf(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports that a room, window or doctor is already taken.
// Window or Appointment names the record that holds it, when there is one.
type ConflictError struct {
	Room        string
	Date        string
	StartTime   string
	EndTime     string
	Window      *Window
	Appointment *Appointment
	Message     string
}

func (e *ConflictError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Window != nil {
		return fmt.Sprintf("room %s is already booked on %s from %s to %s by %s",
			e.Window.Room, e.Window.Date, e.Window.StartTime, e.Window.EndTime, e.Window.DoctorName)
	}
	return fmt.Sprintf("room %s conflicts on %s %s-%s", e.Room, e.Date, e.StartTime, e.EndTime)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// NotFoundError reports a reference to a missing record.
type NotFoundError struct {
	Kind string
	ID   ID
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Kind, e.ID) }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// IllegalTransitionError reports a status change outside the state graph.
type IllegalTransitionError struct {
	ID   ID
	From Status
	To   Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("appointment %s cannot move from %s to %s", e.ID, e.From, e.To)
}

func (e *IllegalTransitionError) Is(target error) bool { return target == ErrIllegalTransition }

// IntegrityWarning describes a stored record that could not be read in
// full. The record stays visible but is left out of conflict checks.
type IntegrityWarning struct {
	Collection string
	ID         ID
	Problem    string
}

func (w IntegrityWarning) String() string {
	return fmt.Sprintf("%s %s: %s", w.Collection, w.ID, w.Problem)
}
