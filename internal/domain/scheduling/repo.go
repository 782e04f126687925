package scheduling

import (
	"context"
)

// Repository gives the scheduling core whole-collection access to doctors,
// windows and appointments. Implementations normalise legacy record shapes
// on read, so callers only ever see canonical values.
type Repository interface {
	Doctors(ctx context.Context) ([]*Doctor, error)
	Windows(ctx context.Context) ([]*Window, error)
	Appointments(ctx context.Context) ([]*Appointment, error)

	// Commit atomically replaces every non-nil collection of the changeset.
	Commit(ctx context.Context, cs Changeset) error

	// Lock serialises writers of the given collections until release is
	// called.
	Lock(ctx context.Context, collections ...string) (release func(), err error)
}

// Changeset carries the full new contents of the collections a mutation
// touched. A nil slice leaves that collection unchanged; use an empty
// non-nil slice to clear it.
type Changeset struct {
	Doctors      []*Doctor
	Windows      []*Window
	Appointments []*Appointment
}

// Observer receives domain events. It is used for metrics and may be nil.
type Observer interface {
	ConflictDetected(kind string)
	AppointmentBooked()
	AppointmentTransitioned(from, to Status)
}

type nopObserver struct{}

func (nopObserver) ConflictDetected(string)                 {}
func (nopObserver) AppointmentBooked()                      {}
func (nopObserver) AppointmentTransitioned(Status, Status) {}
