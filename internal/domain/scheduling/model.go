package scheduling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ID is an opaque record identifier. Records written by this service carry
// UUIDv7 strings; legacy records carry millisecond timestamps, which are
// accepted as JSON numbers or strings and kept in decimal form.
type ID string

// NewID allocates a time-ordered identifier.
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		return ID(uuid.NewString())
	}
	return ID(id.String())
}

func (id ID) String() string { return string(id) }

// UnmarshalJSON accepts both string and numeric ids.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*id = ID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = ID(n.String())
	return nil
}

func (id ID) numeric() (int64, bool) {
	if id == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(string(id), 10, 64)
	return n, err == nil
}

// CompareIDs orders two ids: numeric ids compare numerically and sort
// before non-numeric ones; everything else compares lexically, which for
// UUIDv7 follows creation order.
func CompareIDs(a, b ID) int {
	an, aNum := a.numeric()
	bn, bNum := b.numeric()
	switch {
	case aNum && bNum:
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
		return 0
	case aNum:
		return -1
	case bNum:
		return 1
	}
	return strings.Compare(string(a), string(b))
}

// DoctorStatus is the approval state of a doctor.
type DoctorStatus string

const (
	DoctorPending  DoctorStatus = "pending"
	DoctorApproved DoctorStatus = "approved"
	DoctorRejected DoctorStatus = "rejected"
)

// Doctor is a directory entry.
type Doctor struct {
	ID        ID           `json:"id"`
	Name      string       `json:"name"`
	Specialty string       `json:"specialty"`
	Room      string       `json:"room"`
	Enabled   bool         `json:"enabled"`
	Status    DoctorStatus `json:"status"`
	CreatedAt *time.Time   `json:"created_at,omitempty"`
}

// Bookable reports whether patients may see and book this doctor.
func (d *Doctor) Bookable() bool {
	return d.Enabled && d.Status == DoctorApproved
}

// Window is an availability window ("schedule") a doctor offers in their
// room. DoctorName and Room are copied from the doctor when the window is
// created and are not refreshed afterwards.
type Window struct {
	ID         ID     `json:"id"`
	DoctorID   ID     `json:"doctorId"`
	DoctorName string `json:"doctorName"`
	Room       string `json:"room,omitempty"`
	Date       string `json:"date"`
	StartTime  string `json:"startTime"`
	EndTime    string `json:"endTime"`
}

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// transitions is the appointment state graph. States absent as keys are
// terminal.
var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusRejected, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusRejected},
}

// CanTransition reports whether from → to is an edge of the state graph.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	_, ok := transitions[s]
	return !ok
}

// Active reports whether the appointment still holds its window.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusRejected, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Appointment is a patient's booking. WindowID is empty for legacy records
// that were created without a linked window.
type Appointment struct {
	ID          ID         `json:"id"`
	PatientID   ID         `json:"patientId"`
	PatientName string     `json:"patientName"`
	DoctorID    ID         `json:"doctorId"`
	DoctorName  string     `json:"doctorName"`
	WindowID    ID         `json:"scheduleId,omitempty"`
	Room        string     `json:"room,omitempty"`
	Date        string     `json:"date"`
	StartTime   string     `json:"startTime"`
	EndTime     string     `json:"endTime"`
	Status      Status     `json:"status"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// Stats is the per-day dashboard summary.
type Stats struct {
	Date         string `json:"date"`
	TotalThatDay int    `json:"total_that_day"`
	Pending      int    `json:"pending"`
	Total        int    `json:"total"`
}

// BookableDoctor is the patient-facing view of a doctor with the windows
// that can be booked.
type BookableDoctor struct {
	*Doctor
	Windows []*Window `json:"schedules"`
}
