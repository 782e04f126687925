package scheduling

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/clinicflow/clinicflow/internal/platform/store"
)

// storedDoctor is the widest doctor shape found in stored data. Legacy
// records use "department" instead of "specialty" and may lack "enabled"
// and "status".
type storedDoctor struct {
	ID         ID         `json:"id"`
	Name       string     `json:"name"`
	Specialty  string     `json:"specialty"`
	Department string     `json:"department"`
	Room       string     `json:"room"`
	Enabled    *bool      `json:"enabled"`
	Status     string     `json:"status"`
	CreatedAt  *time.Time `json:"created_at"`
}

type storedWindow struct {
	ID         ID     `json:"id"`
	DoctorID   ID     `json:"doctorId"`
	DoctorName string `json:"doctorName"`
	Room       string `json:"room"`
	Date       string `json:"date"`
	StartTime  string `json:"startTime"`
	EndTime    string `json:"endTime"`
}

// storedAppointment also accepts the legacy combined "time" field
// ("09:00-09:30" or "09:00 - 09:30").
type storedAppointment struct {
	ID          ID         `json:"id"`
	PatientID   ID         `json:"patientId"`
	PatientName string     `json:"patientName"`
	DoctorID    ID         `json:"doctorId"`
	DoctorName  string     `json:"doctorName"`
	ScheduleID  ID         `json:"scheduleId"`
	Room        string     `json:"room"`
	Date        string     `json:"date"`
	StartTime   string     `json:"startTime"`
	EndTime     string     `json:"endTime"`
	Time        string     `json:"time"`
	Status      string     `json:"status"`
	CreatedAt   *time.Time `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at"`
}

func normalizeDoctor(raw json.RawMessage) (*Doctor, []IntegrityWarning, bool) {
	var s storedDoctor
	if w, ok := decodeRecord(store.Doctors, raw, &s); !ok {
		return nil, []IntegrityWarning{w}, false
	}
	if s.ID == "" {
		return nil, []IntegrityWarning{{Collection: store.Doctors, Problem: "record without id"}}, false
	}
	var warns []IntegrityWarning
	d := &Doctor{
		ID:        s.ID,
		Name:      strings.TrimSpace(s.Name),
		Specialty: strings.TrimSpace(s.Specialty),
		Room:      strings.TrimSpace(s.Room),
		Enabled:   true,
		CreatedAt: s.CreatedAt,
	}
	if d.Specialty == "" {
		d.Specialty = strings.TrimSpace(s.Department)
	}
	if s.Enabled != nil {
		d.Enabled = *s.Enabled
	}
	switch DoctorStatus(s.Status) {
	case DoctorPending, DoctorApproved, DoctorRejected:
		d.Status = DoctorStatus(s.Status)
	default:
		// Records older than the approval workflow were live as soon as
		// they were enabled.
		if d.Enabled {
			d.Status = DoctorApproved
		} else {
			d.Status = DoctorPending
		}
		if s.Status != "" {
			warns = append(warns, IntegrityWarning{Collection: store.Doctors, ID: d.ID, Problem: "unknown status " + s.Status})
		}
	}
	if d.Room == "" {
		warns = append(warns, IntegrityWarning{Collection: store.Doctors, ID: d.ID, Problem: "missing room"})
	}
	return d, warns, true
}

func normalizeWindow(raw json.RawMessage) (*Window, []IntegrityWarning, bool) {
	var s storedWindow
	if w, ok := decodeRecord(store.Schedules, raw, &s); !ok {
		return nil, []IntegrityWarning{w}, false
	}
	if s.ID == "" {
		return nil, []IntegrityWarning{{Collection: store.Schedules, Problem: "record without id"}}, false
	}
	var warns []IntegrityWarning
	w := &Window{
		ID:         s.ID,
		DoctorID:   s.DoctorID,
		DoctorName: strings.TrimSpace(s.DoctorName),
		Room:       strings.TrimSpace(s.Room),
	}
	w.Date, w.StartTime, w.EndTime, warns = normalizeSlot(store.Schedules, s.ID, s.Date, s.StartTime, s.EndTime)
	if w.Room == "" {
		warns = append(warns, IntegrityWarning{Collection: store.Schedules, ID: w.ID, Problem: "missing room"})
	}
	return w, warns, true
}

func normalizeAppointment(raw json.RawMessage) (*Appointment, []IntegrityWarning, bool) {
	var s storedAppointment
	if w, ok := decodeRecord(store.Appointments, raw, &s); !ok {
		return nil, []IntegrityWarning{w}, false
	}
	if s.ID == "" {
		return nil, []IntegrityWarning{{Collection: store.Appointments, Problem: "record without id"}}, false
	}
	a := &Appointment{
		ID:          s.ID,
		PatientID:   s.PatientID,
		PatientName: strings.TrimSpace(s.PatientName),
		DoctorID:    s.DoctorID,
		DoctorName:  strings.TrimSpace(s.DoctorName),
		WindowID:    s.ScheduleID,
		Room:        strings.TrimSpace(s.Room),
		Status:      Status(strings.ToLower(strings.TrimSpace(s.Status))),
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
	start, end := s.StartTime, s.EndTime
	if start == "" && end == "" && s.Time != "" {
		start, end = splitLegacyTime(s.Time)
	}
	var warns []IntegrityWarning
	a.Date, a.StartTime, a.EndTime, warns = normalizeSlot(store.Appointments, s.ID, s.Date, start, end)
	if !a.Status.Valid() {
		warns = append(warns, IntegrityWarning{Collection: store.Appointments, ID: a.ID, Problem: "unknown status " + string(a.Status)})
	}
	return a, warns, true
}

// decodeRecord unmarshals one stored record into dst. Anything other than
// a JSON object, null included, is unreadable.
func decodeRecord(collection string, raw json.RawMessage, dst interface{}) (IntegrityWarning, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return IntegrityWarning{Collection: collection, Problem: "unreadable record: not an object"}, false
	}
	if err := json.Unmarshal(trimmed, dst); err != nil {
		return IntegrityWarning{Collection: collection, Problem: "unreadable record: " + err.Error()}, false
	}
	return IntegrityWarning{}, true
}

// normalizeSlot canonicalises stored date and times. Unparsable times are
// dropped to empty so they sort earliest and never overlap; an unparsable
// date is kept verbatim so it stays visible but matches no real date.
func normalizeSlot(collection string, id ID, date, start, end string) (string, string, string, []IntegrityWarning) {
	var warns []IntegrityWarning
	d, ok := canonicalDate(date)
	if !ok {
		d = strings.TrimSpace(date)
		warns = append(warns, IntegrityWarning{Collection: collection, ID: id, Problem: "unparsable date " + date})
	}
	st, okS := canonicalTime(start)
	en, okE := canonicalTime(end)
	if !okS || !okE {
		warns = append(warns, IntegrityWarning{Collection: collection, ID: id, Problem: "missing or unparsable time range"})
		return d, "", "", warns
	}
	return d, st, en, warns
}

// splitLegacyTime splits "09:00-09:30" or "09:00 - 09:30".
func splitLegacyTime(s string) (string, string) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return strings.TrimSpace(s), ""
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}
