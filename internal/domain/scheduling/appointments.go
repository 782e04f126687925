package scheduling

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/clinicflow/clinicflow/internal/platform/store"
)

// Appointments manages bookings made against availability windows and
// their status lifecycle.
type Appointments struct {
	*core
}

// BookingRequest identifies the patient and the window being booked.
type BookingRequest struct {
	PatientID   ID     `json:"patientId"`
	PatientName string `json:"patientName"`
	WindowID    ID     `json:"scheduleId"`
}

// Book creates a pending appointment for the window. The window's doctor
// must be approved and enabled, and the window must not already hold a
// pending or confirmed appointment.
func (m *Appointments) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	req.PatientName = strings.TrimSpace(req.PatientName)
	switch {
	case req.PatientID == "":
		return nil, validationf("patientId", "patient id is required")
	case req.PatientName == "":
		return nil, validationf("patientName", "patient name is required")
	case req.WindowID == "":
		return nil, validationf("scheduleId", "schedule id is required")
	}

	var booked *Appointment
	err := m.mutate(ctx, []string{store.Doctors, store.Schedules, store.Appointments}, func() (Changeset, error) {
		windows, err := m.repo.Windows(ctx)
		if err != nil {
			return Changeset{}, err
		}
		w := findWindow(windows, req.WindowID)
		if w == nil {
			return Changeset{}, &NotFoundError{Kind: "schedule", ID: req.WindowID}
		}
		if w.StartTime == "" || w.EndTime == "" {
			return Changeset{}, validationf("scheduleId", "schedule %s has no usable time range", w.ID)
		}

		doctors, err := m.repo.Doctors(ctx)
		if err != nil {
			return Changeset{}, err
		}
		doc := findDoctor(doctors, w.DoctorID)
		if doc == nil {
			return Changeset{}, &NotFoundError{Kind: "doctor", ID: w.DoctorID}
		}
		if !doc.Bookable() {
			return Changeset{}, validationf("doctorId", "doctor %s is not accepting bookings", doc.Name)
		}

		appts, err := m.repo.Appointments(ctx)
		if err != nil {
			return Changeset{}, err
		}
		for _, a := range appts {
			if a.WindowID == w.ID && a.Status.Active() {
				m.obs.ConflictDetected("window_booked")
				return Changeset{}, &ConflictError{
					Room: w.Room, Date: w.Date, StartTime: w.StartTime, EndTime: w.EndTime,
					Window: w, Appointment: a,
					Message: "schedule " + w.ID.String() + " already has an active appointment",
				}
			}
		}

		ts := m.timestamp()
		booked = &Appointment{
			ID:          NewID(),
			PatientID:   req.PatientID,
			PatientName: req.PatientName,
			DoctorID:    doc.ID,
			DoctorName:  w.DoctorName,
			WindowID:    w.ID,
			Room:        w.Room,
			Date:        w.Date,
			StartTime:   w.StartTime,
			EndTime:     w.EndTime,
			Status:      StatusPending,
			CreatedAt:   ts,
			UpdatedAt:   ts,
		}
		if booked.DoctorName == "" {
			booked.DoctorName = doc.Name
		}
		return Changeset{Appointments: append(appts, booked)}, nil
	})
	if err != nil {
		return nil, err
	}
	m.obs.AppointmentBooked()
	m.logger.Info().Str("appointment_id", booked.ID.String()).Str("schedule_id", booked.WindowID.String()).
		Msg("appointment booked")
	return booked, nil
}

// Transition moves an appointment to target along the state graph.
func (m *Appointments) Transition(ctx context.Context, id ID, target Status) (*Appointment, error) {
	if !target.Valid() {
		return nil, validationf("status", "unknown status %q", target)
	}
	return m.transition(ctx, id, target, nil)
}

// Cancel withdraws a pending appointment on behalf of the patient who
// booked it.
func (m *Appointments) Cancel(ctx context.Context, id, patientID ID) (*Appointment, error) {
	if patientID == "" {
		return nil, validationf("patientId", "patient id is required")
	}
	return m.transition(ctx, id, StatusCancelled, func(a *Appointment) error {
		if a.PatientID != patientID {
			return ErrWrongPatient
		}
		return nil
	})
}

func (m *Appointments) transition(ctx context.Context, id ID, target Status, check func(*Appointment) error) (*Appointment, error) {
	var (
		updated *Appointment
		from    Status
	)
	err := m.mutate(ctx, []string{store.Appointments}, func() (Changeset, error) {
		appts, err := m.repo.Appointments(ctx)
		if err != nil {
			return Changeset{}, err
		}
		a := findAppointment(appts, id)
		if a == nil {
			return Changeset{}, &NotFoundError{Kind: "appointment", ID: id}
		}
		if check != nil {
			if err := check(a); err != nil {
				return Changeset{}, err
			}
		}
		if !CanTransition(a.Status, target) {
			return Changeset{}, &IllegalTransitionError{ID: id, From: a.Status, To: target}
		}
		from = a.Status
		a.Status = target
		a.UpdatedAt = m.timestamp()
		updated = a
		return Changeset{Appointments: appts}, nil
	})
	if err != nil {
		return nil, err
	}
	m.obs.AppointmentTransitioned(from, target)
	m.logger.Info().Str("appointment_id", id.String()).Str("from", string(from)).
		Str("to", string(target)).Msg("appointment status changed")
	return updated, nil
}

// Get returns one appointment.
func (m *Appointments) Get(ctx context.Context, id ID) (*Appointment, error) {
	appts, err := m.repo.Appointments(ctx)
	if err != nil {
		return nil, err
	}
	a := findAppointment(appts, id)
	if a == nil {
		return nil, &NotFoundError{Kind: "appointment", ID: id}
	}
	return a, nil
}

// ListAll returns every appointment, most recent first.
func (m *Appointments) ListAll(ctx context.Context) ([]*Appointment, error) {
	return m.list(ctx, func(*Appointment) bool { return true })
}

// ListForDoctor returns the doctor's appointments, most recent first.
func (m *Appointments) ListForDoctor(ctx context.Context, doctorID ID) ([]*Appointment, error) {
	return m.list(ctx, func(a *Appointment) bool { return a.DoctorID == doctorID })
}

// ListForPatient returns the patient's appointments, most recent first.
func (m *Appointments) ListForPatient(ctx context.Context, patientID ID) ([]*Appointment, error) {
	return m.list(ctx, func(a *Appointment) bool { return a.PatientID == patientID })
}

// ListByDateRange returns appointments dated within [from, to], inclusive.
func (m *Appointments) ListByDateRange(ctx context.Context, from, to string) ([]*Appointment, error) {
	f, ok := canonicalDate(from)
	if !ok {
		return nil, validationf("from", "from must be YYYY-MM-DD, got %q", from)
	}
	t, ok := canonicalDate(to)
	if !ok {
		return nil, validationf("to", "to must be YYYY-MM-DD, got %q", to)
	}
	if t < f {
		return nil, validationf("to", "to %s is before from %s", t, f)
	}
	return m.list(ctx, func(a *Appointment) bool {
		_, ok := canonicalDate(a.Date)
		return ok && a.Date >= f && a.Date <= t
	})
}

func (m *Appointments) list(ctx context.Context, keep func(*Appointment) bool) ([]*Appointment, error) {
	appts, err := m.repo.Appointments(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Appointment, 0, len(appts))
	for _, a := range appts {
		if keep(a) {
			out = append(out, a)
		}
	}
	return SortedByRecency(out), nil
}

// StatsForDate counts the appointments on date alongside the overall
// pending and total counts. An empty date means today.
func (m *Appointments) StatsForDate(ctx context.Context, date string) (Stats, error) {
	return m.stats(ctx, date, func(*Appointment) bool { return true })
}

// StatsForDoctor is StatsForDate restricted to one doctor's appointments,
// the figures shown on that doctor's dashboard.
func (m *Appointments) StatsForDoctor(ctx context.Context, doctorID ID, date string) (Stats, error) {
	return m.stats(ctx, date, func(a *Appointment) bool { return a.DoctorID == doctorID })
}

func (m *Appointments) stats(ctx context.Context, date string, keep func(*Appointment) bool) (Stats, error) {
	if date == "" {
		date = m.now().Format(dateLayout)
	}
	d, ok := canonicalDate(date)
	if !ok {
		return Stats{}, validationf("date", "date must be YYYY-MM-DD, got %q", date)
	}
	appts, err := m.repo.Appointments(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Date: d}
	for _, a := range appts {
		if !keep(a) {
			continue
		}
		st.Total++
		if a.Date == d {
			st.TotalThatDay++
		}
		if a.Status == StatusPending {
			st.Pending++
		}
	}
	return st, nil
}

// SortedByRecency returns a copy of list ordered by date and start time,
// latest first, with higher ids first among equal instants. Appointments
// without a parsable instant come after all that have one.
func SortedByRecency(list []*Appointment) []*Appointment {
	type keyed struct {
		a  *Appointment
		at time.Time
		ok bool
	}
	ks := make([]keyed, len(list))
	for i, a := range list {
		at, err := time.Parse(dateLayout+" "+timeLayout, a.Date+" "+a.StartTime)
		ks[i] = keyed{a: a, at: at, ok: err == nil}
	}
	sort.SliceStable(ks, func(i, j int) bool {
		x, y := ks[i], ks[j]
		if x.ok != y.ok {
			return x.ok
		}
		if x.ok && !x.at.Equal(y.at) {
			return x.at.After(y.at)
		}
		return CompareIDs(x.a.ID, y.a.ID) > 0
	})
	out := make([]*Appointment, len(ks))
	for i, k := range ks {
		out[i] = k.a
	}
	return out
}
