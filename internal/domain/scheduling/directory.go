package scheduling

import (
	"context"
	"strings"

	"github.com/clinicflow/clinicflow/internal/platform/store"
)

// Directory owns doctor identity, room assignment and the approval
// workflow. New doctors start pending and disabled; approval enables them.
type Directory struct {
	*core
}

// DoctorInput carries the administrator-editable fields of a doctor.
type DoctorInput struct {
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
	Room      string `json:"room"`
}

func (in DoctorInput) validate() (DoctorInput, error) {
	out := DoctorInput{
		Name:      strings.TrimSpace(in.Name),
		Specialty: strings.TrimSpace(in.Specialty),
		Room:      strings.TrimSpace(in.Room),
	}
	switch {
	case out.Name == "":
		return out, validationf("name", "doctor name is required")
	case out.Specialty == "":
		return out, validationf("specialty", "specialty is required")
	case out.Room == "":
		return out, validationf("room", "room is required")
	}
	return out, nil
}

// roomHolder returns the doctor other than self already assigned room.
func roomHolder(doctors []*Doctor, room string, self ID) *Doctor {
	for _, d := range doctors {
		if self != "" && d.ID == self {
			continue
		}
		if SameRoom(d.Room, room) {
			return d
		}
	}
	return nil
}

// CreateDoctor registers a doctor in an unused room.
func (d *Directory) CreateDoctor(ctx context.Context, in DoctorInput) (*Doctor, error) {
	in, err := in.validate()
	if err != nil {
		return nil, err
	}

	var created *Doctor
	err = d.mutate(ctx, []string{store.Doctors}, func() (Changeset, error) {
		doctors, err := d.repo.Doctors(ctx)
		if err != nil {
			return Changeset{}, err
		}
		if holder := roomHolder(doctors, in.Room, ""); holder != nil {
			d.obs.ConflictDetected("room_assignment")
			return Changeset{}, &ConflictError{
				Room:    in.Room,
				Message: "room " + in.Room + " is already assigned to " + holder.Name,
			}
		}
		created = &Doctor{
			ID:        NewID(),
			Name:      in.Name,
			Specialty: in.Specialty,
			Room:      in.Room,
			Enabled:   false,
			Status:    DoctorPending,
			CreatedAt: d.timestamp(),
		}
		return Changeset{Doctors: append(doctors, created)}, nil
	})
	if err != nil {
		return nil, err
	}
	d.logger.Info().Str("doctor_id", created.ID.String()).Str("room", created.Room).Msg("doctor created")
	return created, nil
}

// UpdateDoctor edits name, specialty and room. The room must not belong to
// another doctor. Windows keep the name and room they were created with.
func (d *Directory) UpdateDoctor(ctx context.Context, id ID, in DoctorInput) (*Doctor, error) {
	in, err := in.validate()
	if err != nil {
		return nil, err
	}
	var updated *Doctor
	err = d.mutate(ctx, []string{store.Doctors}, func() (Changeset, error) {
		doctors, err := d.repo.Doctors(ctx)
		if err != nil {
			return Changeset{}, err
		}
		doc := findDoctor(doctors, id)
		if doc == nil {
			return Changeset{}, &NotFoundError{Kind: "doctor", ID: id}
		}
		if holder := roomHolder(doctors, in.Room, id); holder != nil {
			d.obs.ConflictDetected("room_assignment")
			return Changeset{}, &ConflictError{
				Room:    in.Room,
				Message: "room " + in.Room + " is already assigned to " + holder.Name,
			}
		}
		doc.Name, doc.Specialty, doc.Room = in.Name, in.Specialty, in.Room
		updated = doc
		return Changeset{Doctors: doctors}, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Approve marks a doctor approved and enabled.
func (d *Directory) Approve(ctx context.Context, id ID) (*Doctor, error) {
	return d.update(ctx, id, func(doc *Doctor) {
		doc.Status = DoctorApproved
		doc.Enabled = true
	})
}

// Reject marks a doctor rejected and disabled.
func (d *Directory) Reject(ctx context.Context, id ID) (*Doctor, error) {
	return d.update(ctx, id, func(doc *Doctor) {
		doc.Status = DoctorRejected
		doc.Enabled = false
	})
}

// ToggleEnabled flips enabled and leaves status alone.
func (d *Directory) ToggleEnabled(ctx context.Context, id ID) (*Doctor, error) {
	return d.update(ctx, id, func(doc *Doctor) {
		doc.Enabled = !doc.Enabled
	})
}

func (d *Directory) update(ctx context.Context, id ID, apply func(*Doctor)) (*Doctor, error) {
	var updated *Doctor
	err := d.mutate(ctx, []string{store.Doctors}, func() (Changeset, error) {
		doctors, err := d.repo.Doctors(ctx)
		if err != nil {
			return Changeset{}, err
		}
		doc := findDoctor(doctors, id)
		if doc == nil {
			return Changeset{}, &NotFoundError{Kind: "doctor", ID: id}
		}
		apply(doc)
		updated = doc
		return Changeset{Doctors: doctors}, nil
	})
	if err != nil {
		return nil, err
	}
	d.logger.Info().Str("doctor_id", id.String()).Str("status", string(updated.Status)).
		Bool("enabled", updated.Enabled).Msg("doctor updated")
	return updated, nil
}

// Delete removes a doctor together with all of their windows in one
// commit. Appointments that reference the doctor are kept.
func (d *Directory) Delete(ctx context.Context, id ID) error {
	removed := 0
	err := d.mutate(ctx, []string{store.Doctors, store.Schedules}, func() (Changeset, error) {
		doctors, err := d.repo.Doctors(ctx)
		if err != nil {
			return Changeset{}, err
		}
		kept := make([]*Doctor, 0, len(doctors))
		for _, doc := range doctors {
			if doc.ID != id {
				kept = append(kept, doc)
			}
		}
		if len(kept) == len(doctors) {
			return Changeset{}, &NotFoundError{Kind: "doctor", ID: id}
		}

		windows, err := d.repo.Windows(ctx)
		if err != nil {
			return Changeset{}, err
		}
		var remaining []*Window
		remaining, removed = withoutDoctor(windows, id)
		return Changeset{Doctors: kept, Windows: remaining}, nil
	})
	if err != nil {
		return err
	}
	d.logger.Info().Str("doctor_id", id.String()).Int("schedules_removed", removed).Msg("doctor deleted")
	return nil
}

// IsRoomTaken reports whether any doctor is assigned room, compared
// case-insensitively.
func (d *Directory) IsRoomTaken(ctx context.Context, room string) (bool, error) {
	room = strings.TrimSpace(room)
	if room == "" {
		return false, validationf("room", "room is required")
	}
	doctors, err := d.repo.Doctors(ctx)
	if err != nil {
		return false, err
	}
	return roomHolder(doctors, room, "") != nil, nil
}

// GetDoctor returns one doctor.
func (d *Directory) GetDoctor(ctx context.Context, id ID) (*Doctor, error) {
	doctors, err := d.repo.Doctors(ctx)
	if err != nil {
		return nil, err
	}
	doc := findDoctor(doctors, id)
	if doc == nil {
		return nil, &NotFoundError{Kind: "doctor", ID: id}
	}
	return doc, nil
}

// ListDoctors returns every doctor in stored order.
func (d *Directory) ListDoctors(ctx context.Context) ([]*Doctor, error) {
	return d.repo.Doctors(ctx)
}

// SearchDoctors matches keyword against name, specialty and room,
// case-insensitively. An empty keyword returns everyone.
func (d *Directory) SearchDoctors(ctx context.Context, keyword string) ([]*Doctor, error) {
	doctors, err := d.repo.Doctors(ctx)
	if err != nil {
		return nil, err
	}
	kw := strings.ToLower(strings.TrimSpace(keyword))
	if kw == "" {
		return doctors, nil
	}
	var out []*Doctor
	for _, doc := range doctors {
		if strings.Contains(strings.ToLower(doc.Name), kw) ||
			strings.Contains(strings.ToLower(doc.Specialty), kw) ||
			strings.Contains(strings.ToLower(doc.Room), kw) {
			out = append(out, doc)
		}
	}
	return out, nil
}

// BookableDoctors is the patient view: approved, enabled doctors with their
// windows attached.
func (d *Directory) BookableDoctors(ctx context.Context) ([]BookableDoctor, error) {
	doctors, err := d.repo.Doctors(ctx)
	if err != nil {
		return nil, err
	}
	windows, err := d.repo.Windows(ctx)
	if err != nil {
		return nil, err
	}
	byDoctor := make(map[ID][]*Window)
	for _, w := range windows {
		byDoctor[w.DoctorID] = append(byDoctor[w.DoctorID], w)
	}

	var out []BookableDoctor
	for _, doc := range doctors {
		if !doc.Bookable() {
			continue
		}
		ws := byDoctor[doc.ID]
		sortWindows(ws)
		if ws == nil {
			ws = []*Window{}
		}
		out = append(out, BookableDoctor{Doctor: doc, Windows: ws})
	}
	return out, nil
}
