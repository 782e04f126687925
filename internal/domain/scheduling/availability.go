package scheduling

import (
	"context"
	"sort"

	"github.com/clinicflow/clinicflow/internal/platform/store"
)

// Registry owns doctors' availability windows and enforces that no two
// windows occupy the same room at overlapping times on the same date.
type Registry struct {
	*core
}

// WindowFilter narrows ListWindows. Zero fields match everything.
type WindowFilter struct {
	DoctorID ID
	Date     string
	Room     string
}

// CreateWindow publishes a new window for doctorID in the doctor's room.
func (r *Registry) CreateWindow(ctx context.Context, doctorID ID, date, start, end string) (*Window, error) {
	slot, err := validateSlot(date, start, end)
	if err != nil {
		return nil, err
	}
	if doctorID == "" {
		return nil, validationf("doctorId", "doctor id is required")
	}

	var created *Window
	err = r.mutate(ctx, []string{store.Doctors, store.Schedules}, func() (Changeset, error) {
		doctors, err := r.repo.Doctors(ctx)
		if err != nil {
			return Changeset{}, err
		}
		doc := findDoctor(doctors, doctorID)
		if doc == nil {
			return Changeset{}, &NotFoundError{Kind: "doctor", ID: doctorID}
		}
		if doc.Room == "" {
			return Changeset{}, validationf("room", "doctor %s has no room assigned", doc.Name)
		}

		windows, err := r.repo.Windows(ctx)
		if err != nil {
			return Changeset{}, err
		}
		if hit, ok := RoomConflict(windows, doc.Room, slot.Date, slot.Start, slot.End, ""); ok {
			r.obs.ConflictDetected("room")
			return Changeset{}, &ConflictError{Room: doc.Room, Date: slot.Date, StartTime: slot.Start, EndTime: slot.End, Window: hit}
		}

		created = &Window{
			ID:         NewID(),
			DoctorID:   doc.ID,
			DoctorName: doc.Name,
			Room:       doc.Room,
			Date:       slot.Date,
			StartTime:  slot.Start,
			EndTime:    slot.End,
		}
		return Changeset{Windows: append(windows, created)}, nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info().Str("window_id", created.ID.String()).Str("room", created.Room).
		Str("date", created.Date).Msg("availability window created")
	return created, nil
}

// UpdateWindow moves a window to a new date and time range. The window's
// own previous occupancy never counts as a conflict.
func (r *Registry) UpdateWindow(ctx context.Context, id ID, date, start, end string) (*Window, error) {
	slot, err := validateSlot(date, start, end)
	if err != nil {
		return nil, err
	}

	var updated *Window
	err = r.mutate(ctx, []string{store.Doctors, store.Schedules}, func() (Changeset, error) {
		windows, err := r.repo.Windows(ctx)
		if err != nil {
			return Changeset{}, err
		}
		w := findWindow(windows, id)
		if w == nil {
			return Changeset{}, &NotFoundError{Kind: "schedule", ID: id}
		}

		room := w.Room
		if room == "" {
			// Legacy windows without a room take the owner's current one.
			doctors, err := r.repo.Doctors(ctx)
			if err != nil {
				return Changeset{}, err
			}
			if doc := findDoctor(doctors, w.DoctorID); doc != nil {
				room = doc.Room
			}
		}
		if room == "" {
			return Changeset{}, validationf("room", "schedule %s has no room and its doctor has none assigned", id)
		}

		if hit, ok := RoomConflict(windows, room, slot.Date, slot.Start, slot.End, w.ID); ok {
			r.obs.ConflictDetected("room")
			return Changeset{}, &ConflictError{Room: room, Date: slot.Date, StartTime: slot.Start, EndTime: slot.End, Window: hit}
		}

		w.Room = room
		w.Date, w.StartTime, w.EndTime = slot.Date, slot.Start, slot.End
		updated = w
		return Changeset{Windows: windows}, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteWindow removes one window.
func (r *Registry) DeleteWindow(ctx context.Context, id ID) error {
	return r.mutate(ctx, []string{store.Schedules}, func() (Changeset, error) {
		windows, err := r.repo.Windows(ctx)
		if err != nil {
			return Changeset{}, err
		}
		kept := make([]*Window, 0, len(windows))
		found := false
		for _, w := range windows {
			if w.ID == id {
				found = true
				continue
			}
			kept = append(kept, w)
		}
		if !found {
			return Changeset{}, &NotFoundError{Kind: "schedule", ID: id}
		}
		return Changeset{Windows: kept}, nil
	})
}

// DeleteAllForDoctor removes every window owned by doctorID and returns how
// many were removed.
func (r *Registry) DeleteAllForDoctor(ctx context.Context, doctorID ID) (int, error) {
	removed := 0
	err := r.mutate(ctx, []string{store.Schedules}, func() (Changeset, error) {
		windows, err := r.repo.Windows(ctx)
		if err != nil {
			return Changeset{}, err
		}
		var kept []*Window
		kept, removed = withoutDoctor(windows, doctorID)
		if removed == 0 {
			return Changeset{}, nil
		}
		return Changeset{Windows: kept}, nil
	})
	return removed, err
}

func withoutDoctor(windows []*Window, doctorID ID) ([]*Window, int) {
	kept := make([]*Window, 0, len(windows))
	for _, w := range windows {
		if w.DoctorID == doctorID {
			continue
		}
		kept = append(kept, w)
	}
	return kept, len(windows) - len(kept)
}

// RoomConflict reports whether a window in room on date during
// [start, end) would collide with an existing one other than exclude.
// It returns the colliding window when there is one.
func (r *Registry) RoomConflict(ctx context.Context, room, date, start, end string, exclude ID) (*Window, bool, error) {
	if room == "" {
		return nil, false, validationf("room", "room is required")
	}
	slot, err := validateSlot(date, start, end)
	if err != nil {
		return nil, false, err
	}
	windows, err := r.repo.Windows(ctx)
	if err != nil {
		return nil, false, err
	}
	hit, ok := RoomConflict(windows, room, slot.Date, slot.Start, slot.End, exclude)
	return hit, ok, nil
}

// GetWindow returns one window.
func (r *Registry) GetWindow(ctx context.Context, id ID) (*Window, error) {
	windows, err := r.repo.Windows(ctx)
	if err != nil {
		return nil, err
	}
	w := findWindow(windows, id)
	if w == nil {
		return nil, &NotFoundError{Kind: "schedule", ID: id}
	}
	return w, nil
}

// ListWindows returns matching windows ordered by date, start time and room.
func (r *Registry) ListWindows(ctx context.Context, f WindowFilter) ([]*Window, error) {
	windows, err := r.repo.Windows(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Window, 0, len(windows))
	for _, w := range windows {
		if f.DoctorID != "" && w.DoctorID != f.DoctorID {
			continue
		}
		if f.Date != "" && w.Date != f.Date {
			continue
		}
		if f.Room != "" && !SameRoom(w.Room, f.Room) {
			continue
		}
		out = append(out, w)
	}
	sortWindows(out)
	return out, nil
}

func sortWindows(ws []*Window) {
	sort.SliceStable(ws, func(i, j int) bool {
		if ws[i].Date != ws[j].Date {
			return ws[i].Date < ws[j].Date
		}
		if ws[i].StartTime != ws[j].StartTime {
			return ws[i].StartTime < ws[j].StartTime
		}
		return CompareIDs(ws[i].ID, ws[j].ID) < 0
	})
}
