package scheduling

import (
	"context"
	"errors"
	"testing"
)

func TestDirectory_CreateDoctor(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	d, err := svc.Directory.CreateDoctor(ctx, DoctorInput{Name: " Dr. Smith ", Specialty: "Cardiology", Room: "Room 302"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Name != "Dr. Smith" || d.Status != DoctorPending || d.Enabled {
		t.Errorf("expected a trimmed, pending, disabled doctor, got %+v", d)
	}
	if d.CreatedAt == nil || !d.CreatedAt.Equal(testNow) {
		t.Errorf("expected created_at from the clock, got %v", d.CreatedAt)
	}

	_, err = svc.Directory.CreateDoctor(ctx, DoctorInput{Name: "Dr. Jones", Specialty: "GP", Room: "room 302"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected room conflict, got %v", err)
	}

	for _, in := range []DoctorInput{
		{Specialty: "GP", Room: "R1"},
		{Name: "Dr. A", Room: "R1"},
		{Name: "Dr. A", Specialty: "GP", Room: "  "},
	} {
		if _, err := svc.Directory.CreateDoctor(ctx, in); !errors.Is(err, ErrValidation) {
			t.Errorf("expected validation error for %+v, got %v", in, err)
		}
	}
}

func TestDirectory_ApprovalWorkflow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	d, _ := svc.Directory.CreateDoctor(ctx, DoctorInput{Name: "Dr. Smith", Specialty: "Cardiology", Room: "Room 302"})

	d, err := svc.Directory.Approve(ctx, d.ID)
	if err != nil || d.Status != DoctorApproved || !d.Enabled {
		t.Fatalf("approve: %+v %v", d, err)
	}
	d, err = svc.Directory.ToggleEnabled(ctx, d.ID)
	if err != nil || d.Status != DoctorApproved || d.Enabled {
		t.Fatalf("toggle should only flip enabled: %+v %v", d, err)
	}
	d, err = svc.Directory.Reject(ctx, d.ID)
	if err != nil || d.Status != DoctorRejected || d.Enabled {
		t.Fatalf("reject: %+v %v", d, err)
	}

	if _, err := svc.Directory.Approve(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestDirectory_UpdateDoctor(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	smith := mustDoctor(t, svc, "Dr. Smith", "Cardiology", "Room 302")
	mustDoctor(t, svc, "Dr. Brown", "Dermatology", "Room 210")

	d, err := svc.Directory.UpdateDoctor(ctx, smith.ID, DoctorInput{Name: "Dr. J. Smith", Specialty: "Cardiology", Room: "ROOM 302"})
	if err != nil {
		t.Fatalf("keeping the own room must be allowed: %v", err)
	}
	if d.Name != "Dr. J. Smith" || d.Room != "ROOM 302" {
		t.Errorf("unexpected doctor %+v", d)
	}

	if _, err := svc.Directory.UpdateDoctor(ctx, smith.ID, DoctorInput{Name: "Dr. Smith", Specialty: "Cardiology", Room: "room 210"}); !errors.Is(err, ErrConflict) {
		t.Errorf("expected conflict on another doctor's room, got %v", err)
	}
}

func TestDirectory_DeleteCascadesOnlyOwnWindows(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	smith := mustDoctor(t, svc, "Dr. Smith", "Cardiology", "Room 302")
	brown := mustDoctor(t, svc, "Dr. Brown", "Dermatology", "Room 210")
	mustWindow(t, svc, smith.ID, "2025-03-10", "09:00", "10:00")
	mustWindow(t, svc, smith.ID, "2025-03-11", "09:00", "10:00")
	kept := mustWindow(t, svc, brown.ID, "2025-03-10", "09:00", "10:00")

	if err := svc.Directory.Delete(ctx, smith.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	windows, _ := svc.Registry.ListWindows(ctx, WindowFilter{})
	if len(windows) != 1 || windows[0].ID != kept.ID {
		t.Errorf("expected only Dr. Brown's window to remain, got %v", windows)
	}
	if _, err := svc.Directory.GetDoctor(ctx, smith.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected deleted doctor to be gone, got %v", err)
	}
	if err := svc.Directory.Delete(ctx, smith.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found on second delete, got %v", err)
	}
}

func TestDirectory_IsRoomTaken(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	mustDoctor(t, svc, "Dr. Smith", "Cardiology", "Room 302")

	tests := []struct {
		room string
		want bool
	}{
		{"Room 302", true},
		{"room 302", true},
		{"Room 30", false},
		{"Room 3021", false},
	}
	for _, tt := range tests {
		got, err := svc.Directory.IsRoomTaken(ctx, tt.room)
		if err != nil || got != tt.want {
			t.Errorf("IsRoomTaken(%q) = %v, %v; want %v", tt.room, got, err, tt.want)
		}
	}
	if _, err := svc.Directory.IsRoomTaken(ctx, ""); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for empty room, got %v", err)
	}
}

func TestDirectory_SearchAndBookable(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	smith := mustDoctor(t, svc, "Dr. Smith", "Cardiology", "Room 302")
	brown := mustDoctor(t, svc, "Dr. Brown", "Dermatology", "Room 210")
	if _, err := svc.Directory.CreateDoctor(ctx, DoctorInput{Name: "Dr. Pending", Specialty: "Cardiology", Room: "Room 5"}); err != nil {
		t.Fatal(err)
	}
	mustWindow(t, svc, smith.ID, "2025-03-11", "09:00", "10:00")
	mustWindow(t, svc, smith.ID, "2025-03-10", "09:00", "10:00")
	if _, err := svc.Directory.ToggleEnabled(ctx, brown.ID); err != nil {
		t.Fatal(err)
	}

	found, _ := svc.Directory.SearchDoctors(ctx, "cardio")
	if len(found) != 2 {
		t.Errorf("expected 2 cardiology matches, got %d", len(found))
	}
	found, _ = svc.Directory.SearchDoctors(ctx, "210")
	if len(found) != 1 || found[0].ID != brown.ID {
		t.Errorf("expected room search to find Dr. Brown, got %v", found)
	}

	bookable, err := svc.Directory.BookableDoctors(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(bookable) != 1 || bookable[0].ID != smith.ID {
		t.Fatalf("expected only Dr. Smith to be bookable, got %v", bookable)
	}
	if ws := bookable[0].Windows; len(ws) != 2 || ws[0].Date != "2025-03-10" {
		t.Errorf("expected windows in date order, got %v", ws)
	}
}
