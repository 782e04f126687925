package scheduling

import (
	"errors"
	"testing"
)

func TestOverlaps(t *testing.T) {
	tests := []struct {
		name                   string
		startA, endA, sB, endB string
		want                   bool
	}{
		{"identical", "09:00", "10:00", "09:00", "10:00", true},
		{"partial", "09:00", "10:00", "09:30", "10:30", true},
		{"contained", "09:00", "12:00", "10:00", "11:00", true},
		{"touching", "10:00", "10:30", "10:30", "11:00", false},
		{"disjoint", "08:00", "09:00", "13:00", "14:00", false},
		{"missing bound", "", "10:00", "09:00", "10:00", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Overlaps(tt.startA, tt.endA, tt.sB, tt.endB); got != tt.want {
				t.Errorf("Overlaps = %v, want %v", got, tt.want)
			}
			if got := Overlaps(tt.sB, tt.endB, tt.startA, tt.endA); got != tt.want {
				t.Errorf("Overlaps is not symmetric: swapped = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRoomConflict(t *testing.T) {
	windows := []*Window{
		{ID: "1", Room: "Room 302", Date: "2025-02-01", StartTime: "09:00", EndTime: "09:30"},
		{ID: "2", Room: "", Date: "2025-02-01", StartTime: "09:00", EndTime: "12:00"},
		{ID: "3", Room: "Room 210", Date: "2025-02-01", StartTime: "10:00", EndTime: "11:00"},
		nil,
	}

	tests := []struct {
		name       string
		room, date string
		start, end string
		exclude    ID
		wantID     ID
	}{
		{"same room overlapping", "Room 302", "2025-02-01", "09:15", "09:45", "", "1"},
		{"case-insensitive room", "room 302", "2025-02-01", "09:15", "09:45", "", "1"},
		{"touching", "Room 302", "2025-02-01", "09:30", "10:00", "", ""},
		{"other date", "Room 302", "2025-02-02", "09:00", "09:30", "", ""},
		{"other room", "Room 101", "2025-02-01", "09:00", "09:30", "", ""},
		{"excluded self", "Room 302", "2025-02-01", "09:00", "09:20", "1", ""},
		{"roomless window never conflicts", "", "2025-02-01", "11:00", "11:30", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hit, ok := RoomConflict(windows, tt.room, tt.date, tt.start, tt.end, tt.exclude)
			if tt.wantID == "" {
				if ok {
					t.Fatalf("unexpected conflict with %+v", hit)
				}
				return
			}
			if !ok || hit.ID != tt.wantID {
				t.Fatalf("expected conflict with %s, got %+v (%v)", tt.wantID, hit, ok)
			}
		})
	}
}

func TestValidateSlot(t *testing.T) {
	slot, err := validateSlot("2025-02-01", "9:05", "10:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slot.Start != "09:05" || slot.Date != "2025-02-01" {
		t.Errorf("expected canonical slot, got %+v", slot)
	}

	bad := []struct{ date, start, end, field string }{
		{"02/01/2025", "09:00", "10:00", "date"},
		{"2025-02-01", "nine", "10:00", "startTime"},
		{"2025-02-01", "09:00", "25:00", "endTime"},
		{"2025-02-01", "10:00", "10:00", "endTime"},
		{"2025-02-01", "11:00", "10:00", "endTime"},
	}
	for _, b := range bad {
		_, err := validateSlot(b.date, b.start, b.end)
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != b.field {
			t.Errorf("validateSlot(%q, %q, %q) = %v, want validation error on %s", b.date, b.start, b.end, err, b.field)
		}
		if !errors.Is(err, ErrValidation) {
			t.Errorf("expected errors.Is(err, ErrValidation) for %v", err)
		}
	}
}
