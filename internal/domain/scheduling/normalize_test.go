package scheduling

import (
	"testing"
)

func TestNormalizeDoctor_Legacy(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantStatus DoctorStatus
		wantOn     bool
		wantSpec   string
	}{
		{"no status, no enabled", `{"id":1,"name":"Dr. Old","department":"ENT","room":"R1"}`, DoctorApproved, true, "ENT"},
		{"disabled without status", `{"id":2,"name":"Dr. Off","specialty":"GP","room":"R2","enabled":false}`, DoctorPending, false, "GP"},
		{"explicit status", `{"id":"x","name":"Dr. New","specialty":"GP","room":"R3","enabled":false,"status":"rejected"}`, DoctorRejected, false, "GP"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _, ok := normalizeDoctor([]byte(tt.raw))
			if !ok {
				t.Fatal("expected record to be readable")
			}
			if d.Status != tt.wantStatus || d.Enabled != tt.wantOn || d.Specialty != tt.wantSpec {
				t.Errorf("unexpected doctor %+v", d)
			}
		})
	}
}

func TestNormalizeDoctor_MissingRoomWarns(t *testing.T) {
	d, warns, ok := normalizeDoctor([]byte(`{"id":3,"name":"Dr. Nowhere","specialty":"GP"}`))
	if !ok || d.Room != "" {
		t.Fatalf("unexpected result %+v %v", d, ok)
	}
	if len(warns) != 1 || warns[0].Problem != "missing room" {
		t.Errorf("expected a missing room warning, got %v", warns)
	}
}

func TestNormalizeAppointment_LegacyTime(t *testing.T) {
	for _, raw := range []string{
		`{"id":10,"patientId":1,"doctorId":2,"date":"2025-01-10","time":"9:00-09:30","status":"pending"}`,
		`{"id":10,"patientId":1,"doctorId":2,"date":"2025-01-10","time":"09:00 - 09:30","status":"Pending"}`,
	} {
		a, warns, ok := normalizeAppointment([]byte(raw))
		if !ok {
			t.Fatalf("unreadable: %s", raw)
		}
		if a.StartTime != "09:00" || a.EndTime != "09:30" {
			t.Errorf("expected 09:00-09:30 from %s, got %s-%s", raw, a.StartTime, a.EndTime)
		}
		if a.Status != StatusPending || a.PatientID != "1" {
			t.Errorf("unexpected appointment %+v", a)
		}
		if len(warns) != 0 {
			t.Errorf("unexpected warnings %v", warns)
		}
	}
}

func TestNormalizeAppointment_UnparsableTime(t *testing.T) {
	a, warns, ok := normalizeAppointment([]byte(`{"id":11,"date":"2025-01-10","time":"morning","status":"pending"}`))
	if !ok {
		t.Fatal("expected record to be readable")
	}
	if a.StartTime != "" || a.EndTime != "" {
		t.Errorf("expected unparsable times to be dropped, got %q-%q", a.StartTime, a.EndTime)
	}
	if len(warns) == 0 {
		t.Error("expected an integrity warning")
	}
}

func TestNormalizeWindow(t *testing.T) {
	w, warns, ok := normalizeWindow([]byte(`{"id":5,"doctorId":1,"date":"2025-01-10","startTime":"9:00","endTime":"9:30"}`))
	if !ok {
		t.Fatal("expected record to be readable")
	}
	if w.StartTime != "09:00" || w.EndTime != "09:30" || w.Room != "" {
		t.Errorf("unexpected window %+v", w)
	}
	if len(warns) != 1 {
		t.Errorf("expected one missing-room warning, got %v", warns)
	}

	if _, warns, ok := normalizeWindow([]byte(`[1,2]`)); ok || len(warns) != 1 {
		t.Errorf("expected a non-object record to be unreadable, ok=%v warns=%v", ok, warns)
	}
}

func TestNormalize_NullAndIDlessRecordsAreUnreadable(t *testing.T) {
	for _, raw := range []string{`null`, ` null `, `"x"`, `42`, `{}`, `{"name":"Dr. Ghost","room":"R9"}`} {
		if d, warns, ok := normalizeDoctor([]byte(raw)); ok || d != nil || len(warns) != 1 {
			t.Errorf("doctor %s: expected unreadable with one warning, got %+v ok=%v warns=%v", raw, d, ok, warns)
		}
		if w, _, ok := normalizeWindow([]byte(raw)); ok || w != nil {
			t.Errorf("window %s: expected unreadable, got %+v", raw, w)
		}
		if a, _, ok := normalizeAppointment([]byte(raw)); ok || a != nil {
			t.Errorf("appointment %s: expected unreadable, got %+v", raw, a)
		}
	}
}
