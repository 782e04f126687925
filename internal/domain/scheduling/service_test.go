package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicflow/clinicflow/internal/platform/store"
)

var testNow = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	svc := NewService(NewStoreRepository(mem, zerolog.Nop()), zerolog.Nop())
	svc.SetClock(func() time.Time { return testNow })
	return svc, mem
}

// mustDoctor creates and approves a doctor.
func mustDoctor(t *testing.T, svc *Service, name, specialty, room string) *Doctor {
	t.Helper()
	ctx := context.Background()
	d, err := svc.Directory.CreateDoctor(ctx, DoctorInput{Name: name, Specialty: specialty, Room: room})
	if err != nil {
		t.Fatalf("create doctor %s: %v", name, err)
	}
	d, err = svc.Directory.Approve(ctx, d.ID)
	if err != nil {
		t.Fatalf("approve doctor %s: %v", name, err)
	}
	return d
}

func mustWindow(t *testing.T, svc *Service, doctorID ID, date, start, end string) *Window {
	t.Helper()
	w, err := svc.Registry.CreateWindow(context.Background(), doctorID, date, start, end)
	if err != nil {
		t.Fatalf("create window %s %s-%s: %v", date, start, end, err)
	}
	return w
}

func mustBook(t *testing.T, svc *Service, patientID ID, windowID ID) *Appointment {
	t.Helper()
	a, err := svc.Appointments.Book(context.Background(), BookingRequest{
		PatientID: patientID, PatientName: "Patient " + patientID.String(), WindowID: windowID,
	})
	if err != nil {
		t.Fatalf("book window %s: %v", windowID, err)
	}
	return a
}

// -- Fakes --

type recordingObserver struct {
	mu          sync.Mutex
	conflicts   []string
	booked      int
	transitions []string
}

func (o *recordingObserver) ConflictDetected(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.conflicts = append(o.conflicts, kind)
}

func (o *recordingObserver) AppointmentBooked() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.booked++
}

func (o *recordingObserver) AppointmentTransitioned(from, to Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, string(from)+"->"+string(to))
}

// failingStore delegates to a Memory store but refuses every Save once
// failSave is set.
type failingStore struct {
	*store.Memory
	failSave bool
}

func (f *failingStore) Save(ctx context.Context, collections ...store.Collection) error {
	if f.failSave {
		return errors.New("disk full")
	}
	return f.Memory.Save(ctx, collections...)
}

// -- Tests --

func TestService_EndToEnd(t *testing.T) {
	svc, _ := newTestService(t)
	obs := &recordingObserver{}
	svc.SetObserver(obs)
	ctx := context.Background()

	smith := mustDoctor(t, svc, "Dr. Smith", "Cardiology", "Room 302")
	w := mustWindow(t, svc, smith.ID, "2025-03-10", "09:00", "10:00")

	if _, err := svc.Registry.CreateWindow(ctx, smith.ID, "2025-03-10", "09:30", "10:30"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected room conflict, got %v", err)
	}
	mustWindow(t, svc, smith.ID, "2025-03-10", "10:00", "11:00")

	a := mustBook(t, svc, "p1", w.ID)
	if a.Status != StatusPending || a.Room != "Room 302" || a.DoctorName != "Dr. Smith" {
		t.Fatalf("unexpected appointment %+v", a)
	}

	if _, err := svc.Appointments.Transition(ctx, a.ID, StatusConfirmed); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := svc.Appointments.Transition(ctx, a.ID, StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := svc.Appointments.Transition(ctx, a.ID, StatusPending); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected illegal transition from completed, got %v", err)
	}

	if err := svc.Directory.Delete(ctx, smith.ID); err != nil {
		t.Fatalf("delete doctor: %v", err)
	}
	windows, err := svc.Registry.ListWindows(ctx, WindowFilter{})
	if err != nil {
		t.Fatalf("list windows: %v", err)
	}
	if len(windows) != 0 {
		t.Errorf("expected cascade to remove windows, %d left", len(windows))
	}
	appts, _ := svc.Appointments.ListAll(ctx)
	if len(appts) != 1 || appts[0].Status != StatusCompleted {
		t.Errorf("expected the completed appointment to survive the doctor, got %v", appts)
	}

	if len(obs.conflicts) != 1 || obs.conflicts[0] != "room" {
		t.Errorf("unexpected conflicts observed %v", obs.conflicts)
	}
	if obs.booked != 1 || len(obs.transitions) != 2 {
		t.Errorf("unexpected events: booked=%d transitions=%v", obs.booked, obs.transitions)
	}
}

func TestService_ConcurrentWindowsInOneRoom(t *testing.T) {
	svc, _ := newTestService(t)
	doc := mustDoctor(t, svc, "Dr. Smith", "Cardiology", "Room 302")

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Registry.CreateWindow(context.Background(), doc.ID, "2025-03-11", "09:00", "09:30")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || conflicts != n-1 {
		t.Fatalf("expected exactly one window to win, got ok=%d conflicts=%d", ok, conflicts)
	}
}

func TestService_ConcurrentBookingsOfOneWindow(t *testing.T) {
	svc, _ := newTestService(t)
	doc := mustDoctor(t, svc, "Dr. Brown", "Dermatology", "Room 210")
	w := mustWindow(t, svc, doc.ID, "2025-03-11", "14:00", "14:30")

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Appointments.Book(context.Background(), BookingRequest{
				PatientID: ID("p" + string(rune('a'+i))), PatientName: "Patient", WindowID: w.ID,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	booked := 0
	for err := range errs {
		if err == nil {
			booked++
		} else if !errors.Is(err, ErrConflict) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if booked != 1 {
		t.Fatalf("expected one booking to win, got %d", booked)
	}
}

func TestService_FailedCommitLeavesStoreUntouched(t *testing.T) {
	mem := store.NewMemory()
	fs := &failingStore{Memory: mem}
	svc := NewService(NewStoreRepository(fs, zerolog.Nop()), zerolog.Nop())
	ctx := context.Background()

	doc := mustDoctor(t, svc, "Dr. Smith", "Cardiology", "Room 302")
	mustWindow(t, svc, doc.ID, "2025-03-12", "09:00", "10:00")

	doctorsBefore := mem.Raw(store.Doctors)
	windowsBefore := mem.Raw(store.Schedules)

	fs.failSave = true
	if err := svc.Directory.Delete(ctx, doc.ID); err == nil {
		t.Fatal("expected the delete to fail")
	}

	if string(mem.Raw(store.Doctors)) != string(doctorsBefore) {
		t.Error("doctors changed after a failed commit")
	}
	if string(mem.Raw(store.Schedules)) != string(windowsBefore) {
		t.Error("schedules changed after a failed commit")
	}
}

func TestService_RejectedWriteLeavesStoreUntouched(t *testing.T) {
	svc, mem := newTestService(t)
	doc := mustDoctor(t, svc, "Dr. Smith", "Cardiology", "Room 302")
	mustWindow(t, svc, doc.ID, "2025-03-12", "09:00", "10:00")
	before := mem.Raw(store.Schedules)

	if _, err := svc.Registry.CreateWindow(context.Background(), doc.ID, "2025-03-12", "09:59", "10:30"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if string(mem.Raw(store.Schedules)) != string(before) {
		t.Error("schedules changed after a rejected write")
	}
}

func TestService_LockTimeout(t *testing.T) {
	mem := store.NewMemory()
	svc := NewService(NewStoreRepository(mem, zerolog.Nop(), WithLockTimeout(20*time.Millisecond)), zerolog.Nop())

	release, err := mem.Lock(context.Background(), store.Doctors)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer release()

	_, err = svc.Directory.CreateDoctor(context.Background(), DoctorInput{Name: "Dr. Smith", Specialty: "Cardiology", Room: "Room 302"})
	if !errors.Is(err, store.ErrLockTimeout) {
		t.Fatalf("expected lock timeout, got %v", err)
	}
}

func TestStoreRepository_KeepsUnreadableRecords(t *testing.T) {
	svc, mem := newTestService(t)
	mem.Put(store.Doctors, []byte(`[{"id":1,"name":"Dr. Legacy","department":"ENT","room":"Room 1"}, "garbage"]`))

	if _, err := svc.Directory.CreateDoctor(context.Background(), DoctorInput{Name: "Dr. New", Specialty: "GP", Room: "Room 2"}); err != nil {
		t.Fatalf("create doctor: %v", err)
	}

	var stored []json.RawMessage
	if err := json.Unmarshal(mem.Raw(store.Doctors), &stored); err != nil {
		t.Fatalf("stored doctors are not an array: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("expected 3 stored records, got %d", len(stored))
	}
	if string(stored[2]) != `"garbage"` {
		t.Errorf("expected the unreadable record to be carried over, got %s", stored[2])
	}
}

func TestStoreRepository_NullRecordIsNotADoctor(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	mem.Put(store.Doctors, []byte(`[null]`))

	bookable, err := svc.Directory.BookableDoctors(ctx)
	if err != nil {
		t.Fatalf("bookable doctors: %v", err)
	}
	if len(bookable) != 0 {
		t.Fatalf("expected no bookable doctors, got %+v", bookable)
	}

	if _, err := svc.Directory.CreateDoctor(ctx, DoctorInput{Name: "Dr. New", Specialty: "GP", Room: "Room 2"}); err != nil {
		t.Fatalf("create doctor: %v", err)
	}
	var stored []json.RawMessage
	if err := json.Unmarshal(mem.Raw(store.Doctors), &stored); err != nil {
		t.Fatalf("stored doctors are not an array: %v", err)
	}
	if len(stored) != 2 || string(stored[1]) != "null" {
		t.Fatalf("expected the null record to be carried over verbatim, got %s", mem.Raw(store.Doctors))
	}
}
