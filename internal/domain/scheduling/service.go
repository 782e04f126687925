package scheduling

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Service bundles the scheduling components around one repository. The
// directory, registry and appointment manager share the repository and
// its collection locks; nothing is kept in package-level state.
type Service struct {
	Directory    *Directory
	Registry     *Registry
	Appointments *Appointments
}

// NewService wires the three components against repo.
func NewService(repo Repository, logger zerolog.Logger) *Service {
	base := &core{repo: repo, logger: logger, obs: nopObserver{}, now: time.Now}
	reg := &Registry{core: base}
	return &Service{
		Directory:    &Directory{core: base},
		Registry:     reg,
		Appointments: &Appointments{core: base},
	}
}

// SetObserver installs an observer for domain events on every component.
func (s *Service) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	s.Registry.core.obs = o
}

// SetClock overrides the time source, used for "today" and timestamps.
func (s *Service) SetClock(now func() time.Time) {
	s.Registry.core.now = now
}

// core holds what every component needs. All components point at the same
// core, so setters apply everywhere.
type core struct {
	repo   Repository
	logger zerolog.Logger
	obs    Observer
	now    func() time.Time
}

// mutate runs fn while holding the writer locks of collections. fn loads
// what it needs, validates, and returns the changeset to commit; any error
// from fn aborts before anything is written.
func (c *core) mutate(ctx context.Context, collections []string, fn func() (Changeset, error)) error {
	release, err := c.repo.Lock(ctx, collections...)
	if err != nil {
		return err
	}
	defer release()

	cs, err := fn()
	if err != nil {
		return err
	}
	return c.repo.Commit(ctx, cs)
}

func (c *core) timestamp() *time.Time {
	t := c.now().UTC()
	return &t
}

func findDoctor(doctors []*Doctor, id ID) *Doctor {
	for _, d := range doctors {
		if d.ID == id {
			return d
		}
	}
	return nil
}

func findWindow(windows []*Window, id ID) *Window {
	for _, w := range windows {
		if w.ID == id {
			return w
		}
	}
	return nil
}

func findAppointment(appts []*Appointment, id ID) *Appointment {
	for _, a := range appts {
		if a.ID == id {
			return a
		}
	}
	return nil
}
