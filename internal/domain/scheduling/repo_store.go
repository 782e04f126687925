package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicflow/clinicflow/internal/platform/store"
)

type storeRepo struct {
	st          store.Store
	logger      zerolog.Logger
	lockTimeout time.Duration
}

// RepoOption configures NewStoreRepository.
type RepoOption func(*storeRepo)

// WithLockTimeout bounds how long a writer waits for collection locks.
func WithLockTimeout(d time.Duration) RepoOption {
	return func(r *storeRepo) { r.lockTimeout = d }
}

// NewStoreRepository backs the scheduling core with a store.Store.
// Integrity warnings raised while reading are logged at warn level.
func NewStoreRepository(st store.Store, logger zerolog.Logger, opts ...RepoOption) Repository {
	r := &storeRepo{st: st, logger: logger.With().Str("component", "scheduling-repo").Logger()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *storeRepo) Lock(ctx context.Context, collections ...string) (func(), error) {
	if r.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.lockTimeout)
		defer cancel()
	}
	return r.st.Lock(ctx, collections...)
}

func (r *storeRepo) Doctors(ctx context.Context) ([]*Doctor, error) {
	return loadAll(ctx, r, store.Doctors, normalizeDoctor)
}

func (r *storeRepo) Windows(ctx context.Context) ([]*Window, error) {
	return loadAll(ctx, r, store.Schedules, normalizeWindow)
}

func (r *storeRepo) Appointments(ctx context.Context) ([]*Appointment, error) {
	return loadAll(ctx, r, store.Appointments, normalizeAppointment)
}

func loadAll[T any](ctx context.Context, r *storeRepo, name string, norm func(json.RawMessage) (*T, []IntegrityWarning, bool)) ([]*T, error) {
	raws, err := r.st.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(raws))
	for _, raw := range raws {
		item, warns, ok := norm(raw)
		r.warn(warns)
		if ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *storeRepo) warn(warns []IntegrityWarning) {
	for _, w := range warns {
		r.logger.Warn().
			Str("collection", w.Collection).
			Str("record_id", w.ID.String()).
			Str("problem", w.Problem).
			Msg("integrity warning")
	}
}

// Commit writes the changed collections in one Save. Stored records that
// could not be decoded are carried over untouched so that a write never
// silently drops data it could not read.
func (r *storeRepo) Commit(ctx context.Context, cs Changeset) error {
	var batch []store.Collection

	if cs.Doctors != nil {
		c, err := encodeCollection(ctx, r, store.Doctors, cs.Doctors, normalizeDoctor)
		if err != nil {
			return err
		}
		batch = append(batch, c)
	}
	if cs.Windows != nil {
		c, err := encodeCollection(ctx, r, store.Schedules, cs.Windows, normalizeWindow)
		if err != nil {
			return err
		}
		batch = append(batch, c)
	}
	if cs.Appointments != nil {
		c, err := encodeCollection(ctx, r, store.Appointments, cs.Appointments, normalizeAppointment)
		if err != nil {
			return err
		}
		batch = append(batch, c)
	}
	if len(batch) == 0 {
		return nil
	}
	if err := r.st.Save(ctx, batch...); err != nil {
		return fmt.Errorf("commit scheduling changes: %w", err)
	}
	return nil
}

func encodeCollection[T any](ctx context.Context, r *storeRepo, name string, items []*T, norm func(json.RawMessage) (*T, []IntegrityWarning, bool)) (store.Collection, error) {
	current, err := r.st.Load(ctx, name)
	if err != nil {
		return store.Collection{}, err
	}

	records := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		b, err := json.Marshal(it)
		if err != nil {
			return store.Collection{}, fmt.Errorf("encode %s: %w", name, err)
		}
		records = append(records, b)
	}

	for _, raw := range current {
		if _, _, ok := norm(raw); !ok {
			records = append(records, raw)
		}
	}
	return store.Collection{Name: name, Records: records}, nil
}
