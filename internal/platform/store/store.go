package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
)

// Collection names used by the scheduling core.
const (
	Doctors      = "doctors"
	Schedules    = "schedules"
	Appointments = "appointments"
)

// ErrLockTimeout is returned by Lock when the context expires before every
// requested collection lock could be taken.
var ErrLockTimeout = errors.New("store: timed out waiting for collection lock")

// Collection is a full snapshot of one named collection.
type Collection struct {
	Name    string
	Records []json.RawMessage
}

// Store is the persistence collaborator behind the scheduling core. Every
// collection is read and replaced as a whole.
type Store interface {
	// Load returns the records of the named collection in stored order. A
	// missing or unreadable collection yields an empty slice and no error;
	// only transport failures are reported.
	Load(ctx context.Context, name string) ([]json.RawMessage, error)

	// Save atomically replaces every listed collection. Either all of them
	// are written or none is.
	Save(ctx context.Context, collections ...Collection) error

	// Lock takes the writer lock of every named collection. Locks are always
	// acquired in sorted name order so that two callers asking for
	// overlapping sets cannot deadlock.
	Lock(ctx context.Context, names ...string) (release func(), err error)

	// Backend names the implementation for health reporting.
	Backend() string
}

// decodeArray parses a stored JSON array. Anything that is not an array of
// values is treated as an absent collection.
func decodeArray(raw []byte) []json.RawMessage {
	if len(raw) == 0 {
		return []json.RawMessage{}
	}
	var records []json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil || records == nil {
		return []json.RawMessage{}
	}
	return records
}

// encodeArray is the inverse of decodeArray. A nil slice is stored as [].
func encodeArray(records []json.RawMessage) ([]byte, error) {
	if records == nil {
		records = []json.RawMessage{}
	}
	return json.Marshal(records)
}

// lockOrder returns the distinct names sorted, the order every backend uses
// to take collection locks.
func lockOrder(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
