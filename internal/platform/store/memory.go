package store

import (
	"context"
	"encoding/json"
	"sync"
)

// Memory is an in-process Store. It is the default backend for development
// and the one the domain tests run against.
type Memory struct {
	mu          sync.RWMutex
	collections map[string][]byte

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string][]byte),
		locks:       make(map[string]chan struct{}),
	}
}

func (m *Memory) Backend() string { return "memory" }

// Load implements Store.
func (m *Memory) Load(_ context.Context, name string) ([]json.RawMessage, error) {
	m.mu.RLock()
	raw := m.collections[name]
	m.mu.RUnlock()
	return decodeArray(raw), nil
}

// Save implements Store. Encoding happens before the write lock is taken so
// an unencodable batch leaves every collection untouched.
func (m *Memory) Save(_ context.Context, collections ...Collection) error {
	encoded := make(map[string][]byte, len(collections))
	for _, c := range collections {
		raw, err := encodeArray(c.Records)
		if err != nil {
			return err
		}
		encoded[c.Name] = raw
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for name, raw := range encoded {
		m.collections[name] = raw
	}
	return nil
}

// Put seeds a collection with a raw JSON document, bypassing encoding. It is
// used to load fixtures that carry legacy or malformed records.
func (m *Memory) Put(name string, raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(raw))
	copy(cp, raw)
	m.collections[name] = cp
}

// Raw returns the stored document of a collection exactly as written.
func (m *Memory) Raw(name string) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw := m.collections[name]
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return cp
}

// Lock implements Store with one channel semaphore per collection, so a
// waiting caller can give up when its context ends.
func (m *Memory) Lock(ctx context.Context, names ...string) (func(), error) {
	ordered := lockOrder(names)
	held := make([]chan struct{}, 0, len(ordered))

	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}

	for _, name := range ordered {
		sem := m.semaphore(name)
		select {
		case sem <- struct{}{}:
			held = append(held, sem)
		case <-ctx.Done():
			release()
			return nil, ErrLockTimeout
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (m *Memory) semaphore(name string) chan struct{} {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	sem, ok := m.locks[name]
	if !ok {
		sem = make(chan struct{}, 1)
		m.locks[name] = sem
	}
	return sem
}
