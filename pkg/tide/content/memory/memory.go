// Package memory implements content.Store in process memory. It is the
// default payload backend for the badger node store in development and
// tests.
package memory

import (
	"context"
	"sync"

	"github.com/tidefs/tidegate/pkg/tide"
	"github.com/tidefs/tidegate/pkg/tide/content"
)

// defaultCapacity bounds total stored bytes when Options leaves it zero.
const defaultCapacity uint64 = 1 << 40

// Options tune the store. The zero value selects the defaults above.
type Options struct {
	// Capacity is the byte total the store will hold before writes fail
	// with ENOSPC.
	Capacity uint64
}

// Store is a map-backed content.Store.
type Store struct {
	capacity uint64

	mu      sync.RWMutex
	objects map[content.ID][]byte
	used    uint64
	closed  bool
}

var _ content.Store = (*Store)(nil)

// New builds an empty store.
func New(opts Options) *Store {
	if opts.Capacity == 0 {
		opts.Capacity = defaultCapacity
	}
	return &Store{
		capacity: opts.Capacity,
		objects:  make(map[content.ID][]byte),
	}
}

// ReadAt copies object bytes at offset into p. Absent objects read as
// empty.
func (s *Store) ReadAt(ctx context.Context, id content.ID, p []byte, offset uint64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.aliveLocked(id, "read-content"); err != nil {
		return 0, err
	}
	obj := s.objects[id]
	if offset >= uint64(len(obj)) {
		return 0, nil
	}
	return copy(p, obj[offset:]), nil
}

// WriteAt stores p at offset, growing the object as needed.
func (s *Store) WriteAt(ctx context.Context, id content.ID, p []byte, offset uint64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.aliveLocked(id, "write-content"); err != nil {
		return 0, err
	}

	obj := s.objects[id]
	end := offset + uint64(len(p))
	if end > uint64(len(obj)) {
		grow := end - uint64(len(obj))
		if s.used+grow > s.capacity {
			return 0, &tide.StoreError{Errno: tide.ENOSPC, Op: "write-content", Path: string(id)}
		}
		grown := make([]byte, end)
		copy(grown, obj)
		s.used += grow
		obj = grown
	}
	copy(obj[offset:], p)
	s.objects[id] = obj
	return len(p), nil
}

// Truncate sets the object length, zero-filling on growth.
func (s *Store) Truncate(ctx context.Context, id content.ID, size uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.aliveLocked(id, "truncate-content"); err != nil {
		return err
	}

	obj := s.objects[id]
	old := uint64(len(obj))
	switch {
	case size < old:
		s.used -= old - size
		s.objects[id] = obj[:size]
	case size > old:
		if s.used+size-old > s.capacity {
			return &tide.StoreError{Errno: tide.ENOSPC, Op: "truncate-content", Path: string(id)}
		}
		grown := make([]byte, size)
		copy(grown, obj)
		s.used += size - old
		s.objects[id] = grown
	}
	return nil
}

// Size reports the object length.
func (s *Store) Size(ctx context.Context, id content.ID) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.aliveLocked(id, "size-content"); err != nil {
		return 0, err
	}
	return uint64(len(s.objects[id])), nil
}

// Remove deletes the object. Idempotent.
func (s *Store) Remove(ctx context.Context, id content.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.aliveLocked(id, "remove-content"); err != nil {
		return err
	}
	s.used -= uint64(len(s.objects[id]))
	delete(s.objects, id)
	return nil
}

// Used reports the bytes currently held, for tests and capacity checks.
func (s *Store) Used() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.used
}

// Close drops all objects.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.objects = nil
	s.used = 0
	return nil
}

func (s *Store) aliveLocked(id content.ID, op string) error {
	if s.closed {
		return &tide.StoreError{Errno: tide.EIO, Op: op, Path: string(id)}
	}
	return nil
}
