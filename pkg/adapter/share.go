package adapter

import (
	"sync"

	"github.com/tidefs/tidegate/pkg/vfs"
)

// ============================================================================
// Share Reservations
// ============================================================================

// shareState tracks the share reservations held against one file. Five
// counters record how many open states want each access or deny mode;
// a reservation request conflicts when its access modes hit an existing
// deny counter or its deny modes hit an existing access counter. The
// handle's current backend open mode lives under the same lock so that
// open, reopen and close transition reservation and mode together.
//
// The type is self-synchronizing: every method takes the internal lock,
// so callers compose atomic check-and-update transitions instead of
// managing a lock around raw counters.
type shareState struct {
	mu sync.Mutex

	accessRead    int
	accessWrite   int
	denyRead      int
	denyWrite     int
	denyWriteMand int

	// mode is the handle's current backend open mode, OpenClosed when
	// the node is not open.
	mode vfs.OpenFlags
}

// conflictsLocked reports whether flags collide with the current
// reservations. bypass lets special stateless readers skip advisory
// deny modes; a mandatory deny-write still blocks them.
func (s *shareState) conflictsLocked(flags vfs.OpenFlags, bypass bool) bool {
	if flags&vfs.OpenRead != 0 && s.denyRead > 0 && !bypass {
		return true
	}
	if flags&vfs.OpenWrite != 0 &&
		(s.denyWriteMand > 0 || (!bypass && s.denyWrite > 0)) {
		return true
	}
	if flags&vfs.OpenDenyRead != 0 && s.accessRead > 0 {
		return true
	}
	if flags&(vfs.OpenDenyWrite|vfs.OpenDenyWriteMandatory) != 0 && s.accessWrite > 0 {
		return true
	}
	return false
}

// applyLocked moves the counters from the old reservation to the new one.
// OpenClosed on either side means no reservation held on that side.
func (s *shareState) applyLocked(old, new vfs.OpenFlags) {
	adjust(&s.accessRead, old&vfs.OpenRead != 0, new&vfs.OpenRead != 0)
	adjust(&s.accessWrite, old&vfs.OpenWrite != 0, new&vfs.OpenWrite != 0)
	adjust(&s.denyRead, old&vfs.OpenDenyRead != 0, new&vfs.OpenDenyRead != 0)
	adjust(&s.denyWrite, old&vfs.OpenDenyWrite != 0, new&vfs.OpenDenyWrite != 0)
	adjust(&s.denyWriteMand,
		old&vfs.OpenDenyWriteMandatory != 0, new&vfs.OpenDenyWriteMandatory != 0)
}

func adjust(counter *int, old, new bool) {
	if old && !new {
		*counter--
	} else if !old && new {
		*counter++
	}
}

// CheckConflict reports StatusShareDenied when flags cannot be granted
// against the current reservations. It never changes the counters.
func (s *shareState) CheckConflict(flags vfs.OpenFlags, bypass bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflictsLocked(flags, bypass) {
		return vfs.NewStatusError(vfs.StatusShareDenied, 0)
	}
	return nil
}

// Reserve atomically checks new against the current reservations and, if
// compatible, retires old and records new. This is the transition open
// and reopen perform; old is OpenClosed for a first open. Callers run the
// backend open outside the lock and call Update(new, old) to revert when
// it fails.
func (s *shareState) Reserve(old, new vfs.OpenFlags, bypass bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflictsLocked(new, bypass) {
		return vfs.NewStatusError(vfs.StatusShareDenied, 0)
	}
	s.applyLocked(old, new)
	return nil
}

// Update moves the counters from old to new without a conflict check.
// Close paths and open rollbacks use it.
func (s *shareState) Update(old, new vfs.OpenFlags) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(old, new)
}

// Retire releases the reservation held for the current open mode, reading
// the mode and moving the counters in one step. The mode itself stays
// until the backend close succeeds; only then does the caller clear it.
func (s *shareState) Retire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(s.mode, vfs.OpenClosed)
}

// Merge folds the reservations of dupe into s. The access modes of each
// side are checked against the deny modes of the other; on conflict
// nothing changes and StatusShareDenied is returned. dupe must be private
// to the caller, it is read without locking.
func (s *shareState) Merge(dupe *shareState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dupe.accessRead > 0 && s.denyRead > 0 {
		return vfs.NewStatusError(vfs.StatusShareDenied, 0)
	}
	if dupe.accessWrite > 0 && (s.denyWrite > 0 || s.denyWriteMand > 0) {
		return vfs.NewStatusError(vfs.StatusShareDenied, 0)
	}
	if s.accessRead > 0 && dupe.denyRead > 0 {
		return vfs.NewStatusError(vfs.StatusShareDenied, 0)
	}
	if s.accessWrite > 0 && (dupe.denyWrite > 0 || dupe.denyWriteMand > 0) {
		return vfs.NewStatusError(vfs.StatusShareDenied, 0)
	}

	s.accessRead += dupe.accessRead
	s.accessWrite += dupe.accessWrite
	s.denyRead += dupe.denyRead
	s.denyWrite += dupe.denyWrite
	s.denyWriteMand += dupe.denyWriteMand
	return nil
}

// Flags returns the handle's current backend open mode.
func (s *shareState) Flags() vfs.OpenFlags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// setFlags records the handle's current backend open mode.
func (s *shareState) setFlags(flags vfs.OpenFlags) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = flags
}
