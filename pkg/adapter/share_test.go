package adapter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tidefs/tidegate/pkg/vfs"
)

// TestShareCounterBalance drives open/close cycles through every flag
// combination and checks all counters return to zero.
func TestShareCounterBalance(t *testing.T) {
	combos := []vfs.OpenFlags{
		vfs.OpenRead,
		vfs.OpenWrite,
		vfs.OpenReadWrite,
		vfs.OpenRead | vfs.OpenDenyRead,
		vfs.OpenRead | vfs.OpenDenyWrite,
		vfs.OpenWrite | vfs.OpenDenyWriteMandatory,
		vfs.OpenReadWrite | vfs.OpenDenyRead | vfs.OpenDenyWrite,
		vfs.OpenReadWrite | vfs.OpenDenyRead | vfs.OpenDenyWriteMandatory,
	}

	var s shareState
	for _, flags := range combos {
		require.NoError(t, s.Reserve(vfs.OpenClosed, flags, false))
		s.setFlags(flags)
		s.Retire()
		s.setFlags(vfs.OpenClosed)
		require.Equal(t, [5]int{}, shareCounters(&s), "after cycling %s", flags)
	}

	// Stacked compatible reservations drain back to zero too.
	require.NoError(t, s.Reserve(vfs.OpenClosed, vfs.OpenRead, false))
	require.NoError(t, s.Reserve(vfs.OpenClosed, vfs.OpenRead, false))
	require.NoError(t, s.Reserve(vfs.OpenClosed, vfs.OpenReadWrite, false))
	s.Update(vfs.OpenRead, vfs.OpenClosed)
	s.Update(vfs.OpenRead, vfs.OpenClosed)
	s.Update(vfs.OpenReadWrite, vfs.OpenClosed)
	require.Equal(t, [5]int{}, shareCounters(&s))

	// A reopen-style transition moves counters instead of stacking them.
	require.NoError(t, s.Reserve(vfs.OpenClosed, vfs.OpenRead, false))
	require.NoError(t, s.Reserve(vfs.OpenRead, vfs.OpenReadWrite|vfs.OpenDenyWrite, false))
	require.Equal(t, [5]int{1, 1, 0, 1, 0}, shareCounters(&s))
	s.Update(vfs.OpenReadWrite|vfs.OpenDenyWrite, vfs.OpenClosed)
	require.Equal(t, [5]int{}, shareCounters(&s))
}

// TestShareConflicts checks the access-versus-deny matrix, including the
// bypass semantics of advisory and mandatory deny modes. A denied request
// must leave the counters exactly as they were.
func TestShareConflicts(t *testing.T) {
	tests := []struct {
		name    string
		held    vfs.OpenFlags
		request vfs.OpenFlags
		bypass  bool
		denied  bool
	}{
		{"readers coexist", vfs.OpenRead, vfs.OpenRead, false, false},
		{"deny-read blocks reader", vfs.OpenRead | vfs.OpenDenyRead, vfs.OpenRead, false, true},
		{"deny-read spares writer", vfs.OpenRead | vfs.OpenDenyRead, vfs.OpenWrite, false, false},
		{"deny-write blocks writer", vfs.OpenWrite | vfs.OpenDenyWrite, vfs.OpenWrite, false, true},
		{"bypass skips advisory deny-write", vfs.OpenWrite | vfs.OpenDenyWrite, vfs.OpenWrite, true, false},
		{"bypass skips deny-read", vfs.OpenRead | vfs.OpenDenyRead, vfs.OpenRead, true, false},
		{"mandatory deny-write holds through bypass", vfs.OpenWrite | vfs.OpenDenyWriteMandatory, vfs.OpenWrite, true, true},
		{"reader blocks incoming deny-read", vfs.OpenRead, vfs.OpenWrite | vfs.OpenDenyRead, false, true},
		{"writer blocks incoming deny-write", vfs.OpenWrite, vfs.OpenRead | vfs.OpenDenyWrite, false, true},
		{"writer blocks incoming mandatory deny-write", vfs.OpenWrite, vfs.OpenRead | vfs.OpenDenyWriteMandatory, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s shareState
			require.NoError(t, s.Reserve(vfs.OpenClosed, tt.held, false))
			before := shareCounters(&s)

			err := s.Reserve(vfs.OpenClosed, tt.request, tt.bypass)
			if tt.denied {
				require.True(t, vfs.IsStatus(err, vfs.StatusShareDenied), "got %v", err)
				require.Equal(t, before, shareCounters(&s))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

// TestShareCheckConflict verifies the read-only probe never moves
// counters, granted or denied.
func TestShareCheckConflict(t *testing.T) {
	var s shareState
	require.NoError(t, s.Reserve(vfs.OpenClosed, vfs.OpenRead|vfs.OpenDenyWrite, false))
	before := shareCounters(&s)

	require.NoError(t, s.CheckConflict(vfs.OpenRead, false))
	err := s.CheckConflict(vfs.OpenWrite, false)
	require.True(t, vfs.IsStatus(err, vfs.StatusShareDenied))
	require.NoError(t, s.CheckConflict(vfs.OpenWrite, true))

	require.Equal(t, before, shareCounters(&s))
}

// TestShareMerge verifies duplicate-handle folding: compatible counters
// sum, cross conflicts change neither side.
func TestShareMerge(t *testing.T) {
	t.Run("folds compatible counters", func(t *testing.T) {
		var a, b shareState
		require.NoError(t, a.Reserve(vfs.OpenClosed, vfs.OpenRead, false))
		require.NoError(t, b.Reserve(vfs.OpenClosed, vfs.OpenReadWrite, false))

		require.NoError(t, a.Merge(&b))
		require.Equal(t, [5]int{2, 1, 0, 0, 0}, shareCounters(&a))
	})

	t.Run("dupe access against holder deny", func(t *testing.T) {
		var a, b shareState
		require.NoError(t, a.Reserve(vfs.OpenClosed, vfs.OpenRead|vfs.OpenDenyWrite, false))
		require.NoError(t, b.Reserve(vfs.OpenClosed, vfs.OpenWrite, false))

		err := a.Merge(&b)
		require.True(t, vfs.IsStatus(err, vfs.StatusShareDenied))
		require.Equal(t, [5]int{1, 0, 0, 1, 0}, shareCounters(&a))
		require.Equal(t, [5]int{0, 1, 0, 0, 0}, shareCounters(&b))
	})

	t.Run("dupe deny against holder access", func(t *testing.T) {
		var a, b shareState
		require.NoError(t, a.Reserve(vfs.OpenClosed, vfs.OpenWrite, false))
		require.NoError(t, b.Reserve(vfs.OpenClosed, vfs.OpenRead|vfs.OpenDenyWriteMandatory, false))

		err := a.Merge(&b)
		require.True(t, vfs.IsStatus(err, vfs.StatusShareDenied))
		require.Equal(t, [5]int{0, 1, 0, 0, 0}, shareCounters(&a))
	})
}
