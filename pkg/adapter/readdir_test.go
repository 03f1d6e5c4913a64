package adapter

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tidefs/tidegate/pkg/vfs"
)

// TestReadDirPagination verifies enumeration spans backend pages, yields
// resumable cookies and reports eof only at the true end.
func TestReadDirPagination(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	root := env.export.Root()

	names := []string{"ant", "bee", "cat", "dog", "eel", "fox", "gnu"}
	for _, name := range names {
		mkfile(t, root, name)
	}
	require.Greater(t, len(names), 2*testPageSize)

	var seen []string
	var cookies []vfs.Cookie
	eof, err := root.ReadDir(ctx, nil, vfs.SupportedAttrs,
		func(name string, h *Handle, attrs *vfs.Attributes, cookie vfs.Cookie) bool {
			h.Release()
			seen = append(seen, name)
			cookies = append(cookies, cookie)
			return true
		})
	require.NoError(t, err)
	require.True(t, eof)
	require.Equal(t, names, seen)
	require.True(t, sort.SliceIsSorted(cookies, func(i, j int) bool {
		return cookies[i] < cookies[j]
	}))

	// Resuming from an entry's cookie continues right after it.
	var resumed []string
	eof, err = root.ReadDir(ctx, &cookies[3], vfs.SupportedAttrs,
		func(name string, h *Handle, attrs *vfs.Attributes, cookie vfs.Cookie) bool {
			h.Release()
			resumed = append(resumed, name)
			return true
		})
	require.NoError(t, err)
	require.True(t, eof)
	require.Equal(t, names[4:], resumed)
}

// TestReadDirAttrMask verifies per-entry attributes are filtered to the
// requested mask.
func TestReadDirAttrMask(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	root := env.export.Root()

	file := mkfile(t, root, "only")

	mask := vfs.AttrType | vfs.AttrFileID
	eof, err := root.ReadDir(ctx, nil, mask,
		func(name string, h *Handle, attrs *vfs.Attributes, cookie vfs.Cookie) bool {
			defer h.Release()
			require.Equal(t, "only", name)
			require.Equal(t, mask, attrs.Valid)
			require.Equal(t, file.FileID(), attrs.FileID)
			require.Equal(t, vfs.FileTypeRegular, attrs.Type)
			return true
		})
	require.NoError(t, err)
	require.True(t, eof)
}

// TestReadDirEarlyStop verifies a callback returning false halts the
// enumeration without claiming eof.
func TestReadDirEarlyStop(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	root := env.export.Root()

	for _, name := range []string{"a", "b", "c", "d"} {
		mkfile(t, root, name)
	}

	var seen int
	eof, err := root.ReadDir(ctx, nil, vfs.SupportedAttrs,
		func(name string, h *Handle, attrs *vfs.Attributes, cookie vfs.Cookie) bool {
			h.Release()
			seen++
			return seen < 2
		})
	require.NoError(t, err)
	require.False(t, eof)
	require.Equal(t, 2, seen)
}

// TestReadDirOnFile verifies enumerating a regular file is refused.
func TestReadDirOnFile(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	file := mkfile(t, env.export.Root(), "flat")
	_, err := file.ReadDir(ctx, nil, vfs.SupportedAttrs,
		func(string, *Handle, *vfs.Attributes, vfs.Cookie) bool { return true })
	require.True(t, vfs.IsStatus(err, vfs.StatusNotDirectory))
}
