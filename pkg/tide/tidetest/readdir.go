package tidetest

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tidefs/tidegate/pkg/tide"
)

// RunReadDirTests exercises paged directory enumeration.
func (s *Suite) RunReadDirTests(t *testing.T) {
	t.Run("Empty", s.testReadDirEmpty)
	t.Run("SinglePageSorted", s.testReadDirSinglePageSorted)
	t.Run("PagingVisitsAll", s.testReadDirPagingVisitsAll)
	t.Run("CookiePastEnd", s.testReadDirCookiePastEnd)
	t.Run("NoDotEntries", s.testReadDirNoDotEntries)
	t.Run("NotDirectory", s.testReadDirNotDirectory)
}

func (s *Suite) testReadDirEmpty(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	d := mustMkdir(t, root, "empty")

	entries, _, eof, err := d.ReadDir(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, entries)
	require.True(t, eof)
}

func (s *Suite) testReadDirSinglePageSorted(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	d := mustMkdir(t, root, "d")
	// Created out of order on purpose.
	c := mustCreate(t, d, "c")
	a := mustCreate(t, d, "a")
	b := mustCreate(t, d, "b")

	entries, next, eof, err := d.ReadDir(ctx, 0)
	require.NoError(t, err)
	require.True(t, eof)
	require.Equal(t, uint64(3), next)
	require.Len(t, entries, 3)

	require.Equal(t, "a", entries[0].Name)
	require.Equal(t, "b", entries[1].Name)
	require.Equal(t, "c", entries[2].Name)

	require.Equal(t, a.Key().Ino, entries[0].Ino)
	require.Equal(t, b.Key().Ino, entries[1].Ino)
	require.Equal(t, c.Key().Ino, entries[2].Ino)

	// Cookies are resume points: each one names the position after its
	// entry.
	for i, e := range entries {
		require.Equal(t, uint64(i+1), e.Cookie)
	}
}

func (s *Suite) testReadDirPagingVisitsAll(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	d := mustMkdir(t, root, "d")
	total := s.PageSize*2 + 1
	want := make([]string, 0, total)
	for i := 0; i < total; i++ {
		name := fmt.Sprintf("f%04d", i)
		want = append(want, name)
		mustCreate(t, d, name)
	}

	var got []string
	cookie := uint64(0)
	pages := 0
	for {
		entries, next, eof, err := d.ReadDir(ctx, cookie)
		require.NoError(t, err)
		pages++
		require.Less(t, pages, 100, "paging never reached eof")

		require.LessOrEqual(t, len(entries), s.PageSize)
		for _, e := range entries {
			got = append(got, e.Name)
		}
		if eof {
			break
		}
		require.NotEmpty(t, entries, "a non-final page must carry entries")
		cookie = next
	}

	require.Equal(t, 3, pages)
	sort.Strings(want)
	require.Equal(t, want, got, "every entry exactly once, in order")
}

func (s *Suite) testReadDirCookiePastEnd(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	d := mustMkdir(t, root, "d")
	mustCreate(t, d, "only")

	entries, _, eof, err := d.ReadDir(ctx, 999)
	require.NoError(t, err)
	require.Empty(t, entries)
	require.True(t, eof)
}

func (s *Suite) testReadDirNoDotEntries(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	d := mustMkdir(t, root, "d")
	mustCreate(t, d, "f")

	entries, _, _, err := d.ReadDir(ctx, 0)
	require.NoError(t, err)
	for _, e := range entries {
		require.NotEqual(t, ".", e.Name)
		require.NotEqual(t, "..", e.Name)
	}
}

func (s *Suite) testReadDirNotDirectory(t *testing.T) {
	ctx := testContext()
	fs := s.NewFileSystem(t)
	root := mustRoot(t, fs)

	f := mustCreate(t, root, "f")

	_, _, _, err := f.ReadDir(ctx, 0)
	requireErrno(t, tide.ENOTDIR, err)
}
