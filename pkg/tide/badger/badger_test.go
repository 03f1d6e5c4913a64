package badger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tidefs/tidegate/pkg/tide"
	contentmem "github.com/tidefs/tidegate/pkg/tide/content/memory"
	"github.com/tidefs/tidegate/pkg/tide/tidetest"
)

const testPageSize = 4

func testSpec(volume string) tide.MountSpec {
	return tide.MountSpec{
		Pool:   uuid.NewSHA1(uuid.NameSpaceOID, []byte("test-pool")),
		Volume: volume,
	}
}

func openTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	if cfg.Content == nil {
		cfg.Content = contentmem.New(contentmem.Options{})
	}
	if cfg.Dir == "" {
		cfg.InMemory = true
	}
	store, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// TestBadgerStore runs the shared conformance suite against the badger
// implementation.
func TestBadgerStore(t *testing.T) {
	suite := &tidetest.Suite{
		NewFileSystem: func(t *testing.T) tide.FileSystem {
			store := openTestStore(t, Config{PageSize: testPageSize})
			fs, err := store.OpenFileSystem(context.Background(), testSpec("vol"))
			require.NoError(t, err)
			return fs
		},
		PageSize: testPageSize,
	}
	suite.Run(t)
}

func TestContentStoreRequired(t *testing.T) {
	_, err := Open(context.Background(), Config{InMemory: true})
	require.Error(t, err)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	spec := testSpec("durable")

	var fileKey, rootKey tide.NodeKey
	var before tide.FSStat

	// First lifetime: build a small tree, then shut down cleanly.
	{
		store, err := Open(ctx, Config{Dir: dir, Content: contentmem.New(contentmem.Options{})})
		require.NoError(t, err)

		fs, err := store.OpenFileSystem(ctx, spec)
		require.NoError(t, err)
		root, err := fs.LookupPath(ctx, "/")
		require.NoError(t, err)
		rootKey = root.Key()

		sub, err := root.Mkdir(ctx, "docs", &tide.Stat{Mode: 0o755})
		require.NoError(t, err)
		st := tide.Stat{Mode: 0o644}
		f, err := sub.Create(ctx, "notes.txt", &st, 0)
		require.NoError(t, err)
		fileKey = f.Key()

		require.NoError(t, f.Open(ctx, tide.OpenWrite))
		_, err = f.Write(ctx, 0, []byte("persisted"))
		require.NoError(t, err)
		require.NoError(t, f.Close(ctx))

		before, err = fs.StatFS(ctx)
		require.NoError(t, err)

		f.Release()
		sub.Release()
		root.Release()
		require.NoError(t, store.Close())
	}

	// Second lifetime: records, dirents, and counters come back from disk.
	// Payload bytes live in the content store, which is fresh here.
	store := openTestStore(t, Config{Dir: dir, Content: contentmem.New(contentmem.Options{})})
	fs, err := store.OpenFileSystem(ctx, spec)
	require.NoError(t, err)

	root, err := fs.LookupPath(ctx, "/")
	require.NoError(t, err)
	defer root.Release()
	require.Equal(t, rootKey, root.Key())

	f, err := fs.LookupPath(ctx, "/docs/notes.txt")
	require.NoError(t, err)
	defer f.Release()
	require.Equal(t, fileKey, f.Key())

	got, err := f.GetAttr(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(len("persisted")), got.Size)

	after, err := fs.StatFS(ctx)
	require.NoError(t, err)
	require.Equal(t, before.FreeBytes, after.FreeBytes)
	require.Equal(t, before.FreeFiles, after.FreeFiles)

	// The inode sequence resumes past everything already allocated.
	st := tide.Stat{Mode: 0o644}
	fresh, err := root.Create(ctx, "fresh.txt", &st, 0)
	require.NoError(t, err)
	defer fresh.Release()
	require.NotEqual(t, fileKey.Ino, fresh.Key().Ino)
}

func TestOrphanSweepAtOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	spec := testSpec("sweep")

	var victimKey tide.NodeKey
	var fresh tide.FSStat

	// First lifetime: unlink a file while it is open, then crash-close the
	// store with the handle still live. The record stays behind, unlinked.
	{
		store, err := Open(ctx, Config{Dir: dir, Content: contentmem.New(contentmem.Options{})})
		require.NoError(t, err)

		fs, err := store.OpenFileSystem(ctx, spec)
		require.NoError(t, err)
		root, err := fs.LookupPath(ctx, "/")
		require.NoError(t, err)

		fresh, err = fs.StatFS(ctx)
		require.NoError(t, err)

		st := tide.Stat{Mode: 0o644}
		f, err := root.Create(ctx, "victim", &st, 0)
		require.NoError(t, err)
		victimKey = f.Key()

		require.NoError(t, f.Open(ctx, tide.OpenWrite))
		_, err = f.Write(ctx, 0, []byte("doomed bytes"))
		require.NoError(t, err)
		require.NoError(t, root.Unlink(ctx, "victim"))

		require.NoError(t, store.Close())
	}

	// Second lifetime: the sweep runs at volume open and reaps the orphan.
	store := openTestStore(t, Config{Dir: dir, Content: contentmem.New(contentmem.Options{})})
	fs, err := store.OpenFileSystem(ctx, spec)
	require.NoError(t, err)

	_, err = fs.LookupHandle(ctx, victimKey)
	require.True(t, tide.IsErrno(err, tide.ESTALE), "want ESTALE, got %v", err)

	after, err := fs.StatFS(ctx)
	require.NoError(t, err)
	require.Equal(t, fresh.FreeBytes, after.FreeBytes)
	require.Equal(t, fresh.FreeFiles, after.FreeFiles)
}

func TestVolumesIsolated(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, Config{})

	mount := func(volume string) (tide.FileSystem, tide.NodeHandle) {
		fs, err := store.OpenFileSystem(ctx, testSpec(volume))
		require.NoError(t, err)
		root, err := fs.LookupPath(ctx, "/")
		require.NoError(t, err)
		t.Cleanup(root.Release)
		return fs, root
	}

	fsA, rootA := mount("alpha")
	fsB, rootB := mount("beta")
	require.NotEqual(t, rootA.Key().Volume, rootB.Key().Volume)

	write := func(root tide.NodeHandle, payload string) tide.NodeKey {
		st := tide.Stat{Mode: 0o644}
		f, err := root.Create(ctx, "shared-name", &st, 0)
		require.NoError(t, err)
		t.Cleanup(f.Release)
		require.NoError(t, f.Open(ctx, tide.OpenWrite))
		_, err = f.Write(ctx, 0, []byte(payload))
		require.NoError(t, err)
		require.NoError(t, f.Close(ctx))
		return f.Key()
	}

	keyA := write(rootA, "alpha data")
	keyB := write(rootB, "beta data")
	require.NotEqual(t, keyA, keyB)

	// Handles do not cross volumes.
	_, err := fsB.LookupHandle(ctx, keyA)
	require.True(t, tide.IsErrno(err, tide.ESTALE), "want ESTALE, got %v", err)

	// Neither do rename destinations.
	err = fsA.Rename(ctx, rootA, "shared-name", rootB, "stolen")
	require.True(t, tide.IsErrno(err, tide.EXDEV), "want EXDEV, got %v", err)

	f, err := fsA.LookupPath(ctx, "/shared-name")
	require.NoError(t, err)
	defer f.Release()
	require.NoError(t, f.Open(ctx, tide.OpenRead))
	buf := make([]byte, 32)
	n, err := f.Read(ctx, 0, buf)
	require.NoError(t, err)
	require.NoError(t, f.Close(ctx))
	require.Equal(t, "alpha data", string(buf[:n]))
}

func TestClosedStoreRejectsMounts(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, Config{})
	require.NoError(t, store.Close())

	_, err := store.OpenFileSystem(ctx, testSpec("late"))
	require.True(t, tide.IsErrno(err, tide.ENODEV), "want ENODEV, got %v", err)
}

// recordingMetrics captures every metrics call for assertions.
type recordingMetrics struct {
	mu         sync.Mutex
	operations map[string]int
	bytes      map[string]int64
	retries    int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		operations: make(map[string]int),
		bytes:      make(map[string]int64),
	}
}

func (m *recordingMetrics) RecordOperation(operation string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations[operation]++
}

func (m *recordingMetrics) RecordTxnRetry(operation string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}

func (m *recordingMetrics) RecordContentBytes(direction string, bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytes[direction] += bytes
}

func TestMetricsRecorded(t *testing.T) {
	ctx := context.Background()
	recorder := newRecordingMetrics()
	store := openTestStore(t, Config{Metrics: recorder})

	fs, err := store.OpenFileSystem(ctx, testSpec("observed"))
	require.NoError(t, err)
	root, err := fs.LookupPath(ctx, "/")
	require.NoError(t, err)
	defer root.Release()

	st := tide.Stat{Mode: 0o644}
	f, err := root.Create(ctx, "f", &st, 0)
	require.NoError(t, err)
	defer f.Release()

	require.NoError(t, f.Open(ctx, tide.OpenWrite))
	_, err = f.Write(ctx, 0, []byte("count me"))
	require.NoError(t, err)
	require.NoError(t, f.Close(ctx))

	require.NoError(t, f.Open(ctx, tide.OpenRead))
	buf := make([]byte, 8)
	_, err = f.Read(ctx, 0, buf)
	require.NoError(t, err)
	require.NoError(t, f.Close(ctx))

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	for _, op := range []string{"lookup-path", "create", "open", "write", "read", "close"} {
		require.Positive(t, recorder.operations[op], "operation %q not recorded", op)
	}
	require.Equal(t, int64(len("count me")), recorder.bytes["write"])
	require.Equal(t, int64(8), recorder.bytes["read"])
}
