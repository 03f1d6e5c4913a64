// Package badger implements the tide client interfaces on a local
// BadgerDB, making it the persistent single-host store.
//
// Node metadata lives in BadgerDB under namespaced keys (see keys.go);
// file payloads are delegated to a content.Store so the same metadata
// engine can keep bulk data in memory, on S3, or wherever else a payload
// backend exists. Object identifiers come from BadgerDB sequences and are
// never reused, so a node key either resolves to the node it always named
// or fails ESTALE.
//
// Writes run in optimistic transactions and retry on commit conflicts.
// The unlink-while-open contract is honored by marking records unlinked
// and reaping them after the last close or release; records orphaned by a
// crash are swept the next time the volume is opened.
package badger

import (
	"context"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/tidefs/tidegate/internal/logger"
	"github.com/tidefs/tidegate/pkg/metrics"
	"github.com/tidefs/tidegate/pkg/tide"
	"github.com/tidefs/tidegate/pkg/tide/content"
)

const (
	// rootIno and rootGen identify every volume's root directory.
	rootIno uint64 = 1
	rootGen uint64 = 1

	// seqBandwidth is how many identifiers a sequence lease reserves at
	// a time. Unused identifiers are discarded at release, which is fine:
	// the scheme depends on them never being reused, not on density.
	seqBandwidth uint64 = 128

	// defaultPageSize bounds one ReadDir page.
	defaultPageSize = 128

	// defaultCapacity is the advertised and enforced byte limit.
	defaultCapacity uint64 = 1 << 40

	// defaultMaxFiles is the advertised object-count limit.
	defaultMaxFiles uint64 = 1 << 20
)

// Config carries what Open needs. Content is required; everything else
// has a workable default.
type Config struct {
	// Dir is the directory BadgerDB keeps its files in. Ignored when
	// InMemory is set.
	Dir string

	// InMemory runs BadgerDB without any on-disk state. Intended for
	// tests.
	InMemory bool

	// Content holds file payloads. The store takes ownership and closes
	// it on Close.
	Content content.Store

	// Metrics instruments store operations. Nil disables collection.
	Metrics metrics.StoreMetrics

	// PageSize bounds the number of entries one ReadDir call returns.
	PageSize int

	// Capacity is the byte total reported by StatFS and enforced on
	// writes.
	Capacity uint64

	// MaxFiles is the object total reported by StatFS.
	MaxFiles uint64
}

func (c Config) withDefaults() Config {
	if c.Metrics == nil {
		c.Metrics = metrics.NewNoopStoreMetrics()
	}
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.Capacity == 0 {
		c.Capacity = defaultCapacity
	}
	if c.MaxFiles == 0 {
		c.MaxFiles = defaultMaxFiles
	}
	return c
}

// Store is a BadgerDB-backed tide.Connection. One Store can serve any
// number of volumes; each volume's keys carry its identity, so they
// coexist in the one database.
type Store struct {
	db      *badger.DB
	content content.Store
	metrics metrics.StoreMetrics
	cfg     Config

	mu          sync.Mutex
	filesystems map[string]*FileSystem
	closed      bool
}

var _ tide.Connection = (*Store)(nil)

// Open opens (or creates) the database and returns a connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Content == nil {
		return nil, fmt.Errorf("badger store: content store is required")
	}
	cfg = cfg.withDefaults()

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Dir)
	}
	// Metadata records are small and hot; compression buys nothing here.
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Dir, err)
	}

	return &Store{
		db:          db,
		content:     cfg.Content,
		metrics:     cfg.Metrics,
		cfg:         cfg,
		filesystems: make(map[string]*FileSystem),
	}, nil
}

// OpenFileSystem mounts the volume named by spec, initializing it on
// first contact and reusing the live instance on repeat opens.
func (s *Store) OpenFileSystem(ctx context.Context, spec tide.MountSpec) (tide.FileSystem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, &tide.StoreError{Errno: tide.ENODEV, Op: "open-filesystem", Path: spec.Volume}
	}

	id := spec.Pool.String() + "/" + spec.Volume
	if fs, ok := s.filesystems[id]; ok {
		return fs, nil
	}

	fs, err := s.openVolume(ctx, spec)
	if err != nil {
		return nil, err
	}
	s.filesystems[id] = fs
	return fs, nil
}

// forget drops a closed filesystem from the live table.
func (s *Store) forget(fs *FileSystem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, live := range s.filesystems {
		if live == fs {
			delete(s.filesystems, id)
			return
		}
	}
}

// Close releases every live volume's sequences, closes the content store
// and finally the database. The first error wins; later steps still run.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	remaining := make([]*FileSystem, 0, len(s.filesystems))
	for _, fs := range s.filesystems {
		remaining = append(remaining, fs)
	}
	s.filesystems = make(map[string]*FileSystem)
	s.mu.Unlock()

	var firstErr error
	for _, fs := range remaining {
		if err := fs.releaseSequences(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.content.Close(); err != nil {
		logger.Error("closing content store: %v", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	if err := s.db.Close(); err != nil {
		logger.Error("closing BadgerDB: %v", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
