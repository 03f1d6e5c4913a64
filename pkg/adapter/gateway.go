// Package adapter bridges a network file-access protocol server and the
// Tide distributed storage backend.
//
// The protocol server deals in opaque wire handles, attribute masks,
// open-state tokens and share reservations; Tide deals in pinned node
// handles addressed by fixed-size node keys. The adapter owns the mapping
// between the two: a Gateway wraps one Tide connection, an Export is one
// mounted filesystem, and a Handle binds one protocol-visible object to
// one pinned backend node together with the share-reservation counters
// that arbitrate concurrent opens of it.
//
// Every failing operation returns a *vfs.StatusError whose major code
// comes from a fixed errno translation table and whose minor code
// preserves the store's original errno.
package adapter

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tidefs/tidegate/internal/logger"
	"github.com/tidefs/tidegate/pkg/metrics"
	"github.com/tidefs/tidegate/pkg/tide"
	"github.com/tidefs/tidegate/pkg/vfs"
)

// ============================================================================
// Gateway
// ============================================================================

// Options configures a Gateway.
type Options struct {
	// Metrics receives operation outcomes, share conflicts, transfer
	// volumes and the live-handle gauge. nil discards them all.
	Metrics metrics.AdapterMetrics

	// Umask masks permission bits off every mode this gateway creates
	// objects with.
	Umask uint32

	// Limits overrides the static capabilities reported for each
	// export. nil selects vfs.DefaultFSLimits.
	Limits *vfs.FSLimits
}

// Gateway owns one Tide connection and every export mounted through it.
// The connection is injected by whoever composes the service; the gateway
// never dials on its own and closes the connection only in Close.
type Gateway struct {
	conn    tide.Connection
	metrics metrics.AdapterMetrics
	umask   uint32
	limits  vfs.FSLimits

	mu       sync.Mutex
	exports  []*Export
	detached []tide.FileSystem

	liveHandles atomic.Int64
}

// NewGateway wraps an established Tide connection.
func NewGateway(conn tide.Connection, opts Options) *Gateway {
	m := opts.Metrics
	if m == nil {
		m = metrics.NewNoopAdapterMetrics()
	}
	limits := vfs.DefaultFSLimits()
	if opts.Limits != nil {
		limits = *opts.Limits
	}
	return &Gateway{
		conn:    conn,
		metrics: m,
		umask:   opts.Umask,
		limits:  limits,
	}
}

// Mount attaches the filesystem addressed by spec and resolves its root
// into the export's long-lived root handle.
func (g *Gateway) Mount(ctx context.Context, spec tide.MountSpec) (*Export, error) {
	fs, err := g.conn.OpenFileSystem(ctx, spec)
	if err != nil {
		return nil, translateError("mount", err)
	}

	export := &Export{
		gateway: g,
		fs:      fs,
		spec:    spec,
		umask:   g.umask,
		limits:  g.limits,
	}

	root, _, err := export.LookupPath(ctx, "/")
	if err != nil {
		if cerr := fs.Close(); cerr != nil {
			logger.Warn("mount %s/%s: closing after failed root lookup: %v",
				spec.Pool, spec.Volume, cerr)
		}
		return nil, err
	}
	root.isRoot = true
	export.root = root

	g.mu.Lock()
	g.exports = append(g.exports, export)
	g.mu.Unlock()

	logger.Info("mounted %s/%s", spec.Pool, spec.Volume)
	return export, nil
}

// detach moves an unmounted export's filesystem to the detached list.
// Handles that outlive their export keep working against the store; the
// filesystem itself closes in the gateway's final teardown step.
func (g *Gateway) detach(e *Export) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, cur := range g.exports {
		if cur == e {
			g.exports = append(g.exports[:i], g.exports[i+1:]...)
			g.detached = append(g.detached, e.fs)
			return
		}
	}
}

// Close tears the gateway down: remaining exports unmount, then every
// detached filesystem closes, then the connection. The filesystem closes
// run as the distinct last step so nothing is pulled out from under a
// handle released during unmount.
func (g *Gateway) Close() error {
	g.mu.Lock()
	remaining := make([]*Export, len(g.exports))
	copy(remaining, g.exports)
	g.mu.Unlock()

	for _, e := range remaining {
		e.Unmount()
	}

	g.mu.Lock()
	detached := g.detached
	g.detached = nil
	g.mu.Unlock()

	var firstErr error
	for _, fs := range detached {
		if err := fs.Close(); err != nil {
			logger.Error("closing filesystem: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := g.conn.Close(); err != nil {
		logger.Error("closing connection: %v", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (g *Gateway) handleConstructed() {
	g.metrics.SetLiveHandles(g.liveHandles.Add(1))
}

func (g *Gateway) handleReleased() {
	g.metrics.SetLiveHandles(g.liveHandles.Add(-1))
}
