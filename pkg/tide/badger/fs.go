package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/tidefs/tidegate/internal/logger"
	"github.com/tidefs/tidegate/pkg/tide"
	"github.com/tidefs/tidegate/pkg/tide/content"
)

// FileSystem is one mounted volume of a Store.
//
// Persistent state lives in BadgerDB; the open table and pin counts are
// process-local runtime state guarded by mu. Write transactions never run
// under mu, so a slow content backend cannot stall unrelated bookkeeping.
type FileSystem struct {
	store  *Store
	spec   tide.MountSpec
	volume uuid.UUID
	dev    uint64

	inoSeq *badger.Sequence
	genSeq *badger.Sequence

	mu    sync.Mutex
	opens map[uint64]tide.OpenFlag
	pins  map[uint64]int
}

var _ tide.FileSystem = (*FileSystem)(nil)

// reapTarget names a node whose record and payload are due for deletion.
type reapTarget struct {
	ino uint64
	gen uint64
}

// openVolume builds the FileSystem for spec and runs first-open setup.
// The volume identity derives deterministically from the mount spec, so
// node keys stay stable across remounts and processes.
func (s *Store) openVolume(ctx context.Context, spec tide.MountSpec) (*FileSystem, error) {
	volume := uuid.NewSHA1(spec.Pool, []byte(spec.Volume))
	fs := &FileSystem{
		store:  s,
		spec:   spec,
		volume: volume,
		dev:    binary.BigEndian.Uint64(volume[0:8]),
		opens:  make(map[uint64]tide.OpenFlag),
		pins:   make(map[uint64]int),
	}

	var err error
	fs.inoSeq, err = s.db.GetSequence(keySequence(volume, "ino"), seqBandwidth)
	if err != nil {
		return nil, fmt.Errorf("failed to open ino sequence for %s: %w", spec.Volume, err)
	}
	fs.genSeq, err = s.db.GetSequence(keySequence(volume, "gen"), seqBandwidth)
	if err != nil {
		_ = fs.inoSeq.Release()
		return nil, fmt.Errorf("failed to open gen sequence for %s: %w", spec.Volume, err)
	}

	if err := fs.initVolume(ctx); err != nil {
		_ = fs.releaseSequences()
		return nil, err
	}
	fs.sweepOrphans(ctx)
	return fs, nil
}

// initVolume writes the volume singleton, the root directory and the
// usage counters on first open. Reopens find the singleton and leave
// everything alone.
func (fs *FileSystem) initVolume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fs.update("init-volume", func(txn *badger.Txn) error {
		_, err := txn.Get(keyVolume(fs.volume))
		if err == nil {
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return err
		}

		now := time.Now()
		vol, err := encodeVolume(&volumeRecord{
			Volume:    fs.volume,
			Pool:      fs.spec.Pool,
			Name:      fs.spec.Volume,
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
		if err := txn.Set(keyVolume(fs.volume), vol); err != nil {
			return err
		}

		root := &nodeRecord{
			Ino:    rootIno,
			Gen:    rootGen,
			Mode:   tide.ModeDir | 0o755,
			NLink:  2,
			Parent: rootIno,
			ATime:  now,
			MTime:  now,
			CTime:  now,
		}
		if err := fs.storeNode(txn, root); err != nil {
			return err
		}

		if err := txn.Set(keyCounter(fs.volume, counterFiles), encodeUint64(1)); err != nil {
			return err
		}
		return txn.Set(keyCounter(fs.volume, counterUsed), encodeUint64(0))
	})
}

// sweepOrphans reaps nodes a previous process unlinked but never deleted
// (crash between the unlink and the last close). Failures only log: the
// next open retries.
func (fs *FileSystem) sweepOrphans(ctx context.Context) {
	var orphans []reapTarget
	err := fs.store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyNodePrefix(fs.volume)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				rec, err := decodeNode(val)
				if err != nil {
					return err
				}
				if rec.Unlinked {
					orphans = append(orphans, reapTarget{rec.Ino, rec.Gen})
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Warn("orphan sweep of %s failed: %v", fs.spec.Volume, err)
		return
	}

	for _, o := range orphans {
		fs.reapNode(ctx, o.ino, o.gen)
	}
	if len(orphans) > 0 {
		logger.Info("swept %d orphaned nodes from %s", len(orphans), fs.spec.Volume)
	}
}

// LookupPath resolves an absolute slash-separated path from the volume
// root.
func (fs *FileSystem) LookupPath(ctx context.Context, path string) (_ tide.NodeHandle, err error) {
	defer fs.observe("lookup-path", time.Now(), &err)
	if err = ctx.Err(); err != nil {
		return nil, err
	}
	if len(path) == 0 || path[0] != '/' {
		return nil, &tide.StoreError{Errno: tide.EINVAL, Op: "lookup-path", Path: path}
	}

	var ino, gen uint64
	err = fs.store.db.View(func(txn *badger.Txn) error {
		cur, err := fs.loadNode(txn, rootIno)
		if err != nil {
			return err
		}
		for _, name := range strings.Split(path, "/") {
			if name == "" {
				continue
			}
			if !cur.isDir() {
				return &tide.StoreError{Errno: tide.ENOTDIR, Op: "lookup-path", Path: path}
			}
			childIno, err := fs.getDirent(txn, cur.Ino, name)
			if err != nil {
				if tide.IsErrno(err, tide.ENOENT) {
					return &tide.StoreError{Errno: tide.ENOENT, Op: "lookup-path", Path: path}
				}
				return err
			}
			if cur, err = fs.loadNode(txn, childIno); err != nil {
				return err
			}
		}
		ino, gen = cur.Ino, cur.Gen
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fs.pin(ino, gen), nil
}

// LookupHandle resolves a node key. Keys from other volumes or for nodes
// that no longer exist fail ESTALE.
func (fs *FileSystem) LookupHandle(ctx context.Context, key tide.NodeKey) (_ tide.NodeHandle, err error) {
	defer fs.observe("lookup-handle", time.Now(), &err)
	if err = ctx.Err(); err != nil {
		return nil, err
	}
	if key.Volume != fs.volume {
		return nil, &tide.StoreError{Errno: tide.ESTALE, Op: "lookup-handle", Path: key.String()}
	}

	err = fs.store.db.View(func(txn *badger.Txn) error {
		rec, err := fs.loadNode(txn, key.Ino)
		if err != nil {
			return err
		}
		if rec.Gen != key.Gen {
			return &tide.StoreError{Errno: tide.ESTALE, Op: "lookup-handle", Path: key.String()}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fs.pin(key.Ino, key.Gen), nil
}

// Rename moves oldName from oldDir to newName under newDir, replacing a
// compatible existing target.
func (fs *FileSystem) Rename(ctx context.Context, oldDir tide.NodeHandle, oldName string, newDir tide.NodeHandle, newName string) (err error) {
	defer fs.observe("rename", time.Now(), &err)
	if err = ctx.Err(); err != nil {
		return err
	}
	src, err := fs.ownHandle(oldDir, "rename")
	if err != nil {
		return err
	}
	dst, err := fs.ownHandle(newDir, "rename")
	if err != nil {
		return err
	}

	var reap *reapTarget
	err = fs.update("rename", func(txn *badger.Txn) error {
		reap = nil

		srcRec, err := fs.loadNode(txn, src.ino)
		if err != nil {
			return err
		}
		dstRec := srcRec
		if dst.ino != src.ino {
			if dstRec, err = fs.loadNode(txn, dst.ino); err != nil {
				return err
			}
		}
		if !srcRec.isDir() || !dstRec.isDir() {
			return &tide.StoreError{Errno: tide.ENOTDIR, Op: "rename", Path: oldName}
		}

		movingIno, err := fs.getDirent(txn, src.ino, oldName)
		if err != nil {
			return err
		}
		moving, err := fs.loadNode(txn, movingIno)
		if err != nil {
			return err
		}

		targetIno, terr := fs.getDirent(txn, dst.ino, newName)
		switch {
		case terr == nil && targetIno == movingIno:
			// Renaming an entry onto itself succeeds untouched.
			return nil
		case terr == nil:
			target, err := fs.loadNode(txn, targetIno)
			if err != nil {
				return err
			}
			switch {
			case target.isDir() && !moving.isDir():
				return &tide.StoreError{Errno: tide.EISDIR, Op: "rename", Path: newName}
			case !target.isDir() && moving.isDir():
				return &tide.StoreError{Errno: tide.ENOTDIR, Op: "rename", Path: newName}
			case target.isDir() && fs.hasDirents(txn, targetIno):
				return &tide.StoreError{Errno: tide.ENOTEMPTY, Op: "rename", Path: newName}
			}
			if reap, err = fs.detachNode(txn, dstRec, newName, target); err != nil {
				return err
			}
		case !tide.IsErrno(terr, tide.ENOENT):
			return terr
		}

		if err := txn.Delete(keyDirent(fs.volume, src.ino, oldName)); err != nil {
			return err
		}
		if err := txn.Set(keyDirent(fs.volume, dst.ino, newName), encodeUint64(movingIno)); err != nil {
			return err
		}

		now := time.Now()
		moving.Parent = dstRec.Ino
		moving.CTime = now
		if moving.isDir() && src.ino != dst.ino {
			srcRec.NLink--
			dstRec.NLink++
		}
		if err := fs.storeNode(txn, moving); err != nil {
			return err
		}
		srcRec.MTime, srcRec.CTime = now, now
		if err := fs.storeNode(txn, srcRec); err != nil {
			return err
		}
		if dst.ino != src.ino {
			dstRec.MTime, dstRec.CTime = now, now
			if err := fs.storeNode(txn, dstRec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if reap != nil {
		fs.reapNode(ctx, reap.ino, reap.gen)
	}
	return nil
}

// StatFS reports the maintained usage counters against the configured
// limits.
func (fs *FileSystem) StatFS(ctx context.Context) (_ tide.FSStat, err error) {
	defer fs.observe("statfs", time.Now(), &err)
	if err = ctx.Err(); err != nil {
		return tide.FSStat{}, err
	}

	var used, files uint64
	err = fs.store.db.View(func(txn *badger.Txn) error {
		var verr error
		if used, verr = fs.counter(txn, counterUsed); verr != nil {
			return verr
		}
		files, verr = fs.counter(txn, counterFiles)
		return verr
	})
	if err != nil {
		return tide.FSStat{}, err
	}

	capacity := fs.store.cfg.Capacity
	maxFiles := fs.store.cfg.MaxFiles
	freeBytes := uint64(0)
	if used < capacity {
		freeBytes = capacity - used
	}
	freeFiles := uint64(0)
	if files < maxFiles {
		freeFiles = maxFiles - files
	}

	return tide.FSStat{
		TotalBytes: capacity,
		FreeBytes:  freeBytes,
		AvailBytes: freeBytes,
		TotalFiles: maxFiles,
		FreeFiles:  freeFiles,
		AvailFiles: freeFiles,
	}, nil
}

// Close detaches the volume and releases its sequences. Node state stays
// in the database; reopening the volume picks it back up.
func (fs *FileSystem) Close() error {
	fs.store.forget(fs)
	return fs.releaseSequences()
}

// Volume returns the derived volume identity (the NodeKey namespace).
func (fs *FileSystem) Volume() uuid.UUID {
	return fs.volume
}

func (fs *FileSystem) releaseSequences() error {
	var firstErr error
	if err := fs.inoSeq.Release(); err != nil {
		firstErr = err
	}
	if err := fs.genSeq.Release(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// update runs fn in a read-write transaction, retrying commit conflicts.
// fn must tolerate re-execution from scratch.
func (fs *FileSystem) update(op string, fn func(txn *badger.Txn) error) error {
	for {
		err := fs.store.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		fs.store.metrics.RecordTxnRetry(op)
	}
}

func (fs *FileSystem) observe(op string, start time.Time, errp *error) {
	fs.store.metrics.RecordOperation(op, time.Since(start), *errp)
}

// pin hands out a pinned handle for an ino/gen pair.
func (fs *FileSystem) pin(ino, gen uint64) *nodeHandle {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.pins[ino]++
	return &nodeHandle{fs: fs, ino: ino, gen: gen}
}

// isBusy reports whether the node is held open or pinned right now.
func (fs *FileSystem) isBusy(ino uint64) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, open := fs.opens[ino]
	return open || fs.pins[ino] > 0
}

// ownHandle checks a caller-supplied handle belongs to this filesystem.
func (fs *FileSystem) ownHandle(h tide.NodeHandle, op string) (*nodeHandle, error) {
	nh, ok := h.(*nodeHandle)
	if !ok || nh.fs != fs {
		return nil, &tide.StoreError{Errno: tide.EXDEV, Op: op}
	}
	return nh, nil
}

// loadNode reads a node record. A missing record means the node is dead:
// whoever still holds its identity gets ESTALE.
func (fs *FileSystem) loadNode(txn *badger.Txn, ino uint64) (*nodeRecord, error) {
	item, err := txn.Get(keyNode(fs.volume, ino))
	if err == badger.ErrKeyNotFound {
		return nil, &tide.StoreError{Errno: tide.ESTALE, Op: "load-node", Path: fmt.Sprintf("%016x", ino)}
	}
	if err != nil {
		return nil, err
	}
	var rec *nodeRecord
	err = item.Value(func(val []byte) error {
		r, derr := decodeNode(val)
		if derr != nil {
			return derr
		}
		rec = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (fs *FileSystem) storeNode(txn *badger.Txn, rec *nodeRecord) error {
	data, err := encodeNode(rec)
	if err != nil {
		return err
	}
	return txn.Set(keyNode(fs.volume, rec.Ino), data)
}

// getDirent resolves one name in a directory to the child ino.
func (fs *FileSystem) getDirent(txn *badger.Txn, dir uint64, name string) (uint64, error) {
	item, err := txn.Get(keyDirent(fs.volume, dir, name))
	if err == badger.ErrKeyNotFound {
		return 0, &tide.StoreError{Errno: tide.ENOENT, Op: "lookup", Path: name}
	}
	if err != nil {
		return 0, err
	}
	var ino uint64
	err = item.Value(func(val []byte) error {
		v, derr := decodeUint64(val)
		if derr != nil {
			return derr
		}
		ino = v
		return nil
	})
	return ino, err
}

// hasDirents reports whether a directory has any entries at all.
func (fs *FileSystem) hasDirents(txn *badger.Txn, dir uint64) bool {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = keyDirentPrefix(fs.volume, dir)
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()
	it.Rewind()
	return it.Valid()
}

// detachNode removes name from dir and marks the node for reaping. The
// caller persists dir afterwards. Busy nodes linger unlinked until the
// last close or release; for them the returned target is nil.
func (fs *FileSystem) detachNode(txn *badger.Txn, dir *nodeRecord, name string, node *nodeRecord) (*reapTarget, error) {
	if err := txn.Delete(keyDirent(fs.volume, dir.Ino, name)); err != nil {
		return nil, err
	}
	node.Unlinked = true
	if node.isDir() {
		node.NLink = 0
		dir.NLink--
	} else if node.NLink > 0 {
		node.NLink--
	}
	if err := fs.storeNode(txn, node); err != nil {
		return nil, err
	}
	if fs.isBusy(node.Ino) {
		return nil, nil
	}
	return &reapTarget{ino: node.Ino, gen: node.Gen}, nil
}

// reapNode deletes an unlinked node's record and payload. The busy
// re-check inside the transaction closes the race against a concurrent
// re-pin through LookupHandle.
func (fs *FileSystem) reapNode(ctx context.Context, ino, gen uint64) {
	reaped := false
	err := fs.update("reap", func(txn *badger.Txn) error {
		reaped = false
		if fs.isBusy(ino) {
			return nil
		}
		rec, err := fs.loadNode(txn, ino)
		if err != nil {
			if tide.IsErrno(err, tide.ESTALE) {
				return nil
			}
			return err
		}
		if !rec.Unlinked || rec.Gen != gen {
			return nil
		}
		if err := txn.Delete(keyNode(fs.volume, ino)); err != nil {
			return err
		}
		if err := fs.addCounter(txn, counterFiles, -1); err != nil {
			return err
		}
		if err := fs.addCounter(txn, counterUsed, -int64(rec.Size)); err != nil {
			return err
		}
		reaped = true
		return nil
	})
	if err != nil {
		logger.Warn("reap of node %016x in %s failed: %v", ino, fs.spec.Volume, err)
		return
	}
	if reaped {
		id := fs.contentID(ino, gen)
		if err := fs.store.content.Remove(ctx, id); err != nil {
			logger.Warn("payload %s of reaped node left behind: %v", id, err)
		}
	}
}

func (fs *FileSystem) counter(txn *badger.Txn, name string) (uint64, error) {
	item, err := txn.Get(keyCounter(fs.volume, name))
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v uint64
	err = item.Value(func(val []byte) error {
		c, derr := decodeUint64(val)
		if derr != nil {
			return derr
		}
		v = c
		return nil
	})
	return v, err
}

// addCounter adjusts a usage counter. Drift after a crash clamps at zero
// rather than wrapping.
func (fs *FileSystem) addCounter(txn *badger.Txn, name string, delta int64) error {
	v, err := fs.counter(txn, name)
	if err != nil {
		return err
	}
	switch {
	case delta < 0 && uint64(-delta) >= v:
		v = 0
	case delta < 0:
		v -= uint64(-delta)
	default:
		v += uint64(delta)
	}
	return txn.Set(keyCounter(fs.volume, name), encodeUint64(v))
}

// allocIno returns a fresh object identifier. Sequences count from zero
// and the root owns 1, so allocations start at 2.
func (fs *FileSystem) allocIno() (uint64, error) {
	n, err := fs.inoSeq.Next()
	if err != nil {
		return 0, fmt.Errorf("ino sequence: %w", err)
	}
	return n + 2, nil
}

func (fs *FileSystem) allocGen() (uint64, error) {
	n, err := fs.genSeq.Next()
	if err != nil {
		return 0, fmt.Errorf("gen sequence: %w", err)
	}
	return n + 2, nil
}

// contentID names a node's payload in the content store. It matches the
// node key's log form so payloads correlate by eye.
func (fs *FileSystem) contentID(ino, gen uint64) content.ID {
	return content.ID(tide.NodeKey{Volume: fs.volume, Ino: ino, Gen: gen}.String())
}

// contentFault maps a payload backend failure into the store's error
// domain. Errors already carrying an errno pass through; the rest are
// logged with their cause and flattened to EIO.
func contentFault(op string, id content.ID, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := tide.ErrnoOf(err); ok {
		return err
	}
	logger.Error("content backend %s of %s failed: %v", op, id, err)
	return &tide.StoreError{Errno: tide.EIO, Op: op, Path: string(id)}
}
