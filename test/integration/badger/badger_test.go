//go:build integration

// Package badger_test runs the filesystem conformance suite against a
// disk-backed badger store. The in-package tests run the same suite in
// memory; this variant exercises the value log and on-disk layout.
//
// Prerequisites:
//   - None (badger is embedded, no external services needed)
//   - Run with: go test -tags=integration ./test/integration/badger
package badger_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tidefs/tidegate/pkg/tide"
	badgerstore "github.com/tidefs/tidegate/pkg/tide/badger"
	contentmem "github.com/tidefs/tidegate/pkg/tide/content/memory"
	"github.com/tidefs/tidegate/pkg/tide/tidetest"
)

const pageSize = 8

func TestBadgerStoreOnDisk(t *testing.T) {
	suite := &tidetest.Suite{
		NewFileSystem: func(t *testing.T) tide.FileSystem {
			store, err := badgerstore.Open(context.Background(), badgerstore.Config{
				Dir:      t.TempDir(),
				Content:  contentmem.New(contentmem.Options{}),
				PageSize: pageSize,
			})
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })

			fs, err := store.OpenFileSystem(context.Background(), tide.MountSpec{
				Pool:   uuid.NewSHA1(uuid.NameSpaceOID, []byte("integration-pool")),
				Volume: "disk",
			})
			require.NoError(t, err)
			return fs
		},
		PageSize: pageSize,
	}
	suite.Run(t)
}
