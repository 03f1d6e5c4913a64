// Package tidetest holds the conformance suite every tide.FileSystem
// implementation must pass. It tests the interface contract, not
// implementation details, so the same suite runs against the memory
// store and the BadgerDB store.
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//	    suite := &tidetest.Suite{
//	        NewFileSystem: func(t *testing.T) tide.FileSystem {
//	            return mystore.OpenForTest(t)
//	        },
//	        PageSize: 4,
//	    }
//	    suite.Run(t)
//	}
package tidetest

import (
	"context"
	"testing"

	"github.com/tidefs/tidegate/pkg/tide"
)

// Suite drives the conformance tests against one implementation.
type Suite struct {
	// NewFileSystem returns a fresh, empty filesystem for one test.
	// Factories register their own teardown with t.Cleanup; test
	// isolation depends on every call producing independent state.
	NewFileSystem func(t *testing.T) tide.FileSystem

	// PageSize must match the ReadDir page size the factory configured.
	// The paging tests size their directories from it.
	PageSize int
}

// Run executes the whole suite.
func (s *Suite) Run(t *testing.T) {
	if s.PageSize <= 0 {
		t.Fatal("tidetest: Suite.PageSize must be set to the configured ReadDir page size")
	}

	t.Run("Lookup", s.RunLookupTests)
	t.Run("Create", s.RunCreateTests)
	t.Run("Mkdir", s.RunMkdirTests)
	t.Run("OpenClose", s.RunOpenTests)
	t.Run("ReadWrite", s.RunReadWriteTests)
	t.Run("Truncate", s.RunTruncateTests)
	t.Run("Unlink", s.RunUnlinkTests)
	t.Run("Rename", s.RunRenameTests)
	t.Run("ReadDir", s.RunReadDirTests)
	t.Run("Attributes", s.RunAttrTests)
	t.Run("Keys", s.RunKeyTests)
	t.Run("StatFS", s.RunStatFSTests)
}

// testContext returns a standard test context.
func testContext() context.Context {
	return context.Background()
}
