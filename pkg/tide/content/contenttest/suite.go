// Package contenttest provides a conformance suite for content.Store
// implementations. It exercises the interface contract only, so one suite
// covers every backend.
//
// Usage:
//
//	func TestMemoryContentStore(t *testing.T) {
//		suite := &contenttest.Suite{
//			NewStore: func(t *testing.T) content.Store {
//				return memory.New(memory.Options{})
//			},
//		}
//		suite.Run(t)
//	}
package contenttest

import (
	"context"
	"testing"

	"github.com/tidefs/tidegate/pkg/tide/content"
)

// Suite drives the shared contract tests against one backend.
type Suite struct {
	// NewStore returns a fresh, empty store for one test. Cleanup is the
	// factory's job, via t.Cleanup.
	NewStore func(t *testing.T) content.Store
}

// Run executes every test group.
func (s *Suite) Run(t *testing.T) {
	if s.NewStore == nil {
		t.Fatal("contenttest: Suite.NewStore is required")
	}
	t.Run("Reads", s.RunReadTests)
	t.Run("Writes", s.RunWriteTests)
	t.Run("Truncate", s.RunTruncateTests)
	t.Run("Remove", s.RunRemoveTests)
}

func testContext() context.Context {
	return context.Background()
}
