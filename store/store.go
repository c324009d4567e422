// Package store provides persistence implementations for the run engine.
// The Store interface is defined in the root replayflow package
// (../store_interface.go) to avoid import cycles.
//
// This package contains concrete implementations:
//   - DynamoDBStore: AWS DynamoDB single-table backend
//   - MemoryStore: in-memory backend for tests and single-process use
//
// Schema design follows single-table patterns defined in schema.go.
package store

import (
	"sort"

	"github.com/sicko7947/replayflow"
)

// DefaultListLimit caps ListRuns when the filter sets no limit
const DefaultListLimit = 100

// sortAndLimit orders runs newest first and applies the filter limit
func sortAndLimit(runs []*replayflow.Run, limit int) []*replayflow.Run {
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs
}
