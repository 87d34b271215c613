// Package persist defines the optional snapshot contract for saving and
// reloading a completed execution tree, for audit and replay (SPEC_FULL.md
// §4.6 expansion). The core tree package has no dependency on this package;
// a Store is attached externally once a run finishes.
package persist

import (
	"context"
	"time"

	"github.com/relayforge/gadgetloop/tree"
)

// Snapshot is a point-in-time capture of one run's execution tree.
type Snapshot struct {
	RunID      string
	Nodes      []*tree.Node
	CapturedAt time.Time
}

// Store persists and reloads Snapshots.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, runID string) (Snapshot, bool, error)
}

// Capture builds a Snapshot from every node currently in t.
func Capture(runID string, t *tree.Tree) Snapshot {
	ids := t.AllNodeIDs()
	nodes := make([]*tree.Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := t.GetNode(id); ok {
			nodes = append(nodes, n)
		}
	}
	return Snapshot{RunID: runID, Nodes: nodes}
}
