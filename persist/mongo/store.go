// Package mongo implements persist.Store on top of MongoDB, grounded on
// goa-ai's features/run/mongo and features/session/mongo stores (same
// upsert-by-id, timeout-wrapped shape), adapted to the v2 driver for
// snapshot documents instead of run metadata.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/relayforge/gadgetloop/persist"
	"github.com/relayforge/gadgetloop/tree"
)

const (
	defaultCollection = "agent_tree_snapshots"
	defaultOpTimeout   = 5 * time.Second
)

// Options configures the Mongo-backed Store.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Store implements persist.Store by upserting one document per run id.
type Store struct {
	coll    *mongodriver.Collection
	timeout time.Duration
}

// NewStore builds a Store from a connected Mongo client.
func NewStore(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("persist/mongo: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("persist/mongo: database is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	coll := opts.Client.Database(opts.Database).Collection(collection)
	return &Store{coll: coll, timeout: timeout}, nil
}

type nodeDoc struct {
	ID               tree.NodeID  `bson:"_id"`
	Kind             tree.NodeKind `bson:"kind"`
	ParentID         tree.NodeID  `bson:"parent_id"`
	Depth            int          `bson:"depth"`
	Name             string       `bson:"name,omitempty"`
	Result           string       `bson:"result,omitempty"`
	State            tree.GadgetState `bson:"state,omitempty"`
	CreatedAt        time.Time    `bson:"created_at"`
}

type snapshotDoc struct {
	RunID      string    `bson:"_id"`
	CapturedAt time.Time `bson:"captured_at"`
	Nodes      []nodeDoc `bson:"nodes"`
}

func toDoc(snap persist.Snapshot) snapshotDoc {
	nodes := make([]nodeDoc, len(snap.Nodes))
	for i, n := range snap.Nodes {
		nodes[i] = nodeDoc{
			ID:        n.ID,
			Kind:      n.Kind,
			ParentID:  n.ParentID,
			Depth:     n.Depth,
			Name:      n.Name,
			Result:    n.Result,
			State:     n.State,
			CreatedAt: n.CreatedAt,
		}
	}
	return snapshotDoc{RunID: snap.RunID, CapturedAt: snap.CapturedAt, Nodes: nodes}
}

func (d snapshotDoc) toSnapshot() persist.Snapshot {
	nodes := make([]*tree.Node, len(d.Nodes))
	for i, n := range d.Nodes {
		nodes[i] = &tree.Node{
			ID: n.ID, Kind: n.Kind, ParentID: n.ParentID, Depth: n.Depth,
			Name: n.Name, Result: n.Result, State: n.State, CreatedAt: n.CreatedAt,
		}
	}
	return persist.Snapshot{RunID: d.RunID, CapturedAt: d.CapturedAt, Nodes: nodes}
}

// Save implements persist.Store.
func (s *Store) Save(ctx context.Context, snap persist.Snapshot) error {
	if snap.RunID == "" {
		return errors.New("persist/mongo: run id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	doc := toDoc(snap)
	filter := bson.M{"_id": doc.RunID}
	update := bson.M{"$set": doc}
	_, err := s.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

// Load implements persist.Store.
func (s *Store) Load(ctx context.Context, runID string) (persist.Snapshot, bool, error) {
	if runID == "" {
		return persist.Snapshot{}, false, errors.New("persist/mongo: run id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc snapshotDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": runID}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return persist.Snapshot{}, false, nil
	}
	if err != nil {
		return persist.Snapshot{}, false, err
	}
	return doc.toSnapshot(), true, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}
