// Package tree implements the execution tree: the single source of truth
// for the hierarchical state of LLM calls and gadget invocations, with
// ordered event broadcast and aggregation queries (spec.md §3.2, §4.6).
package tree

import (
	"time"

	"github.com/relayforge/gadgetloop/model"
)

// NodeID is an opaque, stable identifier. It encodes the parent relation
// for debuggability only (spec.md §3.1); consumers must treat it as opaque.
type NodeID string

// NodeKind discriminates the two node variants (spec.md §3.2).
type NodeKind string

const (
	KindLLMCall NodeKind = "llm_call"
	KindGadget  NodeKind = "gadget"
)

// GadgetState is a gadget node's lifecycle state (spec.md §3.2).
type GadgetState string

const (
	GadgetPending   GadgetState = "pending"
	GadgetRunning   GadgetState = "running"
	GadgetCompleted GadgetState = "completed"
	GadgetFailed    GadgetState = "failed"
	GadgetSkipped   GadgetState = "skipped"
)

// Media is an opaque media output a gadget may report (spec.md §3.2).
type Media struct {
	Kind string
	URL  string
	Data []byte
}

// Node is the discriminated union of an LLM-call node and a gadget node
// (spec.md §3.2). Only the fields relevant to Kind are meaningful.
type Node struct {
	ID       NodeID
	Kind     NodeKind
	ParentID NodeID // empty for a root LLM-call node
	Depth    int
	Path     []NodeID
	ChildIDs []NodeID

	CreatedAt   time.Time
	CompletedAt time.Time // zero until terminal (invariant 3)

	// LLM-call fields
	Iteration       int
	Model           string
	RequestMessages []*model.Message
	ResponseText    string
	Usage           model.TokenUsage
	FinishReason    string
	CostUSD         float64
	LLMError        string

	// Gadget fields
	InvocationID     string
	Name             string
	Parameters       map[string]any
	Dependencies     []string
	State            GadgetState
	Result           string
	GadgetError      string
	FailedDependency string
	SkipReason       string
	ExecMS           int64
	Media            []Media
	IsSubagent       bool
}

// IsTerminal reports whether the node is in a terminal state (invariant 3:
// CompletedAt is non-null iff state is terminal).
func (n *Node) IsTerminal() bool {
	switch n.Kind {
	case KindLLMCall:
		return !n.CompletedAt.IsZero()
	case KindGadget:
		switch n.State {
		case GadgetCompleted, GadgetFailed, GadgetSkipped:
			return true
		}
	}
	return false
}
