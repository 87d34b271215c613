package tree

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relayforge/gadgetloop/model"
)

// Tree is the arena-of-ids execution tree (spec.md §9 design note: a plain
// map[NodeID]*Node, never pointer cycles). All mutation goes through its
// methods, which are internally serialised by mu (spec.md §5 "single-writer
// discipline"). Reads (queries) take the same lock for a consistent
// snapshot; the lock is held only for the duration of the map walk.
type Tree struct {
	mu sync.Mutex

	nodes    map[NodeID]*Node
	nextSeq  uint64 // monotonic suffix for node id debuggability
	nextEvID uint64

	listeners []registeredListener
	pullQueue []Event
	pullCond  *sync.Cond
	complete  bool
}

type registeredListener struct {
	id       uint64
	wildcard bool
	listener Listener
}

type subscription struct {
	t    *Tree
	id   uint64
	once sync.Once
}

func (s *subscription) Close() {
	s.once.Do(func() {
		s.t.mu.Lock()
		defer s.t.mu.Unlock()
		for i, l := range s.t.listeners {
			if l.id == s.id {
				s.t.listeners = append(s.t.listeners[:i], s.t.listeners[i+1:]...)
				break
			}
		}
	})
}

// New constructs an empty Tree.
func New() *Tree {
	t := &Tree{nodes: map[NodeID]*Node{}}
	t.pullCond = sync.NewCond(&t.mu)
	return t
}

// Subscribe registers listener to receive every event synchronously, in
// registration order (spec.md §4.6). wildcard listeners are always
// delivered after non-wildcard ones, regardless of registration order.
func (t *Tree) Subscribe(listener Listener, wildcard bool) Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextSeq++
	id := t.nextSeq
	t.listeners = append(t.listeners, registeredListener{id: id, wildcard: wildcard, listener: listener})
	return &subscription{t: t, id: id}
}

// Pull blocks until at least one unobserved event is queued, then returns
// and removes it. Pull returns ok=false once the tree is complete and the
// queue has drained (spec.md §4.6 "after complete(), pullers drain the
// queue and terminate").
func (t *Tree) Pull() (Event, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for len(t.pullQueue) == 0 && !t.complete {
		t.pullCond.Wait()
	}
	if len(t.pullQueue) == 0 {
		return Event{}, false
	}
	ev := t.pullQueue[0]
	t.pullQueue = t.pullQueue[1:]
	return ev, true
}

// Complete marks the tree done; a tree completes when its owning agent loop
// ends (spec.md §3.6). Subsequent Pull calls drain the remaining queue then
// return ok=false.
func (t *Tree) Complete() {
	t.mu.Lock()
	t.complete = true
	t.pullCond.Broadcast()
	t.mu.Unlock()
}

// publish assigns the next event id and timestamp, appends to the pull
// queue, and fans out synchronously to registered listeners (non-wildcard
// first, then wildcard, each in registration order). Must be called with
// mu held.
func (t *Tree) publish(ev Event) Event {
	t.nextEvID++
	ev.EventID = t.nextEvID
	ev.Timestamp = time.Now()
	t.pullQueue = append(t.pullQueue, ev)
	t.pullCond.Broadcast()

	listeners := make([]registeredListener, len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()
	for _, l := range listeners {
		if !l.wildcard {
			l.listener.HandleEvent(ev)
		}
	}
	for _, l := range listeners {
		if l.wildcard {
			l.listener.HandleEvent(ev)
		}
	}
	t.mu.Lock()
	return ev
}

func newNodeID(parent NodeID, suffix string) NodeID {
	if parent == "" {
		return NodeID(suffix)
	}
	return NodeID(string(parent) + "_" + suffix)
}

// AddLLMCall creates a new LLM-call node. parentGadgetID is empty for a root
// call, or the id of the subagent gadget this call attaches under
// (invariant 2: an LLM-call's parent is either absent or a gadget).
func (t *Tree) AddLLMCall(parentGadgetID NodeID, baseDepth int, iteration int, modelName string, messages []*model.Message) NodeID {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextSeq++
	id := newNodeID(parentGadgetID, fmt.Sprintf("llm_%d", t.nextSeq))
	depth := baseDepth
	var path []NodeID
	if parentGadgetID != "" {
		if parent, ok := t.nodes[parentGadgetID]; ok {
			depth = parent.Depth + 1
			path = append(append([]NodeID{}, parent.Path...), parentGadgetID)
			parent.ChildIDs = append(parent.ChildIDs, id)
		}
	}
	n := &Node{
		ID:              id,
		Kind:            KindLLMCall,
		ParentID:        parentGadgetID,
		Depth:           depth,
		Path:            path,
		CreatedAt:       time.Now(),
		Iteration:       iteration,
		Model:           modelName,
		RequestMessages: messages,
	}
	t.nodes[id] = n
	t.publish(Event{Type: EventLLMCallStart, NodeID: id})
	return id
}

// AppendLLMResponse appends delta to the node's accumulated response text
// and emits a stream event (llm_call_stream).
func (t *Tree) AppendLLMResponse(id NodeID, delta string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return
	}
	n.ResponseText += delta
	t.publish(Event{Type: EventLLMCallStream, NodeID: id, Text: delta})
}

// CompleteLLMCall closes the node with usage/cost/finish-reason (spec.md
// §4.7 step 5).
func (t *Tree) CompleteLLMCall(id NodeID, usage model.TokenUsage, costUSD float64, finishReason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return
	}
	n.Usage = usage
	n.CostUSD = costUSD
	n.FinishReason = finishReason
	n.CompletedAt = time.Now()
	t.publish(Event{Type: EventLLMCallComplete, NodeID: id})
}

// FailLLMCall closes the node with an error instead of a normal completion.
func (t *Tree) FailLLMCall(id NodeID, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return
	}
	n.LLMError = errMsg
	n.CompletedAt = time.Now()
	t.publish(Event{Type: EventLLMCallError, NodeID: id})
}

// EmitText is a pure notification tied to the currently open LLM-call
// (spec.md §4.6 "emit_text — a pure notification"). It is also used for
// mid-session injected messages, surfaced as a text event on the last
// LLM-call node without retroactively attaching to it (spec.md §4.7
// "Mid-session injection").
func (t *Tree) EmitText(id NodeID, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.publish(Event{Type: EventText, NodeID: id, Text: text})
}

// AddGadget creates a pending gadget node under parentLLMCallID (invariant
// 2: a gadget's parent is an LLM-call).
func (t *Tree) AddGadget(parentLLMCallID NodeID, invocationID, name string, parameters map[string]any, deps []string) NodeID {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextSeq++
	suffix := invocationID
	if suffix == "" {
		suffix = uuid.NewString()
	}
	id := newNodeID(parentLLMCallID, fmt.Sprintf("gadget_%s_%d", suffix, t.nextSeq))

	depth := 0
	var path []NodeID
	if parent, ok := t.nodes[parentLLMCallID]; ok {
		depth = parent.Depth + 1
		path = append(append([]NodeID{}, parent.Path...), parentLLMCallID)
		parent.ChildIDs = append(parent.ChildIDs, id)
	}

	n := &Node{
		ID:           id,
		Kind:         KindGadget,
		ParentID:     parentLLMCallID,
		Depth:        depth,
		Path:         path,
		CreatedAt:    time.Now(),
		InvocationID: invocationID,
		Name:         name,
		Parameters:   parameters,
		Dependencies: deps,
		State:        GadgetPending,
	}
	t.nodes[id] = n
	t.publish(Event{Type: EventGadgetCall, NodeID: id})
	return id
}

// StartGadget transitions a pending gadget to running.
func (t *Tree) StartGadget(id NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return
	}
	n.State = GadgetRunning
	t.publish(Event{Type: EventGadgetStart, NodeID: id})
}

// CompleteGadget records a terminal result: success (completed, err=="")
// or failure (failed, err!="").
func (t *Tree) CompleteGadget(id NodeID, result string, execMS int64, costUSD float64, media []Media, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return
	}
	n.Result = result
	n.ExecMS = execMS
	n.CostUSD = costUSD
	n.Media = media
	n.CompletedAt = time.Now()
	n.IsSubagent = childIsLLMCall(t.nodes, n)
	if errMsg != "" {
		n.State = GadgetFailed
		n.GadgetError = errMsg
		t.publish(Event{Type: EventGadgetError, NodeID: id})
		return
	}
	n.State = GadgetCompleted
	t.publish(Event{Type: EventGadgetComplete, NodeID: id})
}

// SkipGadget marks a gadget skipped, either because failedDependency failed
// or was itself skipped first (ordinary propagation, spec.md §4.5), or for a
// generic reason such as "unknown_dependency"/"cyclic_dependency" (spec.md
// §4.3, §8) that is not tied to one named dependency id. Exactly one of
// failedDependency/reason is expected to be non-empty.
func (t *Tree) SkipGadget(id NodeID, failedDependency, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return
	}
	n.State = GadgetSkipped
	n.FailedDependency = failedDependency
	n.SkipReason = reason
	n.CompletedAt = time.Now()
	t.publish(Event{Type: EventGadgetSkipped, NodeID: id})
}

// EmitCompaction records a context-compaction event (spec.md §4.9).
func (t *Tree) EmitCompaction(tokensBefore, tokensAfter, messagesBefore, messagesAfter int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.publish(Event{
		Type:           EventCompaction,
		TokensBefore:   tokensBefore,
		TokensAfter:    tokensAfter,
		MessagesBefore: messagesBefore,
		MessagesAfter:  messagesAfter,
	})
}

func childIsLLMCall(nodes map[NodeID]*Node, n *Node) bool {
	for _, c := range n.ChildIDs {
		if child, ok := nodes[c]; ok && child.Kind == KindLLMCall {
			return true
		}
	}
	return false
}

// GetNode returns a copy-free pointer to the node (callers must not mutate
// it; all mutation goes through Tree's methods).
func (t *Tree) GetNode(id NodeID) (*Node, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	return n, ok
}

// AllNodeIDs returns every node id currently in the tree, sorted by id string
// (a deterministic order, not creation order).
func (t *Tree) AllNodeIDs() []NodeID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sortedNodeIDs(t.nodes)
}

// GetChildren returns id's direct children in creation order.
func (t *Tree) GetChildren(id NodeID) []*Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	out := make([]*Node, 0, len(n.ChildIDs))
	for _, c := range n.ChildIDs {
		if child, ok := t.nodes[c]; ok {
			out = append(out, child)
		}
	}
	return out
}

// GetAncestors returns id's ancestors, root-first.
func (t *Tree) GetAncestors(id NodeID) []*Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	out := make([]*Node, 0, len(n.Path))
	for _, p := range n.Path {
		if anc, ok := t.nodes[p]; ok {
			out = append(out, anc)
		}
	}
	return out
}

// GetDescendants returns all descendants of id, optionally filtered by kind
// (pass "" for no filter).
func (t *Tree) GetDescendants(id NodeID, kind NodeKind) []*Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Node
	var walk func(NodeID)
	walk = func(cur NodeID) {
		n, ok := t.nodes[cur]
		if !ok {
			return
		}
		for _, c := range n.ChildIDs {
			child, ok := t.nodes[c]
			if !ok {
				continue
			}
			if kind == "" || child.Kind == kind {
				out = append(out, child)
			}
			walk(c)
		}
	}
	walk(id)
	return out
}

// GetNodeByInvocationID finds a gadget node by its invocation id.
func (t *Tree) GetNodeByInvocationID(invID string) (*Node, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, n := range t.nodes {
		if n.Kind == KindGadget && n.InvocationID == invID {
			return n, true
		}
	}
	return nil, false
}

// GetCurrentLLMCall returns the most recently opened root LLM-call still
// incomplete (spec.md §4.6 "used as the default parent for new gadgets").
func (t *Tree) GetCurrentLLMCall() (*Node, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var best *Node
	for _, n := range t.nodes {
		if n.Kind != KindLLMCall || n.ParentID != "" || n.IsTerminal() {
			continue
		}
		if best == nil || n.CreatedAt.After(best.CreatedAt) {
			best = n
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

// Aggregate sums cost/tokens/media over every completed descendant of id
// (including id itself) whose fields are set (invariant 5: aggregation
// queries sum only over completed descendants).
type Aggregate struct {
	TotalCostUSD float64
	InputTokens  int
	OutputTokens int
	CachedTokens int
	Media        []Media
}

// AggregateSubtree computes an Aggregate over id and its descendants.
func (t *Tree) AggregateSubtree(id NodeID) Aggregate {
	t.mu.Lock()
	defer t.mu.Unlock()
	var agg Aggregate
	var walk func(NodeID)
	walk = func(cur NodeID) {
		n, ok := t.nodes[cur]
		if !ok {
			return
		}
		if n.IsTerminal() {
			agg.TotalCostUSD += n.CostUSD
			agg.InputTokens += n.Usage.InputTokens
			agg.OutputTokens += n.Usage.OutputTokens
			agg.CachedTokens += n.Usage.CachedTokens
			agg.Media = append(agg.Media, n.Media...)
		}
		for _, c := range n.ChildIDs {
			walk(c)
		}
	}
	walk(id)
	return agg
}

// View returns a subtree view rooted under parentNodeID: new roots created
// through it attach under parentNodeID instead of being true tree roots, but
// all events still flow through this same canonical broadcast (spec.md
// §4.6 "Subtree views").
func (t *Tree) View(baseDepth int, parentNodeID NodeID) *View {
	return &View{tree: t, baseDepth: baseDepth, parentNodeID: parentNodeID}
}

// View is a child perspective on a shared Tree, used by subagent gadgets
// (spec.md §4.4 "Subagent gadgets").
type View struct {
	tree         *Tree
	baseDepth    int
	parentNodeID NodeID
}

// AddLLMCall creates a root LLM-call for this view, attaching under the
// view's parent gadget node.
func (v *View) AddLLMCall(iteration int, modelName string, messages []*model.Message) NodeID {
	return v.tree.AddLLMCall(v.parentNodeID, v.baseDepth, iteration, modelName, messages)
}

func (v *View) Tree() *Tree { return v.tree }

// sortedNodeIDs is a small helper used by tests/debugging to get a
// deterministic walk order.
func sortedNodeIDs(nodes map[NodeID]*Node) []NodeID {
	ids := make([]NodeID, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
