// Package crdt implements the per-block character-sequence CRDT described
// in spec §4.1: a replicated growable array (RGA) of runes. Each block owns
// one independent Doc; merging operations for one block never touches
// another (spec invariant I5, property P6).
//
// The algorithm follows the classic RGA design: every character is a node
// carrying a globally unique ID and a reference to the node it was inserted
// after. Deletes are tombstones, never physical removal, so concurrent
// operations that reference a deleted node still resolve deterministically.
// Concurrent inserts after the same node are ordered by ID, highest first.
package crdt

import (
	"sync"

	"kaijutsu/kernelerr"
)

// OpID uniquely identifies one character insertion. Sequence is a
// per-principal monotonic counter, so OpIDs are comparable without
// coordination between replicas, mirroring the Timestamp/NodeID pair
// used for RGA element ordering.
type OpID struct {
	Principal string
	Sequence  uint64
}

// Greater reports whether a sorts after b under the RGA tie-break order:
// higher sequence wins, principal ID breaks ties. This total order is what
// makes concurrent inserts after the same node converge identically across
// replicas (spec property P1).
func (a OpID) Greater(b OpID) bool {
	if a.Sequence != b.Sequence {
		return a.Sequence > b.Sequence
	}
	return a.Principal > b.Principal
}

func (a OpID) Less(b OpID) bool {
	return !a.Greater(b) && a != b
}

var rootID = OpID{Principal: "\x00root", Sequence: 0}

type node struct {
	id       OpID
	parentID OpID
	value    rune
	deleted  bool
	next     *node
}

// InsertOp and DeleteOp are the wire-level representation of a single
// mutation, as exchanged inside an OpBatch. They mirror the teacher
// corpus's RGA Node shape (ID, ParentID, Value, Deleted) closely enough
// that a batch is just a flat list of these.
type InsertOp struct {
	ID       OpID
	ParentID OpID
	Value    rune
}

type DeleteOp struct {
	ID OpID
}

// OpBatch is the opaque byte-string payload named in spec §6
// (oplog_bytes / ops_bytes): replicas must not inspect it beyond passing
// it to MergeOps, but within this package it is a concrete, serializable
// struct rather than literal bytes, since framing is explicitly out of
// scope (spec §1).
type OpBatch struct {
	Inserts []InsertOp
	Deletes []DeleteOp
}

func (b OpBatch) Empty() bool {
	return len(b.Inserts) == 0 && len(b.Deletes) == 0
}

// Frontier is the set of latest operation IDs this replica has seen per
// principal, the basis for incremental sync (spec §3, §4.1).
type Frontier map[string]uint64

// Clone returns an independent copy, since Frontier is mutated in place by
// the sync manager.
func (f Frontier) Clone() Frontier {
	out := make(Frontier, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Doc is one block's character-sequence CRDT instance.
type Doc struct {
	mu             sync.RWMutex
	principal      string
	clock          uint64
	registry       map[OpID]*node
	root           *node
	pendingOrphans map[OpID][]pendingOp
	frontier       Frontier
}

type pendingOp struct {
	insert *InsertOp
	delete *DeleteOp
}

// New creates an empty document CRDT authored locally by principal.
func New(principal string) *Doc {
	root := &node{id: rootID}
	return &Doc{
		principal:      principal,
		registry:       map[OpID]*node{rootID: root},
		root:           root,
		pendingOrphans: make(map[OpID][]pendingOp),
		frontier:       Frontier{},
	}
}

// Insert inserts text starting at the given rune position in the current
// visible content, returning the op batch produced (for local broadcast).
func (d *Doc) Insert(pos int, text string) OpBatch {
	if text == "" {
		return OpBatch{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	after := d.visibleNodeBefore(pos)
	var ops []InsertOp
	for _, r := range text {
		d.clock++
		id := OpID{Principal: d.principal, Sequence: d.clock}
		n := &node{id: id, parentID: after.id, value: r}
		d.integrate(n)
		ops = append(ops, InsertOp{ID: id, ParentID: after.id, Value: r})
		after = n
	}
	d.bumpFrontierLocked(d.principal, d.clock)
	return OpBatch{Inserts: ops}
}

// Delete tombstones n runes starting at pos in the current visible content.
func (d *Doc) Delete(pos, n int) OpBatch {
	if n <= 0 {
		return OpBatch{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	targets := d.visibleNodesInRange(pos, n)
	var ops []DeleteOp
	for _, nd := range targets {
		if !nd.deleted {
			nd.deleted = true
			ops = append(ops, DeleteOp{ID: nd.id})
		}
	}
	return OpBatch{Deletes: ops}
}

// Content returns the linearized, visible (non-tombstoned) text.
func (d *Doc) Content() string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []rune
	for n := d.root.next; n != nil; n = n.next {
		if !n.deleted {
			out = append(out, n.value)
		}
	}
	return string(out)
}

// Frontier returns a snapshot of the document's current frontier.
func (d *Doc) Frontier() Frontier {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.frontier.Clone()
}

// OpsSince returns every operation not yet reflected in the given
// frontier. A nil/empty frontier yields the full oplog (used for full
// resync). Since individual per-op causal ancestry isn't tracked beyond
// sequence numbers, this walks the registry and includes any op whose
// sequence exceeds what the frontier already records for its principal.
func (d *Doc) OpsSince(frontier Frontier) OpBatch {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var batch OpBatch
	for id, n := range d.registry {
		if id == rootID {
			continue
		}
		if id.Sequence <= frontier[id.Principal] {
			continue
		}
		batch.Inserts = append(batch.Inserts, InsertOp{ID: id, ParentID: n.parentID, Value: n.value})
		if n.deleted {
			batch.Deletes = append(batch.Deletes, DeleteOp{ID: id})
		}
	}
	return batch
}

// MergeOps applies a remote op batch. It is commutative and idempotent:
// re-applying an already-seen op is a no-op. Returns
// kernelerr.MissingCausalDependency if (after processing everything that
// can be integrated) some op's parent was never observed — the signal to
// escalate to full sync.
func (d *Doc) MergeOps(batch OpBatch) error {
	if batch.Empty() {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range batch.Inserts {
		op := batch.Inserts[i]
		if _, exists := d.registry[op.ID]; exists {
			continue
		}
		d.processInsert(op)
	}
	for i := range batch.Deletes {
		op := batch.Deletes[i]
		if n, exists := d.registry[op.ID]; exists {
			n.deleted = true
		}
		// A delete for an op we haven't integrated yet is buffered
		// alongside inserts via the same orphan path is unnecessary: a
		// delete with no matching node simply has nothing to tombstone
		// yet. It will be re-delivered on the next full sync if needed.
	}

	for _, n := range d.registry {
		if n.id != rootID {
			if n.id.Sequence > d.clock {
				d.clock = n.id.Sequence
			}
		}
		d.bumpFrontierLocked(n.id.Principal, n.id.Sequence)
	}

	if len(d.pendingOrphans) > 0 {
		return kernelerr.MissingCausalDependency("block crdt: %d ops awaiting missing causal parents", pendingCount(d.pendingOrphans))
	}
	return nil
}

func pendingCount(m map[OpID][]pendingOp) int {
	n := 0
	for _, v := range m {
		n += len(v)
	}
	return n
}

func (d *Doc) processInsert(op InsertOp) {
	if _, parentExists := d.registry[op.ParentID]; !parentExists {
		d.pendingOrphans[op.ParentID] = append(d.pendingOrphans[op.ParentID], pendingOp{insert: &op})
		return
	}

	n := &node{id: op.ID, parentID: op.ParentID, value: op.Value}
	d.integrate(n)

	if orphans, ok := d.pendingOrphans[op.ID]; ok {
		delete(d.pendingOrphans, op.ID)
		for _, child := range orphans {
			if child.insert != nil {
				d.processInsert(*child.insert)
			}
		}
	}
}

// integrate performs the deterministic RGA linking: among siblings sharing
// a parent, nodes are ordered by ID, highest first, so concurrent replicas
// inserting after the same node converge on the same order regardless of
// delivery order.
func (d *Doc) integrate(n *node) {
	parent := d.registry[n.parentID]

	prev := parent
	cur := parent.next
	// Skip every following node with a greater ID: those are siblings that
	// sort ahead of n together with their descendants, whose IDs are always
	// greater than their ancestor's.
	for cur != nil && cur.id.Greater(n.id) {
		prev = cur
		cur = cur.next
	}

	n.next = cur
	prev.next = n
	d.registry[n.id] = n
}

func (d *Doc) bumpFrontierLocked(principal string, seq uint64) {
	if d.frontier == nil {
		d.frontier = Frontier{}
	}
	if seq > d.frontier[principal] {
		d.frontier[principal] = seq
	}
}

// visibleNodeBefore returns the node that the pos-th visible character
// currently sits after (root if pos==0), used to anchor a local insert.
func (d *Doc) visibleNodeBefore(pos int) *node {
	if pos <= 0 {
		return d.root
	}
	count := 0
	last := d.root
	for n := d.root.next; n != nil; n = n.next {
		if n.deleted {
			continue
		}
		count++
		last = n
		if count == pos {
			return last
		}
	}
	return last
}

func (d *Doc) visibleNodesInRange(pos, n int) []*node {
	var out []*node
	idx := 0
	for nd := d.root.next; nd != nil && len(out) < n; nd = nd.next {
		if nd.deleted {
			continue
		}
		if idx >= pos {
			out = append(out, nd)
		}
		idx++
	}
	return out
}
