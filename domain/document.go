package domain

import "time"

// ContextKind distinguishes a conversational context from an ephemeral
// scratch context spawned by a tool (spec §3, §9 open question: contexts
// nest one level deep, never recursively).
type ContextKind string

const (
	ContextKindConversation ContextKind = "conversation"
	ContextKindScratch      ContextKind = "scratch"
)

// Document is the in-memory aggregate described as "Context" in spec §3:
// an ordered tree of blocks sharing one ContextId, plus the bookkeeping
// blockstore needs to answer queries without re-deriving order on every
// call. Document itself holds no lock; callers (blockstore) serialize
// access per the locking discipline in spec §5.
type Document struct {
	Id        ContextId
	Kind      ContextKind
	ParentId  ContextId // zero value if this is a top-level context
	CreatedAt time.Time

	Blocks map[BlockId]*Block

	// lamportClock is the document-local Lamport clock driving Header.Lamport
	// for every LWW write originated here (spec §4.1).
	lamportClock uint64
}

// NewDocument creates an empty context. Top-level contexts pass a zero
// ContextId for parent.
func NewDocument(id ContextId, kind ContextKind, parent ContextId) *Document {
	return &Document{
		Id:        id,
		Kind:      kind,
		ParentId:  parent,
		CreatedAt: time.Now().UTC(),
		Blocks:    make(map[BlockId]*Block),
	}
}

// NextLamport advances and returns the document's Lamport clock, used to
// stamp a locally-originated header write.
func (d *Document) NextLamport() uint64 {
	d.lamportClock++
	return d.lamportClock
}

// ObserveLamport folds a remote Lamport value into the local clock so that
// subsequent local writes always sort after anything already merged
// (standard Lamport-clock update rule).
func (d *Document) ObserveLamport(remote uint64) {
	if remote > d.lamportClock {
		d.lamportClock = remote
	}
}

// Children returns the blocks directly parented under parent (nil for
// top-level blocks), in no particular order — callers needing document
// order use blockstore's BlocksOrdered, which threads the order key
// comparison in.
func (d *Document) Children(parent *BlockId) []*Block {
	var out []*Block
	for _, b := range d.Blocks {
		if sameParent(b.ParentId, parent) {
			out = append(out, b)
		}
	}
	return out
}

func sameParent(a, b *BlockId) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
