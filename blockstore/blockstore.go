// Package blockstore owns the per-document state named in spec §4.2: the
// block tree, each block's text CRDT, and the order-key assignment used to
// linearize siblings. It enforces the locking discipline from spec §5 —
// a document-map RWMutex guards document creation/lookup, and each
// document has its own RWMutex guarding everything inside it, acquired in
// that order (map, then document) and never held across a suspension
// point.
package blockstore

import (
	"sort"
	"time"

	"kaijutsu/crdt"
	"kaijutsu/domain"
	"kaijutsu/kernelerr"
	"kaijutsu/orderkey"

	"github.com/rs/zerolog/log"
	"sync"
)

// maxDAGDepth bounds ancestor-chasing traversal so a malformed or
// adversarial parent chain can never make a query loop forever (spec
// property P7).
const maxDAGDepth = 4096

type documentEntry struct {
	mu   sync.RWMutex
	doc  *domain.Document
	text map[domain.BlockId]*crdt.Doc

	// revision is a document-local counter bumped on every structural or
	// header mutation. lastTouched records, per block, the revision at
	// which it last changed shape or header — the basis for incremental
	// sync in OpsSince (spec §4.3 decision policy).
	revision    uint64
	lastTouched map[domain.BlockId]uint64
}

func (e *documentEntry) bump(block domain.BlockId) {
	e.revision++
	if e.lastTouched == nil {
		e.lastTouched = make(map[domain.BlockId]uint64)
	}
	e.lastTouched[block] = e.revision
}

// Store holds every known document in memory.
type Store struct {
	mapMu     sync.RWMutex
	documents map[domain.ContextId]*documentEntry
}

func New() *Store {
	return &Store{documents: make(map[domain.ContextId]*documentEntry)}
}

// CreateDocument registers a new, empty context (spec §4.2).
func (s *Store) CreateDocument(kind domain.ContextKind, parent domain.ContextId) *domain.Document {
	id := domain.NewContextId()
	doc := domain.NewDocument(id, kind, parent)

	s.mapMu.Lock()
	defer s.mapMu.Unlock()
	s.documents[id] = &documentEntry{doc: doc, text: make(map[domain.BlockId]*crdt.Doc), lastTouched: make(map[domain.BlockId]uint64)}
	log.Debug().Str("contextId", string(id)).Str("kind", string(kind)).Msg("blockstore: document created")
	return doc
}

// RegisterDocument admits a document recovered from persistent storage
// under its original id, for startup hydration. It must be called before
// any MergeOps/InsertBlock call touches doc.Id.
func (s *Store) RegisterDocument(doc *domain.Document) {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()
	s.documents[doc.Id] = &documentEntry{doc: doc, text: make(map[domain.BlockId]*crdt.Doc), lastTouched: make(map[domain.BlockId]uint64)}
}

func (s *Store) lookup(id domain.ContextId) (*documentEntry, error) {
	s.mapMu.RLock()
	defer s.mapMu.RUnlock()
	e, ok := s.documents[id]
	if !ok {
		return nil, kernelerr.NotFound("blockstore: no such document %q", id)
	}
	return e, nil
}

// InsertBlock creates a new block under parent (nil for a top-level
// block), after the sibling at afterSibling (nil to insert first among
// siblings), seeded with initial text (spec §4.2, §4.1 order-key
// assignment).
func (s *Store) InsertBlock(ctx domain.ContextId, parent *domain.BlockId, afterSibling *domain.BlockId, role domain.Role, kind domain.Kind, author domain.PrincipalId, text string) (*domain.Block, error) {
	e, err := s.lookup(ctx)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if parent != nil {
		if _, err := ancestorChecked(e.doc, *parent); err != nil {
			return nil, err
		}
	}

	lowKey, highKey, err := siblingBounds(e.doc, parent, afterSibling)
	if err != nil {
		return nil, err
	}
	key := orderkey.Midpoint(lowKey, highKey)

	seq := uint64(len(e.doc.Blocks)) + 1
	id := domain.BlockId{ContextId: ctx, PrincipalId: author, Sequence: seq}
	for {
		if _, exists := e.doc.Blocks[id]; !exists {
			break
		}
		seq++
		id.Sequence = seq
	}

	b := &domain.Block{
		Id:       id,
		ParentId: parent,
		OrderKey: key,
		Role:     role,
		Kind:     kind,
		Header: domain.Header{
			Status:        domain.StatusStreaming,
			Lamport:       e.doc.NextLamport(),
			LamportAuthor: author,
			UpdatedAt:     time.Now().UTC(),
		},
	}
	e.doc.Blocks[id] = b
	e.bump(id)

	td := crdt.New(string(author))
	if text != "" {
		td.Insert(0, text)
	}
	e.text[id] = td

	return b, nil
}

// siblingBounds resolves the (low, high) order-key bounds the new block
// must sort between, given its parent and the sibling it follows.
func siblingBounds(doc *domain.Document, parent *domain.BlockId, after *domain.BlockId) (string, string, error) {
	siblings := doc.Children(parent)
	sort.Slice(siblings, func(i, j int) bool { return orderkey.Less(siblings[i].OrderKey, siblings[j].OrderKey) })

	if after == nil {
		if len(siblings) == 0 {
			return "", "", nil
		}
		return "", siblings[0].OrderKey, nil
	}

	for i, sib := range siblings {
		if sib.Id == *after {
			low := sib.OrderKey
			high := ""
			if i+1 < len(siblings) {
				high = siblings[i+1].OrderKey
			}
			return low, high, nil
		}
	}
	return "", "", kernelerr.NotFound("blockstore: afterSibling %v not found among siblings", *after)
}

func ancestorChecked(doc *domain.Document, id domain.BlockId) (*domain.Block, error) {
	cur, ok := doc.Blocks[id]
	if !ok {
		return nil, kernelerr.NotFound("blockstore: no such block %v", id)
	}
	seen := 0
	walk := cur
	for walk.ParentId != nil {
		seen++
		if seen > maxDAGDepth {
			return nil, kernelerr.OutOfBounds("blockstore: ancestor chain for %v exceeds max depth", id)
		}
		next, ok := doc.Blocks[*walk.ParentId]
		if !ok {
			break
		}
		walk = next
	}
	return cur, nil
}

// EditText applies a local text insertion at a rune offset within a
// block's content (spec §4.1, §4.2).
func (s *Store) EditText(ctx domain.ContextId, block domain.BlockId, pos int, text string) error {
	e, err := s.lookup(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	td, ok := e.text[block]
	if !ok {
		return kernelerr.NotFound("blockstore: no such block %v", block)
	}
	td.Insert(pos, text)
	e.bump(block)
	return nil
}

// AppendText is the common streaming-token case: append at the current end
// without the caller tracking an offset (spec §4.5 streaming contract).
func (s *Store) AppendText(ctx domain.ContextId, block domain.BlockId, text string) error {
	e, err := s.lookup(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	td, ok := e.text[block]
	if !ok {
		return kernelerr.NotFound("blockstore: no such block %v", block)
	}
	td.Insert(len([]rune(td.Content())), text)
	e.bump(block)
	return nil
}

// DeleteText tombstones n runes at pos within a block's content.
func (s *Store) DeleteText(ctx domain.ContextId, block domain.BlockId, pos, n int) error {
	e, err := s.lookup(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	td, ok := e.text[block]
	if !ok {
		return kernelerr.NotFound("blockstore: no such block %v", block)
	}
	td.Delete(pos, n)
	e.bump(block)
	return nil
}

func (s *Store) mutateHeader(ctx domain.ContextId, block domain.BlockId, author domain.PrincipalId, mutate func(*domain.Header)) error {
	e, err := s.lookup(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.doc.Blocks[block]
	if !ok {
		return kernelerr.NotFound("blockstore: no such block %v", block)
	}
	incoming := b.Header
	mutate(&incoming)
	incoming.Lamport = e.doc.NextLamport()
	incoming.LamportAuthor = author
	incoming.UpdatedAt = time.Now().UTC()
	b.Header.ApplyHeaderLWW(incoming)
	e.bump(block)
	return nil
}

// SetStatus updates a block's lifecycle status under LWW (spec §3, I6).
func (s *Store) SetStatus(ctx domain.ContextId, block domain.BlockId, author domain.PrincipalId, status domain.Status) error {
	return s.mutateHeader(ctx, block, author, func(h *domain.Header) { h.Status = status })
}

func (s *Store) SetCollapsed(ctx domain.ContextId, block domain.BlockId, author domain.PrincipalId, collapsed bool) error {
	return s.mutateHeader(ctx, block, author, func(h *domain.Header) { h.Collapsed = collapsed })
}

func (s *Store) SetCompacted(ctx domain.ContextId, block domain.BlockId, author domain.PrincipalId, compacted bool) error {
	return s.mutateHeader(ctx, block, author, func(h *domain.Header) { h.Compacted = compacted })
}

// MoveBlock reparents/reorders a block as a single LWW header write (§9
// open question: modeled as one compound field, not separate parent/order
// ops, so a move is atomic under concurrent moves of the same block).
func (s *Store) MoveBlock(ctx domain.ContextId, block domain.BlockId, author domain.PrincipalId, newParent *domain.BlockId, afterSibling *domain.BlockId) error {
	e, err := s.lookup(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.doc.Blocks[block]
	if !ok {
		return kernelerr.NotFound("blockstore: no such block %v", block)
	}
	if newParent != nil {
		if *newParent == block {
			return kernelerr.Conflict("blockstore: block %v cannot be its own parent", block)
		}
		if _, err := ancestorChecked(e.doc, *newParent); err != nil {
			return err
		}
		if descendantOf(e.doc, *newParent, block) {
			return kernelerr.Conflict("blockstore: move would create a cycle")
		}
	}

	low, high, err := siblingBounds(e.doc, newParent, afterSibling)
	if err != nil {
		return err
	}
	key := orderkey.Midpoint(low, high)

	b.ParentId = newParent
	b.OrderKey = key
	b.Header.Lamport = e.doc.NextLamport()
	b.Header.LamportAuthor = author
	b.Header.UpdatedAt = time.Now().UTC()
	e.bump(block)
	return nil
}

func descendantOf(doc *domain.Document, candidate, ancestor domain.BlockId) bool {
	walk := doc.Blocks[candidate]
	seen := 0
	for walk != nil && walk.ParentId != nil {
		seen++
		if seen > maxDAGDepth {
			return true
		}
		if *walk.ParentId == ancestor {
			return true
		}
		walk = doc.Blocks[*walk.ParentId]
	}
	return false
}

// DeleteBlock tombstones a block. Per spec B5, a tombstoned block is
// skipped by rendering but its children, if any, remain visible and keep
// their own parent pointer — deletion does not cascade.
func (s *Store) DeleteBlock(ctx domain.ContextId, block domain.BlockId, author domain.PrincipalId) error {
	return s.mutateHeader(ctx, block, author, func(h *domain.Header) { h.Deleted = true })
}

// BlockSnapshot returns a pure, materialized read of one block (spec
// §4.2).
func (s *Store) BlockSnapshot(ctx domain.ContextId, block domain.BlockId) (domain.Snapshot, error) {
	e, err := s.lookup(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.doc.Blocks[block]
	if !ok {
		return domain.Snapshot{}, kernelerr.NotFound("blockstore: no such block %v", block)
	}
	var content string
	if td, ok := e.text[block]; ok {
		content = td.Content()
	}
	return domain.Snapshot{Block: *b, Content: content}, nil
}

// BlocksOrdered returns every non-tombstoned block in the document, in
// depth-first document order (parents before children, siblings ordered
// by order key) — the shape the collaboration surface renders directly
// (spec B5: tombstoned blocks are skipped but their children still walk).
func (s *Store) BlocksOrdered(ctx domain.ContextId) ([]*domain.Block, error) {
	e, err := s.lookup(ctx)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []*domain.Block
	var walk func(parent *domain.BlockId, depth int)
	walk = func(parent *domain.BlockId, depth int) {
		if depth > maxDAGDepth {
			return
		}
		children := e.doc.Children(parent)
		sort.Slice(children, func(i, j int) bool { return orderkey.Less(children[i].OrderKey, children[j].OrderKey) })
		for _, c := range children {
			if !c.Header.Deleted {
				out = append(out, c)
			}
			walk(&c.Id, depth+1)
		}
	}
	walk(nil, 0)
	return out, nil
}
