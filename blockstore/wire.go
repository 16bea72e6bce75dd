package blockstore

import (
	"kaijutsu/crdt"
	"kaijutsu/domain"
	"kaijutsu/kernelerr"
	"kaijutsu/orderkey"
)

// BlockState is one block's full shape as exchanged during sync: header
// plus order key plus its text CRDT's own oplog (spec §4.1, §6
// oplog_bytes). Sending the whole block state rather than a structural
// diff keeps incremental sync idempotent the same way the text CRDT is:
// applying it twice, or out of order relative to another block's state,
// never corrupts anything, since each field is independently LWW or
// CRDT-merged.
type BlockState struct {
	Id       domain.BlockId
	ParentId *domain.BlockId
	OrderKey string
	Role     domain.Role
	Kind     domain.Kind
	Header   domain.Header
	Text     crdt.OpBatch
}

// DocBatch is the payload exchanged between syncmgr instances for one
// document: every block touched since the frontier being synced from.
type DocBatch struct {
	Revision uint64
	Blocks   []BlockState
}

func (b DocBatch) Empty() bool { return len(b.Blocks) == 0 }

// Revision returns the document's current revision counter, the frontier
// token syncmgr persists per-peer (spec §4.3).
func (s *Store) Revision(ctx domain.ContextId) (uint64, error) {
	e, err := s.lookup(ctx)
	if err != nil {
		return 0, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.revision, nil
}

// OpsSince returns every block whose header or text has changed since
// sinceRevision. A sinceRevision of 0 yields a full-state batch, the
// payload used for NeedsFullSync (spec §4.3).
func (s *Store) OpsSince(ctx domain.ContextId, sinceRevision uint64) (DocBatch, error) {
	e, err := s.lookup(ctx)
	if err != nil {
		return DocBatch{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	batch := DocBatch{Revision: e.revision}
	for id, rev := range e.lastTouched {
		if rev <= sinceRevision {
			continue
		}
		b, ok := e.doc.Blocks[id]
		if !ok {
			continue
		}
		var textOps crdt.OpBatch
		if td, ok := e.text[id]; ok {
			textOps = td.OpsSince(nil)
		}
		batch.Blocks = append(batch.Blocks, BlockState{
			Id:       b.Id,
			ParentId: b.ParentId,
			OrderKey: b.OrderKey,
			Role:     b.Role,
			Kind:     b.Kind,
			Header:   b.Header,
			Text:     textOps,
		})
	}
	return batch, nil
}

// MergeOps applies a remote DocBatch. Block creation is idempotent (an
// already-known id is skipped for creation but still merged for header
// and text); header merges go through the LWW rule in Header; text merges
// delegate to the block's own CRDT. Returns
// kernelerr.MissingCausalDependency if any block's declared parent is
// neither known locally nor carried in the same batch, or if a block's
// text ops reference text ops not known locally, signaling the caller to
// fall back to full sync (spec §4.3 decision policy item 5).
func (s *Store) MergeOps(ctx domain.ContextId, batch DocBatch) error {
	e, err := s.lookup(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	inBatch := make(map[domain.BlockId]bool, len(batch.Blocks))
	for _, bs := range batch.Blocks {
		inBatch[bs.Id] = true
	}
	var missingParent, missingText bool
	for _, bs := range batch.Blocks {
		if bs.ParentId != nil && !inBatch[*bs.ParentId] {
			if _, ok := e.doc.Blocks[*bs.ParentId]; !ok {
				missingParent = true
			}
		}
	}

	for _, bs := range batch.Blocks {
		// A peer's OrderKey arrives with no guarantee it avoids the
		// degenerate minimum key (§ orderkey.Normalize); never admit it
		// unnormalized, or a later local insert at the front of this
		// sibling list panics in orderkey.Midpoint.
		key := orderkey.Normalize(bs.OrderKey)

		b, exists := e.doc.Blocks[bs.Id]
		if !exists {
			b = &domain.Block{Id: bs.Id, ParentId: bs.ParentId, OrderKey: key, Role: bs.Role, Kind: bs.Kind}
			e.doc.Blocks[bs.Id] = b
			e.text[bs.Id] = crdt.New(string(bs.Id.PrincipalId))
		}
		// OrderKey and ParentId carry the header's Lamport stamp (MoveBlock
		// bumps it), so they take the incoming values only when the
		// incoming header wins.
		if b.Header.ApplyHeaderLWW(bs.Header) {
			b.OrderKey = key
			b.ParentId = bs.ParentId
		}
		e.doc.ObserveLamport(bs.Header.Lamport)

		if td, ok := e.text[bs.Id]; ok && !bs.Text.Empty() {
			if err := td.MergeOps(bs.Text); err != nil {
				missingText = true // reported below so the caller falls back to full sync
			}
		}
		e.bump(bs.Id)
	}

	if batch.Revision > e.revision {
		e.revision = batch.Revision
	}

	if missingParent {
		return kernelerr.MissingCausalDependency("blockstore: %s: batch referenced a parent not yet known locally", ctx)
	}
	if missingText {
		return kernelerr.MissingCausalDependency("blockstore: %s: batch carried text ops whose causal parents are not known locally", ctx)
	}
	return nil
}
