// Package syncmgr implements the per-document sync state machine from
// spec §4.3: each peer connection to a document tracks whether it is
// Synchronized (incremental DocBatch exchange suffices) or NeedsFullSync
// (the peer's state is unknown or suspect, so the next outbound payload
// must be a full-state snapshot). It owns no document data itself —
// blockstore remains the source of truth — only the per-peer frontier and
// state.
package syncmgr

import (
	"sync"

	"kaijutsu/blockstore"
	"kaijutsu/domain"
	"kaijutsu/kernelerr"

	"github.com/rs/zerolog/log"
)

// State is one peer's sync status for one document.
type State string

const (
	StateSynchronized  State = "synchronized"
	StateNeedsFullSync State = "needs_full_sync"
)

type peerState struct {
	mu        sync.Mutex
	state     State
	frontier  uint64 // last revision known to have been sent/received successfully
}

// Manager tracks sync state per (document, peer) pair. A "peer" is any
// identifier the caller chooses — typically a connection id or principal
// id — independent for every document a peer participates in.
type Manager struct {
	store *blockstore.Store

	mu    sync.RWMutex
	peers map[domain.ContextId]map[string]*peerState
}

func New(store *blockstore.Store) *Manager {
	return &Manager{store: store, peers: make(map[domain.ContextId]map[string]*peerState)}
}

func (m *Manager) entry(ctx domain.ContextId, peer string) *peerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPeer, ok := m.peers[ctx]
	if !ok {
		byPeer = make(map[string]*peerState)
		m.peers[ctx] = byPeer
	}
	e, ok := byPeer[peer]
	if !ok {
		e = &peerState{state: StateNeedsFullSync}
		byPeer[peer] = e
	}
	return e
}

// PeerState reports the current sync state for a peer, defaulting a
// never-seen peer to NeedsFullSync (spec §4.3: an unknown peer must
// bootstrap from a full snapshot).
func (m *Manager) PeerState(ctx domain.ContextId, peer string) State {
	e := m.entry(ctx, peer)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Outbound produces the next batch to send to peer, choosing a full
// snapshot or an incremental diff based on the peer's tracked state (spec
// §4.3 decision policy item 1: "if the peer needs full sync, the next
// outbound payload is always a full snapshot, never a diff").
func (m *Manager) Outbound(ctx domain.ContextId, peer string) (blockstore.DocBatch, error) {
	e := m.entry(ctx, peer)
	e.mu.Lock()
	defer e.mu.Unlock()

	since := e.frontier
	if e.state == StateNeedsFullSync {
		since = 0
	}
	batch, err := m.store.OpsSince(ctx, since)
	if err != nil {
		return blockstore.DocBatch{}, err
	}
	return batch, nil
}

// MarkSent records that a produced Outbound batch was delivered, advancing
// the peer to Synchronized at the batch's revision (guarantee G1: once a
// full snapshot is acknowledged, subsequent sync is incremental).
func (m *Manager) MarkSent(ctx domain.ContextId, peer string, batch blockstore.DocBatch) {
	e := m.entry(ctx, peer)
	e.mu.Lock()
	defer e.mu.Unlock()
	if batch.Revision > e.frontier {
		e.frontier = batch.Revision
	}
	e.state = StateSynchronized
}

// Inbound applies a batch received from peer and updates sync state per
// the decision policy:
//   - an empty batch from a Synchronized peer is a no-op (item 2: skip
//     redundant merges)
//   - a batch that merges cleanly advances the peer's frontier and keeps
//     it Synchronized (item 3)
//   - a batch merge that reports a missing causal dependency demotes the
//     peer to NeedsFullSync so the next Outbound repairs it with a full
//     snapshot (item 5)
//   - any other merge error is returned without changing sync state,
//     since the fault may be transient (item 6)
func (m *Manager) Inbound(ctx domain.ContextId, peer string, batch blockstore.DocBatch) error {
	e := m.entry(ctx, peer)
	e.mu.Lock()
	defer e.mu.Unlock()

	if batch.Empty() && e.state == StateSynchronized {
		return nil
	}

	err := m.store.MergeOps(ctx, batch)
	if err != nil {
		if kernelerr.Is(err, kernelerr.KindMissingCausalDependency) {
			log.Warn().Str("contextId", string(ctx)).Str("peer", peer).Msg("syncmgr: missing causal dependency, demoting to full sync")
			e.state = StateNeedsFullSync
			return nil
		}
		return err
	}

	if batch.Revision > e.frontier {
		e.frontier = batch.Revision
	}
	e.state = StateSynchronized
	return nil
}

// Reset forces a peer back to NeedsFullSync, used when the transport layer
// detects a gap it cannot otherwise characterize — a dropped connection,
// an out-of-order frame, or an explicit protocol violation (spec §4.3
// decision policy item 7, guarantee G3: the sync manager never silently
// diverges, it always has an escape hatch back to a known-good state).
func (m *Manager) Reset(ctx domain.ContextId, peer string) {
	e := m.entry(ctx, peer)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateNeedsFullSync
}

// Forget drops all sync state for a peer across every document, used on
// disconnect.
func (m *Manager) Forget(peer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, byPeer := range m.peers {
		delete(byPeer, peer)
	}
}
