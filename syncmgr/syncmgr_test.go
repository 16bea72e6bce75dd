package syncmgr

import (
	"testing"

	"kaijutsu/blockstore"
	"kaijutsu/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPeerStartsNeedsFullSync(t *testing.T) {
	store := blockstore.New()
	doc := store.CreateDocument(domain.ContextKindConversation, "")
	m := New(store)

	assert.Equal(t, StateNeedsFullSync, m.PeerState(doc.Id, "peer-1"))
}

func TestOutboundThenMarkSentTransitionsToSynchronized(t *testing.T) {
	store := blockstore.New()
	doc := store.CreateDocument(domain.ContextKindConversation, "")
	_, err := store.InsertBlock(doc.Id, nil, nil, domain.RoleUser, domain.KindText, "alice", "hi")
	require.NoError(t, err)
	m := New(store)

	batch, err := m.Outbound(doc.Id, "peer-1")
	require.NoError(t, err)
	assert.False(t, batch.Empty())

	m.MarkSent(doc.Id, "peer-1", batch)
	assert.Equal(t, StateSynchronized, m.PeerState(doc.Id, "peer-1"))

	// a synchronized peer with nothing new gets an empty incremental batch
	batch2, err := m.Outbound(doc.Id, "peer-1")
	require.NoError(t, err)
	assert.True(t, batch2.Empty())
}

func TestInboundMissingCausalDependencyDemotesToFullSync(t *testing.T) {
	store := blockstore.New()
	doc := store.CreateDocument(domain.ContextKindConversation, "")
	m := New(store)
	m.MarkSent(doc.Id, "peer-1", blockstore.DocBatch{Revision: 1})

	orphan := blockstore.BlockState{
		Id:       domain.BlockId{ContextId: doc.Id, PrincipalId: "remote", Sequence: 1},
		ParentId: &domain.BlockId{ContextId: doc.Id, PrincipalId: "remote", Sequence: 0},
		Role:     domain.RoleModel,
		Kind:     domain.KindText,
	}
	err := m.Inbound(doc.Id, "peer-1", blockstore.DocBatch{Revision: 2, Blocks: []blockstore.BlockState{orphan}})
	require.NoError(t, err)
	assert.Equal(t, StateNeedsFullSync, m.PeerState(doc.Id, "peer-1"))
}

func TestResetForcesFullSync(t *testing.T) {
	store := blockstore.New()
	doc := store.CreateDocument(domain.ContextKindConversation, "")
	m := New(store)
	m.MarkSent(doc.Id, "peer-1", blockstore.DocBatch{Revision: 5})
	require.Equal(t, StateSynchronized, m.PeerState(doc.Id, "peer-1"))

	m.Reset(doc.Id, "peer-1")
	assert.Equal(t, StateNeedsFullSync, m.PeerState(doc.Id, "peer-1"))
}

func TestForgetDropsPeerAcrossDocuments(t *testing.T) {
	store := blockstore.New()
	docA := store.CreateDocument(domain.ContextKindConversation, "")
	docB := store.CreateDocument(domain.ContextKindConversation, "")
	m := New(store)
	m.MarkSent(docA.Id, "peer-1", blockstore.DocBatch{Revision: 1})
	m.MarkSent(docB.Id, "peer-1", blockstore.DocBatch{Revision: 1})

	m.Forget("peer-1")
	assert.Equal(t, StateNeedsFullSync, m.PeerState(docA.Id, "peer-1"))
	assert.Equal(t, StateNeedsFullSync, m.PeerState(docB.Id, "peer-1"))
}
