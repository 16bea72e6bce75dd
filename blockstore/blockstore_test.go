package blockstore

import (
	"testing"

	"kaijutsu/domain"
	"kaijutsu/kernelerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertBlockAndSnapshot(t *testing.T) {
	s := New()
	doc := s.CreateDocument(domain.ContextKindConversation, "")

	b, err := s.InsertBlock(doc.Id, nil, nil, domain.RoleUser, domain.KindText, "alice", "hello")
	require.NoError(t, err)

	snap, err := s.BlockSnapshot(doc.Id, b.Id)
	require.NoError(t, err)
	assert.Equal(t, "hello", snap.Content)
	assert.Equal(t, domain.StatusStreaming, snap.Header.Status)
}

func TestBlocksOrderedRespectsSiblingOrder(t *testing.T) {
	s := New()
	doc := s.CreateDocument(domain.ContextKindConversation, "")

	first, err := s.InsertBlock(doc.Id, nil, nil, domain.RoleUser, domain.KindText, "alice", "first")
	require.NoError(t, err)
	second, err := s.InsertBlock(doc.Id, nil, &first.Id, domain.RoleUser, domain.KindText, "alice", "second")
	require.NoError(t, err)
	// insert a third between first and second
	third, err := s.InsertBlock(doc.Id, nil, &first.Id, domain.RoleUser, domain.KindText, "alice", "third")
	require.NoError(t, err)

	ordered, err := s.BlocksOrdered(doc.Id)
	require.NoError(t, err)
	require.Len(t, ordered, 3)
	assert.Equal(t, first.Id, ordered[0].Id)
	assert.Equal(t, third.Id, ordered[1].Id)
	assert.Equal(t, second.Id, ordered[2].Id)
}

func TestDeleteBlockSkipsButKeepsChildrenVisible(t *testing.T) {
	s := New()
	doc := s.CreateDocument(domain.ContextKindConversation, "")

	parent, err := s.InsertBlock(doc.Id, nil, nil, domain.RoleUser, domain.KindText, "alice", "parent")
	require.NoError(t, err)
	child, err := s.InsertBlock(doc.Id, &parent.Id, nil, domain.RoleUser, domain.KindText, "alice", "child")
	require.NoError(t, err)

	require.NoError(t, s.DeleteBlock(doc.Id, parent.Id, "alice"))

	ordered, err := s.BlocksOrdered(doc.Id)
	require.NoError(t, err)
	require.Len(t, ordered, 1)
	assert.Equal(t, child.Id, ordered[0].Id)
}

func TestMoveBlockRejectsCycle(t *testing.T) {
	s := New()
	doc := s.CreateDocument(domain.ContextKindConversation, "")

	parent, err := s.InsertBlock(doc.Id, nil, nil, domain.RoleUser, domain.KindText, "alice", "parent")
	require.NoError(t, err)
	child, err := s.InsertBlock(doc.Id, &parent.Id, nil, domain.RoleUser, domain.KindText, "alice", "child")
	require.NoError(t, err)

	err = s.MoveBlock(doc.Id, parent.Id, "alice", &child.Id, nil)
	require.Error(t, err)
	assert.True(t, kernelerr.Is(err, kernelerr.KindConflict))
}

func TestOpsSinceAndMergeOpsRoundTrip(t *testing.T) {
	a := New()
	docA := a.CreateDocument(domain.ContextKindConversation, "")
	_, err := a.InsertBlock(docA.Id, nil, nil, domain.RoleModel, domain.KindText, "model-a", "streamed text")
	require.NoError(t, err)

	batch, err := a.OpsSince(docA.Id, 0)
	require.NoError(t, err)
	require.False(t, batch.Empty())

	b := New()
	docB := b.CreateDocument(domain.ContextKindConversation, "")
	// replica b's document has its own context id; MergeOps creates the
	// unknown blocks under their original ids, but the document itself
	// must exist.
	_ = docB
	err = b.MergeOps(docB.Id, DocBatch{Revision: batch.Revision, Blocks: append([]BlockState{}, batch.Blocks...)})
	require.NoError(t, err)

	ordered, err := b.BlocksOrdered(docB.Id)
	require.NoError(t, err)
	require.Len(t, ordered, 1)
	snap, err := b.BlockSnapshot(docB.Id, ordered[0].Id)
	require.NoError(t, err)
	assert.Equal(t, "streamed text", snap.Content)
}

func TestMergeOpsNormalizesFaultyPeerMinimumOrderKey(t *testing.T) {
	s := New()
	doc := s.CreateDocument(domain.ContextKindConversation, "")

	// A faulty or adversarial peer asserts a document's first sibling at
	// the alphabet's literal minimum digit, a value InsertBlock itself
	// never mints.
	faulty := domain.BlockId{ContextId: doc.Id, PrincipalId: "mallory", Sequence: 1}
	err := s.MergeOps(doc.Id, DocBatch{
		Revision: 1,
		Blocks: []BlockState{
			{Id: faulty, OrderKey: "0", Role: domain.RoleUser, Kind: domain.KindText},
		},
	})
	require.NoError(t, err)

	// Inserting a new first sibling locally must not panic even though a
	// sibling with the wire-supplied minimum key now exists.
	require.NotPanics(t, func() {
		_, err = s.InsertBlock(doc.Id, nil, nil, domain.RoleUser, domain.KindText, "alice", "first")
	})
	require.NoError(t, err)

	ordered, err := s.BlocksOrdered(doc.Id)
	require.NoError(t, err)
	require.Len(t, ordered, 2)
	assert.NotEqual(t, "0", ordered[0].OrderKey)
}

func TestBlockSnapshotNotFound(t *testing.T) {
	s := New()
	doc := s.CreateDocument(domain.ContextKindConversation, "")
	_, err := s.BlockSnapshot(doc.Id, domain.BlockId{ContextId: doc.Id, PrincipalId: "nobody", Sequence: 99})
	require.Error(t, err)
	assert.True(t, kernelerr.Is(err, kernelerr.KindNotFound))
}
