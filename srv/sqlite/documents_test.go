package sqlite

import (
	"context"
	"testing"

	"kaijutsu/blockstore"
	"kaijutsu/crdt"
	"kaijutsu/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistAndLoadDocument(t *testing.T) {
	storage := NewTestSqliteStorage(t, "test_persist_document")
	ctx := context.Background()

	doc := domain.NewDocument(domain.NewContextId(), domain.ContextKindConversation, "")

	require.NoError(t, storage.PersistDocument(ctx, doc))

	kind, parent, err := storage.LoadDocument(ctx, doc.Id)
	require.NoError(t, err)
	assert.Equal(t, domain.ContextKindConversation, kind)
	assert.Equal(t, domain.ContextId(""), parent)
}

func TestLoadDocumentNotFound(t *testing.T) {
	storage := NewTestSqliteStorage(t, "test_load_missing_document")
	ctx := context.Background()

	_, _, err := storage.LoadDocument(ctx, domain.NewContextId())
	assert.Error(t, err)
}

func TestPersistAndLoadBlockStateRoundTrip(t *testing.T) {
	storage := NewTestSqliteStorage(t, "test_persist_block_state")
	ctx := context.Background()

	contextId := domain.NewContextId()
	doc := domain.NewDocument(contextId, domain.ContextKindConversation, "")
	require.NoError(t, storage.PersistDocument(ctx, doc))

	author := domain.PrincipalId("alice")
	blockId := domain.BlockId{ContextId: contextId, PrincipalId: author, Sequence: 1}

	text := crdt.New(string(author))
	textOps := text.Insert(0, "hello")

	bs := blockstore.BlockState{
		Id:       blockId,
		OrderKey: "m",
		Role:     domain.RoleUser,
		Kind:     domain.KindText,
		Header:   domain.Header{Status: domain.StatusDone, Lamport: 1, LamportAuthor: author},
		Text:     textOps,
	}

	require.NoError(t, storage.PersistBlockState(ctx, bs))

	loaded, err := storage.LoadBlockStates(ctx, contextId)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, blockId, loaded[0].Id)
	assert.Equal(t, "m", loaded[0].OrderKey)
	assert.Equal(t, domain.StatusDone, loaded[0].Header.Status)
	require.Len(t, loaded[0].Text.Inserts, 5)

	replay := crdt.New("replica")
	require.NoError(t, replay.MergeOps(loaded[0].Text))
	assert.Equal(t, "hello", replay.Content())
}

func TestPersistBlockStateUpsertOverwritesHeader(t *testing.T) {
	storage := NewTestSqliteStorage(t, "test_persist_block_upsert")
	ctx := context.Background()

	contextId := domain.NewContextId()
	doc := domain.NewDocument(contextId, domain.ContextKindConversation, "")
	require.NoError(t, storage.PersistDocument(ctx, doc))

	author := domain.PrincipalId("alice")
	blockId := domain.BlockId{ContextId: contextId, PrincipalId: author, Sequence: 1}

	bs := blockstore.BlockState{Id: blockId, OrderKey: "m", Role: domain.RoleUser, Kind: domain.KindText, Header: domain.Header{Status: domain.StatusStreaming}}
	require.NoError(t, storage.PersistBlockState(ctx, bs))

	bs.Header.Status = domain.StatusDone
	require.NoError(t, storage.PersistBlockState(ctx, bs))

	loaded, err := storage.LoadBlockStates(ctx, contextId)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, domain.StatusDone, loaded[0].Header.Status)
}
