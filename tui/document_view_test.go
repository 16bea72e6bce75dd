package tui

import (
	"context"
	"testing"

	"kaijutsu/blockstore"
	"kaijutsu/domain"
	"kaijutsu/eventbus"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRowsOrdersByDepthAndOrderKey(t *testing.T) {
	store := blockstore.New()
	doc := store.CreateDocument(domain.ContextKindConversation, "")
	author := domain.NewPrincipalId()

	root, err := store.InsertBlock(doc.Id, nil, nil, domain.RoleUser, domain.KindText, author, "hi")
	require.NoError(t, err)
	_, err = store.InsertBlock(doc.Id, &root.Id, nil, domain.RoleModel, domain.KindText, author, "reply")
	require.NoError(t, err)

	bus := eventbus.New()
	m := NewDocumentModel(doc.Id, store, bus)

	msg := m.loadRows()
	loaded, ok := msg.(rowsLoadedMsg)
	require.True(t, ok)
	require.NoError(t, loaded.err)
	require.Len(t, loaded.rows, 2)
	assert.Equal(t, 0, loaded.rows[0].depth)
	assert.Equal(t, 1, loaded.rows[1].depth)
}

func TestUpdateQuitsOnQ(t *testing.T) {
	store := blockstore.New()
	doc := store.CreateDocument(domain.ContextKindConversation, "")
	bus := eventbus.New()
	m := NewDocumentModel(doc.Id, store, bus)

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	dm := updated.(DocumentModel)
	assert.True(t, dm.quitting)
	require.NotNil(t, cmd)
}

func TestDocEventMsgTriggersReload(t *testing.T) {
	store := blockstore.New()
	doc := store.CreateDocument(domain.ContextKindConversation, "")
	bus := eventbus.New()
	m := NewDocumentModel(doc.Id, store, bus)
	events, _, err := bus.Subscribe(context.Background(), doc.Id)
	require.NoError(t, err)
	m.events = events

	_, cmd := m.Update(docEventMsg{ev: eventbus.Event{ContextId: doc.Id, Kind: eventbus.KindBlockCreated}})
	require.NotNil(t, cmd)
}
