package mcpadapter

import (
	"testing"

	"kaijutsu/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBlockIdRoundTrip(t *testing.T) {
	ctx := domain.NewContextId()
	id := domain.BlockId{ContextId: ctx, PrincipalId: "alice", Sequence: 42}

	parsed, err := parseBlockId(ctx, id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseBlockIdRejectsMalformed(t *testing.T) {
	ctx := domain.NewContextId()
	_, err := parseBlockId(ctx, "not-a-block-id")
	assert.Error(t, err)
}

func TestNamesListsRegisteredTools(t *testing.T) {
	assert.Contains(t, Names, "insert_block")
	assert.Contains(t, Names, "append_text")
	assert.Contains(t, Names, "blocks_ordered")
}
