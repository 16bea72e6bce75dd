package shell

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSuccess(t *testing.T) {
	res, err := Run(context.Background(), []string{"echo", "hello"}, nil, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
}

func TestRunNonZeroExit(t *testing.T) {
	res, err := Run(context.Background(), []string{"false"}, nil, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEqual(t, 0, res.ExitCode)
}

func TestRunEmptyArgv(t *testing.T) {
	res, err := Run(context.Background(), nil, nil, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
}
