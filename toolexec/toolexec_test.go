package toolexec

import (
	"context"
	"sync"
	"testing"
	"time"

	"kaijutsu/kernelerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteUnknownToolReturnsToolNotFound(t *testing.T) {
	e := NewEngine()
	_, err := e.Execute(context.Background(), "nope", "")
	require.Error(t, err)
	assert.True(t, kernelerr.Is(err, kernelerr.KindToolNotFound))
}

func TestExecuteReturnsHandlerResult(t *testing.T) {
	e := NewEngine()
	e.RegisterHandler("echo", func(ctx context.Context, input string) (ExecResult, error) {
		return ExecResult{Stdout: input, Success: true}, nil
	})
	res, err := e.Execute(context.Background(), "echo", "hi")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "hi", res.Stdout)
}

func TestExecuteHandlerPanicBecomesFailingResult(t *testing.T) {
	e := NewEngine()
	e.RegisterHandler("boom", func(ctx context.Context, input string) (ExecResult, error) {
		panic("kaboom")
	})
	res, err := e.Execute(context.Background(), "boom", "")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEqual(t, 0, res.ExitCode)
}

func TestBatcherFlushesOnNewline(t *testing.T) {
	var mu sync.Mutex
	var chunks []string
	b := NewBatcher("stdout", func(stream, chunk string) {
		mu.Lock()
		defer mu.Unlock()
		chunks = append(chunks, chunk)
	})
	_, _ = b.Write([]byte("hello\n"))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello\n", chunks[0])
}

func TestBatcherFlushesOnByteThreshold(t *testing.T) {
	var mu sync.Mutex
	var chunks []string
	b := NewBatcher("stdout", func(stream, chunk string) {
		mu.Lock()
		defer mu.Unlock()
		chunks = append(chunks, chunk)
	})
	big := make([]byte, FlushMaxBytes)
	for i := range big {
		big[i] = 'x'
	}
	_, _ = b.Write(big)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, chunks, 1)
	assert.Len(t, chunks[0], FlushMaxBytes)
}

func TestBatcherFlushesOnCloseEvenWithoutNewline(t *testing.T) {
	var chunks []string
	b := NewBatcher("stdout", func(stream, chunk string) {
		chunks = append(chunks, chunk)
	})
	_, _ = b.Write([]byte("partial"))
	assert.Empty(t, chunks)
	b.Close()
	require.Len(t, chunks, 1)
	assert.Equal(t, "partial", chunks[0])
}

func TestBatcherFlushesOnInactivityTimer(t *testing.T) {
	done := make(chan string, 1)
	b := NewBatcher("stdout", func(stream, chunk string) {
		done <- chunk
	})
	_, _ = b.Write([]byte("slow"))
	select {
	case chunk := <-done:
		assert.Equal(t, "slow", chunk)
	case <-time.After(time.Second):
		t.Fatal("batcher did not flush on inactivity timer")
	}
}
