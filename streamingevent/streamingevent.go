// Package streamingevent adapts the two kept LLM provider streaming APIs
// (OpenAI and Anthropic) into one provider-agnostic Delta the collaboration
// core can append to a block via blockstore.AppendText, without the core
// depending on either provider's wire format directly. Modeled on the
// teacher's ChatMessageDelta (common/llm_types.go), trimmed to the
// streaming-only fields this system actually consumes.
package streamingevent

import (
	"context"
	"errors"
	"io"

	anthropic "github.com/ehsanul/anthropic-go/v3/pkg/anthropic"
	openai "github.com/sashabaranov/go-openai"
)

// Delta is one incremental chunk of a streaming model response.
type Delta struct {
	TextDelta    string
	ToolCallName string
	ToolCallArgs string
	Done         bool
}

// Sink receives each Delta as it arrives; typically wired to
// blockstore.AppendText for the block backing the in-flight model turn.
type Sink func(Delta)

// ConsumeOpenAIStream drains an OpenAI chat completion stream, calling
// sink for every delta, until the stream ends or ctx is canceled.
func ConsumeOpenAIStream(ctx context.Context, stream *openai.ChatCompletionStream, sink Sink) error {
	defer stream.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			sink(Delta{Done: true})
			return nil
		}
		if err != nil {
			return err
		}
		for _, choice := range resp.Choices {
			d := Delta{TextDelta: choice.Delta.Content}
			for _, tc := range choice.Delta.ToolCalls {
				d.ToolCallName = tc.Function.Name
				d.ToolCallArgs += tc.Function.Arguments
			}
			sink(d)
		}
	}
}

// AnthropicEvent is the normalized shape this package expects an Anthropic
// SSE content-block-delta event to have been decoded into by the caller —
// kept minimal and decoupled from the SDK's own event struct so this
// consumer loop doesn't need to track every field the SDK exposes.
type AnthropicEvent struct {
	Type string
	Text string
}

// ConsumeAnthropicStream drains a channel of decoded Anthropic stream
// events, normalizing text content-block deltas into Deltas.
func ConsumeAnthropicStream(ctx context.Context, events <-chan AnthropicEvent, sink Sink) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				sink(Delta{Done: true})
				return nil
			}
			switch ev.Type {
			case "content_block_delta":
				sink(Delta{TextDelta: ev.Text})
			case "message_stop":
				sink(Delta{Done: true})
				return nil
			}
		}
	}
}

// AnthropicClient is a thin alias over the kept anthropic-go dependency's
// client type, so a caller that constructs the AnthropicEvent channel
// ConsumeAnthropicStream reads from can depend on this package alone
// rather than importing anthropic-go directly.
type AnthropicClient = anthropic.Client
