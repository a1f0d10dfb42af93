// Package llm opens streaming completions against the configured
// provider, matching spec.md §6's "LLM session" contract: open given
// (system_prompt, history, user_message), emit a lazy sequence of text
// deltas and a terminal done marker, cancellable mid-stream via ctx.
//
// Grounded on the teacher's internal/voice/llm/client.go dual-provider
// dispatch (pick Anthropic or OpenAI by model name prefix), but built on
// the SDKs the rest of the example pack reaches for instead of a
// hand-rolled SSE parser: anthropic-sdk-go (lookatitude-beluga-ai) and
// go-openai (lookatitude-beluga-ai, chriscow-livekit-agents-go).
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	anthropicSDK "github.com/anthropics/anthropic-sdk-go"
	anthropicOption "github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/sashabaranov/go-openai"

	"github.com/yourusername/voice-call-engine/internal/logger"
)

// Message is one turn of conversation history (spec.md §3).
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Client dispatches a streaming completion request to whichever
// provider the configured model belongs to. It holds no conversation
// state of its own — history is owned by the caller (engine.Agent),
// matching spec.md §3's ownership summary.
type Client struct {
	anthropicKey string
	openAIKey    string

	anthropic anthropicSDK.Client
	openai    *openai.Client
}

// NewClient builds a client able to serve Anthropic and/or OpenAI
// models, depending on which API keys are configured.
func NewClient(anthropicKey, openAIKey string) *Client {
	c := &Client{anthropicKey: anthropicKey, openAIKey: openAIKey}
	if anthropicKey != "" {
		c.anthropic = anthropicSDK.NewClient(anthropicOption.WithAPIKey(anthropicKey))
	}
	if openAIKey != "" {
		c.openai = openai.NewClient(openAIKey)
	}
	return c
}

// Stream opens a streaming completion. The returned token channel yields
// text deltas and is closed when the model finishes or ctx is cancelled.
// The returned error channel carries at most one value: a non-nil error
// if the stream died mid-generation (anything other than ctx cancellation),
// then it is closed. Callers should drain the token channel fully before
// reading from it, so a clean completion is never mistaken for a failure
// (spec.md §7's "upstream mid-stream error" class).
func (c *Client) Stream(
	ctx context.Context,
	systemPrompt string,
	history []Message,
	userMessage string,
	model string,
	temperature float64,
	maxTokens int,
) (<-chan string, <-chan error, error) {
	log := logger.WithComponent("llm")

	messages := append(append([]Message{}, history...), Message{Role: "user", Content: userMessage})

	switch {
	case strings.HasPrefix(model, "claude") || strings.HasPrefix(model, "anthropic"):
		log.Debug().Str("model", model).Str("provider", "anthropic").Msg("streaming completion")
		return c.streamAnthropic(ctx, systemPrompt, messages, model, temperature, maxTokens)

	case strings.HasPrefix(model, "gpt") || strings.HasPrefix(model, "o1"):
		log.Debug().Str("model", model).Str("provider", "openai").Msg("streaming completion")
		return c.streamOpenAI(ctx, systemPrompt, messages, model, temperature, maxTokens)
	}

	if c.anthropicKey != "" {
		log.Debug().Str("provider", "anthropic").Msg("defaulting to anthropic")
		return c.streamAnthropic(ctx, systemPrompt, messages, "claude-3-haiku-20240307", temperature, maxTokens)
	}
	if c.openAIKey != "" {
		log.Debug().Str("provider", "openai").Msg("falling back to openai")
		return c.streamOpenAI(ctx, systemPrompt, messages, "gpt-4o-mini", temperature, maxTokens)
	}

	return nil, nil, fmt.Errorf("no LLM API key configured")
}

func (c *Client) streamAnthropic(
	ctx context.Context,
	systemPrompt string,
	messages []Message,
	model string,
	temperature float64,
	maxTokens int,
) (<-chan string, <-chan error, error) {
	if c.anthropicKey == "" {
		return nil, nil, fmt.Errorf("anthropic API key not configured")
	}

	params := anthropicSDK.MessageNewParams{
		Model:     anthropicSDK.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  toAnthropicMessages(messages),
		System:    []anthropicSDK.TextBlockParam{{Text: systemPrompt}},
	}
	if temperature > 0 {
		params.Temperature = anthropicSDK.Float(temperature)
	}

	stream := c.anthropic.Messages.NewStreaming(ctx, params)

	out := make(chan string, 64)
	errCh := make(chan error, 1)
	log := logger.WithComponent("llm")

	go func() {
		defer close(out)
		defer close(errCh)
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			if event.Type != "content_block_delta" {
				continue
			}
			if event.Delta.Type != "text_delta" || event.Delta.Text == "" {
				continue
			}
			select {
			case out <- event.Delta.Text:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			log.Debug().Err(err).Msg("anthropic stream ended with error")
			errCh <- fmt.Errorf("anthropic stream: %w", err)
		}
	}()

	return out, errCh, nil
}

func toAnthropicMessages(messages []Message) []anthropicSDK.MessageParam {
	out := make([]anthropicSDK.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropicSDK.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			out = append(out, anthropicSDK.NewAssistantMessage(block))
		} else {
			out = append(out, anthropicSDK.NewUserMessage(block))
		}
	}
	return out
}

func (c *Client) streamOpenAI(
	ctx context.Context,
	systemPrompt string,
	messages []Message,
	model string,
	temperature float64,
	maxTokens int,
) (<-chan string, <-chan error, error) {
	if c.openAIKey == "" {
		return nil, nil, fmt.Errorf("OpenAI API key not configured")
	}

	req := openai.ChatCompletionRequest{
		Model:     model,
		Stream:    true,
		MaxTokens: maxTokens,
		Messages:  toOpenAIMessages(systemPrompt, messages),
	}
	if temperature > 0 {
		req.Temperature = float32(temperature)
	}

	stream, err := c.openai.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("openai stream creation failed: %w", err)
	}

	out := make(chan string, 64)
	errCh := make(chan error, 1)
	log := logger.WithComponent("llm")

	go func() {
		defer close(out)
		defer close(errCh)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, io.EOF) {
					log.Debug().Err(err).Msg("openai stream ended with error")
					errCh <- fmt.Errorf("openai stream: %w", err)
				}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case out <- delta:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errCh, nil
}

func toOpenAIMessages(systemPrompt string, messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		if m.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}
