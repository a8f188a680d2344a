// Package openai implements the direct-provider generation backend.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/campuskit/tutorcore/internal/domain"
	"github.com/campuskit/tutorcore/internal/domain/chat"
	"github.com/campuskit/tutorcore/internal/port/backend"
)

// Name is the registry identifier for this backend.
const Name = "openai"

func init() {
	backend.Register(Name, func(config map[string]string) (backend.Backend, error) {
		apiKey := config["api_key"]
		if apiKey == "" {
			return nil, fmt.Errorf("openai backend: api_key is required")
		}
		model := config["model"]
		if model == "" {
			model = goopenai.GPT4oMini
		}
		cfg := goopenai.DefaultConfig(apiKey)
		if baseURL := config["base_url"]; baseURL != "" {
			cfg.BaseURL = baseURL
		}
		return &Backend{
			client: goopenai.NewClientWithConfig(cfg),
			model:  model,
		}, nil
	})
}

// Backend calls the provider's chat completion API directly, one completion
// per turn. It keeps no continuation context of its own: session state passes
// through untouched, so any keys written by other variants survive.
type Backend struct {
	client *goopenai.Client
	model  string
}

// Name returns the registry identifier.
func (b *Backend) Name() string { return Name }

// Capabilities reports native streaming and retry safety (a completion call
// is stateless on the provider side).
func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{Streaming: true, RetrySafe: true}
}

// Generate produces a complete response synchronously.
func (b *Backend) Generate(ctx context.Context, history []chat.Message, directive string, state chat.SessionState) (*backend.Result, error) {
	resp, err := b.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:    b.model,
		Messages: toProviderMessages(history, directive),
	})
	if err != nil {
		return nil, domain.NewGenerationError(causeOf(err), Name, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, domain.NewGenerationError(domain.CauseInvalidOutput, Name,
			errors.New("provider returned no content"))
	}
	return &backend.Result{
		Text:  resp.Choices[0].Message.Content,
		State: state,
	}, nil
}

// GenerateStream produces a finite chunk sequence from the provider's
// streaming API.
func (b *Backend) GenerateStream(ctx context.Context, history []chat.Message, directive string, state chat.SessionState) (<-chan backend.Chunk, error) {
	stream, err := b.client.CreateChatCompletionStream(ctx, goopenai.ChatCompletionRequest{
		Model:    b.model,
		Messages: toProviderMessages(history, directive),
		Stream:   true,
	})
	if err != nil {
		return nil, domain.NewGenerationError(causeOf(err), Name, err)
	}

	out := make(chan backend.Chunk)
	go func() {
		defer close(out)
		defer stream.Close()

		var full string
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				deliver(ctx, out, backend.Chunk{Done: true, Text: full, State: state})
				return
			}
			if err != nil {
				deliver(ctx, out, backend.Chunk{
					Done:  true,
					Text:  full,
					State: state,
					Err:   domain.NewGenerationError(causeOf(err), Name, err),
				})
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			full += delta
			select {
			case out <- backend.Chunk{Delta: delta}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// toProviderMessages maps the directive plus ordered history onto the
// provider's message format. Stored system messages are skipped; the
// directive is the single source of system framing per turn.
func toProviderMessages(history []chat.Message, directive string) []goopenai.ChatCompletionMessage {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(history)+1)
	msgs = append(msgs, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleSystem,
		Content: directive,
	})
	for _, m := range history {
		if m.Role == chat.RoleSystem {
			continue
		}
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	return msgs
}

// deliver sends a chunk unless the consumer's context has ended.
func deliver(ctx context.Context, out chan<- backend.Chunk, c backend.Chunk) {
	select {
	case out <- c:
	case <-ctx.Done():
	}
}

func causeOf(err error) domain.GenerationCause {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.CauseTimeout
	}
	return domain.CauseProviderError
}
