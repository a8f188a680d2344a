// Package agentloop implements the agent-orchestration generation backend.
//
// Unlike the direct provider, this variant carries continuation context
// between turns: it keeps a running summary of the dialogue in session state
// and feeds only a bounded window of recent messages to the gateway, so long
// conversations stay inside the model's context window.
package agentloop

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/campuskit/tutorcore/internal/adapter/gateway"
	"github.com/campuskit/tutorcore/internal/domain"
	"github.com/campuskit/tutorcore/internal/domain/chat"
	"github.com/campuskit/tutorcore/internal/port/backend"
)

// Name is the registry identifier for this backend.
const Name = "agentloop"

// Session state keys owned by this variant. Keys written by other variants
// are passed through unread.
const (
	stateKeySummary = "agentloop.summary"
	stateKeyTurns   = "agentloop.turns"
)

// historyWindow is the number of trailing messages sent verbatim; everything
// older is represented only by the running summary.
const historyWindow = 12

// summaryEntryLimit bounds how much of each exchange enters the summary.
const summaryEntryLimit = 160

// Completer is the slice of the gateway client this backend needs.
type Completer interface {
	Model() string
	ChatCompletion(ctx context.Context, messages []gateway.ChatMessage) (*gateway.ChatResponse, error)
	ChatCompletionStream(ctx context.Context, messages []gateway.ChatMessage, onDelta func(string)) (string, error)
}

// Backend drives generation through the LLM gateway with summary-compressed
// history.
type Backend struct {
	llm Completer
}

// New creates the agentloop backend on top of a gateway client.
func New(llm Completer) *Backend {
	return &Backend{llm: llm}
}

// RegisterWith registers a factory bound to the given gateway client.
// Called from wiring once the client exists; the registry's init() pattern
// does not fit here because the client is built from runtime config.
func RegisterWith(llm Completer) {
	backend.Register(Name, func(_ map[string]string) (backend.Backend, error) {
		if llm == nil {
			return nil, fmt.Errorf("agentloop backend: gateway client not configured")
		}
		return New(llm), nil
	})
}

// Name returns the registry identifier.
func (b *Backend) Name() string { return Name }

// Capabilities reports native streaming. The loop is not marked retry-safe:
// replaying a turn would double-fold it into the running summary.
func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{Streaming: true, RetrySafe: false}
}

// Generate produces a complete response synchronously.
func (b *Backend) Generate(ctx context.Context, history []chat.Message, directive string, state chat.SessionState) (*backend.Result, error) {
	resp, err := b.llm.ChatCompletion(ctx, b.prompt(history, directive, state))
	if err != nil {
		return nil, wrap(err)
	}
	if resp.Content == "" {
		return nil, domain.NewGenerationError(domain.CauseInvalidOutput, Name,
			errors.New("gateway returned empty content"))
	}
	return &backend.Result{
		Text:  resp.Content,
		State: foldSummary(state, history, resp.Content),
	}, nil
}

// GenerateStream produces a finite chunk sequence, updating the summary only
// once the stream finishes cleanly.
func (b *Backend) GenerateStream(ctx context.Context, history []chat.Message, directive string, state chat.SessionState) (<-chan backend.Chunk, error) {
	out := make(chan backend.Chunk)
	go func() {
		defer close(out)

		full, err := b.llm.ChatCompletionStream(ctx, b.prompt(history, directive, state), func(delta string) {
			select {
			case out <- backend.Chunk{Delta: delta}:
			case <-ctx.Done():
			}
		})
		terminal := backend.Chunk{Done: true, Text: full, State: foldSummary(state, history, full)}
		if err != nil {
			terminal = backend.Chunk{Done: true, Text: full, State: state, Err: wrap(err)}
		}
		select {
		case out <- terminal:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

// prompt assembles the gateway messages: directive, running summary of the
// pruned prefix, then the trailing window of the live history.
func (b *Backend) prompt(history []chat.Message, directive string, state chat.SessionState) []gateway.ChatMessage {
	msgs := []gateway.ChatMessage{{Role: chat.RoleSystem, Content: directive}}

	if summary, ok := state[stateKeySummary].(string); ok && summary != "" && len(history) > historyWindow {
		msgs = append(msgs, gateway.ChatMessage{
			Role:    chat.RoleSystem,
			Content: "Summary of the earlier conversation:\n" + summary,
		})
	}

	window := history
	if len(window) > historyWindow {
		window = window[len(window)-historyWindow:]
	}
	for _, m := range window {
		if m.Role == chat.RoleSystem {
			continue
		}
		msgs = append(msgs, gateway.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return msgs
}

// foldSummary appends the latest exchange to the running summary and bumps
// the turn counter. Unrecognized state keys are carried over untouched.
func foldSummary(state chat.SessionState, history []chat.Message, assistant string) chat.SessionState {
	next := state.Clone()

	var lastUser string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == chat.RoleUser {
			lastUser = history[i].Content
			break
		}
	}

	summary, _ := next[stateKeySummary].(string)
	entry := "Q: " + clip(lastUser) + " A: " + clip(assistant)
	if summary == "" {
		summary = entry
	} else {
		summary = summary + "\n" + entry
	}
	next[stateKeySummary] = summary

	turns, _ := next[stateKeyTurns].(int)
	next[stateKeyTurns] = turns + 1
	return next
}

func clip(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= summaryEntryLimit {
		return s
	}
	return s[:summaryEntryLimit] + "…"
}

func wrap(err error) error {
	cause := domain.CauseProviderError
	if errors.Is(err, context.DeadlineExceeded) {
		cause = domain.CauseTimeout
	}
	return domain.NewGenerationError(cause, Name, err)
}
