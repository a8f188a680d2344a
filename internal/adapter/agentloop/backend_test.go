package agentloop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/campuskit/tutorcore/internal/adapter/gateway"
	"github.com/campuskit/tutorcore/internal/domain"
	"github.com/campuskit/tutorcore/internal/domain/chat"
)

type fakeCompleter struct {
	lastPrompt []gateway.ChatMessage
	reply      string
	err        error
	deltas     []string
}

func (f *fakeCompleter) Model() string { return "fake" }

func (f *fakeCompleter) ChatCompletion(_ context.Context, messages []gateway.ChatMessage) (*gateway.ChatResponse, error) {
	f.lastPrompt = messages
	if f.err != nil {
		return nil, f.err
	}
	return &gateway.ChatResponse{Content: f.reply}, nil
}

func (f *fakeCompleter) ChatCompletionStream(_ context.Context, messages []gateway.ChatMessage, onDelta func(string)) (string, error) {
	f.lastPrompt = messages
	var full strings.Builder
	for _, d := range f.deltas {
		full.WriteString(d)
		onDelta(d)
	}
	if f.err != nil {
		return full.String(), f.err
	}
	return full.String(), nil
}

func userTurn(content string) chat.Message {
	return chat.Message{Role: chat.RoleUser, Content: content}
}

func TestGenerate_UpdatesSummaryState(t *testing.T) {
	llm := &fakeCompleter{reply: "Midterms count for 30%."}
	b := New(llm)

	history := []chat.Message{userTurn("How much do midterms count?")}
	res, err := b.Generate(context.Background(), history, "directive", chat.SessionState{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "Midterms count for 30%." {
		t.Fatalf("unexpected text %q", res.Text)
	}

	summary, _ := res.State[stateKeySummary].(string)
	if !strings.Contains(summary, "How much do midterms count?") {
		t.Fatalf("summary missing question: %q", summary)
	}
	if turns, _ := res.State[stateKeyTurns].(int); turns != 1 {
		t.Fatalf("turns = %d, want 1", turns)
	}
}

func TestGenerate_PreservesForeignStateKeys(t *testing.T) {
	llm := &fakeCompleter{reply: "ok"}
	b := New(llm)

	state := chat.SessionState{"other.variant.key": "keep-me"}
	res, err := b.Generate(context.Background(), []chat.Message{userTurn("hi")}, "d", state)
	if err != nil {
		t.Fatal(err)
	}
	if res.State["other.variant.key"] != "keep-me" {
		t.Fatalf("foreign key dropped: %v", res.State)
	}
	// Input state must not be mutated in place.
	if _, ok := state[stateKeySummary]; ok {
		t.Fatal("input state mutated")
	}
}

func TestGenerate_PrunesHistoryAndInjectsSummary(t *testing.T) {
	llm := &fakeCompleter{reply: "ok"}
	b := New(llm)

	var history []chat.Message
	for i := range 30 {
		history = append(history, userTurn(fmt.Sprintf("question %d", i)))
	}
	state := chat.SessionState{stateKeySummary: "earlier talk"}

	if _, err := b.Generate(context.Background(), history, "directive", state); err != nil {
		t.Fatal(err)
	}

	// directive + summary + trailing window
	if len(llm.lastPrompt) != 2+historyWindow {
		t.Fatalf("prompt length = %d, want %d", len(llm.lastPrompt), 2+historyWindow)
	}
	if llm.lastPrompt[0].Content != "directive" {
		t.Fatalf("first message should be directive, got %q", llm.lastPrompt[0].Content)
	}
	if !strings.Contains(llm.lastPrompt[1].Content, "earlier talk") {
		t.Fatalf("summary not injected: %q", llm.lastPrompt[1].Content)
	}
	last := llm.lastPrompt[len(llm.lastPrompt)-1]
	if last.Content != "question 29" {
		t.Fatalf("window should end at newest message, got %q", last.Content)
	}
}

func TestGenerate_EmptyContentIsInvalidOutput(t *testing.T) {
	b := New(&fakeCompleter{reply: ""})
	_, err := b.Generate(context.Background(), []chat.Message{userTurn("hi")}, "d", nil)
	if domain.GenerationCauseOf(err) != domain.CauseInvalidOutput {
		t.Fatalf("expected invalid_output, got %v", err)
	}
}

func TestGenerate_TimeoutCause(t *testing.T) {
	b := New(&fakeCompleter{err: context.DeadlineExceeded})
	_, err := b.Generate(context.Background(), []chat.Message{userTurn("hi")}, "d", nil)
	if domain.GenerationCauseOf(err) != domain.CauseTimeout {
		t.Fatalf("expected timeout cause, got %v", err)
	}
}

func TestGenerateStream_TerminalChunkCarriesStateAndText(t *testing.T) {
	b := New(&fakeCompleter{deltas: []string{"par", "tial", " answer"}})

	ch, err := b.GenerateStream(context.Background(), []chat.Message{userTurn("hi")}, "d", chat.SessionState{})
	if err != nil {
		t.Fatal(err)
	}

	var full strings.Builder
	var terminal *struct {
		text string
		err  error
	}
	for chunk := range ch {
		if chunk.Done {
			terminal = &struct {
				text string
				err  error
			}{chunk.Text, chunk.Err}
			if chunk.State[stateKeySummary] == nil {
				t.Fatal("terminal chunk missing updated state")
			}
			continue
		}
		full.WriteString(chunk.Delta)
	}
	if terminal == nil {
		t.Fatal("no terminal chunk")
	}
	if terminal.err != nil {
		t.Fatalf("unexpected stream error: %v", terminal.err)
	}
	if terminal.text != "partial answer" || full.String() != terminal.text {
		t.Fatalf("deltas %q != terminal text %q", full.String(), terminal.text)
	}
}

func TestGenerateStream_MidStreamFailureKeepsPartialText(t *testing.T) {
	b := New(&fakeCompleter{deltas: []string{"some "}, err: errors.New("connection reset")})

	ch, err := b.GenerateStream(context.Background(), []chat.Message{userTurn("hi")}, "d", chat.SessionState{})
	if err != nil {
		t.Fatal(err)
	}

	var terminal *struct {
		text string
		err  error
	}
	for chunk := range ch {
		if chunk.Done {
			terminal = &struct {
				text string
				err  error
			}{chunk.Text, chunk.Err}
		}
	}
	if terminal == nil || terminal.err == nil {
		t.Fatal("expected terminal error chunk")
	}
	if terminal.text != "some " {
		t.Fatalf("partial text = %q, want %q", terminal.text, "some ")
	}
	if domain.GenerationCauseOf(terminal.err) != domain.CauseProviderError {
		t.Fatalf("expected provider_error, got %v", terminal.err)
	}
}
