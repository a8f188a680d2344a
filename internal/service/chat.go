// Package service contains the orchestration layer: mode resolution, the
// turn pipeline over interchangeable generation backends, and the
// write-behind archiver.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/campuskit/tutorcore/internal/adapter/ws"
	"github.com/campuskit/tutorcore/internal/config"
	"github.com/campuskit/tutorcore/internal/domain"
	"github.com/campuskit/tutorcore/internal/domain/chat"
	"github.com/campuskit/tutorcore/internal/metrics"
	"github.com/campuskit/tutorcore/internal/port/backend"
	"github.com/campuskit/tutorcore/internal/port/broadcast"
	"github.com/campuskit/tutorcore/internal/port/convstore"
	"github.com/campuskit/tutorcore/internal/port/events"
)

// Telemetry mirrors turn outcomes into an external metrics pipeline. It is
// satisfied by the otel adapter; a nil Telemetry is a no-op.
type Telemetry interface {
	RecordTurn(ctx context.Context, mode, backendName string, latency time.Duration, failed bool)
	RecordConversation(ctx context.Context)
}

// ChatService drives the turn pipeline: validate, resolve mode, append the
// user message, generate, commit the assistant reply. Turns on one
// conversation are serialized; turns on distinct conversations run in
// parallel.
type ChatService struct {
	store convstore.Store
	modes *ModeService
	cfg   config.Chat
	col   *metrics.Collector
	turns *turnLock

	hub      broadcast.Broadcaster
	pub      events.Publisher
	tel      Telemetry
	archiver *Archiver

	mu       sync.RWMutex
	backends map[string]backend.Backend
	active   string
}

// NewChatService creates a ChatService. cfg.Backend selects the initially
// active backend and must name one of the given backends.
func NewChatService(store convstore.Store, modes *ModeService, cfg config.Chat, backends ...backend.Backend) (*ChatService, error) {
	if len(backends) == 0 {
		return nil, errors.New("at least one backend is required")
	}
	byName := make(map[string]backend.Backend, len(backends))
	for _, b := range backends {
		byName[b.Name()] = b
	}
	if _, ok := byName[cfg.Backend]; !ok {
		return nil, fmt.Errorf("active backend %q is not registered", cfg.Backend)
	}
	return &ChatService{
		store:    store,
		modes:    modes,
		cfg:      cfg,
		col:      metrics.NewCollector(),
		turns:    newTurnLock(),
		hub:      broadcast.Nop{},
		pub:      events.Nop{},
		backends: byName,
		active:   cfg.Backend,
	}, nil
}

// SetBroadcaster wires the WebSocket hub for turn lifecycle events.
func (s *ChatService) SetBroadcaster(hub broadcast.Broadcaster) { s.hub = hub }

// SetPublisher wires the message queue publisher for completed turns.
func (s *ChatService) SetPublisher(pub events.Publisher) { s.pub = pub }

// SetTelemetry wires the external metrics pipeline.
func (s *ChatService) SetTelemetry(tel Telemetry) { s.tel = tel }

// SetArchiver wires the write-behind archive.
func (s *ChatService) SetArchiver(a *Archiver) { s.archiver = a }

// Send runs one complete turn and returns the committed assistant reply.
func (s *ChatService) Send(ctx context.Context, req chat.TurnRequest) (*chat.TurnResponse, error) {
	directive, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	conv, err := s.getConversation(ctx, req)
	if err != nil {
		return nil, err
	}

	release := s.turns.acquire(conv.ID)
	defer release()

	history, state, err := s.appendUser(ctx, conv.ID, req)
	if err != nil {
		return nil, err
	}

	b := s.current()
	s.hub.BroadcastEvent(ctx, ws.EventTurnStarted, ws.TurnStartedEvent{ConversationID: conv.ID, Mode: req.Mode})

	start := time.Now()
	res, err := s.generate(ctx, b, history, directive, state)
	s.observe(ctx, req.Mode, b.Name(), time.Since(start), err)
	if err != nil {
		s.hub.BroadcastEvent(ctx, ws.EventTurnFailed, ws.TurnFailedEvent{
			ConversationID: conv.ID,
			Cause:          string(domain.GenerationCauseOf(err)),
		})
		return nil, err
	}

	userText := strings.TrimSpace(req.Message)
	reply, err := s.commit(ctx, conv.ID, req.Owner, req.Mode, res.Text, res.State)
	if err != nil {
		return nil, err
	}
	s.finishTurn(ctx, conv.ID, req.Owner, req.Mode, b.Name(), userText, reply.Content)

	return &chat.TurnResponse{ConversationID: conv.ID, Message: reply.Content, Mode: req.Mode}, nil
}

// SendStream runs one turn with incremental delivery. The returned channel
// yields zero or more delta fragments followed by exactly one terminal
// fragment (Done set; Err set as well when generation failed). Partial output
// present at failure time is committed to the conversation before the
// terminal fragment is delivered.
func (s *ChatService) SendStream(ctx context.Context, req chat.TurnRequest) (<-chan chat.Fragment, error) {
	directive, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	conv, err := s.getConversation(ctx, req)
	if err != nil {
		return nil, err
	}

	release := s.turns.acquire(conv.ID)

	history, state, err := s.appendUser(ctx, conv.ID, req)
	if err != nil {
		release()
		return nil, err
	}

	out := make(chan chat.Fragment, 16)
	go func() {
		defer close(out)
		defer release()
		s.streamTurn(ctx, out, conv.ID, req, history, directive, state)
	}()
	return out, nil
}

func (s *ChatService) streamTurn(ctx context.Context, out chan<- chat.Fragment, convID string, req chat.TurnRequest, history []chat.Message, directive string, state chat.SessionState) {
	b := s.current()
	s.hub.BroadcastEvent(ctx, ws.EventTurnStarted, ws.TurnStartedEvent{ConversationID: convID, Mode: req.Mode})

	userText := strings.TrimSpace(req.Message)
	start := time.Now()
	retries := 0

	for {
		var partial strings.Builder
		gctx, cancel := context.WithTimeout(ctx, s.cfg.GenerateWait)
		ch, err := b.GenerateStream(gctx, history, directive, state)
		if err != nil {
			cancel()
			if ctx.Err() == nil && s.retryable(b, err, retries) {
				retries++
				slog.Warn("stream start timed out, retrying", "conversation_id", convID, "attempt", retries)
				continue
			}
			s.observe(ctx, req.Mode, b.Name(), time.Since(start), err)
			s.failTurn(ctx, out, convID, req.Owner, req.Mode, err, "")
			return
		}

		terminal, synthesized, aborted := s.consumeStream(ctx, out, ch, convID, &partial)
		expired := gctx.Err()
		cancel()

		if aborted || (synthesized && ctx.Err() != nil) {
			// Caller went away mid-stream. Commit what was produced.
			err := ctx.Err()
			s.observe(ctx, req.Mode, b.Name(), time.Since(start), err)
			s.failTurn(ctx, out, convID, req.Owner, req.Mode, err, partial.String())
			return
		}

		if synthesized && expired != nil {
			// The per-attempt deadline fired mid-stream: the backend stopped
			// producing and closed without a terminal chunk. That is a
			// timeout, not a short success.
			terminal.Err = domain.NewGenerationError(domain.CauseTimeout, b.Name(), expired)
		}

		if terminal.Err != nil {
			if terminal.Text == "" && ctx.Err() == nil && s.retryable(b, terminal.Err, retries) {
				retries++
				slog.Warn("stream timed out, retrying", "conversation_id", convID, "attempt", retries)
				continue
			}
			s.observe(ctx, req.Mode, b.Name(), time.Since(start), terminal.Err)
			s.failTurn(ctx, out, convID, req.Owner, req.Mode, terminal.Err, terminal.Text)
			return
		}

		s.observe(ctx, req.Mode, b.Name(), time.Since(start), nil)
		reply, err := s.commit(ctx, convID, req.Owner, req.Mode, terminal.Text, terminal.State)
		if err != nil {
			s.failTurn(ctx, out, convID, req.Owner, req.Mode, err, "")
			return
		}
		s.finishTurn(ctx, convID, req.Owner, req.Mode, b.Name(), userText, reply.Content)
		s.emit(ctx, out, chat.Fragment{ConversationID: convID, Done: true})
		return
	}
}

// consumeStream forwards delta fragments until the terminal chunk arrives.
// synthesized is true when the channel closed without a terminal chunk; the
// caller decides whether that close was a timeout or a clean short result.
// aborted is true when the caller's context ended before the terminal chunk.
func (s *ChatService) consumeStream(ctx context.Context, out chan<- chat.Fragment, ch <-chan backend.Chunk, convID string, partial *strings.Builder) (terminal backend.Chunk, synthesized, aborted bool) {
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return backend.Chunk{Done: true, Text: partial.String()}, true, false
			}
			if chunk.Done {
				return chunk, false, false
			}
			partial.WriteString(chunk.Delta)
			frag := chat.Fragment{ConversationID: convID, Delta: chunk.Delta}
			if !s.emit(ctx, out, frag) {
				return backend.Chunk{}, false, true
			}
			s.hub.BroadcastEvent(ctx, ws.EventFragment, ws.FragmentEvent{ConversationID: convID, Delta: chunk.Delta})
		case <-ctx.Done():
			return backend.Chunk{}, false, true
		}
	}
}

// failTurn commits any partial output, notifies subscribers, and emits the
// terminal error fragment. The commit uses a detached context so a caller
// cancellation cannot lose text that was already delivered.
func (s *ChatService) failTurn(ctx context.Context, out chan<- chat.Fragment, convID, owner, mode string, genErr error, partialText string) {
	commitCtx := context.WithoutCancel(ctx)
	if partialText != "" {
		if _, err := s.commit(commitCtx, convID, owner, mode, partialText, nil); err != nil {
			slog.Error("partial commit failed", "conversation_id", convID, "error", err)
		}
	}
	cause := string(domain.GenerationCauseOf(genErr))
	if cause == "" {
		cause = "canceled"
	}
	s.hub.BroadcastEvent(commitCtx, ws.EventTurnFailed, ws.TurnFailedEvent{
		ConversationID: convID,
		Cause:          cause,
	})
	select {
	case out <- chat.Fragment{ConversationID: convID, Done: true, Err: genErr}:
	default:
	}
}

// emit delivers a fragment unless the caller's context has ended. Returns
// false when the caller is gone.
func (s *ChatService) emit(ctx context.Context, out chan<- chat.Fragment, f chat.Fragment) bool {
	select {
	case out <- f:
		return true
	case <-ctx.Done():
		return false
	}
}

// History returns the ordered messages of a conversation, falling back to the
// archive for conversations evicted from the live store.
func (s *ChatService) History(ctx context.Context, conversationID, owner string) ([]chat.Message, error) {
	msgs, err := s.store.History(ctx, conversationID, owner)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) && s.archiver != nil {
			return s.archiver.History(ctx, conversationID, owner)
		}
		return nil, err
	}
	return msgs, nil
}

// Clear truncates a conversation's messages and session state. The
// conversation record survives and keeps its owner and mode.
func (s *ChatService) Clear(ctx context.Context, conversationID, owner string) error {
	release := s.turns.acquire(conversationID)
	defer release()
	if err := s.store.Clear(ctx, conversationID, owner); err != nil {
		return err
	}
	if s.archiver != nil {
		s.archiver.Invalidate(ctx, conversationID, owner)
	}
	return nil
}

// Metrics returns a point-in-time snapshot of the collected counters.
func (s *ChatService) Metrics() metrics.Snapshot {
	return s.col.Snapshot()
}

// Modes returns the mode resolver for admin surfaces.
func (s *ChatService) Modes() *ModeService { return s.modes }

// ActiveBackend returns the name of the backend serving new turns.
func (s *ChatService) ActiveBackend() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Backends lists registered backend names with their capabilities.
func (s *ChatService) Backends() map[string]backend.Capabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]backend.Capabilities, len(s.backends))
	for name, b := range s.backends {
		result[name] = b.Capabilities()
	}
	return result
}

// SwitchBackend makes a registered backend the active one. In-flight turns
// finish on the backend they started with; conversation history is untouched.
func (s *ChatService) SwitchBackend(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.backends[name]; !ok {
		return fmt.Errorf("backend %q is not registered: %w", name, domain.ErrValidation)
	}
	prev := s.active
	s.active = name
	slog.Info("backend switched", "from", prev, "to", name)
	return nil
}

func (s *ChatService) current() backend.Backend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backends[s.active]
}

// validate checks the request and resolves the mode directive before any
// state is touched.
func (s *ChatService) validate(req chat.TurnRequest) (directive string, err error) {
	if req.Owner == "" {
		return "", fmt.Errorf("owner is required: %w", domain.ErrValidation)
	}
	if strings.TrimSpace(req.Message) == "" {
		return "", domain.ErrEmptyMessage
	}
	if req.Mode == "" {
		return "", fmt.Errorf("mode is required: %w", domain.ErrValidation)
	}
	return s.modes.Resolve(req.Mode)
}

func (s *ChatService) getConversation(ctx context.Context, req chat.TurnRequest) (*chat.Conversation, error) {
	created := req.ConversationID == ""
	conv, err := s.store.GetOrCreate(ctx, req.ConversationID, req.Owner, req.Mode)
	if err != nil {
		return nil, err
	}
	if created {
		s.col.RecordConversationCreated()
		if s.tel != nil {
			s.tel.RecordConversation(ctx)
		}
	}
	return conv, nil
}

// appendUser commits the user message and snapshots history and session
// state for generation. The user message is appended exactly once per turn,
// regardless of how many generation attempts follow.
func (s *ChatService) appendUser(ctx context.Context, convID string, req chat.TurnRequest) ([]chat.Message, chat.SessionState, error) {
	_, err := s.store.Append(ctx, convID, chat.Message{
		Role:    chat.RoleUser,
		Content: strings.TrimSpace(req.Message),
		Mode:    req.Mode,
	})
	if err != nil {
		return nil, nil, err
	}
	history, err := s.store.History(ctx, convID, req.Owner)
	if err != nil {
		return nil, nil, err
	}
	state, err := s.store.SessionState(ctx, convID, req.Owner)
	if err != nil {
		return nil, nil, err
	}
	return history, state, nil
}

// generate calls the backend with a bounded wait, retrying timeouts on
// retry-safe backends. The same input is replayed on every attempt.
func (s *ChatService) generate(ctx context.Context, b backend.Backend, history []chat.Message, directive string, state chat.SessionState) (*backend.Result, error) {
	retries := 0
	for {
		gctx, cancel := context.WithTimeout(ctx, s.cfg.GenerateWait)
		res, err := b.Generate(gctx, history, directive, state)
		cancel()
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil || !s.retryable(b, err, retries) {
			return nil, err
		}
		retries++
		slog.Warn("generation timed out, retrying", "backend", b.Name(), "attempt", retries)
	}
}

func (s *ChatService) retryable(b backend.Backend, err error, retries int) bool {
	return domain.GenerationCauseOf(err) == domain.CauseTimeout &&
		b.Capabilities().RetrySafe &&
		retries < s.cfg.TimeoutRetries
}

// commit appends the assistant reply and persists the updated session state.
func (s *ChatService) commit(ctx context.Context, convID, owner, mode, text string, state chat.SessionState) (*chat.Message, error) {
	reply, err := s.store.Append(ctx, convID, chat.Message{
		Role:    chat.RoleAssistant,
		Content: text,
		Mode:    mode,
	})
	if err != nil {
		return nil, fmt.Errorf("commit assistant message: %w", err)
	}
	if state != nil {
		if err := s.store.SetSessionState(ctx, convID, owner, state); err != nil {
			return nil, fmt.Errorf("persist session state: %w", err)
		}
	}
	return reply, nil
}

// finishTurn fans out the completed turn: WebSocket event, queue publish,
// archive snapshot. All of it is best-effort and off the response path.
func (s *ChatService) finishTurn(ctx context.Context, convID, owner, mode, backendName, userText, assistantText string) {
	s.hub.BroadcastEvent(ctx, ws.EventTurnCompleted, ws.TurnCompletedEvent{
		ConversationID: convID,
		Mode:           mode,
		Backend:        backendName,
	})

	if err := s.pub.PublishTurnCompleted(ctx, events.TurnCompleted{
		ConversationID: convID,
		Owner:          owner,
		Mode:           mode,
		Backend:        backendName,
		UserMessage:    userText,
		Assistant:      assistantText,
		CompletedAt:    time.Now().UTC(),
	}); err != nil {
		slog.Error("publish turn event failed", "conversation_id", convID, "error", err)
	}

	if s.archiver != nil {
		s.snapshotForArchive(ctx, convID, owner)
	}
}

func (s *ChatService) snapshotForArchive(ctx context.Context, convID, owner string) {
	conv, err := s.store.GetOrCreate(ctx, convID, owner, "")
	if err != nil {
		slog.Error("archive snapshot failed", "conversation_id", convID, "error", err)
		return
	}
	s.archiver.Enqueue(*conv, conv.Messages)
}

func (s *ChatService) observe(ctx context.Context, mode, backendName string, latency time.Duration, err error) {
	s.col.RecordInvocation(mode, backendName, latency, err)
	if s.tel != nil {
		s.tel.RecordTurn(ctx, mode, backendName, latency, err != nil)
	}
}
