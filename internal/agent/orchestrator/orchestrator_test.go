package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/pmo-platform/chatcore/internal/agent/conversations"
	"github.com/pmo-platform/chatcore/internal/agent/extract"
	"github.com/pmo-platform/chatcore/internal/agent/goals"
	"github.com/pmo-platform/chatcore/internal/agent/model"
	"github.com/pmo-platform/chatcore/internal/agent/repo"
	"github.com/pmo-platform/chatcore/internal/agent/respond"
	"github.com/pmo-platform/chatcore/internal/agent/session"
	"github.com/pmo-platform/chatcore/internal/agent/toolexec"
	"github.com/pmo-platform/chatcore/internal/agent/transition"
	errx "github.com/pmo-platform/chatcore/internal/core/error"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubReasoner scripts Generate outputs (popped per call) and a fixed
// EvaluateCondition result.
type stubReasoner struct {
	mu         sync.Mutex
	outputs    []string
	defaultOut string
	genErr     error
	genCalls   int
	condResult model.ConditionResult
	condCalls  int
}

func (s *stubReasoner) Generate(ctx context.Context, messages []*schema.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.genCalls++
	if s.genErr != nil {
		return "", s.genErr
	}
	if len(s.outputs) > 0 {
		out := s.outputs[0]
		s.outputs = s.outputs[1:]
		return out, nil
	}
	return s.defaultOut, nil
}

func (s *stubReasoner) EvaluateCondition(ctx context.Context, condition string, contextMsgs []*schema.Message) (model.ConditionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.condCalls++
	return s.condResult, nil
}

type stubInvoker struct {
	mu       sync.Mutex
	calls    int
	failures int // fail the first N calls, then succeed
	err      error
	result   map[string]any
	lastArgs map[string]any
}

func (s *stubInvoker) Invoke(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastArgs = args
	if s.err != nil {
		return nil, s.err
	}
	if s.calls <= s.failures {
		return nil, errors.New("booking backend down")
	}
	return s.result, nil
}

func tuple(path, value string, conf float64) string {
	return fmt.Sprintf(`("field"<||>%s<||>%s<||>%.2f)##`, path, value, conf)
}

func harvest(tuples ...string) string {
	out := ""
	for _, t := range tuples {
		out += t + "\n"
	}
	return out + "<|COMPLETE|>"
}

func newTestOrchestrator(t *testing.T, registry *goals.Registry, analysis, response model.Reasoner, invoker model.ToolInvoker) (*Orchestrator, *session.Store) {
	t.Helper()

	var cfg model.ConversationConfig
	cfg.History.Window = 6
	cfg.Loop.MaxIterations = 10
	cfg.Retry.MaxAttempts = 2
	cfg.Retry.BackoffMS = 0

	store := session.NewStore(repo.NewMemorySessionRepository())
	builder := conversations.NewContextBuilder(cfg.History.Window)
	orch := New(Deps{
		Store:     store,
		Registry:  registry,
		Extractor: extract.NewExtractor(analysis, registry.KnownFieldPaths(), 0.5),
		Evaluator: transition.NewEvaluator(registry, analysis),
		Responder: respond.NewResponder(response, model.ResponsePromptConfig{BusinessType: "home services company", BusinessName: "PMO"}, builder),
		Executor:  toolexec.NewExecutor(invoker, cfg.Retry.MaxAttempts, 0),
		Builder:   builder,
	}, cfg)
	return orch, store
}

func defaultRegistry(t *testing.T) *goals.Registry {
	t.Helper()
	r, err := goals.Load("")
	require.NoError(t, err)
	return r
}

func TestHandleMessageEndToEndBookingFlow(t *testing.T) {
	analysis := &stubReasoner{
		outputs: []string{
			harvest(tuple("customer.name", "Dana Reyes", 0.95)),
			harvest(tuple("service.primary_request", "roof leak", 0.9)),
			harvest(
				tuple("customer.phone", "416-555-0142", 0.95),
				tuple("service.preferred_date", "Friday", 0.9),
			),
		},
		defaultOut: "<|COMPLETE|>",
	}
	response := &stubReasoner{
		outputs: []string{
			"Nice to meet you, Dana. What can we help with today?",
			"Sorry to hear about the roof. What's the best phone number for you?",
			"You're booked for Friday, reference BK-1042. Thanks, Dana!",
		},
	}
	invoker := &stubInvoker{result: map[string]any{"booking_id": "BK-1042"}}

	orch, store := newTestOrchestrator(t, defaultRegistry(t), analysis, response, invoker)
	ctx := context.Background()
	id := session.NewSessionID()

	// Turn 1: the name arrives, GREETING hands off in the same turn.
	res, err := orch.HandleMessage(ctx, id, "Hi, my name is Dana Reyes")
	require.NoError(t, err)
	assert.Equal(t, "UNDERSTAND_REQUEST", res.CurrentGoal)
	assert.False(t, res.SessionClosed)
	assert.Contains(t, res.AgentReply, "Dana")

	// Turn 2: the request lands, gathering starts but fields are missing.
	res, err = orch.HandleMessage(ctx, id, "My roof has been leaking since last night")
	require.NoError(t, err)
	assert.Equal(t, "GATHER_REQUIREMENTS", res.CurrentGoal)
	assert.False(t, res.SessionClosed)

	// Turn 3: last fields arrive; the booking runs and auto-advances
	// through EXECUTE_ACTION into the terminal CLOSING goal.
	res, err = orch.HandleMessage(ctx, id, "You can reach me at 416-555-0142, Friday works")
	require.NoError(t, err)
	assert.Equal(t, "CLOSING", res.CurrentGoal)
	assert.True(t, res.SessionClosed)
	assert.Equal(t, 1, invoker.calls)
	assert.Equal(t, map[string]any{
		"customer_name":  "Dana Reyes",
		"phone":          "416-555-0142",
		"request":        "roof leak",
		"preferred_date": "Friday",
	}, invoker.lastArgs)

	// All transitions in this flow are deterministic; the semantic check
	// never ran.
	assert.Zero(t, analysis.condCalls)

	sess, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, sess.Closed())
	require.Len(t, sess.Exchanges, 3)
	for i, ex := range sess.Exchanges {
		assert.Equal(t, i, ex.Seq)
	}
	assert.Equal(t, "BK-1042", sess.Fields.Get("operations.booking_id"))

	// The terminal close also released the turn-lock entry.
	orch.mu.Lock()
	_, held := orch.turnLocks[id]
	orch.mu.Unlock()
	assert.False(t, held)

	// Turn 4: the closed session rejects further messages.
	_, err = orch.HandleMessage(ctx, id, "one more thing")
	require.Error(t, err)
	assert.True(t, IsClosed(err))
}

func TestHandleMessageAppendsExchangeExactlyOncePerTurn(t *testing.T) {
	analysis := &stubReasoner{defaultOut: "<|COMPLETE|>"}
	response := &stubReasoner{defaultOut: "How can I help?"}
	orch, store := newTestOrchestrator(t, defaultRegistry(t), analysis, response, &stubInvoker{})

	ctx := context.Background()
	id := session.NewSessionID()
	const turns = 5
	for i := 0; i < turns; i++ {
		_, err := orch.HandleMessage(ctx, id, fmt.Sprintf("message %d", i))
		require.NoError(t, err)
	}

	sess, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, sess.Exchanges, turns)
	for i, ex := range sess.Exchanges {
		assert.Equal(t, i, ex.Seq)
		assert.Equal(t, fmt.Sprintf("message %d", i), ex.UserMsg)
		assert.Equal(t, "How can I help?", ex.AgentMsg)
	}
}

func TestHandleMessageConcurrentTurnsSerialize(t *testing.T) {
	analysis := &stubReasoner{defaultOut: "<|COMPLETE|>"}
	response := &stubReasoner{defaultOut: "Understood."}
	orch, store := newTestOrchestrator(t, defaultRegistry(t), analysis, response, &stubInvoker{})

	ctx := context.Background()
	id := session.NewSessionID()

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := orch.HandleMessage(ctx, id, fmt.Sprintf("concurrent %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	sess, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, sess.Exchanges, writers)
	for i, ex := range sess.Exchanges {
		assert.Equal(t, i, ex.Seq)
	}
}

func TestHandleMessageDegradesToFallbackReply(t *testing.T) {
	analysis := &stubReasoner{defaultOut: "<|COMPLETE|>"}
	response := &stubReasoner{genErr: errx.ExternalCall(errors.New("model unavailable"))}
	orch, store := newTestOrchestrator(t, defaultRegistry(t), analysis, response, &stubInvoker{})

	ctx := context.Background()
	id := session.NewSessionID()
	res, err := orch.HandleMessage(ctx, id, "hello")
	require.NoError(t, err)
	assert.Equal(t, respond.FallbackReply, res.AgentReply)
	// Retried to the budget before degrading.
	assert.Equal(t, 2, response.genCalls)

	// The turn still completed: the exchange was appended.
	sess, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, sess.Exchanges, 1)
	assert.Equal(t, respond.FallbackReply, sess.Exchanges[0].AgentMsg)
}

func TestHandleMessageExtractionFailureContinuesTurn(t *testing.T) {
	analysis := &stubReasoner{genErr: errx.ExternalCall(errors.New("model unavailable"))}
	response := &stubReasoner{defaultOut: "Could you tell me your name?"}
	orch, store := newTestOrchestrator(t, defaultRegistry(t), analysis, response, &stubInvoker{})

	ctx := context.Background()
	id := session.NewSessionID()
	res, err := orch.HandleMessage(ctx, id, "hi there")
	require.NoError(t, err)
	assert.Equal(t, "GREETING", res.CurrentGoal)
	assert.Equal(t, "Could you tell me your name?", res.AgentReply)

	sess, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, sess.Fields)
	require.Len(t, sess.Exchanges, 1)
}

func TestHandleMessageToolFailureStaysOnActionGoal(t *testing.T) {
	analysis := &stubReasoner{
		outputs: []string{harvest(
			tuple("customer.name", "Dana Reyes", 0.95),
			tuple("customer.phone", "416-555-0142", 0.95),
			tuple("service.primary_request", "roof leak", 0.9),
			tuple("service.preferred_date", "Friday", 0.9),
		)},
		defaultOut: "<|COMPLETE|>",
	}
	response := &stubReasoner{defaultOut: "One moment while I book that."}
	invoker := &stubInvoker{err: errors.New("booking backend down")}
	orch, store := newTestOrchestrator(t, defaultRegistry(t), analysis, response, invoker)

	ctx := context.Background()
	id := session.NewSessionID()

	// Turn 1 lands every field and stops at GATHER_REQUIREMENTS, a step
	// goal. Turn 2 crosses into EXECUTE_ACTION where the booking fails.
	res, err := orch.HandleMessage(ctx, id, "Dana Reyes, 416-555-0142, roof leak, Friday please")
	require.NoError(t, err)
	assert.Equal(t, "GATHER_REQUIREMENTS", res.CurrentGoal)

	res, err = orch.HandleMessage(ctx, id, "yes, that is all correct")
	require.NoError(t, err)

	// The booking failed, so operations.booking_id never lands and the
	// session holds at EXECUTE_ACTION for the next turn to retry.
	assert.Equal(t, "EXECUTE_ACTION", res.CurrentGoal)
	assert.False(t, res.SessionClosed)

	sess, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, sess.Fields.IsSet("operations.booking_id"))
	assert.Equal(t, "Dana Reyes", sess.Fields.Get("customer.name"))
}

func TestHandleMessageRetriesPendingActionOnLaterTurn(t *testing.T) {
	analysis := &stubReasoner{
		outputs: []string{harvest(
			tuple("customer.name", "Dana Reyes", 0.95),
			tuple("customer.phone", "416-555-0142", 0.95),
			tuple("service.primary_request", "roof leak", 0.9),
			tuple("service.preferred_date", "Friday", 0.9),
		)},
		defaultOut: "<|COMPLETE|>",
	}
	response := &stubReasoner{defaultOut: "On it."}
	// The backend is down for the entry turn's whole retry budget (2
	// attempts), then recovers.
	invoker := &stubInvoker{failures: 2, result: map[string]any{"booking_id": "BK-55"}}
	orch, store := newTestOrchestrator(t, defaultRegistry(t), analysis, response, invoker)

	ctx := context.Background()
	id := session.NewSessionID()

	res, err := orch.HandleMessage(ctx, id, "Dana Reyes, 416-555-0142, roof leak, Friday please")
	require.NoError(t, err)
	assert.Equal(t, "GATHER_REQUIREMENTS", res.CurrentGoal)

	res, err = orch.HandleMessage(ctx, id, "yes, book it")
	require.NoError(t, err)
	assert.Equal(t, "EXECUTE_ACTION", res.CurrentGoal)
	assert.Equal(t, 2, invoker.calls)

	// The next turn re-invokes the pending action; the booking lands and
	// the exit rule fires in the same turn.
	res, err = orch.HandleMessage(ctx, id, "is it booked yet?")
	require.NoError(t, err)
	assert.Equal(t, 3, invoker.calls)
	assert.Equal(t, "CLOSING", res.CurrentGoal)
	assert.True(t, res.SessionClosed)

	sess, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "BK-55", sess.Fields.Get("operations.booking_id"))
	assert.True(t, sess.ActionDone("EXECUTE_ACTION"))
}

func TestHandleMessageInvokesCompletedActionOnlyOnce(t *testing.T) {
	analysis := &stubReasoner{
		outputs: []string{harvest(
			tuple("customer.name", "Dana Reyes", 0.95),
			tuple("customer.phone", "416-555-0142", 0.95),
			tuple("service.primary_request", "roof leak", 0.9),
			tuple("service.preferred_date", "Friday", 0.9),
		)},
		defaultOut: "<|COMPLETE|>",
	}
	response := &stubReasoner{defaultOut: "Done."}
	// Success, but with no result fields: the goal's exit rule can never
	// fire, so the session keeps turning on the action goal. The tool
	// must still only run once.
	invoker := &stubInvoker{result: map[string]any{}}
	orch, _ := newTestOrchestrator(t, defaultRegistry(t), analysis, response, invoker)

	ctx := context.Background()
	id := session.NewSessionID()
	_, err := orch.HandleMessage(ctx, id, "Dana Reyes, 416-555-0142, roof leak, Friday please")
	require.NoError(t, err)

	res, err := orch.HandleMessage(ctx, id, "book it")
	require.NoError(t, err)
	assert.Equal(t, "EXECUTE_ACTION", res.CurrentGoal)
	assert.Equal(t, 1, invoker.calls)

	_, err = orch.HandleMessage(ctx, id, "anything yet?")
	require.NoError(t, err)
	assert.Equal(t, 1, invoker.calls, "a completed action must not be re-invoked")
}

func TestHandleMessageIterationCapStopsAutoAdvanceCycle(t *testing.T) {
	// Two auto goals whose rules point at each other: without the cap the
	// advance loop would never come back for user input.
	registry, err := goals.Parse([]byte(`
default_goal: A
goals:
  - id: A
    description: ping
    advance: auto
    transitions:
      - kind: when_field_set
        field: flow.trigger
        target: B
  - id: B
    description: pong
    advance: auto
    transitions:
      - kind: when_field_set
        field: flow.trigger
        target: A
`))
	require.NoError(t, err)

	analysis := &stubReasoner{
		outputs:    []string{harvest(tuple("flow.trigger", "on", 0.9))},
		defaultOut: "<|COMPLETE|>",
	}
	response := &stubReasoner{defaultOut: "Still here."}
	orch, store := newTestOrchestrator(t, registry, analysis, response, &stubInvoker{})

	ctx := context.Background()
	id := session.NewSessionID()
	res, err := orch.HandleMessage(ctx, id, "go")
	require.NoError(t, err)
	assert.Equal(t, "Still here.", res.AgentReply)
	assert.False(t, res.SessionClosed)

	sess, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, sess.Exchanges, 1)
}

func TestCloseEndsSessionAtTurnBoundary(t *testing.T) {
	analysis := &stubReasoner{defaultOut: "<|COMPLETE|>"}
	response := &stubReasoner{defaultOut: "Hello!"}
	orch, _ := newTestOrchestrator(t, defaultRegistry(t), analysis, response, &stubInvoker{})

	ctx := context.Background()
	id := session.NewSessionID()
	_, err := orch.HandleMessage(ctx, id, "hi")
	require.NoError(t, err)

	require.NoError(t, orch.Close(ctx, id))

	// Closing releases the per-session turn-lock entry.
	orch.mu.Lock()
	_, held := orch.turnLocks[id]
	orch.mu.Unlock()
	assert.False(t, held)

	_, err = orch.HandleMessage(ctx, id, "are you there?")
	require.Error(t, err)
	assert.True(t, IsClosed(err))
}
