package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strix/internal/config"
	"strix/internal/events"
	"strix/internal/keys"
	"strix/internal/llm"
	"strix/internal/memory"
	"strix/internal/session"
	"strix/internal/tools"
	"strix/internal/vecstore"
)

// stubEmbedder returns a fixed vector so memory operations succeed.
type stubEmbedder struct{}

func (e *stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}
func (e *stubEmbedder) Dimensions() int   { return 3 }
func (e *stubEmbedder) ModelName() string { return "stub-embed" }

// scriptedResponse is one canned turn of the fake provider.
type scriptedResponse struct {
	tokens  []string
	message llm.Message
	err     error
}

type scriptedCaller struct {
	mu        sync.Mutex
	responses []scriptedResponse
	requests  []*llm.ChatRequest
	// onCall runs before the nth response (1-based) is returned.
	onCall func(n int)
}

func (c *scriptedCaller) next(req *llm.ChatRequest) (scriptedResponse, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	n := len(c.requests)
	if len(c.responses) == 0 {
		return scriptedResponse{message: llm.Message{Role: "assistant"}}, n
	}
	resp := c.responses[0]
	if len(c.responses) > 1 {
		c.responses = c.responses[1:]
	}
	return resp, n
}

func (c *scriptedCaller) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return c.StreamChat(ctx, req, nil)
}

func (c *scriptedCaller) StreamChat(_ context.Context, req *llm.ChatRequest, onToken llm.TokenCallback) (*llm.ChatResponse, error) {
	resp, n := c.next(req)
	if c.onCall != nil {
		c.onCall(n)
	}
	if resp.err != nil {
		return nil, resp.err
	}
	if onToken != nil {
		for _, tok := range resp.tokens {
			onToken(tok)
		}
	}
	return &llm.ChatResponse{
		ID:      "scripted",
		Model:   "scripted-model",
		Choices: []llm.Choice{{Message: resp.message, FinishReason: "stop"}},
	}, nil
}

func (c *scriptedCaller) ModelName() string { return "scripted-model" }

// eventRecorder captures published events in order.
type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *eventRecorder) byType(t events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type loopFixture struct {
	sessions *session.Store
	contexts *session.ContextStore
	recorder *eventRecorder
	caller   *scriptedCaller
	registry *tools.Registry
	executor *tools.Executor
	memories *memory.Service
	loop     *Loop
}

func newLoopFixture(t *testing.T, cfg config.AgentConfig) *loopFixture {
	t.Helper()

	sessions, err := session.NewStore(t.TempDir())
	require.NoError(t, err)
	registry, err := tools.NewRegistry(t.TempDir())
	require.NoError(t, err)

	f := &loopFixture{
		sessions: sessions,
		contexts: session.NewContextStore(sessions, cfg.MaxContextMessages),
		recorder: &eventRecorder{},
		caller:   &scriptedCaller{},
		registry: registry,
		executor: tools.NewExecutor(registry),
		memories: memory.NewService(vecstore.NewMemStore(), &stubEmbedder{}, "memories_stub_embed_3", nil, 0),
	}
	f.loop = NewLoop(cfg, Deps{
		Sessions:  f.sessions,
		Contexts:  f.contexts,
		Publisher: f.recorder,
		System:    f.caller,
		Registry:  f.registry,
		Index:     tools.NewIndex(f.registry, nil, nil),
		Executor:  f.executor,
		Memories:  f.memories,
	})
	return f
}

func (f *loopFixture) createSession(t *testing.T, task string) *session.Session {
	t.Helper()
	sess, err := f.sessions.Create(&session.Session{TaskDescription: task, UserID: "u1"})
	require.NoError(t, err)
	return sess
}

func TestRunHappyPathNoTools(t *testing.T) {
	f := newLoopFixture(t, config.AgentConfig{})
	f.caller.responses = []scriptedResponse{
		{tokens: []string{"Hi."}, message: llm.Message{Role: "assistant", Content: "Hi."}},
	}
	sess := f.createSession(t, "hello")

	require.NoError(t, f.loop.Run(context.Background(), sess.ID))

	got, err := f.sessions.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, got.Status)
	assert.Equal(t, "Hi.", got.Result)
	assert.Equal(t, 1, got.IterationCount)
	assert.Equal(t, "recall\nthink-and-act\nanswer", got.Plan)

	assert.Equal(t, []events.Type{
		events.TypeStatusChange,
		events.TypePlanReady,
		events.TypeStepStart,
		events.TypeStepComplete,
		events.TypeStepStart,
		events.TypeIterationStart,
		events.TypeThinking,
		events.TypeStepComplete,
		events.TypeStepStart,
		events.TypeStepComplete,
		events.TypeFinalAnswer,
		events.TypeStatusChange,
	}, f.recorder.types())

	thinking := f.recorder.byType(events.TypeThinking)
	require.Len(t, thinking, 1)
	assert.Equal(t, "Hi.", thinking[0].Content)

	completes := f.recorder.byType(events.TypeStepComplete)
	require.Len(t, completes, 3)
	assert.Equal(t, "完成推理", completes[1].Payload["summary"])
	assert.Equal(t, "Hi.", completes[2].Payload["summary"])

	// The run leaves a completion memory behind.
	assert.Equal(t, int64(1), f.memories.Count(context.Background(), memory.TypeSemantic, "", "u1"))
}

func TestRunToolCallThenAnswer(t *testing.T) {
	f := newLoopFixture(t, config.AgentConfig{})
	_, err := f.registry.Register(&tools.Descriptor{
		Name:        "lookup",
		Description: "Looks things up.",
		Kind:        tools.KindNative,
		Schema:      []byte(`{"type":"object"}`),
		EntryPoint:  "lookup",
	})
	require.NoError(t, err)
	f.executor.RegisterNative("lookup", func(_ context.Context, args string) (string, error) {
		return "The capital of France is Paris, established as such for many centuries.", nil
	})

	f.caller.responses = []scriptedResponse{
		{message: llm.Message{Role: "assistant", ToolCalls: []llm.ToolCall{{
			ID: "c1", Type: "function",
			Function: llm.FunctionCall{Name: "lookup", Arguments: `{"q":"capital of France"}`},
		}}}},
		{tokens: []string{"Paris."}, message: llm.Message{Role: "assistant", Content: "Paris."}},
	}
	sess := f.createSession(t, "what is the capital of France?")

	require.NoError(t, f.loop.Run(context.Background(), sess.ID))

	got, err := f.sessions.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, got.Status)
	assert.Equal(t, "Paris.", got.Result)
	assert.Equal(t, 2, got.IterationCount)

	// The assistant message and its tool result land in one append.
	messages, err := f.contexts.Load(sess.ID)
	require.NoError(t, err)
	require.Len(t, messages, 4)
	assert.Equal(t, "system", messages[0].Role)
	assert.Equal(t, "assistant", messages[2].Role)
	require.Len(t, messages[2].ToolCalls, 1)
	assert.Equal(t, "tool", messages[3].Role)
	assert.Equal(t, "c1", messages[3].ToolCallID)

	calls := f.recorder.byType(events.TypeToolCall)
	require.Len(t, calls, 1)
	assert.Equal(t, "lookup", calls[0].Payload["name"])
	results := f.recorder.byType(events.TypeToolResult)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Payload["output"], "Paris")

	// A substantial tool result becomes an episodic memory.
	assert.Equal(t, int64(1), f.memories.Count(context.Background(), memory.TypeEpisodic, "", "u1"))
}

func TestRunPrefersUserProviderKey(t *testing.T) {
	f := newLoopFixture(t, config.AgentConfig{})
	keyStore, err := keys.NewStore(t.TempDir())
	require.NoError(t, err)
	_, err = keyStore.CreateKey(&keys.APIKey{
		UserID: "u1", Provider: "deepseek", KeyType: keys.KeyTypeLLM,
		APIKey: "sk-user", IsDefault: true,
	})
	require.NoError(t, err)
	f.loop.resolver = keys.NewResolver(keyStore)

	userCaller := &scriptedCaller{responses: []scriptedResponse{
		{message: llm.Message{Role: "assistant", Content: "From the user's provider."}},
	}}
	var resolved config.ProviderConfig
	f.loop.newCaller = func(cfg config.ProviderConfig) llm.Caller {
		resolved = cfg
		return userCaller
	}

	sess := f.createSession(t, "hello")
	require.NoError(t, f.loop.Run(context.Background(), sess.ID))

	assert.Equal(t, "deepseek", resolved.Name)
	assert.Equal(t, "deepseek-chat", resolved.Model, "blank model resolves to the provider default")
	assert.Len(t, userCaller.requests, 1)
	assert.Empty(t, f.caller.requests, "system router must stay idle for user-key sessions")
}

func TestRunMaxIterations(t *testing.T) {
	f := newLoopFixture(t, config.AgentConfig{MaxIterations: 2})
	f.caller.responses = []scriptedResponse{
		{message: llm.Message{Role: "assistant"}},
	}
	sess := f.createSession(t, "never finishes")

	require.NoError(t, f.loop.Run(context.Background(), sess.ID))

	got, err := f.sessions.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, got.Status)
	assert.Equal(t, "Max iterations (2) reached without final answer.", got.ErrorMessage)
	assert.Equal(t, 2, got.IterationCount)

	completes := f.recorder.byType(events.TypeStepComplete)
	require.Len(t, completes, 3)
	assert.Equal(t, "达到最大迭代次数", completes[1].Payload["summary"])
	assert.Equal(t, 2, completes[1].Payload["index"])
	assert.Equal(t, "未得到最终回答", completes[2].Payload["summary"])
	assert.Equal(t, 3, completes[2].Payload["index"])
	errs := f.recorder.byType(events.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, got.ErrorMessage, errs[0].Content)
}

func TestRunProviderFailureFailsSession(t *testing.T) {
	f := newLoopFixture(t, config.AgentConfig{})
	f.caller.responses = []scriptedResponse{
		{err: assert.AnError},
	}
	sess := f.createSession(t, "doomed")

	require.Error(t, f.loop.Run(context.Background(), sess.ID))

	got, err := f.sessions.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, got.Status)
	assert.NotEmpty(t, got.ErrorMessage)
	assert.Len(t, f.recorder.byType(events.TypeError), 1)
}

func TestRunPauseResume(t *testing.T) {
	f := newLoopFixture(t, config.AgentConfig{ResumePollMs: 10})
	var sessID string
	f.caller.onCall = func(n int) {
		if n == 1 {
			_, err := f.sessions.Update(sessID, func(s *session.Session) error {
				s.Status = session.StatusPaused
				return nil
			})
			require.NoError(t, err)
			go func() {
				time.Sleep(30 * time.Millisecond)
				_, _ = f.sessions.Update(sessID, func(s *session.Session) error {
					s.Status = session.StatusRunning
					return nil
				})
			}()
		}
	}
	f.caller.responses = []scriptedResponse{
		{message: llm.Message{Role: "assistant"}},
		{message: llm.Message{Role: "assistant", Content: "resumed answer"}},
	}
	sess := f.createSession(t, "pausable")
	sessID = sess.ID

	require.NoError(t, f.loop.Run(context.Background(), sess.ID))

	got, err := f.sessions.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, got.Status)
	assert.Equal(t, "resumed answer", got.Result)
	assert.Equal(t, 2, got.IterationCount)
}

func TestRunExternalAbortPreservesReason(t *testing.T) {
	f := newLoopFixture(t, config.AgentConfig{})
	var sessID string
	f.caller.onCall = func(n int) {
		if n == 1 {
			_, err := f.sessions.Update(sessID, func(s *session.Session) error {
				s.Status = session.StatusFailed
				s.ErrorMessage = "Aborted by user"
				return nil
			})
			require.NoError(t, err)
		}
	}
	f.caller.responses = []scriptedResponse{
		{message: llm.Message{Role: "assistant"}},
	}
	sess := f.createSession(t, "abortable")
	sessID = sess.ID

	require.NoError(t, f.loop.Run(context.Background(), sess.ID))

	got, err := f.sessions.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, got.Status)
	assert.Equal(t, "Aborted by user", got.ErrorMessage, "the abort reason must survive the loop exit")
	assert.Empty(t, f.recorder.byType(events.TypeFinalAnswer))
}

func TestRunAdvertisesAllToolsWhenIndexDisabled(t *testing.T) {
	f := newLoopFixture(t, config.AgentConfig{})
	f.caller.responses = []scriptedResponse{
		{message: llm.Message{Role: "assistant", Content: "ok"}},
	}
	sess := f.createSession(t, "anything")

	require.NoError(t, f.loop.Run(context.Background(), sess.ID))

	require.Len(t, f.caller.requests, 1)
	names := make([]string, 0)
	for _, tool := range f.caller.requests[0].Tools {
		names = append(names, tool.Function.Name)
	}
	assert.Contains(t, names, tools.RecallMemoryName)
	assert.Contains(t, names, tools.StoreMemoryName)
	assert.Equal(t, "auto", f.caller.requests[0].ToolChoice)
	assert.InDelta(t, 0.7, f.caller.requests[0].Temperature, 0.001)
	assert.Equal(t, 4096, f.caller.requests[0].MaxTokens)
}

func TestRunResumesExistingContext(t *testing.T) {
	f := newLoopFixture(t, config.AgentConfig{})
	sess := f.createSession(t, "multi turn")
	require.NoError(t, f.contexts.Initialize(sess.ID, []llm.Message{
		llm.SystemMessage("existing prompt"),
		llm.UserMessage("first question"),
		{Role: "assistant", Content: "first answer"},
		llm.UserMessage("follow-up"),
	}))
	f.caller.responses = []scriptedResponse{
		{message: llm.Message{Role: "assistant", Content: "second answer"}},
	}

	require.NoError(t, f.loop.Run(context.Background(), sess.ID))

	require.Len(t, f.caller.requests, 1)
	sent := f.caller.requests[0].Messages
	require.Len(t, sent, 4)
	assert.Equal(t, "existing prompt", sent[0].Content, "an existing context is resumed, not re-initialized")
}
