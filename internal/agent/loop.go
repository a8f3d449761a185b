package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"strix/internal/config"
	"strix/internal/errors"
	"strix/internal/events"
	"strix/internal/keys"
	"strix/internal/llm"
	"strix/internal/logging"
	"strix/internal/memory"
	"strix/internal/observability"
	"strix/internal/session"
	"strix/internal/tools"
)

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 4096

	stepRecall = 1
	stepThink  = 2
	stepAnswer = 3
)

var planSteps = []string{"recall", "think-and-act", "answer"}

const baseSystemPrompt = `You are an autonomous agent that completes the user's task step by step.

You have access to tools. Two of them manage your long-term memory:
- recall_memory: search your long-term memory. Use it first whenever the question could be answered from facts you learned in earlier conversations.
- store_memory: save a stable, long-term fact worth remembering. Use it at most once per distinct fact. Always rewrite the fact in explicit third-person form ("the user ..." / "the assistant ..."), never in first person, so it stays unambiguous when read later.

Once you can answer the question, answer directly without calling further tools.`

// Publisher receives loop events; delivery failures never reach the loop.
type Publisher interface {
	Publish(events.Event)
}

// Deps are the collaborators one loop instance works against.
type Deps struct {
	Sessions  *session.Store
	Contexts  *session.ContextStore
	Publisher Publisher
	Resolver  *keys.Resolver
	System    llm.Caller
	Registry  *tools.Registry
	Index     *tools.Index
	Executor  *tools.Executor
	Memories  *memory.Service
	Metrics   *observability.Metrics
}

// Loop drives agent sessions: one Run per session, streaming completions,
// dispatching tool calls, and persisting progress after every iteration.
type Loop struct {
	cfg       config.AgentConfig
	sessions  *session.Store
	contexts  *session.ContextStore
	publisher Publisher
	resolver  *keys.Resolver
	system    llm.Caller
	registry  *tools.Registry
	index     *tools.Index
	executor  *tools.Executor
	memories  *memory.Service
	metrics   *observability.Metrics
	dedup     *dedupTracker
	tracer    trace.Tracer
	logger    logging.Logger

	// newCaller builds a client for a user-owned provider config.
	newCaller func(config.ProviderConfig) llm.Caller
}

// NewLoop wires a loop and registers the built-in memory tools on the
// executor.
func NewLoop(cfg config.AgentConfig, deps Deps) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 30
	}
	if cfg.TopKTools <= 0 {
		cfg.TopKTools = 12
	}
	if cfg.ResumePollMs <= 0 {
		cfg.ResumePollMs = 2000
	}

	l := &Loop{
		cfg:       cfg,
		sessions:  deps.Sessions,
		contexts:  deps.Contexts,
		publisher: deps.Publisher,
		resolver:  deps.Resolver,
		system:    deps.System,
		registry:  deps.Registry,
		index:     deps.Index,
		executor:  deps.Executor,
		memories:  deps.Memories,
		metrics:   deps.Metrics,
		dedup:     newDedupTracker(cfg.StoreMemoryPrefixLen),
		tracer:    otel.Tracer("strix/agent"),
		logger:    logging.NewComponentLogger("agent-loop"),
		newCaller: func(cfg config.ProviderConfig) llm.Caller { return llm.NewClient(cfg) },
	}
	l.executor.RegisterBuiltin(tools.RecallMemoryName, l.handleRecallMemory)
	l.executor.RegisterBuiltin(tools.StoreMemoryName, l.handleStoreMemory)
	return l
}

func (l *Loop) publish(e events.Event) {
	if l.publisher != nil {
		l.publisher.Publish(e)
	}
}

// Run executes one session to completion. It is safe to call again for a
// continued session; the existing context is resumed as-is.
func (l *Loop) Run(ctx context.Context, sessionID string) error {
	sess, err := l.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	ctx = withCallInfo(ctx, sess.ID, sess.UserID)

	if l.metrics != nil {
		l.metrics.SessionCounter.WithLabelValues("started").Inc()
		l.metrics.ActiveSessions.Inc()
		defer l.metrics.ActiveSessions.Dec()
	}

	if _, err := l.sessions.Update(sessionID, func(s *session.Session) error {
		s.Status = session.StatusRunning
		s.Plan = strings.Join(planSteps, "\n")
		return nil
	}); err != nil {
		return err
	}
	l.publish(events.StatusChange(sessionID, string(session.StatusRunning)))
	l.publish(events.PlanReady(sessionID, planSteps))

	// Step 1: pick the caller and prepare the conversation.
	l.publish(events.StepStart(sessionID, stepRecall, planSteps[0]))
	caller := l.selectCaller(sess.UserID)
	if err := l.ensureContext(sess); err != nil {
		l.finalizeFailure(sessionID, "context initialization failed: "+err.Error())
		return err
	}
	l.publish(events.StepComplete(sessionID, stepRecall, planSteps[0], ""))

	// Step 2: the reason-act loop.
	l.publish(events.StepStart(sessionID, stepThink, planSteps[1]))
	answer, aborted, loopErr := l.runInner(ctx, sess, caller)
	if aborted {
		l.logger.Info("Session %s left the running state externally, loop exiting", sessionID)
		return nil
	}
	if loopErr != nil {
		l.publish(events.StepComplete(sessionID, stepThink, planSteps[1], "未得到最终回答"))
		l.finalizeFailure(sessionID, loopErr.Error())
		return loopErr
	}
	if answer == "" {
		l.publish(events.StepComplete(sessionID, stepThink, planSteps[1], "达到最大迭代次数"))
		l.publish(events.StepStart(sessionID, stepAnswer, planSteps[2]))
		l.publish(events.StepComplete(sessionID, stepAnswer, planSteps[2], "未得到最终回答"))
		l.finalizeFailure(sessionID,
			fmt.Sprintf("Max iterations (%d) reached without final answer.", l.cfg.MaxIterations))
		return nil
	}
	l.publish(events.StepComplete(sessionID, stepThink, planSteps[1], "完成推理"))

	// Step 3: publish and persist the answer.
	l.publish(events.StepStart(sessionID, stepAnswer, planSteps[2]))
	return l.finalizeSuccess(ctx, sess, answer)
}

// selectCaller prefers the user's own LLM key over the system router.
func (l *Loop) selectCaller(userID string) llm.Caller {
	if l.resolver != nil {
		if cfg, ok := l.resolver.ResolveLLM(userID); ok {
			l.logger.Debug("Using user-configured %s provider for user %s", cfg.Name, userID)
			return l.newCaller(cfg)
		}
	}
	return l.system
}

func (l *Loop) ensureContext(sess *session.Session) error {
	messages, err := l.contexts.Load(sess.ID)
	if err != nil {
		return err
	}
	if len(messages) > 0 {
		return nil
	}
	return l.contexts.Initialize(sess.ID, []llm.Message{
		llm.SystemMessage(baseSystemPrompt),
		llm.UserMessage(sess.TaskDescription),
	})
}

// runInner repeats stream-decide-act until a final answer, an external
// state change, or the iteration limit. An empty answer with nil error
// means the limit was hit.
func (l *Loop) runInner(ctx context.Context, sess *session.Session, caller llm.Caller) (answer string, aborted bool, err error) {
	pollDelay := time.Duration(l.cfg.ResumePollMs) * time.Millisecond

	for {
		current, err := l.sessions.Get(sess.ID)
		if err != nil {
			return "", false, err
		}
		if current.Status == session.StatusPaused {
			select {
			case <-ctx.Done():
				return "", true, nil
			case <-time.After(pollDelay):
			}
			continue
		}
		if current.Status != session.StatusRunning {
			return "", true, nil
		}

		updated, err := l.sessions.Update(sess.ID, func(s *session.Session) error {
			s.IterationCount++
			return nil
		})
		if err != nil {
			return "", false, err
		}
		iteration := updated.IterationCount
		l.publish(events.IterationStart(sess.ID, iteration))
		if l.metrics != nil {
			l.metrics.IterationCounter.Inc()
		}

		messages, err := l.contexts.Load(sess.ID)
		if err != nil {
			return "", false, err
		}

		req := &llm.ChatRequest{
			Messages:    messages,
			Tools:       l.selectTools(ctx, messages, sess),
			ToolChoice:  "auto",
			Temperature: defaultTemperature,
			MaxTokens:   defaultMaxTokens,
		}
		llmCtx, span := l.tracer.Start(ctx, "agent.iteration", trace.WithAttributes(
			attribute.String("session.id", sess.ID),
			attribute.Int("iteration", iteration),
		))
		resp, err := caller.StreamChat(llmCtx, req, func(token string) {
			l.publish(events.Thinking(sess.ID, iteration, token))
		})
		span.End()
		if err != nil {
			return "", false, err
		}
		msg := resp.FirstMessage()
		if msg == nil {
			return "", false, errors.New(errors.KindProtocol, "provider returned no choices")
		}

		if len(msg.ToolCalls) > 0 {
			if err := l.dispatchToolCalls(ctx, sess, iteration, msg); err != nil {
				return "", false, err
			}
		} else if msg.Content != "" {
			return msg.Content, false, nil
		}

		if iteration >= l.cfg.MaxIterations {
			return "", false, nil
		}
	}
}

// selectTools asks the index for the tools most relevant to the latest
// user message, falling back to the full active list.
func (l *Loop) selectTools(ctx context.Context, messages []llm.Message, sess *session.Session) []llm.Tool {
	query := sess.TaskDescription
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" && messages[i].Content != "" {
			query = messages[i].Content
			break
		}
	}

	var descriptors []*tools.Descriptor
	for _, id := range l.index.SearchRelevantTools(ctx, query, l.cfg.TopKTools, sess.UserID) {
		if d, ok := l.registry.GetByID(id); ok {
			descriptors = append(descriptors, d)
		}
	}
	if len(descriptors) == 0 {
		descriptors = l.registry.ListActive()
	}
	return tools.ChatTools(descriptors)
}

// dispatchToolCalls executes the iteration's calls in arrival order and
// appends the assistant message plus all tool results in a single context
// write. A partial append would make the next iteration reload a context
// without the assistant's calls and loop forever.
func (l *Loop) dispatchToolCalls(ctx context.Context, sess *session.Session, iteration int, msg *llm.Message) error {
	batch := make([]llm.Message, 0, len(msg.ToolCalls)+1)
	batch = append(batch, *msg)

	for _, call := range msg.ToolCalls {
		l.publish(events.ToolCall(sess.ID, iteration, call.ID, call.Function.Name, call.Function.Arguments))
		toolCtx, span := l.tracer.Start(ctx, "tool.execute", trace.WithAttributes(
			attribute.String("tool.name", call.Function.Name),
		))
		output := l.executor.Execute(toolCtx, call.Function.Name, call.Function.Arguments)
		span.End()
		if l.metrics != nil {
			status := "success"
			if strings.HasPrefix(output, "[ToolError]") {
				status = "error"
			}
			l.metrics.ToolExecutionCounter.WithLabelValues(call.Function.Name, status).Inc()
		}
		l.publish(events.ToolResult(sess.ID, iteration, call.Function.Name, output))
		l.captureEpisodic(ctx, sess.ID, sess.UserID, call.Function.Name, output)
		batch = append(batch, llm.ToolResultMessage(call.ID, output))
	}
	return l.contexts.Append(sess.ID, batch...)
}

func (l *Loop) finalizeSuccess(ctx context.Context, sess *session.Session, answer string) error {
	if _, err := l.sessions.Update(sess.ID, func(s *session.Session) error {
		s.Status = session.StatusCompleted
		s.Result = answer
		return nil
	}); err != nil {
		return err
	}
	l.publish(events.StepComplete(sess.ID, stepAnswer, planSteps[2], answer))
	l.publish(events.FinalAnswer(sess.ID, answer))
	l.publish(events.StatusChange(sess.ID, string(session.StatusCompleted)))

	completion := "Task: " + truncate(sess.TaskDescription, 200) + "\nAnswer: " + truncate(answer, 500)
	l.memories.Remember(ctx, sess.ID, completion, memory.TypeSemantic, 0.85, sess.UserID)
	l.dedup.forget(sess.ID)
	if l.metrics != nil {
		l.metrics.SessionCounter.WithLabelValues("completed").Inc()
	}
	l.logger.Info("Session %s completed", sess.ID)
	return nil
}

// finalizeFailure marks the session failed unless an external writer
// already put it in a terminal state (abort keeps its own message).
func (l *Loop) finalizeFailure(sessionID, reason string) {
	_, err := l.sessions.Update(sessionID, func(s *session.Session) error {
		if s.Status.Terminal() {
			return nil
		}
		s.Status = session.StatusFailed
		s.ErrorMessage = reason
		return nil
	})
	if err != nil {
		l.logger.Error("Failed to persist failure for session %s: %v", sessionID, err)
	}
	l.publish(events.Error(sessionID, reason))
	l.publish(events.StatusChange(sessionID, string(session.StatusFailed)))
	l.dedup.forget(sessionID)
	if l.metrics != nil {
		l.metrics.SessionCounter.WithLabelValues("failed").Inc()
	}
	l.logger.Warn("Session %s failed: %s", sessionID, reason)
}
