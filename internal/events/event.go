package events

import "time"

// Type identifies the kind of an agent event.
type Type string

const (
	TypePlanReady      Type = "PLAN_READY"
	TypeStepStart      Type = "STEP_START"
	TypeStepComplete   Type = "STEP_COMPLETE"
	TypeIterationStart Type = "ITERATION_START"
	TypeThinking       Type = "THINKING"
	TypeToolCall       Type = "TOOL_CALL"
	TypeToolResult     Type = "TOOL_RESULT"
	TypeFinalAnswer    Type = "FINAL_ANSWER"
	TypeStatusChange   Type = "STATUS_CHANGE"
	TypeError          Type = "ERROR"
)

// Event is one frame on a session's event stream. Content carries plain
// text (thinking chunks, answers, statuses); Payload carries structured
// data keyed by event type.
type Event struct {
	SessionID string         `json:"sessionId"`
	Type      Type           `json:"type"`
	Content   string         `json:"content,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Iteration int            `json:"iteration,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

func newEvent(sessionID string, typ Type) Event {
	return Event{
		SessionID: sessionID,
		Type:      typ,
		Timestamp: time.Now().UnixMilli(),
	}
}

// PlanReady announces the fixed step titles for a session run.
func PlanReady(sessionID string, steps []string) Event {
	e := newEvent(sessionID, TypePlanReady)
	titles := make([]any, len(steps))
	for i, s := range steps {
		titles[i] = s
	}
	e.Payload = map[string]any{"steps": titles}
	return e
}

// StepStart marks the beginning of a plan step (1-based index).
func StepStart(sessionID string, index int, title string) Event {
	e := newEvent(sessionID, TypeStepStart)
	e.Payload = map[string]any{"index": index, "title": title}
	return e
}

// StepComplete marks the end of a plan step, optionally with a summary.
func StepComplete(sessionID string, index int, title, summary string) Event {
	e := newEvent(sessionID, TypeStepComplete)
	e.Payload = map[string]any{"index": index, "title": title}
	if summary != "" {
		e.Payload["summary"] = summary
	}
	return e
}

// IterationStart marks the top of one inner-loop iteration.
func IterationStart(sessionID string, iteration int) Event {
	e := newEvent(sessionID, TypeIterationStart)
	e.Iteration = iteration
	return e
}

// Thinking carries one streamed content chunk.
func Thinking(sessionID string, iteration int, chunk string) Event {
	e := newEvent(sessionID, TypeThinking)
	e.Iteration = iteration
	e.Content = chunk
	return e
}

// ToolCall announces a tool invocation the model requested.
func ToolCall(sessionID string, iteration int, callID, name, arguments string) Event {
	e := newEvent(sessionID, TypeToolCall)
	e.Iteration = iteration
	e.Payload = map[string]any{"id": callID, "name": name, "arguments": arguments}
	return e
}

// ToolResult carries the textual output of a tool invocation.
func ToolResult(sessionID string, iteration int, toolName, output string) Event {
	e := newEvent(sessionID, TypeToolResult)
	e.Iteration = iteration
	e.Payload = map[string]any{"toolName": toolName, "output": output}
	return e
}

// FinalAnswer carries the session's final result text.
func FinalAnswer(sessionID, answer string) Event {
	e := newEvent(sessionID, TypeFinalAnswer)
	e.Content = answer
	return e
}

// StatusChange reports a session lifecycle transition.
func StatusChange(sessionID, status string) Event {
	e := newEvent(sessionID, TypeStatusChange)
	e.Content = status
	return e
}

// Error reports a failure visible to subscribers.
func Error(sessionID, message string) Event {
	e := newEvent(sessionID, TypeError)
	e.Content = message
	return e
}

// Critical reports whether the event must survive a saturated client
// buffer; terminal outcomes are retried with drop-oldest semantics.
func (e Event) Critical() bool {
	switch e.Type {
	case TypeFinalAnswer, TypeStatusChange, TypeError:
		return true
	default:
		return false
	}
}
