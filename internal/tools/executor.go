package tools

import (
	"context"
	"fmt"
	"sync"

	"strix/internal/logging"
)

// Handler executes a tool invocation. The arguments string is the model's
// JSON arguments, forwarded verbatim.
type Handler func(ctx context.Context, arguments string) (string, error)

// Executor dispatches tool calls by name and always returns a string: tool
// failures are rendered as "[ToolError] ..." results for the model, never
// surfaced as errors to the loop.
type Executor struct {
	registry *Registry
	logger   logging.Logger

	mu       sync.RWMutex
	builtins map[string]Handler
	native   map[string]Handler
}

// NewExecutor builds an executor over a registry.
func NewExecutor(registry *Registry) *Executor {
	return &Executor{
		registry: registry,
		logger:   logging.NewComponentLogger("tool-executor"),
		builtins: make(map[string]Handler),
		native:   make(map[string]Handler),
	}
}

// RegisterBuiltin binds a built-in tool name to its handler.
func (e *Executor) RegisterBuiltin(name string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.builtins[name] = h
}

// RegisterNative binds a native tool entry point to its handler.
func (e *Executor) RegisterNative(entryPoint string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.native[entryPoint] = h
}

// Execute runs one tool call synchronously and returns its textual result.
func (e *Executor) Execute(ctx context.Context, name, arguments string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Tool %s panicked: %v", name, r)
			result = fmt.Sprintf("[ToolError] %v", r)
		}
	}()

	e.mu.RLock()
	builtin := e.builtins[name]
	e.mu.RUnlock()

	if builtin != nil {
		out, err := builtin(ctx, arguments)
		if err != nil {
			e.logger.Warn("Built-in tool %s failed: %v", name, err)
			return fmt.Sprintf("[ToolError] %s", err.Error())
		}
		return out
	}

	desc, ok := e.registry.GetByName(name)
	if !ok {
		return fmt.Sprintf("[ToolError] Unknown tool: %s", name)
	}
	if !desc.IsActive {
		return fmt.Sprintf("[ToolError] Tool is disabled: %s", name)
	}

	switch desc.Kind {
	case KindNative:
		e.mu.RLock()
		h := e.native[desc.EntryPoint]
		e.mu.RUnlock()
		if h == nil {
			return fmt.Sprintf("[STUB] Native tool '%s' has no registered handler.", name)
		}
		out, err := h(ctx, arguments)
		if err != nil {
			e.logger.Warn("Tool %s failed: %v", name, err)
			return fmt.Sprintf("[ToolError] %s", err.Error())
		}
		return out

	case KindPythonScript, KindNodeScript, KindShellCmd:
		// Script sandboxes run out of process and are wired separately.
		return fmt.Sprintf("[STUB] Script tool '%s' is not executable in this environment.", name)

	default:
		return fmt.Sprintf("[ToolError] Unknown tool kind: %s", desc.Kind)
	}
}
