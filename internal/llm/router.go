package llm

import (
	"context"
	"fmt"
	"time"

	"strix/internal/errors"
	"strix/internal/logging"
)

// RequestObserver receives the outcome of every provider attempt, including
// retried ones. Used for metrics; must not block.
type RequestObserver func(provider string, err error, elapsed time.Duration)

// Router dispatches chat requests to a primary provider and falls back to a
// secondary one when the primary ultimately fails.
//
// Each provider call runs under its own circuit breaker and the shared retry
// policy. Any error surviving retries on the primary, including a breaker
// rejection, triggers the fallback. The request's model is rewritten to each
// provider's configured model before dispatch so that a model override from an
// upstream caller never leaks into the other provider.
type Router struct {
	primary  Caller
	fallback Caller

	primaryName  string
	fallbackName string
	breakers     *errors.CircuitBreakerManager
	retry        errors.RetryConfig
	observer     RequestObserver
	logger       logging.Logger
}

// NewRouter builds a router over a primary and an optional fallback provider.
func NewRouter(primary Caller, primaryName string, fallback Caller, fallbackName string, breakers *errors.CircuitBreakerManager) *Router {
	if breakers == nil {
		breakers = errors.NewCircuitBreakerManager(errors.DefaultCircuitBreakerConfig())
	}
	return &Router{
		primary:      primary,
		fallback:     fallback,
		primaryName:  primaryName,
		fallbackName: fallbackName,
		breakers:     breakers,
		retry:        errors.DefaultRetryConfig(),
		logger:       logging.NewComponentLogger("llm-router"),
	}
}

// SetObserver installs the per-attempt outcome callback. Call before the
// router starts serving requests.
func (r *Router) SetObserver(obs RequestObserver) {
	r.observer = obs
}

// ModelName returns the primary provider's model.
func (r *Router) ModelName() string {
	return r.primary.ModelName()
}

// Chat routes a non-streaming chat completion.
func (r *Router) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return r.route(ctx, req, func(ctx context.Context, target Caller, routed *ChatRequest) (*ChatResponse, error) {
		return target.Chat(ctx, routed)
	})
}

// StreamChat routes a streaming chat completion.
//
// If the primary stream fails after tokens were already delivered, the
// fallback restarts the stream from scratch. Callers that surface tokens to
// an end user should treat the fallback's tokens as a fresh answer.
func (r *Router) StreamChat(ctx context.Context, req *ChatRequest, onToken TokenCallback) (*ChatResponse, error) {
	return r.route(ctx, req, func(ctx context.Context, target Caller, routed *ChatRequest) (*ChatResponse, error) {
		return target.StreamChat(ctx, routed, onToken)
	})
}

type dispatchFunc func(ctx context.Context, target Caller, routed *ChatRequest) (*ChatResponse, error)

func (r *Router) route(ctx context.Context, req *ChatRequest, dispatch dispatchFunc) (*ChatResponse, error) {
	resp, primaryErr := r.callProvider(ctx, r.primary, r.primaryName, req, dispatch)
	if primaryErr == nil {
		return resp, nil
	}
	r.logger.Warn("Primary provider [%s] failed: %v", r.primaryName, primaryErr)

	if r.fallback == nil {
		return nil, fmt.Errorf("[LlmRouter] %s provider ultimately failed: %s", r.primaryName, primaryErr.Error())
	}

	r.logger.Info("Falling back to provider [%s]", r.fallbackName)
	resp, fallbackErr := r.callProvider(ctx, r.fallback, r.fallbackName, req, dispatch)
	if fallbackErr == nil {
		return resp, nil
	}
	r.logger.Error("Fallback provider [%s] failed: %v", r.fallbackName, fallbackErr)

	return nil, fmt.Errorf("[LlmRouter] %s provider ultimately failed: %s", r.fallbackName, fallbackErr.Error())
}

func (r *Router) callProvider(ctx context.Context, target Caller, name string, req *ChatRequest, dispatch dispatchFunc) (*ChatResponse, error) {
	routed := req.WithModel(target.ModelName())
	breaker := r.breakers.Get(name)

	return errors.RetryWithResultAndLog(ctx, r.retry, func(ctx context.Context) (*ChatResponse, error) {
		return errors.ExecuteFunc(breaker, ctx, func(ctx context.Context) (*ChatResponse, error) {
			started := time.Now()
			resp, err := dispatch(ctx, target, routed)
			if r.observer != nil {
				r.observer(name, err, time.Since(started))
			}
			return resp, err
		})
	}, r.logger)
}
