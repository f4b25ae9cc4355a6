// Package handler holds the job handlers the worker can execute, keyed by job type.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/meritpath/worker-service/internal/worker/domain"
)

// Handler executes one job. Implementations must not share mutable state
// between invocations; the dispatcher runs many of them concurrently.
type Handler interface {
	Execute(ctx context.Context, params json.RawMessage) domain.Outcome
}

// HandlerFunc adapts a plain function to Handler
type HandlerFunc func(ctx context.Context, params json.RawMessage) domain.Outcome

// Execute calls f(ctx, params)
func (f HandlerFunc) Execute(ctx context.Context, params json.RawMessage) domain.Outcome {
	return f(ctx, params)
}

// Params is a typed parameter bag that can check itself
type Params interface {
	Validate() error
}

// Typed decodes job_params into P and validates it before calling run. A
// decode or validation failure becomes a failed Outcome and run is skipped.
func Typed[P Params](run func(ctx context.Context, params P) domain.Outcome) Handler {
	return HandlerFunc(func(ctx context.Context, raw json.RawMessage) domain.Outcome {
		var params P
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &params); err != nil {
				return domain.Failed(fmt.Errorf("%w: %v", domain.ErrInvalidParams, err))
			}
		}
		if err := params.Validate(); err != nil {
			return domain.Failed(err)
		}
		return run(ctx, params)
	})
}

// Registry maps job types to handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register associates h with jobType, replacing any previous handler
func (r *Registry) Register(jobType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// Lookup returns the handler for jobType
func (r *Registry) Lookup(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types lists the registered job types in sorted order
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Execute runs the handler registered for jobType. An unknown type yields a
// failed Outcome without invoking anything.
func (r *Registry) Execute(ctx context.Context, jobType string, params json.RawMessage) domain.Outcome {
	h, ok := r.Lookup(jobType)
	if !ok {
		return domain.Failed(&domain.UnknownJobTypeError{JobType: jobType})
	}
	return h.Execute(ctx, params)
}
