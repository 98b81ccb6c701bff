// Package registry maps action kinds to the adapters that perform them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
)

var ErrAdapterNotRegistered = errors.New("no adapter registered for action kind")

// Request is one attempt of one step. Config has every placeholder resolved.
type Request struct {
	RunID          string
	WorkflowID     string
	TenantID       string
	StepIndex      int
	Attempt        int
	IdempotencyKey string
	Config         models.ActionConfig
}

// Adapter performs the side effect of an action kind. Adapters classify
// failures with models.Transient, models.Permanent or models.StatusError;
// unclassified errors are retried.
type Adapter interface {
	Execute(ctx context.Context, request Request) (map[string]any, error)
}

// AdapterFunc lets a plain function act as an Adapter.
type AdapterFunc func(ctx context.Context, request Request) (map[string]any, error)

func (f AdapterFunc) Execute(ctx context.Context, request Request) (map[string]any, error) {
	return f(ctx, request)
}

type Registry struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	adapters map[models.ActionKind]Adapter
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:   log,
		adapters: make(map[models.ActionKind]Adapter),
	}
}

// Register binds adapter to kind, replacing any previous binding.
func (r *Registry) Register(kind models.ActionKind, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[kind]; exists {
		r.logger.Warn("Replacing action adapter", "kind", kind)
	}

	r.adapters[kind] = adapter
}

// Get returns the adapter bound to kind. A missing adapter is a configuration
// error of the step, not a transient failure.
func (r *Registry) Get(kind models.ActionKind) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[kind]
	if !ok {
		return nil, models.ConfigurationError(fmt.Errorf("%w: %s", ErrAdapterNotRegistered, kind))
	}

	return adapter, nil
}

// Kinds lists the registered action kinds.
func (r *Registry) Kinds() []models.ActionKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]models.ActionKind, 0, len(r.adapters))
	for kind := range r.adapters {
		kinds = append(kinds, kind)
	}

	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	return kinds
}

// HealthCheck reports whether any adapter is registered.
func (r *Registry) HealthCheck() (string, bool) {
	kinds := r.Kinds()
	if len(kinds) == 0 {
		return "No action adapters registered", false
	}

	return fmt.Sprintf("%d action adapters registered", len(kinds)), true
}
