// Package contextmgr implements the Context Manager contract: a registry of
// per-namespace state providers whose snapshots are assembled into a single
// JSON context blob on request. Grounded on the provider-aggregation shape
// of internal/session/context_manager.go, generalised from summarising LLM
// conversation turns to collecting capability-agent state.
package contextmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// StateProvider supplies one namespace's contribution to a context request.
// Implementations run on their own executor; ProvideState must not block past
// the supplied context's deadline.
type StateProvider interface {
	ProvideState(ctx context.Context, token string) (json.RawMessage, error)
}

// ProviderFunc adapts a function to StateProvider.
type ProviderFunc func(ctx context.Context, token string) (json.RawMessage, error)

func (f ProviderFunc) ProvideState(ctx context.Context, token string) (json.RawMessage, error) {
	return f(ctx, token)
}

// Manager is the Context Manager contract used by both the AIP (as a
// consumer, awaiting a context blob before a Recognize event) and the EMP
// (as a provider, registering SessionState/PlaybackState).
type Manager interface {
	AddStateProvider(namespace string, provider StateProvider)
	RemoveStateProvider(namespace string)
	GetContext(ctx context.Context, token string) (Snapshot, error)
}

// Snapshot is the assembled context blob: namespace -> raw provider output.
// Namespaces whose provider returned an error are omitted; the caller can
// inspect Errors for diagnostics.
type Snapshot struct {
	Namespaces map[string]json.RawMessage
	Errors     map[string]error
}

// Registry is an in-memory Manager.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]StateProvider
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]StateProvider)}
}

var _ Manager = (*Registry)(nil)

// AddStateProvider registers provider under namespace, replacing any
// previous registration.
func (r *Registry) AddStateProvider(namespace string, provider StateProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[namespace] = provider
}

// RemoveStateProvider deregisters namespace's provider, if any.
func (r *Registry) RemoveStateProvider(namespace string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, namespace)
}

// GetContext snapshots the registry of providers under a read lock, then
// queries each provider after releasing the lock — the same
// snapshot-then-release pattern context_manager.go uses before its own slow
// calls.
func (r *Registry) GetContext(ctx context.Context, token string) (Snapshot, error) {
	r.mu.RLock()
	snapshot := make(map[string]StateProvider, len(r.providers))
	for ns, p := range r.providers {
		snapshot[ns] = p
	}
	r.mu.RUnlock()

	out := Snapshot{
		Namespaces: make(map[string]json.RawMessage, len(snapshot)),
		Errors:     make(map[string]error),
	}
	for ns, p := range snapshot {
		raw, err := p.ProvideState(ctx, token)
		if err != nil {
			out.Errors[ns] = fmt.Errorf("contextmgr: provider %q: %w", ns, err)
			continue
		}
		out.Namespaces[ns] = raw
	}
	return out, nil
}
