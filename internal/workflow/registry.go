// Copyright 2026 The Mechaway Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Registry is the hot-reload table of compiled workflows. Readers load the
// atomic pointer once and get a consistent snapshot; writers build a fresh
// map including their edit and publish it with a single atomic store, so a
// lookup never blocks on a reload. Writers are additionally serialized by
// a short mutex so interleaved reloads cannot lose an update; the mutex is
// never held across store I/O relative to readers.
type Registry struct {
	store  *Store
	logger *slog.Logger

	mu        sync.Mutex
	workflows atomic.Pointer[map[string]*CompiledWorkflow]
}

// NewRegistry creates an empty registry backed by the given store.
func NewRegistry(store *Store, logger *slog.Logger) *Registry {
	r := &Registry{store: store, logger: logger}
	empty := map[string]*CompiledWorkflow{}
	r.workflows.Store(&empty)
	return r
}

func (r *Registry) snapshot() map[string]*CompiledWorkflow {
	return *r.workflows.Load()
}

// InitFromStore loads every stored workflow, compiles each, and publishes
// the resulting map. Called once at startup.
func (r *Registry) InitFromStore(ctx context.Context) error {
	stored, err := r.store.LoadAll(ctx)
	if err != nil {
		return err
	}

	compiled := make(map[string]*CompiledWorkflow, len(stored))
	for id, wf := range stored {
		cw, err := Compile(wf)
		if err != nil {
			return err
		}
		compiled[id] = cw
	}

	r.mu.Lock()
	r.workflows.Store(&compiled)
	r.mu.Unlock()

	r.logger.Info("Initialized workflow registry", "count", len(compiled))
	return nil
}

// Reload fetches one workflow from the store, compiles it, and publishes a
// copy-on-write map containing the fresh compiled form. In-flight
// executions holding the previous snapshot run to completion unchanged.
func (r *Registry) Reload(ctx context.Context, id string) error {
	wf, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	compiled, err := Compile(*wf)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.snapshot()
	next := make(map[string]*CompiledWorkflow, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[id] = compiled
	r.workflows.Store(&next)

	r.logger.Info("Hot-reloaded workflow", "workflow_id", id)
	return nil
}

// Remove drops a workflow from the registry. No-op if absent.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.snapshot()
	if _, ok := current[id]; !ok {
		return
	}
	next := make(map[string]*CompiledWorkflow, len(current))
	for k, v := range current {
		if k != id {
			next[k] = v
		}
	}
	r.workflows.Store(&next)

	r.logger.Info("Removed workflow from registry", "workflow_id", id)
}

// Get is a lock-free point lookup against the current snapshot.
func (r *Registry) Get(id string) (*CompiledWorkflow, bool) {
	cw, ok := r.snapshot()[id]
	return cw, ok
}

// ListIDs returns the IDs of every registered workflow.
func (r *Registry) ListIDs() []string {
	snap := r.snapshot()
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	return ids
}

// AllWorkflows returns the current snapshot map, used by the scheduler to
// enumerate cron nodes. Callers must treat it as read-only.
func (r *Registry) AllWorkflows() map[string]*CompiledWorkflow {
	return r.snapshot()
}

// WebhookRoutes returns the flattened webhook-path -> workflow-id mapping
// derived from all compiled workflows.
func (r *Registry) WebhookRoutes() map[string]string {
	routes := make(map[string]string)
	for id, cw := range r.snapshot() {
		for _, path := range cw.WebhookPaths {
			routes[path] = id
		}
	}
	return routes
}
