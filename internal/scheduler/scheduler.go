// Copyright 2026 The Mechaway Authors
// SPDX-License-Identifier: Apache-2.0

// Package scheduler maintains cron jobs for every Cron node in the registry
// and keeps them in sync across workflow mutations without restarts.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/insanalamin/mechaway/internal/workflow"
)

// RegistryView is the registry surface the scheduler needs: enumeration at
// startup and point lookup at fire time.
type RegistryView interface {
	AllWorkflows() map[string]*workflow.CompiledWorkflow
	Get(id string) (*workflow.CompiledWorkflow, bool)
}

// Runner executes a workflow from an entry node. Satisfied by the engine.
type Runner interface {
	Execute(ctx context.Context, cw *workflow.CompiledWorkflow, startNodeID string, ec *workflow.ExecutionContext) (*workflow.ExecutionResult, error)
}

// Scheduler owns the cron runtime and a handle map keyed by
// "workflowID:nodeID". Schedules use six fields with a leading seconds
// column, so "*/1 * * * * *" fires every second.
type Scheduler struct {
	registry RegistryView
	runner   Runner
	logger   *slog.Logger

	cron *cron.Cron

	mu      sync.RWMutex
	entries map[string]cron.EntryID
}

// New creates a scheduler over the given registry and runner. Jobs run in
// UTC.
func New(registry RegistryView, runner Runner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		registry: registry,
		runner:   runner,
		logger:   logger,
		cron:     cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		entries:  make(map[string]cron.EntryID),
	}
}

// Start registers every Cron node currently in the registry and starts the
// cron runtime.
func (s *Scheduler) Start() error {
	for _, cw := range s.registry.AllWorkflows() {
		if err := s.AddOrUpdate(&cw.Workflow); err != nil {
			return fmt.Errorf("register cron jobs for %q: %w", cw.Workflow.ID, err)
		}
	}
	s.cron.Start()
	s.logger.Info("Cron scheduler started", "jobs", s.jobCount())
	return nil
}

// AddOrUpdate reconciles the handle map for one workflow: each of its Cron
// nodes replaces any prior job under the same composite key, and a workflow
// without cron nodes sheds all of its jobs.
func (s *Scheduler) AddOrUpdate(wf *workflow.Workflow) error {
	cronNodes := workflow.CronNodes(*wf)
	if len(cronNodes) == 0 {
		s.Remove(wf.ID)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Drop stale entries first so renamed or deleted cron nodes disappear.
	for key, id := range s.entries {
		if strings.HasPrefix(key, wf.ID+":") {
			s.cron.Remove(id)
			delete(s.entries, key)
		}
	}

	for i := range cronNodes {
		node := &cronNodes[i]
		schedule, ok := node.ParamString("schedule")
		if !ok {
			return fmt.Errorf("cron node %q in workflow %q missing 'schedule' parameter", node.ID, wf.ID)
		}

		key := wf.ID + ":" + node.ID
		entryID, err := s.cron.AddFunc(schedule, s.jobFor(wf.ID, node))
		if err != nil {
			return fmt.Errorf("schedule %q for node %q: %w", schedule, node.ID, err)
		}
		s.entries[key] = entryID

		s.logger.Info("Registered cron job", "workflow_id", wf.ID, "node_id", node.ID, "schedule", schedule)
	}
	return nil
}

// Remove drops every job belonging to the workflow. Outstanding fires need
// no cancellation since the job body re-checks the registry.
func (s *Scheduler) Remove(workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, id := range s.entries {
		if strings.HasPrefix(key, workflowID+":") {
			s.cron.Remove(id)
			delete(s.entries, key)
			s.logger.Info("Removed cron job", "key", key)
		}
	}
}

// Stop clears the handle map and shuts down the cron runtime, waiting for
// in-flight jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.entries = make(map[string]cron.EntryID)
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("Cron scheduler stopped")
}

// jobFor builds the job body for one cron node. At fire time it re-queries
// the registry; a deleted workflow makes the tick a logged no-op, which is
// what lets delete avoid touching the runtime.
func (s *Scheduler) jobFor(workflowID string, node *workflow.Node) func() {
	nodeID := node.ID
	slug, _ := node.ParamString("project_slug")
	if slug == "" {
		slug = workflow.DefaultProjectSlug
	}

	return func() {
		cw, ok := s.registry.Get(workflowID)
		if !ok {
			s.logger.Info("Skipping cron tick for deleted workflow", "workflow_id", workflowID, "node_id", nodeID)
			return
		}

		ec := workflow.NewCronContext(workflowID, nodeID, slug)
		if _, err := s.runner.Execute(context.Background(), cw, nodeID, ec); err != nil {
			s.logger.Error("Cron execution failed", "workflow_id", workflowID, "node_id", nodeID, "error", err)
			return
		}
		s.logger.Info("Cron execution completed", "workflow_id", workflowID, "node_id", nodeID)
	}
}

// Jobs returns a snapshot of the composite keys with live schedules.
func (s *Scheduler) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	return keys
}

func (s *Scheduler) jobCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
