// Copyright 2026 The Mechaway Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
)

// Store persists workflow definitions in the default tenant's project
// database. Definitions are stored as a JSON column beside the indexed
// id and name so that listing never deserializes full workflows.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Metadata is the listing projection of a stored workflow.
type Metadata struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// NewStore creates a workflow store over an already-initialized project
// database. The workflows table is created by the tenant manager's schema
// initialization.
func NewStore(db *gorm.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Save upserts a workflow definition and bumps its updated timestamp.
// It never reports a conflict.
func (s *Store) Save(ctx context.Context, wf *Workflow) error {
	definition, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal workflow %q: %w", wf.ID, err)
	}

	tx := s.db.WithContext(ctx).Exec(`
		INSERT INTO workflows (id, name, definition, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			definition = excluded.definition,
			updated_at = CURRENT_TIMESTAMP`,
		wf.ID, wf.Name, string(definition))
	if tx.Error != nil {
		return fmt.Errorf("save workflow %q: %w", wf.ID, tx.Error)
	}

	s.logger.Debug("Saved workflow", "workflow_id", wf.ID, "name", wf.Name)
	return nil
}

// Get fetches one workflow by ID. Returns ErrNotFound when absent.
func (s *Store) Get(ctx context.Context, id string) (*Workflow, error) {
	var definition string
	tx := s.db.WithContext(ctx).
		Raw(`SELECT definition FROM workflows WHERE id = ?`, id).
		Scan(&definition)
	if tx.Error != nil {
		return nil, fmt.Errorf("get workflow %q: %w", id, tx.Error)
	}
	if tx.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	var wf Workflow
	if err := json.Unmarshal([]byte(definition), &wf); err != nil {
		return nil, fmt.Errorf("decode workflow %q: %w", id, err)
	}
	return &wf, nil
}

// List returns id/name/timestamp metadata for every stored workflow,
// newest-updated first.
func (s *Store) List(ctx context.Context) ([]Metadata, error) {
	rows, err := s.db.WithContext(ctx).
		Raw(`SELECT id, name, created_at, updated_at FROM workflows ORDER BY updated_at DESC`).
		Rows()
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	workflows := make([]Metadata, 0)
	for rows.Next() {
		var m Metadata
		if err := rows.Scan(&m.ID, &m.Name, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan workflow metadata: %w", err)
		}
		workflows = append(workflows, m)
	}
	return workflows, rows.Err()
}

// LoadAll returns the full id -> workflow map, used for registry cold start.
func (s *Store) LoadAll(ctx context.Context) (map[string]Workflow, error) {
	rows, err := s.db.WithContext(ctx).
		Raw(`SELECT id, definition FROM workflows`).
		Rows()
	if err != nil {
		return nil, fmt.Errorf("load workflows: %w", err)
	}
	defer rows.Close()

	workflows := make(map[string]Workflow)
	for rows.Next() {
		var id, definition string
		if err := rows.Scan(&id, &definition); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		var wf Workflow
		if err := json.Unmarshal([]byte(definition), &wf); err != nil {
			return nil, fmt.Errorf("decode workflow %q: %w", id, err)
		}
		workflows[id] = wf
	}
	return workflows, rows.Err()
}

// Delete removes a workflow. Returns whether a row existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	tx := s.db.WithContext(ctx).Exec(`DELETE FROM workflows WHERE id = ?`, id)
	if tx.Error != nil {
		return false, fmt.Errorf("delete workflow %q: %w", id, tx.Error)
	}
	return tx.RowsAffected > 0, nil
}
