// Copyright 2026 The Mechaway Authors
// SPDX-License-Identifier: Apache-2.0

// Package tenant manages per-tenant storage: lazy connection pools for the
// two logical databases of each tenant slug, and the tenant secret vault.
package tenant

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	// ErrPool is returned when a tenant pool cannot be opened, typically
	// because the data directory is unwritable.
	ErrPool = errors.New("tenant pool unavailable")
	// ErrSecretNotFound is returned when a secret key has no entry in the
	// tenant's vault.
	ErrSecretNotFound = errors.New("secret not found")
)

// Manager owns, per tenant slug, two lazily-created pools:
//
//	<data_dir>/<slug>/project.db     workflows, secrets, metadata
//	<data_dir>/<slug>/simpletable.db user data written by SimpleTable nodes
//
// Pool creation uses the double-checked pattern: a read-locked fast path,
// then a write-locked slow path that re-checks before opening, so at most
// one pool exists per tenant and the write lock is not held across opens
// that another goroutine already completed.
type Manager struct {
	dataDir string
	logger  *slog.Logger

	mu               sync.RWMutex
	projectPools     map[string]*gorm.DB
	simpleTablePools map[string]*gorm.DB
}

// NewManager creates a manager rooted at dataDir. Directories are created
// lazily per tenant.
func NewManager(dataDir string, logger *slog.Logger) *Manager {
	return &Manager{
		dataDir:          dataDir,
		logger:           logger,
		projectPools:     make(map[string]*gorm.DB),
		simpleTablePools: make(map[string]*gorm.DB),
	}
}

// ProjectPool returns the tenant's project database, creating it and its
// fixed schema on first use.
func (m *Manager) ProjectPool(slug string) (*gorm.DB, error) {
	m.mu.RLock()
	if db, ok := m.projectPools[slug]; ok {
		m.mu.RUnlock()
		return db, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if db, ok := m.projectPools[slug]; ok {
		return db, nil
	}

	db, err := m.open(slug, "project.db")
	if err != nil {
		return nil, err
	}
	if err := initProjectSchema(db); err != nil {
		return nil, fmt.Errorf("%w: init schema for %q: %v", ErrPool, slug, err)
	}
	m.projectPools[slug] = db

	m.logger.Info("Created project database pool", "slug", slug)
	return db, nil
}

// SimpleTablePool returns the tenant's simple-table database. No schema is
// created here; SimpleTable nodes create their tables lazily.
func (m *Manager) SimpleTablePool(slug string) (*gorm.DB, error) {
	m.mu.RLock()
	if db, ok := m.simpleTablePools[slug]; ok {
		m.mu.RUnlock()
		return db, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if db, ok := m.simpleTablePools[slug]; ok {
		return db, nil
	}

	db, err := m.open(slug, "simpletable.db")
	if err != nil {
		return nil, err
	}
	m.simpleTablePools[slug] = db

	m.logger.Info("Created simpletable database pool", "slug", slug)
	return db, nil
}

func (m *Manager) open(slug, filename string) (*gorm.DB, error) {
	dir := filepath.Join(m.dataDir, slug)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create tenant directory %q: %v", ErrPool, dir, err)
	}

	path := filepath.Join(dir, filename)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %v", ErrPool, path, err)
	}
	return db, nil
}

// initProjectSchema creates the fixed project tables: workflows, secrets,
// and key-value metadata, plus the name and key indices.
func initProjectSchema(db *gorm.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			definition JSON NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS project_secrets (
			id TEXT PRIMARY KEY,
			key TEXT NOT NULL UNIQUE,
			encrypted_value TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS project_metadata (
			key TEXT PRIMARY KEY,
			value JSON NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_name ON workflows(name)`,
		`CREATE INDEX IF NOT EXISTS idx_secrets_key ON project_secrets(key)`,
	}
	for _, stmt := range statements {
		if tx := db.Exec(stmt); tx.Error != nil {
			return tx.Error
		}
	}
	return nil
}

// PoolStats returns the number of cached project and simpletable pools.
func (m *Manager) PoolStats() (int, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.projectPools), len(m.simpleTablePools)
}
