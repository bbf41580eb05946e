// Copyright 2026 The Mechaway Authors
// SPDX-License-Identifier: Apache-2.0

package tenant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Secret resolves key from the tenant's vault. Values are stored as-is in
// the encrypted_value column; at-rest encryption is delegated to the host.
func (m *Manager) Secret(ctx context.Context, slug, key string) (string, error) {
	db, err := m.ProjectPool(slug)
	if err != nil {
		return "", err
	}

	var value string
	tx := db.WithContext(ctx).
		Raw(`SELECT encrypted_value FROM project_secrets WHERE key = ?`, key).
		Scan(&value)
	if tx.Error != nil {
		return "", fmt.Errorf("query secret %q: %w", key, tx.Error)
	}
	if tx.RowsAffected == 0 {
		return "", fmt.Errorf("%w: %q", ErrSecretNotFound, key)
	}
	return value, nil
}

// SetSecret upserts key in the tenant's vault.
func (m *Manager) SetSecret(ctx context.Context, slug, key, value string) error {
	db, err := m.ProjectPool(slug)
	if err != nil {
		return err
	}

	tx := db.WithContext(ctx).Exec(`
		INSERT INTO project_secrets (id, key, encrypted_value)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			encrypted_value = excluded.encrypted_value,
			updated_at      = CURRENT_TIMESTAMP`,
		uuid.NewString(), key, value)
	if tx.Error != nil {
		return fmt.Errorf("store secret %q: %w", key, tx.Error)
	}
	return nil
}

// DeleteSecret removes key from the tenant's vault. Deleting an absent key
// is not an error.
func (m *Manager) DeleteSecret(ctx context.Context, slug, key string) error {
	db, err := m.ProjectPool(slug)
	if err != nil {
		return err
	}
	if tx := db.WithContext(ctx).Exec(`DELETE FROM project_secrets WHERE key = ?`, key); tx.Error != nil {
		return fmt.Errorf("delete secret %q: %w", key, tx.Error)
	}
	return nil
}
