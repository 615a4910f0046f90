package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"mailroom/internal/models"
)

// UpsertSenderFilter writes a manual category override for a sender
// address or domain. The category is validated against the closed enum;
// unrecognized values are rejected here, not silently stored.
func (d *Database) UpsertSenderFilter(ctx context.Context, pattern string, category models.Category) error {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return fmt.Errorf("sender filter pattern cannot be empty")
	}
	if _, err := models.ParseCategory(string(category)); err != nil {
		return err
	}

	return retryableDBOperation(ctx, func() error {
		_, execErr := d.db.ExecContext(ctx, upsertSenderFilterQuery, pattern, category)
		return execErr
	}, "upsert sender filter")
}

// GetSenderFilterCategory returns the override for the exact pattern, or
// nil when none exists.
func (d *Database) GetSenderFilterCategory(ctx context.Context, pattern string) (*models.Category, error) {
	pattern = strings.ToLower(strings.TrimSpace(pattern))

	var category models.Category
	err := d.db.QueryRowContext(ctx, selectSenderFilterQuery, pattern).Scan(&category)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sender filter: %w", err)
	}
	return &category, nil
}
