package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"mailroom/internal/models"
)

// UpsertPendingScheduledSend enqueues a scheduled send. If a pending item
// already exists for (order, kind), its schedule and precondition snapshot
// are updated in place so re-enqueueing cannot create competing items.
func (d *Database) UpsertPendingScheduledSend(ctx context.Context, s *models.ScheduledSend) error {
	preJSON, err := json.Marshal(s.Precondition)
	if err != nil {
		return fmt.Errorf("failed to marshal precondition: %w", err)
	}

	return retryableDBOperation(ctx, func() error {
		_, execErr := d.db.ExecContext(ctx, upsertPendingScheduledSendQuery,
			s.OrderID, s.SendKind, s.ToAddress, s.ScheduledAt.UTC(), string(preJSON))
		return execErr
	}, "upsert scheduled send")
}

// ListDueScheduledSends returns pending items with scheduled_at <= now,
// oldest first, bounded by limit.
func (d *Database) ListDueScheduledSends(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledSend, error) {
	rows, err := d.db.QueryContext(ctx, selectDueScheduledSendsQuery, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due sends: %w", err)
	}
	defer rows.Close()

	var sends []*models.ScheduledSend
	for rows.Next() {
		s, scanErr := scanScheduledSend(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		sends = append(sends, s)
	}
	return sends, rows.Err()
}

// GetScheduledSend returns a single item by id, or nil when not found.
func (d *Database) GetScheduledSend(ctx context.Context, id int64) (*models.ScheduledSend, error) {
	row := d.db.QueryRowContext(ctx, selectScheduledSendByIDQuery, id)
	s, err := scanScheduledSend(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scheduled send: %w", err)
	}
	return s, nil
}

// GetScheduledSendsByOrderID returns all queue items for an order, newest
// first. Read path for the per-order sends view.
func (d *Database) GetScheduledSendsByOrderID(ctx context.Context, orderID int64) ([]*models.ScheduledSend, error) {
	rows, err := d.db.QueryContext(ctx, selectScheduledSendsByOrderQuery, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled sends: %w", err)
	}
	defer rows.Close()

	var sends []*models.ScheduledSend
	for rows.Next() {
		s, scanErr := scanScheduledSend(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		sends = append(sends, s)
	}
	return sends, rows.Err()
}

// MarkScheduledSend transitions a pending item to a terminal status. It
// returns false when the item was no longer pending, which a concurrent
// sweep may legitimately cause.
func (d *Database) MarkScheduledSend(ctx context.Context, id int64, status models.SendStatus, reason string) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("cannot mark scheduled send with non-terminal status %q", status)
	}

	result, err := d.db.ExecContext(ctx, markScheduledSendQuery, status, reason, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark scheduled send: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

// RecordCompletedSend appends the (order, kind) audit record. Redundant
// writes are tolerated: the unique constraint makes them no-ops.
func (d *Database) RecordCompletedSend(ctx context.Context, orderID int64, kind models.SendKind) error {
	return retryableDBOperation(ctx, func() error {
		_, execErr := d.db.ExecContext(ctx, insertCompletedSendQuery, orderID, kind)
		return execErr
	}, "record completed send")
}

// GetCompletedSend returns the audit record for (order, kind), or nil when
// nothing has been sent yet.
func (d *Database) GetCompletedSend(ctx context.Context, orderID int64, kind models.SendKind) (*models.CompletedSend, error) {
	var cs models.CompletedSend
	err := d.db.QueryRowContext(ctx, selectCompletedSendQuery, orderID, kind).Scan(
		&cs.ID, &cs.OrderID, &cs.SendKind, &cs.SentAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get completed send: %w", err)
	}
	return &cs, nil
}

func scanScheduledSend(row rowScanner) (*models.ScheduledSend, error) {
	var (
		s       models.ScheduledSend
		preJSON string
	)

	err := row.Scan(
		&s.ID,
		&s.OrderID,
		&s.SendKind,
		&s.ToAddress,
		&s.ScheduledAt,
		&preJSON,
		&s.Status,
		&s.Reason,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(preJSON), &s.Precondition); err != nil {
		return nil, fmt.Errorf("failed to unmarshal precondition: %w", err)
	}

	return &s, nil
}
