package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"mailroom/internal/models"
)

// InsertDeadLetter appends a new dead letter and returns its id.
func (d *Database) InsertDeadLetter(ctx context.Context, dl *models.DeadLetter) (int64, error) {
	payload := dl.Payload
	if payload == nil {
		payload = json.RawMessage("{}")
	}

	var id int64
	err := retryableDBOperation(ctx, func() error {
		res, execErr := d.db.ExecContext(ctx, insertDeadLetterQuery,
			dl.OperationType,
			dl.OperationKey,
			dl.ErrorMessage,
			dl.ErrorCode,
			string(payload),
			dl.MaxRetries,
			dl.NextRetryAt.UTC(),
		)
		if execErr != nil {
			return execErr
		}
		id, execErr = res.LastInsertId()
		return execErr
	}, "insert dead letter")

	if err != nil {
		return 0, err
	}
	return id, nil
}

// ListRetryableDeadLetters returns items in {pending, retrying} whose
// next_retry_at has passed, oldest first, bounded by limit.
func (d *Database) ListRetryableDeadLetters(ctx context.Context, now time.Time, limit int) ([]*models.DeadLetter, error) {
	rows, err := d.db.QueryContext(ctx, selectRetryableDeadLettersQuery, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list retryable dead letters: %w", err)
	}
	defer rows.Close()

	var items []*models.DeadLetter
	for rows.Next() {
		dl, scanErr := scanDeadLetter(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		items = append(items, dl)
	}
	return items, rows.Err()
}

// GetDeadLetter returns a dead letter by id, or nil when not found.
func (d *Database) GetDeadLetter(ctx context.Context, id int64) (*models.DeadLetter, error) {
	row := d.db.QueryRowContext(ctx, selectDeadLetterByIDQuery, id)
	dl, err := scanDeadLetter(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter: %w", err)
	}
	return dl, nil
}

// ListDeadLettersByStatus is the read path for the retryable-failures
// view.
func (d *Database) ListDeadLettersByStatus(ctx context.Context, status models.DeadLetterStatus, limit int) ([]*models.DeadLetter, error) {
	rows, err := d.db.QueryContext(ctx, selectDeadLettersByStatusQuery, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	var items []*models.DeadLetter
	for rows.Next() {
		dl, scanErr := scanDeadLetter(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		items = append(items, dl)
	}
	return items, rows.Err()
}

// UpdateDeadLetterRetry records the outcome of a retry attempt: the new
// retry count, the backoff-computed next attempt time, and the status
// (retrying, or failed once max_retries is exhausted).
func (d *Database) UpdateDeadLetterRetry(ctx context.Context, id int64, retryCount int, nextRetryAt time.Time, status models.DeadLetterStatus, errMessage string) error {
	_, err := d.db.ExecContext(ctx, updateDeadLetterRetryQuery,
		retryCount, nextRetryAt.UTC(), status, errMessage, id)
	if err != nil {
		return fmt.Errorf("failed to update dead letter retry state: %w", err)
	}
	return nil
}

// SetDeadLetterTerminal transitions an item to resolved, ignored or
// failed. Failed items can still be resolved or ignored by an operator;
// resolved and ignored admit no further transitions.
func (d *Database) SetDeadLetterTerminal(ctx context.Context, id int64, status models.DeadLetterStatus, note string) error {
	if status != models.DeadLetterResolved && status != models.DeadLetterIgnored && status != models.DeadLetterFailed {
		return fmt.Errorf("invalid terminal dead letter status %q", status)
	}

	result, err := d.db.ExecContext(ctx, resolveDeadLetterQuery, status, note, id)
	if err != nil {
		return fmt.Errorf("failed to set dead letter terminal state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("dead letter %d not found or already terminal", id)
	}
	return nil
}

func scanDeadLetter(row rowScanner) (*models.DeadLetter, error) {
	var (
		dl      models.DeadLetter
		payload string
	)

	err := row.Scan(
		&dl.ID,
		&dl.OperationType,
		&dl.OperationKey,
		&dl.ErrorMessage,
		&dl.ErrorCode,
		&payload,
		&dl.RetryCount,
		&dl.MaxRetries,
		&dl.NextRetryAt,
		&dl.Status,
		&dl.Note,
		&dl.CreatedAt,
		&dl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	dl.Payload = json.RawMessage(payload)
	return &dl, nil
}
