package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"mailroom/internal/models"
)

// SaveCommunication persists a new communication and returns its id.
// Callers must treat a unique-constraint failure (IsUniqueConstraintError)
// as a duplicate, not a hard error: it is the storage-layer backstop for
// the webhook/poller insert race.
func (d *Database) SaveCommunication(ctx context.Context, c *models.Communication) (int64, error) {
	encryptedBody, err := d.encryptor.EncryptIfEnabled(c.BodyHTML)
	if err != nil {
		return 0, fmt.Errorf("failed to encrypt body: %w", err)
	}
	encryptedPreview, err := d.encryptor.EncryptIfEnabled(c.BodyPreview)
	if err != nil {
		return 0, fmt.Errorf("failed to encrypt preview: %w", err)
	}

	toJSON, err := json.Marshal(c.ToAddresses)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal recipients: %w", err)
	}

	var id int64
	err = retryableDBOperation(ctx, func() error {
		res, execErr := d.db.ExecContext(ctx, insertCommunicationQuery,
			c.Direction,
			c.FromAddress,
			string(toJSON),
			c.Subject,
			encryptedBody,
			encryptedPreview,
			nullableString(c.ProviderMessageID),
			nullableString(c.RFCMessageID),
			nullableString(c.ThreadID),
			c.Category,
			c.OrderID,
			c.TriageState,
			c.ReceivedAt.UTC(),
		)
		if execErr != nil {
			return execErr
		}
		id, execErr = res.LastInsertId()
		return execErr
	}, "save communication")

	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetCommunicationByProviderMessageID looks up a communication by the
// provider-assigned id. Returns nil when not found.
func (d *Database) GetCommunicationByProviderMessageID(ctx context.Context, providerID string) (*models.Communication, error) {
	if providerID == "" {
		return nil, nil
	}
	return d.queryCommunication(ctx, selectCommunicationByProviderIDQuery, providerID)
}

// GetCommunicationByRFCMessageID looks up a communication by the RFC 822
// Message-ID header. Returns nil when not found.
func (d *Database) GetCommunicationByRFCMessageID(ctx context.Context, rfcID string) (*models.Communication, error) {
	if rfcID == "" {
		return nil, nil
	}
	return d.queryCommunication(ctx, selectCommunicationByRFCIDQuery, rfcID)
}

// FindCommunicationByFingerprint matches sender + subject with the
// received timestamp inside a symmetric tolerance window.
func (d *Database) FindCommunicationByFingerprint(ctx context.Context, from, subject string, receivedAt time.Time, tolerance time.Duration) (*models.Communication, error) {
	lower := receivedAt.Add(-tolerance).UTC()
	upper := receivedAt.Add(tolerance).UTC()
	return d.queryCommunication(ctx, selectCommunicationByFingerprintQuery, from, subject, lower, upper)
}

// GetLinkedOrderIDByThreadID returns the order id of the most recent
// linked communication on the given thread, or nil when the thread has no
// linked history.
func (d *Database) GetLinkedOrderIDByThreadID(ctx context.Context, threadID string) (*int64, error) {
	if threadID == "" {
		return nil, nil
	}

	var orderID int64
	err := d.db.QueryRowContext(ctx, selectLinkedOrderByThreadQuery, threadID).Scan(&orderID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up thread link: %w", err)
	}
	return &orderID, nil
}

// GetCommunicationsByOrderID returns all communications linked to an
// order, newest first.
func (d *Database) GetCommunicationsByOrderID(ctx context.Context, orderID int64) ([]*models.Communication, error) {
	rows, err := d.db.QueryContext(ctx, selectCommunicationsByOrderQuery, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list communications: %w", err)
	}
	defer rows.Close()

	var comms []*models.Communication
	for rows.Next() {
		c, scanErr := d.scanCommunication(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		comms = append(comms, c)
	}
	return comms, rows.Err()
}

// UpdateCommunicationTriage sets the link target and triage state, used
// by the human triage path.
func (d *Database) UpdateCommunicationTriage(ctx context.Context, id int64, orderID *int64, state models.TriageState) error {
	result, err := d.db.ExecContext(ctx, updateCommunicationTriageQuery, orderID, state, id)
	if err != nil {
		return fmt.Errorf("failed to update triage: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("no communication found with id %d", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (d *Database) queryCommunication(ctx context.Context, query string, args ...interface{}) (*models.Communication, error) {
	row := d.db.QueryRowContext(ctx, query, args...)
	c, err := d.scanCommunication(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get communication: %w", err)
	}
	return c, nil
}

func (d *Database) scanCommunication(row rowScanner) (*models.Communication, error) {
	var (
		c           models.Communication
		toJSON      string
		body        string
		preview     string
		providerID  sql.NullString
		rfcID       sql.NullString
		threadID    sql.NullString
		orderID     sql.NullInt64
	)

	err := row.Scan(
		&c.ID,
		&c.Direction,
		&c.FromAddress,
		&toJSON,
		&c.Subject,
		&body,
		&preview,
		&providerID,
		&rfcID,
		&threadID,
		&c.Category,
		&orderID,
		&c.TriageState,
		&c.ReceivedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(toJSON), &c.ToAddresses); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recipients: %w", err)
	}

	c.BodyHTML, err = d.encryptor.DecryptIfEnabled(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt body: %w", err)
	}
	c.BodyPreview, err = d.encryptor.DecryptIfEnabled(preview)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt preview: %w", err)
	}

	c.ProviderMessageID = providerID.String
	c.RFCMessageID = rfcID.String
	c.ThreadID = threadID.String
	if orderID.Valid {
		c.OrderID = &orderID.Int64
	}

	return &c, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
