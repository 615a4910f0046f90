package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"mailroom/internal/models"
	"mailroom/internal/validation"
)

// GetOrder returns the order with the given id, or nil when it does not
// exist.
func (d *Database) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	row := d.db.QueryRowContext(ctx, selectOrderByIDQuery, id)
	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// FindLinkableOrder finds the open order whose primary or alternate
// identity equals the sender address and which was updated within the
// trailing window ending at receivedAt. Most recently updated wins.
func (d *Database) FindLinkableOrder(ctx context.Context, senderAddress string, receivedAt time.Time, window time.Duration) (*models.Order, error) {
	senderAddress = validation.NormalizeAddress(senderAddress)
	cutoff := receivedAt.Add(-window).UTC()
	altPattern := "%" + `"` + senderAddress + `"` + "%"

	rows, err := d.db.QueryContext(ctx, selectLinkableOrdersQuery, senderAddress, altPattern, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query linkable orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		order, scanErr := scanOrder(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		// The LIKE candidate match is approximate; verify against the
		// parsed identity set.
		if order.MatchesIdentity(senderAddress) {
			return order, nil
		}
	}
	return nil, rows.Err()
}

// SaveOrder inserts or updates an order row. The pipeline never calls
// this; it exists for the back-office writers that share the table and
// for tests.
func (d *Database) SaveOrder(ctx context.Context, o *models.Order) (int64, error) {
	altJSON, err := json.Marshal(o.AlternateEmails)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal alternate emails: %w", err)
	}
	if o.AlternateEmails == nil {
		altJSON = []byte("[]")
	}

	if o.ID == 0 {
		res, err := d.db.ExecContext(ctx, `
			INSERT INTO orders (customer_email, alternate_emails, status, tracking_number, closed, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			o.CustomerEmail, string(altJSON), o.Status, o.TrackingNumber, o.Closed, o.UpdatedAt.UTC())
		if err != nil {
			return 0, fmt.Errorf("failed to insert order: %w", err)
		}
		return res.LastInsertId()
	}

	_, err = d.db.ExecContext(ctx, `
		UPDATE orders
		SET customer_email = ?, alternate_emails = ?, status = ?, tracking_number = ?, closed = ?, updated_at = ?
		WHERE id = ?`,
		o.CustomerEmail, string(altJSON), o.Status, o.TrackingNumber, o.Closed, o.UpdatedAt.UTC(), o.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to update order: %w", err)
	}
	return o.ID, nil
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var (
		o        models.Order
		altJSON  string
		tracking sql.NullString
	)

	err := row.Scan(
		&o.ID,
		&o.CustomerEmail,
		&altJSON,
		&o.Status,
		&tracking,
		&o.Closed,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(altJSON), &o.AlternateEmails); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alternate emails: %w", err)
	}
	if tracking.Valid && tracking.String != "" {
		o.TrackingNumber = &tracking.String
	}

	return &o, nil
}
