package service

import (
	"context"

	"mailroom/internal/errors"
	"mailroom/internal/models"
	"mailroom/internal/validation"

	"github.com/sirupsen/logrus"
)

type triageStore interface {
	UpdateCommunicationTriage(ctx context.Context, id int64, orderID *int64, state models.TriageState) error
	GetCommunicationsByOrderID(ctx context.Context, orderID int64) ([]*models.Communication, error)
	UpsertSenderFilter(ctx context.Context, pattern string, category models.Category) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
}

// TriageService covers the manual corrections the back office applies
// on top of the automatic pipeline: confirming or moving a link, and
// teaching the categorizer about a sender.
type TriageService struct {
	store  triageStore
	logger *logrus.Logger
}

func NewTriageService(store triageStore, logger *logrus.Logger) *TriageService {
	return &TriageService{store: store, logger: logger}
}

// AssignOrder links a communication to an order by hand. A nil orderID
// clears the link and returns the communication to the unassigned pool.
func (t *TriageService) AssignOrder(ctx context.Context, communicationID int64, orderID *int64) error {
	state := models.TriageManual
	if orderID == nil {
		state = models.TriageUnassigned
	} else {
		order, err := t.store.GetOrder(ctx, *orderID)
		if err != nil {
			return errors.NewDatabaseError("get order", err)
		}
		if order == nil {
			return errors.NewValidationError("orderId", "order does not exist")
		}
	}

	if err := t.store.UpdateCommunicationTriage(ctx, communicationID, orderID, state); err != nil {
		return errors.NewDatabaseError("update communication triage", err)
	}

	t.logger.WithFields(logrus.Fields{
		"communicationId": communicationID,
		"linked":          orderID != nil,
	}).Info("Updated communication link")
	return nil
}

// SetSenderFilter records a manual category override for a sender
// address or a whole domain. Future messages from that sender classify
// by the filter before any heuristic runs.
func (t *TriageService) SetSenderFilter(ctx context.Context, pattern string, category models.Category) error {
	pattern = validation.NormalizeAddress(pattern)
	if pattern == "" {
		return errors.NewValidationError("pattern", "sender filter pattern is required")
	}
	if err := t.store.UpsertSenderFilter(ctx, pattern, category); err != nil {
		return errors.NewDatabaseError("upsert sender filter", err)
	}

	t.logger.WithFields(logrus.Fields{
		"pattern":  pattern,
		"category": category,
	}).Info("Saved sender filter")
	return nil
}

// CommunicationsForOrder lists an order's mail history for the operator
// API.
func (t *TriageService) CommunicationsForOrder(ctx context.Context, orderID int64) ([]*models.Communication, error) {
	return t.store.GetCommunicationsByOrderID(ctx, orderID)
}
