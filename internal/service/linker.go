package service

import (
	"context"
	"time"

	"mailroom/internal/models"

	"github.com/sirupsen/logrus"
)

type linkStore interface {
	GetLinkedOrderIDByThreadID(ctx context.Context, threadID string) (*int64, error)
	FindLinkableOrder(ctx context.Context, sender string, receivedAt time.Time, window time.Duration) (*models.Order, error)
}

// LinkResult carries the order association decided for a message, if
// any, together with the triage state the link implies.
type LinkResult struct {
	OrderID *int64
	Triage  models.TriageState
}

// Linker associates inbound messages with orders. Thread continuity is
// tried first because it inherits a decision a human may already have
// confirmed; identity matching within the recency window is the
// fallback and is always flagged for review.
type Linker struct {
	store  linkStore
	window time.Duration
	logger *logrus.Logger
}

func NewLinker(store linkStore, window time.Duration, logger *logrus.Logger) *Linker {
	return &Linker{
		store:  store,
		window: window,
		logger: logger,
	}
}

// Link decides the order association for msg. Strategy failures log and
// fall through; an unlinked message is a valid outcome, not an error.
func (l *Linker) Link(ctx context.Context, msg *models.ExternalMessage) LinkResult {
	if msg.ThreadID != "" {
		orderID, err := l.store.GetLinkedOrderIDByThreadID(ctx, msg.ThreadID)
		if err != nil {
			l.logger.WithError(err).WithField("threadId", msg.ThreadID).
				Warn("Thread continuity lookup failed, falling through")
		} else if orderID != nil {
			// The link rides an earlier decision on the same thread, so
			// it keeps the stronger triage state.
			return LinkResult{OrderID: orderID, Triage: models.TriageNeedsReview}
		}
	}

	order, err := l.store.FindLinkableOrder(ctx, msg.From, msg.ReceivedAt, l.window)
	if err != nil {
		l.logger.WithError(err).WithField("sender", msg.From).
			Warn("Identity match lookup failed, leaving unlinked")
		return LinkResult{Triage: models.TriageUnassigned}
	}
	if order != nil {
		return LinkResult{OrderID: &order.ID, Triage: models.TriageNeedsReview}
	}

	return LinkResult{Triage: models.TriageUnassigned}
}
