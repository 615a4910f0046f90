package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"mailroom/internal/errors"
	"mailroom/internal/metrics"
	"mailroom/internal/models"
	"mailroom/pkg/mailapi/types"

	"github.com/sirupsen/logrus"
)

type notifierStore interface {
	UpsertPendingScheduledSend(ctx context.Context, s *models.ScheduledSend) error
	ListDueScheduledSends(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledSend, error)
	GetScheduledSend(ctx context.Context, id int64) (*models.ScheduledSend, error)
	GetScheduledSendsByOrderID(ctx context.Context, orderID int64) ([]*models.ScheduledSend, error)
	MarkScheduledSend(ctx context.Context, id int64, status models.SendStatus, reason string) (bool, error)
	RecordCompletedSend(ctx context.Context, orderID int64, kind models.SendKind) error
	GetCompletedSend(ctx context.Context, orderID int64, kind models.SendKind) (*models.CompletedSend, error)
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
}

// EmailSender sends one outbound email through the provider.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, htmlBody string) (*types.SendEmailResponse, error)
}

// ContentRenderer produces the subject and body for a send kind. The
// engine owns when to send, not what the email says.
type ContentRenderer interface {
	Render(kind models.SendKind, order *models.Order) (subject, htmlBody string, err error)
}

// NotificationEngine owns the scheduled-send queue: enqueueing is an
// idempotent upsert against the pending row, and the sweep revalidates
// each item's precondition against the live order before sending. The
// completed-sends audit table is the last line of the at-most-once
// guarantee.
type NotificationEngine struct {
	store       notifierStore
	sender      EmailSender
	renderer    ContentRenderer
	deadLetters DeadLetterSink
	batchSize   int
	logger      *logrus.Logger

	now func() time.Time
}

func NewNotificationEngine(store notifierStore, sender EmailSender, renderer ContentRenderer, deadLetters DeadLetterSink, batchSize int, logger *logrus.Logger) *NotificationEngine {
	if renderer == nil {
		renderer = defaultRenderer{}
	}
	return &NotificationEngine{
		store:       store,
		sender:      sender,
		renderer:    renderer,
		deadLetters: deadLetters,
		batchSize:   batchSize,
		logger:      logger,
		now:         time.Now,
	}
}

// Enqueue schedules a notification for an order. Calling it again for
// the same (order, kind) while a pending item exists updates that item
// in place rather than creating a second one. An empty toAddress falls
// back to the order's primary email.
func (n *NotificationEngine) Enqueue(ctx context.Context, orderID int64, kind models.SendKind, toAddress string, scheduledAt time.Time, precondition models.Precondition) error {
	order, err := n.store.GetOrder(ctx, orderID)
	if err != nil {
		return errors.NewDatabaseError("get order", err)
	}
	if order == nil {
		return errors.NewNotFoundError("order", strconv.FormatInt(orderID, 10))
	}
	if toAddress == "" {
		toAddress = order.CustomerEmail
	}

	item := &models.ScheduledSend{
		OrderID:      orderID,
		SendKind:     kind,
		ToAddress:    toAddress,
		ScheduledAt:  scheduledAt,
		Precondition: precondition,
		Status:       models.SendStatusPending,
	}
	if err := n.store.UpsertPendingScheduledSend(ctx, item); err != nil {
		return errors.NewDatabaseError("upsert scheduled send", err)
	}

	n.logger.WithFields(logrus.Fields{
		"orderId":     orderID,
		"sendKind":    kind,
		"scheduledAt": scheduledAt,
	}).Info("Enqueued scheduled send")
	return nil
}

// NotifierStats summarises one sweep pass.
type NotifierStats struct {
	Due       int
	Sent      int
	Cancelled int
	Failed    int
}

// Sweep fires every due pending item once. Items are processed
// independently so one failure never blocks the rest.
func (n *NotificationEngine) Sweep(ctx context.Context) (NotifierStats, error) {
	var stats NotifierStats

	due, err := n.store.ListDueScheduledSends(ctx, n.now(), n.batchSize)
	if err != nil {
		return stats, errors.NewDatabaseError("list due scheduled sends", err)
	}

	for _, item := range due {
		stats.Due++
		n.fire(ctx, item, &stats)
	}

	if stats.Due > 0 {
		n.logger.WithFields(logrus.Fields{
			"due":       stats.Due,
			"sent":      stats.Sent,
			"cancelled": stats.Cancelled,
			"failed":    stats.Failed,
		}).Info("Notification sweep complete")
	}
	return stats, nil
}

func (n *NotificationEngine) fire(ctx context.Context, item *models.ScheduledSend, stats *NotifierStats) {
	log := n.logger.WithFields(logrus.Fields{
		"scheduledSendId": item.ID,
		"orderId":         item.OrderID,
		"sendKind":        item.SendKind,
	})

	order, err := n.store.GetOrder(ctx, item.OrderID)
	if err != nil {
		log.WithError(err).Error("Failed to load order for due send, leaving pending")
		return
	}
	if order == nil {
		n.cancel(ctx, item, "order no longer exists", stats)
		return
	}

	// The precondition snapshot is evaluated against the order as it is
	// now, not as it was at enqueue time.
	if err := item.Precondition.Evaluate(order); err != nil {
		n.cancel(ctx, item, err.Error(), stats)
		return
	}

	completed, err := n.store.GetCompletedSend(ctx, item.OrderID, item.SendKind)
	if err != nil {
		log.WithError(err).Error("Failed to check completed sends, leaving pending")
		return
	}
	if completed != nil {
		n.cancel(ctx, item, "already sent", stats)
		return
	}

	subject, body, err := n.renderer.Render(item.SendKind, order)
	if err != nil {
		log.WithError(err).Error("Failed to render notification, leaving pending")
		return
	}

	if _, err := n.sender.SendEmail(ctx, item.ToAddress, subject, body); err != nil {
		log.WithError(err).Error("Failed to send notification, capturing for replay")
		if _, merr := n.store.MarkScheduledSend(ctx, item.ID, models.SendStatusFailed, err.Error()); merr != nil {
			log.WithError(merr).Error("Failed to mark scheduled send failed")
		}
		n.deadLetters.Add(ctx, models.OperationEmailSend, sendOperationKey(item.OrderID, item.SendKind), err, replaySendPayload{
			ScheduledSendID: item.ID,
			OrderID:         item.OrderID,
			SendKind:        item.SendKind,
			ToAddress:       item.ToAddress,
		})
		metrics.IncrementCounter("notifications_failed_total", nil, "Scheduled sends that failed at the provider")
		stats.Failed++
		return
	}

	// Record the audit row before flipping the queue item: if the
	// process dies between the two, the audit table still blocks a
	// second send.
	if err := n.store.RecordCompletedSend(ctx, item.OrderID, item.SendKind); err != nil {
		log.WithError(err).Error("Failed to record completed send")
	}
	if _, err := n.store.MarkScheduledSend(ctx, item.ID, models.SendStatusSent, ""); err != nil {
		log.WithError(err).Error("Failed to mark scheduled send sent")
	}

	metrics.IncrementCounter("notifications_sent_total", map[string]string{
		"kind": string(item.SendKind),
	}, "Scheduled sends delivered")
	log.Info("Sent scheduled notification")
	stats.Sent++
}

func (n *NotificationEngine) cancel(ctx context.Context, item *models.ScheduledSend, reason string, stats *NotifierStats) {
	marked, err := n.store.MarkScheduledSend(ctx, item.ID, models.SendStatusCancelled, reason)
	if err != nil {
		n.logger.WithError(err).WithField("scheduledSendId", item.ID).
			Error("Failed to cancel scheduled send")
		return
	}
	if marked {
		metrics.IncrementCounter("notifications_cancelled_total", nil, "Scheduled sends cancelled at fire time")
		n.logger.WithFields(logrus.Fields{
			"scheduledSendId": item.ID,
			"reason":          reason,
		}).Info("Cancelled scheduled send")
		stats.Cancelled++
	}
}

// ListForOrder exposes an order's queue history for the operator API.
func (n *NotificationEngine) ListForOrder(ctx context.Context, orderID int64) ([]*models.ScheduledSend, error) {
	return n.store.GetScheduledSendsByOrderID(ctx, orderID)
}

// replaySendPayload is the dead-letter payload for a failed send.
type replaySendPayload struct {
	ScheduledSendID int64           `json:"scheduledSendId"`
	OrderID         int64           `json:"orderId"`
	SendKind        models.SendKind `json:"sendKind"`
	ToAddress       string          `json:"toAddress"`
}

func sendOperationKey(orderID int64, kind models.SendKind) string {
	return fmt.Sprintf("order:%d:%s", orderID, kind)
}

// RetrySendHandler returns the dead-letter replay handler for failed
// sends. The replay goes through the completed-sends guard and the
// precondition revalidation again, so a send that slipped through
// between failure and replay stays single, and a replay hours after the
// failure cannot fire against an order that has since moved on.
func (n *NotificationEngine) RetrySendHandler() RetryHandler {
	return func(ctx context.Context, dl *models.DeadLetter) error {
		var payload replaySendPayload
		if err := json.Unmarshal(dl.Payload, &payload); err != nil {
			return fmt.Errorf("decode send payload: %w", err)
		}

		completed, err := n.store.GetCompletedSend(ctx, payload.OrderID, payload.SendKind)
		if err != nil {
			return errors.NewDatabaseError("check completed sends", err)
		}
		if completed != nil {
			return nil
		}

		order, err := n.store.GetOrder(ctx, payload.OrderID)
		if err != nil {
			return errors.NewDatabaseError("get order", err)
		}
		if order == nil {
			return nil
		}

		item, err := n.store.GetScheduledSend(ctx, payload.ScheduledSendID)
		if err != nil {
			return errors.NewDatabaseError("get scheduled send", err)
		}
		if item != nil {
			if preErr := item.Precondition.Evaluate(order); preErr != nil {
				n.logger.WithFields(logrus.Fields{
					"scheduledSendId": payload.ScheduledSendID,
					"orderId":         payload.OrderID,
					"sendKind":        payload.SendKind,
					"reason":          preErr.Error(),
				}).Info("Dropping replayed send, precondition no longer holds")
				return nil
			}
		}

		subject, body, err := n.renderer.Render(payload.SendKind, order)
		if err != nil {
			return err
		}
		if _, err := n.sender.SendEmail(ctx, payload.ToAddress, subject, body); err != nil {
			return err
		}
		return n.store.RecordCompletedSend(ctx, payload.OrderID, payload.SendKind)
	}
}

// defaultRenderer carries the minimal built-in templates; production
// content is expected to come from an injected renderer.
type defaultRenderer struct{}

func (defaultRenderer) Render(kind models.SendKind, order *models.Order) (string, string, error) {
	switch kind {
	case models.SendKindOrderConfirmed:
		return fmt.Sprintf("Order #%d confirmed", order.ID),
			fmt.Sprintf("<p>Thanks! Your order #%d is confirmed.</p>", order.ID), nil
	case models.SendKindEnteringProduction:
		return fmt.Sprintf("Order #%d is in production", order.ID),
			fmt.Sprintf("<p>Good news: order #%d has entered production.</p>", order.ID), nil
	case models.SendKindTrackingAdded:
		tracking := ""
		if order.TrackingNumber != nil {
			tracking = *order.TrackingNumber
		}
		return fmt.Sprintf("Order #%d has shipped", order.ID),
			fmt.Sprintf("<p>Order #%d is on its way. Tracking: %s</p>", order.ID, tracking), nil
	default:
		return "", "", fmt.Errorf("unknown send kind: %q", kind)
	}
}
