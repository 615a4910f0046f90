package service

import (
	"context"
	"strings"

	"mailroom/internal/models"
	"mailroom/internal/validation"

	"github.com/sirupsen/logrus"
)

type filterStore interface {
	GetSenderFilterCategory(ctx context.Context, pattern string) (*models.Category, error)
}

// Categorizer assigns every inbound message exactly one category.
// Manual sender overrides win over heuristics; heuristics run in a
// fixed order so the same message always classifies the same way.
type Categorizer struct {
	store  filterStore
	logger *logrus.Logger
}

func NewCategorizer(store filterStore, logger *logrus.Logger) *Categorizer {
	return &Categorizer{
		store:  store,
		logger: logger,
	}
}

// Classify returns the category for msg. Override lookup failures are
// logged and heuristics take over; classification never errors.
func (c *Categorizer) Classify(ctx context.Context, msg *models.ExternalMessage) models.Category {
	sender := validation.NormalizeAddress(msg.From)

	if sender != "" {
		if cat := c.lookupOverride(ctx, sender); cat != nil {
			return *cat
		}
		if domain := validation.DomainOf(sender); domain != "" {
			if cat := c.lookupOverride(ctx, domain); cat != nil {
				return *cat
			}
		}
	}

	return ClassifyHeuristic(msg)
}

func (c *Categorizer) lookupOverride(ctx context.Context, pattern string) *models.Category {
	cat, err := c.store.GetSenderFilterCategory(ctx, pattern)
	if err != nil {
		c.logger.WithError(err).WithField("pattern", pattern).
			Warn("Sender filter lookup failed, using heuristics")
		return nil
	}
	return cat
}

// Automated-sender local parts that almost always carry transactional
// or system notifications.
var notificationSenders = []string{
	"noreply@",
	"no-reply@",
	"no_reply@",
	"donotreply@",
	"do-not-reply@",
	"notifications@",
	"notification@",
	"alerts@",
	"mailer-daemon@",
	"postmaster@",
	"support@",
	"billing@",
	"receipts@",
}

var notificationSubjects = []string{
	"order confirmation",
	"your order",
	"payment received",
	"receipt",
	"invoice",
	"shipping update",
	"has shipped",
	"tracking number",
	"delivery update",
	"password reset",
	"verification code",
	"account update",
}

var promotionalSubjects = []string{
	"% off",
	"sale",
	"discount",
	"coupon",
	"promo",
	"limited time",
	"special offer",
	"newsletter",
	"flash deal",
	"free shipping on",
}

var promotionalBodies = []string{
	"unsubscribe",
	"email preferences",
	"view in browser",
	"marketing@",
}

// ClassifyHeuristic is the pure rule chain used when no override
// matches. Rules are evaluated in order, first hit wins, and nothing
// here depends on external state. Spam is never assigned automatically,
// only by a manual override.
func ClassifyHeuristic(msg *models.ExternalMessage) models.Category {
	sender := validation.NormalizeAddress(msg.From)
	subject := strings.ToLower(msg.Subject)
	body := strings.ToLower(msg.BodyText)
	if body == "" {
		body = strings.ToLower(msg.BodyHTML)
	}

	for _, prefix := range notificationSenders {
		if strings.HasPrefix(sender, prefix) {
			return models.CategoryNotifications
		}
	}
	for _, kw := range notificationSubjects {
		if strings.Contains(subject, kw) {
			return models.CategoryNotifications
		}
	}

	for _, kw := range promotionalSubjects {
		if strings.Contains(subject, kw) {
			return models.CategoryPromotional
		}
	}
	for _, kw := range promotionalBodies {
		if strings.Contains(body, kw) {
			return models.CategoryPromotional
		}
	}

	return models.CategoryPrimary
}
