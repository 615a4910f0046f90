package service

import (
	"context"
	"encoding/json"
	"html"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"mailroom/internal/constants"
	"mailroom/internal/database"
	"mailroom/internal/errors"
	"mailroom/internal/metrics"
	"mailroom/internal/models"
	"mailroom/pkg/mailapi/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type ingestStore interface {
	SaveCommunication(ctx context.Context, c *models.Communication) (int64, error)
}

// DeadLetterSink is the capture side of the dead-letter store. Capture
// must never fail the caller, so the sink returns nothing.
type DeadLetterSink interface {
	Add(ctx context.Context, opType models.OperationType, opKey string, cause error, payload interface{})
}

// MessageFetcher retrieves a full message from the provider, used when a
// push notification carries only identifiers.
type MessageFetcher interface {
	GetMessage(ctx context.Context, messageID string) (*types.ProviderMessage, error)
}

// IngestResult reports what IngestMessage did with one message.
type IngestResult struct {
	CommunicationID int64
	Duplicate       bool
	Strategy        DedupStrategy
	// DeadLettered means persistence failed transiently and the message
	// was captured for replay instead of being surfaced as an error.
	DeadLettered bool
}

// IngestionCoordinator runs the fixed pipeline for every inbound
// message: validate, dedup, categorize, link, persist. It is the only
// component that writes communications.
type IngestionCoordinator struct {
	dedup       *DedupEngine
	categorizer *Categorizer
	linker      *Linker
	store       ingestStore
	deadLetters DeadLetterSink
	fetcher     MessageFetcher
	logger      *logrus.Logger
}

func NewIngestionCoordinator(
	dedup *DedupEngine,
	categorizer *Categorizer,
	linker *Linker,
	store ingestStore,
	deadLetters DeadLetterSink,
	fetcher MessageFetcher,
	logger *logrus.Logger,
) *IngestionCoordinator {
	return &IngestionCoordinator{
		dedup:       dedup,
		categorizer: categorizer,
		linker:      linker,
		store:       store,
		deadLetters: deadLetters,
		fetcher:     fetcher,
		logger:      logger,
	}
}

// IngestMessage processes one message end to end. A duplicate is a
// successful no-op. Contract violations (no received timestamp) return
// an error and are never dead-lettered; transient persistence failures
// are captured for replay and reported as success with DeadLettered set.
func (ic *IngestionCoordinator) IngestMessage(ctx context.Context, msg *models.ExternalMessage) (*IngestResult, error) {
	return ic.ingest(ctx, msg, true)
}

func (ic *IngestionCoordinator) ingest(ctx context.Context, msg *models.ExternalMessage, capture bool) (*IngestResult, error) {
	if err := msg.Validate(); err != nil {
		return nil, errors.NewValidationError("external message", err.Error())
	}

	result, err := ic.dedup.Check(ctx, msg)
	if err != nil {
		return nil, err
	}
	if result.IsDuplicate {
		ic.logger.WithFields(logrus.Fields{
			"strategy":   result.Strategy,
			"existingId": result.ExistingID,
		}).Debug("Skipping duplicate message")
		return &IngestResult{Duplicate: true, Strategy: result.Strategy, CommunicationID: result.ExistingID}, nil
	}

	category := ic.categorizer.Classify(ctx, msg)
	link := ic.linker.Link(ctx, msg)

	comm := &models.Communication{
		Direction:         models.DirectionInbound,
		FromAddress:       msg.From,
		ToAddresses:       msg.To,
		Subject:           msg.Subject,
		BodyHTML:          msg.BodyHTML,
		BodyPreview:       buildPreview(msg.BodyText, msg.BodyHTML),
		ProviderMessageID: msg.ProviderMessageID,
		RFCMessageID:      msg.RFCMessageID,
		ThreadID:          msg.ThreadID,
		Category:          category,
		OrderID:           link.OrderID,
		TriageState:       link.Triage,
		ReceivedAt:        msg.ReceivedAt,
	}

	id, err := ic.store.SaveCommunication(ctx, comm)
	if err != nil {
		if database.IsUniqueConstraintError(err) {
			// A concurrent writer won the insert race; their row is the
			// record and this delivery is a duplicate.
			metrics.IncrementCounter("dedup_duplicates_total", map[string]string{
				"strategy": string(StrategyStorageConstraint),
			}, "Duplicate messages detected by strategy")
			return &IngestResult{Duplicate: true, Strategy: StrategyStorageConstraint}, nil
		}

		if !capture {
			return nil, err
		}
		ic.logger.WithError(err).WithField("providerMessageId", msg.ProviderMessageID).
			Error("Failed to persist communication, capturing for replay")
		ic.deadLetters.Add(ctx, models.OperationEmailImport, importOperationKey(msg), err, msg)
		return &IngestResult{DeadLettered: true}, nil
	}

	metrics.IncrementCounter("messages_ingested_total", map[string]string{
		"category": string(category),
	}, "Messages ingested by category")

	ic.logger.WithFields(logrus.Fields{
		"communicationId": id,
		"category":        category,
		"linked":          link.OrderID != nil,
	}).Info("Ingested message")

	return &IngestResult{CommunicationID: id}, nil
}

// IngestBatch processes messages independently: one bad message logs and
// moves on, it never aborts the rest of the batch. It returns the count
// of newly persisted messages.
func (ic *IngestionCoordinator) IngestBatch(ctx context.Context, msgs []models.ExternalMessage) int {
	ingested := 0
	for i := range msgs {
		res, err := ic.IngestMessage(ctx, &msgs[i])
		if err != nil {
			ic.logger.WithError(err).WithField("providerMessageId", msgs[i].ProviderMessageID).
				Warn("Failed to ingest message, continuing batch")
			continue
		}
		if !res.Duplicate && !res.DeadLettered {
			ingested++
		}
	}
	return ingested
}

// HandlePushNotification resolves a provider push notification into a
// full message and ingests it. The notification carries identifiers
// only; a fetch failure is captured for replay because the poller may
// not see the message if it falls outside the lookback window.
func (ic *IngestionCoordinator) HandlePushNotification(ctx context.Context, payload *models.MailWebhookPayload) (*IngestResult, error) {
	if payload.Payload.MessageID == "" {
		return nil, errors.NewValidationError("push notification", "missing message id")
	}

	pm, err := ic.fetcher.GetMessage(ctx, payload.Payload.MessageID)
	if err != nil {
		ic.logger.WithError(err).WithField("providerMessageId", payload.Payload.MessageID).
			Error("Failed to fetch pushed message, capturing for replay")
		ic.deadLetters.Add(ctx, models.OperationEmailImport, payload.Payload.MessageID, err,
			&models.ExternalMessage{ProviderMessageID: payload.Payload.MessageID, ReceivedAt: time.UnixMilli(payload.Timestamp)})
		return &IngestResult{DeadLettered: true}, nil
	}

	msg := FromProviderMessage(pm)
	return ic.IngestMessage(ctx, msg)
}

// FromProviderMessage converts the provider wire format to the internal
// ephemeral message.
func FromProviderMessage(pm *types.ProviderMessage) *models.ExternalMessage {
	return &models.ExternalMessage{
		ProviderMessageID: pm.ID,
		RFCMessageID:      pm.RFCMessageID,
		From:              pm.From,
		To:                pm.To,
		Subject:           pm.Subject,
		BodyHTML:          pm.BodyHTML,
		BodyText:          pm.BodyText,
		ThreadID:          pm.ThreadID,
		ReceivedAt:        time.UnixMilli(pm.ReceivedAt),
	}
}

// RetryImportHandler returns the dead-letter replay handler for failed
// imports. A payload captured before the full message could be fetched
// carries only identifiers and is re-fetched first; a persist failure on
// replay propagates so the original letter reschedules instead of
// spawning a second one.
func (ic *IngestionCoordinator) RetryImportHandler() RetryHandler {
	return func(ctx context.Context, dl *models.DeadLetter) error {
		var msg models.ExternalMessage
		if err := json.Unmarshal(dl.Payload, &msg); err != nil {
			return errors.NewValidationError("import payload", err.Error())
		}

		if msg.From == "" && msg.ProviderMessageID != "" {
			pm, err := ic.fetcher.GetMessage(ctx, msg.ProviderMessageID)
			if err != nil {
				return err
			}
			msg = *FromProviderMessage(pm)
		}

		_, err := ic.ingest(ctx, &msg, false)
		return err
	}
}

// importOperationKey picks a stable replay key for a failed import,
// falling back to a synthetic one when the message carries no usable
// identifier.
func importOperationKey(msg *models.ExternalMessage) string {
	if msg.ProviderMessageID != "" {
		return msg.ProviderMessageID
	}
	if msg.RFCMessageID != "" {
		return msg.RFCMessageID
	}
	return "synthetic:" + uuid.NewString()
}

var (
	tagStripper        = regexp.MustCompile(`<[^>]*>`)
	whitespaceCollapse = regexp.MustCompile(`\s+`)
)

// buildPreview derives the short plain-text preview stored alongside the
// full body. Plain text wins when present; otherwise the HTML is
// stripped down.
func buildPreview(text, htmlBody string) string {
	src := text
	if strings.TrimSpace(src) == "" {
		src = tagStripper.ReplaceAllString(htmlBody, " ")
		src = html.UnescapeString(src)
	}
	src = strings.TrimSpace(whitespaceCollapse.ReplaceAllString(src, " "))
	if len(src) > constants.BodyPreviewLength {
		// Back off to a rune boundary so the cut never leaves a partial
		// multi-byte character.
		cut := constants.BodyPreviewLength
		for cut > 0 && !utf8.RuneStart(src[cut]) {
			cut--
		}
		src = src[:cut]
	}
	return src
}
