package service

import (
	"context"
	"errors"
	"time"

	"mailroom/internal/models"
	"mailroom/pkg/mailapi/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

// errUniqueConstraint mimics the driver error the storage layer
// translates into a duplicate outcome.
var errUniqueConstraint = errors.New("UNIQUE constraint failed: communications.rfc_message_id")

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

type mockDedupStore struct {
	mock.Mock
}

func (m *mockDedupStore) GetCommunicationByProviderMessageID(ctx context.Context, providerID string) (*models.Communication, error) {
	args := m.Called(ctx, providerID)
	if c := args.Get(0); c != nil {
		return c.(*models.Communication), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDedupStore) GetCommunicationByRFCMessageID(ctx context.Context, rfcID string) (*models.Communication, error) {
	args := m.Called(ctx, rfcID)
	if c := args.Get(0); c != nil {
		return c.(*models.Communication), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDedupStore) FindCommunicationByFingerprint(ctx context.Context, from, subject string, receivedAt time.Time, tolerance time.Duration) (*models.Communication, error) {
	args := m.Called(ctx, from, subject, receivedAt, tolerance)
	if c := args.Get(0); c != nil {
		return c.(*models.Communication), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockFilterStore struct {
	mock.Mock
}

func (m *mockFilterStore) GetSenderFilterCategory(ctx context.Context, pattern string) (*models.Category, error) {
	args := m.Called(ctx, pattern)
	if c := args.Get(0); c != nil {
		return c.(*models.Category), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockLinkStore struct {
	mock.Mock
}

func (m *mockLinkStore) GetLinkedOrderIDByThreadID(ctx context.Context, threadID string) (*int64, error) {
	args := m.Called(ctx, threadID)
	if id := args.Get(0); id != nil {
		return id.(*int64), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockLinkStore) FindLinkableOrder(ctx context.Context, sender string, receivedAt time.Time, window time.Duration) (*models.Order, error) {
	args := m.Called(ctx, sender, receivedAt, window)
	if o := args.Get(0); o != nil {
		return o.(*models.Order), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockIngestStore struct {
	mock.Mock
}

func (m *mockIngestStore) SaveCommunication(ctx context.Context, c *models.Communication) (int64, error) {
	args := m.Called(ctx, c)
	return args.Get(0).(int64), args.Error(1)
}

type mockDeadLetterSink struct {
	mock.Mock
}

func (m *mockDeadLetterSink) Add(ctx context.Context, opType models.OperationType, opKey string, cause error, payload interface{}) {
	m.Called(ctx, opType, opKey, cause, payload)
}

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) GetMessage(ctx context.Context, messageID string) (*types.ProviderMessage, error) {
	args := m.Called(ctx, messageID)
	if pm := args.Get(0); pm != nil {
		return pm.(*types.ProviderMessage), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockFetcher) ListMessages(ctx context.Context, receivedAfter time.Time) ([]types.ProviderMessage, error) {
	args := m.Called(ctx, receivedAfter)
	if msgs := args.Get(0); msgs != nil {
		return msgs.([]types.ProviderMessage), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockNotifierStore struct {
	mock.Mock
}

func (m *mockNotifierStore) UpsertPendingScheduledSend(ctx context.Context, s *models.ScheduledSend) error {
	return m.Called(ctx, s).Error(0)
}

func (m *mockNotifierStore) ListDueScheduledSends(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledSend, error) {
	args := m.Called(ctx, now, limit)
	if items := args.Get(0); items != nil {
		return items.([]*models.ScheduledSend), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockNotifierStore) GetScheduledSend(ctx context.Context, id int64) (*models.ScheduledSend, error) {
	args := m.Called(ctx, id)
	if s := args.Get(0); s != nil {
		return s.(*models.ScheduledSend), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockNotifierStore) GetScheduledSendsByOrderID(ctx context.Context, orderID int64) ([]*models.ScheduledSend, error) {
	args := m.Called(ctx, orderID)
	if items := args.Get(0); items != nil {
		return items.([]*models.ScheduledSend), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockNotifierStore) MarkScheduledSend(ctx context.Context, id int64, status models.SendStatus, reason string) (bool, error) {
	args := m.Called(ctx, id, status, reason)
	return args.Bool(0), args.Error(1)
}

func (m *mockNotifierStore) RecordCompletedSend(ctx context.Context, orderID int64, kind models.SendKind) error {
	return m.Called(ctx, orderID, kind).Error(0)
}

func (m *mockNotifierStore) GetCompletedSend(ctx context.Context, orderID int64, kind models.SendKind) (*models.CompletedSend, error) {
	args := m.Called(ctx, orderID, kind)
	if c := args.Get(0); c != nil {
		return c.(*models.CompletedSend), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockNotifierStore) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	args := m.Called(ctx, id)
	if o := args.Get(0); o != nil {
		return o.(*models.Order), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendEmail(ctx context.Context, to, subject, htmlBody string) (*types.SendEmailResponse, error) {
	args := m.Called(ctx, to, subject, htmlBody)
	if r := args.Get(0); r != nil {
		return r.(*types.SendEmailResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockDeadLetterStore struct {
	mock.Mock
}

func (m *mockDeadLetterStore) InsertDeadLetter(ctx context.Context, dl *models.DeadLetter) (int64, error) {
	args := m.Called(ctx, dl)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockDeadLetterStore) ListRetryableDeadLetters(ctx context.Context, now time.Time, limit int) ([]*models.DeadLetter, error) {
	args := m.Called(ctx, now, limit)
	if items := args.Get(0); items != nil {
		return items.([]*models.DeadLetter), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDeadLetterStore) GetDeadLetter(ctx context.Context, id int64) (*models.DeadLetter, error) {
	args := m.Called(ctx, id)
	if dl := args.Get(0); dl != nil {
		return dl.(*models.DeadLetter), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDeadLetterStore) ListDeadLettersByStatus(ctx context.Context, status models.DeadLetterStatus, limit int) ([]*models.DeadLetter, error) {
	args := m.Called(ctx, status, limit)
	if items := args.Get(0); items != nil {
		return items.([]*models.DeadLetter), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDeadLetterStore) UpdateDeadLetterRetry(ctx context.Context, id int64, retryCount int, nextRetryAt time.Time, status models.DeadLetterStatus, errMessage string) error {
	return m.Called(ctx, id, retryCount, nextRetryAt, status, errMessage).Error(0)
}

func (m *mockDeadLetterStore) SetDeadLetterTerminal(ctx context.Context, id int64, status models.DeadLetterStatus, note string) error {
	return m.Called(ctx, id, status, note).Error(0)
}
