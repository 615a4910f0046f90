package service

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"mailroom/internal/models"
	"mailroom/pkg/mailapi/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type coordinatorFixture struct {
	coordinator *IngestionCoordinator
	dedupStore  *mockDedupStore
	filterStore *mockFilterStore
	linkStore   *mockLinkStore
	ingestStore *mockIngestStore
	sink        *mockDeadLetterSink
	fetcher     *mockFetcher
}

func newCoordinatorFixture() *coordinatorFixture {
	f := &coordinatorFixture{
		dedupStore:  &mockDedupStore{},
		filterStore: &mockFilterStore{},
		linkStore:   &mockLinkStore{},
		ingestStore: &mockIngestStore{},
		sink:        &mockDeadLetterSink{},
		fetcher:     &mockFetcher{},
	}
	logger := testLogger()
	f.coordinator = NewIngestionCoordinator(
		NewDedupEngine(f.dedupStore, 5*time.Second, logger),
		NewCategorizer(f.filterStore, logger),
		NewLinker(f.linkStore, 60*24*time.Hour, logger),
		f.ingestStore,
		f.sink,
		f.fetcher,
		logger,
	)
	return f
}

// expectNoDuplicate wires the dedup chain to miss on every strategy.
func (f *coordinatorFixture) expectNoDuplicate() {
	f.dedupStore.On("GetCommunicationByProviderMessageID", mock.Anything, mock.Anything).Return(nil, nil).Maybe()
	f.dedupStore.On("GetCommunicationByRFCMessageID", mock.Anything, mock.Anything).Return(nil, nil).Maybe()
	f.dedupStore.On("FindCommunicationByFingerprint", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil).Maybe()
}

func (f *coordinatorFixture) expectDefaultClassifyAndLink() {
	f.filterStore.On("GetSenderFilterCategory", mock.Anything, mock.Anything).Return(nil, nil).Maybe()
	f.linkStore.On("GetLinkedOrderIDByThreadID", mock.Anything, mock.Anything).Return(nil, nil).Maybe()
	f.linkStore.On("FindLinkableOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil).Maybe()
}

func TestIngestMessage_PersistsNewMessage(t *testing.T) {
	f := newCoordinatorFixture()
	ctx := context.Background()
	msg := testMessage()

	f.expectNoDuplicate()
	f.expectDefaultClassifyAndLink()
	f.ingestStore.On("SaveCommunication", ctx, mock.MatchedBy(func(c *models.Communication) bool {
		return c.Direction == models.DirectionInbound &&
			c.ProviderMessageID == msg.ProviderMessageID &&
			c.Category == models.CategoryPrimary &&
			c.TriageState == models.TriageUnassigned
	})).Return(int64(1), nil).Once()

	result, err := f.coordinator.IngestMessage(ctx, msg)
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.Equal(t, int64(1), result.CommunicationID)
	f.ingestStore.AssertExpectations(t)
}

func TestIngestMessage_DuplicateIsNoOp(t *testing.T) {
	f := newCoordinatorFixture()
	ctx := context.Background()
	msg := testMessage()

	f.dedupStore.On("GetCommunicationByProviderMessageID", ctx, msg.ProviderMessageID).
		Return(&models.Communication{ID: 42}, nil).Once()

	result, err := f.coordinator.IngestMessage(ctx, msg)
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Equal(t, StrategyProviderMessageID, result.Strategy)

	f.ingestStore.AssertNotCalled(t, "SaveCommunication", mock.Anything, mock.Anything)
}

func TestIngestMessage_MissingTimestampRejected(t *testing.T) {
	f := newCoordinatorFixture()

	msg := testMessage()
	msg.ReceivedAt = time.Time{}

	_, err := f.coordinator.IngestMessage(context.Background(), msg)
	require.Error(t, err)

	// Contract violations are surfaced, never dead-lettered.
	f.sink.AssertNotCalled(t, "Add", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestMessage_InsertRaceTranslatesToDuplicate(t *testing.T) {
	f := newCoordinatorFixture()
	ctx := context.Background()
	msg := testMessage()

	f.expectNoDuplicate()
	f.expectDefaultClassifyAndLink()
	f.ingestStore.On("SaveCommunication", ctx, mock.Anything).
		Return(int64(0), errUniqueConstraint).Once()

	result, err := f.coordinator.IngestMessage(ctx, msg)
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Equal(t, StrategyStorageConstraint, result.Strategy)
	f.sink.AssertNotCalled(t, "Add", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestMessage_PersistFailureCaptured(t *testing.T) {
	f := newCoordinatorFixture()
	ctx := context.Background()
	msg := testMessage()

	f.expectNoDuplicate()
	f.expectDefaultClassifyAndLink()
	f.ingestStore.On("SaveCommunication", ctx, mock.Anything).
		Return(int64(0), assert.AnError).Once()
	f.sink.On("Add", ctx, models.OperationEmailImport, msg.ProviderMessageID, assert.AnError, msg).Once()

	result, err := f.coordinator.IngestMessage(ctx, msg)
	require.NoError(t, err)
	assert.True(t, result.DeadLettered)
	f.sink.AssertExpectations(t)
}

func TestIngestBatch_IsolatesFailures(t *testing.T) {
	f := newCoordinatorFixture()
	ctx := context.Background()

	good := *testMessage()
	bad := *testMessage()
	bad.ProviderMessageID = "prov-bad"
	bad.ReceivedAt = time.Time{}
	alsoGood := *testMessage()
	alsoGood.ProviderMessageID = "prov-3"
	alsoGood.RFCMessageID = "<other@mail.example.com>"

	f.expectNoDuplicate()
	f.expectDefaultClassifyAndLink()
	f.ingestStore.On("SaveCommunication", ctx, mock.Anything).Return(int64(1), nil).Twice()

	ingested := f.coordinator.IngestBatch(ctx, []models.ExternalMessage{good, bad, alsoGood})
	assert.Equal(t, 2, ingested)
	f.ingestStore.AssertExpectations(t)
}

func TestHandlePushNotification_FetchesAndIngests(t *testing.T) {
	f := newCoordinatorFixture()
	ctx := context.Background()

	payload := &models.MailWebhookPayload{
		Event:     models.EventMessageReceived,
		Timestamp: time.Now().UnixMilli(),
	}
	payload.Payload.MessageID = "prov-1"

	f.fetcher.On("GetMessage", ctx, "prov-1").Return(&types.ProviderMessage{
		ID:         "prov-1",
		From:       "customer@example.com",
		Subject:    "Hello",
		ReceivedAt: time.Now().UnixMilli(),
	}, nil).Once()

	f.expectNoDuplicate()
	f.expectDefaultClassifyAndLink()
	f.ingestStore.On("SaveCommunication", ctx, mock.Anything).Return(int64(9), nil).Once()

	result, err := f.coordinator.HandlePushNotification(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, int64(9), result.CommunicationID)
	f.fetcher.AssertExpectations(t)
}

func TestHandlePushNotification_FetchFailureCaptured(t *testing.T) {
	f := newCoordinatorFixture()
	ctx := context.Background()

	payload := &models.MailWebhookPayload{Event: models.EventMessageReceived}
	payload.Payload.MessageID = "prov-gone"

	f.fetcher.On("GetMessage", ctx, "prov-gone").Return(nil, assert.AnError).Once()
	f.sink.On("Add", ctx, models.OperationEmailImport, "prov-gone", assert.AnError, mock.Anything).Once()

	result, err := f.coordinator.HandlePushNotification(ctx, payload)
	require.NoError(t, err)
	assert.True(t, result.DeadLettered)
	f.sink.AssertExpectations(t)
}

func TestBuildPreview(t *testing.T) {
	t.Run("prefers plain text", func(t *testing.T) {
		assert.Equal(t, "hello there", buildPreview("hello there", "<p>ignored</p>"))
	})

	t.Run("strips html", func(t *testing.T) {
		assert.Equal(t, "Order #5 shipped & tracked", buildPreview("", "<div><b>Order #5</b> shipped &amp; tracked</div>"))
	})

	t.Run("truncates", func(t *testing.T) {
		long := ""
		for i := 0; i < 50; i++ {
			long += "lorem ipsum "
		}
		preview := buildPreview(long, "")
		assert.LessOrEqual(t, len(preview), 160)
	})

	t.Run("truncates on a rune boundary", func(t *testing.T) {
		// 159 ASCII bytes followed by a multi-byte rune straddling the cut.
		long := strings.Repeat("a", 159) + "émotion"
		preview := buildPreview(long, "")
		assert.True(t, utf8.ValidString(preview))
		assert.LessOrEqual(t, len(preview), 160)
		assert.Equal(t, strings.Repeat("a", 159), preview)
	})
}
