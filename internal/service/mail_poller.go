package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mailroom/internal/constants"
	"mailroom/internal/metrics"
	"mailroom/internal/models"
	"mailroom/pkg/mailapi/types"

	"github.com/sirupsen/logrus"
)

// MessageLister pages through recent mailbox messages.
type MessageLister interface {
	ListMessages(ctx context.Context, receivedAfter time.Time) ([]types.ProviderMessage, error)
}

// MailPoller periodically sweeps the mailbox for messages received in
// the lookback window and feeds them through the coordinator. It exists
// to catch webhook deliveries the provider dropped; dedup makes the
// overlap with push deliveries harmless.
type MailPoller struct {
	client      MessageLister
	coordinator *IngestionCoordinator
	config      models.IngestConfig
	retryConfig models.RetryConfig
	logger      *logrus.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
	mu          sync.RWMutex
}

func NewMailPoller(client MessageLister, coordinator *IngestionCoordinator, ingestConfig models.IngestConfig, retryConfig models.RetryConfig, logger *logrus.Logger) *MailPoller {
	return &MailPoller{
		client:      client,
		coordinator: coordinator,
		config:      ingestConfig,
		retryConfig: retryConfig,
		logger:      logger,
	}
}

// Start begins the background polling loop.
func (p *MailPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("mail poller is already running")
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	p.wg.Add(1)
	go p.pollLoop()

	p.logger.WithFields(logrus.Fields{
		"intervalSec":     p.config.PollIntervalSec,
		"lookbackMinutes": p.config.LookbackMinutes,
	}).Info("Mail poller started")

	return nil
}

// Stop gracefully stops the polling loop.
func (p *MailPoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	p.cancel()
	p.wg.Wait()
	p.running = false
	p.logger.Info("Mail poller stopped")
}

// IsRunning reports whether the poll loop is active.
func (p *MailPoller) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *MailPoller) pollLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(time.Duration(p.config.PollIntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollWithRetry()
		}
	}
}

// pollWithRetry runs one sweep, retrying the provider list call with
// exponential backoff. Ingesting each message has its own failure
// handling; only the list call is retried here.
func (p *MailPoller) pollWithRetry() {
	ctx, cancel := context.WithTimeout(p.ctx, time.Duration(constants.DefaultSweepTimeoutSec)*time.Second)
	defer cancel()

	backoff := time.Duration(p.retryConfig.InitialBackoffMs) * time.Millisecond
	maxBackoff := time.Duration(p.retryConfig.MaxBackoffMs) * time.Millisecond
	since := time.Now().Add(-time.Duration(p.config.LookbackMinutes) * time.Minute)

	for attempt := 0; attempt < p.retryConfig.MaxAttempts; attempt++ {
		msgs, err := p.client.ListMessages(ctx, since)
		if err == nil {
			p.ingestAll(ctx, msgs)
			return
		}

		p.logger.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"error":   err,
			"backoff": backoff,
		}).Warn("Mailbox poll failed, retrying with backoff")

		if attempt < p.retryConfig.MaxAttempts-1 {
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(backoff):
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
		}
	}

	p.logger.Error("Mailbox poll failed after all retry attempts")
}

func (p *MailPoller) ingestAll(ctx context.Context, msgs []types.ProviderMessage) {
	if len(msgs) == 0 {
		return
	}

	batch := make([]models.ExternalMessage, 0, len(msgs))
	for i := range msgs {
		batch = append(batch, *FromProviderMessage(&msgs[i]))
	}

	ingested := p.coordinator.IngestBatch(ctx, batch)
	metrics.AddToCounter("poller_messages_ingested_total", float64(ingested), nil,
		"Messages the polling sweep ingested")

	p.logger.WithFields(logrus.Fields{
		"listed":   len(msgs),
		"ingested": ingested,
	}).Debug("Completed mailbox poll")
}
