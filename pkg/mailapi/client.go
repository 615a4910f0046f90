package mailapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"mailroom/internal/errors"
	"mailroom/pkg/mailapi/types"

	"github.com/sirupsen/logrus"
)

const maxListPages = 20

// MailClient is the HTTP implementation of types.Client.
type MailClient struct {
	baseURL string
	apiKey  string
	mailbox string
	client  *http.Client
	logger  *logrus.Logger
}

func NewClient(cfg types.ClientConfig) types.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MailClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		mailbox: cfg.Mailbox,
		client:  &http.Client{Timeout: timeout},
		logger:  logrus.New(),
	}
}

// NewClientWithLogger creates a client that logs through the shared
// application logger.
func NewClientWithLogger(cfg types.ClientConfig, logger *logrus.Logger) types.Client {
	c := NewClient(cfg).(*MailClient)
	c.logger = logger
	return c
}

func (c *MailClient) GetMessage(ctx context.Context, messageID string) (*types.ProviderMessage, error) {
	if messageID == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "message ID is required")
	}

	endpoint := fmt.Sprintf("/api/v1/messages/%s", url.PathEscape(messageID))

	var msg types.ProviderMessage
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *MailClient) ListMessages(ctx context.Context, since time.Time) ([]types.ProviderMessage, error) {
	var all []types.ProviderMessage
	pageToken := ""

	for page := 0; page < maxListPages; page++ {
		endpoint := "/api/v1/messages?receivedAfter=" + strconv.FormatInt(since.UnixMilli(), 10)
		if c.mailbox != "" {
			endpoint += "&mailbox=" + url.QueryEscape(c.mailbox)
		}
		if pageToken != "" {
			endpoint += "&pageToken=" + url.QueryEscape(pageToken)
		}

		var resp types.ListMessagesResponse
		if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
			return nil, err
		}

		all = append(all, resp.Messages...)
		if resp.NextPageToken == "" {
			return all, nil
		}
		pageToken = resp.NextPageToken
	}

	c.logger.WithField("pages", maxListPages).Warn("Message listing truncated at page limit")
	return all, nil
}

func (c *MailClient) SendEmail(ctx context.Context, to, subject, htmlBody string) (*types.SendEmailResponse, error) {
	if to == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "recipient is required")
	}

	payload := types.SendEmailRequest{
		To:       to,
		Subject:  subject,
		BodyHTML: htmlBody,
		Mailbox:  c.mailbox,
	}

	var resp types.SendEmailResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/send", payload, &resp); err != nil {
		return nil, err
	}

	if resp.Status != "" && resp.Status != "sent" && resp.Status != "queued" {
		return &resp, errors.NewSendError(to, http.StatusOK,
			fmt.Errorf("provider rejected send: %s", resp.Error))
	}
	return &resp, nil
}

func (c *MailClient) doJSON(ctx context.Context, method, endpoint string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Network errors are transient by assumption; the DLQ sweeper
		// decides when to give up.
		return errors.WrapRetryable(err, errors.ErrCodeMailProviderAPI, "request failed").
			WithContext("endpoint", endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.NewProviderError(endpoint, resp.StatusCode,
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(data)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
