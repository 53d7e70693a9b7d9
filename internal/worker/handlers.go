package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/rabbit-jobqueue/internal/domain"
	"github.com/cuongbtq/rabbit-jobqueue/internal/job"
	"github.com/go-resty/resty/v2"
)

// Built-in handler names
const (
	HandlerLog     = "log"
	HandlerWebhook = "webhook"
)

// Webhook job options
const (
	OptionURL    = "url"
	OptionMethod = "method"
)

// LogHandler writes the job to the log and succeeds
type LogHandler struct {
	logger *slog.Logger
}

// NewLogHandler creates a LogHandler
func NewLogHandler(logger *slog.Logger) *LogHandler {
	return &LogHandler{logger: logger}
}

// Handle logs j
func (h *LogHandler) Handle(ctx context.Context, j job.Job) error {
	h.logger.LogAttrs(ctx, slog.LevelInfo, "Job handled",
		slog.String("job_name", j.Name),
		slog.Int("retries", j.Retries()),
		slog.Any("state", j.State),
	)
	return nil
}

// WebhookHandler delivers the job value as JSON to the job's "url" option.
// Transport errors, 408, 429 and 5xx responses are retryable.
type WebhookHandler struct {
	client *resty.Client
}

// NewWebhookHandler creates a WebhookHandler with the given request timeout
func NewWebhookHandler(timeout time.Duration) *WebhookHandler {
	return &WebhookHandler{
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json").
			SetHeader("User-Agent", "rabbit-jobqueue-worker"),
	}
}

// Handle posts j to its webhook
func (h *WebhookHandler) Handle(ctx context.Context, j job.Job) error {
	url := j.Settings.Option(OptionURL)
	if url == "" {
		return domain.Configurationf("job %q has no %s option", j.Name, OptionURL)
	}

	method := j.Settings.Option(OptionMethod)
	if method == "" {
		method = http.MethodPost
	}

	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("X-Job-Name", j.Name).
		SetHeader("X-Job-Retries", fmt.Sprint(j.Retries())).
		SetBody(j.ToValue()).
		Execute(method, url)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return domain.NewRetryableError(fmt.Errorf("webhook request failed: %w", err))
	}

	status := resp.StatusCode()
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return domain.NewRetryableError(fmt.Errorf("webhook returned status %d", status))
	default:
		return fmt.Errorf("webhook rejected job with status %d: %s", status, resp.String())
	}
}
