package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultAdminTimeout = 10 * time.Second

// AdminError is returned when the management API answers with a non-2xx status
type AdminError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *AdminError) Error() string {
	return fmt.Sprintf("management api %s %s: status %d: %s", e.Method, e.Endpoint, e.StatusCode, e.Body)
}

func newAdminClient(config *Config) *resty.Client {
	timeout := config.AdminTimeout
	if timeout <= 0 {
		timeout = defaultAdminTimeout
	}

	baseURL := config.ManagementURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://%s:15672", config.Host)
	}

	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetBasicAuth(config.User, config.Password).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
}

// GetFromAdminAPI decodes the JSON answer of a GET on endpoint into result
func (c *Client) GetFromAdminAPI(ctx context.Context, endpoint string, result any) error {
	resp, err := c.admin.R().
		SetContext(ctx).
		SetResult(result).
		Get(endpoint)
	if err != nil {
		return fmt.Errorf("management api GET %s: %w", endpoint, err)
	}
	return checkResponse(resp, endpoint)
}

// PutToAdminAPI sends body as JSON with a PUT on endpoint
func (c *Client) PutToAdminAPI(ctx context.Context, endpoint string, body any) error {
	resp, err := c.admin.R().
		SetContext(ctx).
		SetBody(body).
		Put(endpoint)
	if err != nil {
		return fmt.Errorf("management api PUT %s: %w", endpoint, err)
	}

	c.logger.Debug("Management API updated",
		slog.String("endpoint", endpoint),
		slog.Int("status", resp.StatusCode()),
	)

	return checkResponse(resp, endpoint)
}

func checkResponse(resp *resty.Response, endpoint string) error {
	if resp.IsSuccess() {
		return nil
	}
	return &AdminError{
		Method:     resp.Request.Method,
		Endpoint:   endpoint,
		StatusCode: resp.StatusCode(),
		Body:       strings.TrimSpace(resp.String()),
	}
}

// EscapeSegment escapes a vhost or resource name for use in a management API path.
// The default vhost "/" becomes "%2F".
func EscapeSegment(name string) string {
	return url.PathEscape(name)
}
