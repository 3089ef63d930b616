// Package ai is a client for the remote code-generation task service.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/husmancristian/qafastweb/pkg/extract"
)

const (
	// DefaultTimeout bounds every individual call to the service.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default request rate (requests per second).
	DefaultRateLimit = 5

	DefaultAgentProfile = "manus-1.5"

	apiKeyHeader = "API_KEY"
	maxErrorBody = 4 << 10
)

// Client talks to the task API.
type Client struct {
	baseURL      string
	apiKey       string
	agentProfile string
	httpClient   *http.Client
	limiter      *rate.Limiter
	logger       *slog.Logger
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithAgentProfile sets the agent profile sent with each task.
func WithAgentProfile(profile string) ClientOption {
	return func(c *Client) {
		if profile != "" {
			c.agentProfile = profile
		}
	}
}

// NewClient creates a client for the service rooted at baseURL.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		agentProfile: DefaultAgentProfile,
		httpClient:   &http.Client{Timeout: DefaultTimeout},
		limiter:      rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "ai_client"))
	return c
}

// Submit creates a generation task for prompt.
func (c *Client) Submit(ctx context.Context, prompt string) (*Task, error) {
	reqBody := submitRequest{
		Prompt:              prompt,
		AgentProfile:        c.agentProfile,
		TaskMode:            "agent",
		HideInTaskList:      false,
		CreateShareableLink: true,
	}

	var task Task
	if err := c.do(ctx, http.MethodPost, "/tasks", reqBody, &task); err != nil {
		return nil, err
	}
	if task.ID == "" {
		return nil, &AIServiceError{Endpoint: "/tasks", Message: "response did not include a task_id"}
	}

	c.logger.Info("Task submitted", slog.String("task_id", task.ID), slog.String("share_url", task.ShareURL))
	return &task, nil
}

// Poll fetches the task state. It never returns an error: a failure to
// query the service is reported as StatusError with Err set.
func (c *Client) Poll(ctx context.Context, taskID string) TaskStatus {
	path := "/tasks/" + url.PathEscape(taskID)

	var resp taskResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		c.logger.Warn("Failed to query task status", slog.String("task_id", taskID), slog.String("error", err.Error()))
		return TaskStatus{
			ID:     taskID,
			Status: StatusError,
			Error:  err.Error(),
			Err:    &TransientStatus{TaskID: taskID, Err: err},
		}
	}

	st := TaskStatus{
		ID:          taskID,
		Status:      resp.Status,
		Error:       rawText(resp.Error),
		Output:      resp.Output,
		CreditUsage: resp.CreditUsage,
		CreatedAt:   resp.CreatedAt,
		UpdatedAt:   resp.UpdatedAt,
	}
	if st.Status == StatusCompleted {
		st.CodeText = c.collectOutput(ctx, resp.Output)
	}
	c.logger.Debug("Task status", slog.String("task_id", taskID), slog.String("status", st.Status))
	return st
}

// collectOutput joins assistant text, unless a generated code file is
// referenced and can be fetched, in which case the file wins.
func (c *Client) collectOutput(ctx context.Context, output []OutputMessage) string {
	var parts []string
	var fileURL string

	for _, msg := range output {
		if msg.Role != "assistant" {
			continue
		}
		for _, item := range msg.Content {
			switch item.Type {
			case "output_text":
				if strings.TrimSpace(item.Text) != "" {
					parts = append(parts, item.Text)
				}
			case "output_file":
				if strings.HasSuffix(item.FileName, ".py") && item.FileURL != "" {
					fileURL = item.FileURL
				}
			}
		}
	}

	text := strings.Join(parts, "\n")

	if fileURL != "" {
		code, err := c.FetchFile(ctx, fileURL)
		switch {
		case err != nil:
			c.logger.Warn("Failed to download generated file", slog.String("url", fileURL), slog.String("error", err.Error()))
		case !extract.Trusted(code) && strings.TrimSpace(text) != "":
			c.logger.Warn("Generated file does not look like automation code, using inline text", slog.String("url", fileURL))
		default:
			return code
		}
	}

	return text
}

// FetchFile downloads a generated file and strips its banner lines.
func (c *Client) FetchFile(ctx context.Context, fileURL string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &AIServiceError{StatusCode: resp.StatusCode, Endpoint: fileURL, Message: string(body)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return extract.CleanDownloaded(string(data)), nil
}

// RegisterWebhook asks the service to call url when tasks change state.
func (c *Client) RegisterWebhook(ctx context.Context, webhookURL string) (*Webhook, error) {
	var wh Webhook
	body := map[string]any{"webhook": map[string]string{"url": webhookURL}}
	if err := c.do(ctx, http.MethodPost, "/webhooks", body, &wh); err != nil {
		return nil, err
	}
	return &wh, nil
}

// do performs a JSON request against the API.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &AIServiceError{Endpoint: path, Message: "rate limit wait", Err: err}
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &AIServiceError{Endpoint: path, Message: "failed to create request", Err: err}
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("AI service request", slog.String("method", method), slog.String("url", c.baseURL+path))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &AIServiceError{Endpoint: path, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &AIServiceError{StatusCode: resp.StatusCode, Endpoint: path, Message: strings.TrimSpace(string(msg))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &AIServiceError{StatusCode: resp.StatusCode, Endpoint: path, Message: "failed to decode response", Err: err}
	}
	return nil
}
