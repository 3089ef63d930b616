// Package executor dispatches generated scripts to the remote browser
// automation agent.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/husmancristian/qafastweb/pkg/extract"
)

// DefaultTimeout bounds a single execution on the remote agent.
const DefaultTimeout = 600 * time.Second

const (
	defaultBrowser = "chrome"
	defaultOutput  = "Ejecución completada"
	previewLen     = 500
	maxErrorBody   = 4 << 10
)

// FailureKind classifies why a dispatch did not succeed.
type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureNoCode      FailureKind = "no_code"
	FailureUnavailable FailureKind = "service_unavailable"
	FailureTimeout     FailureKind = "timeout"
	FailureTransport   FailureKind = "transport"
	FailureRemote      FailureKind = "remote" // Agent answered but did not report success
)

// Result is the normalized outcome of a dispatch.
type Result struct {
	Success        bool
	Output         string
	Logs           string
	ScreenshotPath *string
	Kind           FailureKind
	Dispatched     bool // false when no request reached the agent
}

type executeRequest struct {
	Script   string `json:"script"`
	TestName string `json:"test_name"`
	Browser  string `json:"browser"`
	Headless bool   `json:"headless"`
}

type executeResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type executeData struct {
	Message    string  `json:"message"`
	Screenshot *string `json:"screenshot"`
}

// Client talks to the execution agent.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
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

// NewClient creates a client posting to executorURL.
func NewClient(executorURL string, opts ...ClientOption) *Client {
	c := &Client{
		url:        executorURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "executor_client"))
	return c
}

// Dispatch runs code on the agent. It never returns an error; every failure
// is described by the Result.
func (c *Client) Dispatch(ctx context.Context, code, testName string, headless bool) Result {
	clean := extract.Extract(code)
	if clean == "" {
		c.logger.Warn("No executable code to dispatch", slog.String("test_name", testName), slog.Int("raw_length", len(code)))
		return Result{
			Output: "No se pudo extraer código Python ejecutable de la respuesta",
			Logs:   fmt.Sprintf("Respuesta original (%d chars):\n%s...", len(code), truncate(code, previewLen)),
			Kind:   FailureNoCode,
		}
	}

	payload, err := json.Marshal(executeRequest{Script: clean, TestName: testName, Browser: defaultBrowser, Headless: headless})
	if err != nil {
		return failure(FailureTransport, "Error al preparar la ejecución", err.Error())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return failure(FailureTransport, "Error al preparar la ejecución", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Info("Dispatching script", slog.String("test_name", testName), slog.Int("code_length", len(clean)), slog.Bool("headless", headless))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		res := c.transportFailure(err)
		c.logger.Error("Dispatch failed", slog.String("test_name", testName), slog.String("kind", string(res.Kind)), slog.String("error", err.Error()))
		return res
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		res := failure(FailureTransport, fmt.Sprintf("Error en la ejecución: agente respondió %d", resp.StatusCode), string(body))
		res.Dispatched = true
		return res
	}

	var er executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		res := failure(FailureTransport, "Error en la ejecución: respuesta ilegible", err.Error())
		res.Dispatched = true
		return res
	}

	var data executeData
	if len(er.Data) > 0 {
		// Unknown data shapes still land in the logs verbatim.
		_ = json.Unmarshal(er.Data, &data)
	}

	res := Result{
		Success:        er.Status == "success",
		Output:         data.Message,
		Logs:           string(er.Data),
		ScreenshotPath: data.Screenshot,
		Dispatched:     true,
	}
	if res.Output == "" {
		res.Output = defaultOutput
	}
	if res.Logs == "" {
		res.Logs = "{}"
	}
	if !res.Success {
		res.Kind = FailureRemote
	}

	c.logger.Info("Dispatch finished", slog.String("test_name", testName), slog.Bool("success", res.Success))
	return res
}

func (c *Client) transportFailure(err error) Result {
	var netErr net.Error
	var opErr *net.OpError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return failure(FailureTimeout, "Timeout: la ejecución tardó demasiado", err.Error())
	case errors.As(err, &opErr) && opErr.Op == "dial":
		return failure(FailureUnavailable, "Agente Executor no disponible", err.Error())
	default:
		return failure(FailureTransport, fmt.Sprintf("Error en la ejecución: %v", err), err.Error())
	}
}

func failure(kind FailureKind, output, logs string) Result {
	return Result{Output: output, Logs: logs, Kind: kind}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
