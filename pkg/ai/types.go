package ai

import (
	"encoding/json"
	"fmt"
)

// Task states reported by the service, plus StatusError for a failed query.
const (
	StatusPending   = "pending"
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusError     = "error"
)

type submitRequest struct {
	Prompt              string `json:"prompt"`
	AgentProfile        string `json:"agentProfile"`
	TaskMode            string `json:"taskMode"`
	HideInTaskList      bool   `json:"hideInTaskList"`
	CreateShareableLink bool   `json:"createShareableLink"`
}

// Task is the service's reply to a submission.
type Task struct {
	ID       string `json:"task_id"`
	Title    string `json:"task_title"`
	URL      string `json:"task_url"`
	ShareURL string `json:"share_url"`
}

// OutputMessage is one role-tagged entry of a task's output.
type OutputMessage struct {
	Role    string        `json:"role"`
	Content []ContentItem `json:"content"`
}

// ContentItem is either inline text (output_text) or a file reference (output_file).
type ContentItem struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	FileName string `json:"fileName,omitempty"`
	FileURL  string `json:"fileUrl,omitempty"`
}

type taskResponse struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	Error       json.RawMessage `json:"error"`
	Output      []OutputMessage `json:"output"`
	CreditUsage json.RawMessage `json:"credit_usage"`
	CreatedAt   json.RawMessage `json:"created_at"`
	UpdatedAt   json.RawMessage `json:"updated_at"`
}

// rawText renders a JSON value as plain text: strings unquoted, null empty.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// TaskStatus is the result of one poll.
type TaskStatus struct {
	ID          string
	Status      string
	Error       string
	Output      []OutputMessage
	CodeText    string // Raw generated output, set when Status is completed
	CreditUsage json.RawMessage
	CreatedAt   json.RawMessage
	UpdatedAt   json.RawMessage
	Err         error // *TransientStatus when the query itself failed
}

// Done reports whether polling should stop.
func (s TaskStatus) Done() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// Webhook is a registered callback.
type Webhook struct {
	ID  string `json:"webhook_id"`
	URL string `json:"url,omitempty"`
}

// AIServiceError is returned when a call to the service cannot be completed.
type AIServiceError struct {
	StatusCode int // 0 when no response was received
	Endpoint   string
	Message    string
	Err        error
}

func (e *AIServiceError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("ai service error: %s (status %d, endpoint: %s)", msg, e.StatusCode, e.Endpoint)
	}
	return fmt.Sprintf("ai service error: %s (endpoint: %s)", msg, e.Endpoint)
}

func (e *AIServiceError) Unwrap() error { return e.Err }

// TransientStatus marks a poll whose status query failed. Polling continues.
type TransientStatus struct {
	TaskID string
	Err    error
}

func (e *TransientStatus) Error() string {
	return fmt.Sprintf("status query for task %s failed: %v", e.TaskID, e.Err)
}

func (e *TransientStatus) Unwrap() error { return e.Err }
