package models

import "time"

// TestCase is a manually authored (or imported) test scenario.
type TestCase struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Steps          string    `json:"steps"` // Free text, sometimes a JSON object of input parameters
	ExpectedResult string    `json:"expected_result"`
	URL            string    `json:"url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CreateTestCaseRequest is the payload accepted when creating a case by hand.
type CreateTestCaseRequest struct {
	Name           string `json:"name" validate:"required,max=255"`
	Description    string `json:"description"`
	Steps          string `json:"steps" validate:"required"`
	ExpectedResult string `json:"expected_result" validate:"required"`
	URL            string `json:"url" validate:"omitempty,url"`
}

// Prompt is the rendered instruction sent to the AI service for one attempt.
type Prompt struct {
	ID            int64     `json:"id"`
	TestCaseID    int64     `json:"test_case_id"`
	PromptText    string    `json:"prompt_text"`
	GeneratedCode *string   `json:"generated_code"` // nil until the AI task completes with output
	CreatedAt     time.Time `json:"created_at"`
}

// TestResult is the single terminal record of an execution attempt.
type TestResult struct {
	ID              int64     `json:"id"`
	TestCaseID      int64     `json:"test_case_id"`
	Status          string    `json:"status"` // passed, failed, error
	Logs            string    `json:"logs"`
	ScreenshotPath  *string   `json:"screenshot_path"`
	ExecutionTime   string    `json:"execution_time"` // e.g. "12.34s"
	ExecutedByAgent bool      `json:"executed_by_agent"`
	CreatedAt       time.Time `json:"created_at"`
}

// Constants for result status
const (
	StatusPassed = "passed"
	StatusFailed = "failed"
	StatusError  = "error" // Pipeline never got a verdict from the executor
)

// ExecutionResponse is what a caller receives after triggering an execution.
type ExecutionResponse struct {
	CaseID  int64  `json:"case_id"`
	Code    string `json:"code"`
	Output  string `json:"output"`
	Success bool   `json:"success"`
	Logs    string `json:"logs"`
}

// ExecutionJob is the structure published to RabbitMQ for async executions.
type ExecutionJob struct {
	ID         string    `json:"job_id"`
	CaseID     int64     `json:"case_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
