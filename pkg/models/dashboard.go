package models

import "time"

// Metrics is the dashboard headline summary.
type Metrics struct {
	TotalTestCases   int         `json:"total_test_cases"`
	TotalExecutions  int         `json:"total_executions"`
	StatusBreakdown  StatusCount `json:"status_breakdown"`
	SuccessRate      float64     `json:"success_rate"`
	PromptsGenerated int         `json:"prompts_generated"`
	Last24Hours      int         `json:"executions_last_24h"`
	MostExecuted     *CaseCount  `json:"most_executed_test,omitempty"`
}

type StatusCount struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
	Error  int `json:"error"`
}

type CaseCount struct {
	TestCaseID int64  `json:"test_case_id"`
	Name       string `json:"name"`
	Executions int    `json:"executions"`
}

// RecentExecution is a result row joined with its case name.
type RecentExecution struct {
	ID              int64     `json:"id"`
	TestCaseID      int64     `json:"test_case_id"`
	TestCaseName    string    `json:"test_case_name"`
	Status          string    `json:"status"`
	ExecutionTime   string    `json:"execution_time"`
	ExecutedByAgent bool      `json:"executed_by_agent"`
	ScreenshotPath  *string   `json:"screenshot_path"`
	LogsPreview     string    `json:"logs_preview"`
	CreatedAt       time.Time `json:"created_at"`
}

// TimelinePoint is one day of execution counts.
type TimelinePoint struct {
	Date string `json:"date"` // YYYY-MM-DD, UTC
	StatusCount
	Total int `json:"total"`
}

// TestStat summarises executions of a single case.
type TestStat struct {
	TestCaseID    int64      `json:"test_case_id"`
	Name          string     `json:"name"`
	Executions    int        `json:"executions"`
	StatusCount
	SuccessRate   float64    `json:"success_rate"`
	LastExecution *time.Time `json:"last_execution"`
	LastStatus    string     `json:"last_status,omitempty"`
}

// ExecutionDetails is a result together with the case it belongs to.
type ExecutionDetails struct {
	Result         TestResult `json:"result"`
	TestCaseName   string     `json:"test_case_name"`
	URL            string     `json:"url"`
	ExpectedResult string     `json:"expected_result"`
	Prompt         *Prompt    `json:"prompt,omitempty"` // Latest prompt of the case
}

// PromptHistoryEntry is a prompt row joined with its case name.
type PromptHistoryEntry struct {
	Prompt
	TestCaseName string `json:"test_case_name"`
	PromptLength int    `json:"prompt_length"`
	HasCode      bool   `json:"has_code"`
	CodeLength   int    `json:"code_length"`
}
