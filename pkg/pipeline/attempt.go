package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/husmancristian/qafastweb/pkg/models"
)

// State is a stage of one execution attempt.
type State string

const (
	StateStarted       State = "STARTED"
	StatePromptBuilt   State = "PROMPT_BUILT"
	StateAISubmitted   State = "AI_SUBMITTED"
	StateAIPolling     State = "AI_POLLING"
	StateAIDone        State = "AI_DONE"
	StateCodeExtracted State = "CODE_EXTRACTED"
	StateDispatched    State = "DISPATCHED"
	StateRecorded      State = "RECORDED"
)

var (
	// ErrCaseNotFound is returned when the requested test case does not exist.
	ErrCaseNotFound = errors.New("test case not found")
	// ErrInternal is returned when an attempt ended on an unexpected failure.
	// A TestResult with status error has been recorded when possible.
	ErrInternal = errors.New("internal pipeline error")
)

// ExtractionFailure describes an AI response with no usable code in it.
type ExtractionFailure struct {
	TaskID     string
	CodeLength int    // Length of whatever the extractor returned
	Preview    string // Head of the raw response
}

func (e *ExtractionFailure) Error() string {
	return fmt.Sprintf("no executable code extracted from task %s (%d chars usable). Response: %s", e.TaskID, e.CodeLength, e.Preview)
}

// attempt carries the state of one run through the pipeline.
type attempt struct {
	tc       *models.TestCase
	prompt   *models.Prompt
	taskID   string
	shareURL string
	state    State
	start    time.Time
	result   *models.TestResult // Set once recorded
	logger   *slog.Logger
}

func (a *attempt) enter(s State) {
	a.state = s
	a.logger.Debug("Pipeline state changed", slog.String("state", string(s)))
}

func (a *attempt) recorded() bool { return a.result != nil }
