// Package pipeline runs a test case end to end: prompt, AI generation,
// code extraction and remote execution. Every attempt ends in exactly one
// TestResult.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/husmancristian/qafastweb/pkg/ai"
	"github.com/husmancristian/qafastweb/pkg/executor"
	"github.com/husmancristian/qafastweb/pkg/extract"
	"github.com/husmancristian/qafastweb/pkg/models"
	"github.com/husmancristian/qafastweb/pkg/storage"

	"github.com/google/uuid"
)

const (
	DefaultPollInterval = 10 * time.Second
	DefaultMaxAttempts  = 60

	minCodeLength   = 50
	previewLength   = 500
	responseCodeMax = 2000
	responseLogMax  = 1000
	testNamePrefix  = 20
)

// PromptBuilder renders the prompt for a test case.
type PromptBuilder interface {
	Build(tc models.TestCase) string
}

// AIClient is the part of the AI task service the pipeline drives.
type AIClient interface {
	Submit(ctx context.Context, prompt string) (*ai.Task, error)
	Poll(ctx context.Context, taskID string) ai.TaskStatus
}

// Dispatcher sends code to the execution agent.
type Dispatcher interface {
	Dispatch(ctx context.Context, code, testName string, headless bool) executor.Result
}

// Options tunes polling and dispatch. Zero values take the defaults.
type Options struct {
	PollInterval time.Duration
	MaxAttempts  int
	Headless     bool
}

// Pipeline orchestrates execution attempts. It is safe for concurrent use;
// attempts share nothing but the store.
type Pipeline struct {
	store      storage.Store
	builder    PromptBuilder
	ai         AIClient
	dispatcher Dispatcher
	opts       Options
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Pipeline.
func New(store storage.Store, builder PromptBuilder, aiClient AIClient, dispatcher Dispatcher, opts Options, logger *slog.Logger) *Pipeline {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	return &Pipeline{
		store:      store,
		builder:    builder,
		ai:         aiClient,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger.With(slog.String("component", "pipeline")),
		now:        time.Now,
	}
}

// Execute runs one attempt for the given case. Failures of the AI service,
// extraction or dispatch are reported in the response (Success false) and
// in the recorded TestResult, not as errors. The returned error is
// ErrCaseNotFound or wraps ErrInternal.
//
// The attempt is detached from ctx cancellation: once started it runs to a
// terminal outcome so that its TestResult is always written.
func (p *Pipeline) Execute(ctx context.Context, caseID int64) (resp *models.ExecutionResponse, err error) {
	ctx = context.WithoutCancel(ctx)

	tc, err := p.store.GetCase(ctx, caseID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrCaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load test case %d: %v", ErrInternal, caseID, err)
	}

	a := &attempt{
		tc:     tc,
		state:  StateStarted,
		start:  p.now(),
		logger: p.logger.With(slog.Int64("test_case_id", caseID)),
	}
	a.logger.Info("Starting execution", slog.String("name", tc.Name))

	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		trace := fmt.Sprintf("panic: %v\n\n%s", rec, debug.Stack())
		a.logger.Error("Pipeline panicked", slog.String("state", string(a.state)), slog.Any("panic", rec))
		if !a.recorded() {
			_ = p.record(ctx, a, models.StatusError, trace, nil, false, p.elapsed(a))
		}
		resp, err = nil, ErrInternal
	}()

	resp, err = p.run(ctx, a)
	if err != nil {
		a.logger.Error("Execution aborted", slog.String("state", string(a.state)), slog.String("error", err.Error()))
		if !a.recorded() {
			trace := fmt.Sprintf("%s\n\nstate: %s", err.Error(), a.state)
			_ = p.record(ctx, a, models.StatusError, trace, nil, false, p.elapsed(a))
		}
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return resp, nil
}

func (p *Pipeline) run(ctx context.Context, a *attempt) (*models.ExecutionResponse, error) {
	text := p.builder.Build(*a.tc)
	a.prompt = &models.Prompt{TestCaseID: a.tc.ID, PromptText: text}
	if err := p.store.CreatePrompt(ctx, a.prompt); err != nil {
		return nil, fmt.Errorf("failed to save prompt: %w", err)
	}
	a.enter(StatePromptBuilt)

	task, err := p.ai.Submit(ctx, text)
	if err != nil {
		if err := p.record(ctx, a, models.StatusError, "Error Manus: "+err.Error(), nil, false, "0s"); err != nil {
			return nil, err
		}
		return &models.ExecutionResponse{
			CaseID:  a.tc.ID,
			Output:  "❌ Error al comunicarse con Manus IA:\n" + err.Error(),
			Success: false,
			Logs:    fmt.Sprintf("Error: %s\n\nVerifica:\n1. MANUS_API_KEY\n2. MANUS_API_URL\n3. Conexión con el servicio", err.Error()),
		}, nil
	}
	a.taskID = task.ID
	a.shareURL = task.ShareURL
	a.logger = a.logger.With(slog.String("task_id", task.ID))
	a.enter(StateAISubmitted)

	a.enter(StateAIPolling)
	status, attempts := p.poll(ctx, a)

	if status.Status == ai.StatusFailed {
		msg := status.Error
		if msg == "" {
			msg = "error desconocido"
		}
		logs := fmt.Sprintf("Manus falló: %s\nTask ID: %s\nattempts: %d/%d", msg, a.taskID, attempts, p.opts.MaxAttempts)
		if err := p.record(ctx, a, models.StatusError, logs, nil, false, p.elapsed(a)); err != nil {
			return nil, err
		}
		return &models.ExecutionResponse{
			CaseID:  a.tc.ID,
			Output:  "❌ La tarea de Manus falló: " + msg,
			Success: false,
			Logs:    logs,
		}, nil
	}

	if status.Status != ai.StatusCompleted || strings.TrimSpace(status.CodeText) == "" {
		completed := status.Status == ai.StatusCompleted
		logs := fmt.Sprintf("Timeout o sin código. Task ID: %s, attempts: %d/%d", a.taskID, attempts, p.opts.MaxAttempts)
		if err := p.record(ctx, a, models.StatusError, logs, nil, false, p.elapsed(a)); err != nil {
			return nil, err
		}
		state := "aún se está procesando"
		if completed {
			state = "no devolvió código ejecutable"
		}
		return &models.ExecutionResponse{
			CaseID:  a.tc.ID,
			Code:    "# Tarea en progreso o sin código\n# Task ID: " + a.taskID,
			Output:  fmt.Sprintf("⏳ La tarea %s.\n\n🔗 Ver: %s", state, a.shareURL),
			Success: false,
			Logs:    fmt.Sprintf("Task ID: %s\nattempts: %d/%d", a.taskID, attempts, p.opts.MaxAttempts),
		}, nil
	}

	raw := status.CodeText
	if err := p.store.UpdateGeneratedCode(ctx, a.prompt.ID, raw); err != nil {
		return nil, fmt.Errorf("failed to save generated code: %w", err)
	}
	a.enter(StateAIDone)
	p.archive(ctx, a, "ai-response.md", raw, "text/markdown")

	code := extract.Extract(raw)
	if utf8.RuneCountInString(code) < minCodeLength {
		failure := &ExtractionFailure{TaskID: a.taskID, CodeLength: utf8.RuneCountInString(code), Preview: clip(raw, previewLength)}
		a.logger.Warn("No usable code in AI response", slog.Int("raw_length", len(raw)), slog.Int("code_length", failure.CodeLength))
		if err := p.record(ctx, a, models.StatusError, failure.Error(), nil, false, p.elapsed(a)); err != nil {
			return nil, err
		}
		return &models.ExecutionResponse{
			CaseID:  a.tc.ID,
			Code:    clip(raw, responseCodeMax),
			Output:  "❌ No se pudo extraer código ejecutable.\n\n🔗 Ver respuesta completa: " + a.shareURL,
			Success: false,
			Logs:    fmt.Sprintf("Respuesta de Manus:\n%s...", clip(raw, responseLogMax)),
		}, nil
	}
	a.enter(StateCodeExtracted)
	p.archive(ctx, a, "script.py", code, "text/x-python")

	res := p.dispatcher.Dispatch(ctx, code, testName(a.tc), p.opts.Headless)
	a.enter(StateDispatched)

	// failed is reserved for runs the agent actually took; a dispatch that
	// never reached it is an error.
	resultStatus := models.StatusPassed
	switch {
	case res.Success:
	case res.Dispatched:
		resultStatus = models.StatusFailed
	default:
		resultStatus = models.StatusError
	}

	execTime := p.elapsed(a)
	if err := p.record(ctx, a, resultStatus, res.Logs, res.ScreenshotPath, true, execTime); err != nil {
		return nil, err
	}

	responseCode := code
	if utf8.RuneCountInString(code) > responseCodeMax {
		responseCode = clip(code, responseCodeMax) + "..."
	}
	return &models.ExecutionResponse{
		CaseID:  a.tc.ID,
		Code:    responseCode,
		Output:  res.Output,
		Success: res.Success,
		Logs:    fmt.Sprintf("🔗 Manus: %s\n⏱️ Tiempo: %s\n📊 Result ID: %d\n\n📊 Logs:\n%s", a.shareURL, execTime, a.result.ID, res.Logs),
	}, nil
}

// poll waits PollInterval before every query and stops on the first
// terminal status. It returns the last status seen and the number of
// queries made.
func (p *Pipeline) poll(ctx context.Context, a *attempt) (ai.TaskStatus, int) {
	var last ai.TaskStatus
	timer := time.NewTimer(p.opts.PollInterval)
	defer timer.Stop()

	for n := 1; n <= p.opts.MaxAttempts; n++ {
		<-timer.C
		last = p.ai.Poll(ctx, a.taskID)
		a.logger.Info("Polled AI task",
			slog.String("status", last.Status),
			slog.String("attempts", fmt.Sprintf("%d/%d", n, p.opts.MaxAttempts)),
		)
		if last.Done() {
			return last, n
		}
		timer.Reset(p.opts.PollInterval)
	}
	return last, p.opts.MaxAttempts
}

// record writes the attempt's TestResult. It must succeed at most once.
func (p *Pipeline) record(ctx context.Context, a *attempt, status, logs string, screenshot *string, byAgent bool, execTime string) error {
	r := &models.TestResult{
		TestCaseID:      a.tc.ID,
		Status:          status,
		Logs:            logs,
		ScreenshotPath:  screenshot,
		ExecutionTime:   execTime,
		ExecutedByAgent: byAgent,
	}
	if err := p.store.CreateResult(ctx, r); err != nil {
		a.logger.Error("Failed to record test result", slog.String("status", status), slog.String("error", err.Error()))
		return fmt.Errorf("failed to record result: %w", err)
	}
	a.result = r
	a.enter(StateRecorded)
	a.logger.Info("Recorded test result",
		slog.Int64("result_id", r.ID),
		slog.String("status", status),
		slog.Bool("executed_by_agent", byAgent),
		slog.String("execution_time", execTime),
	)
	return nil
}

// archive keeps a copy of an attempt artifact. Failures are logged only.
func (p *Pipeline) archive(ctx context.Context, a *attempt, name, content, contentType string) {
	object := fmt.Sprintf("cases/%d/%s/%s", a.tc.ID, uuid.NewString(), name)
	location, err := p.store.StoreArtifact(ctx, object, strings.NewReader(content), int64(len(content)), contentType)
	if err != nil {
		a.logger.Warn("Artifact not stored", slog.String("object", object), slog.String("error", err.Error()))
		return
	}
	a.logger.Info("Artifact stored", slog.String("location", location))
}

func (p *Pipeline) elapsed(a *attempt) string {
	return fmt.Sprintf("%.2fs", p.now().Sub(a.start).Seconds())
}

// testName derives the agent-side name: case_{id}_{first 20 chars of name}.
func testName(tc *models.TestCase) string {
	return fmt.Sprintf("case_%d_%s", tc.ID, strings.ReplaceAll(clip(tc.Name, testNamePrefix), " ", "_"))
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
