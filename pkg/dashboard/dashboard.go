// Package dashboard aggregates execution history for reporting.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/husmancristian/qafastweb/pkg/models"
	"github.com/husmancristian/qafastweb/pkg/storage"
)

// Limits for list endpoints: the first is used when the caller passes
// zero or less, the second caps what the caller may ask for.
const (
	DefaultRecentLimit  = 10
	MaxRecentLimit      = 50
	DefaultTimelineDays = 7
	MaxTimelineDays     = 30
	DefaultPromptLimit  = 20
	MaxPromptLimit      = 100

	logsPreviewLen = 200
	unknownCase    = "Unknown"
)

// Store is the read side of storage used by the dashboard.
type Store interface {
	storage.CaseStore
	storage.PromptStore
	storage.ResultStore
}

// Service computes dashboard views from the store.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.With(slog.String("component", "dashboard")),
		now:    time.Now,
	}
}

func (s *Service) caseNames(ctx context.Context) (map[int64]string, error) {
	cases, err := s.store.ListCases(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list test cases: %w", err)
	}
	names := make(map[int64]string, len(cases))
	for _, tc := range cases {
		names[tc.ID] = tc.Name
	}
	return names, nil
}

func nameOf(names map[int64]string, id int64) string {
	if n, ok := names[id]; ok {
		return n
	}
	return unknownCase
}

// Metrics returns the headline counters.
func (s *Service) Metrics(ctx context.Context) (*models.Metrics, error) {
	names, err := s.caseNames(ctx)
	if err != nil {
		return nil, err
	}
	results, err := s.store.ListResults(ctx, storage.ResultFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	prompts, err := s.store.CountPrompts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count prompts: %w", err)
	}

	m := &models.Metrics{
		TotalTestCases:   len(names),
		TotalExecutions:  len(results),
		PromptsGenerated: prompts,
	}
	since := s.now().Add(-24 * time.Hour)
	perCase := make(map[int64]int)
	for _, r := range results {
		count(&m.StatusBreakdown, r.Status)
		perCase[r.TestCaseID]++
		if !r.CreatedAt.Before(since) {
			m.Last24Hours++
		}
	}
	m.SuccessRate = rate(m.StatusBreakdown.Passed, m.TotalExecutions)

	for id, n := range perCase {
		if m.MostExecuted == nil || n > m.MostExecuted.Executions || (n == m.MostExecuted.Executions && id < m.MostExecuted.TestCaseID) {
			m.MostExecuted = &models.CaseCount{TestCaseID: id, Executions: n}
		}
	}
	if m.MostExecuted != nil {
		m.MostExecuted.Name = nameOf(names, m.MostExecuted.TestCaseID)
	}
	return m, nil
}

// Recent returns the newest results with their case names.
func (s *Service) Recent(ctx context.Context, limit int) ([]models.RecentExecution, error) {
	limit = clamp(limit, DefaultRecentLimit, MaxRecentLimit)
	names, err := s.caseNames(ctx)
	if err != nil {
		return nil, err
	}
	results, err := s.store.ListResults(ctx, storage.ResultFilter{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}

	out := make([]models.RecentExecution, 0, len(results))
	for _, r := range results {
		preview := r.Logs
		if utf8.RuneCountInString(preview) > logsPreviewLen {
			preview = string([]rune(preview)[:logsPreviewLen]) + "..."
		}
		out = append(out, models.RecentExecution{
			ID:              r.ID,
			TestCaseID:      r.TestCaseID,
			TestCaseName:    nameOf(names, r.TestCaseID),
			Status:          r.Status,
			ExecutionTime:   r.ExecutionTime,
			ExecutedByAgent: r.ExecutedByAgent,
			ScreenshotPath:  r.ScreenshotPath,
			LogsPreview:     preview,
			CreatedAt:       r.CreatedAt,
		})
	}
	return out, nil
}

// Timeline returns one point per UTC day, oldest first, ending today.
// Days without executions are present with zero counts.
func (s *Service) Timeline(ctx context.Context, days int) ([]models.TimelinePoint, error) {
	days = clamp(days, DefaultTimelineDays, MaxTimelineDays)
	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	start := today.AddDate(0, 0, -(days - 1))

	results, err := s.store.ListResults(ctx, storage.ResultFilter{Since: start})
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}

	points := make([]models.TimelinePoint, days)
	index := make(map[string]int, days)
	for i := range points {
		date := start.AddDate(0, 0, i).Format(time.DateOnly)
		points[i].Date = date
		index[date] = i
	}
	for _, r := range results {
		i, ok := index[r.CreatedAt.UTC().Format(time.DateOnly)]
		if !ok {
			continue
		}
		count(&points[i].StatusCount, r.Status)
		points[i].Total++
	}
	return points, nil
}

// TestStats summarises every case that has been executed at least once,
// most executed first.
func (s *Service) TestStats(ctx context.Context) ([]models.TestStat, error) {
	names, err := s.caseNames(ctx)
	if err != nil {
		return nil, err
	}
	results, err := s.store.ListResults(ctx, storage.ResultFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}

	stats := make(map[int64]*models.TestStat)
	for _, r := range results { // newest first
		st, ok := stats[r.TestCaseID]
		if !ok {
			created := r.CreatedAt
			st = &models.TestStat{
				TestCaseID:    r.TestCaseID,
				Name:          nameOf(names, r.TestCaseID),
				LastExecution: &created,
				LastStatus:    r.Status,
			}
			stats[r.TestCaseID] = st
		}
		st.Executions++
		count(&st.StatusCount, r.Status)
	}

	out := make([]models.TestStat, 0, len(stats))
	for _, st := range stats {
		st.SuccessRate = rate(st.Passed, st.Executions)
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Executions != out[j].Executions {
			return out[i].Executions > out[j].Executions
		}
		return out[i].TestCaseID < out[j].TestCaseID
	})
	return out, nil
}

// ExecutionDetails returns a result with its case and the case's latest
// prompt. It returns storage.ErrNotFound for an unknown result.
func (s *Service) ExecutionDetails(ctx context.Context, resultID int64) (*models.ExecutionDetails, error) {
	r, err := s.store.GetResult(ctx, resultID)
	if err != nil {
		return nil, err
	}
	d := &models.ExecutionDetails{Result: *r, TestCaseName: unknownCase}

	tc, err := s.store.GetCase(ctx, r.TestCaseID)
	switch {
	case err == nil:
		d.TestCaseName = tc.Name
		d.URL = tc.URL
		d.ExpectedResult = tc.ExpectedResult
	case errors.Is(err, storage.ErrNotFound):
		s.logger.Warn("Result references a missing test case", slog.Int64("result_id", r.ID), slog.Int64("test_case_id", r.TestCaseID))
	default:
		return nil, fmt.Errorf("failed to load test case %d: %w", r.TestCaseID, err)
	}

	prompts, err := s.store.ListPrompts(ctx, storage.PromptFilter{TestCaseID: r.TestCaseID, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	if len(prompts) > 0 {
		d.Prompt = &prompts[0]
	}
	return d, nil
}

// PromptHistory lists the newest prompts, optionally for one case only
// (caseID zero means all cases).
func (s *Service) PromptHistory(ctx context.Context, limit int, caseID int64) ([]models.PromptHistoryEntry, error) {
	limit = clamp(limit, DefaultPromptLimit, MaxPromptLimit)
	names, err := s.caseNames(ctx)
	if err != nil {
		return nil, err
	}
	prompts, err := s.store.ListPrompts(ctx, storage.PromptFilter{TestCaseID: caseID, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}

	out := make([]models.PromptHistoryEntry, 0, len(prompts))
	for _, p := range prompts {
		e := models.PromptHistoryEntry{
			Prompt:       p,
			TestCaseName: nameOf(names, p.TestCaseID),
			PromptLength: utf8.RuneCountInString(p.PromptText),
		}
		if p.GeneratedCode != nil && *p.GeneratedCode != "" {
			e.HasCode = true
			e.CodeLength = utf8.RuneCountInString(*p.GeneratedCode)
		}
		out = append(out, e)
	}
	return out, nil
}

func count(c *models.StatusCount, status string) {
	switch status {
	case models.StatusPassed:
		c.Passed++
	case models.StatusFailed:
		c.Failed++
	case models.StatusError:
		c.Error++
	}
}

// rate is part/total as a percentage rounded to two decimals.
func rate(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*10000) / 100
}

func clamp(v, def, ceiling int) int {
	if v <= 0 {
		return def
	}
	if v > ceiling {
		return ceiling
	}
	return v
}
