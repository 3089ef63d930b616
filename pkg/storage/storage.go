package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/husmancristian/qafastweb/pkg/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ResultFilter narrows ListResults. Zero values mean "no constraint".
type ResultFilter struct {
	TestCaseID int64
	Since      time.Time
	Limit      int // Newest first when set
}

// PromptFilter narrows ListPrompts.
type PromptFilter struct {
	TestCaseID int64
	Limit      int // Newest first when set
}

// CaseStore persists test cases.
type CaseStore interface {
	CreateCase(ctx context.Context, tc *models.TestCase) error
	// CreateCases inserts all cases in one transaction.
	CreateCases(ctx context.Context, cases []models.TestCase) ([]models.TestCase, error)
	GetCase(ctx context.Context, id int64) (*models.TestCase, error)
	ListCases(ctx context.Context) ([]models.TestCase, error)
	// DeleteCase removes a case together with its prompts and results.
	DeleteCase(ctx context.Context, id int64) error
}

// PromptStore persists prompts sent to the AI service.
type PromptStore interface {
	CreatePrompt(ctx context.Context, p *models.Prompt) error
	UpdateGeneratedCode(ctx context.Context, promptID int64, code string) error
	ListPrompts(ctx context.Context, f PromptFilter) ([]models.Prompt, error)
	CountPrompts(ctx context.Context) (int, error)
}

// ResultStore persists the terminal record of each execution attempt.
type ResultStore interface {
	CreateResult(ctx context.Context, r *models.TestResult) error
	GetResult(ctx context.Context, id int64) (*models.TestResult, error)
	ListResults(ctx context.Context, f ResultFilter) ([]models.TestResult, error)
}

// ArtifactStore keeps binary or text artifacts (generated scripts, raw AI output).
type ArtifactStore interface {
	// StoreArtifact uploads the artifact and returns a URL for it.
	StoreArtifact(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error)
}

// Store is everything the service persists.
type Store interface {
	CaseStore
	PromptStore
	ResultStore
	ArtifactStore

	// Close releases any resources held by the store (e.g., DB connections).
	Close() error
}
