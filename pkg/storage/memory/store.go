// Package memory is a process-local storage.Store, used for development
// and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/husmancristian/qafastweb/pkg/models"
	"github.com/husmancristian/qafastweb/pkg/storage"
)

var _ storage.Store = (*Store)(nil)

// Store keeps every record in maps guarded by a single mutex.
type Store struct {
	mu        sync.RWMutex
	nextID    int64
	cases     map[int64]models.TestCase
	prompts   map[int64]models.Prompt
	results   map[int64]models.TestResult
	artifacts map[string][]byte
	now       func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		cases:     make(map[int64]models.TestCase),
		prompts:   make(map[int64]models.Prompt),
		results:   make(map[int64]models.TestResult),
		artifacts: make(map[string][]byte),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) CreateCase(ctx context.Context, tc *models.TestCase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tc.ID = s.id()
	tc.CreatedAt = s.now()
	tc.UpdatedAt = tc.CreatedAt
	s.cases[tc.ID] = *tc
	return nil
}

func (s *Store) CreateCases(ctx context.Context, cases []models.TestCase) ([]models.TestCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TestCase, len(cases))
	for i, tc := range cases {
		tc.ID = s.id()
		tc.CreatedAt = s.now()
		tc.UpdatedAt = tc.CreatedAt
		s.cases[tc.ID] = tc
		out[i] = tc
	}
	return out, nil
}

func (s *Store) GetCase(ctx context.Context, id int64) (*models.TestCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tc, ok := s.cases[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &tc, nil
}

func (s *Store) ListCases(ctx context.Context) ([]models.TestCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.TestCase, 0, len(s.cases))
	for _, tc := range s.cases {
		out = append(out, tc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteCase(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.cases, id)
	for pid, p := range s.prompts {
		if p.TestCaseID == id {
			delete(s.prompts, pid)
		}
	}
	for rid, r := range s.results {
		if r.TestCaseID == id {
			delete(s.results, rid)
		}
	}
	return nil
}

func (s *Store) CreatePrompt(ctx context.Context, p *models.Prompt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[p.TestCaseID]; !ok {
		return fmt.Errorf("prompt for unknown test case %d: %w", p.TestCaseID, storage.ErrNotFound)
	}
	p.ID = s.id()
	p.CreatedAt = s.now()
	s.prompts[p.ID] = *p
	return nil
}

func (s *Store) UpdateGeneratedCode(ctx context.Context, promptID int64, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prompts[promptID]
	if !ok {
		return storage.ErrNotFound
	}
	p.GeneratedCode = &code
	s.prompts[promptID] = p
	return nil
}

func (s *Store) ListPrompts(ctx context.Context, f storage.PromptFilter) ([]models.Prompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Prompt
	for _, p := range s.prompts {
		if f.TestCaseID != 0 && p.TestCaseID != f.TestCaseID {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) CountPrompts(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.prompts), nil
}

func (s *Store) CreateResult(ctx context.Context, r *models.TestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[r.TestCaseID]; !ok {
		return fmt.Errorf("result for unknown test case %d: %w", r.TestCaseID, storage.ErrNotFound)
	}
	r.ID = s.id()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	s.results[r.ID] = *r
	return nil
}

func (s *Store) GetResult(ctx context.Context, id int64) (*models.TestResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &r, nil
}

func (s *Store) ListResults(ctx context.Context, f storage.ResultFilter) ([]models.TestResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.TestResult
	for _, r := range s.results {
		if f.TestCaseID != 0 && r.TestCaseID != f.TestCaseID {
			continue
		}
		if !f.Since.IsZero() && r.CreatedAt.Before(f.Since) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) StoreArtifact(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read artifact '%s': %w", objectName, err)
	}
	s.mu.Lock()
	s.artifacts[objectName] = data
	s.mu.Unlock()
	return "memory://" + objectName, nil
}

// Artifact returns a stored artifact, for inspection in tests.
func (s *Store) Artifact(objectName string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.artifacts[objectName]
	return data, ok
}

func (s *Store) Close() error { return nil }
