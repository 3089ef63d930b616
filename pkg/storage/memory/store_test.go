package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/husmancristian/qafastweb/pkg/models"
	"github.com/husmancristian/qafastweb/pkg/storage"
)

func TestStore_CaseLifecycleCascades(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	tc := &models.TestCase{Name: "Login"}
	require.NoError(t, s.CreateCase(ctx, tc))
	require.NotZero(t, tc.ID)

	p := &models.Prompt{TestCaseID: tc.ID, PromptText: "p"}
	require.NoError(t, s.CreatePrompt(ctx, p))
	require.NoError(t, s.UpdateGeneratedCode(ctx, p.ID, "print(1)"))
	require.NoError(t, s.CreateResult(ctx, &models.TestResult{TestCaseID: tc.ID, Status: models.StatusPassed}))

	prompts, err := s.ListPrompts(ctx, storage.PromptFilter{TestCaseID: tc.ID})
	require.NoError(t, err)
	require.Len(t, prompts, 1)
	require.NotNil(t, prompts[0].GeneratedCode)
	assert.Equal(t, "print(1)", *prompts[0].GeneratedCode)

	require.NoError(t, s.DeleteCase(ctx, tc.ID))

	_, err = s.GetCase(ctx, tc.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	n, _ := s.CountPrompts(ctx)
	assert.Zero(t, n)
	results, _ := s.ListResults(ctx, storage.ResultFilter{})
	assert.Empty(t, results)

	assert.ErrorIs(t, s.DeleteCase(ctx, tc.ID), storage.ErrNotFound)
}

func TestStore_ResultFilters(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	cases, err := s.CreateCases(ctx, []models.TestCase{{Name: "a"}, {Name: "b"}})
	require.NoError(t, err)
	require.Len(t, cases, 2)

	old := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, s.CreateResult(ctx, &models.TestResult{TestCaseID: cases[0].ID, Status: models.StatusFailed, CreatedAt: old}))
	require.NoError(t, s.CreateResult(ctx, &models.TestResult{TestCaseID: cases[0].ID, Status: models.StatusPassed}))
	require.NoError(t, s.CreateResult(ctx, &models.TestResult{TestCaseID: cases[1].ID, Status: models.StatusError}))

	byCase, _ := s.ListResults(ctx, storage.ResultFilter{TestCaseID: cases[0].ID})
	assert.Len(t, byCase, 2)

	recent, _ := s.ListResults(ctx, storage.ResultFilter{Since: time.Now().UTC().Add(-time.Hour)})
	assert.Len(t, recent, 2)

	latest, _ := s.ListResults(ctx, storage.ResultFilter{Limit: 1})
	require.Len(t, latest, 1)
	assert.Equal(t, models.StatusError, latest[0].Status)

	assert.ErrorIs(t, s.CreateResult(ctx, &models.TestResult{TestCaseID: 999}), storage.ErrNotFound)
}

func TestStore_Artifacts(t *testing.T) {
	s := NewStore()
	url, err := s.StoreArtifact(context.Background(), "prompts/1/code.py", strings.NewReader("print(1)"), 8, "text/x-python")
	require.NoError(t, err)
	assert.Equal(t, "memory://prompts/1/code.py", url)

	data, ok := s.Artifact("prompts/1/code.py")
	require.True(t, ok)
	assert.Equal(t, "print(1)", string(data))
}
