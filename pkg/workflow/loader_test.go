package workflow_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stride-run/stride/pkg/models"
	"github.com/stride-run/stride/pkg/workflow"
)

const validWorkflowYAML = `
id: wf-article
name: article-pipeline
description: Plan, draft and review an article.
inputs:
  topic:
    required: true
  tone:
    default: neutral
variables:
  max_words: 800
steps:
  - id: plan
    type: model
    params:
      provider: openai
      prompt: "Outline an article about ${topic}."
    outputs: [plan]
  - id: fanout
    type: parallel
    branches:
      - id: openai_draft
        type: model
        provider: openai
        params:
          prompt: "Draft from ${plan}"
      - id: anthropic_draft
        type: model
        provider: anthropic
        params:
          prompt: "Draft from ${plan}"
  - id: wordcount
    type: shell
    condition: plan != nil
    params:
      command: "echo ${max_words}"
    on_failure: skip
outputs: [plan]
`

func TestLoader_ParseValidWorkflow(t *testing.T) {
	loader := workflow.NewLoader()

	wf, err := loader.Parse([]byte(validWorkflowYAML))
	require.NoError(t, err)

	assert.Equal(t, "article-pipeline", wf.Name)
	require.Len(t, wf.Steps, 3)
	assert.True(t, wf.Inputs["topic"].Required)
	assert.Equal(t, "neutral", wf.Inputs["tone"].Default)
	assert.Equal(t, models.StepTypeParallel, wf.Steps[1].Type)
	assert.Len(t, wf.Steps[1].Branches, 2)
	assert.Equal(t, models.FailureSkip, wf.Steps[2].OnFailure)
}

func TestLoader_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validWorkflowYAML), 0o600))

	loader := workflow.NewLoader()

	wf, err := loader.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "wf-article", wf.ID)
}

func TestLoader_DuplicateStepIDRejected(t *testing.T) {
	loader := workflow.NewLoader()

	wf := &models.Workflow{
		ID:   "wf-dup",
		Name: "duplicate",
		Steps: []*models.Step{
			{ID: "same", Type: models.StepTypeShell},
			{ID: "same", Type: models.StepTypeShell},
		},
	}

	err := loader.Validate(wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step ID")
}

func TestLoader_UnknownStepTypeRejected(t *testing.T) {
	loader := workflow.NewLoader()

	wf := &models.Workflow{
		ID:    "wf-bad-type",
		Name:  "bad-type",
		Steps: []*models.Step{{ID: "weird", Type: models.StepType("quantum")}},
	}

	err := loader.Validate(wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")
}

func TestLoader_ParallelWithoutBranchesRejected(t *testing.T) {
	loader := workflow.NewLoader()

	wf := &models.Workflow{
		ID:    "wf-empty-parallel",
		Name:  "empty-parallel",
		Steps: []*models.Step{{ID: "fanout", Type: models.StepTypeParallel}},
	}

	err := loader.Validate(wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no branches")
}

func TestLoader_NestedParallelRejected(t *testing.T) {
	loader := workflow.NewLoader()

	wf := &models.Workflow{
		ID:   "wf-nested",
		Name: "nested-parallel",
		Steps: []*models.Step{
			{
				ID:   "fanout",
				Type: models.StepTypeParallel,
				Branches: []*models.Branch{
					{ID: "inner", Type: models.StepTypeParallel},
				},
			},
		},
	}

	err := loader.Validate(wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid type")
}

func TestLoader_BranchesOnNonParallelRejected(t *testing.T) {
	loader := workflow.NewLoader()

	wf := &models.Workflow{
		ID:   "wf-stray-branches",
		Name: "stray-branches",
		Steps: []*models.Step{
			{
				ID:       "plain",
				Type:     models.StepTypeShell,
				Branches: []*models.Branch{{ID: "a", Type: models.StepTypeShell}},
			},
		},
	}

	err := loader.Validate(wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a parallel step")
}

func TestLoader_MissingNameRejected(t *testing.T) {
	loader := workflow.NewLoader()

	_, err := loader.Parse([]byte("id: wf-x\nsteps:\n  - id: a\n    type: shell\n"))
	require.Error(t, err)
}

func TestSeedContext_Precedence(t *testing.T) {
	wf := &models.Workflow{
		ID:   "wf-seed",
		Name: "seed-check",
		Inputs: map[string]models.InputSpec{
			"tone":  {Default: "neutral"},
			"topic": {Required: true},
		},
		Variables: map[string]any{"max_words": 800, "tone": "variable-tone"},
		Steps:     []*models.Step{{ID: "a", Type: models.StepTypeShell}},
	}

	ectx, err := workflow.SeedContext(wf, map[string]any{"topic": "caching", "tone": "formal"})
	require.NoError(t, err)

	assert.Equal(t, "caching", ectx["topic"])
	assert.Equal(t, "formal", ectx["tone"], "provided value wins over default and variable")
	assert.Equal(t, 800, ectx["max_words"])
}
