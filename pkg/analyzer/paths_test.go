package analyzer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/riverline-labs/tenor/pkg/analyzer"
	"github.com/riverline-labs/tenor/pkg/bundle"
)

func flowWithEscalate() *bundle.Flow {
	return &bundle.Flow{
		ID:        "review-flow",
		EntryStep: "submit",
		Steps: map[string]bundle.Step{
			"submit": bundle.OperationStep{
				ID:          "submit",
				Persona:     "analyst",
				OperationID: "submit_op",
				Outcomes:    map[string]bundle.Target{"": {Outcome: "submitted"}},
				OnFailure: bundle.Escalate{
					ToPersona: "director",
					Next:      bundle.Target{StepID: "review"},
				},
			},
			"review": bundle.OperationStep{
				ID:          "review",
				Persona:     "director",
				OperationID: "review_op",
				Outcomes:    map[string]bundle.Target{"": {Outcome: "reviewed"}},
			},
		},
	}
}

func TestEnumeratePathsIncludesEscalationTarget(t *testing.T) {
	report := analyzer.EnumeratePaths(flowWithEscalate(), analyzer.PathBounds{})
	require.False(t, report.Truncated)

	var sawReview bool
	for _, p := range report.Paths {
		for _, step := range p.Steps {
			if step.StepID == "review" {
				sawReview = true
			}
		}
	}
	require.True(t, sawReview, "expected escalation target 'review' to be reachable in enumerated paths")
}

func TestEnumeratePathsDetectsCycle(t *testing.T) {
	fl := &bundle.Flow{
		ID:        "loopy",
		EntryStep: "a",
		Steps: map[string]bundle.Step{
			"a": bundle.BranchStep{ID: "a", IfTrue: bundle.Target{StepID: "b"}, IfFalse: bundle.Target{Outcome: "done"}},
			"b": bundle.BranchStep{ID: "b", IfTrue: bundle.Target{StepID: "a"}, IfFalse: bundle.Target{Outcome: "done"}},
		},
	}
	report := analyzer.EnumeratePaths(fl, analyzer.PathBounds{})
	var sawCycle bool
	for _, p := range report.Paths {
		if p.CycleDetected {
			sawCycle = true
		}
	}
	require.True(t, sawCycle)
}

func TestEnumeratePathsTruncatesAtMaxPaths(t *testing.T) {
	fl := &bundle.Flow{
		ID:        "branchy",
		EntryStep: "a",
		Steps: map[string]bundle.Step{
			"a": bundle.BranchStep{ID: "a", IfTrue: bundle.Target{StepID: "b"}, IfFalse: bundle.Target{StepID: "b"}},
			"b": bundle.BranchStep{ID: "b", IfTrue: bundle.Target{Outcome: "x"}, IfFalse: bundle.Target{Outcome: "y"}},
		},
	}
	report := analyzer.EnumeratePaths(fl, analyzer.PathBounds{MaxPaths: 1})
	require.True(t, report.Truncated)
	require.Len(t, report.Paths, 1)
}
