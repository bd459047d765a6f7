package flow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/riverline-labs/tenor/pkg/bundle"
	"github.com/riverline-labs/tenor/pkg/flow"
)

func loadFlowBundle(t *testing.T, raw string) *bundle.Contract {
	t.Helper()
	loaded, err := bundle.Load([]byte(raw))
	require.NoError(t, err)
	return loaded.Contract
}

func TestExecutorRunsSingleOperationStepToTerminal(t *testing.T) {
	c := loadFlowBundle(t, `{
		"kind": "Bundle", "id": "c-flow-simple", "tenor": "1.0", "tenor_version": "1.0.0",
		"constructs": [
			{"kind": "Entity", "id": "order", "states": ["draft", "submitted"], "initial_state": "draft",
			 "transitions": [{"from": "draft", "to": "submitted"}]},
			{"kind": "Operation", "id": "submit", "allowed_personas": ["analyst"],
			 "effects": [{"entity_id": "order", "from": "draft", "to": "submitted"}],
			 "outcomes": ["submitted"]},
			{"kind": "Flow", "id": "flow-submit", "snapshot_policy": "at_initiation", "entry_step": "s1",
			 "steps": {"s1": {"kind": "operation", "operation_id": "submit", "persona": "analyst",
			   "outcomes": {"submitted": {"outcome": "done"}}}}}
		]
	}`)

	ex := flow.New(c)
	states := flow.States{{EntityID: "order", InstanceID: "o-1"}: "draft"}
	result, err := ex.Run(context.Background(), "flow-submit", states, "analyst", bundle.FactSet{})
	require.NoError(t, err)
	require.Equal(t, "done", result.Outcome)
	require.Len(t, result.StepsExecuted, 1)
	require.Equal(t, "submitted", result.FinalStates[flow.StateKey{EntityID: "order", InstanceID: "o-1"}])
	require.Len(t, result.EntityStateChanges, 1)
	require.Equal(t, "draft", result.EntityStateChanges[0].FromState)
	require.Equal(t, "submitted", result.EntityStateChanges[0].ToState)
}

// Section 8, end-to-end scenario 5: an operation-step's on_failure is an
// Escalate to a director, routing to a reachable "review" operation-step.
func TestExecutorEscalatePathReachesReview(t *testing.T) {
	c := loadFlowBundle(t, `{
		"kind": "Bundle", "id": "c-flow-escalate", "tenor": "1.0", "tenor_version": "1.0.0",
		"constructs": [
			{"kind": "Fact", "id": "can_approve", "type": {"kind": "Bool"}},
			{"kind": "Entity", "id": "order", "states": ["draft", "submitted", "approved"], "initial_state": "draft",
			 "transitions": [{"from": "draft", "to": "submitted"}, {"from": "submitted", "to": "approved"}]},
			{"kind": "Operation", "id": "submit", "allowed_personas": ["analyst"],
			 "precondition": {"op": "FactRef", "id": "can_approve"},
			 "effects": [{"entity_id": "order", "from": "draft", "to": "submitted"}],
			 "outcomes": ["submitted"]},
			{"kind": "Operation", "id": "review", "allowed_personas": ["director"],
			 "effects": [{"entity_id": "order", "from": "draft", "to": "approved"}],
			 "outcomes": ["approved"]},
			{"kind": "Flow", "id": "flow-escalate", "snapshot_policy": "at_initiation", "entry_step": "s1",
			 "steps": {
			   "s1": {"kind": "operation", "operation_id": "submit", "persona": "analyst",
			     "outcomes": {"submitted": {"outcome": "done"}},
			     "on_failure": {"kind": "escalate", "to_persona": "director", "next": {"step_id": "s2"}}},
			   "s2": {"kind": "operation", "operation_id": "review", "persona": "director",
			     "outcomes": {"approved": {"outcome": "reviewed"}}}
			 }}
		]
	}`)

	ex := flow.New(c)
	states := flow.States{{EntityID: "order", InstanceID: "o-1"}: "draft"}
	result, err := ex.Run(context.Background(), "flow-escalate", states, "analyst", bundle.FactSet{"can_approve": {Kind: bundle.KindBool, Bool: false}})
	require.NoError(t, err)
	require.Equal(t, "reviewed", result.Outcome)
	require.Len(t, result.StepsExecuted, 2)
	require.Equal(t, "s1", result.StepsExecuted[0].StepID)
	require.Equal(t, "escalated", result.StepsExecuted[0].Outcome)
	require.Equal(t, "s2", result.StepsExecuted[1].StepID)
	require.Equal(t, "director", result.FinalPersona)
}

func TestExecutorTerminateFailureHandler(t *testing.T) {
	c := loadFlowBundle(t, `{
		"kind": "Bundle", "id": "c-flow-terminate", "tenor": "1.0", "tenor_version": "1.0.0",
		"constructs": [
			{"kind": "Fact", "id": "allowed", "type": {"kind": "Bool"}},
			{"kind": "Entity", "id": "order", "states": ["draft", "submitted"], "initial_state": "draft",
			 "transitions": [{"from": "draft", "to": "submitted"}]},
			{"kind": "Operation", "id": "submit", "allowed_personas": ["analyst"],
			 "precondition": {"op": "FactRef", "id": "allowed"},
			 "effects": [{"entity_id": "order", "from": "draft", "to": "submitted"}],
			 "outcomes": ["submitted"]},
			{"kind": "Flow", "id": "flow-terminate", "snapshot_policy": "at_initiation", "entry_step": "s1",
			 "steps": {"s1": {"kind": "operation", "operation_id": "submit", "persona": "analyst",
			   "outcomes": {"submitted": {"outcome": "done"}},
			   "on_failure": {"kind": "terminate", "outcome": "rejected"}}}}
		]
	}`)

	ex := flow.New(c)
	states := flow.States{{EntityID: "order", InstanceID: "o-1"}: "draft"}
	result, err := ex.Run(context.Background(), "flow-terminate", states, "analyst", bundle.FactSet{"allowed": {Kind: bundle.KindBool, Bool: false}})
	require.NoError(t, err)
	require.Equal(t, "rejected", result.Outcome)
	require.Empty(t, result.EntityStateChanges)
}

func TestExecutorBranchStepRoutesOnCondition(t *testing.T) {
	c := loadFlowBundle(t, `{
		"kind": "Bundle", "id": "c-flow-branch", "tenor": "1.0", "tenor_version": "1.0.0",
		"constructs": [
			{"kind": "Fact", "id": "flag", "type": {"kind": "Bool"}},
			{"kind": "Flow", "id": "flow-branch", "snapshot_policy": "at_initiation", "entry_step": "b1",
			 "steps": {
			   "b1": {"kind": "branch", "condition": {"op": "FactRef", "id": "flag"},
			     "if_true": {"outcome": "yes"}, "if_false": {"outcome": "no"}}
			 }}
		]
	}`)

	ex := flow.New(c)
	result, err := ex.Run(context.Background(), "flow-branch", flow.States{}, "analyst", bundle.FactSet{"flag": {Kind: bundle.KindBool, Bool: true}})
	require.NoError(t, err)
	require.Equal(t, "yes", result.Outcome)

	result, err = ex.Run(context.Background(), "flow-branch", flow.States{}, "analyst", bundle.FactSet{"flag": {Kind: bundle.KindBool, Bool: false}})
	require.NoError(t, err)
	require.Equal(t, "no", result.Outcome)
}

func TestExecutorStepLimitExceeded(t *testing.T) {
	// A two-step cycle with no terminal must hit the step limit rather than
	// loop forever (section 4.5 termination bounds).
	c := loadFlowBundle(t, `{
		"kind": "Bundle", "id": "c-flow-cycle", "tenor": "1.0", "tenor_version": "1.0.0",
		"constructs": [
			{"kind": "Flow", "id": "flow-cycle", "snapshot_policy": "at_initiation", "entry_step": "h1",
			 "steps": {
			   "h1": {"kind": "handoff", "persona": "p1", "next": {"step_id": "h2"}},
			   "h2": {"kind": "handoff", "persona": "p2", "next": {"step_id": "h1"}}
			 }}
		]
	}`)

	ex := flow.New(c)
	ex.Limits = flow.Limits{MaxSteps: 10, MaxDepth: 64}
	_, err := ex.Run(context.Background(), "flow-cycle", flow.States{}, "p1", bundle.FactSet{})
	require.Error(t, err)
}

func TestExecutorUnknownFlowFails(t *testing.T) {
	c := loadFlowBundle(t, `{"kind":"Bundle","id":"c-empty","tenor":"1.0","tenor_version":"1.0.0","constructs":[]}`)
	ex := flow.New(c)
	_, err := ex.Run(context.Background(), "nope", flow.States{}, "p1", bundle.FactSet{})
	require.Error(t, err)
}

func TestExecutorSubflowRoutesOnChildOutcome(t *testing.T) {
	c := loadFlowBundle(t, `{
		"kind": "Bundle", "id": "c-flow-subflow", "tenor": "1.0", "tenor_version": "1.0.0",
		"constructs": [
			{"kind": "Entity", "id": "order", "states": ["draft", "submitted"], "initial_state": "draft",
			 "transitions": [{"from": "draft", "to": "submitted"}]},
			{"kind": "Operation", "id": "submit", "allowed_personas": ["analyst"],
			 "effects": [{"entity_id": "order", "from": "draft", "to": "submitted"}],
			 "outcomes": ["submitted"]},
			{"kind": "Flow", "id": "child", "snapshot_policy": "at_initiation", "entry_step": "c1",
			 "steps": {"c1": {"kind": "operation", "operation_id": "submit", "persona": "analyst",
			   "outcomes": {"submitted": {"outcome": "done"}}}}},
			{"kind": "Flow", "id": "parent", "snapshot_policy": "at_initiation", "entry_step": "p1",
			 "steps": {"p1": {"kind": "subflow", "flow_id": "child", "success_outcomes": ["done"],
			   "on_success": {"outcome": "parent_done"}, "on_failure": {"outcome": "parent_failed"}}}}
		]
	}`)

	ex := flow.New(c)
	states := flow.States{{EntityID: "order", InstanceID: "o-1"}: "draft"}
	result, err := ex.Run(context.Background(), "parent", states, "analyst", bundle.FactSet{})
	require.NoError(t, err)
	require.Equal(t, "parent_done", result.Outcome)
	require.Equal(t, "submitted", result.FinalStates[flow.StateKey{EntityID: "order", InstanceID: "o-1"}])
	require.Len(t, result.StepsExecuted, 1)
	require.Equal(t, "subflow", result.StepsExecuted[0].StepKind)
	require.Equal(t, "done", result.StepsExecuted[0].Outcome)
}

func TestExecutorParallelMergesBranchStateChanges(t *testing.T) {
	c := loadFlowBundle(t, `{
		"kind": "Bundle", "id": "c-flow-parallel", "tenor": "1.0", "tenor_version": "1.0.0",
		"constructs": [
			{"kind": "Entity", "id": "order", "states": ["draft", "submitted"], "initial_state": "draft",
			 "transitions": [{"from": "draft", "to": "submitted"}]},
			{"kind": "Entity", "id": "invoice", "states": ["open", "sent"], "initial_state": "open",
			 "transitions": [{"from": "open", "to": "sent"}]},
			{"kind": "Operation", "id": "submit", "allowed_personas": ["analyst"],
			 "effects": [{"entity_id": "order", "from": "draft", "to": "submitted"}],
			 "outcomes": ["submitted"]},
			{"kind": "Operation", "id": "send", "allowed_personas": ["analyst"],
			 "effects": [{"entity_id": "invoice", "from": "open", "to": "sent"}],
			 "outcomes": ["sent"]},
			{"kind": "Flow", "id": "flow-par", "snapshot_policy": "at_initiation", "entry_step": "fan",
			 "steps": {
			   "fan": {"kind": "parallel", "policy": "on_all_success",
			     "branches": [{"name": "b1", "entry_step": "s1"}, {"name": "b2", "entry_step": "s2"}],
			     "join": {"outcome": "all_done"}},
			   "s1": {"kind": "operation", "operation_id": "submit", "persona": "analyst",
			     "outcomes": {"submitted": {"outcome": "done"}}},
			   "s2": {"kind": "operation", "operation_id": "send", "persona": "analyst",
			     "outcomes": {"sent": {"outcome": "done"}}}
			 }}
		]
	}`)

	ex := flow.New(c)
	states := flow.States{
		{EntityID: "order", InstanceID: "o-1"}:   "draft",
		{EntityID: "invoice", InstanceID: "i-1"}: "open",
	}
	result, err := ex.Run(context.Background(), "flow-par", states, "analyst", bundle.FactSet{})
	require.NoError(t, err)
	require.Equal(t, "all_done", result.Outcome)
	require.Equal(t, "submitted", result.FinalStates[flow.StateKey{EntityID: "order", InstanceID: "o-1"}])
	require.Equal(t, "sent", result.FinalStates[flow.StateKey{EntityID: "invoice", InstanceID: "i-1"}])
	require.Len(t, result.EntityStateChanges, 2)
}

func TestExecutorParallelConflictingUpdatesFail(t *testing.T) {
	c := loadFlowBundle(t, `{
		"kind": "Bundle", "id": "c-flow-parconflict", "tenor": "1.0", "tenor_version": "1.0.0",
		"constructs": [
			{"kind": "Entity", "id": "order", "states": ["draft", "submitted", "cancelled"], "initial_state": "draft",
			 "transitions": [{"from": "draft", "to": "submitted"}, {"from": "draft", "to": "cancelled"}]},
			{"kind": "Operation", "id": "submit", "allowed_personas": ["analyst"],
			 "effects": [{"entity_id": "order", "from": "draft", "to": "submitted"}],
			 "outcomes": ["submitted"]},
			{"kind": "Operation", "id": "cancel", "allowed_personas": ["analyst"],
			 "effects": [{"entity_id": "order", "from": "draft", "to": "cancelled"}],
			 "outcomes": ["cancelled"]},
			{"kind": "Flow", "id": "flow-conflict", "snapshot_policy": "at_initiation", "entry_step": "fan",
			 "steps": {
			   "fan": {"kind": "parallel", "policy": "on_all_complete",
			     "branches": [{"name": "b1", "entry_step": "s1"}, {"name": "b2", "entry_step": "s2"}],
			     "join": {"outcome": "all_done"}},
			   "s1": {"kind": "operation", "operation_id": "submit", "persona": "analyst",
			     "outcomes": {"submitted": {"outcome": "done"}}},
			   "s2": {"kind": "operation", "operation_id": "cancel", "persona": "analyst",
			     "outcomes": {"cancelled": {"outcome": "done"}}}
			 }}
		]
	}`)

	ex := flow.New(c)
	states := flow.States{{EntityID: "order", InstanceID: "o-1"}: "draft"}
	_, err := ex.Run(context.Background(), "flow-conflict", states, "analyst", bundle.FactSet{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "conflicting parallel updates")
}

func TestExecutorCompensateRunsStepsThenRoutes(t *testing.T) {
	c := loadFlowBundle(t, `{
		"kind": "Bundle", "id": "c-flow-compensate", "tenor": "1.0", "tenor_version": "1.0.0",
		"constructs": [
			{"kind": "Fact", "id": "allowed", "type": {"kind": "Bool"}},
			{"kind": "Entity", "id": "order", "states": ["draft", "submitted", "approved"], "initial_state": "draft",
			 "transitions": [{"from": "submitted", "to": "approved"}, {"from": "submitted", "to": "draft"}]},
			{"kind": "Operation", "id": "approve", "allowed_personas": ["analyst"],
			 "precondition": {"op": "FactRef", "id": "allowed"},
			 "effects": [{"entity_id": "order", "from": "submitted", "to": "approved"}],
			 "outcomes": ["approved"]},
			{"kind": "Operation", "id": "revert", "allowed_personas": ["analyst"],
			 "effects": [{"entity_id": "order", "from": "submitted", "to": "draft"}],
			 "outcomes": ["reverted"]},
			{"kind": "Flow", "id": "flow-comp", "snapshot_policy": "at_initiation", "entry_step": "s1",
			 "steps": {"s1": {"kind": "operation", "operation_id": "approve", "persona": "analyst",
			   "outcomes": {"approved": {"outcome": "done"}},
			   "on_failure": {"kind": "compensate",
			     "steps": [{"operation_id": "revert", "persona": "analyst"}],
			     "then": {"outcome": "rolled_back"}}}}}
		]
	}`)

	ex := flow.New(c)
	states := flow.States{{EntityID: "order", InstanceID: "o-1"}: "submitted"}
	result, err := ex.Run(context.Background(), "flow-comp", states, "analyst", bundle.FactSet{"allowed": {Kind: bundle.KindBool, Bool: false}})
	require.NoError(t, err)
	require.Equal(t, "rolled_back", result.Outcome)
	require.Equal(t, "draft", result.FinalStates[flow.StateKey{EntityID: "order", InstanceID: "o-1"}])
}

// Section 9's snapshot-policy determinism note: a per_step flow re-reads
// facts between steps, so a fact source whose value changes across
// captures routes the two policies to different outcomes. The fake source
// below answers true on its first capture and false ever after.
func TestExecutorPerStepPolicyReReadsFacts(t *testing.T) {
	const steps = `{
		   "b1": {"kind": "branch", "condition": {"op": "FactRef", "id": "flag"},
		     "if_true": {"step_id": "b2"}, "if_false": {"outcome": "stopped_early"}},
		   "b2": {"kind": "branch", "condition": {"op": "FactRef", "id": "flag"},
		     "if_true": {"outcome": "still_true"}, "if_false": {"outcome": "flipped"}}
		 }`
	c := loadFlowBundle(t, `{
		"kind": "Bundle", "id": "c-flow-policy", "tenor": "1.0", "tenor_version": "1.0.0",
		"constructs": [
			{"kind": "Fact", "id": "flag", "type": {"kind": "Bool"}},
			{"kind": "Flow", "id": "flow-per-step", "snapshot_policy": "per_step", "entry_step": "b1",
			 "steps": `+steps+`},
			{"kind": "Flow", "id": "flow-at-init", "snapshot_policy": "at_initiation", "entry_step": "b1",
			 "steps": `+steps+`}
		]
	}`)

	flippingSource := func(calls *int) flow.FactSource {
		return func(context.Context) (bundle.FactSet, error) {
			*calls++
			return bundle.FactSet{"flag": {Kind: bundle.KindBool, Bool: *calls == 1}}, nil
		}
	}

	perStepCalls := 0
	ex := flow.New(c)
	ex.Facts = flippingSource(&perStepCalls)
	result, err := ex.Run(context.Background(), "flow-per-step", flow.States{}, "analyst", nil)
	require.NoError(t, err)
	require.Equal(t, "flipped", result.Outcome, "per_step must observe the fact changing between steps")
	require.Equal(t, 2, perStepCalls, "per_step captures once per step")

	atInitCalls := 0
	ex = flow.New(c)
	ex.Facts = flippingSource(&atInitCalls)
	result, err = ex.Run(context.Background(), "flow-at-init", flow.States{}, "analyst", nil)
	require.NoError(t, err)
	require.Equal(t, "still_true", result.Outcome, "at_initiation reuses the entry capture for every step")
	require.Equal(t, 1, atInitCalls, "at_initiation captures exactly once")
}
