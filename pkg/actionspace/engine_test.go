package actionspace_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/riverline-labs/tenor/pkg/actionspace"
	"github.com/riverline-labs/tenor/pkg/bundle"
)

const twoFlowBundle = `{
	"kind": "Bundle", "id": "c-two-flows", "tenor": "1.0", "tenor_version": "1.0.0",
	"constructs": [
		{"kind": "Entity", "id": "order", "states": ["draft", "submitted"], "initial_state": "draft",
		 "transitions": [{"from": "draft", "to": "submitted"}]},
		{"kind": "Operation", "id": "submit", "allowed_personas": ["analyst"],
		 "effects": [{"entity_id": "order", "from": "draft", "to": "submitted"}],
		 "outcomes": ["submitted"]},
		{"kind": "Operation", "id": "approve", "allowed_personas": ["director"],
		 "effects": [{"entity_id": "order", "from": "submitted", "to": "submitted"}],
		 "outcomes": ["approved"]},
		{"kind": "Flow", "id": "flow-x", "snapshot_policy": "at_initiation", "entry_step": "s1",
		 "steps": {"s1": {"kind": "operation", "operation_id": "submit", "persona": "analyst",
		   "outcomes": {"submitted": {"outcome": "done"}}}}},
		{"kind": "Flow", "id": "flow-y", "snapshot_policy": "at_initiation", "entry_step": "s1",
		 "steps": {"s1": {"kind": "operation", "operation_id": "approve", "persona": "director",
		   "outcomes": {"approved": {"outcome": "done"}}}}}
	]
}`

func loadTwoFlows(t *testing.T) *bundle.Contract {
	t.Helper()
	loaded, err := bundle.Load([]byte(twoFlowBundle))
	require.NoError(t, err)
	return loaded.Contract
}

// Section 8, end-to-end scenario 4: persona A is authorized for flow X but
// not flow Y; X is an action, Y is blocked with PersonaNotAuthorized.
func TestComputeActionSpacePersonaNotAuthorized(t *testing.T) {
	c := loadTwoFlows(t)
	states := actionspace.InstanceStates{
		{EntityID: "order", InstanceID: "o-1"}: "draft",
	}

	res, err := actionspace.Compute(c, bundle.FactSet{}, states, "analyst")
	require.NoError(t, err)

	require.Len(t, res.Actions, 1)
	require.Equal(t, "flow-x", res.Actions[0].FlowID)
	require.Equal(t, "submit", res.Actions[0].EntryOperation)

	require.Len(t, res.Blocked, 1)
	require.Equal(t, "flow-y", res.Blocked[0].FlowID)
	require.Equal(t, actionspace.ReasonPersonaNotAuthorized, res.Blocked[0].Reason)
}

func TestComputeActionSpaceEntityInWrongState(t *testing.T) {
	c := loadTwoFlows(t)
	states := actionspace.InstanceStates{
		{EntityID: "order", InstanceID: "o-1"}: "submitted",
	}

	res, err := actionspace.Compute(c, bundle.FactSet{}, states, "analyst")
	require.NoError(t, err)
	require.Empty(t, res.Actions)

	var blockedX *actionspace.Blocked
	for i := range res.Blocked {
		if res.Blocked[i].FlowID == "flow-x" {
			blockedX = &res.Blocked[i]
		}
	}
	require.NotNil(t, blockedX)
	require.Equal(t, actionspace.ReasonEntityInWrongState, blockedX.Reason)
}

func TestComputeActionSpacePreconditionNotMet(t *testing.T) {
	raw := []byte(`{
		"kind": "Bundle", "id": "c-precond", "tenor": "1.0", "tenor_version": "1.0.0",
		"constructs": [
			{"kind": "Fact", "id": "approved_above_limit", "type": {"kind": "Bool"}},
			{"kind": "Entity", "id": "order", "states": ["draft", "submitted"], "initial_state": "draft",
			 "transitions": [{"from": "draft", "to": "submitted"}]},
			{"kind": "Operation", "id": "submit", "allowed_personas": ["analyst"],
			 "precondition": {"op": "FactRef", "id": "approved_above_limit"},
			 "effects": [{"entity_id": "order", "from": "draft", "to": "submitted"}],
			 "outcomes": ["submitted"]},
			{"kind": "Flow", "id": "flow-x", "snapshot_policy": "at_initiation", "entry_step": "s1",
			 "steps": {"s1": {"kind": "operation", "operation_id": "submit", "persona": "analyst",
			   "outcomes": {"submitted": {"outcome": "done"}}}}}
		]
	}`)
	loaded, err := bundle.Load(raw)
	require.NoError(t, err)

	states := actionspace.InstanceStates{{EntityID: "order", InstanceID: "o-1"}: "draft"}
	res, err := actionspace.Compute(loaded.Contract, bundle.FactSet{"approved_above_limit": {Kind: bundle.KindBool, Bool: false}}, states, "analyst")
	require.NoError(t, err)
	require.Empty(t, res.Actions)
	require.Len(t, res.Blocked, 1)
	require.Equal(t, actionspace.ReasonPreconditionNotMet, res.Blocked[0].Reason)

	res, err = actionspace.Compute(loaded.Contract, bundle.FactSet{"approved_above_limit": {Kind: bundle.KindBool, Bool: true}}, states, "analyst")
	require.NoError(t, err)
	require.Len(t, res.Actions, 1)
}
