package bundle

import "github.com/riverline-labs/tenor/pkg/tenorerr"

func decodeFlow(c map[string]any, idx typeIndex) (*Flow, error) {
	id, _ := c["id"].(string)
	policy, _ := c["snapshot_policy"].(string)
	entry, _ := c["entry_step"].(string)
	stepsRaw, ok := c["steps"].(map[string]any)
	if !ok {
		return nil, tenorerr.New(tenorerr.KindDeserialize, "Flow %q missing steps", id).WithConstruct("Flow", id)
	}

	steps := make(map[string]Step, len(stepsRaw))
	for stepID, sr := range stepsRaw {
		m, ok := sr.(map[string]any)
		if !ok {
			return nil, tenorerr.New(tenorerr.KindDeserialize, "Flow %q step %q is not an object", id, stepID).WithConstruct("Flow", id)
		}
		step, err := decodeStep(stepID, m, idx)
		if err != nil {
			return nil, err
		}
		steps[stepID] = step
	}

	return &Flow{
		ID:             id,
		SnapshotPolicy: SnapshotPolicy(policy),
		EntryStep:      entry,
		Steps:          steps,
	}, nil
}

func decodeStep(stepID string, m map[string]any, idx typeIndex) (Step, error) {
	kind, ok := m["kind"].(string)
	if !ok {
		return nil, tenorerr.New(tenorerr.KindDeserialize, "step %q missing kind", stepID)
	}

	switch kind {
	case "operation":
		operationID, _ := m["operation_id"].(string)
		persona, _ := m["persona"].(string)
		outcomesRaw, _ := m["outcomes"].(map[string]any)
		outcomes := make(map[string]Target, len(outcomesRaw))
		for label, tr := range outcomesRaw {
			t, err := decodeTarget(tr)
			if err != nil {
				return nil, err
			}
			outcomes[label] = t
		}
		var onFailure FailureHandler
		if hr, ok := m["on_failure"].(map[string]any); ok {
			h, err := decodeFailureHandler(hr, idx)
			if err != nil {
				return nil, err
			}
			onFailure = h
		}
		return OperationStep{
			ID:          stepID,
			Persona:     persona,
			OperationID: operationID,
			Outcomes:    outcomes,
			OnFailure:   onFailure,
		}, nil

	case "branch":
		condRaw, ok := m["condition"].(map[string]any)
		if !ok {
			return nil, tenorerr.New(tenorerr.KindDeserialize, "branch step %q missing condition", stepID)
		}
		cond, err := decodeExpr(condRaw, idx)
		if err != nil {
			return nil, err
		}
		ifTrue, err := decodeTarget(m["if_true"])
		if err != nil {
			return nil, err
		}
		ifFalse, err := decodeTarget(m["if_false"])
		if err != nil {
			return nil, err
		}
		return BranchStep{ID: stepID, Condition: cond, IfTrue: ifTrue, IfFalse: ifFalse}, nil

	case "handoff":
		persona, _ := m["persona"].(string)
		next, err := decodeTarget(m["next"])
		if err != nil {
			return nil, err
		}
		return HandoffStep{ID: stepID, Persona: persona, Next: next}, nil

	case "subflow":
		flowID, _ := m["flow_id"].(string)
		successOutcomes, _ := asStringSlice(m["success_outcomes"])
		onSuccess, err := decodeTarget(m["on_success"])
		if err != nil {
			return nil, err
		}
		onFailure, err := decodeTarget(m["on_failure"])
		if err != nil {
			return nil, err
		}
		return SubflowStep{
			ID:              stepID,
			FlowID:          flowID,
			SuccessOutcomes: successOutcomes,
			OnSuccess:       onSuccess,
			OnFailure:       onFailure,
		}, nil

	case "parallel":
		branchesRaw, _ := m["branches"].([]any)
		branches := make([]ParallelBranch, 0, len(branchesRaw))
		for _, br := range branchesRaw {
			bm, ok := br.(map[string]any)
			if !ok {
				continue
			}
			name, _ := bm["name"].(string)
			entryStep, _ := bm["entry_step"].(string)
			branches = append(branches, ParallelBranch{Name: name, EntryStep: entryStep})
		}
		policy, _ := m["policy"].(string)
		join, err := decodeTarget(m["join"])
		if err != nil {
			return nil, err
		}
		step := ParallelStep{ID: stepID, Branches: branches, Policy: JoinPolicy(policy), Join: join}
		if hr, ok := m["on_failure"].(map[string]any); ok {
			h, err := decodeFailureHandler(hr, idx)
			if err != nil {
				return nil, err
			}
			step.OnFailure = h
		}
		return step, nil

	default:
		return nil, tenorerr.New(tenorerr.KindDeserialize, "step %q has unknown kind %q", stepID, kind)
	}
}

func decodeFailureHandler(m map[string]any, idx typeIndex) (FailureHandler, error) {
	kind, ok := m["kind"].(string)
	if !ok {
		return nil, tenorerr.New(tenorerr.KindDeserialize, "failure handler missing kind")
	}

	switch kind {
	case "terminate":
		outcome, _ := m["outcome"].(string)
		return Terminate{Outcome: outcome}, nil

	case "compensate":
		stepsRaw, _ := m["steps"].([]any)
		steps := make([]CompensationStep, 0, len(stepsRaw))
		for _, sr := range stepsRaw {
			sm, ok := sr.(map[string]any)
			if !ok {
				continue
			}
			operationID, _ := sm["operation_id"].(string)
			persona, _ := sm["persona"].(string)
			var onFailure FailureHandler
			if hr, ok := sm["on_failure"].(map[string]any); ok {
				h, err := decodeFailureHandler(hr, idx)
				if err != nil {
					return nil, err
				}
				onFailure = h
			}
			steps = append(steps, CompensationStep{OperationID: operationID, Persona: persona, OnFailure: onFailure})
		}
		then, err := decodeTarget(m["then"])
		if err != nil {
			return nil, err
		}
		return Compensate{Steps: steps, Then: then}, nil

	case "escalate":
		toPersona, _ := m["to_persona"].(string)
		next, err := decodeTarget(m["next"])
		if err != nil {
			return nil, err
		}
		return Escalate{ToPersona: toPersona, Next: next}, nil

	default:
		return nil, tenorerr.New(tenorerr.KindDeserialize, "failure handler has unknown kind %q", kind)
	}
}

func decodeTarget(raw any) (Target, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Target{}, tenorerr.New(tenorerr.KindDeserialize, "expected target object, got %T", raw)
	}
	if outcome, ok := m["outcome"].(string); ok && outcome != "" {
		return Target{Outcome: outcome}, nil
	}
	stepID, _ := m["step_id"].(string)
	if stepID == "" {
		return Target{}, tenorerr.New(tenorerr.KindDeserialize, "target requires step_id or outcome")
	}
	return Target{StepID: stepID}, nil
}
