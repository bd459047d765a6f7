package flow

import (
	"context"

	"github.com/riverline-labs/tenor/pkg/bundle"
	"github.com/riverline-labs/tenor/pkg/predicate"
	"github.com/riverline-labs/tenor/pkg/tenorerr"
)

func (e *Executor) execOperationStep(fl *bundle.Flow, s bundle.OperationStep, working States, persona string, snap snapshot) (bundle.Target, StepRecord, []EntityStateChange, string, error) {
	op, ok := e.Contract.Operation(s.OperationID)
	if !ok {
		return bundle.Target{}, StepRecord{}, nil, "", tenorerr.New(tenorerr.KindFlowError, "step %q references unknown operation %q", s.ID, s.OperationID).WithFlow(fl.ID, s.ID)
	}

	if !op.AllowsPersona(s.Persona) {
		target, rec, newPersona, err := e.failStep(fl, s.ID, "operation", s.Persona, s.OperationID, s.OnFailure, working)
		return target, rec, nil, newPersona, err
	}

	holds := true
	if op.Precondition != nil {
		collector := predicate.NewCollector()
		h, err := predicate.Eval(op.Precondition, snap.facts, snap.verdicts, collector)
		if err != nil {
			return bundle.Target{}, StepRecord{}, nil, "", err
		}
		holds = h
	}
	if !holds {
		target, rec, newPersona, err := e.failStep(fl, s.ID, "operation", s.Persona, s.OperationID, s.OnFailure, working)
		return target, rec, nil, newPersona, err
	}

	var changes []EntityStateChange
	bindings := map[string]string{}
	outcome := ""
	for _, effect := range op.Effects {
		key := StateKey{EntityID: effect.EntityID, InstanceID: instanceFor(working, effect.EntityID)}
		current, ok := working[key]
		if !ok || current != effect.From {
			target, rec, newPersona, err := e.failStep(fl, s.ID, "operation", s.Persona, s.OperationID, s.OnFailure, working)
			return target, rec, nil, newPersona, err
		}
		working[key] = effect.To
		bindings[effect.EntityID] = key.InstanceID
		changes = append(changes, EntityStateChange{EntityID: effect.EntityID, InstanceID: key.InstanceID, FromState: effect.From, ToState: effect.To})
		if effect.Outcome != "" {
			outcome = effect.Outcome
		}
	}
	if outcome == "" && len(op.Outcomes) == 1 {
		outcome = op.Outcomes[0]
	}

	target, ok := s.Outcomes[outcome]
	if !ok {
		return bundle.Target{}, StepRecord{}, nil, "", tenorerr.New(tenorerr.KindFlowError, "step %q has no route for outcome %q", s.ID, outcome).WithFlow(fl.ID, s.ID)
	}

	rec := StepRecord{StepID: s.ID, StepKind: "operation", Persona: s.Persona, OperationID: s.OperationID, Outcome: outcome, InstanceBindings: bindings}
	return target, rec, changes, "", nil
}

// instanceFor picks the instance an effect binds to when the bundle does
// not name one: the lexicographically smallest instance id of the entity.
func instanceFor(working States, entityID string) string {
	best := ""
	for k := range working {
		if k.EntityID == entityID && (best == "" || k.InstanceID < best) {
			best = k.InstanceID
		}
	}
	return best
}

func (e *Executor) execBranchStep(fl *bundle.Flow, s bundle.BranchStep, snap snapshot) (bundle.Target, StepRecord, []EntityStateChange, string, error) {
	collector := predicate.NewCollector()
	holds, err := predicate.Eval(s.Condition, snap.facts, snap.verdicts, collector)
	if err != nil {
		return bundle.Target{}, StepRecord{}, nil, "", err
	}
	target := s.IfFalse
	outcome := "false"
	if holds {
		target = s.IfTrue
		outcome = "true"
	}
	rec := StepRecord{StepID: s.ID, StepKind: "branch", Outcome: outcome}
	return target, rec, nil, "", nil
}

func (e *Executor) execHandoffStep(s bundle.HandoffStep) (bundle.Target, StepRecord, []EntityStateChange, string, error) {
	rec := StepRecord{StepID: s.ID, StepKind: "handoff", Persona: s.Persona}
	return s.Next, rec, nil, s.Persona, nil
}

func (e *Executor) execSubflowStep(ctx context.Context, fl *bundle.Flow, s bundle.SubflowStep, working States, persona string, facts bundle.FactSet, depth int) (bundle.Target, StepRecord, []EntityStateChange, string, error) {
	sub, ok := e.Contract.Flow(s.FlowID)
	if !ok {
		return bundle.Target{}, StepRecord{}, nil, "", tenorerr.New(tenorerr.KindFlowError, "subflow step %q references unknown flow %q", s.ID, s.FlowID).WithFlow(fl.ID, s.ID)
	}

	result, err := e.run(ctx, sub, sub.EntryStep, working, persona, facts, depth+1)
	if err != nil {
		return bundle.Target{}, StepRecord{}, nil, "", err
	}

	for k, v := range result.FinalStates {
		working[k] = v
	}

	succeeded := containsStr(s.SuccessOutcomes, result.Outcome)
	target := s.OnFailure
	if succeeded {
		target = s.OnSuccess
	}
	rec := StepRecord{StepID: s.ID, StepKind: "subflow", Outcome: result.Outcome}
	return target, rec, result.EntityStateChanges, result.FinalPersona, nil
}

func (e *Executor) execParallelStep(ctx context.Context, fl *bundle.Flow, s bundle.ParallelStep, working States, persona string, facts bundle.FactSet, depth int) (bundle.Target, StepRecord, []EntityStateChange, string, error) {
	type branchOutcome struct {
		name   string
		result Result
		failed bool
	}

	outcomes := make([]branchOutcome, 0, len(s.Branches))
	var allChanges []EntityStateChange
	var branchResults []BranchResult

	for _, branch := range s.Branches {
		if _, ok := fl.Steps[branch.EntryStep]; !ok {
			return bundle.Target{}, StepRecord{}, nil, "", tenorerr.New(tenorerr.KindFlowError, "parallel branch %q entry step %q not found", branch.Name, branch.EntryStep).WithFlow(fl.ID, s.ID)
		}

		result, err := e.run(ctx, fl, branch.EntryStep, working.Clone(), persona, facts, depth+1)
		if err != nil {
			return bundle.Target{}, StepRecord{}, nil, "", err
		}

		failed := result.Outcome == "" || result.Outcome == "failure" || result.Outcome == "failed"
		outcomes = append(outcomes, branchOutcome{name: branch.Name, result: result, failed: failed})
		branchResults = append(branchResults, BranchResult{Branch: branch.Name, Outcome: result.Outcome, Steps: result.StepsExecuted})
	}

	merged := working
	for _, o := range outcomes {
		for _, change := range o.result.EntityStateChanges {
			key := StateKey{EntityID: change.EntityID, InstanceID: change.InstanceID}
			if existing, ok := merged[key]; ok && existing != change.FromState && existing != change.ToState {
				return bundle.Target{}, StepRecord{}, nil, "", tenorerr.New(tenorerr.KindFlowError, "conflicting parallel updates to %s/%s", change.EntityID, change.InstanceID).WithFlow(fl.ID, s.ID)
			}
			merged[key] = change.ToState
			allChanges = append(allChanges, change)
		}
	}

	firstFailed := ""
	allSuccess := true
	for _, o := range outcomes {
		if o.failed {
			if firstFailed == "" {
				firstFailed = o.name
			}
			allSuccess = false
		}
	}

	rec := StepRecord{StepID: s.ID, StepKind: "parallel", BranchOutcomes: branchResults}

	switch s.Policy {
	case bundle.JoinOnAnyFailure:
		if firstFailed != "" {
			if s.OnFailure == nil {
				return bundle.Target{}, StepRecord{}, nil, "", tenorerr.New(tenorerr.KindFlowError, "parallel step %q: branch %q failed under on_any_failure with no failure handler", s.ID, firstFailed).WithFlow(fl.ID, s.ID)
			}
			target, frec, newPersona, err := e.failStep(fl, s.ID, "parallel", persona, "", s.OnFailure, working)
			frec.BranchOutcomes = branchResults
			return target, frec, allChanges, newPersona, err
		}
		return s.Join, rec, allChanges, "", nil
	case bundle.JoinOnAllSuccess:
		if !allSuccess {
			return bundle.Target{}, StepRecord{}, nil, "", tenorerr.New(tenorerr.KindFlowError, "parallel step %q: not all branches succeeded under on_all_success", s.ID).WithFlow(fl.ID, s.ID)
		}
		return s.Join, rec, allChanges, "", nil
	case bundle.JoinOnAllComplete:
		return s.Join, rec, allChanges, "", nil
	default:
		return s.Join, rec, allChanges, "", nil
	}
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// failStep dispatches a step's failure handler, returning the next target
// and the persona the flow continues under — non-empty only when the
// handler is an Escalate, mirroring the Persona field execStep's other
// callers return.
func (e *Executor) failStep(fl *bundle.Flow, stepID, stepKind, persona, operationID string, handler bundle.FailureHandler, working States) (bundle.Target, StepRecord, string, error) {
	if handler == nil {
		return bundle.Target{}, StepRecord{}, "", tenorerr.New(tenorerr.KindFlowError, "step %q failed with no failure handler declared", stepID).WithFlow(fl.ID, stepID)
	}

	switch h := handler.(type) {
	case bundle.Terminate:
		return bundle.Target{Outcome: h.Outcome}, StepRecord{StepID: stepID, StepKind: stepKind, Persona: persona, OperationID: operationID, Outcome: h.Outcome}, "", nil

	case bundle.Compensate:
		for _, comp := range h.Steps {
			op, ok := e.Contract.Operation(comp.OperationID)
			if !ok {
				return bundle.Target{}, StepRecord{}, "", tenorerr.New(tenorerr.KindFlowError, "compensation step references unknown operation %q", comp.OperationID).WithFlow(fl.ID, stepID)
			}
			if err := applyCompensation(op, working); err != nil {
				if comp.OnFailure != nil {
					return e.failStep(fl, stepID, stepKind, persona, comp.OperationID, comp.OnFailure, working)
				}
				return bundle.Target{Outcome: "compensation_failed"}, StepRecord{StepID: stepID, StepKind: stepKind}, "", nil
			}
		}
		return h.Then, StepRecord{StepID: stepID, StepKind: stepKind, Persona: persona, OperationID: operationID, Outcome: "compensated"}, "", nil

	case bundle.Escalate:
		return h.Next, StepRecord{StepID: stepID, StepKind: stepKind, Persona: h.ToPersona, OperationID: operationID, Outcome: "escalated"}, h.ToPersona, nil

	default:
		return bundle.Target{}, StepRecord{}, "", tenorerr.New(tenorerr.KindFlowError, "failure handler %T is not a recognized kind", handler).WithFlow(fl.ID, stepID)
	}
}

func applyCompensation(op *bundle.Operation, working States) error {
	for _, effect := range op.Effects {
		key := StateKey{EntityID: effect.EntityID, InstanceID: instanceFor(working, effect.EntityID)}
		current, ok := working[key]
		if !ok || current != effect.From {
			return tenorerr.New(tenorerr.KindStateMismatch, "compensation operation %q: instance not at expected state %q", op.ID, effect.From)
		}
		working[key] = effect.To
	}
	return nil
}
