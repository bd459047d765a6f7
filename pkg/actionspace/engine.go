// Package actionspace computes the set of flows a persona may legally
// initiate given a contract, a fact set, and the current entity-instance
// states (section 4.4).
package actionspace

import (
	"sort"

	"github.com/riverline-labs/tenor/pkg/bundle"
	"github.com/riverline-labs/tenor/pkg/predicate"
	"github.com/riverline-labs/tenor/pkg/rules"
)

// InstanceKey identifies one entity instance.
type InstanceKey struct {
	EntityID   string
	InstanceID string
}

// InstanceStates maps entity instances to their current state.
type InstanceStates map[InstanceKey]string

// BlockReason is one of the tagged reasons a flow's entry operation is
// not currently legal for a persona.
type BlockReason string

const (
	ReasonPersonaNotAuthorized BlockReason = "PersonaNotAuthorized"
	ReasonEntityInWrongState   BlockReason = "EntityInWrongState"
	ReasonPreconditionNotMet   BlockReason = "PreconditionNotMet"
	ReasonNoEntryOperation     BlockReason = "NoEntryOperation"
)

// AffectedEntity describes one entity instance an action would transition.
type AffectedEntity struct {
	EntityID            string
	InstanceID          string
	CurrentState        string
	PossibleTransitions []string
}

// Action is one legal flow-initiation opportunity for a persona.
type Action struct {
	FlowID           string
	Persona          string
	EntryOperation   string
	EnablingVerdicts []string
	AffectedEntities []AffectedEntity
	Description      string
}

// Blocked is a flow whose entry operation failed one of the legality
// checks, carrying why rather than being silently dropped.
type Blocked struct {
	FlowID string
	Reason BlockReason
	Detail string
}

// Result is the full action space for one (contract, facts, states, persona)
// evaluation.
type Result struct {
	Actions []Action
	Blocked []Blocked
}

// Compute evaluates rules once, then inspects every flow's entry step to
// decide whether persona may legally initiate it right now.
func Compute(contract *bundle.Contract, facts bundle.FactSet, states InstanceStates, persona string) (Result, error) {
	verdicts, err := rules.Evaluate(contract, facts)
	if err != nil {
		return Result{}, err
	}

	res := Result{}
	for _, flow := range contract.Flows() {
		op, ok := entryOperation(contract, flow)
		if !ok {
			res.Blocked = append(res.Blocked, Blocked{FlowID: flow.ID, Reason: ReasonNoEntryOperation, Detail: "entry step resolves to no reachable operation"})
			continue
		}

		if !op.AllowsPersona(persona) {
			res.Blocked = append(res.Blocked, Blocked{FlowID: flow.ID, Reason: ReasonPersonaNotAuthorized, Detail: "persona " + persona + " is not in allowed_personas for " + op.ID})
			continue
		}

		matched, affected := matchingInstances(op, states)
		if !matched {
			res.Blocked = append(res.Blocked, Blocked{FlowID: flow.ID, Reason: ReasonEntityInWrongState, Detail: "no initialized instance is in a state matching an effect's from_state"})
			continue
		}

		collector := predicate.NewCollector()
		holds := true
		if op.Precondition != nil {
			h, err := predicate.Eval(op.Precondition, facts, verdicts, collector)
			if err != nil {
				return Result{}, err
			}
			holds = h
		}
		if !holds {
			res.Blocked = append(res.Blocked, Blocked{FlowID: flow.ID, Reason: ReasonPreconditionNotMet, Detail: "precondition for " + op.ID + " evaluated false"})
			continue
		}

		res.Actions = append(res.Actions, Action{
			FlowID:           flow.ID,
			Persona:          persona,
			EntryOperation:   op.ID,
			EnablingVerdicts: collector.Finalize("", 0).VerdictsUsed,
			AffectedEntities: affected,
			Description:      persona + " may initiate " + flow.ID + " via " + op.ID,
		})
	}

	return res, nil
}

// entryOperation traces forward from a flow's entry step through
// non-branching structural steps (branch, handoff) until an operation-step
// or a terminal is reached. Per section 4.4 the action-space engine never
// simulates fact-dependent branches — it treats both arms of a branch as
// potentially reachable and follows the first operation it finds down
// either arm, which is sufficient because legality only needs one
// reachable entry operation to exist.
func entryOperation(contract *bundle.Contract, flow *bundle.Flow) (*bundle.Operation, bool) {
	visited := map[string]bool{}
	var walk func(stepID string) (*bundle.Operation, bool)
	walk = func(stepID string) (*bundle.Operation, bool) {
		if visited[stepID] {
			return nil, false
		}
		visited[stepID] = true
		step, ok := flow.Steps[stepID]
		if !ok {
			return nil, false
		}
		switch s := step.(type) {
		case bundle.OperationStep:
			return contract.Operation(s.OperationID)
		case bundle.BranchStep:
			if !s.IfTrue.IsTerminal() {
				if op, ok := walk(s.IfTrue.StepID); ok {
					return op, true
				}
			}
			if !s.IfFalse.IsTerminal() {
				return walk(s.IfFalse.StepID)
			}
			return nil, false
		case bundle.HandoffStep:
			if s.Next.IsTerminal() {
				return nil, false
			}
			return walk(s.Next.StepID)
		default:
			// Subflow and parallel entry steps are not traced further; the
			// action space reports them only if the bundle places an
			// operation-step at the literal entry.
			return nil, false
		}
	}
	return walk(flow.EntryStep)
}

// matchingInstances reports whether some initialized instance of some
// entity targeted by op's effects is currently in a state matching that
// effect's from_state, choosing bindings deterministically by lexicographic
// instance_id when more than one instance qualifies (section 4.4 tie-break).
func matchingInstances(op *bundle.Operation, states InstanceStates) (bool, []AffectedEntity) {
	type candidate struct {
		key   InstanceKey
		state string
	}
	byEntity := map[string][]candidate{}
	for key, state := range states {
		byEntity[key.EntityID] = append(byEntity[key.EntityID], candidate{key: key, state: state})
	}

	var affected []AffectedEntity
	matched := false
	for _, effect := range op.Effects {
		candidates := byEntity[effect.EntityID]
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].key.InstanceID < candidates[j].key.InstanceID })
		for _, cand := range candidates {
			if cand.state != effect.From {
				continue
			}
			matched = true
			affected = append(affected, AffectedEntity{
				EntityID:            effect.EntityID,
				InstanceID:          cand.key.InstanceID,
				CurrentState:        cand.state,
				PossibleTransitions: []string{effect.To},
			})
			break
		}
	}
	return matched, affected
}
