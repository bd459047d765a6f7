// Package flow drives a bundle.Flow from its entry step to a terminal
// outcome (section 4.5), mutating a working entity-state map and recording
// an ordered trace of executed steps.
package flow

import (
	"context"

	"github.com/riverline-labs/tenor/pkg/bundle"
	"github.com/riverline-labs/tenor/pkg/rules"
	"github.com/riverline-labs/tenor/pkg/tenorerr"
)

// Limits bounds a flow execution; the exact numbers are configuration but
// the bounds must exist (section 4.5).
type Limits struct {
	MaxSteps int
	MaxDepth int
}

// DefaultLimits matches the defaults named in section 4.5.
var DefaultLimits = Limits{MaxSteps: 1000, MaxDepth: 64}

// States is the working entity-state map threaded through a flow
// execution, keyed by (entity_id, instance_id).
type States map[StateKey]string

// StateKey identifies one entity instance.
type StateKey struct {
	EntityID   string
	InstanceID string
}

// Clone returns an independent copy for parallel-branch sub-traversal.
func (s States) Clone() States {
	out := make(States, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// BranchResult records one parallel branch's own terminal outcome, used by
// a ParallelStep's StepRecord so callers can distinguish which branch
// failed rather than only "a" branch failing.
type BranchResult struct {
	Branch  string
	Outcome string
	Steps   []StepRecord
}

// StepRecord is one entry in the executed-step trace (section 4.5 and its
// wire form in section 6.4).
type StepRecord struct {
	StepID           string
	StepKind         string
	Persona          string
	OperationID      string
	Outcome          string
	InstanceBindings map[string]string
	BranchOutcomes   []BranchResult
}

// EntityStateChange is one committed (or about-to-be-committed) transition
// produced by a flow run.
type EntityStateChange struct {
	EntityID   string
	InstanceID string
	FromState  string
	ToState    string
}

// Result is the outcome of driving a flow to completion.
type Result struct {
	Outcome            string
	StepsExecuted      []StepRecord
	EntityStateChanges []EntityStateChange
	FinalStates        States
	FinalPersona       string
}

// FactSource re-reads the external fact set for one snapshot capture.
// The executor invokes it once before the entry step under at_initiation
// and again before every step under per_step, so an adapter-backed fact
// may change mid-flow exactly as often as the policy recaptures — wire
// fact.Provider.Resolve in here to make per_step observable. A nil
// FactSource freezes the facts passed to Run for the whole execution.
type FactSource func(ctx context.Context) (bundle.FactSet, error)

// Executor resolves operations/flows by id against a contract and fact
// source to drive step execution.
type Executor struct {
	Contract *bundle.Contract
	Limits   Limits
	Facts    FactSource
}

// New builds an Executor with default step/depth limits.
func New(contract *bundle.Contract) *Executor {
	return &Executor{Contract: contract, Limits: DefaultLimits}
}

// snapshot is the (facts, verdicts) pair whose freshness is governed by the
// flow's SnapshotPolicy.
type snapshot struct {
	facts    bundle.FactSet
	verdicts bundle.VerdictSet
}

func (e *Executor) snapshotFor(facts bundle.FactSet) (snapshot, error) {
	verdicts, err := rules.Evaluate(e.Contract, facts)
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{facts: facts, verdicts: verdicts}, nil
}

func (e *Executor) resolveFacts(ctx context.Context, current bundle.FactSet) (bundle.FactSet, error) {
	if e.Facts == nil {
		return current, nil
	}
	return e.Facts(ctx)
}

// Run drives flowID from its entry step under the given starting states,
// persona, and externally supplied facts. Under at_initiation the fact
// set is resolved here, once; under per_step resolution is deferred to
// the per-step recapture inside run.
func (e *Executor) Run(ctx context.Context, flowID string, states States, persona string, facts bundle.FactSet) (Result, error) {
	flow, ok := e.Contract.Flow(flowID)
	if !ok {
		return Result{}, tenorerr.New(tenorerr.KindFlowError, "unknown flow %q", flowID).WithFlow(flowID, "")
	}
	if flow.SnapshotPolicy != bundle.SnapshotPerStep {
		var err error
		facts, err = e.resolveFacts(ctx, facts)
		if err != nil {
			return Result{}, err
		}
	}
	return e.run(ctx, flow, flow.EntryStep, states, persona, facts, 0)
}

// run drives fl starting at entryStep, which is either the flow's own
// EntryStep or — for a parallel branch's independent sub-traversal — one
// of its ParallelBranch.EntryStep values within the same Steps map.
func (e *Executor) run(ctx context.Context, fl *bundle.Flow, entryStep string, states States, persona string, facts bundle.FactSet, depth int) (Result, error) {
	if depth >= e.Limits.MaxDepth {
		return Result{}, tenorerr.New(tenorerr.KindFlowError, "depth_limit_exceeded").WithFlow(fl.ID, "")
	}

	working := states.Clone()

	// Under at_initiation the snapshot is captured once here and reused
	// for every step, including subflows launched with their own
	// at_initiation (their run receives the same facts and recomputes an
	// identical snapshot). Under per_step no capture happens until the
	// loop re-resolves facts before each step.
	var snap snapshot
	if fl.SnapshotPolicy != bundle.SnapshotPerStep {
		var err error
		snap, err = e.snapshotFor(facts)
		if err != nil {
			return Result{}, err
		}
	}

	var trace []StepRecord
	var changes []EntityStateChange
	cursor := entryStep
	steps := 0

	for {
		if steps >= e.Limits.MaxSteps {
			return Result{}, tenorerr.New(tenorerr.KindFlowError, "step_limit_exceeded").WithFlow(fl.ID, cursor)
		}
		steps++

		step, ok := fl.Steps[cursor]
		if !ok {
			return Result{}, tenorerr.New(tenorerr.KindFlowError, "step %q not found", cursor).WithFlow(fl.ID, cursor)
		}

		if fl.SnapshotPolicy == bundle.SnapshotPerStep {
			var err error
			facts, err = e.resolveFacts(ctx, facts)
			if err != nil {
				return Result{}, err
			}
			snap, err = e.snapshotFor(facts)
			if err != nil {
				return Result{}, err
			}
		}

		target, record, stepChanges, newPersona, stepErr := e.execStep(ctx, fl, step, working, persona, snap, facts, depth)
		if stepErr != nil {
			return Result{}, stepErr
		}
		trace = append(trace, record)
		changes = append(changes, stepChanges...)
		if newPersona != "" {
			persona = newPersona
		}

		if target.IsTerminal() {
			return Result{
				Outcome:            target.Outcome,
				StepsExecuted:      trace,
				EntityStateChanges: changes,
				FinalStates:        working,
				FinalPersona:       persona,
			}, nil
		}
		cursor = target.StepID
	}
}

func (e *Executor) execStep(ctx context.Context, fl *bundle.Flow, step bundle.Step, working States, persona string, snap snapshot, facts bundle.FactSet, depth int) (bundle.Target, StepRecord, []EntityStateChange, string, error) {
	switch s := step.(type) {
	case bundle.OperationStep:
		return e.execOperationStep(fl, s, working, persona, snap)
	case bundle.BranchStep:
		return e.execBranchStep(fl, s, snap)
	case bundle.HandoffStep:
		return e.execHandoffStep(s)
	case bundle.SubflowStep:
		return e.execSubflowStep(ctx, fl, s, working, persona, facts, depth)
	case bundle.ParallelStep:
		return e.execParallelStep(ctx, fl, s, working, persona, facts, depth)
	default:
		return bundle.Target{}, StepRecord{}, nil, "", tenorerr.New(tenorerr.KindFlowError, "step %T is not a recognized kind", step).WithFlow(fl.ID, bundle.StepID(step))
	}
}
