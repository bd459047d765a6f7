package analyzer

import (
	"fmt"
	"sort"

	"github.com/riverline-labs/tenor/pkg/bundle"
)

// Default bounds for S6 path enumeration (section 4.9). Configurable by
// callers that need tighter or looser limits; these mirror the spec's
// named defaults.
const (
	DefaultMaxPaths = 10000
	DefaultMaxDepth = 1000
)

// PathStep is one hop recorded along an enumerated execution path.
type PathStep struct {
	StepID   string
	StepKind string
	Outcome  string // the routing label taken at this hop ("" for handoff/subflow)
}

// Path is one complete route through a flow's step graph, from the entry
// step to a terminal outcome (or a truncation/cycle marker).
type Path struct {
	Steps           []PathStep
	TerminalOutcome string // set when the path reached a real terminal
	CycleDetected   bool   // set when the path revisited a step in this traversal
	Truncated       bool   // set when MaxDepth was hit before a terminal
}

// FlowPathReport is S6's output for one flow: every enumerated path, plus
// whether the overall enumeration hit MAX_PATHS before exhausting the
// graph.
type FlowPathReport struct {
	FlowID    string
	Paths     []Path
	Truncated bool // true iff MaxPaths was reached and enumeration stopped early
}

// PathBounds configures S6's enumeration limits. A zero value is replaced
// by the package defaults.
type PathBounds struct {
	MaxPaths int
	MaxDepth int
}

func (b PathBounds) resolve() PathBounds {
	if b.MaxPaths <= 0 {
		b.MaxPaths = DefaultMaxPaths
	}
	if b.MaxDepth <= 0 {
		b.MaxDepth = DefaultMaxDepth
	}
	return b
}

// EnumeratePaths walks every step kind in fl per section 4.9's S6: operation
// steps branch on each declared outcome, branch-steps fan out into
// true/false, subflow steps branch on success/failure without recursing
// into the named flow (that flow gets its own report), and parallel steps
// collapse to a single hop ending at the join target — the engine never
// re-derives which branches of a parallel step would run, only that the
// step as a whole routes to Join. A step revisited within one traversal
// records a terminal cycle_detected instead of looping forever; exceeding
// MaxDepth on one path records that path as Truncated, and exceeding
// MaxPaths across the whole flow halts enumeration early and marks the
// report Truncated.
func EnumeratePaths(fl *bundle.Flow, bounds PathBounds) FlowPathReport {
	bounds = bounds.resolve()
	report := FlowPathReport{FlowID: fl.ID}

	var walk func(stepID string, visited map[string]bool, trail []PathStep, depth int)
	walk = func(stepID string, visited map[string]bool, trail []PathStep, depth int) {
		if len(report.Paths) >= bounds.MaxPaths {
			report.Truncated = true
			return
		}
		if visited[stepID] {
			report.Paths = append(report.Paths, Path{Steps: append([]PathStep{}, trail...), CycleDetected: true})
			return
		}
		if depth > bounds.MaxDepth {
			report.Paths = append(report.Paths, Path{Steps: append([]PathStep{}, trail...), Truncated: true})
			return
		}

		step, ok := fl.Steps[stepID]
		if !ok {
			report.Paths = append(report.Paths, Path{Steps: append([]PathStep{}, trail...), TerminalOutcome: fmt.Sprintf("error:missing_step:%s", stepID)})
			return
		}

		nextVisited := make(map[string]bool, len(visited)+1)
		for k := range visited {
			nextVisited[k] = true
		}
		nextVisited[stepID] = true

		follow := func(kind, outcome string, target bundle.Target) {
			hop := PathStep{StepID: stepID, StepKind: kind, Outcome: outcome}
			nextTrail := append(append([]PathStep{}, trail...), hop)
			if target.IsTerminal() {
				if len(report.Paths) >= bounds.MaxPaths {
					report.Truncated = true
					return
				}
				report.Paths = append(report.Paths, Path{Steps: nextTrail, TerminalOutcome: target.Outcome})
				return
			}
			walk(target.StepID, nextVisited, nextTrail, depth+1)
		}

		switch s := step.(type) {
		case bundle.OperationStep:
			if len(s.Outcomes) == 0 {
				report.Paths = append(report.Paths, Path{Steps: append(append([]PathStep{}, trail...), PathStep{StepID: stepID, StepKind: "operation"}), TerminalOutcome: "error:no_routes"})
				return
			}
			outcomes := make([]string, 0, len(s.Outcomes))
			for outcome := range s.Outcomes {
				outcomes = append(outcomes, outcome)
			}
			sort.Strings(outcomes)
			for _, outcome := range outcomes {
				follow("operation", outcome, s.Outcomes[outcome])
			}
			followFailure(&report, s.OnFailure, stepID, "operation", trail, nextVisited, depth, bounds, walk)
		case bundle.BranchStep:
			follow("branch", "true", s.IfTrue)
			follow("branch", "false", s.IfFalse)
		case bundle.HandoffStep:
			follow("handoff", "", s.Next)
		case bundle.SubflowStep:
			follow("subflow", "success", s.OnSuccess)
			follow("subflow", "failure", s.OnFailure)
		case bundle.ParallelStep:
			follow("parallel", string(s.Policy), s.Join)
		default:
			report.Paths = append(report.Paths, Path{Steps: append(append([]PathStep{}, trail...), PathStep{StepID: stepID, StepKind: "unknown"}), TerminalOutcome: "error:unknown_step_kind"})
		}
	}

	walk(fl.EntryStep, map[string]bool{}, nil, 0)
	return report
}

// followFailure walks a failure handler's own routing the same way an
// ordinary step target is walked: Terminate ends the path at its declared
// outcome, Compensate continues at Then once its compensation list is
// (conceptually) exhausted, and Escalate continues at Next.
func followFailure(report *FlowPathReport, h bundle.FailureHandler, stepID, kind string, trail []PathStep, visited map[string]bool, depth int, bounds PathBounds, walk func(string, map[string]bool, []PathStep, int)) {
	if h == nil {
		return
	}
	if len(report.Paths) >= bounds.MaxPaths {
		report.Truncated = true
		return
	}
	hop := PathStep{StepID: stepID, StepKind: kind, Outcome: "failure"}
	nextTrail := append(append([]PathStep{}, trail...), hop)

	switch handler := h.(type) {
	case bundle.Terminate:
		report.Paths = append(report.Paths, Path{Steps: nextTrail, TerminalOutcome: handler.Outcome})
	case bundle.Compensate:
		if handler.Then.IsTerminal() {
			report.Paths = append(report.Paths, Path{Steps: nextTrail, TerminalOutcome: handler.Then.Outcome})
			return
		}
		if len(report.Paths) >= bounds.MaxPaths {
			report.Truncated = true
			return
		}
		walk(handler.Then.StepID, visited, nextTrail, depth+1)
	case bundle.Escalate:
		if handler.Next.IsTerminal() {
			report.Paths = append(report.Paths, Path{Steps: nextTrail, TerminalOutcome: handler.Next.Outcome})
			return
		}
		if len(report.Paths) >= bounds.MaxPaths {
			report.Truncated = true
			return
		}
		walk(handler.Next.StepID, visited, nextTrail, depth+1)
	}
}

// EnumerateAllPaths runs S6 over every flow declared in contract.
func EnumerateAllPaths(contract *bundle.Contract, bounds PathBounds) []FlowPathReport {
	reports := make([]FlowPathReport, 0, len(contract.Flows()))
	for _, fl := range contract.Flows() {
		reports = append(reports, EnumeratePaths(fl, bounds))
	}
	return reports
}
