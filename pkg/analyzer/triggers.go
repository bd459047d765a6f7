package analyzer

import (
	"sort"

	"github.com/riverline-labs/tenor/pkg/bundle"
)

// TriggerEdge is one cross-contract flow trigger exposed as a graph edge:
// SourceContract.SourceFlow reaching Condition advances TargetContract's
// TargetFlow under Persona.
type TriggerEdge struct {
	SystemID       string
	SourceContract string
	SourceFlow     string
	TargetContract string
	TargetFlow     string
	Persona        string
}

// TriggerGraph is the system-level trigger graph collected from one or
// more System constructs: edges keyed by "contract.flow" on both ends so
// cycle detection can walk it independent of which system declared an
// edge.
type TriggerGraph struct {
	Edges []TriggerEdge
}

func triggerNode(contract, flow string) string { return contract + "." + flow }

// CollectTriggers gathers every System's cross-contract flow triggers into
// a single graph (section 4.9, system-level analysis).
func CollectTriggers(systems ...*bundle.System) TriggerGraph {
	var g TriggerGraph
	for _, sys := range systems {
		for _, t := range sys.Triggers {
			g.Edges = append(g.Edges, TriggerEdge{
				SystemID:       sys.ID,
				SourceContract: t.SourceContract,
				SourceFlow:     t.SourceFlow,
				TargetContract: t.TargetContract,
				TargetFlow:     t.TargetFlow,
				Persona:        t.Persona,
			})
		}
	}
	return g
}

// Cycles returns the cycles in the trigger graph (trigger chains that
// return to their own starting contract.flow node) found by a DFS with a
// recursion-stack marker, so indirect cycles (A -> B -> A) are caught as
// well as a single trigger targeting its own source flow. Each edge that
// reaches a node still on the stack yields one cycle, starting at that
// node. Every node is explored once, so a cycle that closes only through
// a node already fully explored is not reported: the result is non-empty
// iff the graph has a cycle, but it is not every simple cycle.
func (g TriggerGraph) Cycles() [][]TriggerEdge {
	adjacency := map[string][]TriggerEdge{}
	for _, e := range g.Edges {
		from := triggerNode(e.SourceContract, e.SourceFlow)
		adjacency[from] = append(adjacency[from], e)
	}

	var cycles [][]TriggerEdge
	onStack := map[string]bool{}
	visited := map[string]bool{}
	var path []TriggerEdge

	var visit func(node string)
	visit = func(node string) {
		visited[node] = true
		onStack[node] = true
		for _, e := range adjacency[node] {
			to := triggerNode(e.TargetContract, e.TargetFlow)
			path = append(path, e)
			if onStack[to] {
				start := 0
				for i, pe := range path {
					if triggerNode(pe.SourceContract, pe.SourceFlow) == to {
						start = i
						break
					}
				}
				cycle := make([]TriggerEdge, len(path)-start)
				copy(cycle, path[start:])
				cycles = append(cycles, cycle)
			} else if !visited[to] {
				visit(to)
			}
			path = path[:len(path)-1]
		}
		onStack[node] = false
	}

	seen := map[string]bool{}
	var nodes []string
	for _, e := range g.Edges {
		n := triggerNode(e.SourceContract, e.SourceFlow)
		if !seen[n] {
			seen[n] = true
			nodes = append(nodes, n)
		}
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		if !visited[node] {
			visit(node)
		}
	}
	return cycles
}
