// Package rules implements the stratified rule engine of section 4.3: one
// pass from stratum 0 upward, no fixed-point required because strata are
// acyclic by construction.
package rules

import (
	"github.com/riverline-labs/tenor/pkg/bundle"
	"github.com/riverline-labs/tenor/pkg/predicate"
	"github.com/riverline-labs/tenor/pkg/tenorerr"
)

// Evaluate runs every rule in contract once, in stratum order, against
// facts, and returns the resulting verdict set. Rules within a stratum are
// independent — their relative firing order is not observable — so they
// are evaluated in declaration order for determinism of iteration, not
// because order matters to the result.
func Evaluate(contract *bundle.Contract, facts bundle.FactSet) (bundle.VerdictSet, error) {
	rulesByStratum := map[int][]*bundle.Rule{}
	maxStratum := 0
	for _, r := range contract.Rules() {
		rulesByStratum[r.Stratum] = append(rulesByStratum[r.Stratum], r)
		if r.Stratum > maxStratum {
			maxStratum = r.Stratum
		}
	}

	verdicts := bundle.VerdictSet{}
	for n := 0; n <= maxStratum; n++ {
		for _, r := range rulesByStratum[n] {
			v, fired, err := fire(r, facts, verdicts)
			if err != nil {
				return nil, tenorerr.Wrap(tenorerr.KindTypeError, err, "rule %q failed to evaluate", r.ID).WithRule(r.ID, r.Stratum)
			}
			if fired {
				verdicts = append(verdicts, v)
			}
		}
	}
	return verdicts, nil
}

func fire(r *bundle.Rule, facts bundle.FactSet, verdicts bundle.VerdictSet) (bundle.Verdict, bool, error) {
	collector := predicate.NewCollector()
	holds, err := predicate.Eval(r.Condition, facts, verdicts, collector)
	if err != nil {
		return bundle.Verdict{}, false, err
	}
	if !holds {
		return bundle.Verdict{}, false, nil
	}

	payload, err := predicate.EvalValue(r.Produce.Payload, facts, verdicts, collector)
	if err != nil {
		return bundle.Verdict{}, false, err
	}

	return bundle.Verdict{
		Type:       r.Produce.VerdictType,
		Payload:    payload,
		Provenance: collector.Finalize(r.ID, r.Stratum),
	}, true, nil
}
