// Package predicate evaluates bundle.Expr trees against a fact set and a
// verdict set, accumulating provenance as it goes (section 4.2).
//
// Boolean connectives and quantifiers deliberately never short-circuit:
// section 4.2 requires provenance to be deterministic across backends, and
// the simplest correct way to guarantee that is to always evaluate every
// operand and fold the accumulated fact/verdict references regardless of
// which operand decided the result.
package predicate

import (
	"sort"

	"github.com/riverline-labs/tenor/pkg/bundle"
	"github.com/riverline-labs/tenor/pkg/numeric"
	"github.com/riverline-labs/tenor/pkg/tenorerr"
)

// Collector accumulates the fact ids and verdict types read during one
// evaluation. Zero value is ready to use.
type Collector struct {
	facts    map[string]struct{}
	verdicts map[string]struct{}
}

func NewCollector() *Collector {
	return &Collector{facts: map[string]struct{}{}, verdicts: map[string]struct{}{}}
}

func (c *Collector) recordFact(id string)   { c.facts[id] = struct{}{} }
func (c *Collector) recordVerdict(t string) { c.verdicts[t] = struct{}{} }

// Finalize produces an immutable Provenance record for a rule firing at
// the given stratum, with fact/verdict ids sorted for determinism.
func (c *Collector) Finalize(ruleID string, stratum int) bundle.Provenance {
	return bundle.Provenance{
		Rule:         ruleID,
		Stratum:      stratum,
		FactsUsed:    sortedSet(c.facts),
		VerdictsUsed: sortedSet(c.verdicts),
	}
}

func sortedSet(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// env is the read-only evaluation scope: the fact set, verdict set, and
// the quantifier-variable bindings in effect (record values, addressed by
// FieldRef).
type env struct {
	facts    bundle.FactSet
	verdicts bundle.VerdictSet
	vars     map[string]bundle.Value
}

func (e env) withVar(name string, v bundle.Value) env {
	next := make(map[string]bundle.Value, len(e.vars)+1)
	for k, val := range e.vars {
		next[k] = val
	}
	next[name] = v
	return env{facts: e.facts, verdicts: e.verdicts, vars: next}
}

// Eval evaluates a boolean expression tree, returning its result and
// recording every fact/verdict reference encountered along the way into
// collector regardless of short-circuit opportunities.
func Eval(expr bundle.Expr, facts bundle.FactSet, verdicts bundle.VerdictSet, collector *Collector) (bool, error) {
	v, err := evalValue(expr, env{facts: facts, verdicts: verdicts}, collector)
	if err != nil {
		return false, err
	}
	if v.Kind != bundle.KindBool {
		return false, tenorerr.New(tenorerr.KindTypeError, "predicate expression did not yield Bool, got %s", v.Kind)
	}
	return v.Bool, nil
}

// EvalValue evaluates any expression tree (including non-boolean payload
// expressions used by a rule's produce clause) to a Value.
func EvalValue(expr bundle.Expr, facts bundle.FactSet, verdicts bundle.VerdictSet, collector *Collector) (bundle.Value, error) {
	return evalValue(expr, env{facts: facts, verdicts: verdicts}, collector)
}

func evalValue(expr bundle.Expr, e env, c *Collector) (bundle.Value, error) {
	switch node := expr.(type) {
	case bundle.Literal:
		return node.Value, nil

	case bundle.FactRef:
		v, ok := e.facts[node.ID]
		if !ok {
			return bundle.Value{}, tenorerr.New(tenorerr.KindUnknownFact, "fact %q not present in fact set", node.ID)
		}
		c.recordFact(node.ID)
		return v, nil

	case bundle.FieldRef:
		bound, ok := e.vars[node.Var]
		if !ok {
			return bundle.Value{}, tenorerr.New(tenorerr.KindUnboundVariable, "variable %q is not bound", node.Var)
		}
		if bound.Kind != bundle.KindRecord {
			return bundle.Value{}, tenorerr.New(tenorerr.KindNotARecord, "variable %q is not a record", node.Var)
		}
		field, ok := bound.Record[node.Field]
		if !ok {
			return bundle.Value{}, tenorerr.New(tenorerr.KindNotARecord, "record bound to %q has no field %q", node.Var, node.Field)
		}
		return field, nil

	case bundle.VerdictPresent:
		c.recordVerdict(node.Type)
		return bundle.Value{Kind: bundle.KindBool, Bool: e.verdicts.HasType(node.Type)}, nil

	case bundle.Compare:
		return evalCompare(node, e, c)

	case bundle.And:
		return evalAnd(node, e, c)

	case bundle.Or:
		return evalOr(node, e, c)

	case bundle.Not:
		v, err := evalValue(node.Operand, e, c)
		if err != nil {
			return bundle.Value{}, err
		}
		if v.Kind != bundle.KindBool {
			return bundle.Value{}, tenorerr.New(tenorerr.KindTypeError, "Not operand must be Bool, got %s", v.Kind)
		}
		return bundle.Value{Kind: bundle.KindBool, Bool: !v.Bool}, nil

	case bundle.Mul:
		return evalMul(node, e, c)

	case bundle.Forall:
		return evalQuantifier(node.Var, node.VarType, node.Domain, node.Body, e, c, true)

	case bundle.Exists:
		return evalQuantifier(node.Var, node.VarType, node.Domain, node.Body, e, c, false)

	default:
		return bundle.Value{}, tenorerr.New(tenorerr.KindDeserialize, "unknown expression node %T", expr)
	}
}

func evalCompare(node bundle.Compare, e env, c *Collector) (bundle.Value, error) {
	left, err := evalValue(node.Left, e, c)
	if err != nil {
		return bundle.Value{}, err
	}
	right, err := evalValue(node.Right, e, c)
	if err != nil {
		return bundle.Value{}, err
	}

	// = and != are defined for every kind; without a hint they go through
	// Value.Equal rather than the ordering comparison.
	if node.ComparisonType == numeric.HintNone && (node.Op == numeric.OpEq || node.Op == numeric.OpNe) {
		eq, err := left.Equal(right)
		if err != nil {
			return bundle.Value{}, err
		}
		return bundle.Value{Kind: bundle.KindBool, Bool: eq == (node.Op == numeric.OpEq)}, nil
	}

	cmp, err := compareHinted(left, right, node.ComparisonType)
	if err != nil {
		return bundle.Value{}, err
	}
	result, err := numeric.ApplyOp(node.Op, cmp)
	if err != nil {
		return bundle.Value{}, err
	}
	return bundle.Value{Kind: bundle.KindBool, Bool: result}, nil
}

// compareHinted implements the promotion rules of section 4.1: a Decimal
// hint coerces both sides (promoting Int operands) to Decimal at the
// hint's scale; a Money hint requires both sides already be Money with
// matching currency; an Int hint requires both sides already be Int;
// without a hint the operator applies directly to matching value kinds.
func compareHinted(left, right bundle.Value, hint numeric.Hint) (int, error) {
	switch hint {
	case numeric.HintDecimal:
		ld, err := asDecimal(left, numeric.DecimalType{Precision: numeric.MaxRepresentablePrecision + 1})
		if err != nil {
			return 0, err
		}
		rd, err := asDecimal(right, numeric.DecimalType{Precision: numeric.MaxRepresentablePrecision + 1})
		if err != nil {
			return 0, err
		}
		return ld.Cmp(rd), nil

	case numeric.HintMoney:
		if left.Kind != bundle.KindMoney || right.Kind != bundle.KindMoney {
			return 0, tenorerr.New(tenorerr.KindTypeError, "Money comparison hint requires both operands to be Money")
		}
		return numeric.CompareMoney(left.Money, right.Money)

	case numeric.HintInt:
		if left.Kind != bundle.KindInt || right.Kind != bundle.KindInt {
			return 0, tenorerr.New(tenorerr.KindTypeError, "Int comparison hint requires both operands to be Int")
		}
		switch {
		case left.Int < right.Int:
			return -1, nil
		case left.Int > right.Int:
			return 1, nil
		default:
			return 0, nil
		}

	default:
		return compareUnhinted(left, right)
	}
}

func compareUnhinted(left, right bundle.Value) (int, error) {
	if left.Kind != right.Kind {
		return 0, tenorerr.New(tenorerr.KindTypeError, "cannot compare %s to %s without a comparison hint", left.Kind, right.Kind)
	}
	if !left.Kind.Ordered() {
		return 0, tenorerr.New(tenorerr.KindTypeError, "%s does not support ordering comparisons", left.Kind)
	}
	switch left.Kind {
	case bundle.KindInt:
		switch {
		case left.Int < right.Int:
			return -1, nil
		case left.Int > right.Int:
			return 1, nil
		default:
			return 0, nil
		}
	case bundle.KindDecimal:
		return left.Decimal.Cmp(right.Decimal), nil
	case bundle.KindMoney:
		return numeric.CompareMoney(left.Money, right.Money)
	case bundle.KindDuration:
		return numeric.CompareDuration(left.Duration, right.Duration)
	case bundle.KindDate, bundle.KindDateTime:
		switch {
		case left.DateTime.Before(right.DateTime):
			return -1, nil
		case left.DateTime.After(right.DateTime):
			return 1, nil
		default:
			return 0, nil
		}
	case bundle.KindText:
		switch {
		case left.Text < right.Text:
			return -1, nil
		case left.Text > right.Text:
			return 1, nil
		default:
			return 0, nil
		}
	default:
		return 0, tenorerr.New(tenorerr.KindTypeError, "%s does not support ordering comparisons", left.Kind)
	}
}

func asDecimal(v bundle.Value, target numeric.DecimalType) (numeric.Decimal, error) {
	switch v.Kind {
	case bundle.KindDecimal:
		return v.Decimal, nil
	case bundle.KindInt:
		return numeric.PromoteInt(v.Int, target)
	default:
		return numeric.Decimal{}, tenorerr.New(tenorerr.KindTypeError, "cannot coerce %s to Decimal", v.Kind)
	}
}

func evalAnd(node bundle.And, e env, c *Collector) (bundle.Value, error) {
	result := true
	for _, operand := range node.Operands {
		v, err := evalValue(operand, e, c)
		if err != nil {
			return bundle.Value{}, err
		}
		if v.Kind != bundle.KindBool {
			return bundle.Value{}, tenorerr.New(tenorerr.KindTypeError, "And operand must be Bool, got %s", v.Kind)
		}
		result = result && v.Bool
	}
	return bundle.Value{Kind: bundle.KindBool, Bool: result}, nil
}

func evalOr(node bundle.Or, e env, c *Collector) (bundle.Value, error) {
	result := false
	for _, operand := range node.Operands {
		v, err := evalValue(operand, e, c)
		if err != nil {
			return bundle.Value{}, err
		}
		if v.Kind != bundle.KindBool {
			return bundle.Value{}, tenorerr.New(tenorerr.KindTypeError, "Or operand must be Bool, got %s", v.Kind)
		}
		result = result || v.Bool
	}
	return bundle.Value{Kind: bundle.KindBool, Bool: result}, nil
}

func evalMul(node bundle.Mul, e env, c *Collector) (bundle.Value, error) {
	left, err := evalValue(node.Left, e, c)
	if err != nil {
		return bundle.Value{}, err
	}
	target := numeric.DecimalType{Precision: node.ResultType.Precision, Scale: node.ResultType.Scale}

	switch left.Kind {
	case bundle.KindDecimal:
		result, err := numeric.MulInt(left.Decimal, node.Literal, target)
		if err != nil {
			return bundle.Value{}, err
		}
		return bundle.Value{Kind: bundle.KindDecimal, Decimal: result}, nil
	case bundle.KindInt:
		product := left.Int * node.Literal
		if left.Int != 0 && product/left.Int != node.Literal {
			return bundle.Value{}, tenorerr.New(tenorerr.KindOverflow, "integer multiplication %d * %d overflows int64", left.Int, node.Literal)
		}
		if node.ResultType.Kind == bundle.KindInt {
			if product < node.ResultType.IntMin || product > node.ResultType.IntMax {
				return bundle.Value{}, tenorerr.New(tenorerr.KindOverflow, "integer multiplication result %d outside declared bounds [%d, %d]", product, node.ResultType.IntMin, node.ResultType.IntMax)
			}
			return bundle.Value{Kind: bundle.KindInt, Int: product}, nil
		}
		promoted, err := numeric.PromoteInt(left.Int, target)
		if err != nil {
			return bundle.Value{}, err
		}
		result, err := numeric.MulInt(promoted, node.Literal, target)
		if err != nil {
			return bundle.Value{}, err
		}
		return bundle.Value{Kind: bundle.KindDecimal, Decimal: result}, nil
	default:
		return bundle.Value{}, tenorerr.New(tenorerr.KindTypeError, "Mul left operand must be Int or Decimal, got %s", left.Kind)
	}
}

// evalQuantifier implements Forall/Exists: domain must evaluate to a List;
// each element is bound to varName while body is evaluated; universal is
// the conjunction of results, existential the disjunction. Every element
// is always evaluated, matching the non-short-circuit provenance rule.
func evalQuantifier(varName string, varType bundle.Type, domain, body bundle.Expr, e env, c *Collector, universal bool) (bundle.Value, error) {
	domainVal, err := evalValue(domain, e, c)
	if err != nil {
		return bundle.Value{}, err
	}
	if domainVal.Kind != bundle.KindList {
		return bundle.Value{}, tenorerr.New(tenorerr.KindTypeError, "quantifier domain must evaluate to List, got %s", domainVal.Kind)
	}

	result := universal
	for _, elem := range domainVal.List {
		bodyEnv := e.withVar(varName, elem)
		v, err := evalValue(body, bodyEnv, c)
		if err != nil {
			return bundle.Value{}, err
		}
		if v.Kind != bundle.KindBool {
			return bundle.Value{}, tenorerr.New(tenorerr.KindTypeError, "quantifier body must be Bool, got %s", v.Kind)
		}
		if universal {
			result = result && v.Bool
		} else {
			result = result || v.Bool
		}
	}
	return bundle.Value{Kind: bundle.KindBool, Bool: result}, nil
}
