// Package analyzer implements the static checks of section 4.9: S3a
// type-level precondition satisfiability, S6 flow path enumeration, and
// system-level cross-contract trigger graph analysis.
package analyzer

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/types/ref"

	"github.com/riverline-labs/tenor/pkg/bundle"
)

// DomainFinding is one statically-detected precondition atom that is
// provably always true or always false given a fact's declared type
// bounds, independent of any runtime fact values.
type DomainFinding struct {
	OperationID string
	Detail      string
	AlwaysFalse bool
}

// SatisfiabilityReport is S3a's output for one operation's precondition.
type SatisfiabilityReport struct {
	OperationID   string
	Unsatisfiable bool
	TypeIssues    []string
	Domain        []DomainFinding
}

// CheckSatisfiability runs S3a over every operation in contract: each
// precondition is translated to a CEL expression over a cel.Env whose
// declarations mirror the fact set's declared types, cel.Env.Compile is
// invoked purely for its checker (never its evaluator), and the checked
// AST is walked to find comparisons provably outside the fact's declared
// domain — the same parse-once/walk-the-AST shape as the teacher's
// celdp.Validator, redirected from "forbidden CEL constructs" to "fact
// domain violations".
func CheckSatisfiability(contract *bundle.Contract) ([]SatisfiabilityReport, error) {
	env, err := buildEnv(contract)
	if err != nil {
		return nil, err
	}

	var reports []SatisfiabilityReport
	for _, op := range contract.Operations() {
		if op.Precondition == nil {
			continue
		}
		reports = append(reports, checkOperation(env, contract, op))
	}
	return reports, nil
}

func buildEnv(contract *bundle.Contract) (*cel.Env, error) {
	var decls []cel.EnvOption
	for _, f := range contract.Facts() {
		t, ok := celTypeFor(f.Type.Kind)
		if !ok {
			continue // composite kinds (Record/List) are out of scope for S3a
		}
		decls = append(decls, cel.Variable(celIdent(f.ID), t))
	}
	return cel.NewEnv(decls...)
}

func celTypeFor(k bundle.Kind) (*cel.Type, bool) {
	switch k {
	case bundle.KindBool:
		return cel.BoolType, true
	case bundle.KindInt:
		return cel.IntType, true
	case bundle.KindText, bundle.KindEnum, bundle.KindDate, bundle.KindDateTime, bundle.KindDecimal, bundle.KindMoney:
		// Decimal and Money are kept as opaque strings here, never floats:
		// S3a only needs type-compatibility checking, not arithmetic, so a
		// CEL double is never introduced into this path.
		return cel.StringType, true
	case bundle.KindDuration:
		return cel.IntType, true
	default:
		return nil, false
	}
}

func celIdent(factID string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(factID)
}

func checkOperation(env *cel.Env, contract *bundle.Contract, op *bundle.Operation) SatisfiabilityReport {
	report := SatisfiabilityReport{OperationID: op.ID}

	src, ok := exprToCEL(op.Precondition)
	if !ok {
		return report // untranslatable precondition shape: no finding, not an error
	}

	ast, issues := env.Compile(src)
	if issues != nil && issues.Err() != nil {
		report.TypeIssues = append(report.TypeIssues, issues.Err().Error())
		return report
	}

	checked := ast.NativeRep()
	if checked == nil {
		return report
	}

	findings := walkDomain(checked.Expr(), contract, op.ID)
	report.Domain = findings
	for _, f := range findings {
		if f.AlwaysFalse {
			report.Unsatisfiable = true
		}
	}
	return report
}

// exprToCEL translates the subset of the expression tree S3a understands
// (boolean connectives and atomic comparisons against a fact or a literal)
// into CEL source text. ok is false when the tree contains a shape S3a
// does not attempt to reason about (quantifiers, field refs, verdicts),
// which is reported as inconclusive rather than forcing a translation.
func exprToCEL(e bundle.Expr) (string, bool) {
	switch n := e.(type) {
	case bundle.Literal:
		return literalCEL(n.Value)
	case bundle.FactRef:
		return celIdent(n.ID), true
	case bundle.Compare:
		left, ok := exprToCEL(n.Left)
		if !ok {
			return "", false
		}
		right, ok := exprToCEL(n.Right)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("(%s %s %s)", left, celOp(n.Op), right), true
	case bundle.And:
		return joinBool(n.Operands, "&&")
	case bundle.Or:
		return joinBool(n.Operands, "||")
	case bundle.Not:
		inner, ok := exprToCEL(n.Operand)
		if !ok {
			return "", false
		}
		return "!(" + inner + ")", true
	default:
		return "", false
	}
}

func joinBool(operands []bundle.Expr, sep string) (string, bool) {
	var parts []string
	for _, o := range operands {
		s, ok := exprToCEL(o)
		if !ok {
			return "", false
		}
		parts = append(parts, "("+s+")")
	}
	return strings.Join(parts, " "+sep+" "), true
}

func celOp(op bundle.CompareOp) string {
	switch op {
	case "=":
		return "=="
	case "!=":
		return "!="
	default:
		return string(op)
	}
}

func literalCEL(v bundle.Value) (string, bool) {
	switch v.Kind {
	case bundle.KindBool:
		if v.Bool {
			return "true", true
		}
		return "false", true
	case bundle.KindInt:
		return fmt.Sprintf("%d", v.Int), true
	case bundle.KindText, bundle.KindEnum:
		return fmt.Sprintf("%q", v.Text+v.Enum), true
	default:
		return "", false
	}
}

// walkDomain recurses the checked AST the same way the teacher's
// checkRecursively walks a parsed CEL expression, but looks for comparisons
// between a declared Int fact and a constant literal that the fact's
// [IntMin, IntMax] range decides either way, and for equality or
// inequality between a declared Enum fact and a literal outside its
// variant set.
func walkDomain(e celast.Expr, contract *bundle.Contract, opID string) []DomainFinding {
	if e == nil {
		return nil
	}

	var out []DomainFinding
	switch e.Kind() {
	case celast.CallKind:
		call := e.AsCall()
		if f := domainViolation(call, contract, opID); f != nil {
			out = append(out, *f)
		}
		if call.IsMemberFunction() {
			out = append(out, walkDomain(call.Target(), contract, opID)...)
		}
		for _, arg := range call.Args() {
			out = append(out, walkDomain(arg, contract, opID)...)
		}
	case celast.ListKind:
		for _, el := range e.AsList().Elements() {
			out = append(out, walkDomain(el, contract, opID)...)
		}
	}
	return out
}

func domainViolation(call celast.CallExpr, contract *bundle.Contract, opID string) *DomainFinding {
	op := call.FunctionName()
	if op != "_==_" && op != "_!=_" && op != "_<_" && op != "_<=_" && op != "_>_" && op != "_>=_" {
		return nil
	}
	args := call.Args()
	if len(args) != 2 {
		return nil
	}

	factID, lit, swapped, ok := splitIdentAndLiteral(args[0], args[1])
	if !ok {
		return nil
	}
	f, ok := factByIdent(contract, factID)
	if !ok {
		return nil
	}
	if f.Type.Kind == bundle.KindEnum && (op == "_==_" || op == "_!=_") && len(f.Type.Variants) > 0 {
		sv, isStr := lit.(string)
		if !isStr || slices.Contains(f.Type.Variants, sv) {
			return nil
		}
		return &DomainFinding{
			OperationID: opID,
			Detail:      fmt.Sprintf("comparison against fact %q is provably %s: %q is not one of its declared variants", f.ID, boolLabel(op == "_!=_"), sv),
			AlwaysFalse: op == "_==_",
		}
	}
	if f.Type.Kind != bundle.KindInt {
		return nil
	}

	iv, ok := lit.(int64)
	if !ok {
		return nil
	}

	always, alwaysFalse := intComparisonOutcome(op, iv, f.Type.IntMin, f.Type.IntMax, swapped)
	if !always {
		return nil
	}
	return &DomainFinding{
		OperationID: opID,
		Detail:      fmt.Sprintf("comparison against fact %q is provably %s given its declared range [%d, %d]", f.ID, boolLabel(!alwaysFalse), f.Type.IntMin, f.Type.IntMax),
		AlwaysFalse: alwaysFalse,
	}
}

func boolLabel(always bool) string {
	if always {
		return "always true"
	}
	return "always false"
}

// intComparisonOutcome decides whether `fact OP literal` (or `literal OP
// fact` when swapped) holds for every value in [min, max], for none of
// them, or neither (always=false, meaning the comparison can go either way).
func intComparisonOutcome(op string, literal, min, max int64, swapped bool) (always, alwaysFalse bool) {
	if swapped {
		op = flipOp(op)
	}
	switch op {
	case "_>_":
		if min > literal {
			return true, false
		}
		if max <= literal {
			return true, true
		}
	case "_>=_":
		if min >= literal {
			return true, false
		}
		if max < literal {
			return true, true
		}
	case "_<_":
		if max < literal {
			return true, false
		}
		if min >= literal {
			return true, true
		}
	case "_<=_":
		if max <= literal {
			return true, false
		}
		if min > literal {
			return true, true
		}
	case "_==_":
		if literal < min || literal > max {
			return true, true
		}
	case "_!=_":
		if literal < min || literal > max {
			return true, false
		}
	}
	return false, false
}

func flipOp(op string) string {
	switch op {
	case "_>_":
		return "_<_"
	case "_>=_":
		return "_<=_"
	case "_<_":
		return "_>_"
	case "_<=_":
		return "_>=_"
	default:
		return op
	}
}

func splitIdentAndLiteral(a, b celast.Expr) (ident string, lit any, swapped bool, ok bool) {
	if a.Kind() == celast.IdentKind && b.Kind() == celast.LiteralKind {
		return a.AsIdent(), refValAsAny(b.AsLiteral()), false, true
	}
	if b.Kind() == celast.IdentKind && a.Kind() == celast.LiteralKind {
		return b.AsIdent(), refValAsAny(a.AsLiteral()), true, true
	}
	return "", nil, false, false
}

func refValAsAny(v ref.Val) any {
	return v.Value()
}

// factByIdent inverts celIdent: the replacement of "." and "-" with "_"
// is lossy, so the fact is found by re-deriving each declared fact's CEL
// identifier rather than un-mangling the string.
func factByIdent(contract *bundle.Contract, ident string) (*bundle.Fact, bool) {
	for _, f := range contract.Facts() {
		if celIdent(f.ID) == ident {
			return f, true
		}
	}
	return nil, false
}
