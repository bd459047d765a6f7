package bundle

import "github.com/riverline-labs/tenor/pkg/numeric"

// Expr is the expression-tree node interface of section 4.2. Every
// concrete node type below implements it with an unexported marker method
// so the set of node kinds is closed to this package — predicate.Eval uses
// an exhaustive type switch and a default branch that raises Deserialize,
// matching the "unknown expression operators fail load" rule of section
// 6.1.
type Expr interface {
	exprNode()
}

// Literal yields a fixed value regardless of facts or verdicts.
type Literal struct {
	Value Value
	Type  Type
}

// FactRef reads a fact by id; evaluating it records the id in provenance.
type FactRef struct {
	ID string
}

// FieldRef reads a named field of the record bound to a quantifier
// variable.
type FieldRef struct {
	Var   string
	Field string
}

// VerdictPresent is true iff any verdict in the verdict set carries the
// named type; evaluating it records the type in provenance.
type VerdictPresent struct {
	Type string
}

// CompareOp mirrors numeric.Op for the subset of operators expr trees use.
type CompareOp = numeric.Op

// Compare evaluates Left op Right, optionally coerced per ComparisonType.
type Compare struct {
	Left, Right    Expr
	Op             CompareOp
	ComparisonType numeric.Hint
}

// And is the boolean conjunction of Operands.
type And struct{ Operands []Expr }

// Or is the boolean disjunction of Operands.
type Or struct{ Operands []Expr }

// Not negates Operand.
type Not struct{ Operand Expr }

// Mul is the fact_ref * literal arithmetic form used by rule payloads.
type Mul struct {
	Left       Expr
	Literal    int64
	ResultType Type
}

// Forall is bounded universal quantification over Domain, binding each
// element to Var (of type VarType) while evaluating Body.
type Forall struct {
	Var     string
	VarType Type
	Domain  Expr
	Body    Expr
}

// Exists is bounded existential quantification, symmetric to Forall.
type Exists struct {
	Var     string
	VarType Type
	Domain  Expr
	Body    Expr
}

func (Literal) exprNode()        {}
func (FactRef) exprNode()        {}
func (FieldRef) exprNode()       {}
func (VerdictPresent) exprNode() {}
func (Compare) exprNode()        {}
func (And) exprNode()            {}
func (Or) exprNode()             {}
func (Not) exprNode()            {}
func (Mul) exprNode()            {}
func (Forall) exprNode()         {}
func (Exists) exprNode()         {}
