package bundle

import (
	"github.com/riverline-labs/tenor/pkg/numeric"
	"github.com/riverline-labs/tenor/pkg/tenorerr"
)

// decodeExpr decodes an expression-tree node (section 4.2). An unknown
// "op" fails load with Deserialize, per section 6.1 ("unknown expression
// operators fail load"); this is deliberately stricter than unknown
// construct kinds, which are silently skipped (section 9's open
// question).
func decodeExpr(raw map[string]any, idx typeIndex) (Expr, error) {
	op, ok := raw["op"].(string)
	if !ok {
		return nil, tenorerr.New(tenorerr.KindDeserialize, "expression node missing op")
	}

	switch op {
	case "Literal":
		typeRaw, ok := raw["type"].(map[string]any)
		if !ok {
			return nil, tenorerr.New(tenorerr.KindDeserialize, "Literal missing type")
		}
		t, err := decodeType(typeRaw, idx)
		if err != nil {
			return nil, err
		}
		v, err := DecodeValue(raw["value"], t)
		if err != nil {
			return nil, err
		}
		return Literal{Value: v, Type: t}, nil

	case "FactRef":
		id, ok := raw["id"].(string)
		if !ok {
			return nil, tenorerr.New(tenorerr.KindDeserialize, "FactRef missing id")
		}
		return FactRef{ID: id}, nil

	case "FieldRef":
		v, _ := raw["var"].(string)
		f, _ := raw["field"].(string)
		if v == "" || f == "" {
			return nil, tenorerr.New(tenorerr.KindDeserialize, "FieldRef requires var and field")
		}
		return FieldRef{Var: v, Field: f}, nil

	case "VerdictPresent":
		t, ok := raw["type"].(string)
		if !ok {
			return nil, tenorerr.New(tenorerr.KindDeserialize, "VerdictPresent missing type")
		}
		return VerdictPresent{Type: t}, nil

	case "Compare":
		left, err := decodeSubExpr(raw["left"], idx)
		if err != nil {
			return nil, err
		}
		right, err := decodeSubExpr(raw["right"], idx)
		if err != nil {
			return nil, err
		}
		cmpOp, ok := raw["cmp_op"].(string)
		if !ok {
			return nil, tenorerr.New(tenorerr.KindDeserialize, "Compare missing cmp_op")
		}
		hint, _ := raw["comparison_type"].(string)
		return Compare{Left: left, Right: right, Op: numeric.Op(cmpOp), ComparisonType: numeric.Hint(hint)}, nil

	case "And", "Or":
		operandsRaw, ok := raw["operands"].([]any)
		if !ok {
			return nil, tenorerr.New(tenorerr.KindDeserialize, "%s missing operands", op)
		}
		operands := make([]Expr, 0, len(operandsRaw))
		for _, o := range operandsRaw {
			e, err := decodeSubExpr(o, idx)
			if err != nil {
				return nil, err
			}
			operands = append(operands, e)
		}
		if op == "And" {
			return And{Operands: operands}, nil
		}
		return Or{Operands: operands}, nil

	case "Not":
		operand, err := decodeSubExpr(raw["operand"], idx)
		if err != nil {
			return nil, err
		}
		return Not{Operand: operand}, nil

	case "Mul":
		left, err := decodeSubExpr(raw["left"], idx)
		if err != nil {
			return nil, err
		}
		lit, err := decodeJSONInt(raw["literal"])
		if err != nil {
			return nil, err
		}
		typeRaw, ok := raw["result_type"].(map[string]any)
		if !ok {
			return nil, tenorerr.New(tenorerr.KindDeserialize, "Mul missing result_type")
		}
		resultType, err := decodeType(typeRaw, idx)
		if err != nil {
			return nil, err
		}
		return Mul{Left: left, Literal: lit, ResultType: resultType}, nil

	case "Forall", "Exists":
		varName, _ := raw["var"].(string)
		varTypeRaw, ok := raw["var_type"].(map[string]any)
		if !ok {
			return nil, tenorerr.New(tenorerr.KindDeserialize, "%s missing var_type", op)
		}
		varType, err := decodeType(varTypeRaw, idx)
		if err != nil {
			return nil, err
		}
		domain, err := decodeSubExpr(raw["domain"], idx)
		if err != nil {
			return nil, err
		}
		body, err := decodeSubExpr(raw["body"], idx)
		if err != nil {
			return nil, err
		}
		if op == "Forall" {
			return Forall{Var: varName, VarType: varType, Domain: domain, Body: body}, nil
		}
		return Exists{Var: varName, VarType: varType, Domain: domain, Body: body}, nil

	default:
		return nil, tenorerr.New(tenorerr.KindDeserialize, "unknown expression operator %q", op)
	}
}

func decodeSubExpr(raw any, idx typeIndex) (Expr, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, tenorerr.New(tenorerr.KindDeserialize, "expected expression node object, got %T", raw)
	}
	return decodeExpr(m, idx)
}
