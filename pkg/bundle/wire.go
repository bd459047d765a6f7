package bundle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/riverline-labs/tenor/pkg/numeric"
	"github.com/riverline-labs/tenor/pkg/tenorerr"
)

// decimalScale finds the smallest non-negative scale at which d's exact
// rational value has a terminating decimal expansion, i.e. the
// denominator (in lowest terms) divides some power of ten. Every Decimal
// reachable through ParseDecimal or the arithmetic helpers in pkg/numeric
// is constructed from a decimal literal or rounded to a declared scale,
// so it always has one; bounded at 34 digits as a last resort so a
// malformed value still encodes rather than looping.
func decimalScale(d numeric.Decimal) int {
	denom := new(big.Int).Set(d.Rat().Denom())
	one := big.NewInt(1)
	two := big.NewInt(2)
	five := big.NewInt(5)
	twos, fives := 0, 0
	for denom.Cmp(one) != 0 && twos < 34 && fives < 34 {
		if m := new(big.Int).Mod(denom, five); m.Sign() == 0 {
			denom.Div(denom, five)
			fives++
			continue
		}
		if m := new(big.Int).Mod(denom, two); m.Sign() == 0 {
			denom.Div(denom, two)
			twos++
			continue
		}
		break
	}
	// 10^k is divisible by 2^twos * 5^fives exactly when k covers both.
	return max(twos, fives)
}

// DecodeFactSet parses a JSON object mapping fact id to value (section
// 6.3) against contract's declared facts: extra undeclared facts are
// silently ignored, and a fact with neither a supplied value nor a
// declared default fails MissingFact.
func DecodeFactSet(contract *Contract, raw []byte) (FactSet, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, tenorerr.New(tenorerr.KindDeserialize, "facts input is not a JSON object: %s", err)
	}

	facts := make(FactSet, len(contract.Facts()))
	for _, decl := range contract.Facts() {
		supplied, present := obj[decl.ID]
		switch {
		case present:
			v, err := DecodeValue(supplied, decl.Type)
			if err != nil {
				return nil, err
			}
			facts[decl.ID] = v
		case decl.Default != nil:
			facts[decl.ID] = *decl.Default
		default:
			return nil, tenorerr.New(tenorerr.KindMissingFact, "fact %q has no supplied value and no declared default", decl.ID)
		}
	}
	return facts, nil
}

// DecodeDirectFacts parses the same facts-JSON object as DecodeFactSet
// but leaves declared facts that are absent unresolved instead of
// failing, so a fact provider can fill them from sources or defaults
// afterward (the direct-over-external rule of section 4.6 needs the
// direct subset on its own).
func DecodeDirectFacts(contract *Contract, raw []byte) (FactSet, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, tenorerr.New(tenorerr.KindDeserialize, "facts input is not a JSON object: %s", err)
	}

	facts := FactSet{}
	for _, decl := range contract.Facts() {
		supplied, present := obj[decl.ID]
		if !present {
			continue
		}
		v, err := DecodeValue(supplied, decl.Type)
		if err != nil {
			return nil, err
		}
		facts[decl.ID] = v
	}
	return facts, nil
}

// EncodeValue renders a Value back to its section 6.3 JSON wire form —
// the inverse of DecodeValue, used to serialize verdict payloads and
// record/list fields for section 6.4's output shapes.
func EncodeValue(v Value) (any, error) {
	switch v.Kind {
	case KindBool:
		return v.Bool, nil
	case KindInt:
		return v.Int, nil
	case KindDecimal:
		return v.Decimal.String(decimalScale(v.Decimal)), nil
	case KindMoney:
		amount := v.Money.Amount
		return map[string]any{"amount": amount.String(decimalScale(amount)), "currency": v.Money.Currency}, nil
	case KindText, KindEnum:
		if v.Kind == KindEnum {
			return v.Enum, nil
		}
		return v.Text, nil
	case KindDate:
		return v.Date.Format("2006-01-02"), nil
	case KindDateTime:
		return v.DateTime.Format("2006-01-02T15:04:05Z07:00"), nil
	case KindRecord:
		out := make(map[string]any, len(v.Record))
		for k, fv := range v.Record {
			ev, err := EncodeValue(fv)
			if err != nil {
				return nil, err
			}
			out[k] = ev
		}
		return out, nil
	case KindList:
		out := make([]any, 0, len(v.List))
		for _, elem := range v.List {
			ev, err := EncodeValue(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, ev)
		}
		return out, nil
	case KindDuration:
		return map[string]any{"count": v.Duration.Count, "unit": string(v.Duration.Unit)}, nil
	default:
		return nil, tenorerr.New(tenorerr.KindDeserialize, "unknown value kind %q", v.Kind)
	}
}

// verdictWire is the JSON shape of one verdict entry, section 6.4.
type verdictWire struct {
	Type       string         `json:"type"`
	Payload    any            `json:"payload"`
	Provenance provenanceWire `json:"provenance"`
}

type provenanceWire struct {
	Rule         string   `json:"rule"`
	Stratum      int      `json:"stratum"`
	FactsUsed    []string `json:"facts_used"`
	VerdictsUsed []string `json:"verdicts_used"`
}

// EncodeVerdictSet renders a VerdictSet to the `{ "verdicts": [...] }`
// wire shape of section 6.4.
func EncodeVerdictSet(vs VerdictSet) ([]byte, error) {
	entries := make([]verdictWire, 0, len(vs))
	for _, v := range vs {
		payload, err := EncodeValue(v.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode verdict %q payload: %w", v.Type, err)
		}
		entries = append(entries, verdictWire{
			Type:    v.Type,
			Payload: payload,
			Provenance: provenanceWire{
				Rule:         v.Provenance.Rule,
				Stratum:      v.Provenance.Stratum,
				FactsUsed:    v.Provenance.FactsUsed,
				VerdictsUsed: v.Provenance.VerdictsUsed,
			},
		})
	}
	return json.Marshal(struct {
		Verdicts []verdictWire `json:"verdicts"`
	}{Verdicts: entries})
}
