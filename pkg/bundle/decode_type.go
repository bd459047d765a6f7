package bundle

import (
	"math"

	"github.com/riverline-labs/tenor/pkg/numeric"
	"github.com/riverline-labs/tenor/pkg/tenorerr"
)

// typeIndex resolves named TypeDecl references while decoding; it is
// threaded through decodeType so a field can say {"kind":"TypeRef","ref":
// "money_amount"} and get the already-decoded descriptor back.
type typeIndex map[string]Type

func decodeType(raw map[string]any, idx typeIndex) (Type, error) {
	kindRaw, ok := raw["kind"].(string)
	if !ok {
		return Type{}, tenorerr.New(tenorerr.KindDeserialize, "type descriptor missing kind")
	}
	kind := Kind(kindRaw)

	if kind == "TypeRef" {
		ref, ok := raw["ref"].(string)
		if !ok {
			return Type{}, tenorerr.New(tenorerr.KindDeserialize, "TypeRef missing ref")
		}
		t, ok := idx[ref]
		if !ok {
			return Type{}, tenorerr.New(tenorerr.KindDeserialize, "unresolved TypeRef %q", ref).WithConstruct("TypeDecl", ref)
		}
		return t, nil
	}

	switch kind {
	case KindBool, KindDate, KindDateTime:
		return Type{Kind: kind}, nil

	case KindInt:
		return Type{
			Kind:   kind,
			IntMin: asInt64OrDefault(raw["min"], math.MinInt64),
			IntMax: asInt64OrDefault(raw["max"], math.MaxInt64),
		}, nil

	case KindDecimal, KindMoney:
		return Type{
			Kind:      kind,
			Precision: int(asInt64(raw["precision"])),
			Scale:     int(asInt64(raw["scale"])),
		}, nil

	case KindText:
		return Type{Kind: kind, MaxBytes: int(asInt64(raw["max_bytes"]))}, nil

	case KindEnum:
		variants, err := asStringSlice(raw["variants"])
		if err != nil {
			return Type{}, err
		}
		return Type{Kind: kind, Variants: variants}, nil

	case KindRecord:
		fieldsRaw, ok := raw["fields"].(map[string]any)
		if !ok {
			return Type{}, tenorerr.New(tenorerr.KindDeserialize, "record type missing fields")
		}
		fields := make(map[string]Type, len(fieldsRaw))
		for name, fr := range fieldsRaw {
			frMap, ok := fr.(map[string]any)
			if !ok {
				return Type{}, tenorerr.New(tenorerr.KindDeserialize, "record field %q is not a type descriptor", name)
			}
			ft, err := decodeType(frMap, idx)
			if err != nil {
				return Type{}, err
			}
			fields[name] = ft
		}
		return Type{Kind: kind, Fields: fields}, nil

	case KindList:
		elemRaw, ok := raw["element"].(map[string]any)
		if !ok {
			return Type{}, tenorerr.New(tenorerr.KindDeserialize, "list type missing element descriptor")
		}
		elemType, err := decodeType(elemRaw, idx)
		if err != nil {
			return Type{}, err
		}
		return Type{Kind: kind, Element: &elemType, MaxLen: int(asInt64(raw["max_len"]))}, nil

	case KindDuration:
		unit, _ := raw["unit"].(string)
		return Type{Kind: kind, Unit: numeric.DurationUnit(unit)}, nil

	default:
		return Type{}, tenorerr.New(tenorerr.KindDeserialize, "unknown type kind %q", kind)
	}
}

func asInt64(v any) int64 {
	n, _ := decodeJSONInt(v)
	return n
}

func asInt64OrDefault(v any, def int64) int64 {
	if v == nil {
		return def
	}
	n, err := decodeJSONInt(v)
	if err != nil {
		return def
	}
	return n
}

func asStringSlice(v any) ([]string, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, tenorerr.New(tenorerr.KindDeserialize, "expected an array of strings")
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		s, ok := e.(string)
		if !ok {
			return nil, tenorerr.New(tenorerr.KindDeserialize, "expected string element, got %T", e)
		}
		out = append(out, s)
	}
	return out, nil
}
