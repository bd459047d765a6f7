package bundle

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/riverline-labs/tenor/pkg/numeric"
	"github.com/riverline-labs/tenor/pkg/tenorerr"
)

// DecodeValue decodes a raw JSON value against a declared Type, per the
// wire rules of section 6.3 (shared by bundle literals, fact defaults,
// and externally supplied facts). Numbers map to Int or Decimal per the
// declared kind; decimals accept JSON numbers or strings (strings
// recommended for precision); Money is {amount, currency}; Date is
// YYYY-MM-DD; DateTime is RFC3339; Enum is a string in the declared
// variant set; List is a JSON array; Record is a JSON object with keys
// equal to the declared field set.
func DecodeValue(raw any, t Type) (Value, error) {
	switch t.Kind {
	case KindBool:
		b, ok := raw.(bool)
		if !ok {
			return Value{}, tenorerr.New(tenorerr.KindTypeError, "expected bool, got %T", raw)
		}
		return Value{Kind: KindBool, Bool: b}, nil

	case KindInt:
		n, err := decodeJSONInt(raw)
		if err != nil {
			return Value{}, err
		}
		if n < t.IntMin || n > t.IntMax {
			return Value{}, tenorerr.New(tenorerr.KindTypeError, "int %d outside declared bounds [%d, %d]", n, t.IntMin, t.IntMax)
		}
		return Value{Kind: KindInt, Int: n}, nil

	case KindDecimal:
		s, err := decodeJSONDecimalString(raw)
		if err != nil {
			return Value{}, err
		}
		d, err := numeric.ParseDecimal(s)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindDecimal, Decimal: d}, nil

	case KindMoney:
		m, ok := raw.(map[string]any)
		if !ok {
			return Value{}, tenorerr.New(tenorerr.KindTypeError, "expected money object, got %T", raw)
		}
		amountRaw, hasAmount := m["amount"]
		currencyRaw, hasCurrency := m["currency"]
		if !hasAmount || !hasCurrency {
			return Value{}, tenorerr.New(tenorerr.KindTypeError, "money value requires amount and currency")
		}
		amountStr, err := decodeJSONDecimalString(amountRaw)
		if err != nil {
			return Value{}, err
		}
		currency, ok := currencyRaw.(string)
		if !ok {
			return Value{}, tenorerr.New(tenorerr.KindTypeError, "money currency must be a string")
		}
		amount, err := numeric.ParseDecimal(amountStr)
		if err != nil {
			return Value{}, err
		}
		money, err := numeric.NewMoney(amount, currency)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindMoney, Money: money}, nil

	case KindText:
		s, ok := raw.(string)
		if !ok {
			return Value{}, tenorerr.New(tenorerr.KindTypeError, "expected text, got %T", raw)
		}
		if t.MaxBytes > 0 && len(s) > t.MaxBytes {
			return Value{}, tenorerr.New(tenorerr.KindListOverflow, "text exceeds max length %d bytes", t.MaxBytes)
		}
		return Value{Kind: KindText, Text: s}, nil

	case KindDate:
		s, ok := raw.(string)
		if !ok {
			return Value{}, tenorerr.New(tenorerr.KindTypeError, "expected ISO 8601 date string, got %T", raw)
		}
		parsed, err := time.Parse("2006-01-02", s)
		if err != nil {
			return Value{}, tenorerr.New(tenorerr.KindDeserialize, "invalid date %q: %s", s, err)
		}
		return Value{Kind: KindDate, Date: parsed, DateTime: parsed}, nil

	case KindDateTime:
		s, ok := raw.(string)
		if !ok {
			return Value{}, tenorerr.New(tenorerr.KindTypeError, "expected ISO 8601 datetime string, got %T", raw)
		}
		parsed, err := parseDateTime(s)
		if err != nil {
			return Value{}, tenorerr.New(tenorerr.KindDeserialize, "invalid datetime %q: %s", s, err)
		}
		return Value{Kind: KindDateTime, DateTime: parsed}, nil

	case KindEnum:
		s, ok := raw.(string)
		if !ok {
			return Value{}, tenorerr.New(tenorerr.KindTypeError, "expected enum string, got %T", raw)
		}
		if !containsStr(t.Variants, s) {
			return Value{}, tenorerr.New(tenorerr.KindInvalidEnum, "value %q is not one of the declared variants %v", s, t.Variants)
		}
		return Value{Kind: KindEnum, Enum: s}, nil

	case KindRecord:
		m, ok := raw.(map[string]any)
		if !ok {
			return Value{}, tenorerr.New(tenorerr.KindTypeError, "expected record object, got %T", raw)
		}
		out := make(map[string]Value, len(t.Fields))
		for name, fieldType := range t.Fields {
			fieldRaw, present := m[name]
			if !present {
				return Value{}, tenorerr.New(tenorerr.KindTypeError, "record missing declared field %q", name)
			}
			v, err := DecodeValue(fieldRaw, fieldType)
			if err != nil {
				return Value{}, err
			}
			out[name] = v
		}
		if len(m) != len(t.Fields) {
			return Value{}, tenorerr.New(tenorerr.KindTypeError, "record has %d keys but declares %d fields", len(m), len(t.Fields))
		}
		return Value{Kind: KindRecord, Record: out}, nil

	case KindList:
		arr, ok := raw.([]any)
		if !ok {
			return Value{}, tenorerr.New(tenorerr.KindTypeError, "expected list array, got %T", raw)
		}
		if t.MaxLen > 0 && len(arr) > t.MaxLen {
			return Value{}, tenorerr.New(tenorerr.KindListOverflow, "list length %d exceeds declared maximum %d", len(arr), t.MaxLen)
		}
		out := make([]Value, 0, len(arr))
		for _, elemRaw := range arr {
			var elemType Type
			if t.Element != nil {
				elemType = *t.Element
			}
			v, err := DecodeValue(elemRaw, elemType)
			if err != nil {
				return Value{}, err
			}
			out = append(out, v)
		}
		return Value{Kind: KindList, List: out}, nil

	case KindDuration:
		m, ok := raw.(map[string]any)
		if !ok {
			return Value{}, tenorerr.New(tenorerr.KindTypeError, "expected duration object, got %T", raw)
		}
		countRaw, hasCount := m["count"]
		unitRaw, hasUnit := m["unit"]
		if !hasCount || !hasUnit {
			return Value{}, tenorerr.New(tenorerr.KindTypeError, "duration requires count and unit")
		}
		count, err := decodeJSONInt(countRaw)
		if err != nil {
			return Value{}, err
		}
		unit, ok := unitRaw.(string)
		if !ok {
			return Value{}, tenorerr.New(tenorerr.KindTypeError, "duration unit must be a string")
		}
		return Value{Kind: KindDuration, Duration: numeric.Duration{Count: count, Unit: numeric.DurationUnit(unit)}}, nil

	default:
		return Value{}, tenorerr.New(tenorerr.KindDeserialize, "unknown value kind %q", t.Kind)
	}
}

func parseDateTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04:05Z07:00"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("no matching datetime layout for %q", s)
}

func decodeJSONInt(raw any) (int64, error) {
	switch v := raw.(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, tenorerr.New(tenorerr.KindTypeError, "expected integer, got %q", v.String())
		}
		return n, nil
	case float64:
		if v != float64(int64(v)) {
			return 0, tenorerr.New(tenorerr.KindTypeError, "expected integer, got fractional number %v", v)
		}
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	default:
		return 0, tenorerr.New(tenorerr.KindTypeError, "expected integer, got %T", raw)
	}
}

// decodeJSONDecimalString accepts either a JSON number or a string,
// per section 6.3 ("decimals accept both JSON numbers and strings;
// strings recommended for precision").
func decodeJSONDecimalString(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case float64:
		return fmt.Sprintf("%v", v), nil
	default:
		return "", tenorerr.New(tenorerr.KindTypeError, "expected decimal number or string, got %T", raw)
	}
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
