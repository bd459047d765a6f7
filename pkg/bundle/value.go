// Package bundle models the typed contract constructs recovered from an
// interchange bundle (section 3 and section 6.1): values and their type
// descriptors, facts, verdicts, entities, rules, operations, flows,
// personas, systems, and the Contract that owns them with O(1) id lookup.
package bundle

import (
	"time"

	"github.com/riverline-labs/tenor/pkg/numeric"
	"github.com/riverline-labs/tenor/pkg/tenorerr"
)

// Kind is the base kind of a value, per section 3.1.
type Kind string

const (
	KindBool     Kind = "Bool"
	KindInt      Kind = "Int"
	KindDecimal  Kind = "Decimal"
	KindMoney    Kind = "Money"
	KindText     Kind = "Text"
	KindDate     Kind = "Date"
	KindDateTime Kind = "DateTime"
	KindEnum     Kind = "Enum"
	KindRecord   Kind = "Record"
	KindList     Kind = "List"
	KindDuration Kind = "Duration"
)

// Type is a type descriptor: base kind plus its kind-specific parameters.
// Only the fields relevant to Kind are populated; the rest are zero.
type Type struct {
	Kind Kind

	// Int
	IntMin, IntMax int64

	// Decimal
	Precision, Scale int

	// Money reuses Precision/Scale for the amount and adds nothing else —
	// currency is a per-value field, not a per-type one, per section 3.1.

	// Text
	MaxBytes int

	// Enum
	Variants []string

	// Record
	Fields map[string]Type

	// List
	Element *Type
	MaxLen  int

	// Duration
	Unit numeric.DurationUnit
}

// Value is a tagged union over every value kind in section 3.1. Exactly
// one field is meaningful, selected by Kind; this mirrors the bundle's own
// plain-struct-per-construct style rather than an interface hierarchy,
// since every operation in this core (compare, arithmetic, JSON decode)
// needs to switch on Kind anyway.
type Value struct {
	Kind Kind

	Bool     bool
	Int      int64
	Decimal  numeric.Decimal
	Money    numeric.Money
	Text     string
	Date     time.Time
	DateTime time.Time
	Enum     string
	Record   map[string]Value
	List     []Value
	Duration numeric.Duration
}

// Equal implements `=`/`!=` across every value kind.
func (v Value) Equal(other Value) (bool, error) {
	if v.Kind != other.Kind {
		return false, tenorerr.New(tenorerr.KindTypeError, "cannot compare %s to %s", v.Kind, other.Kind)
	}
	switch v.Kind {
	case KindBool:
		return v.Bool == other.Bool, nil
	case KindInt:
		return v.Int == other.Int, nil
	case KindDecimal:
		return v.Decimal.Cmp(other.Decimal) == 0, nil
	case KindMoney:
		cmp, err := numeric.CompareMoney(v.Money, other.Money)
		if err != nil {
			return false, err
		}
		return cmp == 0, nil
	case KindText:
		return v.Text == other.Text, nil
	case KindDate, KindDateTime:
		return v.DateTime.Equal(other.DateTime), nil
	case KindEnum:
		return v.Enum == other.Enum, nil
	case KindDuration:
		cmp, err := numeric.CompareDuration(v.Duration, other.Duration)
		if err != nil {
			return false, err
		}
		return cmp == 0, nil
	case KindRecord:
		return recordsEqual(v.Record, other.Record)
	case KindList:
		return listsEqual(v.List, other.List)
	default:
		return false, tenorerr.New(tenorerr.KindTypeError, "unknown value kind %q", v.Kind)
	}
}

func recordsEqual(a, b map[string]Value) (bool, error) {
	if len(a) != len(b) {
		return false, nil
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			return false, nil
		}
		eq, err := av.Equal(bv)
		if err != nil || !eq {
			return eq, err
		}
	}
	return true, nil
}

func listsEqual(a, b []Value) (bool, error) {
	if len(a) != len(b) {
		return false, nil
	}
	for i := range a {
		eq, err := a[i].Equal(b[i])
		if err != nil || !eq {
			return eq, err
		}
	}
	return true, nil
}

// Ordered reports whether Kind supports `<`/`<=`/`>`/`>=` per section 3.1:
// defined for integer, decimal, money, date, datetime, duration, and text
// (lexicographic); undefined for booleans, enums, records, and lists.
func (k Kind) Ordered() bool {
	switch k {
	case KindInt, KindDecimal, KindMoney, KindDate, KindDateTime, KindDuration, KindText:
		return true
	default:
		return false
	}
}
