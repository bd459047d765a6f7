package numeric

import "github.com/riverline-labs/tenor/pkg/tenorerr"

// DurationUnit is one of the four declared duration units of section 3.1.
type DurationUnit string

const (
	UnitSeconds DurationUnit = "seconds"
	UnitMinutes DurationUnit = "minutes"
	UnitHours   DurationUnit = "hours"
	UnitDays    DurationUnit = "days"
)

// Duration is an integer count paired with a unit tag. Duration values
// are never normalized to a common unit implicitly — comparison across
// units is a TypeError, not an automatic conversion.
type Duration struct {
	Count int64
	Unit  DurationUnit
}

// CompareDuration compares two durations, requiring the same unit.
func CompareDuration(a, b Duration) (int, error) {
	if a.Unit != b.Unit {
		return 0, tenorerr.New(tenorerr.KindTypeError,
			"cannot compare durations with different units: %s vs %s", a.Unit, b.Unit)
	}
	switch {
	case a.Count < b.Count:
		return -1, nil
	case a.Count > b.Count:
		return 1, nil
	default:
		return 0, nil
	}
}
