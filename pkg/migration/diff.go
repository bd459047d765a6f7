// Package migration implements the bundle diff, change classification, and
// atomic entity-state remapping of section 4.8.
package migration

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/riverline-labs/tenor/pkg/bundle"
)

// ConstructKey identifies one construct across two bundle versions.
type ConstructKey struct {
	Kind string
	ID   string
}

// FieldDiff is one field whose normalized value differs between v1 and v2.
type FieldDiff struct {
	Field  string
	Before any
	After  any
}

// ChangedConstruct is a construct present in both bundles with at least
// one differing field.
type ChangedConstruct struct {
	Key    ConstructKey
	Fields []FieldDiff
}

// Diff is the structural delta between two bundles, keyed by (kind, id).
// Line numbers and provenance are never part of a Contract's decoded
// fields, so they never enter the comparison; array fields whose ordering
// is semantically set-like are sorted before comparison, object arrays
// (transitions) preserve declaration order.
type Diff struct {
	Added   []ConstructKey
	Removed []ConstructKey
	Changed []ChangedConstruct
}

type normalized map[string]any

// DiffBundles computes the added/removed/changed construct sets between v1 and
// v2. It does not check tenor_version compatibility; call CheckVersionGate
// first if that gate matters to the caller.
func DiffBundles(v1, v2 *bundle.Contract) Diff {
	v1c, v2c := normalizeAll(v1), normalizeAll(v2)

	var d Diff
	var keys []ConstructKey
	seen := map[ConstructKey]bool{}
	for k := range v1c {
		keys = append(keys, k)
		seen[k] = true
	}
	for k := range v2c {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Kind != keys[j].Kind {
			return keys[i].Kind < keys[j].Kind
		}
		return keys[i].ID < keys[j].ID
	})

	for _, k := range keys {
		before, inV1 := v1c[k]
		after, inV2 := v2c[k]
		switch {
		case inV1 && !inV2:
			d.Removed = append(d.Removed, k)
		case !inV1 && inV2:
			d.Added = append(d.Added, k)
		default:
			if fields := diffFields(before, after); len(fields) > 0 {
				d.Changed = append(d.Changed, ChangedConstruct{Key: k, Fields: fields})
			}
		}
	}
	return d
}

func diffFields(before, after normalized) []FieldDiff {
	var names []string
	seen := map[string]bool{}
	for f := range before {
		names = append(names, f)
		seen[f] = true
	}
	for f := range after {
		if !seen[f] {
			names = append(names, f)
		}
	}
	sort.Strings(names)

	var out []FieldDiff
	for _, f := range names {
		b, a := before[f], after[f]
		if !reflect.DeepEqual(b, a) {
			out = append(out, FieldDiff{Field: f, Before: b, After: a})
		}
	}
	return out
}

func normalizeAll(c *bundle.Contract) map[ConstructKey]normalized {
	out := map[ConstructKey]normalized{}
	for _, f := range c.Facts() {
		out[ConstructKey{"Fact", f.ID}] = normalizeFact(f)
	}
	for _, e := range c.Entities() {
		out[ConstructKey{"Entity", e.ID}] = normalizeEntity(e)
	}
	for _, r := range c.Rules() {
		out[ConstructKey{"Rule", r.ID}] = normalizeRule(r)
	}
	for _, o := range c.Operations() {
		out[ConstructKey{"Operation", o.ID}] = normalizeOperation(o)
	}
	for _, fl := range c.Flows() {
		out[ConstructKey{"Flow", fl.ID}] = normalizeFlow(fl)
	}
	return out
}

func sortedCopy(xs []string) []string {
	out := append([]string(nil), xs...)
	sort.Strings(out)
	return out
}

func normalizeFact(f *bundle.Fact) normalized {
	n := normalized{
		"type": fmt.Sprintf("%v", f.Type),
	}
	if f.Default != nil {
		n["default"] = fmt.Sprintf("%v", *f.Default)
	}
	if f.Source != nil {
		n["source_id"] = f.Source.SourceID
		n["source_path"] = f.Source.Path
	}
	return n
}

func normalizeEntity(e *bundle.Entity) normalized {
	return normalized{
		"states":        sortedCopy(e.States),
		"initial_state": e.InitialState,
		"transitions":   e.Transitions, // object array: order preserved
	}
}

func normalizeRule(r *bundle.Rule) normalized {
	return normalized{
		"stratum":      r.Stratum,
		"condition":    fmt.Sprintf("%#v", r.Condition),
		"verdict_type": r.Produce.VerdictType,
		"payload_type": fmt.Sprintf("%v", r.Produce.PayloadType),
		"payload":      fmt.Sprintf("%#v", r.Produce.Payload),
	}
}

func normalizeOperation(o *bundle.Operation) normalized {
	return normalized{
		"allowed_personas": sortedCopy(o.AllowedPersonas),
		"precondition":     fmt.Sprintf("%#v", o.Precondition),
		"effects":          o.Effects, // object array: order preserved
		"outcomes":         sortedCopy(o.Outcomes),
		"error_contract":   sortedCopy(o.ErrorContract),
	}
}

func normalizeFlow(fl *bundle.Flow) normalized {
	return normalized{
		"snapshot_policy": string(fl.SnapshotPolicy),
		"entry_step":      fl.EntryStep,
		"steps":           fmt.Sprintf("%#v", fl.Steps),
	}
}
