package migration

import "github.com/riverline-labs/tenor/pkg/bundle"

// Classification is the bucket section 4.8 sorts a diffed construct into.
type Classification string

const (
	Compatible Classification = "Compatible"
	Breaking   Classification = "Breaking"
	Warning    Classification = "Warning"
)

// ClassifiedChange is one diffed construct with its assigned bucket and the
// reason a human would want to see next to it.
type ClassifiedChange struct {
	Key            ConstructKey
	Classification Classification
	Reason         string
}

// LiveState is the already-fetched (not queried by this package) instance
// data needed to tell a structurally breaking removal apart from one that
// happens to affect no live instance. Classification stays purely
// structural: the caller supplies this slice, Classify never touches
// storage itself.
type LiveState struct {
	EntityID   string
	InstanceID string
	State      string
}

// Classify buckets every diffed construct. v1 is needed to recover the
// removed entity's transitions (a removed Entity carries no further detail
// once it is gone from v2). live is the instance-state snapshot a caller
// may supply to decide whether a removed state or transition is actually
// occupied; a nil/empty live slice degrades classification of removed
// states/transitions to Breaking by default (the conservative choice).
func Classify(d Diff, v1 *bundle.Contract, live []LiveState) []ClassifiedChange {
	var out []ClassifiedChange

	for _, k := range d.Added {
		out = append(out, ClassifiedChange{Key: k, Classification: Compatible, Reason: "construct added"})
	}

	for _, k := range d.Removed {
		out = append(out, ClassifiedChange{Key: k, Classification: Breaking, Reason: "construct removed"})
	}

	for _, c := range d.Changed {
		out = append(out, classifyChanged(c, v1, live))
	}

	return out
}

func classifyChanged(c ChangedConstruct, v1 *bundle.Contract, live []LiveState) ClassifiedChange {
	switch c.Key.Kind {
	case "Entity":
		return classifyEntityChange(c, v1, live)
	case "Operation", "Flow":
		return ClassifiedChange{Key: c.Key, Classification: Warning, Reason: "shape changed; inspect affected instances"}
	default:
		return ClassifiedChange{Key: c.Key, Classification: Compatible, Reason: "non-structural change"}
	}
}

func classifyEntityChange(c ChangedConstruct, v1 *bundle.Contract, live []LiveState) ClassifiedChange {
	for _, f := range c.Fields {
		if f.Field != "states" && f.Field != "transitions" {
			continue
		}

		before, _ := f.Before.([]string)
		after, _ := f.After.([]string)
		if f.Field == "states" {
			for _, s := range before {
				if !containsStr(after, s) && stateOccupied(c.Key.ID, s, live) {
					return ClassifiedChange{Key: c.Key, Classification: Breaking, Reason: "removed state " + s + " is currently occupied by a live instance"}
				}
			}
		}

		if f.Field == "transitions" {
			beforeT, _ := f.Before.([]bundle.Transition)
			afterT, _ := f.After.([]bundle.Transition)
			for _, t := range beforeT {
				if !containsTransition(afterT, t) && transitionPending(c.Key.ID, t, live) {
					return ClassifiedChange{Key: c.Key, Classification: Breaking, Reason: "removed transition is implied by a pending instance"}
				}
			}
		}
	}
	return ClassifiedChange{Key: c.Key, Classification: Warning, Reason: "entity shape changed; inspect affected instances"}
}

func stateOccupied(entityID, state string, live []LiveState) bool {
	if len(live) == 0 {
		return true
	}
	for _, l := range live {
		if l.EntityID == entityID && l.State == state {
			return true
		}
	}
	return false
}

func transitionPending(entityID string, t bundle.Transition, live []LiveState) bool {
	if len(live) == 0 {
		return true
	}
	for _, l := range live {
		if l.EntityID == entityID && l.State == t.From {
			return true
		}
	}
	return false
}

func containsStr(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func containsTransition(xs []bundle.Transition, x bundle.Transition) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
