package rules_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/riverline-labs/tenor/pkg/bundle"
	"github.com/riverline-labs/tenor/pkg/rules"
)

func loadContract(t *testing.T, raw string) *bundle.Contract {
	t.Helper()
	loaded, err := bundle.Load([]byte(raw))
	require.NoError(t, err)
	return loaded.Contract
}

// Section 8, end-to-end scenario 1: one fact, one stratum-0 rule, one
// verdict with full provenance.
func TestEvaluateRuleFiresWithProvenance(t *testing.T) {
	c := loadContract(t, `{
		"kind": "Bundle", "id": "c-active", "tenor": "1.0", "tenor_version": "1.0.0",
		"constructs": [
			{"kind": "Fact", "id": "is_active", "type": {"kind": "Bool"}},
			{"kind": "Rule", "id": "rule-active", "stratum": 0,
			 "condition": {"op": "Compare", "left": {"op": "FactRef", "id": "is_active"}, "cmp_op": "=", "right": {"op": "Literal", "type": {"kind": "Bool"}, "value": true}},
			 "produce": {"verdict_type": "active", "payload_type": {"kind": "Bool"}, "payload": {"op": "Literal", "type": {"kind": "Bool"}, "value": true}}}
		]
	}`)

	facts := bundle.FactSet{"is_active": {Kind: bundle.KindBool, Bool: true}}
	verdicts, err := rules.Evaluate(c, facts)
	require.NoError(t, err)
	require.Len(t, verdicts, 1)

	v := verdicts[0]
	require.Equal(t, "active", v.Type)
	require.True(t, v.Payload.Bool)
	require.Equal(t, "rule-active", v.Provenance.Rule)
	require.Equal(t, 0, v.Provenance.Stratum)
	require.Equal(t, []string{"is_active"}, v.Provenance.FactsUsed)
	require.Empty(t, v.Provenance.VerdictsUsed)
}

func TestEvaluateRuleDoesNotFireWhenConditionFalse(t *testing.T) {
	c := loadContract(t, `{
		"kind": "Bundle", "id": "c-inactive", "tenor": "1.0", "tenor_version": "1.0.0",
		"constructs": [
			{"kind": "Fact", "id": "is_active", "type": {"kind": "Bool"}},
			{"kind": "Rule", "id": "rule-active", "stratum": 0,
			 "condition": {"op": "Compare", "left": {"op": "FactRef", "id": "is_active"}, "cmp_op": "=", "right": {"op": "Literal", "type": {"kind": "Bool"}, "value": true}},
			 "produce": {"verdict_type": "active", "payload_type": {"kind": "Bool"}, "payload": {"op": "Literal", "type": {"kind": "Bool"}, "value": true}}}
		]
	}`)

	facts := bundle.FactSet{"is_active": {Kind: bundle.KindBool, Bool: false}}
	verdicts, err := rules.Evaluate(c, facts)
	require.NoError(t, err)
	require.Empty(t, verdicts)
}

// A stratum-1 rule that reads a stratum-0 verdict must observe it; the
// reverse must never happen (stratum monotonicity, section 8).
func TestEvaluateHigherStratumObservesLowerStratumVerdict(t *testing.T) {
	c := loadContract(t, `{
		"kind": "Bundle", "id": "c-strata", "tenor": "1.0", "tenor_version": "1.0.0",
		"constructs": [
			{"kind": "Fact", "id": "flag", "type": {"kind": "Bool"}},
			{"kind": "Rule", "id": "rule-0", "stratum": 0,
			 "condition": {"op": "FactRef", "id": "flag"},
			 "produce": {"verdict_type": "base", "payload_type": {"kind": "Bool"}, "payload": {"op": "Literal", "type": {"kind": "Bool"}, "value": true}}},
			{"kind": "Rule", "id": "rule-1", "stratum": 1,
			 "condition": {"op": "VerdictPresent", "type": "base"},
			 "produce": {"verdict_type": "derived", "payload_type": {"kind": "Bool"}, "payload": {"op": "Literal", "type": {"kind": "Bool"}, "value": true}}}
		]
	}`)

	facts := bundle.FactSet{"flag": {Kind: bundle.KindBool, Bool: true}}
	verdicts, err := rules.Evaluate(c, facts)
	require.NoError(t, err)
	require.Len(t, verdicts, 2)
	require.Equal(t, "base", verdicts[0].Type)
	require.Equal(t, "derived", verdicts[1].Type)
	require.Equal(t, []string{"base"}, verdicts[1].Provenance.VerdictsUsed)
}

func TestEvaluateMissingFactFails(t *testing.T) {
	c := loadContract(t, `{
		"kind": "Bundle", "id": "c-missing", "tenor": "1.0", "tenor_version": "1.0.0",
		"constructs": [
			{"kind": "Fact", "id": "flag", "type": {"kind": "Bool"}},
			{"kind": "Rule", "id": "rule-0", "stratum": 0,
			 "condition": {"op": "FactRef", "id": "flag"},
			 "produce": {"verdict_type": "base", "payload_type": {"kind": "Bool"}, "payload": {"op": "Literal", "type": {"kind": "Bool"}, "value": true}}}
		]
	}`)

	_, err := rules.Evaluate(c, bundle.FactSet{})
	require.Error(t, err)
}

func TestEvaluateDeterministicAcrossRuns(t *testing.T) {
	c := loadContract(t, `{
		"kind": "Bundle", "id": "c-det", "tenor": "1.0", "tenor_version": "1.0.0",
		"constructs": [
			{"kind": "Fact", "id": "flag", "type": {"kind": "Bool"}},
			{"kind": "Rule", "id": "rule-0", "stratum": 0,
			 "condition": {"op": "FactRef", "id": "flag"},
			 "produce": {"verdict_type": "base", "payload_type": {"kind": "Bool"}, "payload": {"op": "Literal", "type": {"kind": "Bool"}, "value": true}}}
		]
	}`)

	facts := bundle.FactSet{"flag": {Kind: bundle.KindBool, Bool: true}}
	v1, err := rules.Evaluate(c, facts)
	require.NoError(t, err)
	v2, err := rules.Evaluate(c, facts)
	require.NoError(t, err)
	require.Equal(t, v1, v2)
}
