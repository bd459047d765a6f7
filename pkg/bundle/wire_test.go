package bundle_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/riverline-labs/tenor/pkg/bundle"
	"github.com/riverline-labs/tenor/pkg/numeric"
	"github.com/riverline-labs/tenor/pkg/tenorerr"
)

func factsContract(t *testing.T) *bundle.Contract {
	t.Helper()
	raw := []byte(`{
		"kind": "Bundle",
		"id": "c-facts",
		"tenor": "1.0",
		"tenor_version": "1.0.0",
		"constructs": [
			{"kind": "Fact", "id": "limit", "type": {"kind": "Money", "precision": 10, "scale": 2}},
			{"kind": "Fact", "id": "active", "type": {"kind": "Bool"}, "default": false},
			{"kind": "Fact", "id": "label", "type": {"kind": "Text", "max_bytes": 64}}
		]
	}`)
	loaded, err := bundle.Load(raw)
	require.NoError(t, err)
	return loaded.Contract
}

func TestDecodeFactSetAppliesDefaultsAndIgnoresExtras(t *testing.T) {
	c := factsContract(t)
	raw := []byte(`{"limit":{"amount":"125.50","currency":"usd"},"label":"gold","unknown_field":42}`)

	facts, err := bundle.DecodeFactSet(c, raw)
	require.NoError(t, err)

	require.Equal(t, "USD", facts["limit"].Money.Currency)
	require.False(t, facts["active"].Bool, "missing fact must fall back to its declared default")
	require.Equal(t, "gold", facts["label"].Text)
	_, hasExtra := facts["unknown_field"]
	require.False(t, hasExtra)
}

func TestDecodeFactSetFailsWhenNoDefaultAndNotSupplied(t *testing.T) {
	c := factsContract(t)
	raw := []byte(`{"active":true,"label":"silver"}`)

	_, err := bundle.DecodeFactSet(c, raw)
	require.Error(t, err)
	kind, ok := tenorerr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, tenorerr.KindMissingFact, kind)
}

func TestDecodeFactSetRejectsNonObjectInput(t *testing.T) {
	c := factsContract(t)
	_, err := bundle.DecodeFactSet(c, []byte(`[1,2,3]`))
	require.Error(t, err)
}

func TestEncodeValueRoundTripsAllKinds(t *testing.T) {
	dec, err := numeric.ParseDecimal("19.995")
	require.NoError(t, err)
	money, err := numeric.NewMoney(dec, "usd")
	require.NoError(t, err)

	v := bundle.Value{
		Kind: bundle.KindRecord,
		Record: map[string]bundle.Value{
			"flag":     {Kind: bundle.KindBool, Bool: true},
			"count":    {Kind: bundle.KindInt, Int: 7},
			"amount":   {Kind: bundle.KindDecimal, Decimal: dec},
			"price":    {Kind: bundle.KindMoney, Money: money},
			"tier":     {Kind: bundle.KindEnum, Enum: "gold"},
			"duration": {Kind: bundle.KindDuration, Duration: numeric.Duration{Count: 30, Unit: numeric.UnitDays}},
			"tags": {Kind: bundle.KindList, List: []bundle.Value{
				{Kind: bundle.KindText, Text: "a"},
				{Kind: bundle.KindText, Text: "b"},
			}},
		},
	}

	encoded, err := bundle.EncodeValue(v)
	require.NoError(t, err)

	out, err := json.Marshal(encoded)
	require.NoError(t, err)

	var back map[string]any
	require.NoError(t, json.Unmarshal(out, &back))
	require.Equal(t, true, back["flag"])
	require.Equal(t, "19.995", back["amount"])
	require.Equal(t, "gold", back["tier"])

	price, ok := back["price"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "USD", price["currency"])
	require.Equal(t, "19.995", price["amount"])
}

func TestEncodeVerdictSetProducesWireShape(t *testing.T) {
	vs := bundle.VerdictSet{
		{
			Type:    "risk_tier",
			Payload: bundle.Value{Kind: bundle.KindEnum, Enum: "high"},
			Provenance: bundle.Provenance{
				Rule:         "rule-risk",
				Stratum:      1,
				FactsUsed:    []string{"limit"},
				VerdictsUsed: nil,
			},
		},
	}

	out, err := bundle.EncodeVerdictSet(vs)
	require.NoError(t, err)

	var parsed struct {
		Verdicts []struct {
			Type       string `json:"type"`
			Payload    string `json:"payload"`
			Provenance struct {
				Rule      string   `json:"rule"`
				Stratum   int      `json:"stratum"`
				FactsUsed []string `json:"facts_used"`
			} `json:"provenance"`
		} `json:"verdicts"`
	}
	require.NoError(t, json.Unmarshal(out, &parsed))
	require.Len(t, parsed.Verdicts, 1)
	require.Equal(t, "risk_tier", parsed.Verdicts[0].Type)
	require.Equal(t, "high", parsed.Verdicts[0].Payload)
	require.Equal(t, "rule-risk", parsed.Verdicts[0].Provenance.Rule)
	require.Equal(t, 1, parsed.Verdicts[0].Provenance.Stratum)
}
