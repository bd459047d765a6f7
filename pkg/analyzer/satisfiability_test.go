package analyzer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/riverline-labs/tenor/pkg/analyzer"
	"github.com/riverline-labs/tenor/pkg/bundle"
)

const satisfiabilityBundleJSON = `{
  "kind": "Bundle",
  "id": "satisfiability-fixture",
  "tenor": "1.0",
  "tenor_version": "1.0.0",
  "constructs": [
    {
      "kind": "Fact",
      "id": "age",
      "type": { "kind": "Int", "min": 0, "max": 17 }
    },
    {
      "kind": "Operation",
      "id": "grant_adult_access",
      "allowed_personas": ["clerk"],
      "precondition": {
        "op": "Compare",
        "left": { "op": "FactRef", "id": "age" },
        "cmp_op": ">=",
        "right": { "op": "Literal", "type": { "kind": "Int", "min": 0, "max": 200 }, "value": 18 }
      },
      "effects": [],
      "outcomes": ["granted"]
    },
    {
      "kind": "Operation",
      "id": "grant_minor_access",
      "allowed_personas": ["clerk"],
      "precondition": {
        "op": "Compare",
        "left": { "op": "FactRef", "id": "age" },
        "cmp_op": "<",
        "right": { "op": "Literal", "type": { "kind": "Int", "min": 0, "max": 200 }, "value": 18 }
      },
      "effects": [],
      "outcomes": ["granted"]
    }
  ]
}`

func loadSatisfiabilityFixture(t *testing.T) *bundle.Contract {
	t.Helper()
	loaded, err := bundle.Load([]byte(satisfiabilityBundleJSON))
	require.NoError(t, err)
	return loaded.Contract
}

func TestCheckSatisfiabilityFindsAlwaysFalsePrecondition(t *testing.T) {
	contract := loadSatisfiabilityFixture(t)

	reports, err := analyzer.CheckSatisfiability(contract)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	byOp := map[string]analyzer.SatisfiabilityReport{}
	for _, r := range reports {
		byOp[r.OperationID] = r
	}

	adult := byOp["grant_adult_access"]
	require.True(t, adult.Unsatisfiable, "age >= 18 can never hold given age declared in [0, 17]")
	require.NotEmpty(t, adult.Domain)

	minor := byOp["grant_minor_access"]
	require.False(t, minor.Unsatisfiable, "age < 18 always holds given age declared in [0, 17], which is satisfiable, not a contradiction")
}
