package bundle

import (
	"bytes"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// envelopeSchema validates only the bundle's outer shape (section 6.1):
// a Bundle kind, id, tenor version tag, and a constructs array of objects
// each carrying their own kind/id. Kind-specific construct fields are
// validated by the typed decoder in loader.go, not by this schema —
// mirrors the teacher's two-layer validate-then-decode split in
// pkg/manifest/validate_tool_args.go.
const envelopeSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["kind", "id", "tenor", "constructs"],
  "properties": {
    "kind": { "const": "Bundle" },
    "id": { "type": "string", "minLength": 1 },
    "tenor": { "type": "string" },
    "tenor_version": { "type": "string" },
    "constructs": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["kind", "id"],
        "properties": {
          "kind": { "type": "string" },
          "id": { "type": "string" }
        }
      }
    }
  }
}`

var (
	envelopeSchemaOnce sync.Once
	envelopeSchema     *jsonschema.Schema
	envelopeSchemaErr  error
)

func compiledEnvelopeSchema() (*jsonschema.Schema, error) {
	envelopeSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("tenor://bundle-envelope.json", bytes.NewReader([]byte(envelopeSchemaJSON))); err != nil {
			envelopeSchemaErr = err
			return
		}
		envelopeSchema, envelopeSchemaErr = compiler.Compile("tenor://bundle-envelope.json")
	})
	return envelopeSchema, envelopeSchemaErr
}

// ValidateEnvelope checks the raw decoded JSON document against the
// envelope schema before any typed decoding is attempted.
func ValidateEnvelope(doc any) error {
	schema, err := compiledEnvelopeSchema()
	if err != nil {
		return err
	}
	return schema.Validate(doc)
}
