package weights

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// ErrInvalidFile means a weights file does not match the vendors document layout.
var ErrInvalidFile = errors.New("invalid weights file")

const fileSchema = `{
  "type": "object",
  "required": ["vendors"],
  "additionalProperties": false,
  "properties": {
    "vendors": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "properties": {
          "data_vendor_id": {"type": "integer", "minimum": 1},
          "name": {"type": "string", "pattern": "\\S"},
          "consensus_weight": {"type": ["number", "null"], "minimum": 0}
        },
        "anyOf": [
          {"required": ["data_vendor_id"]},
          {"required": ["name"]}
        ]
      }
    }
  }
}`

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("weights.schema.json", strings.NewReader(fileSchema)); err != nil {
		return nil, err
	}
	return compiler.Compile("weights.schema.json")
})

// validateDoc checks raw YAML against the weights schema before it is decoded
// into entries. YAML is round-tripped through JSON so numbers reach the
// validator as float64.
func validateDoc(raw []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile weights schema: %w", err)
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	js, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	var generic any
	if err := json.Unmarshal(js, &generic); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	if err := schema.Validate(generic); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	return nil
}
