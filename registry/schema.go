package registry

import (
	"bytes"
	_ "embed"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed descriptor.schema.json
var schemaJSON []byte

var (
	descriptorSchema *jsonschema.Schema
	compileOnce      sync.Once
	compileErr       error
)

// compileSchema compiles the embedded descriptor schema once.
func compileSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			compileErr = fmt.Errorf("unmarshal descriptor schema: %w", err)
			return
		}

		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("descriptor.schema.json", doc); err != nil {
			compileErr = fmt.Errorf("add descriptor schema resource: %w", err)
			return
		}

		descriptorSchema, compileErr = compiler.Compile("descriptor.schema.json")
	})
	return descriptorSchema, compileErr
}

// validateSchema checks an already-decoded descriptor document against the
// embedded JSON schema. The document must be plain maps/slices/scalars.
func validateSchema(doc any) error {
	schema, err := compileSchema()
	if err != nil {
		return err
	}
	return schema.Validate(doc)
}
