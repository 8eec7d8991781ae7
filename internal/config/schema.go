package config

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

// JSONSchema returns the JSON Schema of the config file, for editors and
// `sol config schema`.
var JSONSchema = sync.OnceValues(func() ([]byte, error) {
	r := &jsonschema.Reflector{
		FieldNameTag:   "yaml",
		DoNotReference: true,
	}
	schema := r.Reflect(&Config{})
	schema.Title = "sol configuration"
	return json.MarshalIndent(schema, "", "  ")
})
