package desktop

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/haasonsaas/speedoflight/pkg/models"
)

// reflectSchema builds an inline object schema for a tool input struct.
func reflectSchema(v any) *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	schema := r.Reflect(v)
	schema.Version = ""
	return schema
}

func mustMarshal(schema *jsonschema.Schema) json.RawMessage {
	data, err := json.Marshal(schema)
	if err != nil {
		return models.EmptyObjectSchema
	}
	return data
}

var computerSchema = sync.OnceValue(func() json.RawMessage {
	schema := reflectSchema(&computerInput{})
	if action, ok := schema.Properties.Get("action"); ok {
		for _, name := range Actions() {
			action.Enum = append(action.Enum, name)
		}
	}
	return mustMarshal(schema)
})

// clipboardSetInput is the argument object of clipboard_set.
type clipboardSetInput struct {
	Text string `json:"text" jsonschema_description:"The text content to copy to the clipboard. Can be plain text, code, or any string data."`
}

var clipboardSetSchema = sync.OnceValue(func() json.RawMessage {
	return mustMarshal(reflectSchema(&clipboardSetInput{}))
})
