package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ArgumentValidator checks tool arguments against the tool's input schema
// before they are sent to a server. Compiled schemas are cached by content.
type ArgumentValidator struct {
	cache sync.Map
}

// NewArgumentValidator creates an empty validator.
func NewArgumentValidator() *ArgumentValidator {
	return &ArgumentValidator{}
}

// Validate returns an error describing why args do not satisfy the tool's
// schema. A schema that cannot be compiled disables validation for that
// tool rather than blocking the call.
func (v *ArgumentValidator) Validate(tool Tool, args json.RawMessage) error {
	if len(tool.InputSchema) == 0 {
		return nil
	}
	schema, err := v.compile(tool)
	if err != nil || schema == nil {
		return nil
	}

	var decoded any = map[string]any{}
	if len(args) > 0 && !bytes.Equal(args, []byte("null")) {
		if err := json.Unmarshal(args, &decoded); err != nil {
			return fmt.Errorf("arguments for %s are not valid JSON: %w", tool.Name, err)
		}
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("arguments for %s do not match its input schema: %w", tool.Name, err)
	}
	return nil
}

func (v *ArgumentValidator) compile(tool Tool) (*jsonschema.Schema, error) {
	key := string(tool.InputSchema)
	if cached, ok := v.cache.Load(key); ok {
		schema, _ := cached.(*jsonschema.Schema)
		return schema, nil
	}
	schema, err := jsonschema.CompileString(tool.Name+".schema.json", key)
	if err != nil {
		// Remember the failure so it is not recompiled on every call.
		v.cache.Store(key, (*jsonschema.Schema)(nil))
		return nil, err
	}
	v.cache.Store(key, schema)
	return schema, nil
}
