package claim

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "https://claimtype.local/schemas/form-state.schema.json"

// ErrInvalid marks input rejected by the Validator.
var ErrInvalid = errors.New("invalid form state")

// Schema returns the JSON Schema of a (possibly partial) form state. Every
// property is optional; absent keys take their default.
func Schema(c Choices) map[string]any {
	props := make(map[string]any, len(fieldDefs))
	for _, f := range Fields(c) {
		p := map[string]any{"title": f.Label, "description": f.Help}
		if f.HasRange() {
			p["minimum"] = f.Min
			p["maximum"] = f.Max
		}
		switch f.Kind {
		case KindInt, KindMonth:
			p["type"] = "integer"
		case KindFloat:
			p["type"] = "number"
		case KindBool:
			p["type"] = "boolean"
		case KindChoice:
			enum := make([]string, len(f.Options))
			for i, o := range f.Options {
				enum[i] = o.Value
			}
			p["type"] = "string"
			p["enum"] = enum
		}
		props[f.Key] = p
	}
	return map[string]any{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"$id":                  schemaURL,
		"title":                "Claim form state",
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
}

// Validator checks untrusted form input against the generated schema and
// merges it over the defaults.
type Validator struct {
	schema   *jsonschema.Schema
	defaults FormState
}

// NewValidator compiles the schema for the given choices.
func NewValidator(c Choices) (*Validator, error) {
	raw, err := json.Marshal(Schema(c))
	if err != nil {
		return nil, fmt.Errorf("marshal form schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(schemaURL, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("form schema load failed: %w", err)
	}
	compiled, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("form schema compile failed: %w", err)
	}
	return &Validator{schema: compiled, defaults: NewFormState(c)}, nil
}

// Defaults returns the form state untrusted input is merged over.
func (v *Validator) Defaults() FormState {
	return v.defaults
}

// Validate checks an already decoded JSON value.
func (v *Validator) Validate(doc any) error {
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Decode validates a JSON object and returns it merged over the defaults.
func (v *Validator) Decode(data []byte) (FormState, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return FormState{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := v.Validate(doc); err != nil {
		return FormState{}, err
	}
	s, err := v.defaults.Merge(data)
	if err != nil {
		return FormState{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return s, nil
}

// DecodeMap is Decode for a value that has already been parsed into a map,
// such as a protobuf Struct.
func (v *Validator) DecodeMap(m map[string]any) (FormState, error) {
	if err := v.Validate(m); err != nil {
		return FormState{}, err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return FormState{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	s, err := v.defaults.Merge(data)
	if err != nil {
		return FormState{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return s, nil
}

// Check validates a complete form state, for states assembled outside JSON.
func (v *Validator) Check(s FormState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return v.Validate(doc)
}
