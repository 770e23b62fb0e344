package core

import (
	"encoding/json"
	"fmt"
)

// Schema converts between Go values and message payloads.
// Implement this interface for custom serialization formats (Protobuf, Avro, etc.).
type Schema interface {
	Name() string
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// JSONSchema encodes values as JSON.
type JSONSchema struct{}

func (JSONSchema) Name() string { return "json" }

func (JSONSchema) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}
	return data, nil
}

func (JSONSchema) Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json: %w", err)
	}
	return nil
}

// BytesSchema passes payloads through untouched. Encode accepts []byte and
// string, Decode requires a *[]byte.
type BytesSchema struct{}

func (BytesSchema) Name() string { return "bytes" }

func (BytesSchema) Encode(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	}
	return nil, fmt.Errorf("bytes: cannot encode %T", v)
}

func (BytesSchema) Decode(data []byte, v any) error {
	p, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("bytes: cannot decode into %T", v)
	}
	*p = append((*p)[:0], data...)
	return nil
}

// StringSchema carries UTF-8 text.
type StringSchema struct{}

func (StringSchema) Name() string { return "string" }

func (StringSchema) Encode(v any) ([]byte, error) {
	switch s := v.(type) {
	case string:
		return []byte(s), nil
	case fmt.Stringer:
		return []byte(s.String()), nil
	}
	return nil, fmt.Errorf("string: cannot encode %T", v)
}

func (StringSchema) Decode(data []byte, v any) error {
	p, ok := v.(*string)
	if !ok {
		return fmt.Errorf("string: cannot decode into %T", v)
	}
	*p = string(data)
	return nil
}

// SchemaOrDefault returns s, or BytesSchema when s is nil.
func SchemaOrDefault(s Schema) Schema {
	if s == nil {
		return BytesSchema{}
	}
	return s
}
