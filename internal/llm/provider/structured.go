package provider

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// JSONSchemaValidator validates JSON data against a JSON Schema
type JSONSchemaValidator struct {
	strictMode bool
}

// NewJSONSchemaValidator creates a new schema validator
func NewJSONSchemaValidator(strict bool) *JSONSchemaValidator {
	return &JSONSchemaValidator{
		strictMode: strict,
	}
}

// Schema represents a JSON Schema
type Schema struct {
	Type        string             `json:"type,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Enum        []any              `json:"enum,omitempty"`
	Minimum     *float64           `json:"minimum,omitempty"`
	Maximum     *float64           `json:"maximum,omitempty"`
	MinItems    *int               `json:"minItems,omitempty"`
	MaxItems    *int               `json:"maxItems,omitempty"`
	MinLength   *int               `json:"minLength,omitempty"`
	MaxLength   *int               `json:"maxLength,omitempty"`
	Nullable    bool               `json:"nullable,omitempty"`
	Description string             `json:"description,omitempty"`
}

// ParseSchema parses a JSON Schema from raw JSON
func ParseSchema(raw json.RawMessage) (*Schema, error) {
	var schema Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	return &schema, nil
}

// ValidationResult contains the result of schema validation
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Validate validates data against the schema
func (v *JSONSchemaValidator) Validate(schema *Schema, data any) *ValidationResult {
	result := &ValidationResult{Valid: true}
	v.validateValue(schema, data, "", result)
	return result
}

// validateValue recursively validates a value against a schema
func (v *JSONSchemaValidator) validateValue(schema *Schema, value any, path string, result *ValidationResult) {
	if schema == nil {
		return
	}

	if value == nil {
		if schema.Nullable {
			return
		}
	}

	// Type validation
	if schema.Type != "" {
		if !v.checkType(schema.Type, value) {
			result.Valid = false
			result.Errors = append(result.Errors,
				fmt.Sprintf("%s: expected type %s, got %T", pathOrRoot(path), schema.Type, value))
			return
		}
	}

	switch schema.Type {
	case "object":
		v.validateObject(schema, value, path, result)
	case "array":
		v.validateArray(schema, value, path, result)
	case "string":
		v.validateString(schema, value, path, result)
	case "number", "integer":
		v.validateNumber(schema, value, path, result)
	}

	// Enum validation
	if len(schema.Enum) > 0 {
		v.validateEnum(schema.Enum, value, path, result)
	}
}

// checkType checks if a value matches the expected JSON Schema type
func (v *JSONSchemaValidator) checkType(schemaType string, value any) bool {
	if value == nil {
		return schemaType == "null"
	}

	switch schemaType {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, float32, int, int64, int32:
			return true
		}
		return false
	case "integer":
		switch val := value.(type) {
		case int, int64, int32:
			return true
		case float64:
			return val == float64(int64(val))
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		rv := reflect.ValueOf(value)
		return rv.Kind() == reflect.Slice
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "null":
		return value == nil
	}
	return false
}

// validateObject validates an object against schema
func (v *JSONSchemaValidator) validateObject(schema *Schema, value any, path string, result *ValidationResult) {
	obj, ok := value.(map[string]any)
	if !ok {
		return
	}

	// Check required fields
	for _, reqField := range schema.Required {
		if _, exists := obj[reqField]; !exists {
			result.Valid = false
			result.Errors = append(result.Errors,
				fmt.Sprintf("%s: missing required field '%s'", pathOrRoot(path), reqField))
		}
	}

	// Validate properties
	for propName, propSchema := range schema.Properties {
		propPath := joinPath(path, propName)
		if propValue, exists := obj[propName]; exists {
			v.validateValue(propSchema, propValue, propPath, result)
		}
	}

	// In strict mode, reject unknown properties
	if v.strictMode {
		for propName := range obj {
			if _, defined := schema.Properties[propName]; !defined {
				result.Valid = false
				result.Errors = append(result.Errors,
					fmt.Sprintf("%s: unknown property '%s'", pathOrRoot(path), propName))
			}
		}
	}
}

// validateArray validates an array against schema
func (v *JSONSchemaValidator) validateArray(schema *Schema, value any, path string, result *ValidationResult) {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice {
		return
	}

	if schema.MinItems != nil && rv.Len() < *schema.MinItems {
		result.Valid = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("%s: array length %d is less than minimum %d", pathOrRoot(path), rv.Len(), *schema.MinItems))
	}
	if schema.MaxItems != nil && rv.Len() > *schema.MaxItems {
		result.Valid = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("%s: array length %d is greater than maximum %d", pathOrRoot(path), rv.Len(), *schema.MaxItems))
	}

	if schema.Items != nil {
		for i := 0; i < rv.Len(); i++ {
			itemPath := fmt.Sprintf("%s[%d]", path, i)
			v.validateValue(schema.Items, rv.Index(i).Interface(), itemPath, result)
		}
	}
}

// validateString validates a string against schema constraints
func (v *JSONSchemaValidator) validateString(schema *Schema, value any, path string, result *ValidationResult) {
	str, ok := value.(string)
	if !ok {
		return
	}

	if schema.MinLength != nil && len(str) < *schema.MinLength {
		result.Valid = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("%s: string length %d is less than minimum %d", pathOrRoot(path), len(str), *schema.MinLength))
	}

	if schema.MaxLength != nil && len(str) > *schema.MaxLength {
		result.Valid = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("%s: string length %d is greater than maximum %d", pathOrRoot(path), len(str), *schema.MaxLength))
	}
}

// validateNumber validates a number against schema constraints
func (v *JSONSchemaValidator) validateNumber(schema *Schema, value any, path string, result *ValidationResult) {
	var num float64
	switch val := value.(type) {
	case float64:
		num = val
	case int:
		num = float64(val)
	case int64:
		num = float64(val)
	default:
		return
	}

	if schema.Minimum != nil && num < *schema.Minimum {
		result.Valid = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("%s: value %v is less than minimum %v", pathOrRoot(path), num, *schema.Minimum))
	}

	if schema.Maximum != nil && num > *schema.Maximum {
		result.Valid = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("%s: value %v is greater than maximum %v", pathOrRoot(path), num, *schema.Maximum))
	}
}

// validateEnum validates a value against enum options
func (v *JSONSchemaValidator) validateEnum(enum []any, value any, path string, result *ValidationResult) {
	for _, option := range enum {
		if reflect.DeepEqual(option, value) {
			return
		}
	}
	result.Valid = false
	result.Errors = append(result.Errors,
		fmt.Sprintf("%s: value %v is not one of allowed values %v", pathOrRoot(path), value, enum))
}

// Helper functions
func pathOrRoot(path string) string {
	if path == "" {
		return "root"
	}
	return path
}

func joinPath(base, field string) string {
	if base == "" {
		return field
	}
	return base + "." + field
}

// DecodeStructured validates a structured response against a schema and
// unmarshals it into out. Validation is eager: a response that parses but
// does not match the schema is rejected with a schema_violation error before
// any workflow state can absorb it.
func DecodeStructured(providerName string, resp *StructuredResponse, schemaRaw json.RawMessage, strict bool, out any) error {
	raw := resp.Data
	if len(raw) == 0 {
		// Some providers return the JSON embedded in prose
		extracted := extractJSON(resp.Content)
		if extracted == "" {
			return NewProviderError(providerName, ErrorCodeSchemaViolation, "no JSON object found in response", nil)
		}
		raw = json.RawMessage(extracted)
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		// Retry extraction: Data may carry prose around the object
		extracted := extractJSON(string(raw))
		if extracted == "" {
			return NewProviderError(providerName, ErrorCodeSchemaViolation, "response is not valid JSON: "+err.Error(), err)
		}
		raw = json.RawMessage(extracted)
		if err := json.Unmarshal(raw, &data); err != nil {
			return NewProviderError(providerName, ErrorCodeSchemaViolation, "response is not valid JSON: "+err.Error(), err)
		}
	}

	if len(schemaRaw) > 0 {
		schema, err := ParseSchema(schemaRaw)
		if err != nil {
			return fmt.Errorf("invalid response schema: %w", err)
		}
		result := NewJSONSchemaValidator(strict).Validate(schema, data)
		if !result.Valid {
			return NewProviderError(providerName, ErrorCodeSchemaViolation,
				"schema validation failed: "+strings.Join(result.Errors, "; "), nil)
		}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return NewProviderError(providerName, ErrorCodeSchemaViolation, "decode response: "+err.Error(), err)
		}
	}

	return nil
}

// extractJSON extracts a JSON object from text
func extractJSON(text string) string {
	// Try to find JSON object
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}

	// Find matching closing brace
	depth := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		c := text[i]

		if escape {
			escape = false
			continue
		}

		switch c {
		case '\\':
			if inString {
				escape = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}

	return ""
}
