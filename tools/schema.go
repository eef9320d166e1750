package tools

// Schema helpers for building JSON Schema definitions.

// Props maps parameter names to their schemas.
type Props map[string]interface{}

// Object creates an object schema with the given properties.
func Object(properties Props, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":                 "object",
		"properties":           map[string]interface{}(properties),
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Empty is the schema of an operation without parameters.
func Empty() map[string]interface{} {
	return Object(Props{})
}

// String creates a string property.
func String(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}

// StringEnum creates a string property with allowed values.
func StringEnum(description string, values ...string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
		"enum":        values,
	}
}

// Integer creates an integer property.
func Integer(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": description,
	}
}

// Array creates an array property with the given item schema.
func Array(description string, items map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"description": description,
		"items":       items,
	}
}

// FreeObject creates an object property accepting any keys.
func FreeObject(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":                 "object",
		"description":          description,
		"additionalProperties": true,
	}
}

// AnyJSON creates a property accepting any JSON value.
func AnyJSON(description string) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
	}
}
