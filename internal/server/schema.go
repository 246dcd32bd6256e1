// Copyright 2025 Joseph Cumines
//
// JSON schema builders for tool input

package server

func objectSchema(properties map[string]any, required ...string) map[string]any {
	if properties == nil {
		properties = map[string]any{}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func numberProp(description string) map[string]any {
	return map[string]any{"type": "number", "description": description}
}

func integerProp(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

func enumProp(description string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": description, "enum": values}
}

// anyProp accepts any JSON value.
func anyProp(description string) map[string]any {
	return map[string]any{"description": description}
}

func argsProp(description string) map[string]any {
	return map[string]any{"type": "array", "description": description, "items": map[string]any{}}
}

func dataProp(description string) map[string]any {
	return map[string]any{"type": "object", "description": description}
}

func selectorProp() map[string]any {
	return stringProp("Element selector. Space separated segments are resolved one inside the other, e.g. \"view .item\"")
}

func touchesProp(description string) map[string]any {
	return map[string]any{
		"type":        "array",
		"description": description,
		"items": objectSchema(map[string]any{
			"identifier": numberProp("Touch point identifier, distinguishes fingers"),
			"pageX":      numberProp("X coordinate relative to the page"),
			"pageY":      numberProp("Y coordinate relative to the page"),
			"clientX":    numberProp("X coordinate relative to the viewport"),
			"clientY":    numberProp("Y coordinate relative to the viewport"),
		}, "identifier", "pageX", "pageY", "clientX", "clientY"),
	}
}
