package registry

// closedWorld returns a deep copy of schema where every object node rejects
// fields not declared in its properties. This is what prevents smuggling
// extra parameters past policy evaluation.
func closedWorld(schema map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		out[k] = closedWorldValue(v)
	}
	if isObjectSchema(out) {
		if _, set := out["additionalProperties"]; !set {
			out["additionalProperties"] = false
		}
	}
	return out
}

func closedWorldValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return closedWorld(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = closedWorldValue(item)
		}
		return out
	default:
		return v
	}
}

func isObjectSchema(schema map[string]interface{}) bool {
	if t, ok := schema["type"].(string); ok && t == "object" {
		return true
	}
	_, hasProps := schema["properties"]
	return hasProps
}
