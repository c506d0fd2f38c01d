package providers

// CleanSchemaForProvider returns a copy of schema with JSON Schema metadata
// keywords models tend to choke on (or reject outright) stripped out.
// Anthropic and OpenAI both reject "$schema" and "$id" on tool parameter
// schemas; Anthropic additionally has no use for "additionalProperties"
// since it already treats objects as closed.
func CleanSchemaForProvider(provider string, schema map[string]interface{}) map[string]interface{} {
	return cleanSchemaValue(provider, schema).(map[string]interface{})
}

func cleanSchemaValue(provider string, v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			switch k {
			case "$schema", "$id":
				continue
			case "additionalProperties":
				if provider == "anthropic" {
					continue
				}
			}
			out[k] = cleanSchemaValue(provider, child)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, child := range val {
			out[i] = cleanSchemaValue(provider, child)
		}
		return out
	default:
		return v
	}
}
