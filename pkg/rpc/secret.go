package rpc

var secretFields = []string{"secret", "seed", "seed_hex", "passphrase"}

// RemoveSecret returns a shallow copy of request safe to log. Secret
// fields are masked at the top level and inside params[0].
func RemoveSecret(request map[string]any) map[string]any {
	out := maskSecrets(request)

	if params, ok := out["params"].([]any); ok && len(params) > 0 {
		if first, ok := Object(params[0]); ok {
			masked := make([]any, len(params))
			copy(masked, params)
			masked[0] = maskSecrets(first)
			out["params"] = masked
		}
	}
	return out
}

func maskSecrets(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	for _, field := range secretFields {
		if _, ok := out[field]; ok {
			out[field] = "*"
		}
	}
	return out
}
