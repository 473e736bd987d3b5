package services

import "strings"

// sensitiveFields are stripped from activity payloads before they are
// persisted or broadcast, at any nesting depth.
var sensitiveFields = map[string]struct{}{
	"password":      {},
	"token":         {},
	"secret":        {},
	"authorization": {},
	"apikey":        {},
	"sessionid":     {},
}

// sanitizePayload returns a copy of payload with sensitive fields removed.
// The input map is never mutated.
func sanitizePayload(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return nil
	}

	clean := make(map[string]interface{}, len(payload))
	for key, value := range payload {
		if _, sensitive := sensitiveFields[strings.ToLower(key)]; sensitive {
			continue
		}
		clean[key] = sanitizeValue(value)
	}
	return clean
}

func sanitizeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return sanitizePayload(v)
	case []interface{}:
		clean := make([]interface{}, len(v))
		for i, item := range v {
			clean[i] = sanitizeValue(item)
		}
		return clean
	default:
		return value
	}
}
