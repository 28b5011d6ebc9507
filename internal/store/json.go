package store

import (
	"encoding/json"
	"fmt"
)

// MarshalKeyedPayloads builds the JSON document both keyed procedures
// accept: {"<key>": ["p1", "p2", ...]}. A nil payload slice is encoded as
// an empty array, never null.
func MarshalKeyedPayloads(key string, payloads []string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty fetch key")
	}
	if payloads == nil {
		payloads = []string{}
	}
	doc, err := json.Marshal(map[string][]string{key: payloads})
	if err != nil {
		return "", fmt.Errorf("marshal payloads under %q: %w", key, err)
	}
	return string(doc), nil
}
