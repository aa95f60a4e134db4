package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// decodeModelJSON unmarshals a model reply that may wrap its JSON in a fenced
// code block or surround it with prose.
func decodeModelJSON(reply string, out interface{}) error {
	cleaned := strings.TrimSpace(reply)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		if idx := strings.LastIndex(cleaned, "```"); idx >= 0 {
			cleaned = cleaned[:idx]
		}
		cleaned = strings.TrimSpace(cleaned)
	}
	if err := json.Unmarshal([]byte(cleaned), out); err == nil {
		return nil
	}
	// Fall back to the outermost object embedded in prose.
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), out); err == nil {
			return nil
		}
	}
	return fmt.Errorf("reply is not valid JSON")
}
