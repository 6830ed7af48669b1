// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errNoObject = errors.New("response contains no JSON object")

// ParseObject decodes a model answer into a JSON object. Models sometimes
// wrap the object in a Markdown code fence or a sentence of prose; both are
// tolerated. Anything that does not decode to an object is an error.
func ParseObject(text string) (map[string]any, error) {
	body := stripFence(strings.TrimSpace(text))

	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err == nil && obj != nil {
		return obj, nil
	}

	start := strings.IndexByte(body, '{')
	end := strings.LastIndexByte(body, '}')
	if start < 0 || end <= start {
		return nil, errNoObject
	}
	if err := json.Unmarshal([]byte(body[start:end+1]), &obj); err != nil {
		return nil, fmt.Errorf("decoding JSON object: %w", err)
	}
	if obj == nil {
		return nil, errNoObject
	}
	return obj, nil
}

// stripFence removes a surrounding ``` or ```json fence.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
