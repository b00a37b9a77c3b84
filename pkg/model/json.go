package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON finds the first complete JSON object or array in untrusted LLM
// output via bracket scanning and unmarshals it into out. Content before and
// after the JSON (prose, code fences) is ignored.
//
// Callers treat a failure here as a ParseFailure and apply their documented
// fallback.
func ExtractJSON(content string, out any) error {
	raw, err := FirstJSON(content)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("extracted JSON did not match expected shape: %w", err)
	}
	return nil
}

// FirstJSON returns the first balanced JSON object or array in content.
func FirstJSON(content string) (string, error) {
	start := -1
	var open, close byte
	for i := 0; i < len(content); i++ {
		switch content[i] {
		case '{':
			start, open, close = i, '{', '}'
		case '[':
			start, open, close = i, '[', ']'
		}
		if start >= 0 {
			break
		}
	}
	if start < 0 {
		return "", fmt.Errorf("no JSON object found in content")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				candidate := content[start : i+1]
				if json.Valid([]byte(candidate)) {
					return candidate, nil
				}
				return "", fmt.Errorf("bracket-balanced span is not valid JSON")
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON in content")
}

// ParseYesNo interprets a yes/no verification answer leniently. Defaults to
// no on anything unrecognized.
func ParseYesNo(content string) bool {
	answer := strings.ToLower(strings.TrimSpace(content))
	answer = strings.Trim(answer, ".!\"' ")
	return answer == "yes" || strings.HasPrefix(answer, "yes")
}
