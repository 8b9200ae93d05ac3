package assistant

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Priority is the urgency the assistant attaches to a suggestion.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Suggestion is the structured "what to build next" payload returned by the
// assistant. It is consumed by one iteration and then only kept inside that
// iteration's record.
type Suggestion struct {
	Feature        string   `json:"feature"`
	Description    string   `json:"description"`
	Priority       Priority `json:"priority"`
	Files          []string `json:"files"`
	Implementation string   `json:"implementation"`
	Styling        string   `json:"styling"`
}

// DefaultSuggestion is used whenever the assistant cannot produce one, so the
// loop never stalls on assistant unavailability.
func DefaultSuggestion() *Suggestion {
	return &Suggestion{
		Feature:        "Code Quality Improvement",
		Description:    "Refactor existing components and improve type definitions",
		Priority:       PriorityMedium,
		Files:          []string{"src/**/*"},
		Implementation: "Review and refactor existing code for better maintainability",
		Styling:        "Keep all components consistent with the existing design patterns",
	}
}

var errNoObject = errors.New("no JSON object found in response")

// ParseSuggestion decodes raw assistant output. It first tries to decode the
// whole output, then falls back to the first balanced {...} substring.
func ParseSuggestion(raw string) (*Suggestion, error) {
	var s Suggestion
	direct := json.Unmarshal([]byte(strings.TrimSpace(raw)), &s)
	if direct != nil {
		obj, ok := extractObject(raw)
		if !ok {
			return nil, errNoObject
		}
		s = Suggestion{}
		if err := json.Unmarshal([]byte(obj), &s); err != nil {
			return nil, fmt.Errorf("failed to decode embedded object: %w", err)
		}
	}

	if strings.TrimSpace(s.Feature) == "" {
		return nil, errors.New("suggestion has no feature")
	}
	s.Priority = normalizePriority(s.Priority)
	return &s, nil
}

func normalizePriority(p Priority) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(string(p)))) {
	case PriorityLow:
		return PriorityLow
	case PriorityHigh:
		return PriorityHigh
	default:
		return PriorityMedium
	}
}

// extractObject returns the first balanced JSON object in s. Braces inside
// string literals are ignored.
func extractObject(s string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if start == -1 {
			if c == '{' {
				start = i
				depth = 1
			}
			continue
		}

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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
