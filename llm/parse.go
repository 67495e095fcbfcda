package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/docutag/curator/models"
)

// Result is the outcome of parsing model output: Recognized or Unrecognized.
type Result interface {
	isResult()
}

// Recognized carries an analysis with all required fields present.
type Recognized struct {
	Analysis models.Analysis
}

// Unrecognized carries model output that could not be turned into an analysis.
type Unrecognized struct {
	Raw    string
	Reason string
}

func (Recognized) isResult()   {}
func (Unrecognized) isResult() {}

// ParseAnalysis decodes the model's free text into an analysis. Output that is not
// JSON even after repair, or that lacks title or source_type, is Unrecognized.
func ParseAnalysis(raw string) Result {
	var a models.Analysis
	if err := DecodeJSON(raw, &a); err != nil {
		return Unrecognized{Raw: raw, Reason: err.Error()}
	}

	var missing []string
	if strings.TrimSpace(a.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(a.SourceType) == "" {
		missing = append(missing, "source_type")
	}
	if len(missing) > 0 {
		return Unrecognized{Raw: raw, Reason: "missing required fields: " + strings.Join(missing, ", ")}
	}

	return Recognized{Analysis: a}
}

// DecodeJSON decodes JSON from model output, tolerating code fences and prose
// around the object.
func DecodeJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}

	directErr := json.Unmarshal([]byte(trimmed), target)
	if directErr == nil {
		return nil
	}

	candidates := repairCandidates(trimmed)
	if len(candidates) == 0 {
		return fmt.Errorf("%w (payload snippet: %s)", directErr, summarizePayloadSnippet(trimmed))
	}

	var lastErr error
	for _, candidate := range candidates {
		if err := json.Unmarshal([]byte(candidate), target); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("%w (sanitized payload snippet: %s)", lastErr, summarizePayloadSnippet(candidates[0]))
}

// repairCandidates returns the distinct substrings worth trying, most specific first
func repairCandidates(content string) []string {
	seen := map[string]bool{content: true}
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}

	unfenced := stripCodeFenceBlock(content)
	add(unfenced)
	if span, ok := balancedObject(unfenced); ok {
		add(span)
	}
	if start := strings.Index(unfenced, "{"); start >= 0 {
		if end := strings.LastIndex(unfenced, "}"); end > start {
			add(unfenced[start : end+1])
		}
	}
	// A fence inside a string value cuts the fenced body short; the
	// object may still be whole in the raw text.
	if span, ok := balancedObject(content); ok {
		add(span)
	}
	return out
}

// balancedObject returns the first {...} span whose braces balance, ignoring
// braces inside JSON strings.
func balancedObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
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

func stripCodeFenceBlock(content string) string {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "```")
	if start < 0 {
		return trimmed
	}
	body := trimmed[start+3:]
	body = strings.TrimLeft(body, " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = strings.TrimLeft(body[4:], " \t\r\n")
	}
	if idx := strings.Index(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

func summarizePayloadSnippet(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "<empty>"
	}
	clean := strings.Join(strings.Fields(trimmed), " ")
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
