package cascade

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
)

const maxTextRunes = 500

// extractJSON strips markdown fences and returns the first balanced JSON
// object or array in s.
func extractJSON(s string) (string, error) {
	cleaned := strings.TrimSpace(s)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	start := strings.IndexAny(cleaned, "{[")
	if start < 0 {
		return "", eris.New("cascade: no JSON in response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(cleaned); i++ {
		ch := cleaned[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{' || ch == '[':
			depth++
		case ch == '}' || ch == ']':
			depth--
			if depth == 0 {
				return cleaned[start : i+1], nil
			}
		}
	}
	return "", eris.New("cascade: unterminated JSON in response")
}

// decodeAnalyses parses either {"analyses": [...]} or a bare array.
func decodeAnalyses[T any](text string) ([]T, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(raw, "[") {
		var items []T
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil, eris.Wrap(err, "cascade: decode analyses")
		}
		return items, nil
	}
	var env struct {
		Analyses []T `json:"analyses"`
	}
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, eris.Wrap(err, "cascade: decode analyses")
	}
	if env.Analyses == nil {
		return nil, eris.New("cascade: response has no analyses")
	}
	return env.Analyses, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= maxTextRunes {
		return s
	}
	r := []rune(s)
	return string(r[:maxTextRunes])
}

func normToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	return strings.ReplaceAll(s, " ", "_")
}

func cleanList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, truncate(s))
		}
	}
	return out
}
