package llm

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"roadtest/internal/types"
)

// decodeJSONBlob unmarshals a model response that may be wrapped in markdown
// code fences or surrounded by prose.
func decodeJSONBlob(resp string, v interface{}) error {
	blob := extractJSON(resp)
	if blob == "" {
		return fmt.Errorf("no JSON object in response")
	}
	return json.Unmarshal([]byte(blob), v)
}

// extractJSON returns the first balanced {...} object in the text.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
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
				return s[start : i+1]
			}
		}
	}
	return ""
}

// parseLocateResponse parses the strict FOUND:/X:/Y:/CONFIDENCE: grammar.
// A clean "FOUND: NO" yields (nil, nil).
func parseLocateResponse(resp string) (*types.Coordinate, error) {
	fields := map[string]string{}
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		for _, key := range []string{"FOUND", "X", "Y", "CONFIDENCE"} {
			prefix := key + ":"
			if strings.HasPrefix(strings.ToUpper(line), prefix) {
				fields[key] = strings.TrimSpace(line[len(prefix):])
			}
		}
	}

	found, ok := fields["FOUND"]
	if !ok {
		return nil, fmt.Errorf("response missing FOUND line: %q", firstLine(resp))
	}
	if !strings.HasPrefix(strings.ToUpper(found), "YES") {
		return nil, nil
	}

	x, errX := strconv.Atoi(strings.Fields(fields["X"] + " x")[0])
	y, errY := strconv.Atoi(strings.Fields(fields["Y"] + " x")[0])
	if errX != nil || errY != nil {
		return nil, fmt.Errorf("unparseable coordinates X=%q Y=%q", fields["X"], fields["Y"])
	}

	conf := 0.0
	if c, err := strconv.ParseFloat(strings.TrimSuffix(fields["CONFIDENCE"], "%"), 64); err == nil {
		conf = c
	}
	return &types.Coordinate{X: x, Y: y, Confidence: conf}, nil
}

// parseVerdict parses the SUCCESS:/REASONING:/CONFIDENCE: diagnostic grammar.
func parseVerdict(resp string) (types.AIVerdict, error) {
	v := types.AIVerdict{Available: true}
	seenSuccess := false
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "SUCCESS:"):
			v.Success = strings.Contains(strings.ToUpper(line[len("SUCCESS:"):]), "YES")
			seenSuccess = true
		case strings.HasPrefix(upper, "REASONING:"):
			v.Reasoning = strings.TrimSpace(line[len("REASONING:"):])
		case strings.HasPrefix(upper, "CONFIDENCE:"):
			raw := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line[len("CONFIDENCE:"):]), "%"))
			if c, err := strconv.ParseFloat(raw, 64); err == nil {
				v.Confidence = c
			}
		}
	}
	if !seenSuccess {
		return types.AIVerdict{}, fmt.Errorf("diagnostic missing SUCCESS line: %q", firstLine(resp))
	}
	return v, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
