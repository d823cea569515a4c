package analysis

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"PromptHarvester/internal/domain"
)

type assessmentReply struct {
	Score      *float64 `json:"score"`
	Genre      string   `json:"genre"`
	Reasoning  string   `json:"reasoning"`
	Strengths  []string `json:"strengths"`
	Weaknesses []string `json:"weaknesses"`
}

// parseAssessment extracts the JSON object from a model reply, which may be
// wrapped in prose or code fences. Replies with unescaped quotes inside
// string values are repaired once before giving up.
func parseAssessment(reply string) (domain.AIAssessment, bool, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start == -1 || end == -1 || end < start {
		return domain.AIAssessment{}, false, fmt.Errorf("no JSON found in reply")
	}
	raw := reply[start : end+1]

	var parsed assessmentReply
	sanitized := false
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		if sErr := json.Unmarshal([]byte(sanitizeJSON(raw)), &parsed); sErr != nil {
			return domain.AIAssessment{}, false, fmt.Errorf("unmarshal reply: %w (sanitized version also failed: %v)", err, sErr)
		}
		sanitized = true
	}

	if parsed.Score == nil || math.IsNaN(*parsed.Score) {
		return domain.AIAssessment{}, sanitized, fmt.Errorf("reply has no score")
	}

	return domain.AIAssessment{
		Score:      domain.Clamp(*parsed.Score),
		Genre:      strings.ToLower(strings.TrimSpace(parsed.Genre)),
		Reasoning:  strings.TrimSpace(parsed.Reasoning),
		Strengths:  parsed.Strengths,
		Weaknesses: parsed.Weaknesses,
	}, sanitized, nil
}

// sanitizeJSON escapes stray quotes inside single-line string values.
func sanitizeJSON(raw string) string {
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		colon := strings.Index(line, ":")
		if colon != -1 && strings.HasPrefix(line, `"`) {
			key := line[:colon+1]
			value := strings.TrimSpace(line[colon+1:])
			if strings.HasPrefix(value, `"`) {
				last := strings.LastIndex(value, `"`)
				if last > 0 {
					content := value[1:last]
					content = strings.ReplaceAll(content, `\"`, `"`)
					content = strings.ReplaceAll(content, `"`, `\"`)
					line = key + ` "` + content + `"` + value[last+1:]
				}
			}
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
