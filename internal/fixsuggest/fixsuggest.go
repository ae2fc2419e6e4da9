package fixsuggest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shiftleft/compliance/internal/findings"
	"github.com/shiftleft/compliance/internal/models"
)

const maxSnippetLen = 2000

// Request is what a suggester needs to propose a fix.
type Request struct {
	FindingID   int64  `json:"finding_id"`
	Summary     string `json:"violation_summary"`
	CodeSnippet string `json:"code_snippet"`
}

type Suggestion struct {
	Explanation  string `json:"explanation"`
	OriginalCode string `json:"original_code"`
	FixedCode    string `json:"fixed_code"`
}

// A Suggester proposes a remediation. Nothing it returns is persisted.
type Suggester interface {
	Suggest(ctx context.Context, req Request) (*Suggestion, error)
}

// BuildRequest prepares a request for a code finding. diff is the code
// context, usually the offending commit; when empty the summary stands in.
func BuildRequest(f *models.Finding, diff string) (Request, error) {
	if f.Source != models.SourceCode {
		return Request{}, &findings.ValidationError{
			Field:  "source",
			Reason: "fix suggestions are only available for code findings",
		}
	}

	snippet := strings.TrimSpace(diff)
	if snippet == "" {
		snippet = fmt.Sprintf("Issue: %s\n\nNo code diff available.", f.Summary)
	}

	return Request{
		FindingID:   f.ID,
		Summary:     f.Summary,
		CodeSnippet: snippet,
	}, nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are a DevSecOps engineer specialising in security and compliance.\n\n")
	b.WriteString("Compliance violation:\n")
	b.WriteString(req.Summary)
	b.WriteString("\n\nCode:\n```\n")
	b.WriteString(truncate(req.CodeSnippet, maxSnippetLen))
	b.WriteString("\n```\n\n")
	b.WriteString("Identify the issue, produce a compliant version of the code and explain the fix in one sentence.\n")
	b.WriteString(`Respond with JSON only: {"explanation": "...", "fixed_code": "..."}`)
	return b.String()
}

var errEmptyResponse = errors.New("empty suggestion")

// parseResponse extracts the JSON suggestion from model output, tolerating
// markdown code fences around it.
func parseResponse(text string) (*Suggestion, error) {
	text = strings.TrimSpace(text)
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			text = text[start : end+1]
		}
	}
	if text == "" {
		return nil, errEmptyResponse
	}

	var s Suggestion
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		return nil, fmt.Errorf("decoding suggestion: %w", err)
	}
	if s.FixedCode == "" && s.Explanation == "" {
		return nil, errEmptyResponse
	}
	return &s, nil
}
