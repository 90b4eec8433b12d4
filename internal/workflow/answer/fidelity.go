package answer

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tutorgo-dev/tutorgo/internal/llm/provider"
)

// fidelityTemperature keeps the judge nearly deterministic
const fidelityTemperature = 0.1

var fidelityScoreRegex = regexp.MustCompile(`Fidelity Score:\s*([0-9]*\.?[0-9]+)`)

const fidelityPrompt = `You are checking whether a refined written answer stays faithful to the student's original spoken transcript. The refined answer must not introduce facts, claims, or conclusions absent from the transcript.

ORIGINAL TRANSCRIPT:
%s

REFINED ANSWER:
%s

Respond in exactly this format:
Fidelity Score: <number between 0.0 and 1.0>
Violations:
- <each statement in the refined answer not supported by the transcript, or "none">`

// fidelityResult is a parsed fidelity judgment
type fidelityResult struct {
	Score      float64
	Violations []string
}

// checkFidelity asks the model to judge the refined answer against the
// original transcript. Callers treat failures as advisory; a fidelity check
// never blocks or reverts an edit.
func (w *Workflow) checkFidelity(ctx context.Context, original, refined string) (*fidelityResult, error) {
	resp, err := w.llm.CreateCompletion(ctx, provider.CompletionRequest{
		Messages: []provider.Message{
			{Role: "user", Content: fmt.Sprintf(fidelityPrompt, original, refined)},
		},
		Model:       w.model,
		Temperature: fidelityTemperature,
	})
	if err != nil {
		return nil, fmt.Errorf("fidelity check: %w", err)
	}

	return parseFidelity(resp.Content)
}

// parseFidelity extracts the score and violation list from the judge output
func parseFidelity(text string) (*fidelityResult, error) {
	m := fidelityScoreRegex.FindStringSubmatch(text)
	if m == nil {
		return nil, fmt.Errorf("no fidelity score in response")
	}

	score, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil, fmt.Errorf("parse fidelity score %q: %w", m[1], err)
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	result := &fidelityResult{Score: score}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "- ") {
			continue
		}
		v := strings.TrimSpace(strings.TrimPrefix(line, "- "))
		if v == "" || strings.EqualFold(v, "none") {
			continue
		}
		result.Violations = append(result.Violations, v)
	}

	return result, nil
}
