package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/sells-group/strategy-cli/internal/model"
	"github.com/sells-group/strategy-cli/internal/wizard"
	"github.com/sells-group/strategy-cli/pkg/anthropic"
)

// priorHighlights caps how much of each approved step is repeated.
const priorHighlights = 6

// StepWriter writes a single wizard framework from the operator's answers.
type StepWriter struct {
	llm *LLM
}

var _ wizard.StepWriter = (*StepWriter)(nil)

// NewStepWriter builds a StepWriter.
func NewStepWriter(llm *LLM) *StepWriter {
	return &StepWriter{llm: llm}
}

// WriteStep implements wizard.StepWriter.
func (w *StepWriter) WriteStep(ctx context.Context, req wizard.StepRequest) (model.FrameworkOutput, error) {
	system := anthropic.CachedSystem(companyContext(req.Submission, req.Enrichment))
	raw, err := w.llm.completeJSON(ctx, "wizard:"+req.Framework.Key, system, stepPrompt(req))
	if err != nil {
		return model.FrameworkOutput{}, err
	}
	return decode(req.Framework, raw)
}

func stepPrompt(req wizard.StepRequest) string {
	fw := req.Framework
	var b strings.Builder
	fmt.Fprintf(&b, "Produce the %s for this company.\n%s\n", fw.Title, fw.Description)

	if len(req.Prior) > 0 {
		b.WriteString("\n## Approved earlier steps\n")
		for _, p := range req.Prior {
			fmt.Fprintf(&b, "### %s\n", p.Title)
			for _, line := range p.Output.Highlights(priorHighlights) {
				fmt.Fprintf(&b, "- %s\n", line)
			}
		}
	}

	if len(fw.Questions) > 0 {
		b.WriteString("\n## Operator answers\n")
		for _, q := range fw.Questions {
			answer := strings.TrimSpace(req.Step.Answers[q.ID])
			if answer == "" {
				answer = "(not answered)"
			}
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", q.Prompt, answer)
		}
	}

	if c := strings.TrimSpace(req.Step.Context); c != "" {
		fmt.Fprintf(&b, "\n## Additional context\n%s\n", c)
	}
	if len(req.Step.Refinements) > 0 {
		b.WriteString("\n## Revise the previous draft as follows\n")
		for i, r := range req.Step.Refinements {
			fmt.Fprintf(&b, "%d. %s\n", i+1, r)
		}
	}

	fmt.Fprintf(&b, "\nReturn a JSON object with these top-level keys: %s.\nInclude a \"summary\" of two or three sentences.", fw.SchemaHint())
	return b.String()
}
