package generate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/strategy-cli/internal/analysis"
	"github.com/sells-group/strategy-cli/internal/framework"
	"github.com/sells-group/strategy-cli/internal/metrics"
	"github.com/sells-group/strategy-cli/internal/model"
	"github.com/sells-group/strategy-cli/internal/resilience"
	"github.com/sells-group/strategy-cli/pkg/anthropic"
)

const frameworkPrompt = `Produce the %s for this company.
%s

Return a JSON object with these top-level keys: %s.
Include a "summary" of two or three sentences.`

// Analyst generates every catalog framework for a submission, one Claude
// call per framework.
type Analyst struct {
	llm         *LLM
	catalog     *framework.Catalog
	concurrency int
}

var _ analysis.Generator = (*Analyst)(nil)

// NewAnalyst builds an Analyst running at most concurrency calls at once.
func NewAnalyst(llm *LLM, catalog *framework.Catalog, concurrency int) *Analyst {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Analyst{llm: llm, catalog: catalog, concurrency: concurrency}
}

// Analyze implements analysis.Generator. Outputs follow catalog order; any
// framework failure fails the whole analysis.
func (a *Analyst) Analyze(ctx context.Context, sub *model.Submission, enr *model.Enrichment) ([]model.FrameworkOutput, error) {
	system := anthropic.CachedSystem(companyContext(sub, enr))
	outputs := make([]model.FrameworkOutput, len(a.catalog.Frameworks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, fw := range a.catalog.Frameworks {
		g.Go(func() error {
			start := time.Now()
			out, err := a.one(gctx, system, fw)
			metrics.GenerationDuration.WithLabelValues("framework", metrics.Outcome(err)).Observe(time.Since(start).Seconds())
			if err != nil {
				zap.L().Warn("generate: framework failed",
					zap.String("submission_id", sub.ID),
					zap.String("framework", fw.Key),
					zap.Error(err),
				)
				return err
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

func (a *Analyst) one(ctx context.Context, system []anthropic.SystemBlock, fw framework.Framework) (model.FrameworkOutput, error) {
	prompt := fmt.Sprintf(frameworkPrompt, fw.Title, fw.Description, fw.SchemaHint())
	raw, err := a.llm.completeJSON(ctx, "framework:"+fw.Key, system, prompt)
	if err != nil {
		return model.FrameworkOutput{}, err
	}
	return decode(fw, raw)
}

// decode checks raw against the framework schema. Mismatches are the
// model's fault and surface as external failures.
func decode(fw framework.Framework, raw []byte) (model.FrameworkOutput, error) {
	out, err := fw.Decode(raw)
	if err != nil {
		return model.FrameworkOutput{}, resilience.External("anthropic", err)
	}
	if strings.TrimSpace(out.Title) == "" {
		out.Title = fw.Title
	}
	return out, nil
}
