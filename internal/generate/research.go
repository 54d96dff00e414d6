package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/strategy-cli/internal/enrichment"
	"github.com/sells-group/strategy-cli/internal/model"
	"github.com/sells-group/strategy-cli/internal/resilience"
	"github.com/sells-group/strategy-cli/pkg/anthropic"
	"github.com/sells-group/strategy-cli/pkg/jina"
	"github.com/sells-group/strategy-cli/pkg/perplexity"
)

// maxSourceChars bounds each research source pasted into the prompt.
const (
	maxSourceChars = 20000
	maxSearchChars = 6000
	searchResults  = 8
)

const researchSystem = "You are a market analyst. Report verifiable facts, note uncertainty, and prefer recent sources."

const marketPrompt = `Research the company "%s" (%s) in the %s industry.
Summarise: what the company sells and to whom, approximate revenue and headcount, funding or ownership,
the size and growth of its market, its main competitors, and recent news or strategic moves.
Return the raw findings as text with sources where available.`

const structurePrompt = `Structure the research below into a JSON object with exactly these keys, each an object of short facts:
- profile: description, founded, headquarters, employees, business_model, products
- financial: revenue, growth, funding, profitability
- market: segment, size, growth_rate, customers
- strategic: priorities, recent_moves, partnerships
- competitive: competitors (array of names), differentiators, positioning
- macro: regulation, trends, risks

Use strings, numbers or arrays of strings as values. Omit facts you cannot support rather than guessing.

## Website
%s

## Competitor search
%s

## Market research
%s`

// Researcher produces enrichment data from the company website, a competitor
// search, web research and a Claude structuring pass. Jina and Perplexity are
// optional.
type Researcher struct {
	llm   *LLM
	jina  jina.Client
	pplx  perplexity.Client
	guard *resilience.Guard
}

var _ enrichment.Generator = (*Researcher)(nil)

// NewResearcher builds a Researcher. Either source client may be nil.
func NewResearcher(llm *LLM, jc jina.Client, pc perplexity.Client) *Researcher {
	return &Researcher{llm: llm, jina: jc, pplx: pc, guard: llm.guard}
}

// Enrich implements enrichment.Generator. Source failures are logged and
// the structuring pass runs on whatever was gathered.
func (r *Researcher) Enrich(ctx context.Context, sub *model.Submission, progress enrichment.ProgressFunc) (model.EnrichmentData, error) {
	log := zap.L().With(zap.String("submission_id", sub.ID), zap.String("company", sub.CompanyName))

	progress(15, "reading website")
	site, err := r.readWebsite(ctx, sub.Website)
	if err != nil {
		log.Warn("generate: website read failed", zap.Error(err))
	}

	progress(30, "searching competitors")
	rivals, err := r.searchCompetitors(ctx, sub)
	if err != nil {
		log.Warn("generate: competitor search failed", zap.Error(err))
	}

	progress(45, "market research")
	market, err := r.research(ctx, sub)
	if err != nil {
		log.Warn("generate: market research failed", zap.Error(err))
	}

	progress(70, "structuring profile")
	raw, err := r.llm.completeJSON(ctx, "enrichment",
		[]anthropic.SystemBlock{{Text: companyContext(sub, nil)}},
		fmt.Sprintf(structurePrompt, orNone(site), orNone(rivals), orNone(market)),
	)
	if err != nil {
		return model.EnrichmentData{}, err
	}

	var data model.EnrichmentData
	if err := json.Unmarshal(raw, &data); err != nil {
		return model.EnrichmentData{}, resilience.External("anthropic", eris.Wrap(err, "generate: decode enrichment"))
	}
	if data.IsZero() {
		return model.EnrichmentData{}, resilience.External("anthropic", eris.New("generate: enrichment reply has no sections"))
	}

	progress(95, "finalizing")
	return data, nil
}

func (r *Researcher) readWebsite(ctx context.Context, website string) (string, error) {
	if r.jina == nil || website == "" {
		return "", nil
	}
	target := website
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = "https://" + target
	}
	page, err := resilience.Call(ctx, r.guard, "jina", "read", func(ctx context.Context) (*jina.Page, error) {
		return r.jina.Read(ctx, target, jina.WithoutImages())
	})
	if err != nil {
		return "", err
	}
	return truncate(page.Content, maxSourceChars), nil
}

func (r *Researcher) searchCompetitors(ctx context.Context, sub *model.Submission) (string, error) {
	if r.jina == nil {
		return "", nil
	}
	query := strings.TrimSpace(fmt.Sprintf("%s %s competitors", sub.CompanyName, sub.Industry))
	pages, err := resilience.Call(ctx, r.guard, "jina", "search", func(ctx context.Context) ([]jina.Page, error) {
		return r.jina.Search(ctx, query, jina.WithLimit(searchResults))
	})
	if err != nil {
		return "", err
	}
	return jina.Digest(pages, maxSearchChars), nil
}

func (r *Researcher) research(ctx context.Context, sub *model.Submission) (string, error) {
	if r.pplx == nil {
		return "", nil
	}
	temp := 0.2
	ans, err := resilience.Call(ctx, r.guard, "perplexity", "research", func(ctx context.Context) (*perplexity.Answer, error) {
		return r.pplx.Ask(ctx, perplexity.Question{
			System:      researchSystem,
			Text:        fmt.Sprintf(marketPrompt, sub.CompanyName, orNone(sub.Website), orNone(sub.Industry)),
			Temperature: &temp,
			Recency:     perplexity.RecencyYear,
		})
	})
	if err != nil {
		return "", err
	}
	return truncate(ans.WithSources(), maxSourceChars), nil
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}
