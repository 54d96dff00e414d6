// Package generate holds the LLM-backed generators behind enrichment,
// analysis and the framework wizard.
package generate

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/strategy-cli/internal/config"
	"github.com/sells-group/strategy-cli/internal/metrics"
	"github.com/sells-group/strategy-cli/internal/resilience"
	"github.com/sells-group/strategy-cli/pkg/anthropic"
)

const defaultMaxTokens = 4096

// LLM is the Claude client shared by all generators: one rate limiter and
// one breaker per process.
type LLM struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	guard     *resilience.Guard
	limiter   *rate.Limiter
}

// NewLLM builds an LLM. A zero RPS disables throttling.
func NewLLM(client anthropic.Client, cfg config.AnthropicConfig, guard *resilience.Guard) *LLM {
	l := &LLM{
		client:    client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		guard:     guard,
	}
	if l.maxTokens <= 0 {
		l.maxTokens = defaultMaxTokens
	}
	if cfg.RPS > 0 {
		l.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}
	return l
}

// completeJSON sends one prompt and returns the JSON object in the reply.
// A reply without a JSON object is an external failure.
func (l *LLM) completeJSON(ctx context.Context, purpose string, system []anthropic.SystemBlock, prompt string) ([]byte, error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "generate: rate limit wait")
		}
	}

	resp, err := resilience.Call(ctx, l.guard, "anthropic", purpose, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return l.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     l.model,
			MaxTokens: l.maxTokens,
			System:    system,
			Messages:  anthropic.Prompt(prompt),
		})
	})
	if err != nil {
		return nil, err
	}
	l.record(purpose, resp.Usage)
	if resp.Truncated() {
		return nil, resilience.External("anthropic", eris.Errorf("generate: %s reply hit the %d token limit", purpose, l.maxTokens))
	}

	raw := cleanJSON(resp.Text())
	if !json.Valid([]byte(raw)) || !strings.HasPrefix(raw, "{") {
		zap.L().Warn("generate: reply is not a json object",
			zap.String("purpose", purpose),
			zap.String("stop_reason", resp.StopReason),
		)
		return nil, resilience.External("anthropic", eris.Errorf("generate: %s reply is not a json object", purpose))
	}
	return []byte(raw), nil
}

func (l *LLM) record(purpose string, u anthropic.TokenUsage) {
	cost := u.LogCost(l.model, purpose)
	metrics.LLMTokens.WithLabelValues(purpose, "input").Add(float64(u.InputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens))
	metrics.LLMTokens.WithLabelValues(purpose, "output").Add(float64(u.OutputTokens))
	metrics.LLMCost.WithLabelValues(purpose).Add(cost)
}

// cleanJSON extracts a JSON object from text that may be wrapped in
// markdown code fences or prose.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if rest, ok := strings.CutPrefix(text, "```json"); ok {
		text = rest
	} else if rest, ok := strings.CutPrefix(text, "```"); ok {
		text = rest
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
