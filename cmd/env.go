package main

import (
	"context"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/strategy-cli/internal/analysis"
	"github.com/sells-group/strategy-cli/internal/api"
	"github.com/sells-group/strategy-cli/internal/autosave"
	"github.com/sells-group/strategy-cli/internal/enrichment"
	"github.com/sells-group/strategy-cli/internal/events"
	"github.com/sells-group/strategy-cli/internal/framework"
	"github.com/sells-group/strategy-cli/internal/generate"
	"github.com/sells-group/strategy-cli/internal/jobs"
	"github.com/sells-group/strategy-cli/internal/lease"
	"github.com/sells-group/strategy-cli/internal/poll"
	"github.com/sells-group/strategy-cli/internal/publish"
	"github.com/sells-group/strategy-cli/internal/resilience"
	"github.com/sells-group/strategy-cli/internal/store"
	"github.com/sells-group/strategy-cli/internal/wizard"
	anthropicpkg "github.com/sells-group/strategy-cli/pkg/anthropic"
	"github.com/sells-group/strategy-cli/pkg/jina"
	"github.com/sells-group/strategy-cli/pkg/mailer"
	"github.com/sells-group/strategy-cli/pkg/notion"
	"github.com/sells-group/strategy-cli/pkg/pdf"
	"github.com/sells-group/strategy-cli/pkg/perplexity"
	"github.com/sells-group/strategy-cli/pkg/salesforce"
)

// deliveredStatus is what the Notion sink writes once a report is sent.
const deliveredStatus = "Report Sent"

// appEnv holds everything the serve command wires together.
type appEnv struct {
	Store  store.Store
	Pool   *jobs.Pool
	Redis  *redis.Client // nil when leases stay in memory
	Deps   api.Deps
	closed bool
}

// Close releases the store and redis connections. Callers drain drafts and
// jobs first.
func (e *appEnv) Close() {
	if e.closed {
		return
	}
	e.closed = true
	if e.Redis != nil {
		_ = e.Redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// Shutdown flushes buffered drafts and waits for background jobs.
func (e *appEnv) Shutdown(ctx context.Context) {
	if e.Deps.EnrichmentDrafts != nil {
		if err := e.Deps.EnrichmentDrafts.Shutdown(ctx); err != nil {
			zap.L().Warn("serve: flush enrichment drafts", zap.Error(err))
		}
	}
	if e.Deps.AnalysisDrafts != nil {
		if err := e.Deps.AnalysisDrafts.Shutdown(ctx); err != nil {
			zap.L().Warn("serve: flush analysis drafts", zap.Error(err))
		}
	}
	if e.Pool != nil {
		e.Pool.Wait()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		return store.NewMemory(), nil
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "strategy.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initLeases returns a redis-backed lease manager when redis.addr is set.
func initLeases(ctx context.Context) (lease.Manager, *redis.Client, error) {
	if cfg.Redis.Addr == "" {
		return lease.NewMemory(), nil, nil
	}
	rc := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, nil, eris.Wrap(err, "redis: ping")
	}
	return lease.NewRedis(rc), rc, nil
}

func initGuard() *resilience.Guard {
	return resilience.NewGuard(
		resilience.RetryConfig{MaxAttempts: 3},
		resilience.CircuitBreakerConfig{
			OnStateChange: func(from, to resilience.CircuitState) {
				zap.L().Warn("serve: circuit breaker state change",
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		},
	)
}

func initCatalog() (*framework.Catalog, error) {
	if cfg.Workflow.FrameworksPath != "" {
		return framework.Load(cfg.Workflow.FrameworksPath)
	}
	return framework.Default()
}

// initSinks returns the delivery sinks that have credentials configured.
func initSinks() ([]publish.Sink, error) {
	var sinks []publish.Sink
	if cfg.Notion.Token != "" {
		sinks = append(sinks, &publish.NotionSink{
			Client:         notion.NewClient(cfg.Notion.Token, notion.WithRateLimit(3)),
			DatabaseID:     cfg.Notion.DatabaseID,
			StatusProperty: cfg.Notion.StatusProperty,
			ReportProperty: cfg.Notion.ReportProperty,
			Status:         deliveredStatus,
		})
	}
	if cfg.Salesforce.ClientID != "" {
		pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
		if err != nil {
			return nil, eris.Wrap(err, "read salesforce JWT private key")
		}
		sf, err := salesforce.Dial(salesforce.Creds{
			LoginURL:   cfg.Salesforce.LoginURL,
			Username:   cfg.Salesforce.Username,
			ClientID:   cfg.Salesforce.ClientID,
			PrivateKey: string(pemData),
		}, salesforce.WithRateLimit(5))
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, &publish.SalesforceSink{
			Client:         sf,
			ReportURLField: cfg.Salesforce.ReportURLField,
		})
	}
	return sinks, nil
}

// initApp validates the config, opens the store and wires the workflow.
// Callers should defer env.Close().
func initApp(ctx context.Context) (*appEnv, error) {
	if err := cfg.Validate("serve"); err != nil {
		return nil, err
	}

	catalog, err := initCatalog()
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	leases, rc, err := initLeases(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Redis = rc

	mail, err := mailer.New(ctx, cfg.Mail.Provider, cfg.Mail.Region, cfg.Mail.From)
	if err != nil {
		env.Close()
		return nil, err
	}

	sinks, err := initSinks()
	if err != nil {
		env.Close()
		return nil, err
	}

	guard := initGuard()
	llm := generate.NewLLM(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic, guard)

	var jc jina.Client
	if cfg.Jina.Key != "" {
		jc = jina.NewClient(cfg.Jina.Key, jina.WithBaseURL(cfg.Jina.BaseURL))
	}
	var pc perplexity.Client
	if cfg.Perplexity.Key != "" {
		pc = perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model),
		)
	}

	env.Pool = jobs.NewPool(cfg.Workflow.MaxConcurrentJobs, cfg.Workflow.GenerationTimeout())
	bus := events.NewBus()

	gate := enrichment.NewGate(st, leases, generate.NewResearcher(llm, jc, pc), env.Pool, bus, cfg.Workflow.LeaseTTL())
	analyses := analysis.NewController(st, generate.NewAnalyst(llm, catalog, cfg.Workflow.MaxConcurrentJobs), env.Pool)
	bus.Subscribe(events.StartAnalysis, analyses.HandleStartAnalysis)
	engine := wizard.NewEngine(st, catalog, generate.NewStepWriter(llm), env.Pool, analyses)

	renderer := pdf.Renderer{
		Client: pdf.NewClient(cfg.PDF.BaseURL, cfg.PDF.Key),
		Poll: []poll.Option{
			poll.WithInterval(time.Duration(cfg.PDF.PollIntervalSecs) * time.Second),
			poll.WithTimeout(time.Duration(cfg.PDF.TimeoutSecs) * time.Second),
		},
	}
	publisher := publish.New(st, analyses, renderer, mail, bus, guard, leases, sinks...)
	bus.Subscribe(events.AnalysisSent, publisher.HandleSent)

	window := autosave.WithWindow(cfg.Workflow.AutosaveWindow())
	env.Deps = api.Deps{
		Store:            st,
		Gate:             gate,
		Analyses:         analyses,
		Wizard:           engine,
		Publisher:        publisher,
		EnrichmentDrafts: api.NewEnrichmentDrafts(gate, window),
		AnalysisDrafts:   api.NewAnalysisDrafts(analyses, window),
		CORSOrigins:      cfg.Server.CORSOrigins,
	}

	zap.L().Info("serve: workflow ready",
		zap.String("store", cfg.Store.Driver),
		zap.Bool("redis_leases", rc != nil),
		zap.Int("frameworks", len(catalog.Frameworks)),
		zap.Int("sinks", len(sinks)),
		zap.Bool("jina", jc != nil),
		zap.Bool("perplexity", pc != nil),
	)
	return env, nil
}
