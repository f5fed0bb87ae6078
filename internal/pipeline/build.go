package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/FranksOps/seedling/internal/audit"
	"github.com/FranksOps/seedling/internal/audit/csvbackend"
	"github.com/FranksOps/seedling/internal/audit/jsonbackend"
	"github.com/FranksOps/seedling/internal/audit/postgres"
	"github.com/FranksOps/seedling/internal/audit/sqlite"
	"github.com/FranksOps/seedling/internal/cache"
	"github.com/FranksOps/seedling/internal/classify"
	"github.com/FranksOps/seedling/internal/config"
	"github.com/FranksOps/seedling/internal/embed"
	"github.com/FranksOps/seedling/internal/entity"
	"github.com/FranksOps/seedling/internal/expansion"
	"github.com/FranksOps/seedling/internal/keyword"
	"github.com/FranksOps/seedling/internal/metrics"
	"github.com/FranksOps/seedling/internal/provider"
	"github.com/FranksOps/seedling/internal/serp"
	"github.com/FranksOps/seedling/internal/suggest"
	"github.com/FranksOps/seedling/internal/trends"
	"github.com/FranksOps/seedling/internal/volume"
	"github.com/FranksOps/seedling/pkg/httpclient"
	"github.com/FranksOps/seedling/pkg/ratelimit"
	"github.com/FranksOps/seedling/pkg/retry"
)

// KindNone disables a provider entry.
const KindNone = "none"

// Build wires the providers, cache, audit sink and models selected by
// cfg into a pipeline. The caller must Close it.
func Build(ctx context.Context, cfg config.Settings, opts Options) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracker == nil {
		opts.Tracker = NewTracker()
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	b := &builder{cfg: cfg, opts: opts, log: opts.Logger}
	c, err := b.components(ctx)
	if err != nil {
		b.close()
		return nil, err
	}

	p := New(c, opts)
	p.closers = b.closers
	return p, nil
}

type builder struct {
	cfg     config.Settings
	opts    Options
	log     *slog.Logger
	cache   *cache.Cache
	audit   audit.Sink
	closers []func() error
}

func (b *builder) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		_ = b.closers[i]()
	}
}

func (b *builder) components(ctx context.Context) (Components, error) {
	var c Components

	store, err := cache.Open(ctx, b.cfg.Cache)
	if err != nil {
		return c, fmt.Errorf("open cache: %w", err)
	}
	b.cache = cache.New(store)
	b.closers = append(b.closers, b.cache.Close)

	if b.audit, err = OpenAudit(ctx, b.cfg.Audit); err != nil {
		return c, err
	}
	b.closers = append(b.closers, b.audit.Close)

	if b.cfg.Metrics.Enabled {
		srv := metrics.Start(b.cfg.Metrics.Port)
		b.closers = append(b.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Stop(ctx)
		})
	}

	if pc, ok := b.provider(config.ProviderSERP); ok {
		t, err := serp.NewTransport(pc, b.log)
		if err != nil {
			return c, err
		}
		c.SERP = provider.New(t, b.governance(pc))
	}
	if pc, ok := b.provider(config.ProviderSuggest); ok {
		t, err := suggest.NewTransport(pc)
		if err != nil {
			return c, err
		}
		c.Suggest = append(c.Suggest, provider.New[suggest.Request, []string](t, b.governance(pc)))
	}
	if pc, ok := b.provider(config.ProviderVolume); ok && (pc.APIKey != "" || pc.BaseURL != "") {
		t, err := volume.NewTransport(pc)
		if err != nil {
			return c, err
		}
		c.Volume = provider.New[volume.Request, volume.Metrics](t, b.governance(pc))
	}
	if pc, ok := b.provider(config.ProviderTrends); ok {
		t, err := trends.NewTransport(pc)
		if err != nil {
			return c, err
		}
		c.Trends = provider.New[trends.Request, keyword.Trend](t, b.governance(pc))
	}

	if len(b.cfg.Pipeline.Competitors) > 0 {
		client, err := httpclient.New(httpclient.Config{Timeout: 30 * time.Second, MaxRedirects: 5})
		if err != nil {
			return c, fmt.Errorf("competitor client: %w", err)
		}
		c.Robots = expansion.NewRobots(client, b.log)
		c.Sitemaps = expansion.NewSitemaps(client, b.log)
	}

	if c.Classifier, err = b.classifier(); err != nil {
		return c, err
	}
	if c.Entities, err = b.entities(ctx); err != nil {
		return c, err
	}
	if c.Embedder, err = b.embedder(ctx); err != nil {
		return c, err
	}
	return c, nil
}

func (b *builder) provider(name string) (config.Provider, bool) {
	pc, ok := b.cfg.Providers[name]
	if !ok || pc.Kind == KindNone {
		return pc, false
	}
	return pc, true
}

// governance returns the shared limiter, cache, retry and audit settings
// for one provider entry.
func (b *builder) governance(pc config.Provider) provider.Options {
	return provider.Options{
		Limiter:   ratelimit.NewLimiter(pc.RPM, ratelimit.WithBurst(pc.Burst)),
		Cache:     b.cache,
		TTL:       pc.CacheTTL,
		Retry:     RetryPolicy(b.cfg.Retry),
		Audit:     b.audit,
		QuotaCost: pc.QuotaCost,
		RunID:     b.opts.RunID,
		Observer:  b.opts.Tracker,
		Logger:    b.log,
	}
}

func (b *builder) classifier() (*classify.Classifier, error) {
	path := b.cfg.Models.IntentRules
	if path == "" {
		return classify.Default(), nil
	}
	rules, err := classify.LoadRules(path)
	if err != nil {
		return nil, err
	}
	return classify.New(rules)
}

func (b *builder) entities(ctx context.Context) (entity.Extractor, error) {
	var extra map[string][]string
	if path := b.cfg.Models.Gazetteer; path != "" {
		var err error
		if extra, err = entity.LoadGazetteer(path); err != nil {
			return nil, err
		}
	}
	gaz := entity.NewGazetteer(extra)
	if b.cfg.Models.Entities != "gemini" {
		return gaz, nil
	}

	t, err := entity.NewGemini(ctx, b.cfg.Models.APIKey, b.cfg.Models.GenModel)
	if err != nil {
		return nil, fmt.Errorf("entity model: %w", err)
	}
	acc := provider.New[entity.Request, []keyword.Entity](t, b.governance(b.cfg.Providers[config.ProviderModels]))
	return entity.Chain{gaz, entity.Governed{Access: acc}}, nil
}

func (b *builder) embedder(ctx context.Context) (embed.Embedder, error) {
	m := b.cfg.Models
	switch m.Embedder {
	case "none":
		return nil, nil
	case "gemini":
		t, err := embed.NewGemini(ctx, m.APIKey, m.EmbedModel, m.Dimensions)
		if err != nil {
			return nil, fmt.Errorf("embedding model: %w", err)
		}
		acc := provider.New[embed.Request, []float32](t, b.governance(b.cfg.Providers[config.ProviderModels]))
		return embed.NewSerp(embed.Governed{Access: acc}, m.Dimensions, 0), nil
	}
	return embed.NewSerp(embed.NewHashing(m.Dimensions), m.Dimensions, 0), nil
}

// OpenAudit opens the audit sink selected by cfg.
func OpenAudit(ctx context.Context, cfg config.Audit) (audit.Sink, error) {
	var (
		sink audit.Sink
		err  error
	)
	switch cfg.Backend {
	case "", "memory":
		return audit.NewMemory(), nil
	case "sqlite":
		sink, err = sqlite.New(cfg.DSN)
	case "postgres":
		sink, err = postgres.New(ctx, cfg.DSN)
	case "json":
		sink, err = jsonbackend.New(cfg.DSN)
	case "csv":
		sink, err = csvbackend.New(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown audit backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s audit sink: %w", cfg.Backend, err)
	}
	return sink, nil
}

// RetryPolicy converts retry settings into a policy.
func RetryPolicy(r config.Retry) retry.Policy {
	return retry.Policy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   r.BaseDelay,
		MaxDelay:    r.MaxDelay,
		Jitter:      r.Jitter,
	}
}
