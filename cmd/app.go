package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/grant-funnel/internal/cascade"
	"github.com/sells-group/grant-funnel/internal/completion"
	"github.com/sells-group/grant-funnel/internal/config"
	"github.com/sells-group/grant-funnel/internal/cost"
	"github.com/sells-group/grant-funnel/internal/dedup"
	"github.com/sells-group/grant-funnel/internal/discovery"
	"github.com/sells-group/grant-funnel/internal/enrich"
	"github.com/sells-group/grant-funnel/internal/events"
	"github.com/sells-group/grant-funnel/internal/fetcher"
	"github.com/sells-group/grant-funnel/internal/funnel"
	"github.com/sells-group/grant-funnel/internal/metrics"
	"github.com/sells-group/grant-funnel/internal/notify"
	"github.com/sells-group/grant-funnel/internal/pipeline"
	"github.com/sells-group/grant-funnel/internal/profile"
	"github.com/sells-group/grant-funnel/internal/resilience"
	"github.com/sells-group/grant-funnel/internal/store"
	anthropicpkg "github.com/sells-group/grant-funnel/pkg/anthropic"
)

// appEnv holds the initialized collaborators shared by the commands.
type appEnv struct {
	Store    store.Store
	Machine  *funnel.Machine
	Pipeline *pipeline.Pipeline // nil in funnel mode
	Metrics  *metrics.Metrics

	closers []func()
}

// Close releases resources in reverse order of acquisition.
func (e *appEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// initStore opens and migrates the configured store. Writes are retried
// with the configured backoff.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	st, err := store.Open(ctx, c.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return store.NewRetrying(st, resilience.FromConfig(c.Retry)), nil
}

// initApp wires the application for mode. "funnel" mode skips the
// discovery pipeline and needs no API key.
func initApp(ctx context.Context, c *config.Config, mode string) (*appEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	env := &appEnv{Metrics: metrics.New()}
	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}
	env.Store = st
	env.closers = append(env.closers, func() { _ = st.Close() })

	var publisher events.Publisher = events.Noop{}
	if c.Events.NATSURL != "" {
		nats, err := events.NewNATSPublisher(c.Events.NATSURL, c.Events.Subject)
		if err != nil {
			zap.L().Warn("events: nats unavailable, transitions will not be published", zap.Error(err))
		} else {
			publisher = nats
			env.closers = append(env.closers, nats.Close)
		}
	}

	env.Machine = funnel.New(st,
		funnel.WithPublisher(publisher),
		funnel.WithNotifiers(notify.FromConfig(c.Notify, c.Retry)...),
		funnel.WithMetrics(env.Metrics),
	)

	if mode == "funnel" {
		return env, nil
	}

	p, err := initPipeline(ctx, c, env)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Pipeline = p
	return env, nil
}

// initPipeline builds the discovery sources, the cascade and the pipeline.
func initPipeline(ctx context.Context, c *config.Config, env *appEnv) (*pipeline.Pipeline, error) {
	cache, err := initCache(ctx, c, env)
	if err != nil {
		return nil, err
	}

	retry := resilience.FromConfig(c.Retry)
	httpFetcher := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent: c.Enrich.UserAgent,
		Retry:     retry,
		HostRates: discovery.HostRates(c.Discovery),
	})
	sources := discovery.FromConfig(c.Discovery, discovery.Deps{
		HTTP:  httpFetcher,
		Files: fetcher.NewRouter(httpFetcher, fetcher.NewFTPFetcher(fetcher.FTPOptions{})),
		Cache: cache,
	})
	if len(sources) == 0 {
		zap.L().Warn("discovery: no sources enabled")
	}

	calc := cost.NewCalculator(c.Pricing)
	svc := completion.NewAnthropicService(anthropicpkg.NewClient(c.Anthropic.Key), calc, completion.Options{
		Timeout:   c.Cascade.StageTimeout(),
		MaxTokens: c.Anthropic.MaxTokens,
		Retry:     retry,
		Breaker:   resilience.FromCircuitConfig(c.Circuit),
		Metrics:   env.Metrics,
	})

	var enricher cascade.Enricher
	if c.Cascade.Enrich {
		enricher = enrich.New(enrich.OptionsFromConfig(c.Enrich))
	}

	return pipeline.New(pipeline.Deps{
		Profiles:          profile.NewFileService(c.Profiles.Dir),
		Sources:           sources,
		Store:             env.Store,
		Machine:           env.Machine,
		Cascade:           cascade.New(svc, calc, enricher, env.Metrics, cascade.FromConfig(c)),
		Resolver:          dedup.NewResolver(c.Dedup),
		Metrics:           env.Metrics,
		SourceConcurrency: c.Cascade.Concurrency,
		Now:               time.Now,
	}), nil
}

// initCache picks the entity cache for source responses: Redis when
// configured, then the store itself when it implements the cache, then
// process memory.
func initCache(ctx context.Context, c *config.Config, env *appEnv) (store.EntityCache, error) {
	if c.Discovery.RedisAddr != "" {
		rc, err := store.NewRedisCache(ctx, c.Discovery.RedisAddr, "", 0)
		if err != nil {
			return nil, eris.Wrap(err, "connect redis cache")
		}
		env.closers = append(env.closers, func() { _ = rc.Close() })
		return rc, nil
	}
	base := env.Store
	if r, ok := base.(*store.Retrying); ok {
		base = r.Unwrap()
	}
	if ec, ok := base.(store.EntityCache); ok {
		return ec, nil
	}
	return store.NewMemoryCache(), nil
}
