package cmd

import (
	"context"
	"fmt"
	"time"

	"counseling/internal/api"
	"counseling/internal/config"
	"counseling/internal/events"
	"counseling/internal/infra/memstore"
	"counseling/internal/infra/mock"
	"counseling/internal/infra/openai"
	"counseling/internal/infra/postgres"
	"counseling/internal/infra/redisq"
	"counseling/internal/infra/s3store"
	"counseling/internal/ports"
	"counseling/internal/usecase"

	"github.com/rs/zerolog/log"
)

const mockAIDelay = 2 * time.Second

// container holds the adapters selected by configuration.
type container struct {
	cfg         *config.Config
	store       ports.Store
	events      ports.Events
	storage     ports.Storage
	local       *mock.Storage
	transcriber ports.Transcriber
	analyzer    ports.Analyzer
	checks      map[string]func(ctx context.Context) error
	closers     []func() error
}

func (c *container) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close adapter")
		}
	}
}

// wire builds every adapter. On error the ones already opened are closed.
func wire(ctx context.Context, cfg *config.Config) (*container, error) {
	c := &container{cfg: cfg, checks: make(map[string]func(ctx context.Context) error)}
	for _, open := range []func(context.Context) error{c.openStore, c.openEvents, c.openStorage} {
		if err := open(ctx); err != nil {
			c.close()
			return nil, err
		}
	}
	c.openAI()
	return c, nil
}

func (c *container) openStore(ctx context.Context) error {
	switch c.cfg.Store.Backend {
	case "postgres":
		st, err := postgres.Open(ctx, c.cfg.Postgres)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, st.Close)
		if c.cfg.Postgres.AutoMigrate {
			if err := st.Migrate(ctx); err != nil {
				return err
			}
		}
		c.store = st
		c.checks["postgres"] = st.Ping
	default:
		log.Ctx(ctx).Warn().Msg("using the in-memory store, tasks are lost on restart")
		c.store = memstore.New()
	}
	return nil
}

func (c *container) openEvents(ctx context.Context) error {
	if c.cfg.Redis.Addr == "" {
		c.events = events.NewHub()
		return nil
	}
	cli := redisq.New(c.cfg.Redis)
	c.closers = append(c.closers, cli.Close)
	if err := cli.Connect(ctx); err != nil {
		return err
	}
	c.events = cli
	c.checks["redis"] = func(ctx context.Context) error { return cli.Rdb.Ping(ctx).Err() }
	return nil
}

func (c *container) openStorage(ctx context.Context) error {
	if c.cfg.Storage.Endpoint == "" {
		log.Ctx(ctx).Warn().Msg("no storage endpoint, using in-memory object storage")
		c.local = mock.NewStorage(fmt.Sprintf("http://localhost:%d%s", c.cfg.HTTP.Port, api.LocalStoragePath))
		c.storage = c.local
		return nil
	}
	st, err := s3store.New(c.cfg.Storage)
	if err != nil {
		return err
	}
	if err := st.EnsureBucket(ctx, c.cfg.Storage.Region); err != nil {
		return err
	}
	c.storage = st
	return nil
}

func (c *container) openAI() {
	if c.cfg.OpenAI.UseMockAI() {
		log.Warn().Msg("no AI provider key, using canned transcription and analysis results")
		ai := &mock.AI{Delay: mockAIDelay}
		c.transcriber, c.analyzer = ai, ai
		return
	}
	client := openai.New(c.cfg.OpenAI)
	c.transcriber = &openai.Transcriber{Client: client, Storage: c.storage, URLExpires: c.cfg.Storage.URLExpires}
	c.analyzer = &openai.Analyzer{Client: client}
}

func (c *container) deps() usecase.Deps {
	return usecase.Deps{Tasks: c.store, Subjects: c.store, Events: c.events}
}

// reaper does not consult a spawner when sp is nil.
func (c *container) reaper(sp ports.Spawner) *usecase.Reaper {
	return &usecase.Reaper{Deps: c.deps(), Spawner: sp, StaleAfter: c.cfg.Pipeline.StaleAfter}
}

// app assembles the use cases served over HTTP, scheduling attempts on sp.
func (c *container) app(sp ports.Spawner) api.App {
	deps := c.deps()
	pipeline := &usecase.Pipeline{
		Deps:        deps,
		Transcriber: c.transcriber,
		Analyzer:    c.analyzer,
		CallTimeout: c.cfg.Pipeline.CallTimeout,
	}
	app := api.App{
		Dispatcher: &usecase.Dispatcher{Deps: deps, Storage: c.storage, Spawner: sp, Runner: pipeline},
		Poller:     &usecase.Poller{Deps: deps, MaxRetries: c.cfg.Pipeline.MaxRetries},
		Retrier:    &usecase.Retrier{Deps: deps, Spawner: sp, Runner: pipeline, MaxRetries: c.cfg.Pipeline.MaxRetries},
		Recordings: &usecase.Recordings{Deps: deps, Storage: c.storage, URLExpires: c.cfg.Storage.URLExpires},
		Events:     c.events,
		Checks:     c.checks,
	}
	if c.local != nil {
		app.LocalStorage = c.local
	}
	return app
}
