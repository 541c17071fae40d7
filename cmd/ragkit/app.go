package ragkitcmder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/nevindra/ragkit"
	"github.com/nevindra/ragkit/internal/config"
	"github.com/nevindra/ragkit/internal/logger"
	"github.com/nevindra/ragkit/observer"
	"github.com/nevindra/ragkit/provider/resolve"
	"github.com/nevindra/ragkit/store/postgres"
	"github.com/nevindra/ragkit/store/sqlite"
)

// deps holds the constructors the commands build their backends with.
// Tests swap them for fakes.
type deps struct {
	newProvider  func(resolve.Config) (ragkit.InferenceProvider, error)
	newEmbedding func(resolve.EmbeddingConfig) (ragkit.EmbeddingProvider, error)
	initObserver func(ctx context.Context, serviceName string) (*observer.Instruments, func(context.Context) error, error)
}

func defaultDeps() deps {
	return deps{
		newProvider:  resolve.Provider,
		newEmbedding: resolve.EmbeddingProvider,
		initObserver: observer.Init,
	}
}

// app is the per-invocation wiring shared by every command.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	inst   *observer.Instruments
	deps   deps

	closers []func(context.Context) error
}

// loadApp reads config and global flags, validates, and sets up logging and
// (optionally) telemetry. Nothing touches the network before validation
// succeeds.
func loadApp(cmd *cobra.Command, d deps) (*app, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if v, _ := flags.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v, _ := flags.GetString("log-format"); v != "" {
		cfg.Log.Format = v
	}
	if v, _ := flags.GetString("log-file"); v != "" {
		cfg.Log.File = v
	}
	if debug, _ := flags.GetBool("debug"); debug {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, deps: d}
	if err := a.setupLogger(cmd); err != nil {
		return nil, err
	}

	if cfg.Observer.Enabled {
		inst, shutdown, err := d.initObserver(cmd.Context(), cfg.Observer.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("init observer: %w", err)
		}
		a.inst = inst
		a.closers = append(a.closers, shutdown)
	}
	return a, nil
}

func (a *app) setupLogger(cmd *cobra.Command) error {
	console := logger.New(
		logger.WithLevel(a.cfg.Log.Level),
		logger.WithFormat(logger.Format(a.cfg.Log.Format)),
		logger.WithWriter(cmd.ErrOrStderr()),
	)
	if a.cfg.Log.File == "" {
		a.logger = console
		return nil
	}

	f, err := os.OpenFile(a.cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return f.Close() })
	file := logger.New(
		logger.WithLevel(a.cfg.Log.Level),
		logger.WithFormat(logger.FormatJSON),
		logger.WithWriter(f),
	)
	a.logger = logger.Multi(console, file)
	return nil
}

func (a *app) retryOptions() []ragkit.RetryOption {
	return []ragkit.RetryOption{
		ragkit.RetryMaxAttempts(a.cfg.Retry.MaxAttempts),
		ragkit.RetryBaseDelay(a.cfg.Retry.BaseDelay),
		ragkit.RetryLogger(a.logger),
	}
}

// provider builds, wraps and initializes the configured InferenceProvider.
func (a *app) provider(ctx context.Context) (ragkit.InferenceProvider, error) {
	pc := a.cfg.Provider()
	pc.Logger = a.logger
	p, err := a.deps.newProvider(pc)
	if err != nil {
		return nil, err
	}
	if a.cfg.Retry.Enabled {
		p = ragkit.WithRetry(p, a.retryOptions()...)
	}
	if a.cfg.LLM.RPM > 0 || a.cfg.LLM.TPM > 0 {
		p = ragkit.WithRateLimit(p, ragkit.RPM(a.cfg.LLM.RPM), ragkit.TPM(a.cfg.LLM.TPM))
	}
	if a.inst != nil {
		p = observer.WrapProvider(p, pc.Model, a.inst)
	}
	if err := p.Initialize(ctx); err != nil {
		return nil, err
	}
	a.logger.Debug("provider ready", "provider", p.Name(), "model", pc.Model)
	return p, nil
}

// embedding builds the configured EmbeddingProvider.
func (a *app) embedding() (ragkit.EmbeddingProvider, error) {
	if err := a.cfg.ValidateEmbedding(); err != nil {
		return nil, err
	}
	ec := a.cfg.EmbeddingProvider()
	e, err := a.deps.newEmbedding(ec)
	if err != nil {
		return nil, err
	}
	if a.cfg.Retry.Enabled {
		e = ragkit.WithEmbeddingRetry(e, a.retryOptions()...)
	}
	if a.inst != nil {
		e = observer.WrapEmbedding(e, ec.Model, a.inst)
	}
	return e, nil
}

// store opens and initializes the configured VectorStore.
func (a *app) store(ctx context.Context, emb ragkit.EmbeddingProvider) (ragkit.VectorStore, error) {
	sc := a.cfg.Store
	var st ragkit.VectorStore
	switch sc.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, sc.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { pool.Close(); return nil })
		opts := []postgres.Option{
			postgres.WithLogger(a.logger),
			postgres.WithEmbedding(emb),
			postgres.WithEmbeddingDimension(a.cfg.Embedding.Dimensions),
		}
		if sc.HNSWM > 0 {
			opts = append(opts, postgres.WithHNSWM(sc.HNSWM))
		}
		if sc.EFConstruction > 0 {
			opts = append(opts, postgres.WithEFConstruction(sc.EFConstruction))
		}
		if sc.EFSearch > 0 {
			opts = append(opts, postgres.WithEFSearch(sc.EFSearch))
		}
		st = postgres.New(pool, opts...)
	default:
		st = sqlite.New(sc.Path, sqlite.WithLogger(a.logger), sqlite.WithEmbedding(emb))
	}
	if a.inst != nil {
		st = observer.WrapStore(st, a.inst)
	}
	a.closers = append(a.closers, func(context.Context) error { return st.Close() })

	if err := st.Init(ctx); err != nil {
		return nil, err
	}
	return st, nil
}

// retriever builds a VectorRetriever scoped to userID.
func (a *app) retriever(st ragkit.VectorStore, emb ragkit.EmbeddingProvider, userID string) *ragkit.VectorRetriever {
	rc := a.cfg.Retrieval
	opts := []ragkit.RetrieverOption{ragkit.WithRetrieverEmbedding(emb)}
	if rc.TopK > 0 {
		opts = append(opts, ragkit.WithDefaultTopK(rc.TopK))
	}
	if rc.MinScore > 0 {
		opts = append(opts, ragkit.WithReranker(ragkit.NewScoreReranker(rc.MinScore)))
		if rc.Overfetch > 0 {
			opts = append(opts, ragkit.WithOverfetchMultiplier(rc.Overfetch))
		}
	}
	return ragkit.NewVectorRetriever(st, userID, opts...)
}

// close releases everything the app opened, newest first.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// userID returns the --user flag when set, else the configured user.
func (a *app) userID(cmd *cobra.Command) string {
	if cmd.Flags().Lookup("user") != nil {
		if u, _ := cmd.Flags().GetString("user"); u != "" {
			return u
		}
	}
	return a.cfg.Retrieval.UserID
}

// run loads the app, hands it to fn, and always closes it afterwards.
func run(cmd *cobra.Command, d deps, fn func(ctx context.Context, a *app) error) error {
	a, err := loadApp(cmd, d)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	defer func() {
		if err := a.close(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("shutdown failed", "error", err)
		}
	}()
	return fn(ctx, a)
}
