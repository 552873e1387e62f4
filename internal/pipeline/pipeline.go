package pipeline

import (
	"context"

	"pgroute/internal/config"
	"pgroute/internal/conn"
	"pgroute/internal/engine"
	"pgroute/internal/link"
	"pgroute/internal/logger"
	"pgroute/internal/report"
	"pgroute/internal/route"
	"pgroute/internal/secrets"
	"pgroute/internal/tunnel"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Options are per-invocation overrides on top of the loaded config.
type Options struct {
	DryRun  bool
	Targets []string
	Tables  []string
	RunID   string
	// OnPlan sees the filtered plan before any connection is made.
	OnPlan func(route.Plan)
	Hooks  engine.Hooks
	// Sinks run after the configured ones.
	Sinks []report.Sink
	// Provider replaces the default connection provider (tests).
	Provider engine.Acquirer
}

// Prepare resolves credentials and returns the filtered plan plus the token source
// for IAM-authenticated endpoints (nil when none is needed).
func Prepare(ctx context.Context, cfg *config.Config, opts Options) (route.Plan, conn.TokenSource, error) {
	var (
		store  config.SecretSource
		tokens conn.TokenSource
	)
	if cfg.UsesSecrets() || cfg.UsesIAM() {
		awsCfg, err := secrets.LoadAWS(ctx, cfg.AWS.Region)
		if err != nil {
			return route.Plan{}, nil, errors.Mark(err, engine.ErrConfiguration)
		}
		if cfg.UsesSecrets() {
			store = secrets.NewAWSStore(awsCfg)
		}
		if cfg.UsesIAM() {
			tokens = secrets.NewRDSTokens(awsCfg)
		}
	}

	plan, err := config.BuildPlan(ctx, cfg, store)
	if err != nil {
		return route.Plan{}, nil, err
	}
	plan = plan.Filter(opts.Targets, opts.Tables)
	if plan.JobCount() == 0 {
		return route.Plan{}, nil, errors.Mark(
			errors.WithHint(errors.New("nothing to copy"), "check --targets and --tables against the config"),
			engine.ErrConfiguration)
	}
	return plan, tokens, nil
}

// Linker builds the configured linking strategy.
func Linker(cfg *config.Config) (link.Linker, error) {
	l, err := link.GetLinker(cfg.Link.Mode, link.Options{
		CreateExtension: cfg.Link.CreateExtension,
		ForeignSchema:   cfg.Link.ForeignSchema,
	})
	if err != nil {
		return nil, errors.Mark(err, engine.ErrConfiguration)
	}
	return l, nil
}

// Sinks returns the sinks the config asks for, log sink first.
func Sinks(cfg *config.Config, log *zap.Logger) report.Multi {
	sinks := report.Multi{report.LogSink{Log: log}}
	if cfg.Report.JSONFile != "" {
		sinks = append(sinks, report.JSONFile{Path: cfg.Report.JSONFile})
	}
	if cfg.Report.MetricsFile != "" {
		sinks = append(sinks, report.TextfileSink{Path: cfg.Report.MetricsFile})
	}
	return sinks
}

// Run executes one full routing run and publishes its report. The report is returned
// whenever the run started, even if the source was unreachable.
func Run(ctx context.Context, cfg *config.Config, log *zap.Logger, opts Options) (*engine.RunReport, error) {
	plan, tokens, err := Prepare(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	linker, err := Linker(cfg)
	if err != nil {
		return nil, err
	}

	var executor engine.Executor
	if opts.DryRun {
		executor = engine.NewDryRunExecutor(linker, cfg.Link.ServerPrefix)
	} else {
		var eopts []engine.ExecutorOption
		if tokens != nil {
			eopts = append(eopts, engine.WithLinkTokens(tokens))
		}
		executor = engine.NewLinkExecutor(linker, cfg.Link.ServerPrefix,
			engine.ExistingPolicy(cfg.Policy.OnExisting), log, eopts...)
	}

	provider := opts.Provider
	if provider == nil {
		popts := []conn.ProviderOption{conn.WithTunnels(tunnel.NewDialer(log))}
		if tokens != nil {
			popts = append(popts, conn.WithTokens(tokens))
		}
		p := conn.NewProvider(log, popts...)
		defer func() {
			if err := p.Close(); err != nil {
				log.Warn("failed to close connections", zap.Error(err))
			}
		}()
		provider = p
	}

	if opts.OnPlan != nil {
		opts.OnPlan(plan)
	}
	log.Info("starting run",
		zap.String(logger.FieldLinkMode, linker.Mode()),
		zap.Int(logger.FieldTotal, plan.JobCount()),
		zap.Bool("dry_run", opts.DryRun))

	rep, runErr := engine.NewOrchestrator(provider, executor, log, engine.Options{
		RunID:    opts.RunID,
		LinkMode: linker.Mode(),
		DryRun:   opts.DryRun,
		Hooks:    opts.Hooks,
	}).Run(ctx, plan)

	sinks := append(Sinks(cfg, log), opts.Sinks...)
	if err := sinks.Write(rep); err != nil {
		log.Warn("failed to publish report", zap.Error(err))
	}
	return rep, runErr
}

// Clean drops leftover linking servers on every database the link mode executes on.
// It returns the dropped server names per database.
func Clean(ctx context.Context, cfg *config.Config, log *zap.Logger, opts Options) (map[string][]string, error) {
	plan, tokens, err := Prepare(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	linker, err := Linker(cfg)
	if err != nil {
		return nil, err
	}

	dbs := []route.Database{plan.Source}
	if linker.Side() == link.OnTarget {
		dbs = dbs[:0]
		for _, e := range plan.Entries {
			dbs = append(dbs, e.Target)
		}
	}

	provider := opts.Provider
	if provider == nil {
		popts := []conn.ProviderOption{conn.WithTunnels(tunnel.NewDialer(log))}
		if tokens != nil {
			popts = append(popts, conn.WithTokens(tokens))
		}
		p := conn.NewProvider(log, popts...)
		defer p.Close()
		provider = p
	}

	out := make(map[string][]string, len(dbs))
	var errs error
	for _, db := range dbs {
		h, err := provider.Acquire(ctx, db)
		if err != nil {
			errs = errors.CombineErrors(errs, err)
			continue
		}
		names, err := engine.Clean(ctx, h, linker, cfg.Link.ServerPrefix, log.With(zap.String(logger.FieldDatabase, db.Name)))
		out[db.Name] = names
		if err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "clean %s", db.Name))
		}
		if err := provider.Release(db.Name); err != nil {
			log.Warn("failed to release", zap.String(logger.FieldDatabase, db.Name), zap.Error(err))
		}
	}
	return out, errs
}
