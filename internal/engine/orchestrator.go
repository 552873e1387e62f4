package engine

import (
	"context"

	"pgroute/internal/conn"
	"pgroute/internal/link"
	"pgroute/internal/logger"
	"pgroute/internal/route"
	"pgroute/internal/schema"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Acquirer is the connection side of a run. *conn.Provider implements it.
type Acquirer interface {
	Acquire(ctx context.Context, db route.Database) (*conn.Handle, error)
	Release(name string) error
}

// TargetState tracks one target through a run.
type TargetState string

const (
	StatePending            TargetState = "pending"
	StateConnectionAcquired TargetState = "connection_acquired"
	StateIteratingTables    TargetState = "iterating_tables"
	StateClosed             TargetState = "closed"
	StateFailed             TargetState = "failed"
)

// Hooks receive status events as the run progresses. Either may be nil.
type Hooks struct {
	OnTarget func(target string, state TargetState)
	OnResult func(CopyResult)
}

type Options struct {
	RunID    string // generated when empty
	LinkMode string
	DryRun   bool
	Hooks    Hooks
}

// Orchestrator walks a plan target by target, table by table.
type Orchestrator struct {
	provider Acquirer
	executor Executor
	opts     Options
	log      *zap.Logger
}

func NewOrchestrator(provider Acquirer, executor Executor, log *zap.Logger, opts Options) *Orchestrator {
	return &Orchestrator{provider: provider, executor: executor, opts: opts, log: log}
}

// Run executes every job in plan order. Only a source connection failure aborts the run;
// in that case the (empty) report is returned together with the error.
func (o *Orchestrator) Run(ctx context.Context, plan route.Plan) (*RunReport, error) {
	runID := o.opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	report := NewRunReport(runID, o.opts.LinkMode)
	report.DryRun = o.opts.DryRun
	log := o.log.With(zap.String(logger.FieldRunID, runID))

	source, err := o.provider.Acquire(ctx, plan.Source)
	if err != nil {
		report.Finish()
		return report, errors.WithHint(
			errors.Wrapf(err, "source %s unavailable, nothing copied", plan.Source.Name),
			"check the source credentials and tunnel settings")
	}
	defer func() {
		if err := o.provider.Release(plan.Source.Name); err != nil {
			log.Warn("failed to release source", zap.Error(err))
		}
	}()

	sources := schema.NewCache(source.Q)
	for _, entry := range plan.Entries {
		o.runTarget(ctx, log, report, plan.Source, source, sources, entry)
	}

	report.Finish()
	return report, nil
}

func (o *Orchestrator) runTarget(ctx context.Context, log *zap.Logger, report *RunReport,
	sourceDB route.Database, source *conn.Handle, sources *schema.Cache, entry route.Entry) {

	name := entry.Target.Name
	log = log.With(zap.String(logger.FieldTarget, name))
	o.state(log, name, StatePending)

	target, err := o.provider.Acquire(ctx, entry.Target)
	if err != nil {
		o.state(log, name, StateFailed)
		log.Error("target unavailable, skipping its tables", zap.Error(err))
		for _, table := range entry.Tables {
			o.record(report, failed(name, table, err))
		}
		return
	}
	o.state(log, name, StateConnectionAcquired)
	defer func() {
		if err := o.provider.Release(name); err != nil {
			log.Warn("failed to release target", zap.Error(err))
		}
		o.state(log, name, StateClosed)
	}()

	o.state(log, name, StateIteratingTables)
	for _, table := range entry.Tables {
		if err := ctx.Err(); err != nil {
			o.record(report, failed(name, table, errors.Wrap(err, "run interrupted before copy")))
			continue
		}
		o.record(report, o.runJob(ctx, sourceDB, source, sources, entry.Target, target, table))
	}
}

// runJob resolves the column list and dispatches the copy. Configuration problems are
// recorded without contacting the executor.
func (o *Orchestrator) runJob(ctx context.Context, sourceDB route.Database, source *conn.Handle,
	sources *schema.Cache, targetDB route.Database, target *conn.Handle, table string) CopyResult {

	name := targetDB.Name
	srcTable, err := sources.Get(ctx, sourceDB.SchemaName(), table)
	if err != nil {
		return failed(name, table, errors.Wrap(err, "source"))
	}
	tgtTable, err := schema.Fetch(ctx, target.Q, targetDB.SchemaName(), table)
	if err != nil {
		return failed(name, table, errors.Wrap(err, "target"))
	}
	cols, err := schema.Reconcile(srcTable, tgtTable)
	if err != nil {
		return failed(name, table, err)
	}

	job := CopyJob{
		Target: name,
		Job: link.Job{
			SourceSchema: sourceDB.SchemaName(),
			TargetSchema: targetDB.SchemaName(),
			Table:        table,
			Columns:      tgtTable.Pick(cols),
			SourceNames:  schema.ColumnNames(srcTable.Pick(cols)),
		},
	}
	return o.executor.Execute(ctx, source, target, job)
}

func (o *Orchestrator) record(report *RunReport, res CopyResult) {
	report.Add(res)
	if o.opts.Hooks.OnResult != nil {
		o.opts.Hooks.OnResult(res)
	}
}

func (o *Orchestrator) state(log *zap.Logger, target string, s TargetState) {
	log.Debug("target state", zap.String(logger.FieldState, string(s)))
	if o.opts.Hooks.OnTarget != nil {
		o.opts.Hooks.OnTarget(target, s)
	}
}
