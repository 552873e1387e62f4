package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pgroute/internal/conn"
	"pgroute/internal/link"
	"pgroute/internal/logger"
	"pgroute/internal/route"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// CopyJob is one unit of work: a reconciled table bound for one target.
type CopyJob struct {
	Target string
	link.Job
}

func (j CopyJob) ColumnNames() []string {
	names := make([]string, len(j.Columns))
	for i, c := range j.Columns {
		names[i] = c.Name
	}
	return names
}

// Executor performs one job. It never retries and always returns a result.
type Executor interface {
	Execute(ctx context.Context, source, target *conn.Handle, job CopyJob) CopyResult
}

// ExistingPolicy decides what happens when the target table already holds rows.
type ExistingPolicy string

const (
	ExistingAppend ExistingPolicy = "append"
	ExistingSkip   ExistingPolicy = "skip"
)

// teardownTimeout bounds link cleanup, which runs even after ctx is cancelled.
const teardownTimeout = 30 * time.Second

// LinkExecutor copies through a transient server-side link.
type LinkExecutor struct {
	linker     link.Linker
	prefix     string
	onExisting ExistingPolicy
	tokens     conn.TokenSource
	log        *zap.Logger
}

type ExecutorOption func(*LinkExecutor)

// WithLinkTokens signs a fresh IAM token into every link whose remote uses iam_auth.
func WithLinkTokens(t conn.TokenSource) ExecutorOption {
	return func(e *LinkExecutor) { e.tokens = t }
}

func NewLinkExecutor(linker link.Linker, serverPrefix string, onExisting ExistingPolicy, log *zap.Logger, opts ...ExecutorOption) *LinkExecutor {
	e := &LinkExecutor{linker: linker, prefix: serverPrefix, onExisting: onExisting, log: log}
	for _, o := range opts {
		o(e)
	}
	return e
}

// TargetHasRowsQuery is formatted with the quoted target table.
const TargetHasRowsQuery = "SELECT EXISTS (SELECT 1 FROM %s)"

func (e *LinkExecutor) Execute(ctx context.Context, source, target *conn.Handle, job CopyJob) (res CopyResult) {
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	if e.onExisting == ExistingSkip {
		var nonEmpty bool
		q := fmt.Sprintf(TargetHasRowsQuery, link.QualifiedName(job.TargetSchema, job.Table))
		if err := target.Q.QueryRowContext(ctx, q).Scan(&nonEmpty); err != nil {
			return e.fail(job, errors.Mark(errors.Wrap(err, "failed to check target for rows"), ErrCopy))
		}
		if nonEmpty {
			return e.result(job, StatusWarning, 0, "target table not empty; skipped (on_existing=skip)")
		}
	}

	exec, remote := target, source
	if e.linker.Side() == link.OnSource {
		exec, remote = source, target
	}
	server := link.Server{Name: link.ServerName(e.prefix, job.Target), Remote: remote.Link}
	if server.Remote.IAMAuth {
		// tokens expire after 15 minutes, each link gets its own
		token, err := e.linkToken(ctx, server.Remote)
		if err != nil {
			return e.fail(job, errors.Mark(errors.Wrap(err, "failed to build IAM auth token for link"), ErrCopy))
		}
		server.Remote.Password = token
	}
	log := e.log.With(
		zap.String(logger.FieldTarget, job.Target),
		zap.String(logger.FieldTable, job.Table),
		zap.String(logger.FieldLinkMode, e.linker.Mode()))

	for _, stmt := range e.linker.Setup(server, job.Job) {
		if _, err := exec.Q.ExecContext(ctx, stmt); err != nil {
			// a half-built link is still torn down
			e.teardown(ctx, exec, server, log)
			return e.fail(job, errors.Mark(errors.Wrap(err, "failed to create linking object"), ErrCopy))
		}
	}

	exec.Notices().Drain()
	out, copyErr := exec.Q.ExecContext(ctx, e.linker.Copy(server, job.Job))
	warnings := conn.Warnings(exec.Notices().Drain())

	teardownErr := e.teardown(ctx, exec, server, log)

	if copyErr != nil {
		return e.fail(job, errors.Mark(copyErr, ErrCopy))
	}

	rows := RowsUnknown
	if n, err := out.RowsAffected(); err == nil {
		rows = n
	}

	switch {
	case len(warnings) > 0:
		msgs := make([]string, len(warnings))
		for i, w := range warnings {
			msgs[i] = w.Message
		}
		return e.result(job, StatusWarning, rows, strings.Join(msgs, "; "))
	case teardownErr != nil:
		detail, _ := Detail(teardownErr)
		return e.result(job, StatusWarning, rows, "rows copied but link cleanup failed: "+detail)
	default:
		return e.result(job, StatusSuccess, rows, fmt.Sprintf("copied %d row(s)", rows))
	}
}

func (e *LinkExecutor) linkToken(ctx context.Context, ep route.Endpoint) (string, error) {
	if e.tokens == nil {
		return "", errors.New("iam_auth requested but no token source configured")
	}
	return e.tokens.Token(ctx, ep)
}

func (e *LinkExecutor) teardown(ctx context.Context, exec *conn.Handle, server link.Server, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	var errs error
	for _, stmt := range e.linker.Teardown(server) {
		if _, err := exec.Q.ExecContext(ctx, stmt); err != nil {
			log.Warn("link teardown failed", zap.Error(err))
			errs = errors.CombineErrors(errs, err)
		}
	}
	exec.Notices().Drain()
	return errs
}

func (e *LinkExecutor) result(job CopyJob, status Status, rows int64, detail string) CopyResult {
	res := CopyResult{
		Target:  job.Target,
		Table:   job.Table,
		Status:  status,
		Rows:    rows,
		Columns: job.ColumnNames(),
		Detail:  detail,
	}
	if status == StatusWarning {
		res.Kind = KindWarning
	}
	return res
}

func (e *LinkExecutor) fail(job CopyJob, err error) CopyResult {
	res := failed(job.Target, job.Table, err)
	res.Columns = job.ColumnNames()
	return res
}

// DryRunExecutor reports the statement that would run without touching either database.
type DryRunExecutor struct {
	linker link.Linker
	prefix string
}

func NewDryRunExecutor(linker link.Linker, serverPrefix string) *DryRunExecutor {
	return &DryRunExecutor{linker: linker, prefix: serverPrefix}
}

func (d *DryRunExecutor) Execute(ctx context.Context, source, target *conn.Handle, job CopyJob) CopyResult {
	remote := source
	if d.linker.Side() == link.OnSource {
		remote = target
	}
	server := link.Server{Name: link.ServerName(d.prefix, job.Target), Remote: remote.Link}
	return CopyResult{
		Target:  job.Target,
		Table:   job.Table,
		Status:  StatusSuccess,
		Rows:    RowsUnknown,
		Columns: job.ColumnNames(),
		Detail:  "dry run: " + d.linker.Copy(server, job.Job),
	}
}

// Ensure interface implementation
var _ Executor = (*LinkExecutor)(nil)
var _ Executor = (*DryRunExecutor)(nil)
