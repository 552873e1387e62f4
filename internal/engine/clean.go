package engine

import (
	"context"

	"pgroute/internal/conn"
	"pgroute/internal/link"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Clean drops linking servers left behind by interrupted runs on one database and
// returns the names it found. Individual drop failures are logged and collected;
// the remaining drops still run.
func Clean(ctx context.Context, h *conn.Handle, linker link.Linker, prefix string, log *zap.Logger) ([]string, error) {
	rows, err := h.Q.QueryContext(ctx, link.LeftoverServersQuery, link.LikePattern(prefix))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list servers on %s", h.Name)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "failed to scan server name")
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating servers")
	}

	var errs error
	for _, stmt := range linker.Cleanup(names) {
		if _, err := h.Q.ExecContext(ctx, stmt); err != nil {
			log.Warn("cleanup statement failed", zap.String("statement", stmt), zap.Error(err))
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "%s", stmt))
			continue
		}
		log.Debug("cleanup statement done", zap.String("statement", stmt))
	}
	return names, errs
}
