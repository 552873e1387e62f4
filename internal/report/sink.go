package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"pgroute/internal/engine"
	"pgroute/internal/logger"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Sink publishes a finished run.
type Sink interface {
	Write(r *engine.RunReport) error
}

// Multi writes to every sink and joins their errors.
type Multi []Sink

func (m Multi) Write(r *engine.RunReport) error {
	var errs error
	for _, s := range m {
		if err := s.Write(r); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

// LogSink emits one structured line per result and a closing summary.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Write(r *engine.RunReport) error {
	log := s.Log.With(zap.String(logger.FieldRunID, r.RunID))
	for _, res := range r.Results {
		fields := []zap.Field{
			zap.String(logger.FieldTarget, res.Target),
			zap.String(logger.FieldTable, res.Table),
			zap.String(logger.FieldStatus, string(res.Status)),
			zap.Int64(logger.FieldRows, res.Rows),
			zap.Int64(logger.FieldDurationMS, res.Duration.Milliseconds()),
			zap.String(logger.FieldDetail, res.Detail),
		}
		switch res.Status {
		case engine.StatusError:
			fields = append(fields, zap.String(logger.FieldKind, string(res.Kind)))
			if res.SQLState != "" {
				fields = append(fields, zap.String(logger.FieldSQLState, res.SQLState))
			}
			log.Error("copy failed", fields...)
		case engine.StatusWarning:
			log.Warn("copy finished with warnings", fields...)
		default:
			log.Info("copy done", fields...)
		}
	}

	sum := r.Summary()
	log.Info("run finished",
		zap.String(logger.FieldLinkMode, r.LinkMode),
		zap.Int(logger.FieldTotal, sum.Total),
		zap.Int(logger.FieldSuccess, sum.Success),
		zap.Int(logger.FieldWarning, sum.Warning),
		zap.Int(logger.FieldFailed, sum.Error),
		zap.Int64(logger.FieldRows, sum.Rows),
		zap.Int64(logger.FieldDurationMS, r.Elapsed().Milliseconds()))
	return nil
}

// ConsoleSink prints a numbered summary table for humans.
type ConsoleSink struct {
	Out io.Writer
}

func icon(s engine.Status) string {
	switch s {
	case engine.StatusSuccess:
		return "✓"
	case engine.StatusWarning:
		return "!"
	default:
		return "x"
	}
}

func (s ConsoleSink) Write(r *engine.RunReport) error {
	var b strings.Builder
	title := "📊 Summary Report"
	if r.DryRun {
		title += " [SIMULATION]"
	}
	fmt.Fprintf(&b, "\n%s (run %s, %s):\n", title, r.RunID, r.LinkMode)

	n := len(r.Results)
	for i, res := range r.Results {
		rows := "?"
		if res.Rows != engine.RowsUnknown {
			rows = fmt.Sprintf("%d", res.Rows)
		}
		fmt.Fprintf(&b, "[%s] [%02d/%02d] %-30s : %s rows - %s\n", icon(res.Status), i+1, n, res.Key(), rows, res.Status)
		if res.Status != engine.StatusSuccess || r.DryRun {
			fmt.Fprintf(&b, "    └ %s\n", res.Detail)
		}
	}

	sum := r.Summary()
	b.WriteString("--------------------------------------------------\n")
	fmt.Fprintf(&b, "Total: %d jobs, %d ok, %d warning, %d error, %d rows copied\n",
		sum.Total, sum.Success, sum.Warning, sum.Error, sum.Rows)
	fmt.Fprintf(&b, "Time Elapsed: %s\n", r.Elapsed().Round(time.Millisecond))

	_, err := io.WriteString(s.Out, b.String())
	return err
}

// JSONFile writes the whole report to Path.
type JSONFile struct {
	Path string
}

func (s JSONFile) Write(r *engine.RunReport) error {
	out := struct {
		*engine.RunReport
		Summary engine.Summary `json:"summary"`
	}{r, r.Summary()}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode report")
	}
	if err := os.WriteFile(s.Path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write report to %s", s.Path)
	}
	return nil
}
