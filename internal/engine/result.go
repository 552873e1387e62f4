package engine

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// RowsUnknown is reported when the server gave no affected-row count.
const RowsUnknown int64 = -1

// CopyResult is the outcome of one (target, table) pair.
type CopyResult struct {
	Target   string        `json:"target"`
	Table    string        `json:"table"`
	Status   Status        `json:"status"`
	Kind     Kind          `json:"kind,omitempty"`
	Rows     int64         `json:"rows"`
	Columns  []string      `json:"columns,omitempty"`
	Detail   string        `json:"detail"`
	SQLState string        `json:"sqlstate,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

func (r CopyResult) Key() string {
	return r.Target + "." + r.Table
}

// failed builds an Error result from err.
func failed(target, table string, err error) CopyResult {
	detail, state := Detail(err)
	return CopyResult{
		Target:   target,
		Table:    table,
		Status:   StatusError,
		Kind:     KindOf(err),
		Rows:     RowsUnknown,
		Detail:   detail,
		SQLState: state,
	}
}

// FailPolicy decides which outcomes make the run as a whole fail.
type FailPolicy string

const (
	FailOnError   FailPolicy = "error"
	FailOnWarning FailPolicy = "warning"
	FailNever     FailPolicy = "never"
)

func ParseFailPolicy(s string) (FailPolicy, error) {
	switch p := FailPolicy(strings.ToLower(s)); p {
	case FailOnError, FailOnWarning, FailNever:
		return p, nil
	case "":
		return FailOnError, nil
	default:
		return "", errors.Newf("unknown fail policy %q", s)
	}
}

// Summary counts outcomes.
type Summary struct {
	Total   int   `json:"total"`
	Success int   `json:"success"`
	Warning int   `json:"warning"`
	Error   int   `json:"error"`
	Rows    int64 `json:"rows"`
}

// RunReport is the ordered list of outcomes of one run.
type RunReport struct {
	RunID      string       `json:"run_id"`
	LinkMode   string       `json:"link_mode"`
	DryRun     bool         `json:"dry_run,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Results    []CopyResult `json:"results"`
}

func NewRunReport(runID, linkMode string) *RunReport {
	return &RunReport{RunID: runID, LinkMode: linkMode, StartedAt: time.Now(), Results: []CopyResult{}}
}

func (r *RunReport) Add(res CopyResult) {
	r.Results = append(r.Results, res)
}

func (r *RunReport) Finish() {
	r.FinishedAt = time.Now()
}

func (r *RunReport) Elapsed() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *RunReport) Summary() Summary {
	s := Summary{Total: len(r.Results)}
	for _, res := range r.Results {
		switch res.Status {
		case StatusSuccess:
			s.Success++
		case StatusWarning:
			s.Warning++
		case StatusError:
			s.Error++
		}
		if res.Rows > 0 {
			s.Rows += res.Rows
		}
	}
	return s
}

// Failed applies the policy to the outcomes.
func (r *RunReport) Failed(p FailPolicy) bool {
	s := r.Summary()
	switch p {
	case FailNever:
		return false
	case FailOnWarning:
		return s.Error > 0 || s.Warning > 0
	default:
		return s.Error > 0
	}
}
