package conn

import (
	"context"
	"database/sql"
	"io"

	"pgroute/internal/route"

	"github.com/cockroachdb/errors"
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Handle is a live session to one database, held for the whole run.
type Handle struct {
	Name string
	Q    Querier
	// Link is how a server-side link reaches this database.
	Link route.Endpoint

	notices *NoticeBuffer
	closers []io.Closer
}

// NewHandle wraps an open session. closers run in order on Close.
func NewHandle(name string, q Querier, link route.Endpoint, closers ...io.Closer) *Handle {
	return &Handle{Name: name, Q: q, Link: link, notices: &NoticeBuffer{}, closers: closers}
}

// Notices is the buffer the driver feeds for this session.
func (h *Handle) Notices() *NoticeBuffer {
	return h.notices
}

func (h *Handle) Close() error {
	var errs error
	for _, c := range h.closers {
		if err := c.Close(); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	h.closers = nil
	return errs
}
