package engine

import (
	"pgroute/internal/conn"
	"pgroute/internal/schema"

	"github.com/cockroachdb/errors"
	"github.com/lib/pq"
)

// Failure taxonomy. Errors are tagged with errors.Mark so KindOf can classify them
// after any amount of wrapping.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrConnection    = conn.ErrConnect
	ErrCopy          = errors.New("copy error")
)

type Kind string

const (
	KindNone          Kind = ""
	KindConfiguration Kind = "configuration"
	KindConnection    Kind = "connection"
	KindCopy          Kind = "copy"
	KindWarning       Kind = "warning"
)

// KindOf classifies err. Anything unrecognised is a copy failure.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.IsAny(err, ErrConfiguration, schema.ErrNoOverlap, schema.ErrTableNotFound):
		return KindConfiguration
	case errors.Is(err, ErrConnection):
		return KindConnection
	default:
		return KindCopy
	}
}

// Detail extracts the message shown to operators: the server's own text for database
// errors, the full chain otherwise.
func Detail(err error) (detail, sqlState string) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Message, string(pqErr.Code)
	}
	return err.Error(), ""
}
