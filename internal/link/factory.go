package link

import "github.com/cockroachdb/errors"

const (
	ModeDblink      = "dblink"
	ModePostgresFDW = "postgres_fdw"

	DefaultForeignSchema = "pgroute_link"
)

type Options struct {
	CreateExtension bool
	ForeignSchema   string // postgres_fdw only
}

// GetLinker returns the Linker for a configured mode.
func GetLinker(mode string, opts Options) (Linker, error) {
	switch mode {
	case ModeDblink, "":
		return &DblinkLinker{createExtension: opts.CreateExtension}, nil
	case ModePostgresFDW:
		fs := opts.ForeignSchema
		if fs == "" {
			fs = DefaultForeignSchema
		}
		return &FDWLinker{createExtension: opts.CreateExtension, foreignSchema: fs}, nil
	default:
		return nil, errors.WithHint(errors.Newf("unknown link mode %q", mode),
			"use dblink or postgres_fdw")
	}
}

// Ensure interface implementation
var _ Linker = (*DblinkLinker)(nil)
var _ Linker = (*FDWLinker)(nil)
