package schema

import "github.com/cockroachdb/errors"

// ErrNoOverlap means source and target share no column.
var ErrNoOverlap = errors.New("no overlapping columns")

// Reconcile returns the columns present in both tables, ordered by their position in
// the target. Names are compared in canonical form and returned as the target spells them.
func Reconcile(source, target *Table) ([]string, error) {
	inSource := make(map[string]bool, len(source.Columns))
	for _, c := range source.Columns {
		inSource[Canonical(c.Name)] = true
	}

	var common []string
	for _, c := range target.Columns {
		if inSource[Canonical(c.Name)] {
			common = append(common, c.Name)
		}
	}

	if len(common) == 0 {
		return nil, errors.WithHintf(
			errors.Wrapf(ErrNoOverlap, "%s -> %s", source.QualifiedName(), target.QualifiedName()),
			"source columns %v, target columns %v", source.Names(), target.Names())
	}
	return common, nil
}
