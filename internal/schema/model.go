package schema

import "strings"

// Table is the column layout of one table in one database.
type Table struct {
	Schema  string
	Name    string
	Columns []*Column // ordered by attnum
}

type Column struct {
	Name     string
	DataType string // format_type() text, e.g. "character varying(64)"
	Position int
}

// Canonical is the form column names are compared in.
func Canonical(name string) string {
	return strings.ToLower(name)
}

// Lookup finds a column by canonical name.
func (t *Table) Lookup(name string) (*Column, bool) {
	key := Canonical(name)
	for _, c := range t.Columns {
		if Canonical(c.Name) == key {
			return c, true
		}
	}
	return nil, false
}

// Pick returns the named columns in the order given. Unknown names are skipped.
func (t *Table) Pick(names []string) []*Column {
	cols := make([]*Column, 0, len(names))
	for _, n := range names {
		if c, ok := t.Lookup(n); ok {
			cols = append(cols, c)
		}
	}
	return cols
}

// ColumnNames returns the names of cols in order.
func ColumnNames(cols []*Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// Names returns the column names in table order.
func (t *Table) Names() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// QualifiedName is schema.table, unquoted, for logs.
func (t *Table) QualifiedName() string {
	return t.Schema + "." + t.Name
}
