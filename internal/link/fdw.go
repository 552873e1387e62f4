package link

import (
	"fmt"

	"github.com/lib/pq"
)

// FDWLinker pushes rows: statements run on the source and a postgres_fdw foreign table
// stands in for the target table.
type FDWLinker struct {
	createExtension bool
	foreignSchema   string
}

func (l *FDWLinker) Mode() string { return ModePostgresFDW }

func (l *FDWLinker) Side() Side { return OnSource }

// ForeignTable is the local name of the stand-in for job's target table.
func (l *FDWLinker) ForeignTable(s Server, job Job) string {
	return QualifiedName(l.foreignSchema, s.Name+"_"+job.Table)
}

func (l *FDWLinker) Setup(s Server, job Job) []string {
	var stmts []string
	if l.createExtension {
		stmts = append(stmts, createExtension("postgres_fdw"))
	}
	return append(stmts,
		DropServer(s.Name),
		createServer(s, "postgres_fdw"),
		createUserMapping(s),
		"CREATE SCHEMA IF NOT EXISTS "+pq.QuoteIdentifier(l.foreignSchema),
		fmt.Sprintf("CREATE FOREIGN TABLE %s (%s) SERVER %s OPTIONS (schema_name %s, table_name %s)",
			l.ForeignTable(s, job),
			ColumnDefinitions(job),
			pq.QuoteIdentifier(s.Name),
			pq.QuoteLiteral(job.TargetSchema),
			pq.QuoteLiteral(job.Table),
		),
	)
}

func (l *FDWLinker) Copy(s Server, job Job) string {
	cols := ColumnList(job)
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		l.ForeignTable(s, job), cols, SourceColumnList(job), QualifiedName(job.SourceSchema, job.Table))
}

// Teardown drops the server; CASCADE takes the user mapping and foreign table with it.
func (l *FDWLinker) Teardown(s Server) []string {
	return []string{DropServer(s.Name)}
}

func (l *FDWLinker) Cleanup(serverNames []string) []string {
	stmts := make([]string, 0, len(serverNames)+1)
	for _, n := range serverNames {
		stmts = append(stmts, DropServer(n))
	}
	return append(stmts, "DROP SCHEMA IF EXISTS "+pq.QuoteIdentifier(l.foreignSchema)+" CASCADE")
}
