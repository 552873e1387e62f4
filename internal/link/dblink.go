package link

import (
	"fmt"

	"github.com/lib/pq"
)

// DblinkLinker pulls rows: statements run on the target and a dblink_fdw server points
// back at the source.
type DblinkLinker struct {
	createExtension bool
}

func (l *DblinkLinker) Mode() string { return ModeDblink }

func (l *DblinkLinker) Side() Side { return OnTarget }

func (l *DblinkLinker) Setup(s Server, job Job) []string {
	var stmts []string
	if l.createExtension {
		stmts = append(stmts, createExtension("dblink"))
	}
	// A crashed run may have left the server behind.
	return append(stmts,
		DropServer(s.Name),
		createServer(s, "dblink_fdw"),
		createUserMapping(s),
	)
}

// Copy builds a single INSERT ... SELECT over a dblink record set typed with the
// target's column types.
func (l *DblinkLinker) Copy(s Server, job Job) string {
	cols := ColumnList(job)
	remote := fmt.Sprintf("SELECT %s FROM %s", SourceColumnList(job), QualifiedName(job.SourceSchema, job.Table))
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM dblink(%s, %s) AS r(%s)",
		QualifiedName(job.TargetSchema, job.Table),
		cols,
		cols,
		pq.QuoteLiteral(s.Name),
		pq.QuoteLiteral(remote),
		ColumnDefinitions(job),
	)
}

func (l *DblinkLinker) Teardown(s Server) []string {
	return []string{DropServer(s.Name)}
}

func (l *DblinkLinker) Cleanup(serverNames []string) []string {
	stmts := make([]string, 0, len(serverNames))
	for _, n := range serverNames {
		stmts = append(stmts, DropServer(n))
	}
	return stmts
}
