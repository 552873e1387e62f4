package link

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// LeftoverServersQuery finds linking servers created by earlier runs.
const LeftoverServersQuery = `SELECT srvname FROM pg_foreign_server WHERE srvname LIKE $1 ORDER BY srvname`

// ServerName derives a stable server identifier from the prefix and target name.
// Anything outside [a-z0-9_] becomes an underscore.
func ServerName(prefix, target string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(prefix + target) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// LikePattern escapes a prefix for LeftoverServersQuery.
func LikePattern(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

// QualifiedName quotes schema.table.
func QualifiedName(schemaName, table string) string {
	return pq.QuoteIdentifier(schemaName) + "." + pq.QuoteIdentifier(table)
}

// ColumnList quotes and joins column names.
func ColumnList(job Job) string {
	names := make([]string, len(job.Columns))
	for i, c := range job.Columns {
		names[i] = pq.QuoteIdentifier(c.Name)
	}
	return strings.Join(names, ", ")
}

// SourceColumnList renders the column list as the source table spells it.
func SourceColumnList(job Job) string {
	if len(job.SourceNames) != len(job.Columns) {
		return ColumnList(job)
	}
	names := make([]string, len(job.SourceNames))
	for i, n := range job.SourceNames {
		names[i] = pq.QuoteIdentifier(n)
	}
	return strings.Join(names, ", ")
}

// ColumnDefinitions renders "name type" pairs for record and foreign table definitions.
func ColumnDefinitions(job Job) string {
	defs := make([]string, len(job.Columns))
	for i, c := range job.Columns {
		defs[i] = pq.QuoteIdentifier(c.Name) + " " + c.DataType
	}
	return strings.Join(defs, ", ")
}

func createServer(s Server, wrapper string) string {
	opts := []string{
		"host " + pq.QuoteLiteral(s.Remote.Host),
		"port " + pq.QuoteLiteral(strconv.Itoa(s.Remote.Port)),
		"dbname " + pq.QuoteLiteral(s.Remote.Database),
	}
	if s.Remote.SSLMode != "" {
		opts = append(opts, "sslmode "+pq.QuoteLiteral(s.Remote.SSLMode))
	}
	return fmt.Sprintf("CREATE SERVER %s FOREIGN DATA WRAPPER %s OPTIONS (%s)",
		pq.QuoteIdentifier(s.Name), wrapper, strings.Join(opts, ", "))
}

func createUserMapping(s Server) string {
	return fmt.Sprintf("CREATE USER MAPPING FOR CURRENT_USER SERVER %s OPTIONS (user %s, password %s)",
		pq.QuoteIdentifier(s.Name), pq.QuoteLiteral(s.Remote.User), pq.QuoteLiteral(s.Remote.Password))
}

// DropServer removes a server with its user mappings and foreign tables.
func DropServer(name string) string {
	return fmt.Sprintf("DROP SERVER IF EXISTS %s CASCADE", pq.QuoteIdentifier(name))
}

func createExtension(name string) string {
	return "CREATE EXTENSION IF NOT EXISTS " + name
}
