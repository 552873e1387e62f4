package schema

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
)

// ErrTableNotFound means the table does not exist or has no insertable columns.
var ErrTableNotFound = errors.New("table not found")

// Querier is the subset of *sql.DB / *sql.Conn used for introspection.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// ColumnsQuery lists insertable columns with their exact type text. Generated and
// dropped columns are excluded since they can never be written.
const ColumnsQuery = `SELECT a.attname, format_type(a.atttypid, a.atttypmod), a.attnum
FROM pg_attribute a
JOIN pg_class c ON a.attrelid = c.oid
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1
  AND c.relname = $2
  AND c.relkind IN ('r', 'p')
  AND a.attnum > 0
  AND NOT a.attisdropped
  AND a.attgenerated = ''
ORDER BY a.attnum`

// SourceColumnsQuery lists readable columns. Generated columns are kept and views,
// materialized views and foreign tables qualify as sources.
const SourceColumnsQuery = `SELECT a.attname, format_type(a.atttypid, a.atttypmod), a.attnum
FROM pg_attribute a
JOIN pg_class c ON a.attrelid = c.oid
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1
  AND c.relname = $2
  AND c.relkind IN ('r', 'p', 'v', 'm', 'f')
  AND a.attnum > 0
  AND NOT a.attisdropped
ORDER BY a.attnum`

// Fetch reads the insertable layout of schemaName.tableName.
func Fetch(ctx context.Context, q Querier, schemaName, tableName string) (*Table, error) {
	return fetch(ctx, q, ColumnsQuery, schemaName, tableName)
}

// FetchSource reads the readable layout of schemaName.tableName.
func FetchSource(ctx context.Context, q Querier, schemaName, tableName string) (*Table, error) {
	return fetch(ctx, q, SourceColumnsQuery, schemaName, tableName)
}

func fetch(ctx context.Context, q Querier, query, schemaName, tableName string) (*Table, error) {
	rows, err := q.QueryContext(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query columns of %s.%s", schemaName, tableName)
	}
	defer rows.Close()

	t := &Table{Schema: schemaName, Name: tableName}
	for rows.Next() {
		c := &Column{}
		if err := rows.Scan(&c.Name, &c.DataType, &c.Position); err != nil {
			return nil, errors.Wrapf(err, "failed to scan column of %s.%s", schemaName, tableName)
		}
		t.Columns = append(t.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating columns of %s.%s", schemaName, tableName)
	}

	if len(t.Columns) == 0 {
		return nil, errors.Wrapf(ErrTableNotFound, "%s.%s", schemaName, tableName)
	}
	return t, nil
}

// Cache memoises FetchSource for the lifetime of one run.
type Cache struct {
	q      Querier
	tables map[string]*Table
}

func NewCache(q Querier) *Cache {
	return &Cache{q: q, tables: make(map[string]*Table)}
}

// Get returns the cached layout or fetches it. Failures are not cached.
func (c *Cache) Get(ctx context.Context, schemaName, tableName string) (*Table, error) {
	key := schemaName + "." + tableName
	if t, ok := c.tables[key]; ok {
		return t, nil
	}
	t, err := FetchSource(ctx, c.q, schemaName, tableName)
	if err != nil {
		return nil, err
	}
	c.tables[key] = t
	return t, nil
}
