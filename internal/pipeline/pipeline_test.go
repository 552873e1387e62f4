package pipeline_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pgroute/internal/config"
	"pgroute/internal/conn"
	"pgroute/internal/engine"
	"pgroute/internal/link"
	"pgroute/internal/pipeline"
	"pgroute/internal/report"
	"pgroute/internal/route"
	"pgroute/internal/schema"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const inlineYAML = `
source:
  name: app
  connection: {host: app.rds, username: reader, password: pw, database: app}
targets:
  - name: eu
    connection: {host: eu.rds, username: writer, password: pw}
    tables: [orders, events]
  - name: us
    connection: {host: us.rds, username: writer, password: pw}
    tables: [orders]
`

func loadConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(yaml)))
	cfg, err := config.Load(v)
	require.NoError(t, err)
	return cfg
}

type mockProvider struct {
	handles map[string]*conn.Handle
}

func (m *mockProvider) Acquire(ctx context.Context, db route.Database) (*conn.Handle, error) {
	h, ok := m.handles[db.Name]
	if !ok {
		return nil, errors.Mark(errors.Newf("no handle for %s", db.Name), conn.ErrConnect)
	}
	return h, nil
}

func (m *mockProvider) Release(string) error { return nil }

func newMock(t *testing.T, name string, ep route.Endpoint) (*conn.Handle, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return conn.NewHandle(name, db, ep), mock
}

func expectColumns(mock sqlmock.Sqlmock, table string, names ...string) {
	mock.ExpectQuery(schema.ColumnsQuery).WithArgs("public", table).WillReturnRows(textColumns(names))
}

func expectSourceColumns(mock sqlmock.Sqlmock, table string, names ...string) {
	mock.ExpectQuery(schema.SourceColumnsQuery).WithArgs("public", table).WillReturnRows(textColumns(names))
}

func textColumns(names []string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"attname", "format_type", "attnum"})
	for i, n := range names {
		rows.AddRow(n, "text", i+1)
	}
	return rows
}

func TestRun_DryRunFiltered(t *testing.T) {
	cfg := loadConfig(t, inlineYAML)
	cfg.Report.JSONFile = filepath.Join(t.TempDir(), "report.json")

	src, srcMock := newMock(t, "app", route.Endpoint{Host: "app.rds"})
	eu, euMock := newMock(t, "eu", route.Endpoint{Host: "eu.rds"})
	expectSourceColumns(srcMock, "orders", "id", "total")
	expectColumns(euMock, "orders", "id", "total")

	var console bytes.Buffer
	rep, err := pipeline.Run(context.Background(), cfg, zap.NewNop(), pipeline.Options{
		DryRun:   true,
		Targets:  []string{"eu"},
		Tables:   []string{"orders"},
		RunID:    "dry-1",
		Sinks:    []report.Sink{report.ConsoleSink{Out: &console}},
		Provider: &mockProvider{handles: map[string]*conn.Handle{"app": src, "eu": eu}},
	})
	require.NoError(t, err)
	require.Len(t, rep.Results, 1)
	assert.True(t, rep.DryRun)
	assert.Equal(t, "eu.orders", rep.Results[0].Key())
	assert.Contains(t, rep.Results[0].Detail, `dblink('pgroute_eu'`)
	assert.Contains(t, console.String(), "[SIMULATION]")

	_, err = os.Stat(cfg.Report.JSONFile)
	assert.NoError(t, err)
	require.NoError(t, srcMock.ExpectationsWereMet())
	require.NoError(t, euMock.ExpectationsWereMet())
}

func TestRun_NothingToCopy(t *testing.T) {
	cfg := loadConfig(t, inlineYAML)
	_, err := pipeline.Run(context.Background(), cfg, zap.NewNop(), pipeline.Options{Targets: []string{"ap"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrConfiguration))
}

func TestRun_SourceUnavailable(t *testing.T) {
	cfg := loadConfig(t, inlineYAML)
	rep, err := pipeline.Run(context.Background(), cfg, zap.NewNop(), pipeline.Options{
		Provider: &mockProvider{handles: map[string]*conn.Handle{}},
	})
	require.Error(t, err)
	assert.Equal(t, engine.KindConnection, engine.KindOf(err))
	require.NotNil(t, rep)
	assert.Empty(t, rep.Results)
}

func TestClean_PerMode(t *testing.T) {
	cfg := loadConfig(t, inlineYAML)

	eu, euMock := newMock(t, "eu", route.Endpoint{})
	us, usMock := newMock(t, "us", route.Endpoint{})
	euMock.ExpectQuery(link.LeftoverServersQuery).WithArgs(`pgroute\_%`).
		WillReturnRows(sqlmock.NewRows([]string{"srvname"}).AddRow("pgroute_eu"))
	euMock.ExpectExec(`DROP SERVER IF EXISTS "pgroute_eu" CASCADE`).WillReturnResult(sqlmock.NewResult(0, 0))
	usMock.ExpectQuery(link.LeftoverServersQuery).WithArgs(`pgroute\_%`).
		WillReturnRows(sqlmock.NewRows([]string{"srvname"}))

	dropped, err := pipeline.Clean(context.Background(), cfg, zap.NewNop(), pipeline.Options{
		Provider: &mockProvider{handles: map[string]*conn.Handle{"eu": eu, "us": us}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"pgroute_eu"}, dropped["eu"])
	assert.Empty(t, dropped["us"])
	require.NoError(t, euMock.ExpectationsWereMet())
	require.NoError(t, usMock.ExpectationsWereMet())

	// push mode cleans the source only
	cfg.Link.Mode = link.ModePostgresFDW
	src, srcMock := newMock(t, "app", route.Endpoint{})
	srcMock.ExpectQuery(link.LeftoverServersQuery).WithArgs(`pgroute\_%`).
		WillReturnRows(sqlmock.NewRows([]string{"srvname"}))
	srcMock.ExpectExec(`DROP SCHEMA IF EXISTS "pgroute_link" CASCADE`).WillReturnResult(sqlmock.NewResult(0, 0))

	_, err = pipeline.Clean(context.Background(), cfg, zap.NewNop(), pipeline.Options{
		Provider: &mockProvider{handles: map[string]*conn.Handle{"app": src}},
	})
	require.NoError(t, err)
	require.NoError(t, srcMock.ExpectationsWereMet())
}
