package engine_test

import (
	"context"
	"testing"

	"pgroute/internal/engine"
	"pgroute/internal/link"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClean_Dblink(t *testing.T) {
	h, mock := mockHandle(t, "eu", targetLink)
	mock.ExpectQuery(link.LeftoverServersQuery).WithArgs(`pgroute\_%`).
		WillReturnRows(sqlmock.NewRows([]string{"srvname"}).AddRow("pgroute_eu").AddRow("pgroute_us"))
	mock.ExpectExec(`DROP SERVER IF EXISTS "pgroute_eu" CASCADE`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DROP SERVER IF EXISTS "pgroute_us" CASCADE`).WillReturnError(errors.New("must be owner of foreign server pgroute_us"))

	names, err := engine.Clean(context.Background(), h, dblink(t), "pgroute_", zap.NewNop())
	assert.Equal(t, []string{"pgroute_eu", "pgroute_us"}, names)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be owner")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClean_FDWDropsSchema(t *testing.T) {
	l, err := link.GetLinker(link.ModePostgresFDW, link.Options{})
	require.NoError(t, err)
	h, mock := mockHandle(t, "source", sourceLink)
	mock.ExpectQuery(link.LeftoverServersQuery).WithArgs(`pgroute\_%`).
		WillReturnRows(sqlmock.NewRows([]string{"srvname"}))
	mock.ExpectExec(`DROP SCHEMA IF EXISTS "pgroute_link" CASCADE`).WillReturnResult(sqlmock.NewResult(0, 0))

	names, err := engine.Clean(context.Background(), h, l, "pgroute_", zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, names)
	require.NoError(t, mock.ExpectationsWereMet())
}
