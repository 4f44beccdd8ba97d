package sqlrecord

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audittrail/data/db/basic"
	"audittrail/errors"
	"audittrail/record"
)

// 测试辅助：postgres 方言下的 mock 连接
func setupPostgres(t *testing.T) (*Persistence, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return New(basic.Wrap(sqlDB, "postgres")), mock
}

func TestPostgres_InsertUsesReturning(t *testing.T) {
	ctx := context.Background()
	p, mock := setupPostgres(t)
	s := accountSchema()

	mock.ExpectQuery(`INSERT INTO "account" ("name", "visits", "active") VALUES ($1, $2, $3) RETURNING "id"`).
		WithArgs("Bob", int64(3), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := p.Insert(ctx, s, map[string]record.Value{
		"active": record.Bool(true),
		"name":   record.String("Bob"),
		"visits": record.Int(3),
	})
	require.NoError(t, err)
	assert.Equal(t, record.Int(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateRebindsExpressionArgs(t *testing.T) {
	ctx := context.Background()
	p, mock := setupPostgres(t)
	s := accountSchema()

	mock.ExpectExec(`UPDATE "account" SET "status" = $1, "visits" = (visits + $2) WHERE "id" = $3`).
		WithArgs("busy", int64(2), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := p.Update(ctx, s, record.Int(7), map[string]record.Value{
		"visits": record.Expr(&record.Expression{SQL: "visits + ?", Args: []any{int64(2)}}),
		"status": record.String("busy"),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_DeleteMissingRow(t *testing.T) {
	ctx := context.Background()
	p, mock := setupPostgres(t)

	mock.ExpectExec(`DELETE FROM "account" WHERE "id" = $1`).
		WithArgs(int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := p.Delete(ctx, accountSchema(), record.Int(99))
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_EnsureTableDDL(t *testing.T) {
	p, mock := setupPostgres(t)
	s := record.NewSchema("note", record.WithFields(
		&record.Field{Name: "body"},
		&record.Field{Name: "score", Type: record.TypeFloat},
		&record.Field{Name: "due", Type: record.TypeDate},
	))

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "note" ("id" BIGSERIAL PRIMARY KEY, "body" TEXT, "score" DOUBLE PRECISION, "due" VARCHAR(32))`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, p.EnsureTable(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}
