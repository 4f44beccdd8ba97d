package basic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	core "audittrail/data/db"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := New(core.DBConfig{Driver: "sqlite", Database: ":memory:", MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	require.NoError(t, d.ExecDDL(context.Background(),
		`CREATE TABLE item (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL)`))
	return d
}

func TestDB_ExecQuery(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	res, err := d.Exec(ctx, `INSERT INTO item (name) VALUES (?)`, "first")
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	var name string
	require.NoError(t, d.QueryRow(ctx, `SELECT name FROM item WHERE id = ?`, id).Scan(&name))
	assert.Equal(t, "first", name)

	rows, err := d.Query(ctx, `SELECT id, name FROM item`)
	require.NoError(t, err)
	defer rows.Close()
	cols, err := rows.Columns()
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, cols)
	assert.Equal(t, "sqlite", d.GetDialectName())
}

func TestTx_CommitRollback(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	tx, err := d.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, `INSERT INTO item (name) VALUES (?)`, "rolled back")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	tx, err = d.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Begin(ctx)
	assert.Error(t, err, "嵌套事务应返回错误")
	_, err = tx.Exec(ctx, `INSERT INTO item (name) VALUES (?)`, "kept")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	var count int
	require.NoError(t, d.QueryRow(ctx, `SELECT COUNT(*) FROM item`).Scan(&count))
	assert.Equal(t, 1, count)
}
