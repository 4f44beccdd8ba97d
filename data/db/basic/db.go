// Package basic 基于 database/sql 实现 db.IDatabase。
// 驱动需由调用方通过空导入注册（例如 `_ "modernc.org/sqlite"`）。
package basic

import (
	"context"
	"database/sql"
	"time"

	core "audittrail/data/db"
	"audittrail/data/db/dialect"
)

// DB 基于 database/sql 的最小实现
type DB struct {
	db      *sql.DB
	driver  string
	dialect dialect.Dialect
}

var _ core.IDatabase = (*DB)(nil)

// New 根据配置打开数据库并做一次可用性检查，Driver 为空时默认 sqlite
func New(config core.DBConfig) (*DB, error) {
	driver := config.Driver
	if driver == "" {
		driver = "sqlite"
	}

	sqlDB, err := sql.Open(driver, config.Database)
	if err != nil {
		return nil, err
	}
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(config.ConnMaxLifetime) * time.Second)
	}
	if config.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(config.ConnMaxIdleTime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return Wrap(sqlDB, driver), nil
}

// Wrap 包装已打开的 *sql.DB
func Wrap(sqlDB *sql.DB, driver string) *DB {
	return &DB{db: sqlDB, driver: driver, dialect: dialect.New(driver)}
}

func (d *DB) Query(ctx context.Context, query string, args ...any) (core.IRows, error) {
	rows, err := d.db.QueryContext(ctx, d.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return &Rows{rows: rows}, nil
}

func (d *DB) QueryRow(ctx context.Context, query string, args ...any) core.IRow {
	return &Row{row: d.db.QueryRowContext(ctx, d.dialect.Rebind(query), args...)}
}

func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, d.dialect.Rebind(query), args...)
}

func (d *DB) Begin(ctx context.Context) (core.ITransaction, error) {
	return d.BeginTx(ctx, nil)
}

func (d *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (core.ITransaction, error) {
	tx, err := d.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{db: d.db, tx: tx, dialect: d.dialect}, nil
}

func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }
func (d *DB) Close() error                   { return d.db.Close() }
func (d *DB) Raw() any                       { return d.db }

// GetDialectName 实现 core.IDialectNameProvider
func (d *DB) GetDialectName() string { return d.driver }

// ExecDDL 执行建表等 DDL 语句
func (d *DB) ExecDDL(ctx context.Context, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
