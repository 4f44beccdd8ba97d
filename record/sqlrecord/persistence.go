// Package sqlrecord 把 record.Model 持久化到 SQL 表：表名为模式名，列为模式字段。
package sqlrecord

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"strings"

	"audittrail/cache"
	core "audittrail/data/db"
	"audittrail/data/db/dialect"
	"audittrail/errors"
	"audittrail/logging"
	"audittrail/record"
)

// Persistence 实现 record.IPersistence 与 record.ITypecaster
type Persistence struct {
	db      core.IDatabase
	dialect dialect.Dialect
	stmts   *cache.Cache[string, string]
	logger  logging.Logger
}

var (
	_ record.IPersistence = (*Persistence)(nil)
	_ record.ITypecaster  = (*Persistence)(nil)
)

// Option 配置项
type Option func(*Persistence)

// WithStatementCacheSize 语句缓存容量，默认 256
func WithStatementCacheSize(n int) Option {
	return func(p *Persistence) {
		p.stmts = cache.New[string, string](cache.Config{Name: "sqlrecord.stmts", MaxSize: n})
	}
}

func WithLogger(l logging.Logger) Option {
	return func(p *Persistence) {
		if l != nil {
			p.logger = l
		}
	}
}

// New 创建 SQL 持久化
func New(db core.IDatabase, opts ...Option) *Persistence {
	p := &Persistence{
		db:      db,
		dialect: dialect.FromDatabase(db),
		logger:  logging.ComponentLogger("record.sqlrecord"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.stmts == nil {
		p.stmts = cache.New[string, string](cache.Config{Name: "sqlrecord.stmts", MaxSize: 256})
	}
	return p
}

// WithDB 返回绑定到另一连接（通常是事务）的副本，共享语句缓存
func (p *Persistence) WithDB(db core.IDatabase) *Persistence {
	cp := *p
	cp.db = db
	return &cp
}

// StatementCache 返回语句缓存（用于观测命中率）
func (p *Persistence) StatementCache() *cache.Cache[string, string] { return p.stmts }

func (p *Persistence) TypecastSave(f *record.Field, v record.Value) record.Value {
	return record.TypecastSave(f, v)
}

func columnType(t record.FieldType) string {
	switch t {
	case record.TypeInteger:
		return "BIGINT"
	case record.TypeFloat:
		return "DOUBLE PRECISION"
	case record.TypeBoolean:
		return "INTEGER"
	case record.TypeDate, record.TypeTime, record.TypeDatetime:
		return "VARCHAR(32)"
	default:
		return "TEXT"
	}
}

func (p *Persistence) table(s *record.Schema) (string, error) {
	if !dialect.IsSafeIdentifier(s.Name) {
		return "", errors.NewError(errors.ErrCodeInvalidInput, "unsafe table name").WithContext("model", s.Name)
	}
	return p.dialect.QuoteIdentifier(s.Name), nil
}

func (p *Persistence) column(name string) (string, error) {
	if !dialect.IsSafeIdentifier(name) || strings.Contains(name, ".") {
		return "", errors.NewError(errors.ErrCodeInvalidInput, "unsafe column name").WithContext("column", name)
	}
	return p.dialect.QuoteIdentifier(name), nil
}

// EnsureTable 按模式建表（已存在时跳过）
func (p *Persistence) EnsureTable(ctx context.Context, s *record.Schema) error {
	table, err := p.table(s)
	if err != nil {
		return err
	}
	idCol, err := p.column(s.IDField)
	if err != nil {
		return err
	}
	defs := []string{idCol + " " + p.dialect.AutoIncrementPK()}
	for _, f := range s.Fields() {
		col, err := p.column(f.Name)
		if err != nil {
			return err
		}
		defs = append(defs, col+" "+columnType(f.Type))
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(defs, ", "))
	if _, err := p.db.Exec(ctx, ddl); err != nil {
		return errors.WrapDatabaseError(ctx, err, "create table "+s.Name)
	}
	return nil
}

// orderedFields 按模式声明顺序返回 data 中出现的字段
func orderedFields(s *record.Schema, data map[string]record.Value) []*record.Field {
	out := make([]*record.Field, 0, len(data))
	for _, f := range s.Fields() {
		if _, ok := data[f.Name]; ok {
			out = append(out, f)
		}
	}
	return out
}

// bind 把值转换为占位符与参数；表达式直接内联其 SQL
func (p *Persistence) bind(f *record.Field, v record.Value) (string, []any) {
	if e := v.Expression(); e != nil {
		return "(" + e.SQL + ")", e.Args
	}
	return "?", []any{p.TypecastSave(f, v).Interface()}
}

func (p *Persistence) Insert(ctx context.Context, s *record.Schema, data map[string]record.Value) (record.Value, error) {
	table, err := p.table(s)
	if err != nil {
		return record.Null(), err
	}
	fields := orderedFields(s, data)
	cols := make([]string, 0, len(fields))
	marks := make([]string, 0, len(fields))
	var args []any
	for _, f := range fields {
		col, err := p.column(f.Name)
		if err != nil {
			return record.Null(), err
		}
		mark, a := p.bind(f, data[f.Name])
		cols = append(cols, col)
		marks = append(marks, mark)
		args = append(args, a...)
	}

	var query string
	if len(cols) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", table)
	} else {
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(marks, ", "))
	}

	if !p.dialect.SupportsLastInsertID() {
		idCol, _ := p.column(s.IDField)
		var id int64
		if err := p.db.QueryRow(ctx, query+" RETURNING "+idCol, args...).Scan(&id); err != nil {
			return record.Null(), errors.WrapDatabaseError(ctx, err, "insert "+s.Name)
		}
		return record.Int(id), nil
	}
	res, err := p.db.Exec(ctx, query, args...)
	if err != nil {
		return record.Null(), errors.WrapDatabaseError(ctx, err, "insert "+s.Name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return record.Null(), errors.WrapDatabaseError(ctx, err, "read insert id of "+s.Name)
	}
	return record.Int(id), nil
}

func (p *Persistence) Update(ctx context.Context, s *record.Schema, id record.Value, data map[string]record.Value) error {
	if len(data) == 0 {
		return nil
	}
	table, err := p.table(s)
	if err != nil {
		return err
	}
	idCol, err := p.column(s.IDField)
	if err != nil {
		return err
	}
	fields := orderedFields(s, data)
	sets := make([]string, 0, len(fields))
	var args []any
	for _, f := range fields {
		col, err := p.column(f.Name)
		if err != nil {
			return err
		}
		mark, a := p.bind(f, data[f.Name])
		sets = append(sets, col+" = "+mark)
		args = append(args, a...)
	}
	args = append(args, id.Interface())
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", table, strings.Join(sets, ", "), idCol)
	res, err := p.db.Exec(ctx, query, args...)
	if err != nil {
		return errors.WrapDatabaseError(ctx, err, "update "+s.Name)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return record.ErrNotFound.WithContext("model", s.Name).WithContext("id", id.Interface())
	}
	return nil
}

func (p *Persistence) Delete(ctx context.Context, s *record.Schema, id record.Value) error {
	query, err := p.stmts.GetOrLoad("delete:"+s.Name, func(string) (string, error) {
		table, err := p.table(s)
		if err != nil {
			return "", err
		}
		idCol, err := p.column(s.IDField)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("DELETE FROM %s WHERE %s = ?", table, idCol), nil
	})
	if err != nil {
		return err
	}
	res, err := p.db.Exec(ctx, query, id.Interface())
	if err != nil {
		return errors.WrapDatabaseError(ctx, err, "delete "+s.Name)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return record.ErrNotFound.WithContext("model", s.Name).WithContext("id", id.Interface())
	}
	return nil
}

func (p *Persistence) Load(ctx context.Context, s *record.Schema, id record.Value, only []string) (map[string]record.Value, error) {
	var fields []*record.Field
	if len(only) == 0 {
		fields = s.Fields()
	} else {
		for _, name := range only {
			f, ok := s.Field(name)
			if !ok {
				return nil, record.ErrUnknownField.WithContext("field", name).WithContext("model", s.Name)
			}
			fields = append(fields, f)
		}
	}
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}

	query, err := p.stmts.GetOrLoad("select:"+s.Name+":"+strings.Join(names, ","), func(string) (string, error) {
		table, err := p.table(s)
		if err != nil {
			return "", err
		}
		idCol, err := p.column(s.IDField)
		if err != nil {
			return "", err
		}
		cols := []string{idCol}
		for _, n := range names {
			col, err := p.column(n)
			if err != nil {
				return "", err
			}
			cols = append(cols, col)
		}
		return fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", strings.Join(cols, ", "), table, idCol), nil
	})
	if err != nil {
		return nil, err
	}

	raw := make([]any, len(fields)+1)
	ptrs := make([]any, len(raw))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := p.db.QueryRow(ctx, query, id.Interface()).Scan(ptrs...); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, record.ErrNotFound.WithContext("model", s.Name).WithContext("id", id.Interface())
		}
		return nil, errors.WrapDatabaseError(ctx, err, "load "+s.Name)
	}

	out := make(map[string]record.Value, len(fields))
	for i, f := range fields {
		out[f.Name] = record.TypecastLoad(f, record.Of(raw[i+1]))
	}
	p.logger.Debug(ctx, "record loaded", logging.String("model", s.Name), logging.Int("fields", len(fields)))
	return out, nil
}
