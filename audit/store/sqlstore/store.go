// Package sqlstore 基于通用 SQL 接口的审计存储
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"audittrail/audit"
	core "audittrail/data/db"
	"audittrail/data/db/dialect"
	"audittrail/errors"
	"audittrail/logging"
	"audittrail/record"
)

const defaultTable = "audit_log"

// Config SQL 审计存储配置
type Config struct {
	// Table 表名，默认 audit_log，可带 schema 前缀
	Table string `yaml:"table"`
}

// Store 审计记录写入 SQL 表，自定义字段以 JSON 存在 extra 列
type Store struct {
	db      core.IDatabase
	dialect dialect.Dialect
	table   string
	logger  logging.Logger
}

var _ audit.IStore = (*Store)(nil)

// New 创建 SQL 审计存储
func New(db core.IDatabase, cfg Config) (*Store, error) {
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	if !dialect.IsSafeIdentifier(table) {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "invalid audit table name").WithContext("table", table)
	}
	d := dialect.FromDatabase(db)
	return &Store{
		db:      db,
		dialect: d,
		table:   d.QuoteIdentifier(table),
		logger:  logging.ComponentLogger("audit.sqlstore"),
	}, nil
}

// WithDB 返回绑定到另一连接（通常是业务事务）的副本，使审计写入与变更处于同一事务
func (s *Store) WithDB(db core.IDatabase) *Store {
	cp := *s
	cp.db = db
	return &cp
}

// EnsureSchema 创建审计表（已存在时跳过）
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id %s,
    ts VARCHAR(40) NOT NULL,
    model VARCHAR(255) NOT NULL,
    model_id TEXT,
    action VARCHAR(64) NOT NULL,
    descr TEXT NOT NULL,
    request_diff TEXT NOT NULL,
    reactive_diff TEXT NOT NULL,
    initiator_audit_log_id BIGINT,
    time_taken DOUBLE PRECISION,
    failed INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    extra TEXT NOT NULL
)`, s.table, s.dialect.AutoIncrementPK())
	if _, err := s.db.Exec(ctx, ddl); err != nil {
		return errors.WrapDatabaseError(ctx, err, "create audit table")
	}
	return nil
}

type row struct {
	ts        string
	modelID   sql.NullString
	request   string
	reactive  string
	initiator sql.NullInt64
	timeTaken sql.NullFloat64
	failed    int
	errText   sql.NullString
	extra     string
}

func encodeRow(sess *audit.Session) (row, error) {
	var r row
	r.ts = sess.Timestamp.UTC().Format(time.RFC3339Nano)
	if !sess.ModelID.IsNull() {
		id, err := encodeID(sess.ModelID)
		if err != nil {
			return r, err
		}
		r.modelID = sql.NullString{String: id, Valid: true}
	}
	req, err := json.Marshal(sess.RequestDiff)
	if err != nil {
		return r, err
	}
	reactive, err := json.Marshal(sess.ReactiveDiff)
	if err != nil {
		return r, err
	}
	r.request, r.reactive = string(req), string(reactive)
	if sess.InitiatorID != nil {
		r.initiator = sql.NullInt64{Int64: *sess.InitiatorID, Valid: true}
	}
	if sess.TimeTaken != nil {
		r.timeTaken = sql.NullFloat64{Float64: sess.TimeTaken.Seconds(), Valid: true}
	}
	if sess.Failed {
		r.failed = 1
		r.errText = sql.NullString{String: sess.Error, Valid: true}
	}
	extra := make(map[string]any, len(sess.Fields))
	for k, v := range sess.Fields {
		if !audit.IsReservedKey(k) {
			extra[k] = v
		}
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return r, err
	}
	r.extra = string(data)
	return r, nil
}

// encodeID 主键以 JSON 文本存储，兼容整数与字符串主键
func encodeID(v record.Value) (string, error) {
	data, err := json.Marshal(record.CanonicalID(v))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

const columns = "ts, model, model_id, action, descr, request_diff, reactive_diff, initiator_audit_log_id, time_taken, failed, error, extra"

func (s *Store) Append(ctx context.Context, sess *audit.Session) error {
	r, err := encodeRow(sess)
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeInternal, "encode audit entry")
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", s.table, columns)
	args := []any{r.ts, sess.Model, r.modelID, sess.Action, sess.Description, r.request, r.reactive,
		r.initiator, r.timeTaken, r.failed, r.errText, r.extra}

	id, err := s.insert(ctx, query, args)
	if err != nil {
		return err
	}
	sess.ID = id
	s.logger.Debug(ctx, "audit entry appended", logging.Int64("audit_id", id), logging.String("model", sess.Model))
	return nil
}

// insert 执行插入并取回主键：不支持 LastInsertId 的方言使用 RETURNING
func (s *Store) insert(ctx context.Context, query string, args []any) (int64, error) {
	if !s.dialect.SupportsLastInsertID() {
		var id int64
		if err := s.db.QueryRow(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
			return 0, errors.WrapDatabaseError(ctx, err, "insert audit entry")
		}
		return id, nil
	}
	res, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, errors.WrapDatabaseError(ctx, err, "insert audit entry")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.WrapDatabaseError(ctx, err, "read audit entry id")
	}
	return id, nil
}

func (s *Store) Update(ctx context.Context, sess *audit.Session) error {
	r, err := encodeRow(sess)
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeInternal, "encode audit entry")
	}
	sets := strings.Split(columns, ", ")
	for i, c := range sets {
		sets[i] = c + " = ?"
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", s.table, strings.Join(sets, ", "))
	res, err := s.db.Exec(ctx, query, r.ts, sess.Model, r.modelID, sess.Action, sess.Description, r.request,
		r.reactive, r.initiator, r.timeTaken, r.failed, r.errText, r.extra, sess.ID)
	if err != nil {
		return errors.WrapDatabaseError(ctx, err, "update audit entry")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.NewError(errors.ErrCodeNotFound, "audit entry not found").WithContext("id", sess.ID)
	}
	return nil
}

func (s *Store) ListByTarget(ctx context.Context, model string, id record.Value) ([]*audit.Session, error) {
	query := fmt.Sprintf("SELECT id, %s FROM %s WHERE model = ?", columns, s.table)
	args := []any{model}
	if !id.IsNull() {
		enc, err := encodeID(id)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "encode model id")
		}
		query += " AND model_id = ?"
		args = append(args, enc)
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "list audit entries")
	}
	defer rows.Close()

	var out []*audit.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "iterate audit entries")
	}
	return out, nil
}

func scanSession(rows core.IRows) (*audit.Session, error) {
	var (
		sess audit.Session
		r    row
	)
	if err := rows.Scan(&sess.ID, &r.ts, &sess.Model, &r.modelID, &sess.Action, &sess.Description,
		&r.request, &r.reactive, &r.initiator, &r.timeTaken, &r.failed, &r.errText, &r.extra); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDatabase, "scan audit entry")
	}
	ts, err := time.Parse(time.RFC3339Nano, r.ts)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDatabase, "parse audit timestamp")
	}
	sess.Timestamp = ts
	if r.modelID.Valid {
		if err := json.Unmarshal([]byte(r.modelID.String), &sess.ModelID); err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeDatabase, "decode model id")
		}
	}
	if err := json.Unmarshal([]byte(r.request), &sess.RequestDiff); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDatabase, "decode request diff")
	}
	if err := json.Unmarshal([]byte(r.reactive), &sess.ReactiveDiff); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDatabase, "decode reactive diff")
	}
	if r.initiator.Valid {
		id := r.initiator.Int64
		sess.InitiatorID = &id
	}
	if r.timeTaken.Valid {
		d := time.Duration(r.timeTaken.Float64 * float64(time.Second))
		sess.TimeTaken = &d
	}
	sess.Failed = r.failed != 0
	sess.Error = r.errText.String

	var extra map[string]record.Value
	if err := json.Unmarshal([]byte(r.extra), &extra); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDatabase, "decode extra fields")
	}
	for k, v := range extra {
		sess.SetField(k, v.Interface())
	}
	return &sess, nil
}
