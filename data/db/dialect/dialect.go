// Package dialect 描述不同数据库在审计存储中用到的语法差异。
package dialect

import (
	"strconv"
	"strings"

	core "audittrail/data/db"
)

// Name 标准化的数据库方言名称
type Name string

const (
	NameMySQL    Name = "mysql"
	NameSQLite   Name = "sqlite"
	NamePostgres Name = "postgres"
	NameUnknown  Name = ""
)

// Dialect 当前数据库的方言能力
type Dialect struct {
	name Name
}

// New 根据字符串构造方言（大小写不敏感）
func New(name string) Dialect {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql":
		return Dialect{name: NameMySQL}
	case "sqlite", "sqlite3":
		return Dialect{name: NameSQLite}
	case "postgres", "postgresql", "pgx":
		return Dialect{name: NamePostgres}
	default:
		return Dialect{name: NameUnknown}
	}
}

// FromDatabase 从 IDatabase 推断方言，未实现 IDialectNameProvider 时返回 Unknown
func FromDatabase(db core.IDatabase) Dialect {
	if p, ok := db.(core.IDialectNameProvider); ok {
		return New(p.GetDialectName())
	}
	return Dialect{name: NameUnknown}
}

func (d Dialect) Name() Name { return d.name }

// QuoteIdentifier 按方言给标识符加引号，支持 schema.table 形式
func (d Dialect) QuoteIdentifier(name string) string {
	if name == "" {
		return ""
	}
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if p == "" {
			continue
		}
		switch d.name {
		case NameMySQL:
			parts[i] = "`" + p + "`"
		case NameSQLite, NamePostgres:
			parts[i] = `"` + p + `"`
		}
	}
	return strings.Join(parts, ".")
}

// Rebind 将占位符 ? 转换为方言形式，目前只有 Postgres 需要改写为 $n。
// 不解析字符串字面量，SQL 中请勿在字面量里使用 ?。
func (d Dialect) Rebind(query string) string {
	if query == "" || d.name != NamePostgres {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 4)
	argIndex := 1
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if ch == '?' {
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(argIndex))
			argIndex++
			continue
		}
		sb.WriteByte(ch)
	}
	return sb.String()
}

// SupportsLastInsertID 驱动是否支持 sql.Result.LastInsertId；
// 不支持时插入语句需要使用 RETURNING 取回主键。
func (d Dialect) SupportsLastInsertID() bool {
	switch d.name {
	case NameMySQL, NameSQLite:
		return true
	default:
		return false
	}
}

// AutoIncrementPK 主键列定义
func (d Dialect) AutoIncrementPK() string {
	switch d.name {
	case NamePostgres:
		return "BIGSERIAL PRIMARY KEY"
	case NameMySQL:
		return "BIGINT AUTO_INCREMENT PRIMARY KEY"
	default:
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
}

// IsSafeIdentifier 判断标识符（可带点限定）是否只包含 [A-Za-z0-9_] 且不以数字开头
func IsSafeIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for _, part := range strings.Split(name, ".") {
		if part == "" {
			return false
		}
		for i := 0; i < len(part); i++ {
			c := part[i]
			switch {
			case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
			case c >= '0' && c <= '9' && i > 0:
			default:
				return false
			}
		}
	}
	return true
}
