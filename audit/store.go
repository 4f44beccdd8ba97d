package audit

import (
	"context"

	"audittrail/record"
)

// IStore 审计记录的持久化后端
type IStore interface {
	// Append 写入新记录并回填 s.ID
	Append(ctx context.Context, s *Session) error
	// Update 按 s.ID 覆盖已写入的记录
	Update(ctx context.Context, s *Session) error
	// ListByTarget 按写入顺序返回某条业务记录的审计记录；id 为 Null 时返回该模型的全部记录
	ListByTarget(ctx context.Context, model string, id record.Value) ([]*Session, error)
}
