package audit

import (
	"context"

	"audittrail/record"
)

// DescribeFunc 自定义描述钩子，返回空串时使用默认描述
type DescribeFunc func(ctx context.Context, s *Session, rec record.IRecord) (string, error)

// Template 审计记录原型：每次 Push 都从它克隆出新会话
type Template struct {
	// Fields 预置的自定义字段
	Fields map[string]any
	// Describe 保存类会话的描述钩子
	Describe DescribeFunc
}

func (t *Template) newSession() *Session {
	s := &Session{}
	if t != nil {
		s.applyFields(t.Fields)
	}
	return s
}

const (
	templateMetaKey   = "audit.template"
	sessionMetaKey    = "audit.session"
	controllerMetaKey = "audit.controller"
)

// SetTemplate 为单条记录指定原型，优先于 Controller 的原型
func SetTemplate(rec record.IRecord, tpl *Template) {
	if tpl == nil {
		rec.DeleteMeta(templateMetaKey)
		return
	}
	rec.SetMeta(templateMetaKey, tpl)
}

func templateOf(rec record.IRecord) *Template {
	if v, ok := rec.Meta(templateMetaKey); ok {
		if tpl, ok := v.(*Template); ok {
			return tpl
		}
	}
	return nil
}

// SessionOf 返回记录上当前打开的会话
func SessionOf(rec record.IRecord) *Session {
	if v, ok := rec.Meta(sessionMetaKey); ok {
		if s, ok := v.(*Session); ok {
			return s
		}
	}
	return nil
}
