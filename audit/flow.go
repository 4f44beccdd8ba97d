package audit

import (
	"context"

	"github.com/google/uuid"
)

type flowKey struct{}

// defaultFlow 未调用 WithFlow 的上下文共用的流程
const defaultFlow = ""

// WithFlow 为上下文分配独立的执行流程。
// 同一个 Controller 被并发使用时，每个并发的顶层变更都应在自己的流程中执行，
// 各流程拥有独立的会话栈与一次性覆盖设置。
func WithFlow(ctx context.Context) context.Context {
	return context.WithValue(ctx, flowKey{}, uuid.NewString())
}

// FlowID 返回上下文所属流程，未分配时为空串
func FlowID(ctx context.Context) string {
	if ctx == nil {
		return defaultFlow
	}
	if id, ok := ctx.Value(flowKey{}).(string); ok {
		return id
	}
	return defaultFlow
}

type flowState struct {
	stack  *Stack
	action string
	fields map[string]any
}

func (f *flowState) idle() bool {
	return f.stack.Len() == 0 && f.action == "" && f.fields == nil
}
