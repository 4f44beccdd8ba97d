package record

import (
	"context"
	"sort"
)

// Operation 变更操作类型
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// IMutationObserver 记录变更的前后钩子。
// 任一钩子返回错误都会中止本次变更，并把错误原样返回给调用方。
type IMutationObserver interface {
	BeforeSave(ctx context.Context, rec IRecord) error
	AfterSave(ctx context.Context, rec IRecord) error
	BeforeDelete(ctx context.Context, rec IRecord) error
	AfterDelete(ctx context.Context, rec IRecord) error
}

// IFailureObserver 可选：变更在 before 钩子开始之后失败时得到通知
type IFailureObserver interface {
	MutationFailed(ctx context.Context, rec IRecord, op Operation, cause error)
}

// IObservable 可挂载观察者的记录
type IObservable interface {
	AddObserver(o IMutationObserver, opts ...ObserverOption)
}

// ObserverOption 观察者注册选项
type ObserverOption func(*observerEntry)

// WithBeforePriority before 钩子优先级，数值越小越先执行，默认 0
func WithBeforePriority(p int) ObserverOption {
	return func(e *observerEntry) { e.before = p }
}

// WithAfterPriority after 钩子优先级，数值越小越先执行，默认 0
func WithAfterPriority(p int) ObserverOption {
	return func(e *observerEntry) { e.after = p }
}

type observerEntry struct {
	observer IMutationObserver
	before   int
	after    int
	seq      int
}

type observerList []*observerEntry

func (l observerList) ordered(after bool) []*observerEntry {
	out := make([]*observerEntry, len(l))
	copy(out, l)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].before, out[j].before
		if after {
			pi, pj = out[i].after, out[j].after
		}
		if pi != pj {
			return pi < pj
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// ObserverFuncs 以函数形式实现 IMutationObserver，未设置的钩子视为空操作
type ObserverFuncs struct {
	OnBeforeSave   func(ctx context.Context, rec IRecord) error
	OnAfterSave    func(ctx context.Context, rec IRecord) error
	OnBeforeDelete func(ctx context.Context, rec IRecord) error
	OnAfterDelete  func(ctx context.Context, rec IRecord) error
}

func (f ObserverFuncs) BeforeSave(ctx context.Context, rec IRecord) error {
	if f.OnBeforeSave == nil {
		return nil
	}
	return f.OnBeforeSave(ctx, rec)
}

func (f ObserverFuncs) AfterSave(ctx context.Context, rec IRecord) error {
	if f.OnAfterSave == nil {
		return nil
	}
	return f.OnAfterSave(ctx, rec)
}

func (f ObserverFuncs) BeforeDelete(ctx context.Context, rec IRecord) error {
	if f.OnBeforeDelete == nil {
		return nil
	}
	return f.OnBeforeDelete(ctx, rec)
}

func (f ObserverFuncs) AfterDelete(ctx context.Context, rec IRecord) error {
	if f.OnAfterDelete == nil {
		return nil
	}
	return f.OnAfterDelete(ctx, rec)
}
