package record

import (
	"context"
	"fmt"

	"audittrail/errors"
)

var (
	ErrNotFound     = errors.NewError(errors.ErrCodeNotFound, "record not found")
	ErrNotLoaded    = errors.NewError(errors.ErrCodeNotLoaded, "record is not loaded")
	ErrUnknownField = errors.NewError(errors.ErrCodeUnknownField, "unknown field")
)

// FieldValue 快照中的一项
type FieldValue struct {
	Field string
	Value Value
}

// IRecord 审计核心所消费的记录能力：身份、脏字段及原值、完整快照、
// 模式查询、取值转换，以及挂载在记录上的附加信息。
type IRecord interface {
	Schema() *Schema
	ID() Value
	Loaded() bool
	Get(field string) Value

	// DirtyFields 按变脏的先后顺序返回字段名
	DirtyFields() []string
	// Original 返回脏字段加载/创建时的原值
	Original(field string) (Value, bool)
	// Snapshot 返回当前已加载字段的完整快照（模式声明顺序，不含主键）
	Snapshot() []FieldValue
	// OnlyFields 非空时表示记录只加载了部分字段
	OnlyFields() []string
	// Reload 按主键重新加载完整记录，返回新实例
	Reload(ctx context.Context) (IRecord, error)
	// Typecast 将值转换为存储形式
	Typecast(f *Field, v Value) Value

	Meta(key string) (any, bool)
	SetMeta(key string, value any)
	DeleteMeta(key string)
}

// Model 基于 map 的记录实现，带脏字段追踪与变更钩子
type Model struct {
	schema      *Schema
	persistence IPersistence

	id         Value
	data       map[string]Value
	original   map[string]Value
	dirtyOrder []string
	onlyFields []string

	observers observerList
	seq       int
	meta      map[string]any
}

var (
	_ IRecord     = (*Model)(nil)
	_ IObservable = (*Model)(nil)
)

// New 创建一条空记录
func New(schema *Schema, persistence IPersistence) *Model {
	return &Model{
		schema:      schema,
		persistence: persistence,
		data:        make(map[string]Value),
		original:    make(map[string]Value),
		meta:        make(map[string]any),
	}
}

// NewInstance 创建同模式、同持久化层的空记录（不复制观察者与附加信息）
func (m *Model) NewInstance() *Model {
	return New(m.schema, m.persistence)
}

func (m *Model) Schema() *Schema { return m.schema }
func (m *Model) ID() Value       { return m.id }
func (m *Model) Loaded() bool    { return !m.id.IsNull() }

// Get 返回字段当前值，未设置时为 Null
func (m *Model) Get(field string) Value {
	if field == m.schema.IDField {
		return m.id
	}
	return m.data[field]
}

// Set 设置字段值。设回原值时字段不再视为脏字段。
func (m *Model) Set(field string, v any) error {
	if !m.schema.HasField(field) {
		return ErrUnknownField.WithContext("field", field).WithContext("model", m.schema.Name)
	}
	val := Of(v)
	if orig, dirty := m.original[field]; dirty {
		if orig.Equal(val) {
			delete(m.original, field)
			m.dropDirty(field)
		}
		m.data[field] = val
		return nil
	}
	current := m.data[field]
	if current.Equal(val) {
		return nil
	}
	m.original[field] = current
	m.dirtyOrder = append(m.dirtyOrder, field)
	m.data[field] = val
	return nil
}

// MustSet Set 的便捷版本，字段不存在时 panic（用于测试与示例）
func (m *Model) MustSet(field string, v any) *Model {
	if err := m.Set(field, v); err != nil {
		panic(err)
	}
	return m
}

func (m *Model) dropDirty(field string) {
	for i, f := range m.dirtyOrder {
		if f == field {
			m.dirtyOrder = append(m.dirtyOrder[:i], m.dirtyOrder[i+1:]...)
			return
		}
	}
}

func (m *Model) DirtyFields() []string {
	out := make([]string, len(m.dirtyOrder))
	copy(out, m.dirtyOrder)
	return out
}

func (m *Model) Original(field string) (Value, bool) {
	v, ok := m.original[field]
	return v, ok
}

func (m *Model) Snapshot() []FieldValue {
	out := make([]FieldValue, 0, len(m.data))
	for _, f := range m.schema.fields {
		if v, ok := m.data[f.Name]; ok {
			out = append(out, FieldValue{Field: f.Name, Value: v})
		}
	}
	return out
}

// WithOnlyFields 限制下一次 Load 只加载指定字段
func (m *Model) WithOnlyFields(fields ...string) *Model {
	m.onlyFields = append([]string(nil), fields...)
	return m
}

func (m *Model) OnlyFields() []string {
	return append([]string(nil), m.onlyFields...)
}

// Load 按主键加载记录，清空脏字段
func (m *Model) Load(ctx context.Context, id any) error {
	idv := Of(id)
	row, err := m.persistence.Load(ctx, m.schema, idv, m.onlyFields)
	if err != nil {
		return err
	}
	m.id = idv
	m.data = make(map[string]Value, len(row))
	for k, v := range row {
		if m.schema.HasField(k) {
			m.data[k] = v
		}
	}
	m.resetDirty()
	return nil
}

func (m *Model) Reload(ctx context.Context) (IRecord, error) {
	if !m.Loaded() {
		return nil, ErrNotLoaded.WithContext("model", m.schema.Name)
	}
	fresh := m.NewInstance()
	if err := fresh.Load(ctx, m.id); err != nil {
		return nil, err
	}
	return fresh, nil
}

func (m *Model) Typecast(f *Field, v Value) Value {
	if tc, ok := m.persistence.(ITypecaster); ok {
		return tc.TypecastSave(f, v)
	}
	return TypecastSave(f, v)
}

func (m *Model) Meta(key string) (any, bool) {
	v, ok := m.meta[key]
	return v, ok
}

func (m *Model) SetMeta(key string, value any) { m.meta[key] = value }
func (m *Model) DeleteMeta(key string)         { delete(m.meta, key) }

// AddObserver 注册变更观察者
func (m *Model) AddObserver(o IMutationObserver, opts ...ObserverOption) {
	if o == nil {
		return
	}
	m.seq++
	entry := &observerEntry{observer: o, seq: m.seq}
	for _, opt := range opts {
		if opt != nil {
			opt(entry)
		}
	}
	m.observers = append(m.observers, entry)
}

// Save 插入或更新记录。
// 流程：before 钩子 -> 持久化 -> after 钩子 -> 清空脏字段；
// after 钩子执行期间脏字段仍然可见。
func (m *Model) Save(ctx context.Context) error {
	op := OpInsert
	if m.Loaded() {
		op = OpUpdate
	}

	for _, e := range m.observers.ordered(false) {
		if err := e.observer.BeforeSave(ctx, m); err != nil {
			return m.fail(ctx, op, err)
		}
	}

	if op == OpUpdate {
		if len(m.dirtyOrder) > 0 {
			changed := make(map[string]Value, len(m.dirtyOrder))
			for _, f := range m.dirtyOrder {
				changed[f] = m.data[f]
			}
			if err := m.persistence.Update(ctx, m.schema, m.id, changed); err != nil {
				return m.fail(ctx, op, err)
			}
		}
	} else {
		id, err := m.persistence.Insert(ctx, m.schema, m.cloneData())
		if err != nil {
			return m.fail(ctx, op, err)
		}
		m.id = id
	}

	for _, e := range m.observers.ordered(true) {
		if err := e.observer.AfterSave(ctx, m); err != nil {
			return m.fail(ctx, op, err)
		}
	}
	m.resetDirty()
	return nil
}

// Delete 删除已加载的记录，成功后记录回到未加载状态
func (m *Model) Delete(ctx context.Context) error {
	if !m.Loaded() {
		return ErrNotLoaded.WithContext("model", m.schema.Name)
	}
	for _, e := range m.observers.ordered(false) {
		if err := e.observer.BeforeDelete(ctx, m); err != nil {
			return m.fail(ctx, OpDelete, err)
		}
	}
	if err := m.persistence.Delete(ctx, m.schema, m.id); err != nil {
		return m.fail(ctx, OpDelete, err)
	}
	for _, e := range m.observers.ordered(true) {
		if err := e.observer.AfterDelete(ctx, m); err != nil {
			return m.fail(ctx, OpDelete, err)
		}
	}
	m.id = Null()
	m.data = make(map[string]Value)
	m.resetDirty()
	return nil
}

func (m *Model) fail(ctx context.Context, op Operation, cause error) error {
	for _, e := range m.observers.ordered(true) {
		if fo, ok := e.observer.(IFailureObserver); ok {
			fo.MutationFailed(ctx, m, op, cause)
		}
	}
	return cause
}

func (m *Model) resetDirty() {
	m.original = make(map[string]Value)
	m.dirtyOrder = nil
}

func (m *Model) cloneData() map[string]Value {
	out := make(map[string]Value, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out
}

// String 便于日志输出
func (m *Model) String() string {
	if !m.Loaded() {
		return m.schema.Name + "#new"
	}
	return fmt.Sprintf("%s#%v", m.schema.Name, m.id.Interface())
}
