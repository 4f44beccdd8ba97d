package record

import (
	"context"
	stdErrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audittrail/errors"
)

func userSchema() *Schema {
	return NewSchema("user", WithFields(
		&Field{Name: "name"},
		&Field{Name: "status"},
		&Field{Name: "password", NoAudit: true},
	))
}

type recordingObserver struct {
	name   string
	calls  *[]string
	failed []error
}

func (o *recordingObserver) BeforeSave(ctx context.Context, rec IRecord) error {
	*o.calls = append(*o.calls, o.name+".beforeSave")
	return nil
}

func (o *recordingObserver) AfterSave(ctx context.Context, rec IRecord) error {
	*o.calls = append(*o.calls, o.name+".afterSave")
	return nil
}

func (o *recordingObserver) BeforeDelete(ctx context.Context, rec IRecord) error {
	*o.calls = append(*o.calls, o.name+".beforeDelete")
	return nil
}

func (o *recordingObserver) AfterDelete(ctx context.Context, rec IRecord) error {
	*o.calls = append(*o.calls, o.name+".afterDelete")
	return nil
}

func (o *recordingObserver) MutationFailed(ctx context.Context, rec IRecord, op Operation, cause error) {
	o.failed = append(o.failed, cause)
}

// TestModel_DirtyTracking 测试脏字段顺序与原值
func TestModel_DirtyTracking(t *testing.T) {
	m := New(userSchema(), NewMemoryPersistence())

	require.NoError(t, m.Set("status", "open"))
	require.NoError(t, m.Set("name", "Bob"))
	assert.Equal(t, []string{"status", "name"}, m.DirtyFields())

	orig, ok := m.Original("name")
	require.True(t, ok)
	assert.True(t, orig.IsNull())

	// 设置相同值不产生脏字段
	require.NoError(t, m.Save(context.Background()))
	require.NoError(t, m.Set("name", "Bob"))
	assert.Empty(t, m.DirtyFields())

	// 改回原值后不再是脏字段
	require.NoError(t, m.Set("name", "Alice"))
	require.NoError(t, m.Set("name", "Bob"))
	assert.Empty(t, m.DirtyFields())

	err := m.Set("missing", 1)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeUnknownField))
}

// TestModel_SaveLoadDelete 测试基本持久化流程
func TestModel_SaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPersistence()
	m := New(userSchema(), p)
	m.MustSet("name", "Bob").MustSet("status", "open")

	require.NoError(t, m.Save(ctx))
	assert.True(t, m.Loaded())
	assert.True(t, m.ID().Equal(Int(1)))
	assert.Empty(t, m.DirtyFields())

	loaded := New(userSchema(), p)
	require.NoError(t, loaded.Load(ctx, 1))
	assert.Equal(t, "open", loaded.Get("status").Str())
	assert.Equal(t, []FieldValue{{"name", String("Bob")}, {"status", String("open")}}, loaded.Snapshot())

	loaded.MustSet("status", "closed")
	require.NoError(t, loaded.Save(ctx))

	partial := New(userSchema(), p).WithOnlyFields("status")
	require.NoError(t, partial.Load(ctx, 1))
	assert.Equal(t, []string{"status"}, partial.OnlyFields())
	assert.True(t, partial.Get("name").IsNull())

	full, err := partial.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Bob", full.Get("name").Str())
	assert.Equal(t, "closed", full.Get("status").Str())

	require.NoError(t, partial.Delete(ctx))
	assert.False(t, partial.Loaded())
	assert.Equal(t, 0, p.Count("user"))

	err = New(userSchema(), p).Load(ctx, 1)
	assert.True(t, errors.IsNotFound(err))
	assert.True(t, stdErrors.Is(New(userSchema(), p).Delete(ctx), ErrNotLoaded))
}

// TestModel_ObserverPriority 钩子按优先级升序执行
func TestModel_ObserverPriority(t *testing.T) {
	ctx := context.Background()
	var calls []string
	m := New(userSchema(), NewMemoryPersistence())

	m.AddObserver(&recordingObserver{name: "plain", calls: &calls})
	m.AddObserver(&recordingObserver{name: "audit", calls: &calls},
		WithBeforePriority(-100), WithAfterPriority(100))

	m.MustSet("name", "Bob")
	require.NoError(t, m.Save(ctx))
	require.NoError(t, m.Delete(ctx))

	assert.Equal(t, []string{
		"audit.beforeSave", "plain.beforeSave",
		"plain.afterSave", "audit.afterSave",
		"audit.beforeDelete", "plain.beforeDelete",
		"plain.afterDelete", "audit.afterDelete",
	}, calls)
}

// TestModel_DirtyVisibleInAfterSave after 钩子仍能看到脏字段
func TestModel_DirtyVisibleInAfterSave(t *testing.T) {
	ctx := context.Background()
	m := New(userSchema(), NewMemoryPersistence())
	var seen []string
	m.AddObserver(ObserverFuncs{OnAfterSave: func(ctx context.Context, rec IRecord) error {
		seen = rec.DirtyFields()
		return nil
	}})

	m.MustSet("name", "Bob")
	require.NoError(t, m.Save(ctx))
	assert.Equal(t, []string{"name"}, seen)
	assert.Empty(t, m.DirtyFields())
}

// TestModel_FailureNotification 变更失败时通知失败观察者
func TestModel_FailureNotification(t *testing.T) {
	ctx := context.Background()
	var calls []string
	boom := stdErrors.New("boom")
	obs := &recordingObserver{name: "audit", calls: &calls}

	m := New(userSchema(), NewMemoryPersistence())
	m.AddObserver(obs)
	m.AddObserver(ObserverFuncs{OnAfterSave: func(ctx context.Context, rec IRecord) error { return boom }})

	m.MustSet("name", "Bob")
	err := m.Save(ctx)
	assert.ErrorIs(t, err, boom)
	require.Len(t, obs.failed, 1)
	assert.ErrorIs(t, obs.failed[0], boom)
	assert.Equal(t, []string{"name"}, m.DirtyFields())
}

// TestModel_Meta 测试附加信息
func TestModel_Meta(t *testing.T) {
	m := New(userSchema(), NewMemoryPersistence())
	m.SetMeta("k", 1)
	v, ok := m.Meta("k")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	m.DeleteMeta("k")
	_, ok = m.Meta("k")
	assert.False(t, ok)
	assert.Equal(t, "user#new", m.String())
}
