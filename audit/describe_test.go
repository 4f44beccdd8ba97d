package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audittrail/errors"
	"audittrail/record"
)

type label string

func (l label) String() string { return "label:" + string(l) }

func TestDescribe_NewValuesInOrder(t *testing.T) {
	m := record.New(userSchema(), record.NewMemoryPersistence())
	d := Diff{
		{Field: "status", Old: record.String("open"), New: record.String("closed")},
		{Field: "active", Old: record.Bool(false), New: record.Bool(true)},
		{Field: "name", Old: record.String("Bob"), New: record.Null()},
		{Field: "tags", Old: record.Null(), New: record.Opaque([]string{"a", "b"})},
	}
	descr, err := Describe(d, m)
	require.NoError(t, err)
	assert.Equal(t, `status=closed, active=1, name=, tags=["a","b"]`, descr)
}

func TestDescribe_Scalars(t *testing.T) {
	m := record.New(userSchema(), record.NewMemoryPersistence())
	d := Diff{
		{Field: "status", New: record.Int(42)},
		{Field: "slug", New: record.Float(1.5)},
		{Field: "blob", New: record.Opaque(label("x"))},
	}
	descr, err := Describe(d, m)
	require.NoError(t, err)
	assert.Equal(t, "status=42, slug=1.5, blob=label:x", descr)
}

func TestDescribe_Unrepresentable(t *testing.T) {
	m := record.New(userSchema(), record.NewMemoryPersistence())
	d := Diff{
		{Field: "status", New: record.String("ok")},
		{Field: "blob", Old: record.Null(), New: record.Opaque(struct{ A int }{A: 1})},
	}
	descr, err := Describe(d, m)
	require.Error(t, err)
	assert.Empty(t, descr)
	assert.ErrorIs(t, err, ErrUnrepresentableValue)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeUnrepresentable))

	details := errors.DetailsOf(err)
	assert.Equal(t, "blob", details["field"])
	assert.Nil(t, details["from"])
	assert.Equal(t, struct{ A int }{A: 1}, details["to"])
}

func TestDescribe_UnrepresentableOldValue(t *testing.T) {
	m := record.New(userSchema(), record.NewMemoryPersistence())
	d := Diff{{Field: "blob", Old: record.Opaque(make(chan int)), New: record.String("ok")}}
	_, err := Describe(d, m)
	assert.ErrorIs(t, err, ErrUnrepresentableValue)
}

func TestTitleOf(t *testing.T) {
	m := record.New(userSchema(), record.NewMemoryPersistence())
	m.MustSet("name", "Bob")
	title, ok, err := titleOf(m)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Bob", title)

	task := record.New(taskSchema(), record.NewMemoryPersistence())
	_, ok, err = titleOf(task)
	require.NoError(t, err)
	assert.False(t, ok)

	// 标题值无法表示为字符串时报错，不返回空标题
	m.MustSet("name", struct{ First string }{First: "Bob"})
	title, ok, err = titleOf(m)
	assert.True(t, ok)
	assert.Empty(t, title)
	assert.ErrorIs(t, err, ErrUnrepresentableValue)
	assert.Equal(t, "name", errors.DetailsOf(err)["field"])
}
