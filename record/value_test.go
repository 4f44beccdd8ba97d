package record

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type (
	status   string
	level    int
	port     uint16
	ratio    float64
	flag     bool
	priority int
)

func (p priority) String() string { return "P" + string(rune('0'+int(p))) }

// TestOf 测试 Go 值到封闭种类的映射
func TestOf(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	expr := &Expression{SQL: "NOW()"}

	tests := []struct {
		name string
		in   any
		want Kind
	}{
		{"nil", nil, KindNull},
		{"string", "Bob", KindString},
		{"int", 42, KindInt},
		{"int32", int32(7), KindInt},
		{"float", 1.5, KindFloat},
		{"bool", true, KindBool},
		{"time", now, KindTime},
		{"nil time ptr", (*time.Time)(nil), KindNull},
		{"expression", expr, KindExpr},
		{"slice", []string{"a"}, KindOpaque},
		{"value passthrough", Int(3), KindInt},
		{"uint", uint(3), KindInt},
		{"uint64", uint64(7), KindInt},
		{"uintptr", uintptr(9), KindInt},
		{"uint64 above int64", uint64(math.MaxUint64), KindString},
		{"named string", status("open"), KindString},
		{"named int", level(2), KindInt},
		{"named uint", port(8080), KindInt},
		{"named float", ratio(0.5), KindFloat},
		{"named bool", flag(true), KindBool},
		{"named stringer", priority(1), KindOpaque},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Of(tt.in).Kind())
		})
	}
	assert.Equal(t, String("open"), Of(status("open")))
	assert.Equal(t, Int(7), Of(uint64(7)))
	assert.Equal(t, Int(8080), Of(port(8080)))
	assert.Equal(t, String("18446744073709551615"), Of(uint64(math.MaxUint64)), "超出 int64 的无符号数按十进制字符串保存")
	assert.Equal(t, Int(math.MaxInt64), Of(uint64(math.MaxInt64)))
	assert.Same(t, expr, Of(expr).Expression())
	assert.Nil(t, String("x").Expression())
}

// TestValue_Equal 严格相等：种类不同即不相等
func TestValue_Equal(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	assert.True(t, Null().Equal(Value{}))
	assert.True(t, String("a").Equal(String("a")))
	assert.False(t, String("1").Equal(Int(1)))
	assert.False(t, Int(1).Equal(Bool(true)))
	assert.True(t, Time(ts).Equal(Time(ts.In(time.FixedZone("X", 3600)))))
	assert.True(t, Opaque([]int{1, 2}).Equal(Opaque([]int{1, 2})))
	assert.False(t, Opaque([]int{1}).Equal(Opaque([]int{2})))

	e := &Expression{SQL: "a+1"}
	assert.True(t, Expr(e).Equal(Expr(e)))
	assert.False(t, Expr(e).Equal(Expr(&Expression{SQL: "a+1"})))
}

// TestValue_JSON 测试 JSON 编解码
func TestValue_JSON(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	in := []Value{Null(), String("Bob"), Int(42), Float(1.5), Bool(true), Time(ts), Expr(&Expression{SQL: "x"})}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `[null,"Bob",42,1.5,true,"2024-05-01T10:00:00Z",null]`, string(data))

	var out []Value
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out, 7)
	assert.True(t, out[2].Equal(Int(42)))
	assert.True(t, out[3].Equal(Float(1.5)))
	assert.True(t, out[4].Equal(Bool(true)))
	assert.Equal(t, KindString, out[5].Kind())
	assert.True(t, out[6].IsNull())
}

// TestValue_JSONFloatKeepsKind 整数值的浮点数编解码后仍为 KindFloat
func TestValue_JSONFloatKeepsKind(t *testing.T) {
	tests := []struct {
		in   Value
		json string
	}{
		{Float(2), `2.0`},
		{Float(-3), `-3.0`},
		{Float(0), `0.0`},
		{Float(1.5), `1.5`},
		{Float(1e21), `1e+21`},
		{Int(2), `2`},
	}
	for _, tt := range tests {
		data, err := json.Marshal(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.json, string(data))

		var out Value
		require.NoError(t, json.Unmarshal(data, &out))
		assert.True(t, out.Equal(tt.in), "%s round-trips as %#v", tt.json, out)
	}
}

func TestCanonicalID(t *testing.T) {
	assert.Equal(t, Int(2), CanonicalID(Float(2)))
	assert.Equal(t, Float(2.5), CanonicalID(Float(2.5)))
	assert.Equal(t, String("a"), CanonicalID(String("a")))
	assert.Equal(t, Int(7), CanonicalID(Int(7)))
}
