// Package record 提供审计所依赖的宿主记录抽象：字段值、模式、脏字段追踪与变更钩子。
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"
)

// Kind 字段值的种类（封闭集合）
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindTime
	// KindExpr 尚未求值的表达式，可能递归，无法安全序列化
	KindExpr
	// KindOpaque 其余 Go 值（切片、map、自定义结构等）
	KindOpaque
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindExpr:
		return "expr"
	case KindOpaque:
		return "opaque"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Expression 延迟计算的表达式（例如 SQL 片段），只在持久化层求值
type Expression struct {
	SQL  string
	Args []any
}

// Value 字段值。零值即 Null。
type Value struct {
	kind Kind
	str  string
	num  int64
	flt  float64
	tm   time.Time
	ref  any
}

func Null() Value              { return Value{} }
func String(s string) Value    { return Value{kind: KindString, str: s} }
func Int(i int64) Value        { return Value{kind: KindInt, num: i} }
func Float(f float64) Value    { return Value{kind: KindFloat, flt: f} }
func Time(t time.Time) Value   { return Value{kind: KindTime, tm: t} }
func Expr(e *Expression) Value { return Value{kind: KindExpr, ref: e} }
func Opaque(v any) Value       { return Value{kind: KindOpaque, ref: v} }

func Bool(b bool) Value {
	if b {
		return Value{kind: KindBool, num: 1}
	}
	return Value{kind: KindBool}
}

// Of 将常见 Go 值映射到封闭的 Kind 集合
func Of(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case string:
		return String(x)
	case int:
		return Int(int64(x))
	case int8:
		return Int(int64(x))
	case int16:
		return Int(int64(x))
	case int32:
		return Int(int64(x))
	case int64:
		return Int(x)
	case uint8:
		return Int(int64(x))
	case uint16:
		return Int(int64(x))
	case uint32:
		return Int(int64(x))
	case uint:
		return fromUint(uint64(x))
	case uint64:
		return fromUint(x)
	case uintptr:
		return fromUint(uint64(x))
	case float32:
		return Float(float64(x))
	case float64:
		return Float(x)
	case bool:
		return Bool(x)
	case time.Time:
		return Time(x)
	case *time.Time:
		if x == nil {
			return Null()
		}
		return Time(*x)
	case *Expression:
		if x == nil {
			return Null()
		}
		return Expr(x)
	case []byte:
		if x == nil {
			return Null()
		}
		return String(string(x))
	default:
		return ofKind(v)
	}
}

// fromUint 超过 int64 上限的无符号数以十进制字符串保存，保证数值不丢失
func fromUint(u uint64) Value {
	if u > math.MaxInt64 {
		return String(strconv.FormatUint(u, 10))
	}
	return Int(int64(u))
}

// ofKind 按底层种类映射具名标量类型（如 type Status string）；
// 实现了 fmt.Stringer 的值保持 Opaque，以其 String() 作为展示形式
func ofKind(v any) Value {
	if _, ok := v.(fmt.Stringer); ok {
		return Opaque(v)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return String(rv.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return fromUint(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float())
	case reflect.Bool:
		return Bool(rv.Bool())
	default:
		return Opaque(v)
	}
}

func (v Value) Kind() Kind      { return v.kind }
func (v Value) IsNull() bool    { return v.kind == KindNull }
func (v Value) IsExpr() bool    { return v.kind == KindExpr }
func (v Value) Str() string     { return v.str }
func (v Value) Int64() int64    { return v.num }
func (v Value) Float() float64  { return v.flt }
func (v Value) Bool() bool      { return v.kind == KindBool && v.num == 1 }
func (v Value) Time() time.Time { return v.tm }

// Expression 返回表达式载荷，非 KindExpr 时为 nil
func (v Value) Expression() *Expression {
	if e, ok := v.ref.(*Expression); ok && v.kind == KindExpr {
		return e
	}
	return nil
}

// Interface 还原为 Go 值
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return v.num
	case KindFloat:
		return v.flt
	case KindBool:
		return v.num == 1
	case KindTime:
		return v.tm
	case KindExpr, KindOpaque:
		return v.ref
	default:
		return nil
	}
}

// Equal 严格相等：种类与载荷都相同
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindInt, KindBool:
		return v.num == o.num
	case KindFloat:
		return v.flt == o.flt
	case KindTime:
		return v.tm.Equal(o.tm)
	case KindExpr:
		return v.ref == o.ref
	default:
		return reflect.DeepEqual(v.ref, o.ref)
	}
}

// CanonicalID 主键的规范形式：取整数值的浮点数转为 Int，其余原样返回
func CanonicalID(v Value) Value {
	if v.kind == KindFloat && v.flt == math.Trunc(v.flt) && math.Abs(v.flt) < 1<<63 {
		return Int(int64(v.flt))
	}
	return v
}

// GoString 便于调试输出
func (v Value) GoString() string {
	return fmt.Sprintf("%s(%v)", v.kind, v.Interface())
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull, KindExpr:
		return []byte("null"), nil
	case KindTime:
		return json.Marshal(v.tm.Format(time.RFC3339Nano))
	case KindFloat:
		data, err := json.Marshal(v.flt)
		if err != nil {
			return nil, err
		}
		// 整数值的浮点数补上小数点，解码时才能还原为 KindFloat
		if !bytes.ContainsAny(data, ".eE") {
			data = append(data, '.', '0')
		}
		return data, nil
	default:
		return json.Marshal(v.Interface())
	}
}

// UnmarshalJSON 按 JSON 自然类型还原；不带小数点与指数的数字解析为 KindInt，时间保持为字符串
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = fromJSON(raw)
	return nil
}

func fromJSON(raw any) Value {
	switch x := raw.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return Int(i)
		}
		f, _ := x.Float64()
		return Float(f)
	case map[string]any:
		for k, e := range x {
			x[k] = fromJSON(e).Interface()
		}
		return Opaque(x)
	case []any:
		for i, e := range x {
			x[i] = fromJSON(e).Interface()
		}
		return Opaque(x)
	default:
		return Of(raw)
	}
}
