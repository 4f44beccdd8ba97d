package record

import (
	"encoding/json"
	"time"
)

const (
	dateLayout     = "2006-01-02"
	timeLayout     = "15:04:05"
	datetimeLayout = "2006-01-02 15:04:05"
)

// ITypecaster 持久化层可选实现：把内存值转换为可存储形式
type ITypecaster interface {
	TypecastSave(f *Field, v Value) Value
}

// TypecastSave 默认的存储形式转换：
//   - boolean 存为 1/0；
//   - date/time/datetime 按字段类型格式化为字符串（UTC）；
//   - json 字段中的复合值编码为 JSON 文本，编码失败时保持原值。
//
// 其余值原样返回，是否能表示为字符串由调用方判断。
func TypecastSave(f *Field, v Value) Value {
	if v.IsNull() || v.IsExpr() {
		return v
	}
	switch v.Kind() {
	case KindBool:
		if v.Bool() {
			return Int(1)
		}
		return Int(0)
	case KindTime:
		layout := datetimeLayout
		if f != nil {
			switch f.Type {
			case TypeDate:
				layout = dateLayout
			case TypeTime:
				layout = timeLayout
			}
		}
		return String(v.Time().UTC().Format(layout))
	case KindOpaque:
		if f != nil && f.Type == TypeJSON {
			data, err := json.Marshal(v.Interface())
			if err != nil {
				return v
			}
			return String(string(data))
		}
	}
	return v
}

// TypecastLoad 把存储形式还原为内存值，是 TypecastSave 的逆操作
func TypecastLoad(f *Field, v Value) Value {
	if f == nil || v.IsNull() {
		return v
	}
	switch f.Type {
	case TypeBoolean:
		switch v.Kind() {
		case KindInt:
			return Bool(v.Int64() != 0)
		case KindString:
			return Bool(v.Str() == "1" || v.Str() == "true")
		}
	case TypeDate, TypeTime, TypeDatetime:
		if v.Kind() != KindString {
			return v
		}
		layout := datetimeLayout
		switch f.Type {
		case TypeDate:
			layout = dateLayout
		case TypeTime:
			layout = timeLayout
		}
		if t, err := time.ParseInLocation(layout, v.Str(), time.UTC); err == nil {
			return Time(t)
		}
	case TypeJSON:
		if v.Kind() != KindString {
			return v
		}
		var decoded Value
		if err := json.Unmarshal([]byte(v.Str()), &decoded); err == nil {
			return decoded
		}
	case TypeFloat:
		if v.Kind() == KindInt {
			return Float(float64(v.Int64()))
		}
	}
	return v
}
