package audit

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"audittrail/errors"
	"audittrail/record"
)

// NoChanges 空差异的描述
const NoChanges = "no changes"

var ErrUnrepresentableValue = errors.NewError(errors.ErrCodeUnrepresentable, "value cannot be represented as a string")

// Describe 把差异渲染为 "field=new, field=new"。
// 新旧值都先经过记录的取值转换；任一值无法表示为字符串或 null 时返回
// ErrUnrepresentableValue，不会跳过该字段。
func Describe(diff Diff, rec record.IRecord) (string, error) {
	if diff.Len() == 0 {
		return NoChanges, nil
	}
	schema := rec.Schema()
	parts := make([]string, 0, diff.Len())
	for _, c := range diff {
		f, _ := schema.Field(c.Field)
		from := rec.Typecast(f, c.Old)
		to := rec.Typecast(f, c.New)
		if !representable(from) || !representable(to) {
			return "", ErrUnrepresentableValue.WithDetails(map[string]any{
				"field": c.Field,
				"from":  c.Old.Interface(),
				"to":    c.New.Interface(),
			})
		}
		parts = append(parts, c.Field+"="+render(to))
	}
	return strings.Join(parts, ", "), nil
}

func representable(v record.Value) bool {
	switch v.Kind() {
	case record.KindNull, record.KindString, record.KindInt, record.KindFloat, record.KindBool, record.KindTime:
		return true
	case record.KindOpaque:
		_, ok := v.Interface().(fmt.Stringer)
		return ok
	default:
		return false
	}
}

func render(v record.Value) string {
	switch v.Kind() {
	case record.KindString:
		return v.Str()
	case record.KindInt:
		return strconv.FormatInt(v.Int64(), 10)
	case record.KindFloat:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64)
	case record.KindBool:
		if v.Bool() {
			return "1"
		}
		return "0"
	case record.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case record.KindOpaque:
		if s, ok := v.Interface().(fmt.Stringer); ok {
			return s.String()
		}
	}
	return ""
}

// titleOf 返回标题字段的展示值；模式没有标题字段时 ok 为 false。
// 标题值无法表示为字符串时返回 ErrUnrepresentableValue。
func titleOf(rec record.IRecord) (string, bool, error) {
	f := rec.Schema().Title()
	if f == nil {
		return "", false, nil
	}
	v := rec.Typecast(f, rec.Get(f.Name))
	if !representable(v) {
		return "", true, ErrUnrepresentableValue.WithDetails(map[string]any{
			"field": f.Name,
			"value": v.Interface(),
		})
	}
	return render(v), true, nil
}
