package audit

import (
	"bytes"
	"encoding/json"
	"fmt"

	"audittrail/record"
)

// Change 单个字段的变更（原值 -> 新值）
type Change struct {
	Field string
	Old   record.Value
	New   record.Value
}

// Diff 按字段变脏顺序排列的变更集合
type Diff []Change

func (d Diff) Len() int { return len(d) }

// Get 按字段名查找变更
func (d Diff) Get(field string) (Change, bool) {
	for _, c := range d {
		if c.Field == field {
			return c, true
		}
	}
	return Change{}, false
}

// Fields 返回字段名列表，保持顺序
func (d Diff) Fields() []string {
	out := make([]string, 0, len(d))
	for _, c := range d {
		out = append(out, c.Field)
	}
	return out
}

// MarshalJSON 编码为 {"field": [old, new], ...}，保持字段顺序
func (d Diff) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c.Field)
		if err != nil {
			return nil, err
		}
		pair, err := json.Marshal([2]record.Value{c.Old, c.New})
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(pair)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (d *Diff) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		*d = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("audit: diff must be a JSON object, got %v", tok)
	}
	var out Diff
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		field, ok := tok.(string)
		if !ok {
			return fmt.Errorf("audit: unexpected diff key %v", tok)
		}
		var pair [2]record.Value
		if err := dec.Decode(&pair); err != nil {
			return fmt.Errorf("audit: decode diff field %q: %w", field, err)
		}
		out = append(out, Change{Field: field, Old: pair[0], New: pair[1]})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*d = out
	return nil
}

func auditable(s *record.Schema, field string) bool {
	f, ok := s.Field(field)
	return ok && !f.NoAudit
}

// ComputeDiff 计算记录当前的脏字段差异。
// 不可审计字段以及原值或新值为表达式的字段会被跳过；无副作用。
func ComputeDiff(rec record.IRecord) Diff {
	schema := rec.Schema()
	var d Diff
	for _, name := range rec.DirtyFields() {
		if !auditable(schema, name) {
			continue
		}
		old, _ := rec.Original(name)
		cur := rec.Get(name)
		if old.IsExpr() || cur.IsExpr() {
			continue
		}
		d = append(d, Change{Field: name, Old: old, New: cur})
	}
	return d
}

// SnapshotMode 快照差异的方向
type SnapshotMode int

const (
	// SnapshotAdded 所有字段视为新增（Old 为 Null）
	SnapshotAdded SnapshotMode = iota
	// SnapshotRemoved 所有字段视为移除（New 为 Null）
	SnapshotRemoved
)

// SnapshotDiff 以记录的完整字段快照构造差异，过滤规则与 ComputeDiff 相同
func SnapshotDiff(rec record.IRecord, mode SnapshotMode) Diff {
	schema := rec.Schema()
	var d Diff
	for _, fv := range rec.Snapshot() {
		if !auditable(schema, fv.Field) || fv.Value.IsExpr() {
			continue
		}
		c := Change{Field: fv.Field, New: fv.Value}
		if mode == SnapshotRemoved {
			c = Change{Field: fv.Field, Old: fv.Value}
		}
		d = append(d, c)
	}
	return d
}

// Reconcile 从变更后的差异中去掉请求阶段已经记录过相同新值的字段，
// 剩下的是再次变化或由副作用引起的变化
func Reconcile(request, post Diff) Diff {
	var out Diff
	for _, c := range post {
		if prev, ok := request.Get(c.Field); ok && prev.New.Equal(c.New) {
			continue
		}
		out = append(out, c)
	}
	return out
}
