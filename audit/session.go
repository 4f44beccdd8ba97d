package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"audittrail/record"
)

// 常用动作名
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Session 一条审计记录，同时也是一次变更期间打开的会话。
// 由 Push 创建并立即持久化以获得 ID，变更期间原地修改，Pull 之后不再修改。
type Session struct {
	ID           int64
	Timestamp    time.Time
	Model        string
	ModelID      record.Value
	Action       string
	InitiatorID  *int64
	RequestDiff  Diff
	ReactiveDiff Diff
	Description  string
	TimeTaken    *time.Duration

	// Fields 自定义字段，持久化时展开到顶层
	Fields map[string]any

	// Failed 变更在 Push 与 Pull 之间失败时为 true，Error 记录失败原因
	Failed bool
	Error  string

	// StartedAt 单调时钟起点，不持久化
	StartedAt time.Time
	// Closed Pull 之后为 true，不持久化
	Closed bool

	shadowed *Session
}

// 持久化形态中的保留键
const (
	keyID          = "id"
	keyTimestamp   = "ts"
	keyModel       = "model"
	keyModelID     = "model_id"
	keyAction      = "action"
	keyDescription = "descr"
	keyRequest     = "request_diff"
	keyReactive    = "reactive_diff"
	keyInitiator   = "initiator_audit_log_id"
	keyTimeTaken   = "time_taken"
	keyFailed      = "failed"
	keyError       = "error"
)

var reservedKeys = map[string]bool{
	keyID: true, keyTimestamp: true, keyModel: true, keyModelID: true, keyAction: true,
	keyDescription: true, keyRequest: true, keyReactive: true, keyInitiator: true,
	keyTimeTaken: true, keyFailed: true, keyError: true,
}

// IsReservedKey 判断字段名是否属于持久化形态的固定列
func IsReservedKey(key string) bool { return reservedKeys[key] }

// SetField 设置自定义字段；descr 视为描述
func (s *Session) SetField(key string, value any) {
	if key == keyDescription {
		s.Description = fmt.Sprint(value)
		return
	}
	if s.Fields == nil {
		s.Fields = make(map[string]any)
	}
	s.Fields[key] = value
}

func (s *Session) applyFields(fields map[string]any) {
	for k, v := range fields {
		s.SetField(k, v)
	}
}

// String 便于日志输出
func (s *Session) String() string {
	return fmt.Sprintf("audit#%d(%s %s#%v)", s.ID, s.Action, s.Model, s.ModelID.Interface())
}

// MarshalJSON 编码为持久化形态，自定义字段展开到顶层但不会覆盖固定键；
// time_taken 以秒为单位
func (s *Session) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Fields)+12)
	for k, v := range s.Fields {
		if !reservedKeys[k] {
			out[k] = v
		}
	}
	out[keyID] = s.ID
	out[keyTimestamp] = s.Timestamp.UTC().Format(time.RFC3339Nano)
	out[keyModel] = s.Model
	out[keyModelID] = s.ModelID
	out[keyAction] = s.Action
	out[keyDescription] = s.Description
	out[keyRequest] = s.RequestDiff
	out[keyReactive] = s.ReactiveDiff
	out[keyInitiator] = s.InitiatorID
	if s.TimeTaken != nil {
		out[keyTimeTaken] = s.TimeTaken.Seconds()
	}
	if s.Failed {
		out[keyFailed] = true
		out[keyError] = s.Error
	}
	return json.Marshal(out)
}

func (s *Session) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var decoded Session
	var ts string
	var taken *float64
	targets := map[string]any{
		keyID:          &decoded.ID,
		keyTimestamp:   &ts,
		keyModel:       &decoded.Model,
		keyModelID:     &decoded.ModelID,
		keyAction:      &decoded.Action,
		keyDescription: &decoded.Description,
		keyRequest:     &decoded.RequestDiff,
		keyReactive:    &decoded.ReactiveDiff,
		keyInitiator:   &decoded.InitiatorID,
		keyTimeTaken:   &taken,
		keyFailed:      &decoded.Failed,
		keyError:       &decoded.Error,
	}
	for key, msg := range raw {
		target, ok := targets[key]
		if !ok {
			var v record.Value
			if err := json.Unmarshal(msg, &v); err != nil {
				return fmt.Errorf("audit: decode field %q: %w", key, err)
			}
			decoded.SetField(key, v.Interface())
			continue
		}
		if err := json.Unmarshal(msg, target); err != nil {
			return fmt.Errorf("audit: decode %q: %w", key, err)
		}
	}
	if ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return fmt.Errorf("audit: decode ts: %w", err)
		}
		decoded.Timestamp = t
	}
	if taken != nil {
		d := time.Duration(*taken * float64(time.Second))
		decoded.TimeTaken = &d
	}
	*s = decoded
	return nil
}
