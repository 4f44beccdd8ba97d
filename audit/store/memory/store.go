// Package memory 进程内审计存储，主要用于测试与单进程场景
package memory

import (
	"context"
	"encoding/json"
	"sync"

	"audittrail/audit"
	"audittrail/errors"
	"audittrail/record"
)

// Store 按写入顺序保存审计记录的副本，ID 自 1 起递增
type Store struct {
	mu      sync.RWMutex
	seq     int64
	entries []*audit.Session
	index   map[int64]int
}

var _ audit.IStore = (*Store)(nil)

func NewStore() *Store {
	return &Store{index: make(map[int64]int)}
}

func (s *Store) Append(ctx context.Context, sess *audit.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	sess.ID = s.seq
	cp, err := clone(sess)
	if err != nil {
		return err
	}
	s.index[sess.ID] = len(s.entries)
	s.entries = append(s.entries, cp)
	return nil
}

func (s *Store) Update(ctx context.Context, sess *audit.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[sess.ID]
	if !ok {
		return errors.NewError(errors.ErrCodeNotFound, "audit entry not found").WithContext("id", sess.ID)
	}
	cp, err := clone(sess)
	if err != nil {
		return err
	}
	s.entries[i] = cp
	return nil
}

func (s *Store) ListByTarget(ctx context.Context, model string, id record.Value) ([]*audit.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*audit.Session
	for _, e := range s.entries {
		if e.Model != model {
			continue
		}
		if !id.IsNull() && !sameID(e.ModelID, id) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Get 按 ID 返回记录副本
func (s *Store) Get(id int64) (*audit.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.entries[i], true
}

// All 返回全部记录，按写入顺序
func (s *Store) All() []*audit.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*audit.Session, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// clone 经由持久化形态复制，保证存入的记录与调用方后续的修改隔离
func clone(sess *audit.Session) (*audit.Session, error) {
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInternal, "encode audit entry")
	}
	var out audit.Session
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInternal, "decode audit entry")
	}
	out.Closed = sess.Closed
	return &out, nil
}

// sameID 主键比较时忽略数值类型差异
func sameID(a, b record.Value) bool {
	a, b = record.CanonicalID(a), record.CanonicalID(b)
	if a.Equal(b) {
		return true
	}
	return fmtID(a) == fmtID(b)
}

func fmtID(v record.Value) string {
	data, _ := json.Marshal(v)
	return string(data)
}
