package audit

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"audittrail/record"
)

// recordingStore 记录每次 Append/Update 时会话的状态
type recordingStore struct {
	mu       sync.Mutex
	seq      int64
	appended []Session
	updated  []Session
	latest   map[int64]*Session
	order    []int64

	appendErr error
	updateErr error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{latest: make(map[int64]*Session)}
}

func (s *recordingStore) Append(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.seq++
	sess.ID = s.seq
	s.appended = append(s.appended, *sess)
	cp := *sess
	s.latest[sess.ID] = &cp
	s.order = append(s.order, sess.ID)
	return nil
}

func (s *recordingStore) Update(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updated = append(s.updated, *sess)
	cp := *sess
	s.latest[sess.ID] = &cp
	return nil
}

func (s *recordingStore) ListByTarget(ctx context.Context, model string, id record.Value) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Session
	for _, sid := range s.order {
		e := s.latest[sid]
		if e.Model == model && (id.IsNull() || e.ModelID.Equal(id)) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *recordingStore) get(t *testing.T, id int64) *Session {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.latest[id]
	require.True(t, ok, "audit entry %d not stored", id)
	return e
}

func userSchema() *record.Schema {
	return record.NewSchema("user", record.WithFields(
		&record.Field{Name: "name"},
		&record.Field{Name: "status"},
		&record.Field{Name: "slug"},
		&record.Field{Name: "active", Type: record.TypeBoolean},
		&record.Field{Name: "password", NoAudit: true},
		&record.Field{Name: "tags", Type: record.TypeJSON},
		&record.Field{Name: "blob", Type: record.TypeString},
	))
}

func taskSchema() *record.Schema {
	return record.NewSchema("task",
		record.WithTitleField(""),
		record.WithFields(&record.Field{Name: "status"}, &record.Field{Name: "user_id", Type: record.TypeInteger}),
	)
}

// newAudited 创建挂载了控制器的空记录
func newAudited(t *testing.T, c *Controller, s *record.Schema, p record.IPersistence) *record.Model {
	t.Helper()
	m := record.New(s, p)
	require.NoError(t, c.SetUp(m))
	return m
}
