package audit

import "audittrail/errors"

var ErrEmptyStack = errors.NewError(errors.ErrCodeEmptyStack, "audit session stack is empty")

// Stack 当前打开的审计会话，最近打开的在最前。非并发安全，由 Controller 按流程加锁使用。
type Stack struct {
	items []*Session
}

func NewStack() *Stack { return &Stack{} }

// Push 把会话放到最前；栈非空时把发起者设为当前栈顶
func (s *Stack) Push(sess *Session) *Session {
	if top := s.Top(); top != nil {
		id := top.ID
		sess.InitiatorID = &id
	}
	s.items = append(s.items, sess)
	return sess
}

// Pull 移除并返回栈顶会话
func (s *Stack) Pull() (*Session, error) {
	n := len(s.items)
	if n == 0 {
		return nil, ErrEmptyStack
	}
	sess := s.items[n-1]
	s.items[n-1] = nil
	s.items = s.items[:n-1]
	return sess, nil
}

func (s *Stack) Top() *Session {
	if len(s.items) == 0 {
		return nil
	}
	return s.items[len(s.items)-1]
}

func (s *Stack) Len() int { return len(s.items) }
