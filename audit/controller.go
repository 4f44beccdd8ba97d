// Package audit 为记录的创建、更新、删除挂载审计轨迹：
// 每次变更在前后钩子中打开和关闭一条审计记录，计算字段级差异并生成可读描述。
// 级联产生的嵌套变更各自拥有审计记录，并通过 InitiatorID 关联到发起者。
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"audittrail/errors"
	"audittrail/logging"
	"audittrail/record"
)

var (
	ErrSessionMismatch = errors.NewError(errors.ErrCodeSessionMismatch, "record session is not on top of the stack")
	ErrNoController    = errors.NewError(errors.ErrCodeNoController, "record has no audit controller")
)

// 钩子优先级：审计的 before 钩子先于其他观察者执行，after 钩子晚于其他观察者
const (
	BeforePriority = -100
	AfterPriority  = 100
)

// Config Controller 配置，零值可用
type Config struct {
	// DisableTimeTaken 为 true 时不记录耗时
	DisableTimeTaken bool
	// Template 默认原型，可被 SetTemplate 按记录覆盖
	Template *Template
	Logger   logging.Logger
	// Metrics 为 nil 时不采集指标
	Metrics *Metrics
	// Now 时间戳来源，默认 time.Now
	Now func() time.Time
}

// Controller 审计生命周期控制器，实现 record.IMutationObserver 与 record.IFailureObserver。
// 可被多个执行流程共享，每个流程（见 WithFlow）拥有独立的会话栈。
type Controller struct {
	store  IStore
	cfg    Config
	logger logging.Logger

	mu    sync.Mutex
	flows map[string]*flowState
}

var (
	_ record.IMutationObserver = (*Controller)(nil)
	_ record.IFailureObserver  = (*Controller)(nil)
)

// NewController 创建控制器
func NewController(store IStore, cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("audit.controller")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Controller{
		store:  store,
		cfg:    cfg,
		logger: cfg.Logger,
		flows:  make(map[string]*flowState),
	}
}

// Store 返回审计存储
func (c *Controller) Store() IStore { return c.store }

// 调用方需持有 c.mu
func (c *Controller) flow(ctx context.Context) *flowState {
	id := FlowID(ctx)
	fs, ok := c.flows[id]
	if !ok {
		fs = &flowState{stack: NewStack()}
		c.flows[id] = fs
	}
	return fs
}

// 调用方需持有 c.mu
func (c *Controller) release(ctx context.Context, fs *flowState) {
	if fs.idle() {
		delete(c.flows, FlowID(ctx))
	}
}

// Depth 返回当前流程打开的会话数
func (c *Controller) Depth(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fs, ok := c.flows[FlowID(ctx)]; ok {
		return fs.stack.Len()
	}
	return 0
}

// SetCustomAction 覆盖当前流程下一次 Push 的动作名，使用后清除
func (c *Controller) SetCustomAction(ctx context.Context, action string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fs := c.flow(ctx)
	fs.action = action
	c.release(ctx, fs)
}

// SetCustomFields 为当前流程下一次 Push 附加自定义字段，使用后清除
func (c *Controller) SetCustomFields(ctx context.Context, fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fs := c.flow(ctx)
	if len(fields) == 0 {
		fs.fields = nil
	} else {
		fs.fields = make(map[string]any, len(fields))
		for k, v := range fields {
			fs.fields[k] = v
		}
	}
	c.release(ctx, fs)
}

// Push 打开一条审计会话：确定动作名，从原型克隆会话并绑定目标，
// 立即持久化以获得 ID，然后挂到记录上并压栈。
func (c *Controller) Push(ctx context.Context, rec record.IRecord, action string) (*Session, error) {
	c.mu.Lock()
	fs := c.flow(ctx)
	if fs.action != "" {
		action = fs.action
		fs.action = ""
	}
	fields := fs.fields
	fs.fields = nil
	var initiator *int64
	if top := fs.stack.Top(); top != nil {
		id := top.ID
		initiator = &id
	}
	c.mu.Unlock()

	tpl := templateOf(rec)
	if tpl == nil {
		tpl = c.cfg.Template
	}
	s := tpl.newSession()
	s.Model = rec.Schema().Name
	if rec.Loaded() {
		s.ModelID = rec.ID()
	}
	s.Action = action
	s.Timestamp = c.cfg.Now().UTC()
	s.InitiatorID = initiator
	s.applyFields(fields)

	if err := c.store.Append(ctx, s); err != nil {
		c.mu.Lock()
		c.release(ctx, c.flow(ctx))
		c.mu.Unlock()
		return nil, err
	}
	s.StartedAt = time.Now()
	s.shadowed = SessionOf(rec)
	rec.SetMeta(sessionMetaKey, s)

	c.mu.Lock()
	c.flow(ctx).stack.Push(s)
	c.mu.Unlock()

	c.cfg.Metrics.opened(s.Action)
	c.logger.Debug(ctx, "audit session opened",
		logging.Int64("audit_id", s.ID),
		logging.String("action", s.Action),
		logging.String("model", s.Model))
	return s, nil
}

// Pull 关闭当前流程栈顶的会话：出栈、从记录上摘除、记录耗时。
// 返回的会话由调用方负责最终持久化。
func (c *Controller) Pull(ctx context.Context, rec record.IRecord) (*Session, error) {
	c.mu.Lock()
	fs := c.flow(ctx)
	if attached, top := SessionOf(rec), fs.stack.Top(); attached != nil && top != nil && attached != top {
		c.mu.Unlock()
		return nil, ErrSessionMismatch.WithDetails(map[string]any{
			"record_session": attached.ID,
			"top_session":    top.ID,
		})
	}
	s, err := fs.stack.Pull()
	c.release(ctx, fs)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if SessionOf(rec) == s {
		if s.shadowed != nil {
			rec.SetMeta(sessionMetaKey, s.shadowed)
		} else {
			rec.DeleteMeta(sessionMetaKey)
		}
	}
	s.shadowed = nil
	if !c.cfg.DisableTimeTaken {
		taken := time.Since(s.StartedAt)
		s.TimeTaken = &taken
	}
	s.Closed = true
	c.cfg.Metrics.pulled(s.Action, s.TimeTaken)
	return s, nil
}

func (c *Controller) persist(ctx context.Context, s *Session) error {
	if err := c.store.Update(ctx, s); err != nil {
		return err
	}
	if s.Failed {
		c.cfg.Metrics.failed(s.Action)
	} else {
		c.cfg.Metrics.closed(s.Action)
	}
	c.logger.Debug(ctx, "audit session closed",
		logging.Int64("audit_id", s.ID),
		logging.String("action", s.Action),
		logging.String("descr", s.Description))
	return nil
}

// abort 持久化一个已出栈但未能正常完成的会话
func (c *Controller) abort(ctx context.Context, s *Session, cause error) error {
	s.Failed = true
	s.Error = cause.Error()
	if err := c.persist(ctx, s); err != nil {
		c.logger.Error(ctx, "persist failed audit session", logging.Error(err), logging.Int64("audit_id", s.ID))
	}
	return cause
}

// describeSave 生成保存类会话的描述：先走原型的描述钩子，
// 其次是 "<action> <title>: <diff>"，没有标题字段时为 "<action> <diff>"
func (c *Controller) describeSave(ctx context.Context, s *Session, rec record.IRecord, diff Diff) error {
	tpl := templateOf(rec)
	if tpl == nil {
		tpl = c.cfg.Template
	}
	if tpl != nil && tpl.Describe != nil {
		descr, err := tpl.Describe(ctx, s, rec)
		if err != nil {
			return err
		}
		if descr != "" {
			s.Description = descr
			return nil
		}
	}
	body, err := Describe(diff, rec)
	if err != nil {
		return err
	}
	title, ok, err := titleOf(rec)
	if err != nil {
		return err
	}
	if ok {
		s.Description = s.Action + " " + title + ": " + body
	} else {
		s.Description = s.Action + " " + body
	}
	return nil
}

// BeforeSave 打开 create/update 会话并记录请求差异
func (c *Controller) BeforeSave(ctx context.Context, rec record.IRecord) error {
	action := ActionUpdate
	if !rec.Loaded() {
		action = ActionCreate
	}
	s, err := c.Push(ctx, rec, action)
	if err != nil {
		return err
	}
	s.RequestDiff = ComputeDiff(rec)
	if s.Description == "" {
		return c.describeSave(ctx, s, rec, s.RequestDiff)
	}
	return nil
}

// AfterSave 关闭会话。新记录的反应差异为完整快照并回填 model_id；
// 已有记录的反应差异只保留请求阶段之外的变化，非空时追加到描述中。
func (c *Controller) AfterSave(ctx context.Context, rec record.IRecord) error {
	s, err := c.Pull(ctx, rec)
	if err != nil {
		return err
	}
	if s.ModelID.IsNull() {
		s.ReactiveDiff = SnapshotDiff(rec, SnapshotAdded)
		s.ModelID = rec.ID()
		if s.Description == "" {
			if err := c.describeSave(ctx, s, rec, s.ReactiveDiff); err != nil {
				return c.abort(ctx, s, err)
			}
		}
	} else {
		s.ReactiveDiff = Reconcile(s.RequestDiff, ComputeDiff(rec))
		if s.ReactiveDiff.Len() > 0 {
			descr, err := Describe(s.ReactiveDiff, rec)
			if err != nil {
				return c.abort(ctx, s, err)
			}
			s.Description += " (resulted in " + descr + ")"
		}
	}
	return c.persist(ctx, s)
}

// BeforeDelete 打开 delete 会话，请求差异为完整快照。
// 记录只加载了部分字段时先按主键重新加载。
func (c *Controller) BeforeDelete(ctx context.Context, rec record.IRecord) error {
	s, err := c.Push(ctx, rec, ActionDelete)
	if err != nil {
		return err
	}
	full := rec
	if len(rec.OnlyFields()) > 0 {
		if full, err = rec.Reload(ctx); err != nil {
			return err
		}
	}
	s.RequestDiff = SnapshotDiff(full, SnapshotRemoved)
	if s.Description == "" {
		title, ok, err := titleOf(full)
		if err != nil {
			return err
		}
		s.Description = fmt.Sprintf("delete id=%v", rec.ID().Interface())
		if ok {
			s.Description += " (" + title + ")"
		}
	}
	return nil
}

// AfterDelete 关闭并持久化会话
func (c *Controller) AfterDelete(ctx context.Context, rec record.IRecord) error {
	s, err := c.Pull(ctx, rec)
	if err != nil {
		return err
	}
	return c.persist(ctx, s)
}

// MutationFailed 变更在 Push 之后失败时，把记录上仍处于栈顶的会话标记为失败并持久化，
// 避免会话一直处于打开状态
func (c *Controller) MutationFailed(ctx context.Context, rec record.IRecord, op record.Operation, cause error) {
	attached := SessionOf(rec)
	if attached == nil {
		return
	}
	c.mu.Lock()
	fs := c.flow(ctx)
	top := fs.stack.Top()
	c.release(ctx, fs)
	c.mu.Unlock()
	if top != attached {
		c.logger.Warn(ctx, "failed mutation left an audit session below the top of the stack",
			logging.Int64("audit_id", attached.ID),
			logging.String("operation", string(op)))
		return
	}

	s, err := c.Pull(ctx, rec)
	if err != nil {
		c.logger.Error(ctx, "pull session of failed mutation", logging.Error(err))
		return
	}
	if s.ModelID.IsNull() && rec.Loaded() {
		s.ModelID = rec.ID()
	}
	c.logger.Warn(ctx, "audit session closed after failed mutation",
		logging.Int64("audit_id", s.ID),
		logging.String("operation", string(op)),
		logging.Error(cause))
	_ = c.abort(ctx, s, cause)
}

// LogOption CustomLog 选项
type LogOption func(*logOptions)

type logOptions struct {
	description *string
	fields      map[string]any
}

// WithDescription 指定描述
func WithDescription(descr string) LogOption {
	return func(o *logOptions) { o.description = &descr }
}

// WithExtraFields 附加自定义字段
func WithExtraFields(fields map[string]any) LogOption {
	return func(o *logOptions) { o.fields = fields }
}

// CustomLog 为保存/删除之外的动作（例如业务事件）写一条审计记录，
// 与钩子遵循同样的 push/describe/pull 流程
func (c *Controller) CustomLog(ctx context.Context, rec record.IRecord, action string, opts ...LogOption) (*Session, error) {
	var o logOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	s, err := c.Push(ctx, rec, action)
	if err != nil {
		return nil, err
	}
	s.applyFields(o.fields)
	switch {
	case o.description != nil:
		s.Description = *o.description
	case s.Description == "":
		title, ok, err := titleOf(rec)
		if err != nil {
			if _, perr := c.Pull(ctx, rec); perr != nil {
				return nil, perr
			}
			return nil, c.abort(ctx, s, err)
		}
		if ok {
			s.Description = s.Action + " " + title + ": "
		} else {
			s.Description = s.Action
		}
	}
	if _, err := c.Pull(ctx, rec); err != nil {
		return nil, err
	}
	if err := c.persist(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// SetUp 把控制器挂到记录上：before 钩子优先级 BeforePriority，after 钩子优先级 AfterPriority。
// 之后可通过 Log 与 Trail 使用该控制器。
func (c *Controller) SetUp(rec record.IRecord) error {
	obs, ok := rec.(record.IObservable)
	if !ok {
		return errors.NewError(errors.ErrCodeInvalidInput, "record does not accept mutation observers").
			WithContext("model", rec.Schema().Name)
	}
	obs.AddObserver(c, record.WithBeforePriority(BeforePriority), record.WithAfterPriority(AfterPriority))
	rec.SetMeta(controllerMetaKey, c)
	return nil
}

// ControllerOf 返回记录上挂载的控制器
func ControllerOf(rec record.IRecord) (*Controller, bool) {
	if v, ok := rec.Meta(controllerMetaKey); ok {
		c, ok := v.(*Controller)
		return c, ok && c != nil
	}
	return nil, false
}

// Log 记录级的手动审计入口，委托给挂载的控制器
func Log(ctx context.Context, rec record.IRecord, action string, opts ...LogOption) (*Session, error) {
	c, ok := ControllerOf(rec)
	if !ok {
		return nil, ErrNoController.WithContext("model", rec.Schema().Name)
	}
	return c.CustomLog(ctx, rec, action, opts...)
}

// Trail 返回记录的审计轨迹
func Trail(ctx context.Context, rec record.IRecord) ([]*Session, error) {
	c, ok := ControllerOf(rec)
	if !ok {
		return nil, ErrNoController.WithContext("model", rec.Schema().Name)
	}
	id := record.Null()
	if rec.Loaded() {
		id = rec.ID()
	}
	return c.store.ListByTarget(ctx, rec.Schema().Name, id)
}
