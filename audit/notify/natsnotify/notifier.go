// Package natsnotify 审计存储装饰器：审计会话关闭并持久化后，把记录发布到 NATS 主题
package natsnotify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"audittrail/audit"
	"audittrail/errors"
	"audittrail/logging"
	"audittrail/record"
	"audittrail/retry"
)

// IPublisher 发布能力，*nats.Conn 满足该接口
type IPublisher interface {
	Publish(subj string, data []byte) error
}

// Config 通知配置
type Config struct {
	URL string `yaml:"url"`
	// SubjectPrefix 主题前缀，默认 audit.；完整主题为 <prefix><model>.<action>
	SubjectPrefix string `yaml:"subject_prefix"`
	// Strict 为 true 时发布失败会作为 Update 的错误返回，否则只记录日志
	Strict bool `yaml:"strict"`
	// ConnectTimeout 连接超时，默认 5s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// Retry 发布失败时的重试策略，零值只尝试一次
	Retry retry.Config `yaml:"retry"`

	Logger logging.Logger `yaml:"-"`
}

// Notifier 包装另一个 audit.IStore
type Notifier struct {
	next   audit.IStore
	pub    IPublisher
	cfg    Config
	logger logging.Logger
}

var _ audit.IStore = (*Notifier)(nil)

// New 创建通知装饰器
func New(next audit.IStore, pub IPublisher, cfg Config) *Notifier {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "audit."
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetLogger().WithFields(logging.Component("audit.natsnotify"))
	}
	return &Notifier{next: next, pub: pub, cfg: cfg, logger: cfg.Logger}
}

// Connect 连接 NATS 并创建装饰器，返回的 close 函数会先刷新再关闭连接
func Connect(next audit.IStore, cfg Config) (*Notifier, func(), error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	conn, err := nats.Connect(url, nats.Name("audittrail"), nats.Timeout(timeout))
	if err != nil {
		return nil, nil, errors.WrapError(err, errors.ErrCodeQueue, "connect nats").WithContext("url", url)
	}
	closeFn := func() {
		_ = conn.Flush()
		conn.Close()
	}
	return New(next, conn, cfg), closeFn, nil
}

// Subject 返回记录对应的主题
func (n *Notifier) Subject(s *audit.Session) string {
	return n.cfg.SubjectPrefix + token(s.Model) + "." + token(s.Action)
}

func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', '*', '>', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

func (n *Notifier) Append(ctx context.Context, s *audit.Session) error {
	return n.next.Append(ctx, s)
}

// Update 写入底层存储；会话已关闭时再发布
func (n *Notifier) Update(ctx context.Context, s *audit.Session) error {
	if err := n.next.Update(ctx, s); err != nil {
		return err
	}
	if !s.Closed {
		return nil
	}
	if err := n.publish(ctx, s); err != nil {
		if n.cfg.Strict {
			return err
		}
		n.logger.Error(ctx, "publish audit entry failed",
			logging.Int64("audit_id", s.ID),
			logging.String("subject", n.Subject(s)),
			logging.Error(err))
	}
	return nil
}

func (n *Notifier) publish(ctx context.Context, s *audit.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeInternal, "encode audit entry")
	}
	subject := n.Subject(s)
	err = retry.Do(ctx, n.cfg.Retry, func(ctx context.Context, attempt int) error {
		err := n.pub.Publish(subject, data)
		if err != nil {
			n.logger.Debug(ctx, "publish attempt failed",
				logging.String("subject", subject),
				logging.Int("attempt", attempt),
				logging.Error(err))
		}
		return err
	})
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeQueue, "publish audit entry")
	}
	return nil
}

func (n *Notifier) ListByTarget(ctx context.Context, model string, id record.Value) ([]*audit.Session, error) {
	return n.next.ListByTarget(ctx, model, id)
}
