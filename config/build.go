package config

import (
	"context"
	stdErrors "errors"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"audittrail/audit"
	"audittrail/audit/notify/natsnotify"
	"audittrail/audit/store/memory"
	"audittrail/audit/store/redisstore"
	"audittrail/audit/store/sqlstore"
	"audittrail/codegen/snowflake"
	core "audittrail/data/db"
	"audittrail/data/db/basic"
	"audittrail/errors"
	"audittrail/logging"
)

// Runtime 按配置组装好的审计组件
type Runtime struct {
	Store      audit.IStore
	Controller *audit.Controller
	Metrics    *audit.Metrics
	Logger     logging.Logger
	// DB SQL 存储时的数据库连接，可供业务记录共用
	DB core.IDatabase

	closers []func() error
}

// Close 按组装的逆序释放连接
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return stdErrors.Join(errs...)
}

// BuildOption 组装选项
type BuildOption func(*buildOptions)

type buildOptions struct {
	registerer prometheus.Registerer
	setGlobal  bool
}

// WithRegisterer 指定指标注册表，默认 prometheus.DefaultRegisterer
func WithRegisterer(reg prometheus.Registerer) BuildOption {
	return func(o *buildOptions) { o.registerer = reg }
}

// WithGlobalLogger 同时把日志器设置为全局默认
func WithGlobalLogger() BuildOption {
	return func(o *buildOptions) { o.setGlobal = true }
}

// Build 根据配置创建日志器、审计存储（可选 NATS 通知）与控制器
func Build(ctx context.Context, cfg *Config, opts ...BuildOption) (*Runtime, error) {
	o := buildOptions{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if cfg == nil {
		cfg = Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rt := &Runtime{Logger: buildLogger(cfg.Log)}
	if o.setGlobal {
		logging.SetLogger(rt.Logger)
	}

	store, err := rt.buildStore(ctx, cfg.Store)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	if cfg.Notify.NATS.Enabled {
		natsCfg := cfg.Notify.NATS.Config
		natsCfg.Logger = rt.Logger.WithFields(logging.Component("audit.natsnotify"))
		notifier, closeFn, err := natsnotify.Connect(store, natsCfg)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, func() error { closeFn(); return nil })
		store = notifier
	}
	rt.Store = store

	if cfg.Audit.Metrics {
		rt.Metrics = audit.NewMetrics(o.registerer)
	}
	var tpl *audit.Template
	if len(cfg.Audit.Fields) > 0 {
		tpl = &audit.Template{Fields: cfg.Audit.Fields}
	}
	rt.Controller = audit.NewController(store, audit.Config{
		DisableTimeTaken: cfg.Audit.DisableTimeTaken,
		Template:         tpl,
		Logger:           rt.Logger.WithFields(logging.Component("audit.controller")),
		Metrics:          rt.Metrics,
	})
	rt.Logger.Info(ctx, "audit runtime ready",
		logging.String("store", cfg.Store.Kind),
		logging.Bool("nats", cfg.Notify.NATS.Enabled))
	return rt, nil
}

func buildLogger(cfg LogConfig) logging.Logger {
	level, ok := logging.ParseLevel(cfg.Level)
	l := logging.NewStdLogger(cfg.Prefix, level)
	if !ok {
		l.Warn(context.Background(), "unknown log level, falling back to info", logging.String("level", cfg.Level))
	}
	return l
}

func (r *Runtime) buildStore(ctx context.Context, cfg StoreConfig) (audit.IStore, error) {
	switch cfg.Kind {
	case StoreSQL:
		db, err := basic.New(cfg.SQL.DBConfig)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeDatabase, "open audit database")
		}
		r.closers = append(r.closers, db.Close)
		r.DB = db
		store, err := sqlstore.New(db, cfg.SQL.Config)
		if err != nil {
			return nil, err
		}
		if cfg.SQL.AutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				return nil, err
			}
		}
		return store, nil

	case StoreRedis:
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		r.closers = append(r.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeCache, "ping redis")
		}
		ids, err := snowflake.NewGenerator(cfg.Redis.IDs)
		if err != nil {
			return nil, err
		}
		return redisstore.New(client, ids, cfg.Redis.Config), nil

	default:
		return memory.NewStore(), nil
	}
}
