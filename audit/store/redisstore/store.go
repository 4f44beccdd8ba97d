// Package redisstore 基于 Redis 的审计存储。
// 每条记录以 JSON 存为一个键，另用有序集合按目标记录建立索引。
package redisstore

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"strconv"

	"github.com/redis/go-redis/v9"

	"audittrail/audit"
	"audittrail/errors"
	"audittrail/logging"
	"audittrail/record"
)

const defaultPrefix = "audit"

// IDGenerator 分配审计记录 ID，通常是 snowflake.Generator
type IDGenerator interface {
	NextID() (int64, error)
}

// Config Redis 审计存储配置
type Config struct {
	// Prefix 键前缀，默认 audit
	Prefix string `yaml:"prefix"`
}

// Store Redis 审计存储
type Store struct {
	client redis.UniversalClient
	ids    IDGenerator
	prefix string
	logger logging.Logger
}

var _ audit.IStore = (*Store)(nil)

// New 创建 Redis 审计存储
func New(client redis.UniversalClient, ids IDGenerator, cfg Config) *Store {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{
		client: client,
		ids:    ids,
		prefix: prefix,
		logger: logging.ComponentLogger("audit.redisstore"),
	}
}

func (s *Store) entryKey(id int64) string {
	return s.prefix + ":entry:" + strconv.FormatInt(id, 10)
}

func (s *Store) modelKey(model string) string {
	return s.prefix + ":model:" + model
}

func (s *Store) targetKey(model string, id record.Value) (string, error) {
	enc, err := json.Marshal(record.CanonicalID(id))
	if err != nil {
		return "", err
	}
	return s.prefix + ":target:" + model + ":" + string(enc), nil
}

func (s *Store) Append(ctx context.Context, sess *audit.Session) error {
	id, err := s.ids.NextID()
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeInternal, "allocate audit id")
	}
	sess.ID = id
	if err := s.write(ctx, sess, false); err != nil {
		sess.ID = 0
		return err
	}
	s.logger.Debug(ctx, "audit entry appended", logging.Int64("audit_id", id), logging.String("model", sess.Model))
	return nil
}

func (s *Store) Update(ctx context.Context, sess *audit.Session) error {
	return s.write(ctx, sess, true)
}

func (s *Store) write(ctx context.Context, sess *audit.Session, mustExist bool) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeInternal, "encode audit entry")
	}
	key := s.entryKey(sess.ID)
	if mustExist {
		ok, err := s.client.SetXX(ctx, key, data, 0).Result()
		if err != nil && !stdErrors.Is(err, redis.Nil) {
			return errors.WrapError(err, errors.ErrCodeCache, "update audit entry")
		}
		if !ok {
			return errors.NewError(errors.ErrCodeNotFound, "audit entry not found").WithContext("id", sess.ID)
		}
	} else if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return errors.WrapError(err, errors.ErrCodeCache, "append audit entry")
	}

	member := redis.Z{Score: float64(sess.ID), Member: strconv.FormatInt(sess.ID, 10)}
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, s.modelKey(sess.Model), member)
		if !sess.ModelID.IsNull() {
			tk, err := s.targetKey(sess.Model, sess.ModelID)
			if err != nil {
				return err
			}
			p.ZAdd(ctx, tk, member)
		}
		return nil
	})
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeCache, "index audit entry")
	}
	return nil
}

func (s *Store) ListByTarget(ctx context.Context, model string, id record.Value) ([]*audit.Session, error) {
	key := s.modelKey(model)
	if !id.IsNull() {
		tk, err := s.targetKey(model, id)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "encode model id")
		}
		key = tk
	}
	members, err := s.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeCache, "list audit index")
	}
	if len(members) == 0 {
		return nil, nil
	}
	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = s.prefix + ":entry:" + m
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeCache, "load audit entries")
	}

	out := make([]*audit.Session, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			s.logger.Warn(ctx, "audit index points to a missing entry", logging.String("key", keys[i]))
			continue
		}
		var sess audit.Session
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeCache, "decode audit entry")
		}
		out = append(out, &sess)
	}
	return out, nil
}
