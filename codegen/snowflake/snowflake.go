// Package snowflake 雪花算法 ID 生成器，供没有自增主键的审计存储分配 int64 ID
package snowflake

import (
	"sync"
	"time"

	"audittrail/errors"
)

const (
	workerIDBits     = 5
	datacenterIDBits = 5
	sequenceBits     = 12

	maxWorkerID     = -1 ^ (-1 << workerIDBits)     // 31
	maxDatacenterID = -1 ^ (-1 << datacenterIDBits) // 31
	maxSequence     = -1 ^ (-1 << sequenceBits)     // 4095

	workerIDShift      = sequenceBits
	datacenterIDShift  = sequenceBits + workerIDBits
	timestampLeftShift = sequenceBits + workerIDBits + datacenterIDBits
)

// DefaultEpoch 2023-01-01 00:00:00 UTC
var DefaultEpoch = time.UnixMilli(1672531200000).UTC()

var ErrClockBackwards = errors.NewError(errors.ErrCodeInternal, "clock moved backwards, refusing to generate id")

// Config 生成器配置，零值可用
type Config struct {
	DatacenterID int64     `yaml:"datacenter_id"`
	WorkerID     int64     `yaml:"worker_id"`
	Epoch        time.Time `yaml:"-"`
}

// Generator 并发安全的 ID 生成器
type Generator struct {
	mu            sync.Mutex
	epoch         int64
	datacenterID  int64
	workerID      int64
	sequence      int64
	lastTimestamp int64
	now           func() int64
}

// NewGenerator 创建生成器
func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.DatacenterID < 0 || cfg.DatacenterID > maxDatacenterID {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "datacenter id %d out of range [0, %d]", cfg.DatacenterID, maxDatacenterID)
	}
	if cfg.WorkerID < 0 || cfg.WorkerID > maxWorkerID {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "worker id %d out of range [0, %d]", cfg.WorkerID, maxWorkerID)
	}
	epoch := cfg.Epoch
	if epoch.IsZero() {
		epoch = DefaultEpoch
	}
	return &Generator{
		epoch:         epoch.UnixMilli(),
		datacenterID:  cfg.DatacenterID,
		workerID:      cfg.WorkerID,
		lastTimestamp: -1,
		now:           func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// NextID 生成下一个 ID。同一毫秒内序列号用尽时等待下一毫秒。
func (g *Generator) NextID() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now < g.lastTimestamp {
		return 0, ErrClockBackwards.WithDetails(map[string]any{"last": g.lastTimestamp, "now": now})
	}
	if now == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			for now <= g.lastTimestamp {
				now = g.now()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastTimestamp = now

	return ((now - g.epoch) << timestampLeftShift) |
		(g.datacenterID << datacenterIDShift) |
		(g.workerID << workerIDShift) |
		g.sequence, nil
}

// Parts ID 的组成部分
type Parts struct {
	Time         time.Time
	DatacenterID int64
	WorkerID     int64
	Sequence     int64
}

// Parse 按生成器的 epoch 拆解 ID
func (g *Generator) Parse(id int64) Parts {
	return Parts{
		Time:         time.UnixMilli((id >> timestampLeftShift) + g.epoch).UTC(),
		DatacenterID: (id >> datacenterIDShift) & maxDatacenterID,
		WorkerID:     (id >> workerIDShift) & maxWorkerID,
		Sequence:     id & maxSequence,
	}
}
