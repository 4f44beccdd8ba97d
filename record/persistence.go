package record

import (
	"context"
	"fmt"
	"sync"
)

// IPersistence 记录的持久化后端
type IPersistence interface {
	// Insert 写入新记录并返回分配的主键
	Insert(ctx context.Context, s *Schema, data map[string]Value) (Value, error)
	// Update 仅写入变化的字段
	Update(ctx context.Context, s *Schema, id Value, data map[string]Value) error
	Delete(ctx context.Context, s *Schema, id Value) error
	// Load 读取记录；fields 非空时只返回这些字段
	Load(ctx context.Context, s *Schema, id Value, fields []string) (map[string]Value, error)
}

// MemoryPersistence 进程内持久化实现，主键自增
type MemoryPersistence struct {
	mu     sync.RWMutex
	tables map[string]map[string]map[string]Value
	seq    map[string]int64
}

// NewMemoryPersistence 创建内存持久化
func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{
		tables: make(map[string]map[string]map[string]Value),
		seq:    make(map[string]int64),
	}
}

func idKey(id Value) string {
	return fmt.Sprintf("%s:%v", id.Kind(), id.Interface())
}

func (p *MemoryPersistence) Insert(ctx context.Context, s *Schema, data map[string]Value) (Value, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq[s.Name]++
	id := Int(p.seq[s.Name])
	table, ok := p.tables[s.Name]
	if !ok {
		table = make(map[string]map[string]Value)
		p.tables[s.Name] = table
	}
	row := make(map[string]Value, len(data))
	for k, v := range data {
		row[k] = v
	}
	table[idKey(id)] = row
	return id, nil
}

func (p *MemoryPersistence) Update(ctx context.Context, s *Schema, id Value, data map[string]Value) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	row, ok := p.tables[s.Name][idKey(id)]
	if !ok {
		return ErrNotFound.WithContext("model", s.Name).WithContext("id", id.Interface())
	}
	for k, v := range data {
		row[k] = v
	}
	return nil
}

func (p *MemoryPersistence) Delete(ctx context.Context, s *Schema, id Value) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := idKey(id)
	if _, ok := p.tables[s.Name][key]; !ok {
		return ErrNotFound.WithContext("model", s.Name).WithContext("id", id.Interface())
	}
	delete(p.tables[s.Name], key)
	return nil
}

func (p *MemoryPersistence) Load(ctx context.Context, s *Schema, id Value, fields []string) (map[string]Value, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	row, ok := p.tables[s.Name][idKey(id)]
	if !ok {
		return nil, ErrNotFound.WithContext("model", s.Name).WithContext("id", id.Interface())
	}
	out := make(map[string]Value, len(row))
	if len(fields) == 0 {
		for k, v := range row {
			out[k] = v
		}
		return out, nil
	}
	for _, f := range fields {
		if v, ok := row[f]; ok {
			out[f] = v
		}
	}
	return out, nil
}

// Count 返回某类记录的条数（测试辅助）
func (p *MemoryPersistence) Count(schema string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.tables[schema])
}

// Put 以指定主键写入一行（测试与数据导入用），整数主键会推进自增序列
func (p *MemoryPersistence) Put(s *Schema, id Value, row map[string]Value) {
	p.mu.Lock()
	defer p.mu.Unlock()
	table, ok := p.tables[s.Name]
	if !ok {
		table = make(map[string]map[string]Value)
		p.tables[s.Name] = table
	}
	cp := make(map[string]Value, len(row))
	for k, v := range row {
		cp[k] = v
	}
	table[idKey(id)] = cp
	if id.Kind() == KindInt && id.Int64() > p.seq[s.Name] {
		p.seq[s.Name] = id.Int64()
	}
}
