// Package models 实现模型驻留缓存：按名称懒加载推理模型，
// 命中时复用同一实例，空闲超时后卸载并回收内存。
package models

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/iabetor/voicehub/internal/logger"
)

// Model 是驻留缓存持有的模型句柄。Close 释放其占用的原生资源。
type Model interface {
	Close()
}

// LoadFunc 按需构造模型。
type LoadFunc func() (Model, error)

// entry 是驻留表中的一条记录。
type entry struct {
	model      Model
	lastAccess time.Time
	loadedAt   time.Time
	loadTime   time.Duration

	// refs 为活跃租约数，retired 表示已移出驻留表、等待最后一个租约归还后关闭
	refs    int
	retired bool
}

// keyLock 是单个模型名的加载锁，waiters 归零后从表中移除。
type keyLock struct {
	mu      sync.Mutex
	waiters int
}

// Manager 管理已加载模型的生命周期。
// 不同名称的模型可并行加载，同一名称同时最多只有一次加载。
type Manager struct {
	mu      sync.Mutex
	models  map[string]*entry
	loading map[string]*keyLock

	idleTimeout time.Duration
	now         func() time.Time
	reclaim     func()
	memory      MemoryReporter
	observers   []Observer

	loopMu sync.Mutex
	loop   *CleanupLoop
}

// Option 配置 Manager。
type Option func(*Manager)

// WithIdleTimeout 设置空闲超时，<= 0 表示永不因空闲卸载。
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) { m.idleTimeout = d }
}

// WithClock 替换时间源，测试用。
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithReclaim 设置卸载模型后调用的内存回收钩子。
func WithReclaim(fn func()) Option {
	return func(m *Manager) { m.reclaim = fn }
}

// WithMemoryReporter 设置内存统计来源。
func WithMemoryReporter(r MemoryReporter) Option {
	return func(m *Manager) { m.memory = r }
}

// WithObserver 注册生命周期事件监听。
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observers = append(m.observers, o) }
}

// DefaultIdleTimeout 默认空闲超时。
const DefaultIdleTimeout = 300 * time.Second

// New 创建模型驻留缓存。
func New(opts ...Option) *Manager {
	m := &Manager{
		models:      make(map[string]*entry),
		loading:     make(map[string]*keyLock),
		idleTimeout: DefaultIdleTimeout,
		now:         time.Now,
		reclaim:     debug.FreeOSMemory,
		memory:      NewProcessMemory(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IdleTimeout 返回空闲超时。
func (m *Manager) IdleTimeout() time.Duration {
	return m.idleTimeout
}

// Get 返回名为 name 的模型，未驻留时调用 load 加载。
// 加载失败时驻留表不变，错误原样返回。
func (m *Manager) Get(name string, load LoadFunc) (Model, error) {
	e, err := m.get(name, load, false)
	if err != nil {
		return nil, err
	}
	return e.model, nil
}

// GetAsync 与 Get 语义相同，加载在独立 goroutine 中进行。
// ctx 结束时立即返回 ctx.Err()，加载继续执行并写入驻留表。
func (m *Manager) GetAsync(ctx context.Context, name string, load LoadFunc) (Model, error) {
	type result struct {
		model Model
		err   error
	}

	ch := make(chan result, 1)
	go func() {
		model, err := m.Get(name, load)
		ch <- result{model: model, err: err}
	}()

	select {
	case r := <-ch:
		return r.model, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) get(name string, load LoadFunc, lease bool) (*entry, error) {
	m.mu.Lock()
	if e, ok := m.hitLocked(name, lease); ok {
		m.mu.Unlock()
		return e, nil
	}
	kl := m.loading[name]
	if kl == nil {
		kl = &keyLock{}
		m.loading[name] = kl
	}
	kl.waiters++
	m.mu.Unlock()

	kl.mu.Lock()
	defer func() {
		kl.mu.Unlock()

		m.mu.Lock()
		kl.waiters--
		if kl.waiters == 0 {
			delete(m.loading, name)
		}
		m.mu.Unlock()
	}()

	// 等锁期间可能已被其他调用方加载
	m.mu.Lock()
	if e, ok := m.hitLocked(name, lease); ok {
		m.mu.Unlock()
		return e, nil
	}
	m.mu.Unlock()

	logger.Infof("[models] 正在加载模型: %s", name)

	start := m.now()
	model, err := load()
	if err != nil {
		logger.Warnf("[models] 模型 %s 加载失败: %v", name, err)
		return nil, err
	}
	if model == nil {
		return nil, fmt.Errorf("模型 %s 加载结果为空", name)
	}

	finished := m.now()
	e := &entry{
		model:      model,
		lastAccess: finished,
		loadedAt:   finished,
		loadTime:   finished.Sub(start),
	}
	if lease {
		e.refs = 1
	}

	m.mu.Lock()
	m.models[name] = e
	m.mu.Unlock()

	logger.Infof("[models] 模型 %s 已加载，耗时 %s", name, e.loadTime)
	m.notify(func(o Observer) { o.ModelLoaded(name, e.loadTime) })

	return e, nil
}

// hitLocked 在命中时刷新 last_access（调用方需持有 m.mu）。
func (m *Manager) hitLocked(name string, lease bool) (*entry, bool) {
	e, ok := m.models[name]
	if !ok {
		return nil, false
	}
	if now := m.now(); now.After(e.lastAccess) {
		e.lastAccess = now
	}
	if lease {
		e.refs++
	}
	return e, true
}

// Release 卸载名为 name 的模型。未驻留时返回 false。
// 仍有活跃租约的模型立即移出驻留表，最后一个租约归还时再关闭。
func (m *Manager) Release(name string) bool {
	m.mu.Lock()
	e, ok := m.models[name]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.models, name)
	closable := m.retireLocked(e)
	m.mu.Unlock()

	logger.Infof("[models] 模型 %s 已卸载", name)
	m.dispose(map[string]*entry{name: closable}, EventReleased)
	return true
}

// ReleaseAll 卸载全部模型，可重复调用。
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	removed := make(map[string]*entry, len(m.models))
	for name, e := range m.models {
		removed[name] = m.retireLocked(e)
	}
	m.models = make(map[string]*entry)
	m.mu.Unlock()

	if len(removed) > 0 {
		logger.Infof("[models] 已卸载全部 %d 个模型", len(removed))
	}
	m.dispose(removed, EventReleased)
}

// CleanupIdle 卸载超过空闲超时的模型，返回被卸载的名称。
// 空闲时长恰好等于超时的模型保留，有活跃租约的模型不算空闲。
func (m *Manager) CleanupIdle() []string {
	if m.idleTimeout <= 0 {
		return nil
	}

	m.mu.Lock()
	now := m.now()
	removed := make(map[string]*entry)
	for name, e := range m.models {
		if e.refs > 0 {
			continue
		}
		if now.Sub(e.lastAccess) > m.idleTimeout {
			delete(m.models, name)
			removed[name] = e
		}
	}
	m.mu.Unlock()

	if len(removed) == 0 {
		return nil
	}

	names := make([]string, 0, len(removed))
	for name := range removed {
		names = append(names, name)
	}
	sort.Strings(names)

	logger.Infof("[models] 空闲卸载 %d 个模型: %v", len(names), names)
	m.dispose(removed, EventEvicted)
	return names
}

// retireLocked 将 e 标记为已移出，返回可立即关闭的记录；有租约时返回 nil。
func (m *Manager) retireLocked(e *entry) *entry {
	e.retired = true
	if e.refs > 0 {
		return nil
	}
	return e
}

// dispose 关闭已移出的模型并触发一次内存回收。
func (m *Manager) dispose(removed map[string]*entry, event Event) {
	if len(removed) == 0 {
		return
	}
	for name, e := range removed {
		if e != nil {
			closeModel(name, e.model)
		}
		m.notify(func(o Observer) { o.ModelRemoved(name, event) })
	}
	m.runReclaim()
}

func (m *Manager) runReclaim() {
	if m.reclaim == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[models] 内存回收异常: %v", r)
		}
	}()
	m.reclaim()
}

func closeModel(name string, model Model) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[models] 关闭模型 %s 异常: %v", name, r)
		}
	}()
	model.Close()
}

func (m *Manager) notify(fn func(Observer)) {
	for _, o := range m.observers {
		fn(o)
	}
}

// List 返回当前驻留的模型名称。
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.namesLocked()
}

func (m *Manager) namesLocked() []string {
	names := make([]string, 0, len(m.models))
	for name := range m.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has 返回 name 是否驻留，不刷新访问时间。
func (m *Manager) Has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.models[name]
	return ok
}
