package models

import (
	"context"
	"sync"
)

// Lease 表示对驻留模型的一次使用。持有期间模型不会被空闲卸载，
// 显式卸载时也会推迟到所有租约归还后才关闭。
type Lease struct {
	m     *Manager
	name  string
	entry *entry
	once  sync.Once
}

// Name 返回模型名称。
func (l *Lease) Name() string {
	return l.name
}

// Model 返回租用的模型。
func (l *Lease) Model() Model {
	return l.entry.model
}

// Release 归还租约并刷新访问时间，可重复调用。
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		m := l.m
		e := l.entry

		m.mu.Lock()
		e.refs--
		if now := m.now(); now.After(e.lastAccess) {
			e.lastAccess = now
		}
		closable := e.retired && e.refs == 0
		m.mu.Unlock()

		if closable {
			// 移出事件已在卸载时通知，这里只补做关闭与回收
			closeModel(l.name, e.model)
			m.runReclaim()
		}
	})
}

// Acquire 获取模型并持有租约，用完必须调用 Lease.Release。
// ctx 结束时返回 ctx.Err()，后台完成的租约会自动归还。
func (m *Manager) Acquire(ctx context.Context, name string, load LoadFunc) (*Lease, error) {
	type result struct {
		lease *Lease
		err   error
	}

	ch := make(chan result, 1)
	go func() {
		e, err := m.get(name, load, true)
		if err != nil {
			ch <- result{err: err}
			return
		}
		ch <- result{lease: &Lease{m: m, name: name, entry: e}}
	}()

	select {
	case r := <-ch:
		return r.lease, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.lease != nil {
				r.lease.Release()
			}
		}()
		return nil, ctx.Err()
	}
}
