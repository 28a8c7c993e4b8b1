package models

import (
	"context"
	"time"

	"github.com/iabetor/voicehub/internal/logger"
)

// DefaultCleanupInterval 默认空闲检查间隔。
const DefaultCleanupInterval = 60 * time.Second

// CleanupLoop 是后台空闲卸载循环的句柄。
type CleanupLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop 停止循环并等待其退出。不会中断正在进行的清理。
func (l *CleanupLoop) Stop() {
	l.cancel()
	<-l.done
}

// Done 在循环退出后关闭。
func (l *CleanupLoop) Done() <-chan struct{} {
	return l.done
}

// StartCleanupLoop 启动后台循环，每隔 interval 调用一次 CleanupIdle。
// 已有循环在运行时先停止旧循环。
func (m *Manager) StartCleanupLoop(interval time.Duration) *CleanupLoop {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}

	m.loopMu.Lock()
	defer m.loopMu.Unlock()

	if m.loop != nil {
		m.loop.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	loop := &CleanupLoop{cancel: cancel, done: make(chan struct{})}
	m.loop = loop

	go m.runLoop(ctx, interval, loop.done)

	logger.Infof("[models] 空闲清理已启动 (interval=%s, idle_timeout=%s)", interval, m.idleTimeout)
	return loop
}

// StopCleanupLoop 停止后台循环并等待退出，未启动时直接返回。
func (m *Manager) StopCleanupLoop() {
	m.loopMu.Lock()
	loop := m.loop
	m.loop = nil
	m.loopMu.Unlock()

	if loop != nil {
		loop.Stop()
		logger.Info("[models] 空闲清理已停止")
	}
}

func (m *Manager) runLoop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.cleanupPass()
		}
	}
}

// cleanupPass 执行一轮清理，panic 只记录日志，循环继续。
func (m *Manager) cleanupPass() {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[models] 空闲清理异常: %v", r)
		}
	}()
	m.CleanupIdle()
}
