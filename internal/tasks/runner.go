package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iabetor/voicehub/internal/logger"
)

// Job 是一次转写工作，返回序列化后的结果。
type Job func(ctx context.Context) (string, error)

const janitorInterval = 10 * time.Minute

// Runner 在有界并发下执行任务并保存结果。
type Runner struct {
	store     *Store
	sem       chan struct{}
	retention time.Duration
	notifier  Notifier

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RunnerOption 配置 Runner。
type RunnerOption func(*Runner)

// WithNotifier 设置任务结束时的通知方。
func WithNotifier(n Notifier) RunnerOption {
	return func(r *Runner) { r.notifier = n }
}

// NewRunner 创建任务执行器。workers <= 0 时为 1，retention <= 0 时不清理。
func NewRunner(store *Store, workers int, retention time.Duration, opts ...RunnerOption) *Runner {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		store:     store,
		sem:       make(chan struct{}, workers),
		retention: retention,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start 标记上次运行遗留的任务为失败，并启动过期清理。
func (r *Runner) Start() {
	if n, err := r.store.MarkInterrupted(); err != nil {
		logger.Warnf("[tasks] %v", err)
	} else if n > 0 {
		logger.Infof("[tasks] %d 个未完成任务已标记为中断", n)
	}

	if r.retention <= 0 {
		return
	}
	r.purge()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(janitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				r.purge()
			}
		}
	}()
}

func (r *Runner) purge() {
	n, err := r.store.Purge(r.store.now().Add(-r.retention))
	if err != nil {
		logger.Warnf("[tasks] %v", err)
		return
	}
	if n > 0 {
		logger.Infof("[tasks] 已清理 %d 个过期任务", n)
	}
}

// Submit 创建任务并在后台执行，立即返回任务 ID。
func (r *Runner) Submit(model string, job Job) (string, error) {
	if err := r.ctx.Err(); err != nil {
		return "", fmt.Errorf("任务执行器已关闭: %w", err)
	}

	id := uuid.NewString()
	if err := r.store.Create(id, model); err != nil {
		return "", err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(id, model, job)
	}()

	logger.Debugf("[tasks] 已提交任务 %s (model=%s)", id, model)
	return id, nil
}

func (r *Runner) run(id, model string, job Job) {
	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-r.ctx.Done():
		r.finish(id, model, "", r.ctx.Err())
		return
	}
	if err := r.ctx.Err(); err != nil {
		r.finish(id, model, "", err)
		return
	}

	result, err := r.execute(job)
	r.finish(id, model, result, err)
}

// execute 运行 job，panic 视为失败。
func (r *Runner) execute(job Job) (result string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("任务 panic: %v", p)
		}
	}()
	return job(r.ctx)
}

func (r *Runner) finish(id, model, result string, err error) {
	status := StatusCompleted
	if err != nil {
		status = StatusFailed
		logger.Warnf("[tasks] 任务 %s 失败: %v", id, err)
		if storeErr := r.store.Fail(id, err.Error()); storeErr != nil {
			logger.Errorf("[tasks] 保存任务 %s 失败: %v", id, storeErr)
		}
	} else {
		logger.Infof("[tasks] 任务 %s 已完成", id)
		if storeErr := r.store.Complete(id, result); storeErr != nil {
			logger.Errorf("[tasks] 保存任务 %s 失败: %v", id, storeErr)
		}
	}

	if r.notifier != nil {
		r.notifier.TaskFinished(Event{ID: id, Model: model, Status: status})
	}
}

// Get 查询任务。
func (r *Runner) Get(id string) (*Task, error) {
	return r.store.Get(id)
}

// Close 取消进行中的任务并等待所有 goroutine 退出。
func (r *Runner) Close() {
	r.cancel()
	r.wg.Wait()
}
