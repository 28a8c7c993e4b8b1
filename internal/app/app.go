// Package app 按配置组装 voicehub 的各个组件，供 HTTP 与 MCP stdio 入口共用。
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/iabetor/voicehub/internal/audio"
	"github.com/iabetor/voicehub/internal/catalog"
	"github.com/iabetor/voicehub/internal/config"
	"github.com/iabetor/voicehub/internal/database"
	"github.com/iabetor/voicehub/internal/logger"
	"github.com/iabetor/voicehub/internal/mcp"
	"github.com/iabetor/voicehub/internal/models"
	"github.com/iabetor/voicehub/internal/otel"
	"github.com/iabetor/voicehub/internal/server"
	"github.com/iabetor/voicehub/internal/tasks"
)

// eventRetention 模型事件保留时长，启动时清理更早的记录。
const eventRetention = 30 * 24 * time.Hour

// Options 控制组装哪些可选组件。
type Options struct {
	// Tasks 启动异步转写任务执行器；同一数据库只应有一个进程启用。
	Tasks bool
	// Preload 启动时预加载 models.preload。
	Preload bool
}

// App 持有全部组件。
type App struct {
	cfg *config.Config

	DB       *database.DB
	Events   *database.EventLog
	Manager  *models.Manager
	Catalog  *catalog.Catalog
	Codec    *audio.Codec
	Outputs  *audio.OutputStore
	Runner   *tasks.Runner
	Notifier *tasks.NatsNotifier
	Tools    *mcp.Registry

	otelShutdown otel.ShutdownFunc
}

// New 根据配置创建并初始化 App。失败时已创建的组件会被关闭。
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{cfg: cfg}

	var err error

	a.otelShutdown, err = otel.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("初始化 OpenTelemetry 失败: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
		a.Close()
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	a.DB, err = database.Open(cfg.Database.Path)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	if err := a.DB.Migrate(); err != nil {
		a.Close()
		return nil, fmt.Errorf("数据库迁移失败: %w", err)
	}
	a.Events = database.NewEventLog(a.DB)
	if n, err := a.Events.Prune(time.Now().Add(-eventRetention)); err != nil {
		logger.Warnf("[app] 清理模型事件失败: %v", err)
	} else if n > 0 {
		logger.Infof("[app] 已清理 %d 条过期模型事件", n)
	}

	// 模型驻留缓存
	a.Manager = models.New(
		models.WithIdleTimeout(cfg.Models.IdleTimeoutDuration()),
		models.WithObserver(a.Events),
		models.WithObserver(otel.NewModelObserver(nil)),
	)
	a.Catalog = catalog.New(cfg, a.Manager)

	// 音频编解码，ffmpeg 不可用时只支持 WAV/MP3
	transcoder := audio.NewTranscoder(cfg.STT.FFmpegPath)
	if transcoder.Available() {
		a.Codec = audio.NewCodec(transcoder)
	} else {
		logger.Warnf("[app] 未找到 ffmpeg (%s)，仅支持 WAV/MP3 输入与 WAV/PCM 输出", cfg.STT.FFmpegPath)
		a.Codec = audio.NewCodec(nil)
	}

	a.Outputs, err = audio.NewOutputStore(cfg.Models.OutputDir, cfg.Models.OutputMaxMB)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Tools = mcp.NewDefaultRegistry(cfg, a.Catalog, a.Codec, a.Outputs)

	if opts.Tasks {
		var runnerOpts []tasks.RunnerOption
		if cfg.Tasks.NatsURL != "" {
			a.Notifier, err = tasks.DialNatsNotifier(cfg.Tasks.NatsURL, cfg.Tasks.NatsSubject)
			if err != nil {
				// 通知不可用不影响转写
				logger.Warnf("[app] 连接 NATS 失败，任务通知已禁用: %v", err)
			} else {
				runnerOpts = append(runnerOpts, tasks.WithNotifier(a.Notifier))
			}
		}
		a.Runner = tasks.NewRunner(tasks.NewStore(a.DB), cfg.Tasks.Workers, cfg.Tasks.Retention(), runnerOpts...)
		a.Runner.Start()
	}

	if opts.Preload {
		a.Catalog.Preload(ctx)
	}

	if cfg.Models.IdleTimeout > 0 {
		a.Manager.StartCleanupLoop(cfg.Models.CleanupIntervalDuration())
	}

	logger.Infof("[app] 初始化完成 (model_dir=%s, idle_timeout=%ds)", cfg.Models.ModelDir, cfg.Models.IdleTimeout)
	return a, nil
}

// Server 创建 HTTP 服务。
func (a *App) Server() (*server.Server, error) {
	return server.New(a.cfg, server.Deps{
		Catalog: a.Catalog,
		Codec:   a.Codec,
		Outputs: a.Outputs,
		Events:  a.Events,
		Runner:  a.Runner,
		Tools:   a.Tools,
	})
}

// Close 按依赖逆序关闭所有组件。
func (a *App) Close() {
	logger.Info("[app] 正在关闭...")

	if a.Manager != nil {
		a.Manager.StopCleanupLoop()
	}
	if a.Runner != nil {
		a.Runner.Close()
	}
	if a.Notifier != nil {
		a.Notifier.Close()
	}
	if a.Manager != nil {
		a.Manager.ReleaseAll()
	}
	if a.DB != nil {
		a.DB.Close()
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(context.Background()); err != nil {
			logger.Warnf("[app] 关闭 OpenTelemetry 失败: %v", err)
		}
	}

	logger.Info("[app] 已关闭")
}
