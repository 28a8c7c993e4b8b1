package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/iabetor/voicehub/internal/app"
	"github.com/iabetor/voicehub/internal/config"
	"github.com/iabetor/voicehub/internal/logger"
)

func main() {
	configPath := flag.String("config", "configs/voicehub.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infof("[main] voicehub 启动中 (log_level=%s)", cfg.Log.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, app.Options{Tasks: true, Preload: true})
	if err != nil {
		logger.Errorf("[main] 初始化失败: %v", err)
		os.Exit(1)
	}
	defer a.Close()

	srv, err := a.Server()
	if err != nil {
		logger.Errorf("[main] 创建 HTTP 服务失败: %v", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Errorf("[main] HTTP 服务出错: %v", err)
		return
	}

	logger.Info("[main] voicehub 已停止")
}

// loadConfig 读取配置文件，文件不存在时使用默认配置。
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "配置文件 %s 不存在，使用默认配置\n", path)
		return config.Default(), nil
	}
	return config.Load(path)
}
