// voicehub-mcp 通过标准输入输出提供 MCP 工具，可直接配置到桌面客户端。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/iabetor/voicehub/internal/app"
	"github.com/iabetor/voicehub/internal/config"
	"github.com/iabetor/voicehub/internal/logger"
	"github.com/iabetor/voicehub/internal/mcp"
)

func main() {
	configPath := flag.String("config", "configs/voicehub.yaml", "配置文件路径")
	flag.Parse()

	cfg := config.Default()
	if _, err := os.Stat(*configPath); err == nil {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// stdout 留给协议，日志只写 stderr 与文件
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

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		logger.Errorf("[main] 初始化失败: %v", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := mcp.ServeStdio(ctx, a.Tools); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		logger.Errorf("[main] MCP 服务出错: %v", err)
	}
}
