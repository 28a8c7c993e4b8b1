// Package server 提供 HTTP 接口：模型管理、语音合成、语音识别、异步任务与 MCP。
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/iabetor/voicehub/internal/audio"
	"github.com/iabetor/voicehub/internal/catalog"
	"github.com/iabetor/voicehub/internal/config"
	"github.com/iabetor/voicehub/internal/database"
	"github.com/iabetor/voicehub/internal/logger"
	"github.com/iabetor/voicehub/internal/mcp"
	"github.com/iabetor/voicehub/internal/tasks"
)

// Deps 是服务依赖的组件，Events、Runner、Tools 与 Outputs 可以为 nil。
type Deps struct {
	Catalog *catalog.Catalog
	Codec   *audio.Codec
	Outputs *audio.OutputStore
	Events  *database.EventLog
	Runner  *tasks.Runner
	Tools   *mcp.Registry
}

// Server 是 voicehub 的 HTTP 服务。
type Server struct {
	*config.Config
	Deps

	limiter *rate.Limiter
}

// New 创建 HTTP 服务。
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Catalog == nil || deps.Codec == nil {
		return nil, errors.New("server: 缺少模型目录或编解码器")
	}

	s := &Server{
		Config: cfg,
		Deps:   deps,
	}

	if cfg.Server.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.Server.RateLimit), cfg.Server.RateLimit)
	}

	return s, nil
}

// Handler 构建路由。
func (s *Server) Handler() (http.Handler, error) {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Sample-Rate", "X-Channels", "X-Bit-Depth"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/models", s.handleResidentModels)
		r.Get("/models/events", s.handleModelEvents)

		r.Get("/outputs", s.handleOutputs)
		r.Get("/outputs/{id}", s.handleOutput)
		r.Delete("/outputs/{id}", s.handleDeleteOutput)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/models", s.handleModels)
		r.Post("/models", s.handleLoadModel)
		r.Delete("/models/*", s.handleUnloadModel)

		r.Group(func(r chi.Router) {
			r.Use(s.limit)

			r.Post("/audio/speech", s.handleSpeech)
			r.Post("/audio/speech/stream", s.handleSpeechStream)

			r.Post("/audio/transcriptions", s.handleTranscription)
			r.Post("/audio/transcriptions/async", s.handleTranscriptionAsync)
		})

		r.Get("/audio/transcriptions/async/{id}", s.handleTranscriptionTask)
	})

	if s.Tools != nil {
		mcpHandler, err := mcp.Handler(s.Tools)
		if err != nil {
			return nil, err
		}

		r.Get("/mcp/tools", s.handleTools)
		r.With(s.limit).Post("/mcp/call/{tool}", s.handleToolCall)
		r.Handle("/mcp", mcpHandler)
	}

	if dir := s.Server.StaticDir; dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			r.Handle("/*", http.FileServer(http.Dir(dir)))
		} else {
			logger.Warnf("[server] 静态目录 %s 不存在，跳过 UI", dir)
		}
	}

	return otelhttp.NewHandler(r, "voicehub"), nil
}

// Run 启动 HTTP 服务，ctx 结束后优雅关闭。
func (s *Server) Run(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              s.Server.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// 流式合成不设置 WriteTimeout
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("[server] HTTP 服务监听 %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("[server] 正在关闭 HTTP 服务...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
