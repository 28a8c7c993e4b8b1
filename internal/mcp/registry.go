// Package mcp 将语音合成与识别能力包装为工具，通过 MCP 协议与旧版 HTTP 接口暴露。
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/iabetor/voicehub/internal/logger"
)

// ErrUnknownTool 表示工具未注册。
var ErrUnknownTool = errors.New("未知工具")

// Tool 定义工具接口，每个工具必须自描述。
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// Definition 是工具的描述，用于 GET /mcp/tools。
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Registry 管理所有已注册工具。
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry 创建工具注册表。
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register 注册一个工具，同名工具会被替换。
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	r.tools[t.Name()] = t
	r.mu.Unlock()
	logger.Debugf("[mcp] 已注册工具: %s", t.Name())
}

// Get 获取指定名称的工具。
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List 返回按名称排序的工具描述。
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	r.mu.RUnlock()

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute 执行指定工具并返回结果。
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	logger.Debugf("[mcp] 执行工具: %s, 参数: %s", name, string(args))
	result, err := t.Execute(ctx, args)
	if err != nil {
		logger.Warnf("[mcp] 工具 %s 执行失败: %v", name, err)
		return "", err
	}
	logger.Debugf("[mcp] 工具 %s 执行成功", name)
	return result, nil
}

// Count 返回已注册工具数量。
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
