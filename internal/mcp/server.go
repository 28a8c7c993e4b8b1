package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/iabetor/voicehub/internal/logger"
)

// ServerName 是 MCP 握手时报告的实现名称。
const ServerName = "voicehub"

// NewServer 基于注册表中的工具构建 MCP 服务。
func NewServer(registry *Registry) (*sdk.Server, error) {
	server := sdk.NewServer(&sdk.Implementation{
		Name: ServerName,
	}, &sdk.ServerOptions{
		KeepAlive: time.Second * 30,
	})

	for _, def := range registry.List() {
		schema := new(jsonschema.Schema)

		if err := schema.UnmarshalJSON(def.Parameters); err != nil {
			return nil, err
		}

		server.AddTool(&sdk.Tool{
			Name:        def.Name,
			Description: def.Description,

			InputSchema: schema,
		}, toolHandler(registry, def.Name))
	}

	return server, nil
}

func toolHandler(registry *Registry, name string) sdk.ToolHandler {
	return func(ctx context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
		args, _ := json.Marshal(req.Params.Arguments)
		if len(args) == 0 || bytes.Equal(args, []byte("null")) {
			args = []byte("{}")
		}

		result, err := registry.Execute(ctx, name, args)
		if err != nil {
			return &sdk.CallToolResult{
				IsError: true,
				Content: []sdk.Content{
					&sdk.TextContent{
						Text: "Error: " + err.Error(),
					},
				},
			}, nil
		}

		return &sdk.CallToolResult{
			Content: []sdk.Content{
				&sdk.TextContent{
					Text: result,
				},
			},
		}, nil
	}
}

// Handler 返回无状态的 streamable HTTP 处理器，挂载于 /mcp。
func Handler(registry *Registry) (http.Handler, error) {
	server, err := NewServer(registry)
	if err != nil {
		return nil, err
	}

	return sdk.NewStreamableHTTPHandler(func(r *http.Request) *sdk.Server {
		return server
	}, &sdk.StreamableHTTPOptions{
		Stateless: true,
	}), nil
}

// ServeStdio 通过标准输入输出提供 MCP 服务，直到 ctx 结束或对端断开。
func ServeStdio(ctx context.Context, registry *Registry) error {
	server, err := NewServer(registry)
	if err != nil {
		return err
	}

	logger.Infof("[mcp] stdio 模式已启动，共 %d 个工具", registry.Count())
	return server.Run(ctx, &sdk.StdioTransport{})
}
