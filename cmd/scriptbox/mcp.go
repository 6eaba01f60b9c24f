package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/jkaninda/scriptbox/internal/sandbox"
)

var (
	mcpTimeout   float64
	mcpMaxMemory int64
	mcpWorkDir   string
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the sandbox as an MCP tool over stdio",
	Long: `Expose the sandbox as a Model Context Protocol server on stdio.
Registers a single script_run tool that executes untrusted Lua and returns
the text output; rendered media comes back base64-encoded.`,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().Float64Var(&mcpTimeout, "timeout", 5, "wall-clock limit per run in seconds")
	mcpCmd.Flags().Int64Var(&mcpMaxMemory, "max-memory", 1<<28, "worker memory limit in bytes")
	mcpCmd.Flags().StringVar(&mcpWorkDir, "work-dir", "", "directory for media files (default: temp dir)")
}

func runMCP(_ *cobra.Command, _ []string) error {
	// stdout carries the MCP protocol; all logging goes to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	workDir := mcpWorkDir
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "scriptbox-mcp")
	}
	if err := os.MkdirAll(workDir, 0750); err != nil {
		return err
	}

	engine := sandbox.New(sandbox.Config{
		WorkDir:          workDir,
		DefaultTimeout:   time.Duration(mcpTimeout * float64(time.Second)),
		DefaultMaxMemory: mcpMaxMemory,
	}, logger)

	s := server.NewMCPServer("scriptbox", version)

	s.AddTool(mcp.Tool{
		Name: "script_run",
		Description: "Execute an untrusted Lua script in a sandboxed worker process. " +
			"The script can print text and draw still images or GIF animations on a canvas.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"source": map[string]any{
					"type":        "string",
					"description": "Lua source code to execute",
				},
			},
			Required: []string{"source"},
		},
	}, makeScriptRunHandler(engine, workDir))

	return server.ServeStdio(s)
}

func makeScriptRunHandler(engine *sandbox.Engine, workDir string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		if args == nil {
			return errResult("error: invalid arguments"), nil
		}
		source, _ := args["source"].(string)
		if source == "" {
			return errResult("error: 'source' is required"), nil
		}

		runID := uuid.New().String()
		env, err := engine.Run(ctx, sandbox.Request{Source: source, RunID: runID})
		if err != nil {
			return errResult(fmt.Sprintf("error: %v", err)), nil
		}

		text := env.Text
		if env.Error != nil {
			if text != "" {
				text += "\n"
			}
			text += fmt.Sprintf("script error (%s): %s", env.Error.Kind, env.Error.Message)
		}
		if len(text) > 4000 {
			text = text[:4000] + "\n... (output truncated)"
		}

		content := []mcp.Content{mcp.TextContent{Type: "text", Text: text}}
		if env.HasImage {
			if data := consumeFile(filepath.Join(workDir, sandbox.ImageFile(runID))); data != "" {
				content = append(content, mcp.ImageContent{Type: "image", Data: data, MIMEType: "image/png"})
			}
		}
		if env.HasAnimation {
			if data := consumeFile(filepath.Join(workDir, sandbox.AnimationFile(runID))); data != "" {
				content = append(content, mcp.ImageContent{Type: "image", Data: data, MIMEType: "image/gif"})
			}
		}

		return &mcp.CallToolResult{
			Content: content,
			IsError: env.Error != nil,
		}, nil
	}
}

// consumeFile reads and deletes a side-channel media file, returning its
// base64 payload, or "" when the file is unreadable.
func consumeFile(path string) string {
	data, err := os.ReadFile(path)
	_ = os.Remove(path)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}
