package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/redbearlabs/sandbox/internal/config"
	"github.com/redbearlabs/sandbox/internal/executor"
	"github.com/redbearlabs/sandbox/internal/isolation"
	"github.com/redbearlabs/sandbox/internal/language"
	"github.com/redbearlabs/sandbox/internal/storage/sqlite"
)

var exec *executor.Executor

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	store, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "storage error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	exec, err = executor.New(cfg, store, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "executor error: %v\n", err)
		os.Exit(1)
	}

	s := server.NewMCPServer("sandbox-code-runner", "0.1.0")

	s.AddTool(mcp.Tool{
		Name:        "code_run",
		Description: fmt.Sprintf("Execute code in an isolated sandbox. Supported languages: %s.", strings.Join(language.Names(), ", ")),
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"language": map[string]any{
					"type":        "string",
					"description": "Runtime (python3, nodejs)",
				},
				"code": map[string]any{
					"type":        "string",
					"description": "Source code to execute",
				},
				"enable_network": map[string]any{
					"type":        "boolean",
					"description": "Allow outbound network access (optional)",
				},
				"preload": map[string]any{
					"type":        "string",
					"description": "Code prepended to the payload before execution (optional)",
				},
			},
			Required: []string{"language", "code"},
		},
	}, handleCodeRun)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
	}
}

func handleCodeRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	if args == nil {
		return errResult("error: invalid arguments"), nil
	}

	lang, _ := args["language"].(string)
	code, _ := args["code"].(string)
	network, _ := args["enable_network"].(bool)
	preload, _ := args["preload"].(string)

	if lang == "" || code == "" {
		return errResult("error: 'language' and 'code' are required"), nil
	}

	result, err := exec.Run(ctx, executor.Request{
		Language: lang,
		Code:     []byte(code),
		Preload:  preload,
		Options:  isolation.Options{EnableNetwork: network},
	})
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}

	var output strings.Builder
	if result.Stdout != "" {
		output.WriteString(result.Stdout)
	}
	if result.Stderr != "" {
		if output.Len() > 0 {
			output.WriteString("\n")
		}
		output.WriteString("STDERR:\n" + result.Stderr)
	}
	switch {
	case result.PolicyViolation:
		output.WriteString("\nsecurity policy violation")
	case result.TimedOut:
		output.WriteString("\nexecution timed out")
	case result.ExitCode != 0:
		output.WriteString(fmt.Sprintf("\nexit code: %d", result.ExitCode))
	}

	text := output.String()
	if len(text) > 4000 {
		text = text[:4000] + "\n... (output truncated)"
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: result.ExitCode != 0,
	}, nil
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}
