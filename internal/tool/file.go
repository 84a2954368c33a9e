package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wardenlabs/warden/internal/provider"
)

// ReadFile reads files relative to the orchestrator's working directory.
type ReadFile struct {
	WorkDir string
}

func (t *ReadFile) Name() string { return "read_file" }

func (t *ReadFile) Schema() provider.ToolSchema {
	return provider.ToolSchema{
		Name:        t.Name(),
		Description: "Read a file from the filesystem. Returns file contents with line numbers.",
		Parameters: objectSchema(map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file to read (absolute or relative to the working directory)",
			},
			"offset": map[string]any{
				"type":        "integer",
				"description": "Line number to start reading from (1-indexed, optional)",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of lines to read (optional)",
			},
		}, "path"),
	}
}

func (t *ReadFile) Execute(ctx context.Context, input json.RawMessage) Result {
	var params struct {
		Path   string `json:"path"`
		Offset int    `json:"offset"`
		Limit  int    `json:"limit"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf("Invalid parameters: %v", err)
	}

	path := resolvePath(t.WorkDir, params.Path)
	content, err := os.ReadFile(path)
	if err != nil {
		return Errorf("Failed to read file: %v", err)
	}

	lines := strings.Split(string(content), "\n")

	start := 0
	if params.Offset > 0 {
		start = params.Offset - 1
		if start >= len(lines) {
			return Errorf("Offset beyond end of file")
		}
	}

	end := len(lines)
	if params.Limit > 0 && start+params.Limit < end {
		end = start + params.Limit
	}

	var result strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&result, "%6d\t%s\n", i+1, lines[i])
	}
	return Result{Content: result.String()}
}

// WriteFile writes files relative to the orchestrator's working directory.
type WriteFile struct {
	WorkDir string
}

func (t *WriteFile) Name() string { return "write_file" }

func (t *WriteFile) Schema() provider.ToolSchema {
	return provider.ToolSchema{
		Name:        t.Name(),
		Description: "Write content to a file. Creates parent directories if needed.",
		Parameters: objectSchema(map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file to write (absolute or relative to the working directory)",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Content to write to the file",
			},
		}, "path", "content"),
	}
}

func (t *WriteFile) Execute(ctx context.Context, input json.RawMessage) Result {
	var params struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf("Invalid parameters: %v", err)
	}

	path := resolvePath(t.WorkDir, params.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return Errorf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(params.Content), 0644); err != nil {
		return Errorf("Failed to write file: %v", err)
	}
	return Result{Content: fmt.Sprintf("Successfully wrote %d bytes to %s", len(params.Content), params.Path)}
}

// ListDir lists directory entries.
type ListDir struct {
	WorkDir string
}

func (t *ListDir) Name() string { return "list_dir" }

func (t *ListDir) Schema() provider.ToolSchema {
	return provider.ToolSchema{
		Name:        t.Name(),
		Description: "List contents of a directory.",
		Parameters: objectSchema(map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Directory path to list (defaults to the working directory)",
			},
		}),
	}
}

func (t *ListDir) Execute(ctx context.Context, input json.RawMessage) Result {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf("Invalid parameters: %v", err)
	}

	path := t.WorkDir
	if params.Path != "" {
		path = resolvePath(t.WorkDir, params.Path)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return Errorf("Failed to read directory: %v", err)
	}

	var result strings.Builder
	for _, entry := range entries {
		info, _ := entry.Info()
		if info == nil {
			fmt.Fprintf(&result, "? %s\n", entry.Name())
			continue
		}
		if entry.IsDir() {
			fmt.Fprintf(&result, "d %s/\n", entry.Name())
		} else {
			fmt.Fprintf(&result, "- %s (%d bytes)\n", entry.Name(), info.Size())
		}
	}
	return Result{Content: result.String()}
}

func resolvePath(workDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workDir, path)
}
