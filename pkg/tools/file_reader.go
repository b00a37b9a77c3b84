package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const maxFileReadBytes = 1 << 20 // 1 MiB

// FileReaderTool reads text files under a sandbox root. Paths escaping the
// root are rejected.
type FileReaderTool struct {
	root string
}

type fileReaderArgs struct {
	Path string `json:"path" jsonschema:"description=File path relative to the sandbox root"`
}

// NewFileReaderTool creates a reader rooted at dir.
func NewFileReaderTool(root string) (*FileReaderTool, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid sandbox root: %w", err)
	}
	return &FileReaderTool{root: abs}, nil
}

func (t *FileReaderTool) GetName() string { return "file_reader" }

func (t *FileReaderTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: "Read a text file from the workspace.",
		Parameters:  schemaFor(&fileReaderArgs{}),
	}
}

// Execute reads the file after confirming it stays inside the root.
func (t *FileReaderTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	started := time.Now()

	var params fileReaderArgs
	if err := decodeArgs(args, &params); err != nil {
		return errorResult(t.GetName(), err.Error(), started), nil
	}
	if params.Path == "" {
		return errorResult(t.GetName(), "path is required", started), nil
	}

	resolved := filepath.Join(t.root, filepath.Clean("/"+params.Path))
	if resolved != t.root && !strings.HasPrefix(resolved, t.root+string(filepath.Separator)) {
		return errorResult(t.GetName(), "path escapes the sandbox root", started), nil
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return errorResult(t.GetName(), fmt.Sprintf("cannot read %s: %v", params.Path, err), started), nil
	}
	if info.IsDir() {
		return errorResult(t.GetName(), fmt.Sprintf("%s is a directory", params.Path), started), nil
	}
	if info.Size() > maxFileReadBytes {
		return errorResult(t.GetName(), fmt.Sprintf("%s exceeds the %d byte read limit", params.Path, maxFileReadBytes), started), nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return errorResult(t.GetName(), fmt.Sprintf("failed to read %s: %v", params.Path, err), started), nil
	}
	return successResult(t.GetName(), string(data), nil, started), nil
}
