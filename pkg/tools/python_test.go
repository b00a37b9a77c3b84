package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runPython(t *testing.T, code string) ToolResult {
	t.Helper()
	res, err := NewPythonTool().Execute(context.Background(), map[string]any{"code": code})
	require.NoError(t, err)
	return res
}

func TestPythonExpression(t *testing.T) {
	res := runPython(t, "6 * 7")
	assert.True(t, res.Success)
	assert.Equal(t, "42", res.Content)
	assert.Equal(t, "python", res.ToolName)
}

func TestPythonProgramPrintAndResult(t *testing.T) {
	res := runPython(t, `total = 0
for x in [1, 2, 3]:
    total += x
result = total
print("sum is", total)`)
	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.Content, "sum is 6")

	out, ok := res.Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "6", out["result"])
}

func TestPythonMathModule(t *testing.T) {
	res := runPython(t, "math.sqrt(16.0)")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "4.0", res.Content)
}

func TestPythonNoFilesystemOrImports(t *testing.T) {
	for _, code := range []string{
		`open("/etc/passwd")`,
		`result = __import__("os")`,
	} {
		res := runPython(t, code)
		assert.False(t, res.Success, "code %q should fail", code)
		assert.NotEmpty(t, res.Error)
	}
}

func TestPythonRunawayLoopStops(t *testing.T) {
	res := runPython(t, "while True:\n    pass")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "steps")
}

func TestPythonEmptyCodeRejected(t *testing.T) {
	res := runPython(t, "   ")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "code is required")
}

func TestPythonContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := NewPythonTool().Execute(ctx, map[string]any{"code": "while True:\n    pass"})
	require.NoError(t, err)
	assert.False(t, res.Success)
}
