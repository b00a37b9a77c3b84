package tools

import (
	"context"
	"errors"
	"strings"
	"time"

	starlarkmath "go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// pythonMaxSteps bounds interpreter work so runaway loops terminate.
const pythonMaxSteps = 500_000

// pythonFileOptions permits top-level control flow and reassignment so the
// model can write ordinary scripts. Recursion stays off.
var pythonFileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// PythonTool executes Python-dialect code in a Starlark interpreter. The
// interpreter has no filesystem, network, or import access; only the math
// module is predeclared.
type PythonTool struct{}

type pythonArgs struct {
	Code string `json:"code" jsonschema:"description=Python code to execute. Use print() or assign to a variable named result to return values."`
}

// NewPythonTool creates the restricted Python executor.
func NewPythonTool() *PythonTool { return &PythonTool{} }

func (t *PythonTool) GetName() string { return "python" }

func (t *PythonTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: "Execute restricted Python (Starlark) code. No file, network, or import access. A bare expression returns its value; otherwise use print() or assign to a variable named result.",
		Parameters:  schemaFor(&pythonArgs{}),
	}
}

// Execute runs the code on a fresh thread with a step bound; context
// cancellation interrupts the interpreter.
func (t *PythonTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	started := time.Now()

	var params pythonArgs
	if err := decodeArgs(args, &params); err != nil {
		return errorResult(t.GetName(), err.Error(), started), nil
	}
	code := strings.TrimSpace(params.Code)
	if code == "" {
		return errorResult(t.GetName(), "code is required", started), nil
	}

	var printed strings.Builder
	thread := &starlark.Thread{
		Name: t.GetName(),
		Print: func(_ *starlark.Thread, msg string) {
			printed.WriteString(msg)
			printed.WriteByte('\n')
		},
	}
	thread.SetMaxExecutionSteps(pythonMaxSteps)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	predeclared := starlark.StringDict{"math": starlarkmath.Module}

	// A bare expression evaluates to its value; anything else runs as a
	// program whose printed output and result variable are reported.
	if _, err := pythonFileOptions.ParseExpr("code", code, 0); err == nil {
		value, err := starlark.EvalOptions(pythonFileOptions, thread, "code", code, predeclared)
		if err != nil {
			return errorResult(t.GetName(), pythonErrorMessage(err), started), nil
		}
		content := printed.String() + value.String()
		return successResult(t.GetName(), strings.TrimRight(content, "\n"), map[string]any{"value": value.String()}, started), nil
	}

	globals, err := starlark.ExecFileOptions(pythonFileOptions, thread, "code", code, predeclared)
	if err != nil {
		return errorResult(t.GetName(), pythonErrorMessage(err), started), nil
	}

	output := map[string]any{}
	content := printed.String()
	if result, ok := globals["result"]; ok {
		output["result"] = result.String()
		if content == "" {
			content = result.String()
		}
	}
	if strings.TrimSpace(content) == "" {
		content = "executed with no output; use print() or assign to result"
	}
	return successResult(t.GetName(), strings.TrimRight(content, "\n"), output, started), nil
}

// pythonErrorMessage strips the interpreter backtrace down to the message.
func pythonErrorMessage(err error) string {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return evalErr.Msg
	}
	return err.Error()
}
