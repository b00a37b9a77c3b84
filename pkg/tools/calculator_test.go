package tools

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalOK(t *testing.T, expr string) float64 {
	t.Helper()
	v, err := evaluateExpression(expr)
	require.NoError(t, err, "expression %q", expr)
	return v
}

func TestCalculatorBasics(t *testing.T) {
	assert.InDelta(t, 7, evalOK(t, "1 + 2 * 3"), 1e-9)
	assert.InDelta(t, 9, evalOK(t, "(1 + 2) * 3"), 1e-9)
	assert.InDelta(t, 2, evalOK(t, "10 / 5"), 1e-9)
	assert.InDelta(t, 1, evalOK(t, "10 % 3"), 1e-9)
	assert.InDelta(t, 8, evalOK(t, "2 ^ 3"), 1e-9)
	assert.InDelta(t, -5, evalOK(t, "-5"), 1e-9)
	assert.InDelta(t, 1, evalOK(t, "-2 + 3"), 1e-9)
	assert.InDelta(t, 6, evalOK(t, "2 * -(-3)"), 1e-9)
}

func TestCalculatorFunctionsAndConstants(t *testing.T) {
	assert.InDelta(t, 3, evalOK(t, "sqrt(9)"), 1e-9)
	assert.InDelta(t, 32, evalOK(t, "pow(2, 5)"), 1e-9)
	assert.InDelta(t, 0, evalOK(t, "sin(0)"), 1e-9)
	assert.InDelta(t, 1, evalOK(t, "cos(0)"), 1e-9)
	assert.InDelta(t, 2, evalOK(t, "log10(100)"), 1e-9)
	assert.InDelta(t, 1, evalOK(t, "log(e)"), 1e-9)
	assert.InDelta(t, math.Pi, evalOK(t, "pi"), 1e-9)
	assert.InDelta(t, 0, evalOK(t, "tan(0)"), 1e-9)
	assert.InDelta(t, 5, evalOK(t, "sqrt(pow(3,2) + pow(4,2))"), 1e-9)
}

func TestCalculatorRejectsUnknownNames(t *testing.T) {
	_, err := evaluateExpression("exec(1)")
	assert.Error(t, err)

	_, err = evaluateExpression("x + 1")
	assert.Error(t, err)

	_, err = evaluateExpression("__import__")
	assert.Error(t, err)
}

func TestCalculatorMalformedExpressions(t *testing.T) {
	for _, expr := range []string{"", "1 +", "(1 + 2", "1 / 0", "pow(1)", "1 2"} {
		_, err := evaluateExpression(expr)
		assert.Error(t, err, "expression %q should fail", expr)
	}
}

func TestCalculatorToolExecute(t *testing.T) {
	tool := NewCalculatorTool()

	result, err := tool.Execute(context.Background(), map[string]any{
		"expression": "sqrt(16) + 1",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "5", result.Content)

	result, err = tool.Execute(context.Background(), map[string]any{
		"expression": "os.system('ls')",
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}
