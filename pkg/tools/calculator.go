package tools

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// calculatorFuncs is the whitelist of callable names. Anything else is
// rejected before evaluation.
var calculatorFuncs = map[string]struct {
	arity int
	apply func(args []float64) float64
}{
	"sqrt":  {1, func(a []float64) float64 { return math.Sqrt(a[0]) }},
	"pow":   {2, func(a []float64) float64 { return math.Pow(a[0], a[1]) }},
	"sin":   {1, func(a []float64) float64 { return math.Sin(a[0]) }},
	"cos":   {1, func(a []float64) float64 { return math.Cos(a[0]) }},
	"tan":   {1, func(a []float64) float64 { return math.Tan(a[0]) }},
	"log":   {1, func(a []float64) float64 { return math.Log(a[0]) }},
	"log10": {1, func(a []float64) float64 { return math.Log10(a[0]) }},
}

var calculatorConsts = map[string]float64{
	"pi": math.Pi,
	"e":  math.E,
}

// CalculatorTool evaluates arithmetic expressions over a whitelist of
// functions and constants.
type CalculatorTool struct{}

type calculatorArgs struct {
	Expression string `json:"expression" jsonschema:"description=Arithmetic expression to evaluate"`
}

// NewCalculatorTool creates the calculator.
func NewCalculatorTool() *CalculatorTool { return &CalculatorTool{} }

func (t *CalculatorTool) GetName() string { return "calculator" }

func (t *CalculatorTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: "Evaluate an arithmetic expression. Supported functions: sqrt, pow, sin, cos, tan, log, log10. Constants: pi, e.",
		Parameters:  schemaFor(&calculatorArgs{}),
	}
}

// Execute parses and evaluates the expression.
func (t *CalculatorTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	started := time.Now()

	var params calculatorArgs
	if err := decodeArgs(args, &params); err != nil {
		return errorResult(t.GetName(), err.Error(), started), nil
	}
	if strings.TrimSpace(params.Expression) == "" {
		return errorResult(t.GetName(), "expression is required", started), nil
	}

	result, err := evaluateExpression(params.Expression)
	if err != nil {
		return errorResult(t.GetName(), err.Error(), started), nil
	}
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return errorResult(t.GetName(), "expression produced a non-finite result", started), nil
	}

	content := strconv.FormatFloat(result, 'g', -1, 64)
	return successResult(t.GetName(), content, map[string]any{"result": result}, started), nil
}

type calcToken struct {
	kind  byte // 'n' number, 'o' operator, 'f' function, '(' ')' ','
	text  string
	value float64
}

func tokenizeExpression(expr string) ([]calcToken, error) {
	var tokens []calcToken
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c >= '0' && c <= '9' || c == '.':
			j := i
			for j < len(expr) && (expr[j] >= '0' && expr[j] <= '9' || expr[j] == '.') {
				j++
			}
			v, err := strconv.ParseFloat(expr[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q", expr[i:j])
			}
			tokens = append(tokens, calcToken{kind: 'n', value: v})
			i = j
		case unicode.IsLetter(rune(c)):
			j := i
			for j < len(expr) && (unicode.IsLetter(rune(expr[j])) || unicode.IsDigit(rune(expr[j]))) {
				j++
			}
			name := strings.ToLower(expr[i:j])
			if constVal, ok := calculatorConsts[name]; ok {
				tokens = append(tokens, calcToken{kind: 'n', value: constVal})
			} else if _, ok := calculatorFuncs[name]; ok {
				tokens = append(tokens, calcToken{kind: 'f', text: name})
			} else {
				return nil, fmt.Errorf("unknown name %q", name)
			}
			i = j
		case strings.ContainsRune("+-*/%^", rune(c)):
			tokens = append(tokens, calcToken{kind: 'o', text: string(c)})
			i++
		case c == '(' || c == ')' || c == ',':
			tokens = append(tokens, calcToken{kind: c})
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q", string(c))
		}
	}
	return tokens, nil
}

func precedence(op string) int {
	switch op {
	case "^":
		return 4
	case "u-":
		return 3
	case "*", "/", "%":
		return 2
	default:
		return 1
	}
}

// evaluateExpression runs a shunting-yard pass followed by RPN evaluation.
func evaluateExpression(expr string) (float64, error) {
	tokens, err := tokenizeExpression(expr)
	if err != nil {
		return 0, err
	}

	var output []calcToken
	var ops []calcToken
	var prev *calcToken

	for idx := range tokens {
		tok := tokens[idx]
		switch tok.kind {
		case 'n':
			output = append(output, tok)
		case 'f':
			ops = append(ops, tok)
		case 'o':
			op := tok.text
			// Unary minus follows an operator, an opening paren, a comma,
			// or starts the expression.
			if op == "-" && (prev == nil || prev.kind == 'o' || prev.kind == '(' || prev.kind == ',') {
				op = "u-"
			}
			for len(ops) > 0 {
				top := ops[len(ops)-1]
				if top.kind != 'o' {
					break
				}
				if precedence(top.text) > precedence(op) ||
					(precedence(top.text) == precedence(op) && op != "^" && op != "u-") {
					output = append(output, top)
					ops = ops[:len(ops)-1]
					continue
				}
				break
			}
			ops = append(ops, calcToken{kind: 'o', text: op})
		case '(':
			ops = append(ops, tok)
		case ',':
			for len(ops) > 0 && ops[len(ops)-1].kind != '(' {
				output = append(output, ops[len(ops)-1])
				ops = ops[:len(ops)-1]
			}
			if len(ops) == 0 {
				return 0, fmt.Errorf("misplaced comma")
			}
		case ')':
			for len(ops) > 0 && ops[len(ops)-1].kind != '(' {
				output = append(output, ops[len(ops)-1])
				ops = ops[:len(ops)-1]
			}
			if len(ops) == 0 {
				return 0, fmt.Errorf("unbalanced parentheses")
			}
			ops = ops[:len(ops)-1]
			if len(ops) > 0 && ops[len(ops)-1].kind == 'f' {
				output = append(output, ops[len(ops)-1])
				ops = ops[:len(ops)-1]
			}
		}
		prev = &tokens[idx]
	}
	for len(ops) > 0 {
		top := ops[len(ops)-1]
		if top.kind == '(' {
			return 0, fmt.Errorf("unbalanced parentheses")
		}
		output = append(output, top)
		ops = ops[:len(ops)-1]
	}

	var stack []float64
	pop := func() (float64, bool) {
		if len(stack) == 0 {
			return 0, false
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v, true
	}

	for _, tok := range output {
		switch tok.kind {
		case 'n':
			stack = append(stack, tok.value)
		case 'o':
			if tok.text == "u-" {
				v, ok := pop()
				if !ok {
					return 0, fmt.Errorf("malformed expression")
				}
				stack = append(stack, -v)
				continue
			}
			b, okB := pop()
			a, okA := pop()
			if !okA || !okB {
				return 0, fmt.Errorf("malformed expression")
			}
			switch tok.text {
			case "+":
				stack = append(stack, a+b)
			case "-":
				stack = append(stack, a-b)
			case "*":
				stack = append(stack, a*b)
			case "/":
				if b == 0 {
					return 0, fmt.Errorf("division by zero")
				}
				stack = append(stack, a/b)
			case "%":
				if b == 0 {
					return 0, fmt.Errorf("division by zero")
				}
				stack = append(stack, math.Mod(a, b))
			case "^":
				stack = append(stack, math.Pow(a, b))
			}
		case 'f':
			fn := calculatorFuncs[tok.text]
			args := make([]float64, fn.arity)
			for i := fn.arity - 1; i >= 0; i-- {
				v, ok := pop()
				if !ok {
					return 0, fmt.Errorf("%s expects %d argument(s)", tok.text, fn.arity)
				}
				args[i] = v
			}
			stack = append(stack, fn.apply(args))
		}
	}
	if len(stack) != 1 {
		return 0, fmt.Errorf("malformed expression")
	}
	return stack[0], nil
}
