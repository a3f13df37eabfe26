package coretools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/nanobot/pkg/toolexecutor"
)

// Options configures core tool registration.
type Options struct {
	// Now overrides the clock used by get_current_time.
	Now func() time.Time
}

// Date patterns accepted by get_current_time, mapped to Go layouts.
var patternTokens = []struct {
	token  string
	layout string
}{
	{"yyyy", "2006"},
	{"yy", "06"},
	{"MM", "01"},
	{"dd", "02"},
	{"HH", "15"},
	{"hh", "03"},
	{"mm", "04"},
	{"ss", "05"},
	{"SSS", "000"},
	{"a", "PM"},
}

const defaultTimePattern = "yyyy-MM-dd HH:mm:ss"

// RegisterCoreTools registers the built-in arithmetic and clock tools.
func RegisterCoreTools(executor *toolexecutor.ToolExecutor, opts Options) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	tools := []toolexecutor.ToolDefinition{
		calculatorTool(),
		currentTimeTool(opts),
	}

	for _, tool := range tools {
		if err := executor.RegisterTool(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

func calculatorTool() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "calculator",
		Description: "Perform basic arithmetic operations (add, subtract, multiply, divide)",
		Parameters: []toolexecutor.ToolParameter{
			{
				Name:        "operation",
				Type:        "string",
				Description: "The operation to perform",
				Required:    true,
				Enum:        []string{"add", "subtract", "multiply", "divide"},
			},
			{Name: "a", Type: "number", Description: "First number", Required: true},
			{Name: "b", Type: "number", Description: "Second number", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			op, _ := params["operation"].(string)
			a, err := number(params, "a")
			if err != nil {
				return nil, err
			}
			b, err := number(params, "b")
			if err != nil {
				return nil, err
			}

			var result float64
			switch op {
			case "add":
				result = a + b
			case "subtract":
				result = a - b
			case "multiply":
				result = a * b
			case "divide":
				if b == 0 {
					return nil, errors.New("division by zero")
				}
				result = a / b
			default:
				return nil, fmt.Errorf("unknown operation: %s", op)
			}

			return fmt.Sprintf("%.2f", result), nil
		},
	}
}

func currentTimeTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "get_current_time",
		Description: "Get the current date and time",
		Parameters: []toolexecutor.ToolParameter{
			{
				Name:        "format",
				Type:        "string",
				Description: "Time format (default: " + defaultTimePattern + ")",
			},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			pattern, _ := params["format"].(string)
			if strings.TrimSpace(pattern) == "" {
				pattern = defaultTimePattern
			}
			return opts.Now().Format(toLayout(pattern)), nil
		},
	}
}

// toLayout converts a yyyy-MM-dd style pattern into a Go time layout
func toLayout(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); {
		matched := false
		for _, pt := range patternTokens {
			if strings.HasPrefix(pattern[i:], pt.token) {
				b.WriteString(pt.layout)
				i += len(pt.token)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(pattern[i])
			i++
		}
	}
	return b.String()
}

func number(params map[string]interface{}, key string) (float64, error) {
	switch v := params[key].(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}
	return 0, fmt.Errorf("invalid number for parameter: %s", key)
}
