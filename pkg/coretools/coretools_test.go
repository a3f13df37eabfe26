package coretools

import (
	"context"
	"testing"
	"time"

	"github.com/harun/nanobot/pkg/toolexecutor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupExecutor(t *testing.T) *toolexecutor.ToolExecutor {
	t.Helper()

	fixed := time.Date(2025, 3, 7, 9, 4, 5, 0, time.UTC)
	exec := toolexecutor.New()
	require.NoError(t, RegisterCoreTools(exec, Options{Now: func() time.Time { return fixed }}))
	return exec
}

func TestRegisterCoreTools(t *testing.T) {
	exec := setupExecutor(t)
	assert.Equal(t, []string{"calculator", "get_current_time"}, exec.ListTools())

	err := RegisterCoreTools(nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool executor is required")
}

func TestCalculator(t *testing.T) {
	exec := setupExecutor(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		params   map[string]interface{}
		success  bool
		expected string
	}{
		{"add", map[string]interface{}{"operation": "add", "a": 10.0, "b": 5.0}, true, "15.00"},
		{"subtract", map[string]interface{}{"operation": "subtract", "a": 1.5, "b": 2.0}, true, "-0.50"},
		{"multiply", map[string]interface{}{"operation": "multiply", "a": 3.0, "b": 5.0}, true, "15.00"},
		{"divide", map[string]interface{}{"operation": "divide", "a": 10.0, "b": 4.0}, true, "2.50"},
		{"divide by zero", map[string]interface{}{"operation": "divide", "a": 1.0, "b": 0.0}, false, "division by zero"},
		{"unknown operation", map[string]interface{}{"operation": "pow", "a": 1.0, "b": 2.0}, false, "parameter validation failed"},
		{"missing operand", map[string]interface{}{"operation": "add", "a": 1.0}, false, "parameter validation failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := exec.Execute(ctx, "calculator", tt.params)
			require.Equal(t, tt.success, result.Success, result.Error)
			if tt.success {
				assert.Equal(t, tt.expected, result.Output)
			} else {
				assert.Contains(t, result.Error, tt.expected)
			}
		})
	}
}

func TestCurrentTime(t *testing.T) {
	exec := setupExecutor(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		params   map[string]interface{}
		expected string
	}{
		{"default pattern", map[string]interface{}{}, "2025-03-07 09:04:05"},
		{"date only", map[string]interface{}{"format": "dd/MM/yyyy"}, "07/03/2025"},
		{"clock only", map[string]interface{}{"format": "HH:mm"}, "09:04"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := exec.Execute(ctx, "get_current_time", tt.params)
			require.True(t, result.Success, result.Error)
			assert.Equal(t, tt.expected, result.Output)
		})
	}
}
