package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sumTool() *FunctionTool {
	return NewFunctionTool(
		"calculate_sum",
		"Calculate the sum of two numbers",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []string{"a", "b"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			return args["a"].(float64) + args["b"].(float64), nil
		},
		WithReadOnly(),
	)
}

func TestFunctionTool_Call(t *testing.T) {
	sum := sumTool()

	assert.Equal(t, "calculate_sum", sum.Name())
	assert.True(t, sum.ReadOnly())

	result, err := sum.Call(context.Background(), map[string]any{"a": 2.0, "b": 3.0})
	require.NoError(t, err)
	assert.Equal(t, 5.0, result)
}

func TestFunctionTool_ValidationFailure(t *testing.T) {
	sum := sumTool()

	_, err := sum.Call(context.Background(), map[string]any{"a": 2.0})
	require.Error(t, err)

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeValidation, toolErr.Code)
	assert.Equal(t, "calculate_sum", toolErr.Tool)
}

func TestFunctionTool_ExecutionFailure(t *testing.T) {
	failing := NewFunctionTool("fail", "always fails",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(_ context.Context, _ map[string]any) (any, error) {
			return nil, errors.New("backend unavailable")
		},
	)

	_, err := failing.Call(context.Background(), map[string]any{})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeExecution, toolErr.Code)
	assert.Contains(t, toolErr.Message, "backend unavailable")
}

func TestFunctionTool_ToolErrorPassesThrough(t *testing.T) {
	custom := NewToolError("strict", "quota exhausted", CodeDenied)
	strict := NewFunctionTool("strict", "returns a typed error",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(_ context.Context, _ map[string]any) (any, error) {
			return nil, custom
		},
	)

	_, err := strict.Call(context.Background(), map[string]any{})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Same(t, custom, toolErr)
}

func TestNewFunctionToolFromStruct(t *testing.T) {
	type echoArgs struct {
		Text string `json:"text" description:"text to echo"`
	}
	echo := NewFunctionToolFromStruct("echo", "Echo text back", echoArgs{},
		func(_ context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		},
	)

	params := echo.Parameters()
	assert.Equal(t, "object", params["type"])
	assert.Contains(t, params["properties"].(map[string]any), "text")

	_, err := echo.Call(context.Background(), map[string]any{})
	assert.Error(t, err, "text is required")
}
