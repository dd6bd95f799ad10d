package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSchema(t *testing.T) {
	type params struct {
		Query string   `json:"query" description:"search query"`
		Limit int      `json:"limit,omitempty"`
		Score float64  `json:"score,omitempty"`
		Exact bool     `json:"exact,omitempty"`
		Tags  []string `json:"tags,omitempty"`
	}

	schema := CreateSchema(params{})
	assert.Equal(t, "object", schema["type"])

	properties := schema["properties"].(map[string]any)
	assert.Equal(t, "string", properties["query"].(map[string]any)["type"])
	assert.Equal(t, "search query", properties["query"].(map[string]any)["description"])
	assert.Equal(t, "integer", properties["limit"].(map[string]any)["type"])
	assert.Equal(t, "number", properties["score"].(map[string]any)["type"])
	assert.Equal(t, "boolean", properties["exact"].(map[string]any)["type"])
	assert.Equal(t, "array", properties["tags"].(map[string]any)["type"])

	require.Equal(t, []string{"query"}, schema["required"])
}

func TestCreateSchema_NonStruct(t *testing.T) {
	schema := CreateSchema("not a struct")
	assert.Equal(t, "object", schema["type"])
	assert.Empty(t, schema["properties"])
}

func TestValidateParameters(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
			"limit": map[string]any{"type": "integer"},
		},
		"required": []string{"query"},
	}

	assert.NoError(t, ValidateParameters(map[string]any{"query": "go"}, schema))
	assert.NoError(t, ValidateParameters(map[string]any{"query": "go", "limit": 5}, schema))
	// decoded JSON numbers arrive as float64
	assert.NoError(t, ValidateParameters(map[string]any{"query": "go", "limit": float64(5)}, schema))
	// extra fields pass through
	assert.NoError(t, ValidateParameters(map[string]any{"query": "go", "verbose": true}, schema))

	err := ValidateParameters(map[string]any{}, schema)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "query", verr.Field)

	assert.Error(t, ValidateParameters(map[string]any{"query": 42}, schema))
	assert.Error(t, ValidateParameters(map[string]any{"query": "go", "limit": 1.5}, schema))
}

func TestValidateParameters_RequiredFromJSON(t *testing.T) {
	// schemas decoded from JSON carry required as []any
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"name": map[string]any{"type": "string"}},
		"required":   []any{"name"},
	}

	assert.Error(t, ValidateParameters(map[string]any{}, schema))
	assert.NoError(t, ValidateParameters(map[string]any{"name": "x"}, schema))
}
