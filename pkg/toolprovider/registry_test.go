package toolprovider

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lookupRequest struct {
	X string `json:"x" jsonschema:"required,description=Key to look up"`
}

func TestRegistryListToolsAdvertisesSchemas(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	require.NoError(t, registry.RegisterFunc("lookup", "Look up a value", func(req lookupRequest) (map[string]interface{}, error) {
		return map[string]interface{}{"result": 42}, nil
	}))
	require.NoError(t, registry.RegisterFunc("noop", "Do nothing", func(req struct{}) (string, error) {
		return "ok", nil
	}))

	descriptors, err := registry.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, descriptors, 2)

	// sorted by name
	assert.Equal(t, "lookup", descriptors[0].Name)
	assert.Equal(t, "noop", descriptors[1].Name)
	assert.Equal(t, "Look up a value", descriptors[0].Description)

	var schema map[string]interface{}
	require.NoError(t, json.Unmarshal(descriptors[0].InputSchema, &schema))
	assert.Equal(t, "object", schema["type"])
	properties, ok := schema["properties"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, properties, "x")
}

func TestRegistryCallTool(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	require.NoError(t, registry.RegisterFunc("lookup", "Look up a value", func(req lookupRequest) (map[string]interface{}, error) {
		return map[string]interface{}{"result": 42, "key": req.X}, nil
	}))

	result, err := registry.CallTool(context.Background(), "lookup", map[string]interface{}{"x": "foo"})
	require.NoError(t, err)

	m, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "foo", m["key"])
	assert.Equal(t, 42, m["result"])
}

func TestRegistryCallToolWithContext(t *testing.T) {
	t.Parallel()

	type key struct{}
	registry := NewRegistry()
	require.NoError(t, registry.RegisterFunc("probe", "Read a context value", func(ctx context.Context, req struct{}) (string, error) {
		v, _ := ctx.Value(key{}).(string)
		return v, nil
	}))

	ctx := context.WithValue(context.Background(), key{}, "present")
	result, err := registry.CallTool(ctx, "probe", nil)
	require.NoError(t, err)
	assert.Equal(t, "present", result)
}

func TestRegistryCallToolPropagatesErrors(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	require.NoError(t, registry.RegisterFunc("failing", "Always fails", func(req struct{}) (string, error) {
		return "", errors.New("backend unavailable")
	}))

	_, err := registry.CallTool(context.Background(), "failing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend unavailable")
}

func TestRegistryUnknownTool(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	_, err := registry.CallTool(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool not found")
}

func TestRegistryRejectsBadSignatures(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	assert.Error(t, registry.RegisterFunc("", "empty name", func(struct{}) (string, error) { return "", nil }))
	assert.Error(t, registry.RegisterFunc("bad", "not a function", 42))
	assert.Error(t, registry.RegisterFunc("bad", "single return", func(struct{}) string { return "" }))
}
