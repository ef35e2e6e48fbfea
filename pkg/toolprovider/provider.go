package toolprovider

import (
	"context"
	"encoding/json"
)

// Descriptor describes one callable tool as advertised by a provider.
// Argument schemas are opaque at this layer: tool sets are discovered per
// run, so the schema is carried as raw JSON and handed to the model as-is.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Provider exposes a set of tools to one run. A provider instance is owned
// by a single run: it is opened before first use and must be closed on every
// exit path. Instances are never shared between concurrent runs.
type Provider interface {
	// ListTools returns the tools available through this provider.
	ListTools(ctx context.Context) ([]Descriptor, error)

	// CallTool invokes a tool by name with already-parsed arguments and
	// returns its raw result.
	CallTool(ctx context.Context, name string, arguments map[string]interface{}) (interface{}, error)

	Close() error
}

// Factory opens a fresh provider scoped to one run.
type Factory func(ctx context.Context) (Provider, error)
