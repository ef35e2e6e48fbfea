package toolprovider

import (
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
)

// Registry is an in-process Provider backed by plain Go functions. It lets
// the bridge run without an external MCP server: tools are registered at
// startup and advertised with schemas generated from their input structs.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registeredTool
}

type registeredTool struct {
	descriptor Descriptor
	call       func(ctx context.Context, args []byte) (interface{}, error)
}

func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]registeredTool),
	}
}

// RegisterFunc registers a tool implemented by fn. Supported signatures:
//
//	func(Input) (Result, error)
//	func(context.Context, Input) (Result, error)
//
// where Input is a struct whose JSON schema is derived by reflection.
func (r *Registry) RegisterFunc(name, description string, fn interface{}) error {
	if name == "" {
		return errors.New("tool name cannot be empty")
	}

	funcType := reflect.TypeOf(fn)
	if funcType == nil || funcType.Kind() != reflect.Func {
		return errors.Errorf("tool %s: provided value is not a function", name)
	}
	if funcType.NumOut() != 2 || !funcType.Out(1).Implements(reflect.TypeOf((*error)(nil)).Elem()) {
		return errors.Errorf("tool %s: function must return (result, error)", name)
	}

	ctxType := reflect.TypeOf((*context.Context)(nil)).Elem()
	var inputType reflect.Type
	withCtx := false
	switch funcType.NumIn() {
	case 1:
		if funcType.In(0) == ctxType {
			withCtx = true
		} else {
			inputType = funcType.In(0)
		}
	case 2:
		if funcType.In(0) != ctxType {
			return errors.Errorf("tool %s: two-arg function must be (context.Context, Input)", name)
		}
		withCtx = true
		inputType = funcType.In(1)
	default:
		return errors.Errorf("tool %s: function must take (Input) or (context.Context, Input)", name)
	}

	schema, err := schemaFor(inputType)
	if err != nil {
		return errors.Wrapf(err, "tool %s: generate schema", name)
	}

	funcValue := reflect.ValueOf(fn)
	call := func(ctx context.Context, args []byte) (interface{}, error) {
		in := make([]reflect.Value, 0, 2)
		if withCtx {
			in = append(in, reflect.ValueOf(ctx))
		}
		if inputType != nil {
			input := reflect.New(inputType)
			if len(args) > 0 {
				if err := json.Unmarshal(args, input.Interface()); err != nil {
					return nil, errors.Wrap(err, "unmarshal arguments")
				}
			}
			in = append(in, input.Elem())
		}
		out := funcValue.Call(in)
		if errVal := out[1].Interface(); errVal != nil {
			return nil, errVal.(error)
		}
		return out[0].Interface(), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = registeredTool{
		descriptor: Descriptor{Name: name, Description: description, InputSchema: schema},
		call:       call,
	}
	return nil
}

func (r *Registry) ListTools(ctx context.Context) ([]Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptors := make([]Descriptor, 0, len(r.tools))
	for _, tool := range r.tools {
		descriptors = append(descriptors, tool.descriptor)
	}
	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].Name < descriptors[j].Name })
	return descriptors, nil
}

func (r *Registry) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (interface{}, error) {
	r.mu.RLock()
	tool, exists := r.tools[name]
	r.mu.RUnlock()
	if !exists {
		return nil, errors.Errorf("tool not found: %s", name)
	}

	args, err := json.Marshal(arguments)
	if err != nil {
		return nil, errors.Wrap(err, "marshal arguments")
	}
	return tool.call(ctx, args)
}

// Close is a no-op: the registry holds no external resources and may back
// any number of sequential runs.
func (r *Registry) Close() error { return nil }

var _ Provider = (*Registry)(nil)

func schemaFor(inputType reflect.Type) (json.RawMessage, error) {
	if inputType == nil {
		return json.RawMessage(`{"type":"object"}`), nil
	}

	inputInstance := reflect.New(inputType).Elem().Interface()
	reflector := jsonschema.Reflector{
		// Expand definitions inline instead of using $refs
		DoNotReference: true,
	}
	schema := reflector.Reflect(inputInstance)
	if schema.Type == "" && schema.Ref == "" {
		schema.Type = "object"
	}

	b, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}
