package tools

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/reagentd/reagent/internal/providers"
)

// Registry holds the tools available to the model and dispatches calls.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns provider-ready tool schemas, sorted by name so the
// model sees a stable ordering.
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]providers.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, providers.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute dispatches one tool call. Unknown tools, missing required
// parameters and panics all come back as error results; a tool call never
// takes the turn down.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) (result *Result) {
	toolType := TypeAtomic
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tool panicked", "tool", name, "panic", rec, "stack", string(debug.Stack()))
			result = ErrorResult(KindToolExecution, fmt.Sprintf("tool %s panicked: %v", name, rec))
		}
		if result != nil {
			result.ToolName = name
			result.ToolType = toolType
		}
	}()

	tool, ok := r.Get(name)
	if !ok {
		return ErrorResult(KindParameterValidation, fmt.Sprintf("unknown tool: %s", name))
	}
	if _, workflow := tool.(WorkflowTool); workflow {
		toolType = TypeWorkflow
	}

	if missing := missingRequired(tool.Parameters(), args); len(missing) > 0 {
		return ErrorResult(KindParameterValidation,
			fmt.Sprintf("missing required parameters for %s: %v", name, missing))
	}

	return tool.Execute(ctx, args)
}

// missingRequired checks args against the schema's required list. Present
// but empty strings count as missing; the model must supply real values.
func missingRequired(schema map[string]interface{}, args map[string]interface{}) []string {
	required, ok := schema["required"].([]string)
	if !ok {
		if anyList, ok2 := schema["required"].([]interface{}); ok2 {
			for _, item := range anyList {
				if s, ok3 := item.(string); ok3 {
					required = append(required, s)
				}
			}
		}
	}

	var missing []string
	for _, key := range required {
		v, present := args[key]
		if !present {
			missing = append(missing, key)
			continue
		}
		if s, isStr := v.(string); isStr && s == "" {
			missing = append(missing, key)
		}
	}
	return missing
}
