package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jimwhite/agent-sdk-sub003/internal/permission"
	"github.com/jimwhite/agent-sdk-sub003/internal/tool"
)

// ToolNotFound is returned when an Action names a tool the registry does
// not recognize (§6).
type ToolNotFound struct {
	Name string
}

func (e *ToolNotFound) Error() string { return fmt.Sprintf("conversation: tool not found: %s", e.Name) }

// SchemaValidationFailed is returned (and also synthesized as an error
// Observation rather than propagated, per §4.3 step 2) when an Action's
// arguments fail structural validation against the tool's input schema.
type SchemaValidationFailed struct {
	Tool   string
	Path   string
	Detail string
}

func (e *SchemaValidationFailed) Error() string {
	return fmt.Sprintf("conversation: %s: schema validation failed at %s: %s", e.Tool, e.Path, e.Detail)
}

// Dispatcher executes Action events against the tool registry and produces
// Observation/AgentError events, implementing §4.3's numbered dispatch
// sequence. FinishAction, ThinkAction, and delegate are intercepted by Step
// before reaching the Dispatcher (§4.3 "Special tools").
type Dispatcher struct {
	Registry   *tool.Registry
	Permission *permission.Checker
}

// Dispatch validates arguments, invokes the executor, and returns the
// resulting Observation. A validation or executor failure never panics or
// propagates past this call — it is captured as an AgentError-shaped
// Observation so the LLM can see and react (§4.3 step 2, §7).
func (d *Dispatcher) Dispatch(ctx context.Context, action *Action, workDir string) *Observation {
	obs := &Observation{
		Base:     Base{ID: newID(), From: SourceEnvironment},
		ActionID: action.ToolCallID,
		ToolName: action.ToolName,
	}

	t, ok := d.Registry.Get(action.ToolName)
	if !ok {
		obs.Error = (&ToolNotFound{Name: action.ToolName}).Error()
		return obs
	}

	if err := validateAgainstSchema(t.Parameters(), action.Arguments); err != nil {
		obs.Error = (&SchemaValidationFailed{Tool: action.ToolName, Path: "$", Detail: err.Error()}).Error()
		return obs
	}

	toolCtx := &tool.Context{
		CallID:  action.ToolCallID,
		WorkDir: workDir,
	}

	result, err := t.Execute(ctx, action.Arguments, toolCtx)
	if err != nil {
		if permission.IsRejectedError(err) {
			// a permission rejection is reported like any other executor
			// error: as an Observation whose Error holds the message.
			obs.Error = err.Error()
			return obs
		}
		obs.Error = err.Error()
		return obs
	}

	obs.Output = result.Output
	if len(result.Metadata) > 0 {
		obs.Metadata, _ = json.Marshal(result.Metadata)
	}
	return obs
}

// validateAgainstSchema is a minimal structural check — required fields
// present, primitive types match — against the tool's declared JSON Schema.
// No third-party JSON-Schema validator is wired into this module (see
// DESIGN.md): none of the examples in the retrieval pack pull in a
// standalone schema-validation library for server-side enforcement of tool
// arguments: internal/provider and internal/tool only use Eino's
// ParameterInfo side, which is a schema *description* format, not a
// validator. This is the one stdlib-only piece in the dispatch path.
func validateAgainstSchema(schemaJSON, argsJSON json.RawMessage) error {
	var schema struct {
		Required   []string `json:"required"`
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
	}
	if len(schemaJSON) == 0 {
		return nil
	}
	if err := json.Unmarshal(schemaJSON, &schema); err != nil {
		return nil
	}

	var args map[string]json.RawMessage
	if len(argsJSON) == 0 {
		args = map[string]json.RawMessage{}
	} else if err := json.Unmarshal(argsJSON, &args); err != nil {
		return fmt.Errorf("arguments are not a JSON object: %w", err)
	}

	for _, req := range schema.Required {
		if _, ok := args[req]; !ok {
			return fmt.Errorf("missing required field %q", req)
		}
	}
	for name, raw := range args {
		prop, known := schema.Properties[name]
		if !known {
			continue
		}
		if !jsonTypeMatches(prop.Type, raw) {
			return fmt.Errorf("field %q does not match declared type %q", name, prop.Type)
		}
	}
	return nil
}

func jsonTypeMatches(declared string, raw json.RawMessage) bool {
	if declared == "" {
		return true
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch declared {
	case "string":
		_, ok := v.(string)
		return ok
	case "integer", "number":
		_, ok := v.(float64)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}
