package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Failure codes carried inside a Result. Handlers return these as
// values rather than errors so the dispatcher can always turn a
// failure into a conversational reply.
const (
	CodeUnknownTool      = "unknown_tool"
	CodeInvalidArguments = "invalid_arguments"
	CodeNotFound         = "not_found"
	CodeForbidden        = "forbidden"
	CodeNoOp             = "noop"
	CodeInternal         = "internal"
)

// Field types understood by the validation gate.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeArray   = "array"
)

// Field describes one input argument of a tool.
type Field struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	MaxLen      int      `json:"max_len,omitempty"`
}

// Definition is the stable, serializable description of a tool shown
// to an NLU strategy or a UI.
type Definition struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Input       []Field `json:"input"`
}

// ParametersSchema renders the input fields as a JSON-schema object,
// the shape model-backed strategies expect for function tools.
func (d Definition) ParametersSchema() map[string]interface{} {
	properties := map[string]interface{}{}
	required := []string{}
	for _, f := range d.Input {
		prop := map[string]interface{}{}
		switch f.Type {
		case TypeArray:
			prop["type"] = "array"
			prop["items"] = map[string]interface{}{"type": "string"}
		default:
			prop["type"] = f.Type
		}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		if len(f.Enum) > 0 {
			prop["enum"] = f.Enum
		}
		properties[f.Name] = prop
		if f.Required {
			required = append(required, f.Name)
		}
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Args is the validated argument map passed to a handler.
type Args map[string]interface{}

func (a Args) String(key string) string {
	v, _ := a[key].(string)
	return v
}

func (a Args) Int(key string) int64 {
	switch v := a[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func (a Args) Bool(key string) bool {
	v, _ := a[key].(bool)
	return v
}

func (a Args) StringSlice(key string) []string {
	switch v := a[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (a Args) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// Result is a tool invocation outcome. Failed results carry a code
// from the taxonomy above and, for validation failures, field-level
// detail.
type Result struct {
	Tool    string                 `json:"tool"`
	Status  string                 `json:"status"`
	Code    string                 `json:"code,omitempty"`
	Message string                 `json:"message,omitempty"`
	Fields  map[string]string      `json:"fields,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

func Success(message string, data map[string]interface{}) Result {
	return Result{Status: StatusSuccess, Message: message, Data: data}
}

func Failure(code string, message string) Result {
	return Result{Status: StatusFailed, Code: code, Message: message}
}

// Handler performs one read or mutation against task state. The caller
// identity is the verified owner string; the handler enforces
// ownership itself.
type Handler func(ctx context.Context, caller string, args Args) Result

type entry struct {
	def     Definition
	handler Handler
}

// Registry is a name -> schema -> handler map plus a validation gate.
// It performs no business logic; tools are registered once at startup
// and the registry is read-only afterwards.
type Registry struct {
	order   []string
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

func (r *Registry) Register(def Definition, handler Handler) error {
	name := NormalizeToolName(def.Name)
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if handler == nil {
		return fmt.Errorf("tool handler is required: %s", name)
	}
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("tool already registered: %s", name)
	}
	def.Name = name
	r.entries[name] = entry{def: def, handler: handler}
	r.order = append(r.order, name)
	return nil
}

// Definitions returns every tool definition in registration order.
func (r *Registry) Definitions() []Definition {
	items := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		items = append(items, r.entries[name].def)
	}
	return items
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	items := make([]string, 0, len(r.order))
	items = append(items, r.order...)
	sort.Strings(items)
	return items
}

// Invoke validates rawArgs against the named tool's input schema and
// calls its handler. Unknown tools and validation failures come back
// as failed Results, never as panics or errors.
func (r *Registry) Invoke(ctx context.Context, name string, caller string, rawArgs map[string]interface{}) Result {
	toolName := NormalizeToolName(name)
	ent, ok := r.entries[toolName]
	if !ok {
		res := Failure(CodeUnknownTool, "unknown tool: "+toolName)
		res.Tool = toolName
		return res
	}

	fieldErrors := validateArgs(ent.def, rawArgs)
	if len(fieldErrors) > 0 {
		res := Failure(CodeInvalidArguments, invalidArgsMessage(fieldErrors))
		res.Tool = toolName
		res.Fields = fieldErrors
		return res
	}

	res := ent.handler(ctx, caller, Args(rawArgs))
	res.Tool = toolName
	return res
}

func validateArgs(def Definition, rawArgs map[string]interface{}) map[string]string {
	fieldErrors := map[string]string{}
	known := make(map[string]Field, len(def.Input))
	for _, f := range def.Input {
		known[f.Name] = f
	}

	for key := range rawArgs {
		if _, ok := known[key]; !ok {
			fieldErrors[key] = "unknown argument"
		}
	}

	for _, f := range def.Input {
		raw, present := rawArgs[f.Name]
		if !present || raw == nil {
			if f.Required {
				fieldErrors[f.Name] = "required"
			}
			continue
		}
		if msg := validateValue(f, raw); msg != "" {
			fieldErrors[f.Name] = msg
		}
	}
	return fieldErrors
}

func validateValue(f Field, raw interface{}) string {
	switch f.Type {
	case TypeString:
		s, ok := raw.(string)
		if !ok {
			return "must be a string"
		}
		if f.Required && strings.TrimSpace(s) == "" {
			return "must not be empty"
		}
		if f.MaxLen > 0 && utf8.RuneCountInString(s) > f.MaxLen {
			return fmt.Sprintf("must be at most %d characters", f.MaxLen)
		}
		if len(f.Enum) > 0 && !contains(f.Enum, s) {
			return "must be one of: " + strings.Join(f.Enum, ", ")
		}
	case TypeInteger:
		switch v := raw.(type) {
		case int, int64:
		case float64:
			if v != float64(int64(v)) {
				return "must be an integer"
			}
		default:
			return "must be an integer"
		}
	case TypeBoolean:
		if _, ok := raw.(bool); !ok {
			return "must be a boolean"
		}
	case TypeArray:
		switch v := raw.(type) {
		case []string:
		case []interface{}:
			for _, item := range v {
				if _, ok := item.(string); !ok {
					return "must be an array of strings"
				}
			}
		default:
			return "must be an array of strings"
		}
	}
	return ""
}

func invalidArgsMessage(fieldErrors map[string]string) string {
	keys := make([]string, 0, len(fieldErrors))
	for key := range fieldErrors {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+": "+fieldErrors[key])
	}
	return "invalid arguments: " + strings.Join(parts, "; ")
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}

func NormalizeToolName(name string) string {
	trimmed := strings.ToLower(strings.TrimSpace(name))
	trimmed = strings.ReplaceAll(trimmed, "-", "_")
	trimmed = strings.ReplaceAll(trimmed, " ", "_")
	return trimmed
}
