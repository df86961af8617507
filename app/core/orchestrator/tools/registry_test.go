package tools

import (
	"context"
	"testing"
)

func TestRegisterRules(t *testing.T) {
	reg := NewRegistry()
	def := Definition{Name: "Echo Tool", Description: "echo"}
	handler := func(context.Context, string, Args) Result { return Success("ok", nil) }

	if err := reg.Register(def, handler); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	// Names are normalized, so the variant collides.
	if err := reg.Register(Definition{Name: "echo_tool"}, handler); err == nil {
		t.Fatalf("duplicate name must be rejected")
	}
	if err := reg.Register(Definition{Name: ""}, handler); err == nil {
		t.Fatalf("empty name must be rejected")
	}
	if err := reg.Register(Definition{Name: "no_handler"}, nil); err == nil {
		t.Fatalf("nil handler must be rejected")
	}

	res := reg.Invoke(context.Background(), "ECHO TOOL", "u-1", nil)
	if !res.OK() || res.Tool != "echo_tool" {
		t.Fatalf("normalized invoke failed: %+v", res)
	}
}

func TestDefinitionsOrderAndSchema(t *testing.T) {
	reg := NewRegistry()
	handler := func(context.Context, string, Args) Result { return Success("", nil) }
	_ = reg.Register(Definition{Name: "b_tool"}, handler)
	_ = reg.Register(Definition{Name: "a_tool", Input: []Field{
		{Name: "title", Type: TypeString, Required: true},
		{Name: "tags", Type: TypeArray},
	}}, handler)

	defs := reg.Definitions()
	if len(defs) != 2 || defs[0].Name != "b_tool" || defs[1].Name != "a_tool" {
		t.Fatalf("definitions must keep registration order: %+v", defs)
	}

	schema := defs[1].ParametersSchema()
	if schema["type"] != "object" {
		t.Fatalf("schema must be an object: %v", schema)
	}
	props := schema["properties"].(map[string]interface{})
	if props["title"].(map[string]interface{})["type"] != "string" {
		t.Fatalf("unexpected title schema: %v", props["title"])
	}
	if props["tags"].(map[string]interface{})["items"].(map[string]interface{})["type"] != "string" {
		t.Fatalf("array fields must declare string items: %v", props["tags"])
	}
	required := schema["required"].([]string)
	if len(required) != 1 || required[0] != "title" {
		t.Fatalf("unexpected required list: %v", required)
	}
}
