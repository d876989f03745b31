package schema

import (
	"encoding/json"
	"reflect"
	"testing"
)

func parseSchema(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	return m
}

func TestCleanIsIdempotent(t *testing.T) {
	s := parseSchema(t, `{
		"type": "object",
		"properties": {
			"count": {"type": ["integer", "null"], "minimum": 1, "maximum": 10},
			"kind": {"enum": [1, 2, 3]}
		},
		"required": ["count", "missing"]
	}`)
	once := Clean(s)
	twice := Clean(once)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("Clean is not idempotent:\nonce=%#v\ntwice=%#v", once, twice)
	}
}

func TestRefResolutionAtDepth(t *testing.T) {
	s := parseSchema(t, `{
		"type": "object",
		"$defs": {
			"Address": {
				"type": "object",
				"properties": {
					"city": {"$ref": "#/$defs/City"}
				}
			},
			"City": {"type": "string"}
		},
		"properties": {
			"home": {"$ref": "#/$defs/Address"}
		}
	}`)
	out := Clean(s)
	home, ok := out["properties"].(map[string]interface{})["home"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected home property to resolve to a map, got %#v", out["properties"])
	}
	city, ok := home["properties"].(map[string]interface{})["city"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected nested $ref to resolve at depth, got %#v", home["properties"])
	}
	if city["type"] != "string" {
		t.Fatalf("expected resolved city type string, got %v", city["type"])
	}
}

func TestNullableLoweredExactlyOnce(t *testing.T) {
	s := parseSchema(t, `{"type": ["string", "null"]}`)
	out := cleanSchemaMap(s)
	if out["type"] != "string" {
		t.Fatalf("expected type lowered to string, got %v", out["type"])
	}
	again := cleanSchemaMap(out)
	if again["type"] != "string" {
		t.Fatalf("expected type to remain string on re-clean, got %v", again["type"])
	}
}

func TestAnyOfMergePreservesPropertiesAndRequired(t *testing.T) {
	s := parseSchema(t, `{
		"anyOf": [
			{"type": "object", "properties": {"a": {"type": "string"}}, "required": ["a"]},
			{"type": "null"}
		]
	}`)
	out := Clean(s)
	props, ok := out["properties"].(map[string]interface{})
	if !ok || props["a"] == nil {
		t.Fatalf("expected merged anyOf to keep property 'a', got %#v", out)
	}
	req, ok := out["required"].([]interface{})
	if !ok || len(req) != 1 || req[0] != "a" {
		t.Fatalf("expected required to carry through anyOf merge, got %#v", out["required"])
	}
}

func TestEnumValuesCoercedToStrings(t *testing.T) {
	s := parseSchema(t, `{"enum": [1, 2, 3]}`)
	out := Clean(s)
	vals, ok := out["enum"].([]interface{})
	if !ok {
		t.Fatalf("expected enum slice, got %#v", out["enum"])
	}
	for _, v := range vals {
		if _, ok := v.(string); !ok {
			t.Fatalf("expected all enum values coerced to strings, got %#v", v)
		}
	}
}

func TestNonSchemaNodeExemptFromWhitelist(t *testing.T) {
	s := parseSchema(t, `{
		"functionCall": {"name": "lookup", "args": {"query": "x"}},
		"extraField": "kept"
	}`)
	out := Clean(s)
	if out["extraField"] != "kept" {
		t.Fatalf("expected non-schema node's arbitrary keys to survive, got %#v", out)
	}
}

func TestWhitelistFilterDropsUnknownKeysOnSchemaNode(t *testing.T) {
	s := parseSchema(t, `{"type": "string", "weirdVendorKey": "x"}`)
	out := Clean(s)
	if _, ok := out["weirdVendorKey"]; ok {
		t.Fatalf("expected unknown key stripped from schema node, got %#v", out)
	}
}

func TestFixToolCallArgsRefusesLeadingZeroCoercion(t *testing.T) {
	schema := map[string]interface{}{
		"properties": map[string]interface{}{
			"zip": map[string]interface{}{"type": "integer"},
		},
	}
	args := map[string]interface{}{"zip": "00501"}
	out := FixToolCallArgs(args, schema)
	if out["zip"] != "00501" {
		t.Fatalf("expected leading-zero string left uncoerced, got %#v", out["zip"])
	}
}

func TestFixToolCallArgsCoercesPlainIntegerString(t *testing.T) {
	schema := map[string]interface{}{
		"properties": map[string]interface{}{
			"count": map[string]interface{}{"type": "integer"},
		},
	}
	args := map[string]interface{}{"count": "42"}
	out := FixToolCallArgs(args, schema)
	if out["count"] != int64(42) {
		t.Fatalf("expected count coerced to int64(42), got %#v", out["count"])
	}
}
