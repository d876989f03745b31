// Package schema implements the JSON Schema cleaning pipeline (C6): it
// normalizes arbitrary tool JSON Schema into the subset the upstream
// generateContent API accepts.
//
// Grounded on the teacher's convertSchema/ConvertSchema helpers (present in
// openai_builtin.go, gemini/provider.go, anthropic/types.go — all three
// providers carry a minimal "ensure type is present" version of this),
// generalized into the full ten-step pipeline described in
// original_source's proxy/common/json_schema/cleaner.rs.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// whitelistedKeys are the only keys retained in a schema-shaped node after
// cleaning (step 6).
var whitelistedKeys = map[string]bool{
	"type": true, "description": true, "properties": true,
	"required": true, "items": true, "enum": true, "title": true,
}

// constraintKeys are migrated into the description as a "[Constraint: ...]"
// suffix (step 5) rather than dropped outright.
var constraintKeys = []string{"minimum", "maximum", "minLength", "maxLength", "format", "pattern", "minItems", "maxItems"}

// Hook lets a tool adapter run pre/post processing around the common
// cleaning, keyed by tool name (spec.md §4.6's "tool adapters register a
// pre- and post-processing hook").
type Hook func(schema map[string]interface{}) map[string]interface{}

// Cleaner runs the cleaning pipeline, optionally with per-tool hooks.
type Cleaner struct {
	pre  map[string]Hook
	post map[string]Hook
}

// New creates an empty Cleaner.
func New() *Cleaner {
	return &Cleaner{pre: make(map[string]Hook), post: make(map[string]Hook)}
}

// RegisterHooks installs a pre/post hook pair for toolName. Either may be nil.
func (c *Cleaner) RegisterHooks(toolName string, pre, post Hook) {
	if pre != nil {
		c.pre[toolName] = pre
	}
	if post != nil {
		c.post[toolName] = post
	}
}

// Clean runs the full pipeline for a named tool's schema.
func (c *Cleaner) Clean(toolName string, s map[string]interface{}) map[string]interface{} {
	if pre, ok := c.pre[toolName]; ok {
		s = pre(s)
	}
	out := Clean(s)
	if post, ok := c.post[toolName]; ok {
		out = post(out)
	}
	return out
}

// Clean runs the ten-step pipeline without any tool-specific hooks. It is
// idempotent: Clean(Clean(s)) deep-equals Clean(s) (testable property 1).
func Clean(s map[string]interface{}) map[string]interface{} {
	defs := make(map[string]interface{})
	collectDefs(s, defs)
	resolved := resolveRefs(s, defs, make(map[string]bool))
	return cleanNode(resolved)
}

// collectDefs recursively gathers $defs/definitions from every level, not
// only the root (step 1).
func collectDefs(node interface{}, into map[string]interface{}) {
	m, ok := node.(map[string]interface{})
	if !ok {
		if arr, ok := node.([]interface{}); ok {
			for _, v := range arr {
				collectDefs(v, into)
			}
		}
		return
	}
	for _, key := range []string{"$defs", "definitions"} {
		if defs, ok := m[key].(map[string]interface{}); ok {
			for name, def := range defs {
				into[name] = def
				collectDefs(def, into)
			}
		}
	}
	for k, v := range m {
		if k == "$defs" || k == "definitions" {
			continue
		}
		collectDefs(v, into)
	}
}

func resolveRefs(node interface{}, defs map[string]interface{}, seen map[string]bool) interface{} {
	switch n := node.(type) {
	case map[string]interface{}:
		if ref, ok := n["$ref"].(string); ok {
			name := refName(ref)
			if def, ok := defs[name]; ok && !seen[name] {
				seen2 := copySeen(seen)
				seen2[name] = true
				return resolveRefs(def, defs, seen2)
			}
			return map[string]interface{}{
				"type":        "string",
				"description": fmt.Sprintf("Unresolved $ref: %s", ref),
			}
		}
		out := make(map[string]interface{}, len(n))
		for k, v := range n {
			if k == "$defs" || k == "definitions" {
				continue
			}
			out[k] = resolveRefs(v, defs, seen)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(n))
		for i, v := range n {
			out[i] = resolveRefs(v, defs, seen)
		}
		return out
	default:
		return node
	}
}

func copySeen(seen map[string]bool) map[string]bool {
	out := make(map[string]bool, len(seen)+1)
	for k, v := range seen {
		out[k] = v
	}
	return out
}

func refName(ref string) string {
	parts := strings.Split(ref, "/")
	return parts[len(parts)-1]
}

// isSchemaNode heuristically identifies whether m looks like a JSON Schema
// node (as opposed to runtime tool-call payload data containing
// functionCall/functionResponse, which must be exempted from whitelist
// filtering per spec.md §4.6 step 10).
func isSchemaNode(m map[string]interface{}) bool {
	if _, ok := m["functionCall"]; ok {
		return false
	}
	if _, ok := m["functionResponse"]; ok {
		return false
	}
	schemaKeys := []string{"type", "properties", "items", "enum", "allOf", "anyOf", "oneOf", "$ref", "$defs"}
	for _, k := range schemaKeys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

func cleanNode(node interface{}) map[string]interface{} {
	m, ok := asMap(node)
	if !ok {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	return cleanSchemaMap(m)
}

func asMap(node interface{}) (map[string]interface{}, bool) {
	m, ok := node.(map[string]interface{})
	return m, ok
}

func cleanSchemaMap(m map[string]interface{}) map[string]interface{} {
	if !isSchemaNode(m) {
		return cleanNonSchemaMap(m)
	}

	m = mergeAllOf(m)
	m = mergeUnion(m)
	m = structuralRepair(m)
	m = lowerNullable(m)
	m = migrateConstraints(m)

	// Recurse into properties/items before whitelist filtering strips
	// anything unexpected at this level.
	if props, ok := m["properties"].(map[string]interface{}); ok {
		cleanedProps := make(map[string]interface{}, len(props))
		for k, v := range props {
			if vm, ok := asMap(v); ok {
				cleanedProps[k] = cleanSchemaMap(vm)
			} else {
				cleanedProps[k] = v
			}
		}
		m["properties"] = cleanedProps
	}
	if items, ok := m["items"].(map[string]interface{}); ok {
		m["items"] = cleanSchemaMap(items)
	}

	m = inferType(m)
	m = coerceEnumStrings(m)
	m = alignRequired(m)
	m = whitelistFilter(m)
	return m
}

// cleanNonSchemaMap recurses into a non-schema node's values without
// whitelist-filtering the node itself (step 10's exemption), so runtime tool
// payloads are not mutilated.
func cleanNonSchemaMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if vm, ok := asMap(v); ok {
			out[k] = cleanSchemaMap(vm)
		} else if arr, ok := v.([]interface{}); ok {
			out[k] = cleanArray(arr)
		} else {
			out[k] = v
		}
	}
	return out
}

func cleanArray(arr []interface{}) []interface{} {
	out := make([]interface{}, len(arr))
	for i, v := range arr {
		if vm, ok := asMap(v); ok {
			out[i] = cleanSchemaMap(vm)
		} else {
			out[i] = v
		}
	}
	return out
}

// structuralRepair implements step 2.
func structuralRepair(m map[string]interface{}) map[string]interface{} {
	_, hasType := m["type"]
	_, hasProps := m["properties"]
	items, hasItems := m["items"]

	if (hasType && m["type"] == "object" || hasProps) && hasItems {
		if itemsMap, ok := asMap(items); ok {
			props, _ := m["properties"].(map[string]interface{})
			if props == nil {
				props = make(map[string]interface{})
			}
			for k, v := range itemsMap {
				props[k] = v
			}
			m["properties"] = props
		}
		delete(m, "items")
	} else if hasItems && !hasType {
		m["type"] = "array"
	}
	return m
}

// mergeAllOf implements the allOf half of step 3: shallow union of all
// branches' keys into the parent.
func mergeAllOf(m map[string]interface{}) map[string]interface{} {
	all, ok := m["allOf"].([]interface{})
	if !ok {
		return m
	}
	delete(m, "allOf")
	for _, branch := range all {
		bm, ok := asMap(branch)
		if !ok {
			continue
		}
		for k, v := range bm {
			switch k {
			case "properties":
				props, _ := m["properties"].(map[string]interface{})
				if props == nil {
					props = make(map[string]interface{})
				}
				if bprops, ok := v.(map[string]interface{}); ok {
					for pk, pv := range bprops {
						props[pk] = pv
					}
				}
				m["properties"] = props
			case "required":
				req, _ := m["required"].([]interface{})
				if breq, ok := v.([]interface{}); ok {
					req = append(req, breq...)
				}
				m["required"] = req
			default:
				if _, exists := m[k]; !exists {
					m[k] = v
				}
			}
		}
	}
	return m
}

// mergeUnion implements the anyOf/oneOf half of step 3.
func mergeUnion(m map[string]interface{}) map[string]interface{} {
	for _, key := range []string{"anyOf", "oneOf"} {
		branches, ok := m[key].([]interface{})
		if !ok {
			continue
		}
		delete(m, key)

		var nonNull []map[string]interface{}
		hasNull := false
		for _, b := range branches {
			bm, ok := asMap(b)
			if !ok {
				continue
			}
			if t, _ := bm["type"].(string); t == "null" {
				hasNull = true
				continue
			}
			nonNull = append(nonNull, bm)
		}

		if len(nonNull) == 0 {
			continue
		}
		best := nonNull[0]
		if props, ok := best["properties"].(map[string]interface{}); ok {
			existing, _ := m["properties"].(map[string]interface{})
			if existing == nil {
				existing = make(map[string]interface{})
			}
			for k, v := range props {
				existing[k] = v
			}
			m["properties"] = existing
		}
		if req, ok := best["required"].([]interface{}); ok {
			m["required"] = req
		}
		if t, ok := best["type"]; ok {
			if _, exists := m["type"]; !exists {
				m["type"] = t
			}
		}

		hint := describeUnion(nonNull, hasNull)
		appendDescription(m, hint)
	}
	return m
}

func describeUnion(branches []map[string]interface{}, hasNull bool) string {
	names := make([]string, 0, len(branches)+1)
	for _, b := range branches {
		if t, ok := b["type"].(string); ok {
			names = append(names, t)
		} else {
			names = append(names, "object")
		}
	}
	if hasNull {
		names = append(names, "null")
	}
	return "Accepts: " + strings.Join(names, " | ")
}

func appendDescription(m map[string]interface{}, suffix string) {
	desc, _ := m["description"].(string)
	if strings.Contains(desc, suffix) {
		return
	}
	if desc == "" {
		m["description"] = suffix
		return
	}
	m["description"] = desc + " " + suffix
}

// lowerNullable implements step 4.
func lowerNullable(m map[string]interface{}) map[string]interface{} {
	arr, ok := m["type"].([]interface{})
	if !ok {
		return m
	}
	var nonNull string
	for _, t := range arr {
		if s, ok := t.(string); ok && s != "null" {
			nonNull = s
		}
	}
	if nonNull == "" {
		return m
	}
	m["type"] = nonNull
	appendDescription(m, "(nullable)")
	return m
}

// migrateConstraints implements step 5.
func migrateConstraints(m map[string]interface{}) map[string]interface{} {
	var parts []string
	for _, k := range constraintKeys {
		if v, ok := m[k]; ok {
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
			delete(m, k)
		}
	}
	if len(parts) == 0 {
		return m
	}
	sort.Strings(parts)
	appendDescription(m, "[Constraint: "+strings.Join(parts, ", ")+"]")
	return m
}

// inferType implements step 8.
func inferType(m map[string]interface{}) map[string]interface{} {
	if _, ok := m["type"]; ok {
		return m
	}
	if _, ok := m["enum"]; ok {
		m["type"] = "string"
	} else if _, ok := m["properties"]; ok {
		m["type"] = "object"
	} else if _, ok := m["items"]; ok {
		m["type"] = "array"
	}
	return m
}

// coerceEnumStrings implements step 9.
func coerceEnumStrings(m map[string]interface{}) map[string]interface{} {
	vals, ok := m["enum"].([]interface{})
	if !ok {
		return m
	}
	out := make([]interface{}, len(vals))
	for i, v := range vals {
		out[i] = fmt.Sprintf("%v", v)
	}
	m["enum"] = out
	return m
}

// alignRequired implements step 7.
func alignRequired(m map[string]interface{}) map[string]interface{} {
	req, ok := m["required"].([]interface{})
	if !ok {
		return m
	}
	props, _ := m["properties"].(map[string]interface{})
	out := make([]interface{}, 0, len(req))
	for _, r := range req {
		name, ok := r.(string)
		if !ok {
			continue
		}
		if props != nil {
			if _, present := props[name]; present {
				out = append(out, name)
			}
		}
	}
	m["required"] = out
	return m
}

// whitelistFilter implements step 6.
func whitelistFilter(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(whitelistedKeys))
	for k, v := range m {
		if whitelistedKeys[k] {
			out[k] = v
		}
	}
	return out
}
