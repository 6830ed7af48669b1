// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package repair applies deterministic structural fixes to a corrected
// artifact before it is validated again. Repairs never invent content: a
// defect that cannot be fixed from the artifact itself or from the
// pre-correction original is left for the schema validator to report.
package repair

import (
	"strings"

	"github.com/pdiddy/trial-engine/pkg/types"
)

const (
	defsPrefix = "#/$defs/"

	// maxRefDepth bounds chained $ref resolution. Circular schemas are not
	// supported; the bound keeps a malformed one from hanging the pass.
	maxRefDepth = 32
)

// Options configures the identifier heuristic used to recover array items.
type Options struct {
	// PreferredIDFields is consulted in order when an item schema has zero
	// or several *_id candidates.
	PreferredIDFields []string

	// ExcludedIDFields are never treated as item identifiers.
	ExcludedIDFields []string
}

// DefaultOptions returns the identifier heuristic for clinical-trial schemas.
func DefaultOptions() Options {
	return Options{
		PreferredIDFields: []string{
			"outcome_id", "arm_id", "intervention_id", "endpoint_id",
			"measure_id", "group_id", "id",
		},
		ExcludedIDFields: []string{"study_id"},
	}
}

// Repair returns a repaired copy of data using DefaultOptions. See
// Options.Repair.
func Repair(data any, schema map[string]any, original any) any {
	return DefaultOptions().Repair(data, schema, original)
}

// Repair returns a structurally repaired deep copy of data. schema must be
// bundled: local references point into its own $defs map. original is the
// pre-correction artifact and is only read to recover items the corrector
// collapsed to bare identifiers; it may be nil. Neither data nor original
// is modified, and repairing already valid data returns an equal value.
func (o Options) Repair(data any, schema map[string]any, original any) any {
	r := &repairer{opts: o}
	if schema != nil {
		r.defs, _ = schema["$defs"].(map[string]any)
	}
	return r.value(types.CloneValue(data), schema, original)
}

type repairer struct {
	opts Options
	defs map[string]any
}

// value repairs v in place (v is already a private copy) and returns it.
func (r *repairer) value(v any, schema map[string]any, original any) any {
	schema = r.resolve(schema)
	if schema == nil {
		return v
	}
	switch t := v.(type) {
	case map[string]any:
		orig, _ := original.(map[string]any)
		r.object(t, schema, orig)
		return t
	case []any:
		orig, _ := original.([]any)
		return r.array(t, schema, orig)
	default:
		return v
	}
}

// object repairs nested values first, then strips keys the schema forbids.
func (r *repairer) object(obj map[string]any, schema map[string]any, original map[string]any) {
	props, hasProps := schema["properties"].(map[string]any)
	extra, _ := schema["additionalProperties"].(map[string]any)

	for key, child := range obj {
		if ps, ok := props[key].(map[string]any); ok {
			obj[key] = r.value(child, ps, original[key])
			continue
		}
		if extra != nil {
			obj[key] = r.value(child, extra, original[key])
		}
	}

	if allowed, ok := schema["additionalProperties"].(bool); ok && !allowed && hasProps {
		for key := range obj {
			if _, known := props[key]; !known {
				delete(obj, key)
			}
		}
	}
}

// array recovers string elements that should be objects and repairs every
// element against the item schema.
func (r *repairer) array(arr []any, schema map[string]any, original []any) []any {
	items, ok := schema["items"].(map[string]any)
	if !ok {
		return arr
	}
	resolved := r.resolve(items)
	if resolved == nil {
		return arr
	}

	idField := ""
	if isObjectSchema(resolved) {
		idField = r.idField(resolved)
	}
	byID := indexByID(original, idField)

	for i, elem := range arr {
		switch e := elem.(type) {
		case string:
			rec, found := byID[e]
			if !found {
				continue
			}
			arr[i] = r.value(types.CloneValue(rec), items, rec)
		case map[string]any:
			var counterpart any
			if idField != "" {
				if id, ok := e[idField].(string); ok {
					if rec, found := byID[id]; found {
						counterpart = rec
					}
				}
			}
			if counterpart == nil && i < len(original) {
				counterpart = original[i]
			}
			arr[i] = r.value(e, items, counterpart)
		case []any:
			var counterpart any
			if i < len(original) {
				counterpart = original[i]
			}
			arr[i] = r.value(e, items, counterpart)
		}
	}
	return arr
}

// resolve follows local $ref pointers and collapses optional unions
// (anyOf/oneOf with a single non-null branch). An unresolvable reference
// yields a schema with no structure, which makes the caller a no-op.
func (r *repairer) resolve(schema map[string]any) map[string]any {
	for depth := 0; depth < maxRefDepth; depth++ {
		if schema == nil {
			return nil
		}
		if ref, ok := schema["$ref"].(string); ok {
			name, found := strings.CutPrefix(ref, defsPrefix)
			if !found {
				return nil
			}
			def, ok := r.defs[name].(map[string]any)
			if !ok {
				return nil
			}
			schema = def
			continue
		}
		if branch := singleBranch(schema); branch != nil {
			schema = branch
			continue
		}
		return schema
	}
	return nil
}

// singleBranch returns the only non-null alternative of an anyOf or oneOf,
// or nil when the union is absent or ambiguous.
func singleBranch(schema map[string]any) map[string]any {
	for _, key := range []string{"anyOf", "oneOf"} {
		alts, ok := schema[key].([]any)
		if !ok {
			continue
		}
		var pick map[string]any
		count := 0
		for _, alt := range alts {
			m, ok := alt.(map[string]any)
			if !ok {
				continue
			}
			if t, _ := m["type"].(string); t == "null" {
				continue
			}
			pick = m
			count++
		}
		if count == 1 {
			return pick
		}
	}
	return nil
}

// idField picks the property identifying an item: the single *_id
// candidate when there is exactly one, otherwise the first preferred field
// the schema declares. It returns "" when nothing qualifies.
func (r *repairer) idField(schema map[string]any) string {
	props, _ := schema["properties"].(map[string]any)
	if len(props) == 0 {
		return ""
	}

	var candidates []string
	for name := range props {
		if strings.HasSuffix(name, "_id") && !r.excluded(name) {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 1 {
		return candidates[0]
	}

	for _, name := range r.opts.PreferredIDFields {
		if r.excluded(name) {
			continue
		}
		if _, ok := props[name]; ok {
			return name
		}
	}
	return ""
}

func (r *repairer) excluded(name string) bool {
	for _, ex := range r.opts.ExcludedIDFields {
		if ex == name {
			return true
		}
	}
	return false
}

// indexByID maps identifier values to the object elements of arr. The
// first element wins when identifiers repeat.
func indexByID(arr []any, idField string) map[string]any {
	if idField == "" || len(arr) == 0 {
		return nil
	}
	index := make(map[string]any, len(arr))
	for _, elem := range arr {
		obj, ok := elem.(map[string]any)
		if !ok {
			continue
		}
		id, ok := obj[idField].(string)
		if !ok {
			continue
		}
		if _, dup := index[id]; !dup {
			index[id] = obj
		}
	}
	return index
}

// isObjectSchema reports whether schema describes a JSON object.
func isObjectSchema(schema map[string]any) bool {
	switch t := schema["type"].(type) {
	case string:
		if t == "object" {
			return true
		}
	case []any:
		for _, e := range t {
			if s, _ := e.(string); s == "object" {
				return true
			}
		}
	}
	_, hasProps := schema["properties"].(map[string]any)
	return hasProps
}
