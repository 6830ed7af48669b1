// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types holds the data contracts shared by the engine, its
// collaborators and the CLI.
package types

// Kind identifies what an artifact represents. Each kind carries its own
// weights, thresholds, gate floor and prompt templates.
type Kind string

const (
	KindExtraction Kind = "extraction"
	KindReport     Kind = "report"
)

// Valid reports whether k is a known artifact kind.
func (k Kind) Valid() bool {
	return k == KindExtraction || k == KindReport
}

// Artifact is a JSON object tree as produced by encoding/json: values are
// map[string]any, []any, string, float64, bool or nil.
type Artifact = map[string]any

// CloneValue returns a deep copy of a JSON value tree. Values of other
// types are returned as-is.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = CloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	default:
		return v
	}
}

// CloneArtifact deep-copies an artifact. A nil artifact stays nil.
func CloneArtifact(a Artifact) Artifact {
	if a == nil {
		return nil
	}
	return CloneValue(a).(map[string]any)
}
