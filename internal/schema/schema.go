// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package schema loads bundled JSON Schemas and validates artifacts
// against them. A schema is held twice: as a generic tree for the repair
// pass and as a resolved schema for Draft 2020-12 validation.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	gocache "github.com/patrickmn/go-cache"
)

// Schema is a loaded, resolved JSON Schema.
type Schema struct {
	// Source is the file the schema came from, or "" when parsed from bytes.
	Source string

	// Raw is the decoded schema document.
	Raw map[string]any

	resolved *jsonschema.Resolved
}

// Parse decodes and resolves a bundled schema. Every $ref must point into
// the document itself.
func Parse(data []byte) (*Schema, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding schema: %w", err)
	}
	if raw == nil {
		return nil, errors.New("schema is not a JSON object")
	}
	if refs := externalRefs(raw); len(refs) > 0 {
		return nil, fmt.Errorf("schema is not bundled, external references: %s", strings.Join(refs, ", "))
	}

	var js jsonschema.Schema
	if err := json.Unmarshal(data, &js); err != nil {
		return nil, fmt.Errorf("decoding schema: %w", err)
	}
	resolved, err := js.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolving schema: %w", err)
	}
	return &Schema{Raw: raw, resolved: resolved}, nil
}

// Validate checks instance against the schema and returns one message per
// violation, or nil when the instance is valid.
func (s *Schema) Validate(instance any) []string {
	err := s.resolved.Validate(instance)
	if err == nil {
		return nil
	}
	return messages(err)
}

// messages flattens joined errors into their individual texts.
func messages(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, messages(e)...)
		}
		return out
	}
	return []string{err.Error()}
}

// externalRefs returns the sorted $ref values that do not start with "#".
func externalRefs(node any) []string {
	seen := map[string]bool{}
	var walk func(any)
	walk = func(n any) {
		switch t := n.(type) {
		case map[string]any:
			if ref, ok := t["$ref"].(string); ok && !strings.HasPrefix(ref, "#") {
				seen[ref] = true
			}
			for _, v := range t {
				walk(v)
			}
		case []any:
			for _, v := range t {
				walk(v)
			}
		}
	}
	walk(node)

	refs := make([]string, 0, len(seen))
	for r := range seen {
		refs = append(refs, r)
	}
	sort.Strings(refs)
	return refs
}

// Loader reads schemas from disk and caches them by path. A cached entry is
// reused while the file's modification time is unchanged.
type Loader struct {
	cache *gocache.Cache
}

type cached struct {
	modTime time.Time
	schema  *Schema
}

// NewLoader creates a Loader whose entries expire after ttl.
func NewLoader(ttl time.Duration) *Loader {
	return &Loader{cache: gocache.New(ttl, 2*ttl)}
}

// Load returns the schema stored at path.
func (l *Loader) Load(path string) (*Schema, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving schema path %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("reading schema %s: %w", path, err)
	}

	if v, found := l.cache.Get(abs); found {
		if c := v.(cached); c.modTime.Equal(info.ModTime()) {
			return c.schema, nil
		}
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading schema %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", path, err)
	}
	s.Source = abs

	l.cache.Set(abs, cached{modTime: info.ModTime(), schema: s}, gocache.DefaultExpiration)
	return s, nil
}
