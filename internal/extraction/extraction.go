// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package extraction supplies the LLM-backed generator, validator and
// corrector that the control loop drives. Prompts are text/template
// documents selected by artifact kind; every call goes through an
// llm.Backend, so tests substitute a scripted one.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/pdiddy/trial-engine/internal/llm"
	"github.com/pdiddy/trial-engine/internal/loop"
	"github.com/pdiddy/trial-engine/internal/provider"
	"github.com/pdiddy/trial-engine/internal/schema"
	"github.com/pdiddy/trial-engine/pkg/types"
)

// Generator drafts the first artifact of a run.
type Generator struct {
	Backend llm.Backend
	Logger  *zap.Logger
}

// Generate renders the kind's generation prompt and returns the model's
// object.
func (g *Generator) Generate(ctx context.Context, in loop.Input) (types.Artifact, error) {
	tmpl, ok := generateTmpl[in.Kind]
	if !ok {
		return nil, fmt.Errorf("no generation prompt for kind %q", in.Kind)
	}
	if in.Kind == types.KindReport && in.Upstream == nil {
		return nil, fmt.Errorf("report generation needs an upstream extraction")
	}

	prompt, err := render(tmpl, promptData{Kind: in.Kind, Source: in.Source, Schema: in.Schema, Upstream: in.Upstream})
	if err != nil {
		return nil, err
	}
	logger(g.Logger).Debug("generating", zap.String("kind", string(in.Kind)), zap.Int("prompt_bytes", len(prompt)))
	return g.Backend.GenerateJSON(ctx, llm.Request{System: systemPrompt, Prompt: prompt, Schema: in.Schema})
}

// Validator scores an artifact. When Schema is set the artifact is first
// checked mechanically; the violations go into the prompt and are attached
// to the result for the corrector.
type Validator struct {
	Backend llm.Backend
	Schema  *schema.Schema
	Logger  *zap.Logger
}

// Validate returns the model's review of artifact.
func (v *Validator) Validate(ctx context.Context, artifact types.Artifact, in loop.Input) (types.ValidationResult, error) {
	var schemaErrors []string
	if v.Schema != nil {
		schemaErrors = v.Schema.Validate(artifact)
	}

	prompt, err := render(validateTmpl, promptData{
		Kind:         in.Kind,
		Source:       in.Source,
		Schema:       in.Schema,
		Upstream:     in.Upstream,
		Artifact:     artifact,
		SchemaErrors: schemaErrors,
	})
	if err != nil {
		return types.ValidationResult{}, err
	}

	obj, err := v.Backend.GenerateJSON(ctx, llm.Request{System: systemPrompt, Prompt: prompt})
	if err != nil {
		return types.ValidationResult{}, err
	}
	vr, err := DecodeValidation(obj)
	if err != nil {
		return types.ValidationResult{}, provider.Parse("validate", err)
	}
	vr.SchemaErrors = append(vr.SchemaErrors, schemaErrors...)

	logger(v.Logger).Debug("validated",
		zap.String("kind", string(in.Kind)),
		zap.Int("issues", len(vr.Issues)),
		zap.Int("schema_errors", len(vr.SchemaErrors)),
	)
	return vr, nil
}

// Corrector asks the model to fix the issues a validation found.
type Corrector struct {
	Backend llm.Backend
	Logger  *zap.Logger
}

// Correct returns the model's corrected artifact. The result is repaired
// by the loop before it is validated again.
func (c *Corrector) Correct(ctx context.Context, artifact types.Artifact, vr types.ValidationResult, in loop.Input) (types.Artifact, error) {
	prompt, err := render(correctTmpl, promptData{
		Kind:       in.Kind,
		Source:     in.Source,
		Schema:     in.Schema,
		Upstream:   in.Upstream,
		Artifact:   artifact,
		Validation: vr,
	})
	if err != nil {
		return nil, err
	}
	logger(c.Logger).Debug("correcting", zap.String("kind", string(in.Kind)), zap.Int("issues", len(vr.Issues)))
	return c.Backend.GenerateJSON(ctx, llm.Request{System: systemPrompt, Prompt: prompt, Schema: in.Schema})
}

// DecodeValidation converts a decoded JSON object into a ValidationResult.
// Missing scores stay nil; a summary of the wrong shape is an error.
func DecodeValidation(obj map[string]any) (types.ValidationResult, error) {
	b, err := json.Marshal(obj)
	if err != nil {
		return types.ValidationResult{}, fmt.Errorf("encoding validation: %w", err)
	}
	var vr types.ValidationResult
	if err := json.Unmarshal(b, &vr); err != nil {
		return types.ValidationResult{}, fmt.Errorf("decoding validation: %w", err)
	}
	return vr, nil
}

func logger(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
