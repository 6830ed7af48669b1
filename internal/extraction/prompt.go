// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/pdiddy/trial-engine/pkg/types"
)

const systemPrompt = `You are a clinical trial data specialist. You read trial publications and registry records and produce structured JSON that conforms exactly to a given JSON Schema. You never invent values: a field that the source does not support is left null or omitted. Respond with a single JSON object and no other text.`

var funcs = template.FuncMap{"json": indentJSON}

// generateTmpl produces the first draft of an artifact, per kind.
var generateTmpl = map[types.Kind]*template.Template{
	types.KindExtraction: template.Must(template.New("generate-extraction").Funcs(funcs).Parse(`Extract the clinical trial described in the document below into a JSON object that conforms to this JSON Schema:

{{json .Schema}}

Rules:
- Copy numbers, units and group labels exactly as written, including confidence intervals and p-values.
- Every outcome, arm and intervention gets a stable identifier in its *_id field. Refer to items elsewhere by that identifier.
- Do not add properties the schema does not declare.

Document:
{{.Source}}
`)),
	types.KindReport: template.Must(template.New("generate-report").Funcs(funcs).Parse(`Write a structured trial report as a JSON object that conforms to this JSON Schema:

{{json .Schema}}

Base every statement on the validated extraction below; do not introduce facts it does not contain. Cross-references between sections must use the extraction's identifiers, and numbers must match it exactly.

Extraction:
{{json .Upstream}}
{{if .Source}}
Original document, for context only:
{{.Source}}
{{end}}`)),
}

// validateTmpl asks for a scored review of an artifact.
var validateTmpl = template.Must(template.New("validate").Funcs(funcs).Parse(`Review the {{.Kind}} below against {{if eq .Kind "report"}}the extraction it was written from{{else}}the source document{{end}} and its JSON Schema.

Score each dimension from 0.0 to 1.0:
- completeness_score: share of the information in the source that the {{.Kind}} captures.
- accuracy_score: share of the captured values that match the source exactly.
{{- if eq .Kind "report"}}
- cross_reference_consistency_score: identifiers and references between sections resolve and agree.
- data_consistency_score: numbers repeated across sections agree with each other and with the extraction.
{{- end}}
- schema_compliance_score: how well the object follows the schema.
Count critical_issues: errors that would mislead a reader (wrong effect sizes, swapped arms, fabricated results).

Respond with a JSON object of this shape:
{"validation_summary": {"completeness_score": 0.0, "accuracy_score": 0.0,{{if eq .Kind "report"}} "cross_reference_consistency_score": 0.0, "data_consistency_score": 0.0,{{end}} "schema_compliance_score": 0.0, "critical_issues": 0, "overall_status": "passed|needs_correction"},
 "issues": [{"severity": "critical|major|minor", "category": "accuracy|completeness|schema|consistency", "field": "outcomes[0].name", "message": "...", "suggestion": "..."}]}
{{if .SchemaErrors}}
A mechanical schema check already found these violations; account for them in schema_compliance_score:
{{range .SchemaErrors}}- {{.}}
{{end}}{{end}}
JSON Schema:
{{json .Schema}}

{{if eq .Kind "report"}}Extraction:
{{json .Upstream}}{{else}}Source document:
{{.Source}}{{end}}

{{.Kind}} to review:
{{json .Artifact}}
`))

// correctTmpl asks for a corrected artifact.
var correctTmpl = template.Must(template.New("correct").Funcs(funcs).Parse(`The {{.Kind}} below was reviewed and needs correction. Return the complete corrected JSON object, conforming to the JSON Schema. Fix every issue listed; keep everything else unchanged. Keep full objects in arrays: never replace an item with its identifier.

Review summary:
{{json .Validation.Summary}}

Issues:
{{range .Validation.Issues}}- [{{.Severity}}] {{.Field}}: {{.Message}}{{if .Suggestion}} (suggestion: {{.Suggestion}}){{end}}
{{else}}- none reported; raise the scores above
{{end}}{{if .Validation.SchemaErrors}}
Schema violations:
{{range .Validation.SchemaErrors}}- {{.}}
{{end}}{{end}}
JSON Schema:
{{json .Schema}}

{{if eq .Kind "report"}}Extraction:
{{json .Upstream}}{{else}}Source document:
{{.Source}}{{end}}

{{.Kind}} to correct:
{{json .Artifact}}
`))

// promptData is the template context shared by all prompts.
type promptData struct {
	Kind         types.Kind
	Source       string
	Schema       map[string]any
	Upstream     types.Artifact
	Artifact     types.Artifact
	Validation   types.ValidationResult
	SchemaErrors []string
}

func render(t *template.Template, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering %s prompt: %w", t.Name(), err)
	}
	return buf.String(), nil
}

func indentJSON(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
