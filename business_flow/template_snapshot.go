package businessflow

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wablast/blast-core/models"
	"github.com/xeipuuv/gojsonschema"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*(\d+)\s*\}\}`)

// ParsePlaceholders returns the distinct {{n}} numbers used in body, ascending
func ParsePlaceholders(body string) []int {
	seen := map[int]struct{}{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(body, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			continue
		}
		seen[n] = struct{}{}
	}

	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// NewTemplateSnapshot freezes the parts of a template that payloads are built from
func NewTemplateSnapshot(t *models.WhatsAppTemplate, capturedAt time.Time) models.TemplateSnapshot {
	return models.TemplateSnapshot{
		TemplateID:      t.ID,
		Name:            t.Name,
		Language:        t.Language,
		Category:        t.Category,
		Body:            t.Body,
		Placeholders:    ParsePlaceholders(t.Body),
		VariablesSchema: t.VariablesSchema,
		CapturedAt:      capturedAt,
	}
}

// missingPlaceholders lists the snapshot placeholders with no non-empty variable
func missingPlaceholders(snapshot models.TemplateSnapshot, vars models.TargetVariables) []int {
	var missing []int
	for _, n := range snapshot.Placeholders {
		if strings.TrimSpace(vars[strconv.Itoa(n)]) == "" {
			missing = append(missing, n)
		}
	}
	return missing
}

// BuildPayload renders the snapshot for one target. It depends only on the snapshot and
// the target's phone and variables, so the same input always yields the same payload.
func BuildPayload(snapshot models.TemplateSnapshot, target *models.CampaignTarget) (models.BuiltPayload, error) {
	if missing := missingPlaceholders(snapshot, target.Variables); len(missing) > 0 {
		return models.BuiltPayload{}, fmt.Errorf("%w: target %d placeholder {{%d}}", ErrVariableMissing, target.ID, missing[0])
	}

	params := make([]string, 0, len(snapshot.Placeholders))
	for _, n := range snapshot.Placeholders {
		params = append(params, target.Variables[strconv.Itoa(n)])
	}

	rendered := placeholderPattern.ReplaceAllStringFunc(snapshot.Body, func(match string) string {
		sub := placeholderPattern.FindStringSubmatch(match)
		n, err := strconv.Atoi(sub[1])
		if err != nil || n < 1 {
			return match
		}
		if v, ok := target.Variables[strconv.Itoa(n)]; ok {
			return v
		}
		return match
	})

	return models.BuiltPayload{
		To:           target.Phone,
		TemplateName: snapshot.Name,
		Language:     snapshot.Language,
		Parameters:   params,
		RenderedBody: rendered,
	}, nil
}

// variablesSchema is a compiled JSON schema for target variables; nil accepts everything
type variablesSchema struct {
	schema *gojsonschema.Schema
}

func compileVariablesSchema(snapshot models.TemplateSnapshot) (*variablesSchema, error) {
	if strings.TrimSpace(snapshot.VariablesSchema) == "" {
		return &variablesSchema{}, nil
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(snapshot.VariablesSchema))
	if err != nil {
		return nil, fmt.Errorf("template %d has an invalid variables schema: %w", snapshot.TemplateID, err)
	}
	return &variablesSchema{schema: schema}, nil
}

// violations validates vars and returns one line per failed rule
func (s *variablesSchema) violations(vars models.TargetVariables) ([]string, error) {
	if s == nil || s.schema == nil {
		return nil, nil
	}
	doc := map[string]any{}
	for k, v := range vars {
		doc[k] = v
	}
	result, err := s.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to validate target variables: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}
	out := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		out = append(out, e.String())
	}
	return out, nil
}
