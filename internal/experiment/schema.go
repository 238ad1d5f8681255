package experiment

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/modelcascade/cascade/internal/domain"
)

var schemaCache sync.Map

// compileSchema compiles a JSON Schema source string, caching by the source
// text. Experiments reuse the same few schemas across many evaluations, so
// the cache is never evicted.
func compileSchema(source string) (*jsonschema.Schema, error) {
	if cached, ok := schemaCache.Load(source); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString("variant.schema.json", source)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(source, compiled)
	return compiled, nil
}

// validateUnits checks the parsed response units against a variant's output
// schema. The units are round-tripped through JSON so the schema sees the
// wire shape, NaN probabilities included (they encode as null). A mismatch
// is reported as a warning issue; it never fails the evaluation by itself.
func validateUnits(source string, units []domain.ResponseUnit) (bool, *domain.Issue) {
	schema, err := compileSchema(source)
	if err != nil {
		// Schemas compile at experiment creation; reaching this means the
		// cache lost a race with a malformed concurrent registration.
		return false, &domain.Issue{
			Category: domain.CategorySchema,
			Severity: domain.SeverityWarning,
			Message:  fmt.Sprintf("output schema failed to compile: %v", err),
		}
	}

	payload, err := json.Marshal(units)
	if err != nil {
		return false, &domain.Issue{
			Category: domain.CategorySchema,
			Severity: domain.SeverityWarning,
			Message:  fmt.Sprintf("encode response units: %v", err),
		}
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return false, &domain.Issue{
			Category: domain.CategorySchema,
			Severity: domain.SeverityWarning,
			Message:  fmt.Sprintf("decode response units: %v", err),
		}
	}

	if err := schema.Validate(decoded); err != nil {
		return false, &domain.Issue{
			Category: domain.CategorySchema,
			Severity: domain.SeverityWarning,
			Message:  fmt.Sprintf("output does not match variant schema: %v", err),
		}
	}
	return true, nil
}
