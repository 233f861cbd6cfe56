package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"invarity/internal/types"
)

// SchemaValidator validates an intent's context/args against its action's
// registered JSON schema, compiling and caching each schema once.
type SchemaValidator struct {
	compiler *jsonschema.Compiler

	mu    sync.Mutex
	cache map[string]*jsonschema.Schema
}

// NewSchemaValidator returns a validator using JSON Schema draft 2020-12,
// matching every schema a registered action may declare.
func NewSchemaValidator() *SchemaValidator {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	return &SchemaValidator{
		compiler: compiler,
		cache:    make(map[string]*jsonschema.Schema),
	}
}

// ValidateArgs validates args against def's schema, returning a
// types.ValidationErrors if args don't conform.
func (v *SchemaValidator) ValidateArgs(ctx context.Context, def *ActionDefinition, args map[string]any) error {
	schema, err := v.getSchema(def)
	if err != nil {
		return fmt.Errorf("registry: failed to compile schema for %s: %w", def.ActionID, err)
	}

	if err := schema.Validate(args); err != nil {
		return v.convertValidationError(err)
	}
	return nil
}

func (v *SchemaValidator) getSchema(def *ActionDefinition) (*jsonschema.Schema, error) {
	cacheKey := key(def.ActionID, def.Version)

	v.mu.Lock()
	defer v.mu.Unlock()

	if schema, ok := v.cache[cacheKey]; ok {
		return schema, nil
	}

	raw, err := json.Marshal(def.Schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	schemaURL := fmt.Sprintf("mem://%s/%s/schema.json", def.ActionID, def.Version)
	if err := v.compiler.AddResource(schemaURL, strings.NewReader(string(raw))); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	schema, err := v.compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[cacheKey] = schema
	return schema, nil
}

func (v *SchemaValidator) convertValidationError(err error) error {
	validationErr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return types.ValidationErrors{{Field: "args", Message: err.Error()}}
	}

	var errs types.ValidationErrors
	collectErrors(validationErr, &errs)
	if len(errs) == 0 {
		errs = append(errs, &types.ValidationError{Field: "args", Message: err.Error()})
	}
	return errs
}

func collectErrors(err *jsonschema.ValidationError, errs *types.ValidationErrors) {
	if err.Message != "" {
		*errs = append(*errs, &types.ValidationError{Field: err.InstanceLocation, Message: err.Message})
	}
	for _, cause := range err.Causes {
		collectErrors(cause, errs)
	}
}
