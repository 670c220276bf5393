// Package schema validates record payloads against JSON Schemas registered
// under their schema URIs. Validation is advisory for unknown URIs: records
// may declare schemas the node has never seen, and those payloads pass
// through opaque.
package schema

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/TBD54566975/hubnode/pkg/errs"
)

// Validator holds compiled schemas keyed by URI. Schemas are compiled once at
// registration; validation is read-only and safe for concurrent use.
type Validator struct {
	mu       sync.RWMutex
	compiled map[string]*jsonschema.Schema
}

func NewValidator() *Validator {
	return &Validator{compiled: make(map[string]*jsonschema.Schema)}
}

// Register compiles definition and indexes it under uri. Re-registering a URI
// replaces the previous schema.
func (v *Validator) Register(uri string, definition []byte) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(uri, bytes.NewReader(definition)); err != nil {
		return errs.Invalid("schema %s does not parse: %v", uri, err)
	}
	sch, err := compiler.Compile(uri)
	if err != nil {
		return errs.Invalid("schema %s does not compile: %v", uri, err)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.compiled[uri] = sch
	return nil
}

// Known reports whether a schema is registered under uri.
func (v *Validator) Known(uri string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.compiled[uri]
	return ok
}

// Validate checks payload against the schema registered under uri. Payloads
// declaring an unregistered schema pass; payloads declaring a registered
// schema must be valid JSON conforming to it.
func (v *Validator) Validate(uri string, payload []byte) error {
	if uri == "" {
		return nil
	}
	v.mu.RLock()
	sch, ok := v.compiled[uri]
	v.mu.RUnlock()
	if !ok {
		return nil
	}

	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return errs.Invalid("payload declaring schema %s is not JSON: %v", uri, err)
	}
	if err := sch.Validate(doc); err != nil {
		return errs.Invalid("payload does not conform to schema %s: %v", uri, err)
	}
	return nil
}
