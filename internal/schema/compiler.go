// Package schema validates request bodies against JSON schemas before they are
// decoded into domain types.
package schema

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	js "github.com/santhosh-tekuri/jsonschema/v5"
)

// SnapshotSchema describes a submitted form snapshot: text inputs by field
// name and checkbox states.
var SnapshotSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"values": map[string]interface{}{
			"type":          "object",
			"propertyNames": map[string]interface{}{"pattern": "^[A-Za-z][A-Za-z0-9_]*$"},
			"additionalProperties": map[string]interface{}{
				"type":      "string",
				"maxLength": 500,
			},
		},
		"checked": map[string]interface{}{
			"type":                 "object",
			"additionalProperties": map[string]interface{}{"type": "boolean"},
		},
	},
	"additionalProperties": false,
}

type Compiler struct {
	mu       sync.Mutex
	compiler *js.Compiler
	cache    *expirable.LRU[string, *js.Schema]
}

// NewCompilerWithCache creates a new compiler keeping up to maxSize compiled schemas
func NewCompilerWithCache(maxSize int) *Compiler {
	c := js.NewCompiler()
	c.ExtractAnnotations = true

	return &Compiler{
		compiler: c,
		cache:    expirable.NewLRU[string, *js.Schema](maxSize, nil, time.Hour),
	}
}

func (c *Compiler) key(schema map[string]interface{}) (string, []byte, error) {
	b, err := json.Marshal(schema)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return fmt.Sprintf("%x", sha256.Sum256(b)), b, nil
}

// Prepare compiles and caches a schema
func (c *Compiler) Prepare(ctx context.Context, schema map[string]interface{}) error {
	_, err := c.compiled(schema)
	return err
}

func (c *Compiler) compiled(schema map[string]interface{}) (*js.Schema, error) {
	key, schemaBytes, err := c.key(schema)
	if err != nil {
		return nil, err
	}
	if compiled, ok := c.cache.Get(key); ok {
		return compiled, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	resourceURL := fmt.Sprintf("mem://schema/%s.json", key[:16])
	if err := c.compiler.AddResource(resourceURL, bytes.NewReader(schemaBytes)); err != nil {
		return nil, fmt.Errorf("failed to add resource: %w", err)
	}

	compiled, err := c.compiler.Compile(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	c.cache.Add(key, compiled)
	return compiled, nil
}

// Validate checks a JSON document against a schema
func (c *Compiler) Validate(ctx context.Context, schema map[string]interface{}, doc []byte) error {
	compiled, err := c.compiled(schema)
	if err != nil {
		return err
	}

	var value interface{}
	if err := json.Unmarshal(doc, &value); err != nil {
		return fmt.Errorf("failed to unmarshal value: %w", err)
	}

	if err := compiled.Validate(value); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}
