package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/xeipuuv/gojsonschema"
)

// DefaultCacheSize is the number of compiled schemas kept by default
const DefaultCacheSize = 512

// Cache compiles resource schemas on demand. Compiled schemas are keyed by the
// resource id and the SHA-256 of the schema content, so a changed schema is
// recompiled while an unchanged one is reused.
type Cache struct {
	compiled     *lru.Cache[string, *gojsonschema.Schema]
	compilations int64
}

// NewCache creates a cache holding up to size compiled schemas
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	compiled, err := lru.New[string, *gojsonschema.Schema](size)
	if err != nil {
		return nil, err
	}
	return &Cache{compiled: compiled}, nil
}

// MustNewCache creates a cache and panics on error
func MustNewCache(size int) *Cache {
	c, err := NewCache(size)
	if err != nil {
		panic(err)
	}
	return c
}

func cacheKey(resourceID string, schema []byte) string {
	sum := sha256.Sum256(schema)
	return resourceID + ":" + hex.EncodeToString(sum[:])
}

// Compile returns the compiled schema for a resource
func (c *Cache) Compile(resourceID string, schema []byte) (*gojsonschema.Schema, error) {
	if len(schema) == 0 {
		schema = []byte("{}")
	}
	key := cacheKey(resourceID, schema)
	if compiled, ok := c.compiled.Get(key); ok {
		return compiled, nil
	}
	compiled, err := gojsonschema.NewSchemaLoader().Compile(gojsonschema.NewBytesLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("cannot compile schema of resource %s: %w", resourceID, err)
	}
	atomic.AddInt64(&c.compilations, 1)
	c.compiled.Add(key, compiled)
	return compiled, nil
}

// Validate validates document against the schema of a resource. It returns the list of
// violations, which is empty if the document is valid. An error is returned only if the
// schema cannot be compiled or applied.
func (c *Cache) Validate(resourceID string, schema []byte, document interface{}) ([]Violation, error) {
	compiled, err := c.Compile(resourceID, schema)
	if err != nil {
		return nil, err
	}
	result, err := compiled.Validate(gojsonschema.NewGoLoader(document))
	if err != nil {
		return nil, fmt.Errorf("cannot validate with schema of resource %s: %w", resourceID, err)
	}
	if result.Valid() {
		return []Violation{}, nil
	}
	return violations(result), nil
}

// Compilations returns how many schemas have been compiled so far
func (c *Cache) Compilations() int {
	return int(atomic.LoadInt64(&c.compilations))
}

// Len returns the number of compiled schemas in the cache
func (c *Cache) Len() int {
	return c.compiled.Len()
}
