// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package schema_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/schemagate/core/schema"
)

const (
	nameRef = `{ "$id" : "http://schemagate.local/name.json",
		"type" : "string", "minLength" : 1, "maxLength" : 16 }`

	projectSchema = `
	{ "$id" : "http://schemagate.local/project.json",
	  "type" : "object",
	  "required" : ["name"],
	  "properties" : {
		"name" : { "$ref" : "http://schemagate.local/name.json" },
		"organizationId" : { "type" : "string" }
	  }
	}`

	userSchema = `{
		"type": "object",
		"required": ["name"],
		"properties": {
			"name": { "type": "string" },
			"age": { "type": "integer", "minimum": 0 },
			"address": {
				"type": "object",
				"properties": { "zip": { "type": "string" } },
				"additionalProperties": false
			}
		}
	}`
)

func findViolation(violations []schema.Violation, field, rule string) *schema.Violation {
	for i := range violations {
		if violations[i].Field == field && violations[i].Rule == rule {
			return &violations[i]
		}
	}
	return nil
}

func TestValidator_ValidateString(t *testing.T) {
	v, err := schema.NewValidator([]string{projectSchema}, []string{nameRef})
	require.NoError(t, err)

	projectID := "http://schemagate.local/project.json"
	assert.NoError(t, v.ValidateString(`{"name":"shop"}`, projectID))

	err = v.ValidateString(`{"name":"a name which is far too long"}`, projectID)
	require.Error(t, err)
	verr, ok := err.(*schema.ValidationError)
	require.True(t, ok)
	assert.NotNil(t, findViolation(verr.Violations, "name", "string_lte"))

	err = v.ValidateString(`{"organizationId":"o1"}`, projectID)
	require.Error(t, err)
	verr, ok = err.(*schema.ValidationError)
	require.True(t, ok)
	assert.NotNil(t, findViolation(verr.Violations, "name", "required"))

	assert.Error(t, v.ValidateString(`{}`, "http://schemagate.local/unknown.json"))
}

func TestValidator_ValidateStruct(t *testing.T) {
	v, err := schema.NewValidator([]string{projectSchema}, []string{nameRef})
	require.NoError(t, err)

	type project struct {
		Name string `json:"name"`
	}
	assert.NoError(t, v.ValidateStruct(project{Name: "shop"}, "http://schemagate.local/project.json"))

	type wrongProject struct {
		Name string `json:"title"`
	}
	assert.Error(t, v.ValidateStruct(wrongProject{Name: "shop"}, "http://schemagate.local/project.json"))
}

func TestValidator_SchemaWithoutID(t *testing.T) {
	_, err := schema.NewValidator([]string{`{"type":"object"}`}, nil)
	assert.Error(t, err)
}

func TestValidator_HasSchema(t *testing.T) {
	v, err := schema.NewValidator([]string{projectSchema}, []string{nameRef})
	require.NoError(t, err)
	assert.True(t, v.HasSchema("http://schemagate.local/project.json"))
	assert.False(t, v.HasSchema("http://schemagate.local/name.json"))
}

func TestCache_Validate(t *testing.T) {
	c := schema.MustNewCache(8)

	violations, err := c.Validate("r1", []byte(userSchema), map[string]interface{}{"name": "jane", "age": float64(3)})
	require.NoError(t, err)
	assert.NotNil(t, violations)
	assert.Len(t, violations, 0)

	violations, err = c.Validate("r1", []byte(userSchema), map[string]interface{}{"age": float64(-1)})
	require.NoError(t, err)
	assert.NotNil(t, findViolation(violations, "name", "required"))
	v := findViolation(violations, "age", "number_gte")
	require.NotNil(t, v)
	assert.Equal(t, "-1", fmt.Sprint(v.Value))
	assert.NotEmpty(t, v.Description)

	violations, err = c.Validate("r1", []byte(userSchema), map[string]interface{}{
		"name":    "jane",
		"address": map[string]interface{}{"zip": "1234", "street": "main"},
	})
	require.NoError(t, err)
	assert.NotNil(t, findViolation(violations, "address.street", "additional_property_not_allowed"))
}

func TestCache_ReusesCompiledSchemas(t *testing.T) {
	c := schema.MustNewCache(8)
	doc := map[string]interface{}{"name": "jane"}

	for i := 0; i < 3; i++ {
		_, err := c.Validate("r1", []byte(userSchema), doc)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, c.Compilations())

	// same schema content, different resource
	_, err := c.Validate("r2", []byte(userSchema), doc)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Compilations())

	// changed schema content, same resource
	violations, err := c.Validate("r1", []byte(`{"type":"object","required":["email"]}`), doc)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Compilations())
	assert.NotNil(t, findViolation(violations, "email", "required"))
	assert.Equal(t, 3, c.Len())
}

func TestCache_Eviction(t *testing.T) {
	c := schema.MustNewCache(1)
	_, err := c.Compile("r1", []byte(userSchema))
	require.NoError(t, err)
	_, err = c.Compile("r2", []byte(userSchema))
	require.NoError(t, err)
	_, err = c.Compile("r1", []byte(userSchema))
	require.NoError(t, err)
	assert.Equal(t, 3, c.Compilations())
	assert.Equal(t, 1, c.Len())
}

func TestCache_EmptySchemaAcceptsObjects(t *testing.T) {
	c := schema.MustNewCache(0)
	violations, err := c.Validate("r1", nil, map[string]interface{}{"anything": true})
	require.NoError(t, err)
	assert.Len(t, violations, 0)
}

func TestCache_InvalidSchema(t *testing.T) {
	c := schema.MustNewCache(8)
	_, err := c.Validate("r1", []byte(`{"type": 12}`), map[string]interface{}{})
	assert.Error(t, err)
	_, err = c.Validate("r1", []byte(`not json`), map[string]interface{}{})
	assert.Error(t, err)
}
