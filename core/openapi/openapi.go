/*
Package openapi derives OpenAPI 3.1 documents from the stored project metadata.

Every module of a project contributes the paths

	/{project}/{module}        GET (list), POST
	/{project}/{module}/{id}   GET (GET_BY_ID), PUT, PATCH, DELETE

for the resources it defines. Request schemas are the stored resource schemas, response
schemas add the audit fields of stored records.
*/
package openapi

import (
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/schemagate/core"
	"github.com/relabs-tech/schemagate/core/metadata"
	"github.com/relabs-tech/schemagate/core/store"
)

// Version is the OpenAPI version of generated documents
const Version = "3.1.0"

// Module is a module with its resources
type Module struct {
	metadata.Module
	Resources []metadata.Resource
}

// Object is a JSON object of the document
type Object = map[string]interface{}

var auditProperties = Object{
	store.FieldID:         Object{"type": "string", "format": "uuid", "readOnly": true},
	store.FieldCreatedAt:  Object{"type": "string", "format": "date-time", "readOnly": true},
	store.FieldModifiedAt: Object{"type": "string", "format": "date-time", "readOnly": true},
	store.FieldIsDeleted:  Object{"type": "boolean", "readOnly": true},
	store.FieldDeletedAt:  Object{"type": []interface{}{"string", "null"}, "format": "date-time", "readOnly": true},
}

// parseSchema returns the stored schema as object. Missing or invalid schemas become
// an unconstrained object schema.
func parseSchema(raw json.RawMessage) Object {
	schema := Object{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &schema); err != nil || schema == nil {
			schema = Object{}
		}
	}
	if _, ok := schema["type"]; !ok {
		schema["type"] = "object"
	}
	return schema
}

// withAudit returns a copy of schema with the audit fields added to its properties
func withAudit(schema Object) Object {
	result := make(Object, len(schema)+1)
	for key, value := range schema {
		result[key] = value
	}
	properties := Object{}
	if existing, ok := schema["properties"].(map[string]interface{}); ok {
		for key, value := range existing {
			properties[key] = value
		}
	}
	for key, value := range auditProperties {
		properties[key] = value
	}
	result["properties"] = properties
	required := []interface{}{store.FieldID, store.FieldCreatedAt, store.FieldModifiedAt, store.FieldIsDeleted}
	if existing, ok := schema["required"].([]interface{}); ok {
		required = append(append([]interface{}{}, existing...), required...)
	}
	result["required"] = required
	return result
}

func jsonContent(schema Object) Object {
	return Object{"application/json": Object{"schema": schema}}
}

func response(description string, schema Object) Object {
	return Object{"description": description, "content": jsonContent(schema)}
}

func errorResponse(description string) Object {
	return response(description, Object{"$ref": "#/components/schemas/Error"})
}

// recordSchema returns the schema of a module's stored records, derived from the
// schema of its create or update resource
func recordSchema(resources []metadata.Resource) Object {
	for _, method := range []core.Method{core.MethodPost, core.MethodPut} {
		for _, r := range resources {
			if r.Method == method && len(r.Schema) > 0 {
				return withAudit(parseSchema(r.Schema))
			}
		}
	}
	return withAudit(Object{"type": "object"})
}

func operation(m Module, r metadata.Resource, record Object, legacyCreateStatus bool) Object {
	summary := r.Desc
	if summary == "" {
		summary = string(r.Method) + " " + m.Name
	}
	op := Object{
		"summary":     summary,
		"operationId": strings.ToLower(m.Name + "_" + string(r.Method)),
		"tags":        []interface{}{m.Name},
	}
	responses := Object{
		"500": errorResponse("Internal error"),
	}
	switch r.Method {
	case core.MethodGet:
		responses["200"] = response("List of "+m.Name, Object{"type": "array", "items": record})
	case core.MethodGetByID:
		responses["200"] = response("A single "+m.Name+" record", record)
		responses["304"] = Object{"description": "Not modified"}
		responses["404"] = errorResponse("Not found")
		responses["400"] = errorResponse("Invalid id")
	case core.MethodPost:
		op["requestBody"] = Object{"required": true, "content": jsonContent(parseSchema(r.Schema))}
		status := "201"
		if legacyCreateStatus {
			status = "200"
		}
		responses[status] = response("The created record", record)
		responses["400"] = errorResponse("Invalid payload")
	case core.MethodPut:
		op["requestBody"] = Object{"required": true, "content": jsonContent(parseSchema(r.Schema))}
		responses["200"] = response("Update result", Object{
			"type": "object",
			"properties": Object{
				"id":       Object{"type": "string", "format": "uuid"},
				"modified": Object{"type": "boolean"},
			},
		})
		responses["400"] = errorResponse("Invalid payload or id")
		responses["404"] = errorResponse("Not found")
	case core.MethodDelete:
		op["parameters"] = []interface{}{Object{
			"name":        "soft",
			"in":          "query",
			"description": "flag the record as deleted instead of removing it",
			"schema":      Object{"type": "boolean"},
		}}
		responses["200"] = response("Delete result", Object{
			"type": "object",
			"properties": Object{
				"id":      Object{"type": "string", "format": "uuid"},
				"deleted": Object{"type": "boolean"},
			},
		})
		responses["400"] = errorResponse("Invalid id")
		responses["404"] = errorResponse("Not found")
	}
	op["responses"] = responses
	return op
}

// Build builds the OpenAPI document of a project
func Build(project metadata.Project, modules []Module, legacyCreateStatus bool) Object {
	paths := Object{}
	sorted := append([]Module{}, modules...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for _, m := range sorted {
		record := recordSchema(m.Resources)
		collectionPath := "/" + project.Name + "/" + m.Name
		itemPath := collectionPath + "/{id}"
		collection := Object{}
		item := Object{}
		for _, r := range m.Resources {
			op := operation(m, r, record, legacyCreateStatus)
			switch r.Method {
			case core.MethodGet:
				collection["get"] = op
			case core.MethodPost:
				collection["post"] = op
			case core.MethodGetByID:
				item["get"] = op
			case core.MethodPut:
				item["put"] = op
				patch := make(Object, len(op))
				for key, value := range op {
					patch[key] = value
				}
				patch["operationId"] = strings.ToLower(m.Name + "_patch")
				item["patch"] = patch
			case core.MethodDelete:
				item["delete"] = op
			}
		}
		if len(collection) > 0 {
			paths[collectionPath] = collection
		}
		if len(item) > 0 {
			item["parameters"] = []interface{}{Object{
				"name":     "id",
				"in":       "path",
				"required": true,
				"schema":   Object{"type": "string", "format": "uuid"},
			}}
			paths[itemPath] = item
		}
	}

	return Object{
		"openapi": Version,
		"info": Object{
			"title":   project.Name,
			"version": "1.0.0",
		},
		"paths": paths,
		"components": Object{
			"schemas": Object{
				"Error": Object{
					"type":     "object",
					"required": []interface{}{"type", "message"},
					"properties": Object{
						"type":    Object{"type": "string", "enum": []interface{}{"NotFound", "BadRequest", "InternalError"}},
						"message": Object{"type": "string"},
						"errors": Object{
							"type": "array",
							"items": Object{
								"type": "object",
								"properties": Object{
									"field":       Object{"type": "string"},
									"rule":        Object{"type": "string"},
									"value":       Object{},
									"description": Object{"type": "string"},
								},
							},
						},
					},
				},
			},
		},
	}
}
