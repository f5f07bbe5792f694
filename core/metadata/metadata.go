/*
Package metadata provides read access to the stored project metadata.

Projects contain modules, modules contain resources, and each resource can have up to
one business logic per trigger. All four entities are documents in the collections
"projects", "modules", "resources" and "businesslogics" of the document store.
*/
package metadata

import (
	"context"
	"errors"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/schemagate/core"
)

// ErrNotFound is returned when a metadata entity does not exist
var ErrNotFound = errors.New("not found")

// names of the metadata collections
const (
	ProjectsCollection       = "projects"
	ModulesCollection        = "modules"
	ResourcesCollection      = "resources"
	BusinessLogicsCollection = "businesslogics"
)

// Project is a named set of modules
type Project struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	OrganizationID string `json:"organizationId,omitempty"`
}

// Module is a named set of resources within a project. All records of a module
// live in one collection.
type Module struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ProjectID string `json:"projectId"`
}

// Resource is an operation on a module with the JSON schema of its payload
type Resource struct {
	ID       string          `json:"id"`
	ModuleID string          `json:"moduleId"`
	Method   core.Method     `json:"method"`
	Schema   json.RawMessage `json:"schema,omitempty"`
	Desc     string          `json:"desc,omitempty"`
}

// BusinessLogic is a hook executed before or after the operation of a resource.
// Handler names a registered handler, Logic is the source of a javascript function.
// If both are set, Handler is used.
type BusinessLogic struct {
	ID         string       `json:"id"`
	ResourceID string       `json:"resourceId"`
	Trigger    core.Trigger `json:"trigger"`
	Logic      string       `json:"logic,omitempty"`
	Handler    string       `json:"handler,omitempty"`
}

// Reader reads project metadata. All methods return an error wrapping ErrNotFound if the
// requested entity does not exist.
type Reader interface {
	// ProjectByName returns the non-deleted project with the given name, ignoring case
	ProjectByName(ctx context.Context, name string) (*Project, error)
	// ModuleByName returns the module with the given name within a project
	ModuleByName(ctx context.Context, projectID, name string) (*Module, error)
	// Modules returns all modules of a project
	Modules(ctx context.Context, projectID string) ([]Module, error)
	// Resource returns the resource of a module for a method
	Resource(ctx context.Context, moduleID string, method core.Method) (*Resource, error)
	// Resources returns all resources of a module
	Resources(ctx context.Context, moduleID string) ([]Resource, error)
	// BusinessLogic returns the business logic of a resource for a trigger
	BusinessLogic(ctx context.Context, resourceID string, trigger core.Trigger) (*BusinessLogic, error)
}
