package metadata

import (
	"context"
	"errors"
	"fmt"

	"github.com/relabs-tech/schemagate/core"
	"github.com/relabs-tech/schemagate/core/registry"
	"github.com/relabs-tech/schemagate/core/store"
)

// Repository is a Reader on top of the document store
type Repository struct {
	registry *registry.Registry
}

// NewRepository returns a metadata reader for the collections of the registry
func NewRepository(r *registry.Registry) *Repository {
	return &Repository{registry: r}
}

func (r *Repository) findOne(ctx context.Context, collection string, filter store.Filter, v interface{}) error {
	c, err := r.registry.Named(ctx, collection)
	if err != nil {
		return err
	}
	d, err := c.FindOne(ctx, filter)
	if err == store.ErrNotFound {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return d.Decode(v)
}

func (r *Repository) find(ctx context.Context, collection string, filter store.Filter, decode func(store.Document) error) error {
	c, err := r.registry.Named(ctx, collection)
	if err != nil {
		return err
	}
	docs, err := c.Find(ctx, filter)
	if err != nil {
		return err
	}
	for _, d := range docs {
		if err := decode(d); err != nil {
			return fmt.Errorf("cannot decode %s %s: %w", collection, d.ID, err)
		}
	}
	return nil
}

// ProjectByName implements Reader
func (r *Repository) ProjectByName(ctx context.Context, name string) (*Project, error) {
	var project Project
	if err := r.findOne(ctx, ProjectsCollection, store.Filter{store.EqFold("name", name)}, &project); err != nil {
		return nil, fmt.Errorf("project %s: %w", name, err)
	}
	return &project, nil
}

// ModuleByName implements Reader
func (r *Repository) ModuleByName(ctx context.Context, projectID, name string) (*Module, error) {
	var module Module
	filter := store.Filter{store.Eq("projectId", projectID), store.Eq("name", name)}
	if err := r.findOne(ctx, ModulesCollection, filter, &module); err != nil {
		return nil, fmt.Errorf("module %s: %w", name, err)
	}
	return &module, nil
}

// Modules implements Reader
func (r *Repository) Modules(ctx context.Context, projectID string) ([]Module, error) {
	modules := []Module{}
	err := r.find(ctx, ModulesCollection, store.Filter{store.Eq("projectId", projectID)}, func(d store.Document) error {
		var module Module
		err := d.Decode(&module)
		modules = append(modules, module)
		return err
	})
	return modules, err
}

// Resource implements Reader
func (r *Repository) Resource(ctx context.Context, moduleID string, method core.Method) (*Resource, error) {
	var resource Resource
	filter := store.Filter{store.Eq("moduleId", moduleID), store.EqFold("method", string(method))}
	if err := r.findOne(ctx, ResourcesCollection, filter, &resource); err != nil {
		return nil, fmt.Errorf("resource %s: %w", method, err)
	}
	return &resource, nil
}

// Resources implements Reader
func (r *Repository) Resources(ctx context.Context, moduleID string) ([]Resource, error) {
	resources := []Resource{}
	err := r.find(ctx, ResourcesCollection, store.Filter{store.Eq("moduleId", moduleID)}, func(d store.Document) error {
		var resource Resource
		err := d.Decode(&resource)
		resources = append(resources, resource)
		return err
	})
	return resources, err
}

// BusinessLogic implements Reader
func (r *Repository) BusinessLogic(ctx context.Context, resourceID string, trigger core.Trigger) (*BusinessLogic, error) {
	var logic BusinessLogic
	filter := store.Filter{store.Eq("resourceId", resourceID), store.EqFold("trigger", string(trigger))}
	if err := r.findOne(ctx, BusinessLogicsCollection, filter, &logic); err != nil {
		return nil, fmt.Errorf("business logic %s: %w", trigger, err)
	}
	return &logic, nil
}

// IsNotFound returns true if err denotes a missing metadata entity
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
