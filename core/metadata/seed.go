// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package metadata

import (
	"context"
	"embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/schemagate/core/logger"
	"github.com/relabs-tech/schemagate/core/registry"
	"github.com/relabs-tech/schemagate/core/schema"
	"github.com/relabs-tech/schemagate/core/store"
)

//go:embed seed.json refs
var seedSchemaFS embed.FS

const seedSchemaID = "https://schemagate.local/schemas/seed.json"

var (
	seedValidator     *schema.Validator
	seedValidatorErr  error
	seedValidatorOnce sync.Once
)

// SeedFile describes projects with their modules, resources and business logic
type SeedFile struct {
	Projects []SeedProject `yaml:"projects" json:"projects"`
}

// SeedProject is a project in a seed file
type SeedProject struct {
	Name           string       `yaml:"name" json:"name"`
	OrganizationID string       `yaml:"organizationId" json:"organizationId,omitempty"`
	Modules        []SeedModule `yaml:"modules" json:"modules"`
}

// SeedModule is a module in a seed file
type SeedModule struct {
	Name      string         `yaml:"name" json:"name"`
	Resources []SeedResource `yaml:"resources" json:"resources"`
}

// SeedResource is a resource in a seed file
type SeedResource struct {
	Method string                 `yaml:"method" json:"method"`
	Desc   string                 `yaml:"desc" json:"desc,omitempty"`
	Schema map[string]interface{} `yaml:"schema" json:"schema,omitempty"`
	Hooks  []SeedHook             `yaml:"hooks" json:"hooks,omitempty"`
}

// SeedHook is a business logic in a seed file
type SeedHook struct {
	Trigger string `yaml:"trigger" json:"trigger"`
	Logic   string `yaml:"logic" json:"logic,omitempty"`
	Handler string `yaml:"handler" json:"handler,omitempty"`
}

// ParseSeed parses and validates a YAML seed file
func ParseSeed(data []byte) (*SeedFile, error) {
	var file SeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("cannot parse seed file: %w", err)
	}
	for i := range file.Projects {
		for j := range file.Projects[i].Modules {
			resources := file.Projects[i].Modules[j].Resources
			for k := range resources {
				resources[k].Method = strings.ToUpper(strings.TrimSpace(resources[k].Method))
				for l := range resources[k].Hooks {
					resources[k].Hooks[l].Trigger = strings.ToLower(strings.TrimSpace(resources[k].Hooks[l].Trigger))
				}
			}
		}
	}

	seedValidatorOnce.Do(func() {
		seedValidator, seedValidatorErr = schema.NewValidatorFromFS(seedSchemaFS)
	})
	if seedValidatorErr != nil {
		return nil, seedValidatorErr
	}
	if err := seedValidator.ValidateStruct(file, seedSchemaID); err != nil {
		return nil, err
	}
	return &file, nil
}

// ReadSeedFile reads and validates a YAML seed file from disk
func ReadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSeed(data)
}

// upsert updates the first document matching filter with properties or inserts a new one.
// It returns the id of the document.
func upsert(ctx context.Context, c store.Collection, filter store.Filter, properties map[string]interface{}) (uuid.UUID, bool, error) {
	d, err := c.FindOne(ctx, filter)
	if err == store.ErrNotFound {
		d, err = c.Insert(ctx, properties)
		if err != nil {
			return uuid.UUID{}, false, err
		}
		return d.ID, true, nil
	}
	if err != nil {
		return uuid.UUID{}, false, err
	}
	_, err = c.Update(ctx, d.ID, properties)
	return d.ID, false, err
}

// Seed writes the content of a seed file to the metadata collections. Existing entities
// are matched by their natural keys and updated, so seeding is idempotent.
func Seed(ctx context.Context, r *registry.Registry, file *SeedFile) error {
	rlog := logger.FromContext(ctx)
	collections := map[string]store.Collection{}
	for _, name := range []string{ProjectsCollection, ModulesCollection, ResourcesCollection, BusinessLogicsCollection} {
		c, err := r.Named(ctx, name)
		if err != nil {
			return err
		}
		collections[name] = c
	}

	for _, p := range file.Projects {
		projectID, created, err := upsert(ctx, collections[ProjectsCollection],
			store.Filter{store.EqFold("name", p.Name)},
			map[string]interface{}{"name": p.Name, "organizationId": p.OrganizationID})
		if err != nil {
			return fmt.Errorf("cannot seed project %s: %w", p.Name, err)
		}
		rlog.Infof("seeded project %s (created=%t)", p.Name, created)

		for _, m := range p.Modules {
			moduleID, _, err := upsert(ctx, collections[ModulesCollection],
				store.Filter{store.Eq("projectId", projectID.String()), store.Eq("name", m.Name)},
				map[string]interface{}{"name": m.Name, "projectId": projectID.String()})
			if err != nil {
				return fmt.Errorf("cannot seed module %s/%s: %w", p.Name, m.Name, err)
			}

			for _, res := range m.Resources {
				properties := map[string]interface{}{
					"moduleId": moduleID.String(),
					"method":   res.Method,
					"desc":     res.Desc,
				}
				if res.Schema != nil {
					properties["schema"] = res.Schema
				}
				resourceID, _, err := upsert(ctx, collections[ResourcesCollection],
					store.Filter{store.Eq("moduleId", moduleID.String()), store.EqFold("method", res.Method)},
					properties)
				if err != nil {
					return fmt.Errorf("cannot seed resource %s %s/%s: %w", res.Method, p.Name, m.Name, err)
				}

				for _, h := range res.Hooks {
					_, _, err := upsert(ctx, collections[BusinessLogicsCollection],
						store.Filter{store.Eq("resourceId", resourceID.String()), store.EqFold("trigger", h.Trigger)},
						map[string]interface{}{
							"resourceId": resourceID.String(),
							"trigger":    h.Trigger,
							"logic":      h.Logic,
							"handler":    h.Handler,
						})
					if err != nil {
						return fmt.Errorf("cannot seed %s hook of %s %s/%s: %w", h.Trigger, res.Method, p.Name, m.Name, err)
					}
				}
			}
		}
	}
	return nil
}
