package metadata

import (
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/schemagate/core"
	"github.com/relabs-tech/schemagate/core/registry"
	"github.com/relabs-tech/schemagate/core/store"
)

const testSeed = `
projects:
  - name: Shop
    organizationId: acme
    modules:
      - name: users
        resources:
          - method: get
          - method: GET_BY_ID
          - method: POST
            desc: create a user
            schema:
              type: object
              required: [name]
              properties:
                name:
                  type: string
            hooks:
              - trigger: PRE
                logic: |
                  function (ctx) { ctx.body.source = "seed" }
              - trigger: post
                handler: audit
  - name: blog
`

func seededRepository(t *testing.T) (*Repository, *registry.Registry) {
	file, err := ParseSeed([]byte(testSeed))
	require.NoError(t, err)
	reg := registry.New(store.NewMemory())
	require.NoError(t, Seed(context.Background(), reg, file))
	return NewRepository(reg), reg
}

func TestRepository(t *testing.T) {
	ctx := context.Background()
	repo, _ := seededRepository(t)

	project, err := repo.ProjectByName(ctx, "SHOP")
	require.NoError(t, err)
	assert.Equal(t, "Shop", project.Name)
	assert.Equal(t, "acme", project.OrganizationID)
	assert.NotEmpty(t, project.ID)

	_, err = repo.ProjectByName(ctx, "unknown")
	assert.True(t, IsNotFound(err))

	module, err := repo.ModuleByName(ctx, project.ID, "users")
	require.NoError(t, err)
	assert.Equal(t, project.ID, module.ProjectID)

	_, err = repo.ModuleByName(ctx, project.ID, "orders")
	assert.True(t, IsNotFound(err))

	modules, err := repo.Modules(ctx, project.ID)
	require.NoError(t, err)
	assert.Len(t, modules, 1)

	blog, err := repo.ProjectByName(ctx, "blog")
	require.NoError(t, err)
	modules, err = repo.Modules(ctx, blog.ID)
	require.NoError(t, err)
	assert.NotNil(t, modules)
	assert.Len(t, modules, 0)

	resource, err := repo.Resource(ctx, module.ID, core.MethodPost)
	require.NoError(t, err)
	assert.Equal(t, core.MethodPost, resource.Method)
	assert.Equal(t, "create a user", resource.Desc)
	var s map[string]interface{}
	require.NoError(t, json.Unmarshal(resource.Schema, &s))
	assert.Equal(t, "object", s["type"])

	list, err := repo.Resource(ctx, module.ID, core.MethodGet)
	require.NoError(t, err)
	assert.Equal(t, core.MethodGet, list.Method)

	_, err = repo.Resource(ctx, module.ID, core.MethodDelete)
	assert.True(t, IsNotFound(err))

	resources, err := repo.Resources(ctx, module.ID)
	require.NoError(t, err)
	assert.Len(t, resources, 3)

	pre, err := repo.BusinessLogic(ctx, resource.ID, core.TriggerPre)
	require.NoError(t, err)
	assert.Contains(t, pre.Logic, "ctx.body.source")
	assert.Empty(t, pre.Handler)

	post, err := repo.BusinessLogic(ctx, resource.ID, core.TriggerPost)
	require.NoError(t, err)
	assert.Equal(t, "audit", post.Handler)

	_, err = repo.BusinessLogic(ctx, list.ID, core.TriggerPre)
	assert.True(t, IsNotFound(err))
}

func TestRepository_SoftDeletedProjectIsInvisible(t *testing.T) {
	ctx := context.Background()
	repo, reg := seededRepository(t)

	project, err := repo.ProjectByName(ctx, "blog")
	require.NoError(t, err)
	projects, err := reg.Named(ctx, ProjectsCollection)
	require.NoError(t, err)
	d, err := projects.FindOne(ctx, store.Filter{store.Eq("name", "blog")})
	require.NoError(t, err)
	assert.Equal(t, project.ID, d.ID.String())
	deleted, err := projects.SoftDelete(ctx, d.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	_, err = repo.ProjectByName(ctx, "blog")
	assert.True(t, IsNotFound(err))
}

func TestSeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo, reg := seededRepository(t)

	file, err := ParseSeed([]byte(testSeed))
	require.NoError(t, err)
	file.Projects[0].Modules[0].Resources[2].Desc = "changed"
	require.NoError(t, Seed(ctx, reg, file))

	projects, err := reg.Named(ctx, ProjectsCollection)
	require.NoError(t, err)
	all, err := projects.Find(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	project, err := repo.ProjectByName(ctx, "shop")
	require.NoError(t, err)
	module, err := repo.ModuleByName(ctx, project.ID, "users")
	require.NoError(t, err)
	resource, err := repo.Resource(ctx, module.ID, core.MethodPost)
	require.NoError(t, err)
	assert.Equal(t, "changed", resource.Desc)
}

func TestParseSeed_Invalid(t *testing.T) {
	for name, data := range map[string]string{
		"not yaml":        "projects: [",
		"missing name":    "projects:\n  - organizationId: acme\n",
		"invalid name":    "projects:\n  - name: \"my shop\"\n",
		"invalid method":  "projects:\n  - name: shop\n    modules:\n      - name: users\n        resources:\n          - method: PATCH\n",
		"invalid trigger": "projects:\n  - name: shop\n    modules:\n      - name: users\n        resources:\n          - method: POST\n            hooks:\n              - trigger: around\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSeed([]byte(data))
			assert.Error(t, err)
		})
	}
}
