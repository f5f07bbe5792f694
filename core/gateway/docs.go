package gateway

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/schemagate/core/apperr"
	"github.com/relabs-tech/schemagate/core/logger"
	"github.com/relabs-tech/schemagate/core/metadata"
	"github.com/relabs-tech/schemagate/core/openapi"
)

func (g *Gateway) handleDocumentation() {
	rlog := logger.Default()
	rlog.Debugln("  handle documentation routes: /{project}/swagger GET, /{project}/swagger/json GET")

	// documentation routes accept every method, so that they shadow a module named swagger
	g.router.HandleFunc("/{project}/swagger", g.documentationUI)

	g.router.HandleFunc("/{project}/swagger/json", g.documentationJSON)

	g.router.HandleFunc("/{project}/swagger/{rest:.*}", func(w http.ResponseWriter, r *http.Request) {
		apperr.NotFound("no documentation at %s", r.URL.Path).Write(w)
	})
}

// documentedModules returns the project with its modules and their resources. A project
// without modules has no documentation.
func (g *Gateway) documentedModules(ctx context.Context, name string) (*metadata.Project, []openapi.Module, error) {
	fail := func(err error, format string, a ...interface{}) error {
		if metadata.IsNotFound(err) {
			return apperr.NotFound(format, a...)
		}
		logger.FromContext(ctx).WithError(err).Errorln("Error 4762: cannot read metadata for documentation")
		return err
	}

	project, err := g.metadata.ProjectByName(ctx, name)
	if err != nil {
		return nil, nil, fail(err, "project %s not found", name)
	}
	modules, err := g.metadata.Modules(ctx, project.ID)
	if err != nil {
		return nil, nil, fail(err, "project %s has no modules", name)
	}
	if len(modules) == 0 {
		return nil, nil, apperr.NotFound("project %s has no modules", name)
	}

	documented := make([]openapi.Module, 0, len(modules))
	for _, m := range modules {
		resources, err := g.metadata.Resources(ctx, m.ID)
		if err != nil {
			return nil, nil, fail(err, "module %s not found", m.Name)
		}
		documented = append(documented, openapi.Module{Module: m, Resources: resources})
	}
	return project, documented, nil
}

// documentationUI serves the Swagger UI page of a project
func (g *Gateway) documentationUI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		apperr.NotFound("no documentation for %s", r.Method).Write(w)
		return
	}
	project, _, err := g.documentedModules(r.Context(), mux.Vars(r)["project"])
	if err != nil {
		apperr.From(err).Write(w)
		return
	}
	page, err := openapi.UI(project.Name, "/"+mux.Vars(r)["project"]+"/swagger/json")
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4761: cannot render documentation page")
		apperr.Internal(err).Write(w)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

// documentationJSON serves the OpenAPI document of a project
func (g *Gateway) documentationJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		apperr.NotFound("no documentation for %s", r.Method).Write(w)
		return
	}
	project, documented, err := g.documentedModules(r.Context(), mux.Vars(r)["project"])
	if err != nil {
		apperr.From(err).Write(w)
		return
	}

	data, err := json.MarshalWithOption(openapi.Build(*project, documented, g.legacyCreateStatus), json.DisableHTMLEscape())
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 4763: cannot marshal documentation")
		apperr.Internal(err).Write(w)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(data)
}
