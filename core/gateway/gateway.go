/*
Package gateway exposes the records of stored project modules as REST resources.

For every request, the project, module and resource are resolved from the stored metadata.
The request then passes a fixed chain of stages:

	resolve -> guard -> (check id) -> validate -> pre hook -> dispatch -> post hook

and the response is emitted. Every stage may answer the request early with an error.

Routes:

	GET    /{project}/{module}         list records
	POST   /{project}/{module}         create a record
	GET    /{project}/{module}/{id}    read a record
	PUT    /{project}/{module}/{id}    update a record, PATCH is the same
	DELETE /{project}/{module}/{id}    delete a record, ?soft=true flags it as deleted

	GET    /{project}/swagger          Swagger UI
	GET    /{project}/swagger/json     OpenAPI document
	GET    /version
	GET    /metrics
*/
package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/schemagate/core"
	"github.com/relabs-tech/schemagate/core/apperr"
	"github.com/relabs-tech/schemagate/core/hooks"
	"github.com/relabs-tech/schemagate/core/logger"
	"github.com/relabs-tech/schemagate/core/metadata"
	"github.com/relabs-tech/schemagate/core/registry"
	"github.com/relabs-tech/schemagate/core/schema"
	"github.com/relabs-tech/schemagate/core/store"
)

// defaults for optional builder settings
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultMaxBodySize    = 1 << 20
)

// Version is the version of the current build
var Version = "unset"

// Gateway is the dynamic REST gateway
type Gateway struct {
	registry           *registry.Registry
	metadata           metadata.Reader
	validator          *schema.Cache
	hooks              *hooks.Runner
	notifier           core.Notifier
	router             *mux.Router
	metrics            *metrics
	requestTimeout     time.Duration
	maxBodySize        int64
	legacyCreateStatus bool
}

// Builder is a builder helper for the Gateway
type Builder struct {
	// Store is the document store for records and metadata. This is mandatory.
	Store store.Store
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Registry is the collection registry. This is optional, defaults to a new registry for Store.
	Registry *registry.Registry
	// Metadata reads the project metadata. This is optional, defaults to the metadata
	// collections of Store.
	Metadata metadata.Reader
	// Validator caches compiled resource schemas. This is optional.
	Validator *schema.Cache
	// Hooks executes business logic. This is optional, defaults to a runner without
	// registered handlers.
	Hooks *hooks.Runner
	// Notifier receives record changes. This is optional.
	Notifier core.Notifier
	// Prometheus is the registry for the gateway metrics. This is optional, defaults to
	// a new registry served on /metrics.
	Prometheus *prometheus.Registry
	// RequestTimeout bounds the handling of a request, including store calls and hooks.
	RequestTimeout time.Duration
	// MaxBodySize is the maximum size of a request body in bytes
	MaxBodySize int64
	// LegacyCreateStatus makes creation return 200 instead of 201
	LegacyCreateStatus bool
}

// New realizes the actual gateway. It adds all routes and middlewares to the router.
func New(gb *Builder) *Gateway {
	if gb.Store == nil {
		panic("Store is missing")
	}
	if gb.Router == nil {
		panic("Router is missing")
	}

	g := &Gateway{
		registry:           gb.Registry,
		metadata:           gb.Metadata,
		validator:          gb.Validator,
		hooks:              gb.Hooks,
		notifier:           gb.Notifier,
		router:             gb.Router,
		requestTimeout:     gb.RequestTimeout,
		maxBodySize:        gb.MaxBodySize,
		legacyCreateStatus: gb.LegacyCreateStatus,
	}
	if g.registry == nil {
		g.registry = registry.New(gb.Store)
	}
	if g.metadata == nil {
		g.metadata = metadata.NewRepository(g.registry)
	}
	if g.validator == nil {
		g.validator = schema.MustNewCache(schema.DefaultCacheSize)
	}
	if g.hooks == nil {
		g.hooks = hooks.New(hooks.Config{})
	}
	if g.requestTimeout <= 0 {
		g.requestTimeout = DefaultRequestTimeout
	}
	if g.maxBodySize <= 0 {
		g.maxBodySize = DefaultMaxBodySize
	}
	prom := gb.Prometheus
	if prom == nil {
		prom = prometheus.NewRegistry()
	}
	g.metrics = newMetrics(prom)

	g.handleMiddlewares()
	g.handleRoutes()
	return g
}

// Router returns the router of the gateway
func (g *Gateway) Router() *mux.Router {
	return g.router
}

// Registry returns the collection registry of the gateway
func (g *Gateway) Registry() *registry.Registry {
	return g.registry
}

func (g *Gateway) handleMiddlewares() {
	logger.AddRequestID(g.router)
	g.router.Use(handlers.RecoveryHandler(
		handlers.RecoveryLogger(logrus.StandardLogger()),
		handlers.PrintRecoveryStack(true),
	))
	g.handleCORS()
	g.handleCompression()
}

func (g *Gateway) handleRoutes() {
	rlog := logger.Default()
	rlog.Debugln("gateway: handle routes")

	g.handleVersion()
	rlog.Debugln("  handle metrics route: /metrics GET")
	g.router.Handle("/metrics", g.metrics.handler()).Methods(http.MethodOptions, http.MethodGet)

	g.handleDocumentation()

	rlog.Debugln("  handle record routes: /{project}/{module} and /{project}/{module}/{id}")
	g.router.HandleFunc("/{project}/{module}", func(w http.ResponseWriter, r *http.Request) {
		g.serve(collectionChain, w, r)
	})
	g.router.HandleFunc("/{project}/{module}/{id}", func(w http.ResponseWriter, r *http.Request) {
		g.serve(itemChain, w, r)
	})

	g.router.NotFoundHandler = logger.RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apperr.NotFound("no route for %s %s", r.Method, r.URL.Path).Write(w)
	}))
}
