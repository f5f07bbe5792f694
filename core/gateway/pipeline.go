package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/schemagate/core"
	"github.com/relabs-tech/schemagate/core/apperr"
	"github.com/relabs-tech/schemagate/core/hooks"
	"github.com/relabs-tech/schemagate/core/logger"
	"github.com/relabs-tech/schemagate/core/metadata"
	"github.com/relabs-tech/schemagate/core/store"
)

// stage is the progress of a request through the pipeline
type stage int

const (
	stageReceived stage = iota
	stageResolved
	stageGuarded
	stageValidated
	stagePreHooked
	stageDispatched
	stagePostHooked
	stageResponded
)

func (s stage) String() string {
	switch s {
	case stageReceived:
		return "received"
	case stageResolved:
		return "resolved"
	case stageGuarded:
		return "guarded"
	case stageValidated:
		return "validated"
	case stagePreHooked:
		return "prehooked"
	case stageDispatched:
		return "dispatched"
	case stagePostHooked:
		return "posthooked"
	default:
		return "responded"
	}
}

// requestState is the state of a single request. It is owned by the request's goroutine.
type requestState struct {
	w    http.ResponseWriter
	r    *http.Request
	ctx  context.Context
	rlog *logrus.Entry

	httpMethod  string
	projectName string
	moduleName  string
	rawID       string
	hasID       bool
	method      core.Method
	id          uuid.UUID

	project  *metadata.Project
	module   *metadata.Module
	resource *metadata.Resource

	body   map[string]interface{}
	result interface{}
	status int

	stage stage
	err   error
}

// step is a stage of the pipeline. It advances the request to stage `to` or fails.
type step struct {
	name string
	to   stage
	run  func(g *Gateway, s *requestState) error
}

var (
	resolveStep  = step{name: "resolve", to: stageResolved, run: (*Gateway).resolve}
	guardStep    = step{name: "guard", to: stageGuarded, run: (*Gateway).guard}
	checkIDStep  = step{name: "check_id", to: stageGuarded, run: (*Gateway).checkID}
	validateStep = step{name: "validate", to: stageValidated, run: (*Gateway).validate}
	preHookStep  = step{name: "pre_hook", to: stagePreHooked, run: (*Gateway).preHook}
	dispatchStep = step{name: "dispatch", to: stageDispatched, run: (*Gateway).dispatch}
	postHookStep = step{name: "post_hook", to: stagePostHooked, run: (*Gateway).postHook}

	// collectionChain serves /{project}/{module}
	collectionChain = []step{resolveStep, guardStep, validateStep, preHookStep, dispatchStep, postHookStep}
	// itemChain serves /{project}/{module}/{id}
	itemChain = []step{resolveStep, guardStep, checkIDStep, validateStep, preHookStep, dispatchStep, postHookStep}
)

// serve runs a request through chain and emits the response
func (g *Gateway) serve(chain []step, w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), g.requestTimeout)
	defer cancel()

	params := mux.Vars(r)
	rawID, hasID := params["id"]
	s := &requestState{
		w:           w,
		r:           r,
		ctx:         ctx,
		httpMethod:  r.Method,
		projectName: params["project"],
		moduleName:  params["module"],
		rawID:       rawID,
		hasID:       hasID,
		status:      http.StatusOK,
		stage:       stageReceived,
	}
	s.ctx, s.rlog = logger.ContextWithFields(ctx, logrus.Fields{"project": s.projectName, "module": s.moduleName})
	s.rlog.Infoln("called route for", r.URL, r.Method)

	for _, st := range chain {
		if err := st.run(g, s); err != nil {
			g.metrics.shortCircuits.WithLabelValues(st.name).Inc()
			s.err = err
			break
		}
		s.stage = st.to
	}
	status := g.respond(s)
	s.stage = stageResponded
	g.metrics.observeRequest(r.Method, status, started)
}

// resolve resolves project, module and resource of the request
func (g *Gateway) resolve(s *requestState) error {
	method, ok := core.MethodFromRequest(s.httpMethod, s.hasID)
	if !ok {
		return apperr.NotFound("method %s is not supported", s.httpMethod)
	}
	s.method = method

	project, err := g.metadata.ProjectByName(s.ctx, s.projectName)
	if err != nil {
		return notFoundOr(err, "project %s not found", s.projectName)
	}
	module, err := g.metadata.ModuleByName(s.ctx, project.ID, s.moduleName)
	if err != nil {
		return notFoundOr(err, "module %s not found in project %s", s.moduleName, s.projectName)
	}
	resource, err := g.metadata.Resource(s.ctx, module.ID, method)
	if err != nil {
		return notFoundOr(err, "module %s/%s has no %s resource", s.projectName, s.moduleName, method)
	}
	s.project, s.module, s.resource = project, module, resource
	return nil
}

func notFoundOr(err error, format string, a ...interface{}) error {
	if metadata.IsNotFound(err) {
		return apperr.NotFound(format, a...)
	}
	return err
}

// guard checks that the method fits the shape of the path
func (g *Gateway) guard(s *requestState) error {
	switch s.method {
	case core.MethodPost:
		if s.hasID {
			return apperr.NotFound("cannot create a record with an id")
		}
	case core.MethodPut, core.MethodDelete, core.MethodGetByID:
		if !s.hasID {
			return apperr.NotFound("%s requires a record id", s.httpMethod)
		}
	}
	return nil
}

// checkID checks the record id of the path
func (g *Gateway) checkID(s *requestState) error {
	id, err := uuid.Parse(s.rawID)
	if err != nil {
		return apperr.BadRequest("invalid record id %s", s.rawID)
	}
	s.id = id
	return nil
}

// validate reads the body of mutating requests and validates it against the resource schema
func (g *Gateway) validate(s *requestState) error {
	if !s.method.IsMutating() {
		return nil
	}
	data, err := io.ReadAll(http.MaxBytesReader(s.w, s.r.Body, g.maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.BadRequest("body exceeds %d bytes", tooLarge.Limit)
		}
		return apperr.BadRequest("cannot read body: %s", err.Error())
	}
	var body interface{}
	if err := json.Unmarshal(data, &body); err != nil {
		return apperr.BadRequest("body is not valid JSON")
	}
	object, ok := body.(map[string]interface{})
	if !ok {
		return apperr.BadRequest("body must be a JSON object")
	}
	s.body = store.StripReserved(object)

	violations, err := g.validator.Validate(s.resource.ID, s.resource.Schema, s.body)
	if err != nil {
		return err
	}
	if len(violations) > 0 {
		return apperr.Invalid(violations)
	}
	return nil
}

// hookContext returns the business logic context of the request
func (s *requestState) hookContext() *hooks.Context {
	query := map[string]string{}
	for key, values := range s.r.URL.Query() {
		if len(values) > 0 {
			query[key] = values[0]
		}
	}
	// hooks work on copies, a failing hook must not leave partial changes behind
	hc := &hooks.Context{
		Method:  s.method,
		Project: s.project.Name,
		Module:  s.module.Name,
		Query:   query,
	}
	if s.body != nil {
		if body, err := plain(s.body); err == nil {
			hc.Body, _ = body.(map[string]interface{})
		}
	}
	if s.result != nil {
		hc.Result, _ = plain(s.result)
	}
	if s.hasID {
		hc.ID = s.id.String()
	}
	return hc
}

// runHook runs the business logic of the resource for trigger, if there is one
func (g *Gateway) runHook(s *requestState, trigger core.Trigger) *hooks.Context {
	logic, err := g.metadata.BusinessLogic(s.ctx, s.resource.ID, trigger)
	if err != nil {
		if !metadata.IsNotFound(err) {
			s.rlog.WithError(err).Errorln("Error 4731: cannot read business logic")
			g.metrics.hooks.WithLabelValues(string(trigger), hooks.OutcomeFailure).Inc()
		}
		return nil
	}
	hc := s.hookContext()
	outcome := g.hooks.Run(s.ctx, logic, hc)
	if outcome == hooks.OutcomeSuccess {
		if err := plainHookContext(hc); err != nil {
			s.rlog.WithError(err).WithField("trigger", trigger).Errorln("Error 4732: business logic left a value which is not JSON")
			outcome = hooks.OutcomeFailure
		}
	}
	g.metrics.hooks.WithLabelValues(string(trigger), outcome).Inc()
	if outcome != hooks.OutcomeSuccess {
		return nil
	}
	return hc
}

// plainHookContext converts body and result left by business logic to plain JSON values
func plainHookContext(hc *hooks.Context) error {
	if hc.Body != nil {
		body, err := plain(hc.Body)
		if err != nil {
			return fmt.Errorf("body: %w", err)
		}
		object, ok := body.(map[string]interface{})
		if !ok {
			return errors.New("body is not an object")
		}
		hc.Body = object
	}
	if hc.Result != nil {
		result, err := plain(hc.Result)
		if err != nil {
			return fmt.Errorf("result: %w", err)
		}
		hc.Result = result
	}
	return nil
}

// preHook runs the pre business logic. It may replace the body of mutating requests.
func (g *Gateway) preHook(s *requestState) error {
	hc := g.runHook(s, core.TriggerPre)
	if hc != nil && s.method.IsMutating() && hc.Body != nil {
		s.body = store.StripReserved(hc.Body)
	}
	return nil
}

// postHook runs the post business logic. It may replace the result.
func (g *Gateway) postHook(s *requestState) error {
	hc := g.runHook(s, core.TriggerPost)
	if hc != nil {
		s.result = hc.Result
	}
	return nil
}
