/*
Package hooks executes the business logic of resources.

A business logic either names a handler which was registered with the runner, or carries the
source of a javascript function which is executed in a sandbox:

	function (ctx) {
		ctx.body.total = ctx.body.price * ctx.body.quantity
	}

The function receives the hook context with the fields method, project, module, id, query,
body and result. A pre hook may replace ctx.body or return an object which becomes the new
body. A post hook may replace ctx.result or return a value which becomes the new result.
The sandbox has no module loading and no host access except console.log.
*/
package hooks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/relabs-tech/schemagate/core"
	"github.com/relabs-tech/schemagate/core/logger"
	"github.com/relabs-tech/schemagate/core/metadata"
)

// default limits of the javascript sandbox
const (
	DefaultTimeout       = 2 * time.Second
	DefaultMaxScriptSize = 64 * 1024
)

// outcomes of a hook execution
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTimeout = "timeout"
)

// ErrTimeout is returned when a script was interrupted
var ErrTimeout = errors.New("business logic interrupted")

// Context is the context of a business logic execution
type Context struct {
	Method  core.Method
	Project string
	Module  string
	ID      string
	Query   map[string]string
	Body    map[string]interface{}
	Result  interface{}
}

// Handler is business logic implemented in Go. It may modify the body or the result.
type Handler func(ctx context.Context, trigger core.Trigger, hc *Context) error

// Config configures a Runner
type Config struct {
	// Timeout bounds the execution time of a script
	Timeout time.Duration
	// MaxScriptSize is the maximum length of a script's source in bytes
	MaxScriptSize int
}

// Runner executes business logic
type Runner struct {
	config   Config
	mutex    sync.RWMutex
	handlers map[string]Handler
}

// New creates a new runner
func New(config Config) *Runner {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxScriptSize <= 0 {
		config.MaxScriptSize = DefaultMaxScriptSize
	}
	return &Runner{
		config:   config,
		handlers: make(map[string]Handler),
	}
}

// Register registers a named handler. Business logic refers to it by name.
func (r *Runner) Register(name string, handler Handler) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, ok := r.handlers[name]; ok {
		logger.Default().Warnf("handler %s registered twice", name)
	}
	r.handlers[name] = handler
}

func (r *Runner) handler(name string) (Handler, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Execute executes logic and returns its error
func (r *Runner) Execute(ctx context.Context, logic *metadata.BusinessLogic, hc *Context) error {
	if logic.Handler != "" {
		h, ok := r.handler(logic.Handler)
		if !ok {
			return fmt.Errorf("no handler %s registered", logic.Handler)
		}
		return h(ctx, logic.Trigger, hc)
	}
	if logic.Logic == "" {
		return nil
	}
	return r.runScript(ctx, logic.Trigger, logic.Logic, hc)
}

// Run executes logic. Failures are logged and reported as outcome, they never
// propagate to the caller.
func (r *Runner) Run(ctx context.Context, logic *metadata.BusinessLogic, hc *Context) (outcome string) {
	rlog := logger.FromContext(ctx).WithField("trigger", logic.Trigger).WithField("businessLogic", logic.ID)
	defer func() {
		if p := recover(); p != nil {
			rlog.Errorf("Error 4801: business logic panicked: %v", p)
			outcome = OutcomeFailure
		}
	}()
	err := r.Execute(ctx, logic, hc)
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrTimeout):
		rlog.WithError(err).Errorln("Error 4802: business logic timed out")
		return OutcomeTimeout
	default:
		rlog.WithError(err).Errorln("Error 4803: business logic failed")
		return OutcomeFailure
	}
}
