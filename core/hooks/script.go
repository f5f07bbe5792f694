package hooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/relabs-tech/schemagate/core"
	"github.com/relabs-tech/schemagate/core/logger"
)

const maxCallStackSize = 256

func isSet(v goja.Value) bool {
	return v != nil && !goja.IsUndefined(v) && !goja.IsNull(v)
}

// runScript executes the source of a javascript function with the hook context
func (r *Runner) runScript(ctx context.Context, trigger core.Trigger, source string, hc *Context) error {
	if len(source) > r.config.MaxScriptSize {
		return fmt.Errorf("script exceeds maximum size of %d bytes", r.config.MaxScriptSize)
	}

	vm := goja.New()
	vm.SetMaxCallStackSize(maxCallStackSize)

	timeout := r.config.Timeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-time.After(timeout):
			vm.Interrupt(ErrTimeout)
		case <-ctx.Done():
			vm.Interrupt(ErrTimeout)
		case <-done:
		}
	}()
	defer close(done)

	rlog := logger.FromContext(ctx).WithField("trigger", trigger)
	console := vm.NewObject()
	console.Set("log", func(call goja.FunctionCall) goja.Value {
		args := make([]interface{}, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = arg.Export()
		}
		rlog.Infoln(args...)
		return goja.Undefined()
	})
	vm.Set("console", console)

	value, err := vm.RunString("(" + source + "\n)")
	if err != nil {
		return scriptError(err)
	}
	fn, ok := goja.AssertFunction(value)
	if !ok {
		return errors.New("business logic does not evaluate to a function")
	}

	query := make(map[string]interface{}, len(hc.Query))
	for key, v := range hc.Query {
		query[key] = v
	}
	jsCtx := vm.NewObject()
	jsCtx.Set("method", string(hc.Method))
	jsCtx.Set("project", hc.Project)
	jsCtx.Set("module", hc.Module)
	if hc.ID != "" {
		jsCtx.Set("id", hc.ID)
	} else {
		jsCtx.Set("id", goja.Null())
	}
	jsCtx.Set("query", query)
	if hc.Body != nil {
		jsCtx.Set("body", hc.Body)
	} else {
		jsCtx.Set("body", goja.Null())
	}
	if hc.Result != nil {
		jsCtx.Set("result", hc.Result)
	} else {
		jsCtx.Set("result", goja.Null())
	}

	returned, err := fn(goja.Undefined(), jsCtx)
	if err != nil {
		return scriptError(err)
	}

	switch trigger {
	case core.TriggerPre:
		if body, ok := jsCtx.Get("body").Export().(map[string]interface{}); ok {
			hc.Body = body
		}
		if isSet(returned) {
			if body, ok := returned.Export().(map[string]interface{}); ok {
				hc.Body = body
			}
		}
	case core.TriggerPost:
		if result := jsCtx.Get("result"); isSet(result) {
			hc.Result = result.Export()
		}
		if isSet(returned) {
			hc.Result = returned.Export()
		}
	}
	return nil
}

func scriptError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("%w: %v", ErrTimeout, interrupted.Value())
	}
	return fmt.Errorf("script error: %w", err)
}
