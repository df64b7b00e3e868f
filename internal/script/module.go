// Package script loads operator-supplied transform code.
//
// The code is a JavaScript module evaluated in an embedded interpreter.
// It may export up to three functions, each optional:
//
//	exports.transform = function (record) { ... return record; } // or undefined to drop
//	exports.beforeImport = function () { ... };
//	exports.afterImport = function () { ... };
//
// `module.exports = { transform, ... }` works too. The module sees only
// `exports`, `module` and `console`; it has no access to the store, the
// stats or the pipeline.
package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dop251/goja"

	"recordimport/internal/etl"
)

// Export names the module may define.
const (
	ExportTransform    = "transform"
	ExportBeforeImport = "beforeImport"
	ExportAfterImport  = "afterImport"
)

// DefaultTimeout bounds a single call into the module.
const DefaultTimeout = 30 * time.Second

// Options configures Load.
type Options struct {
	// Name is used in syntax error messages. Defaults to "transform.js".
	Name string
	// Timeout bounds each call. Zero disables the bound.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Module is a loaded transform module. It implements etl.Transformer and
// etl.Hooks. A Module is not safe for concurrent use.
type Module struct {
	vm      *goja.Runtime
	timeout time.Duration

	transform    goja.Callable
	beforeImport goja.Callable
	afterImport  goja.Callable
}

var (
	_ etl.Transformer = (*Module)(nil)
	_ etl.Hooks       = (*Module)(nil)
)

// Load evaluates src and binds its exports. Syntax errors, a throwing
// module body, or exports that are not functions are configuration errors.
func Load(src string, opts Options) (*Module, error) {
	name := opts.Name
	if name == "" {
		name = "transform.js"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	prg, err := goja.Compile(name, src, false)
	if err != nil {
		return nil, fmt.Errorf("%w: compile %s: %w", etl.ErrConfig, name, err)
	}

	vm := goja.New()
	module := vm.NewObject()
	exports := vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, err
	}
	if err := vm.Set("module", module); err != nil {
		return nil, err
	}
	if err := vm.Set("exports", exports); err != nil {
		return nil, err
	}
	if err := vm.Set("console", newConsole(vm, logger.With("source", "transform"))); err != nil {
		return nil, err
	}

	m := &Module{vm: vm, timeout: opts.Timeout}
	if _, err := m.guard(func() (goja.Value, error) { return vm.RunProgram(prg) }); err != nil {
		return nil, fmt.Errorf("%w: evaluate %s: %w", etl.ErrConfig, name, err)
	}

	bound := module.Get("exports")
	if bound == nil || goja.IsUndefined(bound) || goja.IsNull(bound) {
		return nil, fmt.Errorf("%w: %s: module.exports is empty", etl.ErrConfig, name)
	}
	obj := bound.ToObject(vm)
	for _, b := range []struct {
		name string
		dst  *goja.Callable
	}{
		{ExportTransform, &m.transform},
		{ExportBeforeImport, &m.beforeImport},
		{ExportAfterImport, &m.afterImport},
	} {
		v := obj.Get(b.name)
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			continue
		}
		fn, ok := goja.AssertFunction(v)
		if !ok {
			return nil, fmt.Errorf("%w: %s: export %q is not a function", etl.ErrConfig, name, b.name)
		}
		*b.dst = fn
	}
	return m, nil
}

// HasTransform reports whether the module exports a transform function.
func (m *Module) HasTransform() bool { return m.transform != nil }

// Transform calls the exported transform. Without one the record passes
// through. undefined or null drops the record.
func (m *Module) Transform(_ context.Context, r etl.Record) (etl.Record, bool, error) {
	if m.transform == nil {
		return r, true, nil
	}
	arg := m.vm.ToValue(r.Data)
	res, err := m.call(m.transform, arg)
	if err != nil {
		return r, false, err
	}
	if res == nil || goja.IsUndefined(res) || goja.IsNull(res) {
		return r, false, nil
	}
	data, ok := res.Export().(map[string]any)
	if !ok {
		return r, false, fmt.Errorf("transform returned %s, want an object", res.ExportType())
	}
	return etl.NewRecord(data), true, nil
}

// BeforeImport calls the exported beforeImport, if any.
func (m *Module) BeforeImport(context.Context) error {
	return m.hook(m.beforeImport)
}

// AfterImport calls the exported afterImport, if any.
func (m *Module) AfterImport(context.Context) error {
	return m.hook(m.afterImport)
}

func (m *Module) hook(fn goja.Callable) error {
	if fn == nil {
		return nil
	}
	_, err := m.call(fn)
	return err
}

// call invokes fn and settles a returned promise.
func (m *Module) call(fn goja.Callable, args ...goja.Value) (goja.Value, error) {
	res, err := m.guard(func() (goja.Value, error) { return fn(goja.Undefined(), args...) })
	if err != nil {
		return nil, err
	}
	if res == nil {
		return res, nil
	}
	p, ok := res.Export().(*goja.Promise)
	if !ok {
		return res, nil
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return p.Result(), nil
	case goja.PromiseStateRejected:
		return nil, fmt.Errorf("promise rejected: %s", describe(p.Result()))
	default:
		return nil, errors.New("promise did not settle; only synchronous work is supported")
	}
}

// guard runs f under the call timeout and turns JS exceptions into errors.
func (m *Module) guard(f func() (goja.Value, error)) (goja.Value, error) {
	if m.timeout > 0 {
		timer := time.AfterFunc(m.timeout, func() {
			m.vm.Interrupt(fmt.Sprintf("timed out after %s", m.timeout))
		})
		defer func() {
			timer.Stop()
			m.vm.ClearInterrupt()
		}()
	}
	res, err := f()
	if err != nil {
		var exc *goja.Exception
		if errors.As(err, &exc) {
			return nil, errors.New(describe(exc.Value()))
		}
		return nil, err
	}
	return res, nil
}

// describe renders a thrown value. Errors become "Name: message".
func describe(v goja.Value) string {
	if v == nil {
		return "undefined"
	}
	return v.String()
}
