package script

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dop251/goja"
)

// newConsole builds the `console` object the module sees. Output goes to
// the structured logger; nothing is written to stdout.
func newConsole(vm *goja.Runtime, logger *slog.Logger) *goja.Object {
	console := vm.NewObject()
	for name, level := range map[string]slog.Level{
		"log":   slog.LevelInfo,
		"info":  slog.LevelInfo,
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		lvl := level
		_ = console.Set(name, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, a := range call.Arguments {
				parts[i] = render(a)
			}
			logger.Log(context.Background(), lvl, strings.Join(parts, " "))
			return goja.Undefined()
		})
	}
	return console
}

// render prints objects as JSON and everything else with JS string conversion.
func render(v goja.Value) string {
	if obj, ok := v.(*goja.Object); ok && obj.ClassName() != "Error" {
		if b, err := obj.MarshalJSON(); err == nil {
			return string(b)
		}
	}
	return v.String()
}
