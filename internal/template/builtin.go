package template

import (
	_ "embed"
	"sync"
)

//go:embed builtin.cue
var builtinCUE string

var (
	builtinOnce sync.Once
	builtin     *Template
	builtinErr  error
)

// Builtin returns the compiled built-in equity-donation template.
// The embedded definition is compiled once; a compile failure here is a
// packaging bug and is returned rather than panicking so callers can report
// it cleanly.
func Builtin() (*Template, error) {
	builtinOnce.Do(func() {
		builtin, builtinErr = CompileString(builtinCUE)
	})
	return builtin, builtinErr
}

// MustBuiltin returns the built-in template or panics. For tests and
// wiring paths where a broken embedded template cannot be handled anyway.
func MustBuiltin() *Template {
	t, err := Builtin()
	if err != nil {
		panic(err)
	}
	return t
}
