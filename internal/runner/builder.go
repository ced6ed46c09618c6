package runner

import (
	"context"

	"github.com/formai-apps/kyuyoagent/internal/tabular"
)

// Builder turns generated function source into a runnable program: it
// wraps the function in the stdin/stdout harness, compiles it and
// instantiates the result over the task's loaded tables.
type Builder struct {
	compiler *Compiler
}

// NewBuilder returns a builder using the given TinyGo binary, or the one
// on PATH when empty.
func NewBuilder(tinygoPath string) *Builder {
	return &Builder{compiler: NewCompiler(tinygoPath)}
}

// Build compiles source around functionName and returns a program bound to
// frames. Compiler diagnostics come back as a *BuildError.
func (b *Builder) Build(ctx context.Context, source, functionName string, frames map[string]*tabular.Frame) (*Program, error) {
	wrapped := WrapProgram(source, functionName)
	wasm, err := b.compiler.Compile(ctx, wrapped)
	if err != nil {
		return nil, err
	}
	return NewProgram(ctx, wasm, frames)
}
