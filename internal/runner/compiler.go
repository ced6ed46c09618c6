package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/formai-apps/kyuyoagent/internal/consts"
	"github.com/formai-apps/kyuyoagent/internal/logger"
)

// BuildError reports that generated code did not compile. The compiler
// output is kept so it can be shown to the user instead of being treated
// as an internal failure.
type BuildError struct {
	Output string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("compilation failed:\n%s", e.Output)
}

// Compiler builds wrapped program source into wasm with TinyGo.
type Compiler struct {
	tinygoPath string
	log        *logger.Logger
}

// NewCompiler returns a compiler using the given TinyGo binary, or the one
// on PATH when empty.
func NewCompiler(tinygoPath string) *Compiler {
	if tinygoPath == "" {
		tinygoPath = "tinygo"
	}
	return &Compiler{
		tinygoPath: tinygoPath,
		log:        logger.Global().WithPrefix("runner"),
	}
}

// Compile writes the source to a scratch directory and builds a wasip1
// binary from it. Compiler diagnostics come back as a *BuildError.
func (c *Compiler) Compile(ctx context.Context, source string) ([]byte, error) {
	buildDir, err := os.MkdirTemp("", "kyuyoagent-build-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create build directory: %w", err)
	}
	defer os.RemoveAll(buildDir)

	mainFile := filepath.Join(buildDir, "main.go")
	if err := os.WriteFile(mainFile, []byte(source), 0644); err != nil {
		return nil, fmt.Errorf("failed to write source file: %w", err)
	}

	wasmFile := filepath.Join(buildDir, "main.wasm")
	buildCtx, cancel := context.WithTimeout(ctx, consts.Timeout5Minutes)
	defer cancel()

	c.log.Debug("compiling generated code with %s", c.tinygoPath)
	cmd := exec.CommandContext(buildCtx, c.tinygoPath, buildArgs(wasmFile)...)
	cmd.Dir = buildDir
	cmd.Env = os.Environ()

	output, err := cmd.CombinedOutput()
	if err != nil {
		c.log.Debug("tinygo build failed: %v", err)
		return nil, &BuildError{Output: string(output)}
	}

	wasm, err := os.ReadFile(wasmFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read wasm binary: %w", err)
	}
	return wasm, nil
}

func buildArgs(wasmFile string) []string {
	// wazero runs WASI Preview 1, so wasip1 is the target.
	return []string{"build", "-o", wasmFile, "-target=wasip1", "--no-debug", "main.go"}
}
