// Package runner compiles generated processing code to WebAssembly and
// executes it in a sandbox, once per staff code. The generated function
// never touches the host filesystem or network: its input arrives on
// stdin as JSON and its result rows leave on stdout the same way.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/formai-apps/kyuyoagent/internal/consts"
	"github.com/formai-apps/kyuyoagent/internal/logger"
	"github.com/formai-apps/kyuyoagent/internal/tabular"
)

// ErrInvalidResult reports that a run produced no row list, typically
// because the generated function returned nil.
var ErrInvalidResult = errors.New("無効な戻り値")

type runInput struct {
	StaffCode string
	Frames    map[string][]map[string]string
}

// Program is a compiled processing function ready to be executed
// repeatedly, one fresh module instance per staff code.
type Program struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	frames   map[string][]map[string]string
	log      *logger.Logger
}

// NewProgram prepares a wasm binary for execution against the given
// tables. The module is compiled once here; Run instantiates it anew for
// every staff code so runs cannot leak state into each other.
func NewProgram(ctx context.Context, wasm []byte, frames map[string]*tabular.Frame) (*Program, error) {
	r := wazero.NewRuntime(ctx)
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	compiled, err := r.CompileModule(ctx, wasm)
	if err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("wasm compilation failed: %w", err)
	}

	return &Program{
		runtime:  r,
		compiled: compiled,
		frames:   flattenFrames(frames),
		log:      logger.Global().WithPrefix("runner"),
	}, nil
}

// Close releases the wazero runtime and everything compiled in it.
func (p *Program) Close(ctx context.Context) error {
	return p.runtime.Close(ctx)
}

// Run executes the program for one staff code and returns its result rows.
// Failures inside the generated code come back as errors whose text is the
// program's stderr, so they can be reported per staff code.
func (p *Program) Run(ctx context.Context, staffCode string) (*tabular.Frame, error) {
	input, err := json.Marshal(runInput{StaffCode: staffCode, Frames: p.frames})
	if err != nil {
		return nil, fmt.Errorf("failed to encode input: %w", err)
	}

	var stdout, stderr bytes.Buffer
	config := wazero.NewModuleConfig().
		WithName("").
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithSysWalltime().
		WithSysNanotime().
		WithStartFunctions()

	mod, err := p.runtime.InstantiateModule(ctx, p.compiled, config)
	if err != nil {
		return nil, fmt.Errorf("instantiation failed: %w", err)
	}
	defer mod.Close(ctx)

	startFn := mod.ExportedFunction("_start")
	if startFn == nil {
		return nil, errors.New("no _start function in module")
	}

	runCtx, cancel := context.WithTimeout(ctx, consts.Timeout30Seconds)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, callErr := startFn.Call(runCtx)
		done <- callErr
	}()

	select {
	case err := <-done:
		if err != nil {
			if exitErr, ok := err.(*sys.ExitError); ok {
				if exitErr.ExitCode() == 0 {
					return parseResult(stdout.Bytes())
				}
				return nil, runError(exitErr.ExitCode(), stderr.String())
			}
			return nil, fmt.Errorf("execution failed: %w", err)
		}
		return parseResult(stdout.Bytes())
	case <-runCtx.Done():
		mod.CloseWithExitCode(context.Background(), 1)
		<-done
		p.log.Warn("run for staff code %s timed out", staffCode)
		return nil, fmt.Errorf("execution timed out after %s", consts.Timeout30Seconds)
	}
}

func runError(code uint32, stderrText string) error {
	msg := strings.TrimSpace(stderrText)
	if msg == "" {
		msg = fmt.Sprintf("exit code %d", code)
	}
	return errors.New(msg)
}

func flattenFrames(frames map[string]*tabular.Frame) map[string][]map[string]string {
	out := make(map[string][]map[string]string, len(frames))
	for name, f := range frames {
		rows := make([]map[string]string, 0, f.RowCount())
		for _, row := range f.Rows {
			rows = append(rows, map[string]string(row))
		}
		out[name] = rows
	}
	return out
}

// parseResult decodes the row list a run wrote to stdout. A nil result is
// not a row list and counts as an invalid return value.
func parseResult(out []byte) (*tabular.Frame, error) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, ErrInvalidResult
	}

	var rows []map[string]any
	if err := json.Unmarshal(trimmed, &rows); err != nil {
		return nil, ErrInvalidResult
	}

	frame := tabular.New(resultColumns(trimmed, rows))
	for _, row := range rows {
		frame.AppendRow(tabular.RowFromAny(row))
	}
	return frame, nil
}

// resultColumns keeps the first row's textual key order, because JSON
// objects decoded into maps lose it. Keys appearing only in later rows are
// appended in sorted order.
func resultColumns(data []byte, rows []map[string]any) []string {
	cols := firstObjectKeyOrder(data)
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		seen[c] = true
	}

	var extra []string
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)
	return append(cols, extra...)
}

func firstObjectKeyOrder(data []byte) []string {
	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('[') {
		return nil
	}
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil
	}

	var keys []string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return keys
		}
		key, ok := keyTok.(string)
		if !ok {
			return keys
		}
		keys = append(keys, key)

		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return keys
		}
	}
	return keys
}
