package decode

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/emscripten"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// NewWASMBridge returns a bridge that loads the module at path with wazero on
// first use. Emscripten and WASI host imports are provided; the module's reactor
// initializer runs if it exports one.
func NewWASMBridge(path string, ex Exports, initTimeout time.Duration) *WASMBridge {
	return newBridge(func(ctx context.Context) (instance, error) {
		return loadWazero(ctx, path)
	}, ex, initTimeout)
}

type wazeroInstance struct {
	rt  wazero.Runtime
	mod api.Module
}

func loadWazero(ctx context.Context, path string) (instance, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read decoder module: %w", err)
	}

	rt := wazero.NewRuntime(ctx)
	fail := func(err error) (instance, error) {
		_ = rt.Close(ctx)
		return nil, err
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		return fail(fmt.Errorf("instantiate wasi: %w", err))
	}
	compiled, err := rt.CompileModule(ctx, code)
	if err != nil {
		return fail(fmt.Errorf("compile decoder module: %w", err))
	}
	if _, err := emscripten.InstantiateForModule(ctx, rt, compiled); err != nil {
		return fail(fmt.Errorf("instantiate emscripten imports: %w", err))
	}

	cfg := wazero.NewModuleConfig().
		WithName("decoder").
		WithStartFunctions("_initialize")
	mod, err := rt.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		return fail(fmt.Errorf("instantiate decoder module: %w", err))
	}
	if mod.Memory() == nil {
		return fail(fmt.Errorf("decoder module exports no memory"))
	}
	return &wazeroInstance{rt: rt, mod: mod}, nil
}

func (w *wazeroInstance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn := w.mod.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("export %q not found", name)
	}
	return fn.Call(ctx, params...)
}

func (w *wazeroInstance) Memory() memory {
	return w.mod.Memory()
}

func (w *wazeroInstance) Close(ctx context.Context) error {
	return w.rt.Close(ctx)
}
