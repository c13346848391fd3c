package decode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dop251/goja"
)

// ScriptFunc is the global function a decoder script must define.
const ScriptFunc = "tryUsingDecoder"

// ScriptDecoder runs a JavaScript decoder with goja. The script is evaluated once
// and its tryUsingDecoder(value) is called per request on a single VM.
type ScriptDecoder struct {
	mu sync.Mutex
	vm *goja.Runtime
	fn goja.Callable
}

// LoadScriptDecoder reads and evaluates the script at path.
func LoadScriptDecoder(path string) (*ScriptDecoder, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read decoder script: %w", err)
	}
	return NewScriptDecoder(path, string(src))
}

// NewScriptDecoder evaluates src, reporting errors against name.
func NewScriptDecoder(name, src string) (*ScriptDecoder, error) {
	prog, err := goja.Compile(name, src, false)
	if err != nil {
		return nil, fmt.Errorf("compile decoder script: %w", err)
	}
	vm := goja.New()
	_ = vm.Set("console", map[string]any{
		"log": func(...any) {},
	})
	if _, err := vm.RunProgram(prog); err != nil {
		return nil, fmt.Errorf("run decoder script: %w", err)
	}
	fn, ok := goja.AssertFunction(vm.Get(ScriptFunc))
	if !ok {
		return nil, errors.New(ScriptFunc + " function not found in decoder script")
	}
	return &ScriptDecoder{vm: vm, fn: fn}, nil
}

// Decode calls tryUsingDecoder(value). ctx cancellation interrupts the script.
func (d *ScriptDecoder) Decode(ctx context.Context, value string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(interrupted)
		d.vm.Interrupt(ctx.Err())
	})
	res, err := d.fn(goja.Undefined(), d.vm.ToValue(value))
	if !stop() {
		// The interrupt is already on its way; clear it only once it landed.
		<-interrupted
	}
	d.vm.ClearInterrupt()

	if err != nil {
		return "", fmt.Errorf("%s: %w", ScriptFunc, err)
	}
	if goja.IsUndefined(res) || goja.IsNull(res) {
		return "", ErrNoResult
	}
	return res.String(), nil
}
