package decode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/robertkrimen/otto"
)

var errOttoHalted = errors.New("decoder script halted")

// OttoDecoder runs a decoder script on otto. It is selected with engine "otto".
type OttoDecoder struct {
	mu sync.Mutex
	vm *otto.Otto
}

// LoadOttoDecoder reads and evaluates the script at path.
func LoadOttoDecoder(path string) (*OttoDecoder, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read decoder script: %w", err)
	}
	return NewOttoDecoder(string(src))
}

// NewOttoDecoder evaluates src and checks that it defines tryUsingDecoder.
func NewOttoDecoder(src string) (*OttoDecoder, error) {
	vm := otto.New()
	if _, err := vm.Run(src); err != nil {
		return nil, fmt.Errorf("failed to run decoder script in otto: %w", err)
	}
	fn, err := vm.Get(ScriptFunc)
	if err != nil || !fn.IsFunction() {
		return nil, errors.New(ScriptFunc + " function not found in decoder script")
	}
	vm.Interrupt = make(chan func(), 1)
	return &OttoDecoder{vm: vm}, nil
}

// Decode calls tryUsingDecoder(value). ctx cancellation halts the script.
func (d *OttoDecoder) Decode(ctx context.Context, value string) (out string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			if r == errOttoHalted {
				err = fmt.Errorf("%s: %w", ScriptFunc, context.Cause(ctx))
				return
			}
			panic(r)
		}
	}()

	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(interrupted)
		select {
		case d.vm.Interrupt <- func() { panic(errOttoHalted) }:
		default:
		}
	})
	defer func() {
		if !stop() {
			<-interrupted
		}
		// Drop an interrupt that arrived after the call returned.
		select {
		case <-d.vm.Interrupt:
		default:
		}
	}()

	res, err := d.vm.Call(ScriptFunc, nil, value)
	if err != nil {
		return "", fmt.Errorf("%s: %w", ScriptFunc, err)
	}
	if res.IsNull() || res.IsUndefined() {
		return "", ErrNoResult
	}
	return res.ToString()
}
