// Package decode hosts the opaque decoder that answers "dec" requests from page
// instrumentation.
package decode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNoDecoder is returned when no decoder backend is configured.
	ErrNoDecoder = errors.New("decode: no decoder configured")
	// ErrNoResult is returned when the decoder produced nothing for the input.
	ErrNoResult = errors.New("decode: no result")
	// ErrInitTimeout is the load failure of a module that did not initialize in time.
	ErrInitTimeout = errors.New("decode: initialization timed out")
	// ErrClosed is returned after the decoder was closed.
	ErrClosed = errors.New("decode: decoder closed")
)

// Decoder transforms an opaque string value.
type Decoder interface {
	Decode(ctx context.Context, value string) (string, error)
}

// NullDecoder rejects every value.
type NullDecoder struct{}

func (NullDecoder) Decode(context.Context, string) (string, error) {
	return "", ErrNoDecoder
}

// Exports names the module functions used by the string call convention.
type Exports struct {
	StackSave    string `yaml:"stack_save"`
	StackRestore string `yaml:"stack_restore"`
	StackAlloc   string `yaml:"stack_alloc"`
	FreeStr      string `yaml:"free_str"`
	Decode       string `yaml:"decode"`
}

// DefaultExports matches modules built with the decoder's usual toolchain flags.
var DefaultExports = Exports{
	StackSave:    "stackSave",
	StackRestore: "stackRestore",
	StackAlloc:   "stackAlloc",
	FreeStr:      "freeStr",
	Decode:       "tryUsingDecoder",
}

// WithDefaults fills empty names from DefaultExports.
func (e Exports) WithDefaults() Exports {
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&e.StackSave, DefaultExports.StackSave)
	fill(&e.StackRestore, DefaultExports.StackRestore)
	fill(&e.StackAlloc, DefaultExports.StackAlloc)
	fill(&e.FreeStr, DefaultExports.FreeStr)
	fill(&e.Decode, DefaultExports.Decode)
	return e
}

// Options selects and configures a decoder backend.
type Options struct {
	WASMPath     string
	ScriptPath   string
	ScriptEngine string // "goja" (default) or "otto"
	Exports      Exports
	InitTimeout  time.Duration
}

// Open builds the backend named by opts. A WASM module takes precedence over a
// script; with neither, NullDecoder is returned. The WASM module starts loading
// immediately.
func Open(opts Options) (Decoder, error) {
	switch {
	case opts.WASMPath != "":
		b := NewWASMBridge(opts.WASMPath, opts.Exports, opts.InitTimeout)
		b.Start()
		return b, nil
	case opts.ScriptPath != "":
		var (
			d   Decoder
			err error
		)
		switch strings.ToLower(opts.ScriptEngine) {
		case "", "goja":
			d, err = LoadScriptDecoder(opts.ScriptPath)
		case "otto":
			d, err = LoadOttoDecoder(opts.ScriptPath)
		default:
			return nil, fmt.Errorf("decode: unknown script engine %q", opts.ScriptEngine)
		}
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return NullDecoder{}, nil
	}
}
