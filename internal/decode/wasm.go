package decode

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the lifecycle of a WASMBridge.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "uninitialized"
	}
}

// DefaultInitTimeout bounds how long the module may take to load.
const DefaultInitTimeout = 10 * time.Second

type loader func(ctx context.Context) (instance, error)

// WASMBridge runs the decoder module. The module is loaded exactly once; callers
// arriving meanwhile wait for that load. A load that errors or outlives the init
// timeout leaves the bridge Failed for good. Calls into the module are
// serialized because they share its stack.
type WASMBridge struct {
	load        loader
	exports     Exports
	initTimeout time.Duration

	mu      sync.Mutex
	state   State
	ready   chan struct{}
	inst    instance
	initErr error

	callMu sync.Mutex
}

func newBridge(load loader, ex Exports, initTimeout time.Duration) *WASMBridge {
	if initTimeout <= 0 {
		initTimeout = DefaultInitTimeout
	}
	return &WASMBridge{
		load:        load,
		exports:     ex.WithDefaults(),
		initTimeout: initTimeout,
		ready:       make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (b *WASMBridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Start begins loading the module in the background if it has not started yet.
func (b *WASMBridge) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateUninitialized {
		return
	}
	b.state = StateInitializing
	go b.initialize()
}

type loadResult struct {
	inst instance
	err  error
}

func (b *WASMBridge) initialize() {
	started := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), b.initTimeout)
	defer cancel()

	done := make(chan loadResult, 1)
	go func() {
		inst, err := b.load(ctx)
		done <- loadResult{inst, err}
	}()

	var inst instance
	var err error
	select {
	case res := <-done:
		inst, err = res.inst, res.err
	case <-ctx.Done():
		err = fmt.Errorf("%w after %s", ErrInitTimeout, b.initTimeout)
		go discardLate(done)
	}

	b.mu.Lock()
	if err != nil {
		b.state = StateFailed
		b.initErr = err
	} else {
		b.state = StateReady
		b.inst = inst
	}
	close(b.ready)
	b.mu.Unlock()

	if err != nil {
		slog.Error("decoder module failed to load", "error", err)
		return
	}
	slog.Info("decoder module initialized", "elapsed", time.Since(started).String())
}

// discardLate closes a module whose load finished after the bridge gave up on it.
func discardLate(done <-chan loadResult) {
	res := <-done
	if res.inst == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := res.inst.Close(ctx); err != nil {
		slog.Warn("late decoder module close failed", "error", err)
	}
}

// Init starts the load if needed and waits for it or ctx. The load itself ends
// within the init timeout.
func (b *WASMBridge) Init(ctx context.Context) error {
	b.Start()

	select {
	case <-b.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initErr != nil {
		return fmt.Errorf("decode: module unavailable: %w", b.initErr)
	}
	return nil
}

// Decode passes value to the module's decode export.
func (b *WASMBridge) Decode(ctx context.Context, value string) (string, error) {
	if err := b.Init(ctx); err != nil {
		return "", err
	}
	b.callMu.Lock()
	defer b.callMu.Unlock()

	b.mu.Lock()
	inst := b.inst
	b.mu.Unlock()
	if inst == nil {
		return "", ErrClosed
	}
	return callString(ctx, inst, b.exports, b.exports.Decode, value)
}

// Close releases the module once it has loaded. An in-flight load is waited for.
func (b *WASMBridge) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.state == StateUninitialized {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	select {
	case <-b.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	b.callMu.Lock()
	defer b.callMu.Unlock()
	b.mu.Lock()
	inst := b.inst
	b.inst = nil
	b.mu.Unlock()
	if inst == nil {
		return nil
	}
	return inst.Close(ctx)
}
