package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"unsafe"

	"github.com/rs/zerolog"

	"llamabridge/pkg/types"
)

// FFI adapts a Bridge to the sentinel conventions of the C surface: 1/0 for
// success, nonzero/0 for handles, buffer/nil for strings. The Kind of the
// most recent failure is kept for last_error_code_ios. Panics are recovered
// and reported as failures so nothing unwinds into the caller's runtime.
type FFI struct {
	bridge  *Bridge
	buffers *Ledger
	log     zerolog.Logger

	mu      sync.Mutex
	lastErr error
}

func NewFFI(b *Bridge, buffers *Ledger, log zerolog.Logger) *FFI {
	return &FFI{bridge: b, buffers: buffers, log: log.With().Str("component", "ffi").Logger()}
}

func (f *FFI) record(err error) {
	f.mu.Lock()
	f.lastErr = err
	f.mu.Unlock()
}

// guard converts a panic in op into a recorded failure.
func (f *FFI) guard(op string) {
	if r := recover(); r != nil {
		err := errorf(op, KindGenerationFailed, "panic: %v", r)
		f.log.Error().Interface("panic", r).Str("op", op).Msg("recovered at boundary")
		f.record(err)
	}
}

// Initialize returns 1 once the backend is ready, 0 otherwise.
func (f *FFI) Initialize() (ok int64) {
	defer f.guard(opInit)
	err := f.bridge.Initialize(context.Background())
	f.record(err)
	if err != nil {
		return 0
	}
	return 1
}

// LoadModel returns the new handle or 0.
func (f *FFI) LoadModel(path string) (h int64) {
	defer f.guard(opLoad)
	handle, err := f.bridge.Load(context.Background(), path)
	f.record(err)
	if err != nil {
		return 0
	}
	return int64(handle)
}

// UnloadModel returns 1 when handle was freed, 0 otherwise.
func (f *FFI) UnloadModel(handle int64) (ok int64) {
	defer f.guard(opUnload)
	if handle == 0 {
		err := errorf(opUnload, KindInvalidHandle, "handle 0")
		f.record(err)
		return 0
	}
	err := f.bridge.Unload(Handle(handle))
	f.record(err)
	if err != nil {
		return 0
	}
	return 1
}

// GenerateText runs the active model and returns a caller-owned buffer, or
// nil on failure. maxTokens <= 0 returns an empty, still caller-owned, buffer.
func (f *FFI) GenerateText(prompt string, maxTokens int) unsafe.Pointer {
	return f.GenerateWithModel(0, prompt, maxTokens)
}

// GenerateWithModel is GenerateText on an explicit handle.
func (f *FFI) GenerateWithModel(handle int64, prompt string, maxTokens int) (p unsafe.Pointer) {
	defer f.guard(opGenerate)
	res, err := f.bridge.GenerateWith(context.Background(), Handle(handle), GenerateRequest{Prompt: prompt, MaxTokens: maxTokens}, nil)
	f.record(err)
	if err != nil {
		return nil
	}
	return f.buffers.Put(res.Content)
}

// ModelInfo returns the active model's info as a caller-owned JSON buffer.
func (f *FFI) ModelInfo() unsafe.Pointer { return f.ModelInfoFor(0) }

// ModelInfoFor returns info for handle as a caller-owned JSON buffer, or nil.
func (f *FFI) ModelInfoFor(handle int64) (p unsafe.Pointer) {
	defer f.guard(opInfo)
	info, err := f.bridge.Info(Handle(handle))
	if err != nil {
		f.record(err)
		return nil
	}
	b, err := json.Marshal(info)
	if err != nil {
		f.record(newError(opInfo, KindGenerationFailed, err))
		return nil
	}
	f.record(nil)
	return f.buffers.Put(string(b))
}

// Cleanup tears the bridge down. Outstanding buffers stay valid; they belong
// to the caller.
func (f *FFI) Cleanup() {
	defer f.guard("cleanup")
	f.bridge.Cleanup()
	if n := f.buffers.Outstanding(); n > 0 {
		f.log.Debug().Int("outstanding", n).Msg("buffers still owned by caller at cleanup")
	}
}

// FreeString releases a buffer returned by this FFI. Foreign pointers and
// double frees are ignored and logged.
func (f *FFI) FreeString(p unsafe.Pointer) {
	defer f.guard("free_string")
	if p == nil {
		return
	}
	if !f.buffers.Release(p) {
		f.log.Warn().Str("ptr", fmt.Sprintf("%p", p)).Msg("free of unknown or already freed buffer ignored")
	}
}

// LastErrorCode returns the Kind of the most recent failed call, 0 when the
// most recent call succeeded.
func (f *FFI) LastErrorCode() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int(KindOf(f.lastErr))
}

// LastError returns the most recent failure as a caller-owned JSON buffer,
// or nil when the most recent call succeeded.
func (f *FFI) LastError() unsafe.Pointer {
	f.mu.Lock()
	err := f.lastErr
	f.mu.Unlock()
	if err == nil {
		return nil
	}
	k := KindOf(err)
	b, _ := json.Marshal(types.BridgeError{Kind: k.String(), Code: int(k), Message: err.Error()})
	return f.buffers.Put(string(b))
}
