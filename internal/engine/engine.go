// Package engine abstracts the native inference library driven by the bridge.
//
// Build tags:
//
//   - `-tags=llama`: in-process llama.cpp through go-llama.cpp (cgo).
//     Files: llama.go, llama_cgo.go.
//   - default: a no-cgo stub whose Init fails with ErrNotBuilt, so builds and
//     CI stay cgo-free and nothing pretends to generate text.
package engine

import (
	"context"
	"errors"
)

// ErrNotBuilt is returned by every operation of the stub engine.
var ErrNotBuilt = errors.New("llama support not built (missing 'llama' build tag)")

// Engine is the process-level inference backend.
type Engine interface {
	// Name identifies the backend in model info and logs.
	Name() string
	// Init prepares the backend runtime. It is called once per bridge
	// initialization and must tolerate being called again after Shutdown.
	Init() error
	// Load reads a model file and returns a ready model.
	Load(path string, opts LoadOptions) (Model, error)
	// Shutdown releases backend-wide resources. Models are closed before.
	Shutdown()
}

// Model is one loaded set of weights plus its inference context.
// Implementations are not required to support concurrent Generate calls;
// the bridge admits one generation per model at a time.
type Model interface {
	// Generate runs completion for prompt. onToken, when non-nil, receives each
	// token piece as produced; returning an error stops generation. Generate
	// must return promptly once ctx is canceled.
	Generate(ctx context.Context, prompt string, params Params, onToken func(string) error) (Result, error)
	// Close frees the weights and context.
	Close() error
}

// LoadOptions are per-model engine settings.
type LoadOptions struct {
	ContextSize int
	GPULayers   int
	// MMap overrides memory-mapped weight loading; nil keeps the engine default.
	MMap        *bool
}

// Params captures generation parameters. Zero values select engine defaults.
type Params struct {
	MaxTokens     int
	Threads       int
	Temperature   float32
	TopP          float32
	TopK          int
	RepeatPenalty float32
	Seed          int
	Stop          []string
}

// Result summarizes one generation.
type Result struct {
	Content      string
	Tokens       int
	FinishReason string
}

// Finish reasons reported in Result.
const (
	FinishStop   = "stop"
	FinishLength = "length"
)
