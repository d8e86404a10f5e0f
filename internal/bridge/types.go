package bridge

import (
	"context"
	"sync/atomic"
	"time"

	"llamabridge/internal/engine"
	"llamabridge/internal/gguf"
)

// State is the lifecycle state of the bridge or of a model instance.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitialized   State = "initialized"
	StateClosed        State = "closed"

	StateReady    State = "ready"
	StateDraining State = "draining"
)

// Handle identifies a loaded model. Zero is never a valid handle; where an
// operation accepts a Handle, zero selects the active model.
type Handle int64

// Instance is a resident model.
type Instance struct {
	Handle    Handle
	Path      string
	Meta      *gguf.Metadata
	SizeBytes int64
	State     State
	LoadedAt  time.Time
	LastUsed  time.Time
	EstMB     int

	model engine.Model
	// genCh holds the single in-flight generation slot; queueCh bounds waiters
	// (a queue slot is held for the whole generation).
	genCh   chan struct{}
	queueCh chan struct{}
	// ctx is canceled when the instance is retired.
	ctx     context.Context
	cancel  context.CancelFunc
	retired atomic.Bool
}

// Snapshot is a read-only projection of the bridge state.
type Snapshot struct {
	State  State
	Active Handle
	Loaded int
}

// GenerateRequest carries a prompt plus optional sampling overrides. Zero
// sampling fields fall back to the bridge configuration.
type GenerateRequest struct {
	Prompt        string
	MaxTokens     int
	Temperature   float32
	TopP          float32
	TopK          int
	RepeatPenalty float32
	Seed          int
	Stop          []string
}

// Result is the outcome of a generation.
type Result struct {
	Handle       Handle
	Content      string
	Tokens       int
	FinishReason string
	Duration     time.Duration
}
