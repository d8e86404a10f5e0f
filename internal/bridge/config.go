package bridge

import (
	"time"

	"github.com/rs/zerolog"

	"llamabridge/internal/engine"
	"llamabridge/internal/metrics"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultContextSize   = 2048
	defaultMaxQueueDepth = 8
	defaultMaxWait       = 2 * time.Minute
	defaultDrainTimeout  = 5 * time.Second
)

// Config encapsulates all tunables for Bridge construction.
type Config struct {
	// Engine is the inference backend. Required.
	Engine engine.Engine

	// Model load options.
	ContextSize int
	GPULayers   int
	// MMap is nil unless the engine's mmap default is overridden.
	MMap        *bool

	// Default sampling, overridable per request.
	Threads       int
	Temperature   float32
	TopP          float32
	TopK          int
	RepeatPenalty float32
	Seed          int
	Stop          []string
	// MaxTokensCap clamps max_tokens when > 0.
	MaxTokensCap int

	// Memory budgeting in MB; 0 disables the budget.
	BudgetMB int
	MarginMB int
	// KeepSuperseded leaves older models resident after a new load instead of
	// freeing them; they are then evicted LRU under the budget.
	KeepSuperseded bool

	// Admission and teardown.
	MaxQueueDepth int
	MaxWait       time.Duration
	DrainTimeout  time.Duration

	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
	Publisher EventPublisher
}

// NewWithConfig constructs an uninitialized Bridge from cfg.
func NewWithConfig(cfg Config) *Bridge {
	b := &Bridge{
		state:     StateUninitialized,
		engine:    cfg.Engine,
		instances: make(map[Handle]*Instance),
		cfg:       cfg,
		log:       cfg.Logger.With().Str("component", "bridge").Logger(),
		metrics:   cfg.Metrics,
		publisher: cfg.Publisher,
		startTime: time.Now(),
	}
	if b.cfg.ContextSize <= 0 {
		b.cfg.ContextSize = defaultContextSize
	}
	if b.cfg.MaxQueueDepth <= 0 {
		b.cfg.MaxQueueDepth = defaultMaxQueueDepth
	}
	if b.cfg.MaxWait <= 0 {
		b.cfg.MaxWait = defaultMaxWait
	}
	if b.cfg.DrainTimeout <= 0 {
		b.cfg.DrainTimeout = defaultDrainTimeout
	}
	if b.publisher == nil {
		b.publisher = noopPublisher{}
	}
	if b.engine == nil {
		b.engine = engine.New()
	}
	return b
}

// New constructs a Bridge over eng with default settings.
func New(eng engine.Engine, log zerolog.Logger) *Bridge {
	return NewWithConfig(Config{Engine: eng, Logger: log})
}
