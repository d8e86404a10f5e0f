package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"llamabridge/internal/engine"
	"llamabridge/internal/metrics"
)

const (
	opInit     = "initialize"
	opLoad     = "load"
	opGenerate = "generate"
	opInfo     = "info"
	opUnload   = "unload"
)

// Bridge owns the inference backend and the table of loaded models.
// All methods are safe for concurrent use.
type Bridge struct {
	// lifecycle serializes Initialize, Load, Unload and Cleanup so that a
	// supersede never races a teardown.
	lifecycle sync.Mutex

	mu         sync.RWMutex
	state      State
	instances  map[Handle]*Instance
	active     Handle
	nextHandle Handle
	usedEstMB  int
	err        string
	baseCtx    context.Context
	cancelBase context.CancelFunc

	engine    engine.Engine
	cfg       Config
	log       zerolog.Logger
	metrics   *metrics.Metrics
	publisher EventPublisher
	startTime time.Time
}

// Initialize prepares the engine backend. It is idempotent, and it is the
// only operation that revives a bridge after Cleanup.
func (b *Bridge) Initialize(ctx context.Context) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.mu.RLock()
	st := b.state
	b.mu.RUnlock()
	if st == StateInitialized {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return newError(opInit, KindInvalidArgument, err)
	}
	if err := b.engine.Init(); err != nil {
		b.mu.Lock()
		b.err = err.Error()
		b.mu.Unlock()
		b.log.Error().Err(err).Str("engine", b.engine.Name()).Msg("initialize failed")
		b.publisher.Publish(Event{Name: "init_fail", Fields: map[string]any{"error": err.Error()}})
		return newError(opInit, KindDependencyUnavailable, err)
	}

	base, cancel := context.WithCancel(context.Background())
	b.mu.Lock()
	b.state = StateInitialized
	b.err = ""
	b.baseCtx = base
	b.cancelBase = cancel
	b.mu.Unlock()
	b.log.Info().Str("engine", b.engine.Name()).Str("from", string(st)).Msg("initialized")
	b.publisher.Publish(Event{Name: "init", Fields: map[string]any{"engine": b.engine.Name()}})
	return nil
}

// Cleanup drains and frees every model and shuts the engine down. It is safe
// to call repeatedly and before Initialize.
func (b *Bridge) Cleanup() {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.mu.Lock()
	if b.state != StateInitialized {
		b.mu.Unlock()
		return
	}
	b.state = StateClosed
	insts := make([]*Instance, 0, len(b.instances))
	for h, inst := range b.instances {
		inst.State = StateDraining
		insts = append(insts, inst)
		delete(b.instances, h)
	}
	b.active = 0
	b.usedEstMB = 0
	cancel := b.cancelBase
	b.mu.Unlock()
	b.metrics.SetModelsLoaded(0)

	var wg sync.WaitGroup
	for _, inst := range insts {
		wg.Add(1)
		go func(inst *Instance) {
			defer wg.Done()
			b.retire(inst)
		}(inst)
	}
	wg.Wait()
	if cancel != nil {
		cancel()
	}
	b.engine.Shutdown()
	b.log.Info().Int("freed", len(insts)).Msg("cleanup")
	b.publisher.Publish(Event{Name: "cleanup", Fields: map[string]any{"freed": len(insts)}})
}

// Ready reports whether the bridge is initialized and has an active model.
func (b *Bridge) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state == StateInitialized && b.active != 0
}

// Snapshot returns a read-only view of the bridge state.
func (b *Bridge) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Snapshot{State: b.state, Active: b.active, Loaded: len(b.instances)}
}

// ActiveHandle returns the handle of the most recently loaded model, or 0.
func (b *Bridge) ActiveHandle() Handle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

// EngineName returns the backend name.
func (b *Bridge) EngineName() string { return b.engine.Name() }

// checkInitializedLocked returns a KindNotInitialized error before the first
// Initialize and a KindClosed error after Cleanup. Callers hold b.mu.
func (b *Bridge) checkInitializedLocked(op string) error {
	switch b.state {
	case StateInitialized:
		return nil
	case StateClosed:
		return errorf(op, KindClosed, "bridge was cleaned up; call initialize again")
	default:
		return errorf(op, KindNotInitialized, "bridge not initialized")
	}
}

// lookup resolves h (0 = active) to a ready instance.
func (b *Bridge) lookup(op string, h Handle) (*Instance, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkInitializedLocked(op); err != nil {
		return nil, err
	}
	if h == 0 {
		if b.active == 0 {
			return nil, errorf(op, KindNoModel, "no model loaded")
		}
		h = b.active
	}
	inst := b.instances[h]
	if inst == nil || inst.State != StateReady {
		return nil, errorf(op, KindInvalidHandle, "unknown or released handle %d", h)
	}
	return inst, nil
}

// retire drains inst and frees its engine model. The instance must already
// be removed from the table.
func (b *Bridge) retire(inst *Instance) {
	start := time.Now()
	deadline := start.Add(b.cfg.DrainTimeout)
	for len(inst.queueCh) > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := len(inst.queueCh); n > 0 {
		b.log.Warn().Int64("handle", int64(inst.Handle)).Int("queued", n).Msg("drain timeout, canceling generations")
		b.publisher.Publish(Event{Name: "drain_timeout", Handle: inst.Handle, Fields: map[string]any{"queue": n}})
	}
	inst.cancel()
	// Taking the in-flight slot waits out a running generation; anyone who
	// acquires it afterwards observes retired and backs off.
	inst.genCh <- struct{}{}
	inst.retired.Store(true)
	<-inst.genCh

	if err := inst.model.Close(); err != nil {
		b.log.Warn().Err(err).Int64("handle", int64(inst.Handle)).Msg("model close failed")
	}
	b.log.Debug().Int64("handle", int64(inst.Handle)).Dur("drain", time.Since(start)).Msg("model freed")
}
