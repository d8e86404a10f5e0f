package bridge

import (
	"context"
	"errors"
	"io/fs"
	"math"
	"math/bits"
	"path/filepath"
	"strings"
	"time"

	"llamabridge/internal/common/fsutil"
	"llamabridge/internal/engine"
	"llamabridge/internal/gguf"
)

// Load validates and loads the model at path and makes it the active model.
// Unless KeepSuperseded is set, the previously active model is drained and
// freed once the new one is ready; a failed load leaves it untouched.
func (b *Bridge) Load(ctx context.Context, path string) (Handle, error) {
	start := time.Now()
	h, err := b.load(ctx, path)
	b.metrics.ObserveLoad(err)
	if err != nil {
		b.log.Warn().Err(err).Str("path", path).Str("kind", KindOf(err).String()).Msg("load failed")
		b.publisher.Publish(Event{Name: "load_fail", Fields: map[string]any{"path": path, "kind": KindOf(err).String()}})
		return 0, err
	}
	b.log.Info().Int64("handle", int64(h)).Str("path", path).Dur("dur", time.Since(start)).Msg("model loaded")
	b.publisher.Publish(Event{Name: "load_ready", Handle: h, Fields: map[string]any{"dur_ms": int(time.Since(start) / time.Millisecond)}})
	return h, nil
}

func (b *Bridge) load(ctx context.Context, raw string) (Handle, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, errorf(opLoad, KindInvalidArgument, "model path is empty")
	}
	path, err := fsutil.Resolve(raw)
	if err != nil {
		return 0, newError(opLoad, KindInvalidArgument, err)
	}

	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.mu.RLock()
	err = b.checkInitializedLocked(opLoad)
	b.mu.RUnlock()
	if err != nil {
		return 0, err
	}

	fi, err := fsutil.StatRegular(path)
	if err != nil {
		return 0, errorf(opLoad, KindFileNotFound, "model file not found: %w", err)
	}
	meta, err := gguf.Probe(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return 0, errorf(opLoad, KindFileNotFound, "model file not readable: %w", err)
		}
		return 0, errorf(opLoad, KindMalformedModel, "%s: %w", filepath.Base(path), err)
	}
	reqMB := estimateMB(fi.Size(), meta, b.cfg.ContextSize)
	victims, err := b.planEviction(reqMB)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, newError(opLoad, KindInvalidArgument, err)
	}

	b.publisher.Publish(Event{Name: "load_start", Fields: map[string]any{"path": path, "est_mb": reqMB}})
	model, err := b.engine.Load(path, engine.LoadOptions{
		ContextSize: b.cfg.ContextSize,
		GPULayers:   b.cfg.GPULayers,
		MMap:        b.cfg.MMap,
	})
	if err != nil {
		if errors.Is(err, engine.ErrNotBuilt) {
			return 0, newError(opLoad, KindDependencyUnavailable, err)
		}
		return 0, errorf(opLoad, KindMalformedModel, "engine rejected %s: %w", filepath.Base(path), err)
	}

	now := time.Now()
	b.mu.Lock()
	var evicted []*Instance
	for _, vh := range victims {
		if v := b.detachLocked(vh); v != nil {
			evicted = append(evicted, v)
		}
	}
	b.nextHandle++
	h := b.nextHandle
	instCtx, cancel := context.WithCancel(b.baseCtx)
	inst := &Instance{
		Handle:    h,
		Path:      path,
		Meta:      meta,
		SizeBytes: fi.Size(),
		State:     StateReady,
		LoadedAt:  now,
		LastUsed:  now,
		EstMB:     reqMB,
		model:     model,
		genCh:     make(chan struct{}, 1),
		queueCh:   make(chan struct{}, b.cfg.MaxQueueDepth),
		ctx:       instCtx,
		cancel:    cancel,
	}
	b.instances[h] = inst
	prev := b.active
	b.active = h
	b.usedEstMB += reqMB
	var superseded *Instance
	if prev != 0 && !b.cfg.KeepSuperseded {
		superseded = b.detachLocked(prev)
	}
	loaded := len(b.instances)
	b.mu.Unlock()
	b.metrics.SetModelsLoaded(loaded)

	b.evict(evicted)
	if superseded != nil {
		b.retire(superseded)
		b.publisher.Publish(Event{Name: "superseded", Handle: superseded.Handle, Fields: map[string]any{"by": int64(h)}})
	}
	return h, nil
}

// detachLocked removes h from the table and accounting and marks it draining.
// Callers hold b.mu and must retire the returned instance.
func (b *Bridge) detachLocked(h Handle) *Instance {
	inst := b.instances[h]
	if inst == nil {
		return nil
	}
	inst.State = StateDraining
	delete(b.instances, h)
	b.usedEstMB -= inst.EstMB
	if b.usedEstMB < 0 {
		b.usedEstMB = 0
	}
	if b.active == h {
		b.active = 0
	}
	return inst
}

// maxEstimateMB bounds estimateMB so headers with absurd dimensions saturate
// instead of wrapping around to a small estimate.
const maxEstimateMB = 1 << 30

// estimateMB approximates resident memory for a model: the weights plus an
// f16 KV cache for the configured context.
func estimateMB(sizeBytes int64, meta *gguf.Metadata, ctxSize int) int {
	kv := mulSat(2*2, meta.BlockCount(), meta.EmbeddingLength(), uint64(max(ctxSize, 0)))
	total, carry := bits.Add64(uint64(max(sizeBytes, 0)), kv, 0)
	if carry != 0 {
		return maxEstimateMB
	}
	mb := total>>20 + min(total&(1<<20-1), 1)
	if mb > maxEstimateMB {
		return maxEstimateMB
	}
	return max(int(mb), 1)
}

// mulSat multiplies vs, saturating at math.MaxUint64.
func mulSat(vs ...uint64) uint64 {
	acc := uint64(1)
	for _, v := range vs {
		hi, lo := bits.Mul64(acc, v)
		if hi != 0 {
			return math.MaxUint64
		}
		acc = lo
	}
	return acc
}
