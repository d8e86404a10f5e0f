package bridge

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"llamabridge/internal/engine"
	"llamabridge/internal/gguf"
	"llamabridge/internal/gguf/gguftest"
)

func TestLoadReturnsNonzeroHandle(t *testing.T) {
	dir := t.TempDir()
	p := writeModel(t, dir, "tiny.gguf")
	eng := newFakeEngine()
	b, _ := newTestBridge(t, eng, nil)
	initialized(t, b)

	h, err := b.Load(testCtx(t), p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if h == 0 {
		t.Fatalf("expected nonzero handle")
	}
	if !b.Ready() || b.ActiveHandle() != h {
		t.Fatalf("loaded model not active: %+v", b.Snapshot())
	}
	if got := eng.loads; len(got) != 1 || got[0] != p {
		t.Fatalf("engine loads: %v", got)
	}
}

func TestLoadFailuresKeepBridgeInitialized(t *testing.T) {
	dir := t.TempDir()
	good := writeModel(t, dir, "good.gguf")
	junk := gguftest.WriteRaw(t, dir, "junk.gguf", []byte("definitely not a model file"))

	cases := []struct {
		name string
		path string
		kind Kind
	}{
		{"empty", "   ", KindInvalidArgument},
		{"missing", dir + "/nope.gguf", KindFileNotFound},
		{"directory", dir, KindFileNotFound},
		{"malformed", junk, KindMalformedModel},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng := newFakeEngine()
			b, _ := newTestBridge(t, eng, nil)
			initialized(t, b)
			h0, err := b.Load(testCtx(t), good)
			if err != nil {
				t.Fatalf("load good: %v", err)
			}

			h, err := b.Load(testCtx(t), tc.path)
			if h != 0 {
				t.Fatalf("expected handle 0, got %d", h)
			}
			wantKind(t, err, tc.kind)
			if b.Snapshot().State != StateInitialized {
				t.Fatalf("failed load changed bridge state")
			}
			if b.ActiveHandle() != h0 || eng.model(0).closed.Load() {
				t.Fatalf("failed load disturbed the previous model")
			}
			if eng.loadCount() != 1 {
				t.Fatalf("engine invoked for a rejected file")
			}
		})
	}
}

func TestLoadEngineErrors(t *testing.T) {
	dir := t.TempDir()
	p := writeModel(t, dir, "m.gguf")
	for _, tc := range []struct {
		err  error
		kind Kind
	}{
		{errors.New("bad tensor layout"), KindMalformedModel},
		{fmt.Errorf("wrap: %w", engine.ErrNotBuilt), KindDependencyUnavailable},
	} {
		eng := newFakeEngine()
		eng.loadErr = tc.err
		b, pub := newTestBridge(t, eng, nil)
		initialized(t, b)
		_, err := b.Load(testCtx(t), p)
		wantKind(t, err, tc.kind)
		if !errors.Is(err, tc.err) {
			t.Fatalf("cause lost: %v", err)
		}
		names := pub.Names()
		if names[len(names)-1] != "load_fail" {
			t.Fatalf("expected load_fail event, got %v", names)
		}
	}
}

func TestLoadSupersedesPreviousModel(t *testing.T) {
	dir := t.TempDir()
	first := writeModel(t, dir, "first.gguf")
	second := writeModel(t, dir, "second.gguf")
	eng := newFakeEngine()
	b, pub := newTestBridge(t, eng, nil)
	initialized(t, b)

	h1, err := b.Load(testCtx(t), first)
	if err != nil {
		t.Fatalf("load first: %v", err)
	}
	h2, err := b.Load(testCtx(t), second)
	if err != nil {
		t.Fatalf("load second: %v", err)
	}
	if h1 == h2 {
		t.Fatalf("handles must differ")
	}
	if !eng.model(0).closed.Load() {
		t.Fatalf("superseded model not freed")
	}
	if eng.model(1).closed.Load() {
		t.Fatalf("new model freed")
	}
	if s := b.Snapshot(); s.Loaded != 1 || s.Active != h2 {
		t.Fatalf("snapshot: %+v", s)
	}
	info, err := b.Info(0)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Name != "second" || info.Handle != int64(h2) {
		t.Fatalf("info reflects wrong model: %+v", info)
	}
	if _, err := b.Info(h1); !IsInvalidHandle(err) {
		t.Fatalf("superseded handle still resolves: %v", err)
	}
	found := false
	for _, e := range pub.Events() {
		if e.Name == "superseded" && e.Handle == h1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("no superseded event: %v", pub.Names())
	}
}

func TestLoadOutOfMemory(t *testing.T) {
	dir := t.TempDir()
	p := gguftest.Write(t, dir, "big.gguf", gguftest.Model{PadBytes: 3 << 20})
	eng := newFakeEngine()
	b, _ := newTestBridge(t, eng, func(c *Config) { c.BudgetMB = 3 })
	initialized(t, b)

	_, err := b.Load(testCtx(t), p)
	wantKind(t, err, KindOutOfMemory)
	if eng.loadCount() != 0 {
		t.Fatalf("engine invoked although the budget was exceeded")
	}
}

func TestLoadReplacesActiveWithinBudget(t *testing.T) {
	dir := t.TempDir()
	a := gguftest.Write(t, dir, "a.gguf", gguftest.Model{PadBytes: 3 << 20})
	c := gguftest.Write(t, dir, "c.gguf", gguftest.Model{PadBytes: 3 << 20})
	eng := newFakeEngine()
	b, _ := newTestBridge(t, eng, func(c *Config) { c.BudgetMB = 6 })
	initialized(t, b)

	if _, err := b.Load(testCtx(t), a); err != nil {
		t.Fatalf("load a: %v", err)
	}
	// The active model is about to be superseded, so it does not count.
	if _, err := b.Load(testCtx(t), c); err != nil {
		t.Fatalf("load c: %v", err)
	}
}

func TestKeepSupersededEvictsLeastRecentlyUsed(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, n := range []string{"a.gguf", "b.gguf", "c.gguf"} {
		paths = append(paths, gguftest.Write(t, dir, n, gguftest.Model{PadBytes: 3 << 20}))
	}
	eng := newFakeEngine()
	b, pub := newTestBridge(t, eng, func(c *Config) {
		c.KeepSuperseded = true
		c.BudgetMB = 10
	})
	initialized(t, b)

	var hs []Handle
	for _, p := range paths {
		h, err := b.Load(testCtx(t), p)
		if err != nil {
			t.Fatalf("load %s: %v", p, err)
		}
		hs = append(hs, h)
	}
	if !eng.model(0).closed.Load() {
		t.Fatalf("oldest model not evicted")
	}
	if eng.model(1).closed.Load() || eng.model(2).closed.Load() {
		t.Fatalf("recent models evicted")
	}
	if _, err := b.Info(hs[0]); !IsInvalidHandle(err) {
		t.Fatalf("evicted handle resolves: %v", err)
	}
	if _, err := b.Info(hs[1]); err != nil {
		t.Fatalf("kept handle: %v", err)
	}
	evicted := false
	for _, e := range pub.Events() {
		if e.Name == "evict" && e.Handle == hs[0] {
			evicted = true
		}
	}
	if !evicted {
		t.Fatalf("no evict event: %v", pub.Names())
	}
}

func TestEstimateMB(t *testing.T) {
	dir := t.TempDir()
	p := gguftest.Write(t, dir, "m.gguf", gguftest.Model{PadBytes: 3 << 20})
	b, _ := newTestBridge(t, newFakeEngine(), nil)
	initialized(t, b)
	h, err := b.Load(testCtx(t), p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	info, _ := b.Info(h)
	// 3MB of padding, a small header and a 1MB f16 KV cache for 2 blocks x 64 x 2048.
	if info.EstMemoryMB != 5 {
		t.Fatalf("estimate: got %dMB want 5MB", info.EstMemoryMB)
	}
}

func TestFailedLoadUnderBudgetKeepsResidentModels(t *testing.T) {
	dir := t.TempDir()
	a := gguftest.Write(t, dir, "a.gguf", gguftest.Model{PadBytes: 3 << 20})
	c := gguftest.Write(t, dir, "c.gguf", gguftest.Model{PadBytes: 3 << 20})
	eng := newFakeEngine()
	b, pub := newTestBridge(t, eng, func(c *Config) {
		c.KeepSuperseded = true
		c.BudgetMB = 6
	})
	initialized(t, b)

	ha, err := b.Load(testCtx(t), a)
	if err != nil {
		t.Fatalf("load a: %v", err)
	}
	eng.mu.Lock()
	eng.loadErr = errors.New("bad tensor data")
	eng.mu.Unlock()
	if _, err := b.Load(testCtx(t), c); !IsMalformedModel(err) {
		t.Fatalf("expected malformed model, got %v", err)
	}
	if b.ActiveHandle() != ha || eng.model(0).closed.Load() {
		t.Fatalf("failed load freed the active model: %+v", b.Snapshot())
	}
	if _, err := b.Info(0); err != nil {
		t.Fatalf("info after failed load: %v", err)
	}
	for _, e := range pub.Events() {
		if e.Name == "evict" {
			t.Fatalf("evicted before the replacement loaded: %v", pub.Names())
		}
	}

	// The same load succeeds once the engine accepts it, evicting a only then.
	eng.mu.Lock()
	eng.loadErr = nil
	eng.mu.Unlock()
	hc, err := b.Load(testCtx(t), c)
	if err != nil {
		t.Fatalf("load c: %v", err)
	}
	if !eng.model(0).closed.Load() || b.ActiveHandle() != hc {
		t.Fatalf("a not evicted after c loaded: %+v", b.Snapshot())
	}
	if _, err := b.Info(ha); !IsInvalidHandle(err) {
		t.Fatalf("evicted handle resolves: %v", err)
	}
}

func TestLoadLeavesMMapToEngineByDefault(t *testing.T) {
	dir := t.TempDir()
	p := writeModel(t, dir, "m.gguf")
	off := false
	for _, tc := range []struct {
		name string
		mmap *bool
	}{
		{"unset", nil},
		{"disabled", &off},
	} {
		t.Run(tc.name, func(t *testing.T) {
			eng := newFakeEngine()
			b, _ := newTestBridge(t, eng, func(c *Config) { c.MMap = tc.mmap })
			initialized(t, b)
			if _, err := b.Load(testCtx(t), p); err != nil {
				t.Fatalf("load: %v", err)
			}
			got := eng.opts[0].MMap
			if (got == nil) != (tc.mmap == nil) || (got != nil && *got != *tc.mmap) {
				t.Fatalf("mmap option: got %v want %v", got, tc.mmap)
			}
		})
	}
}

func TestEstimateMBSaturates(t *testing.T) {
	meta := &gguf.Metadata{KV: map[string]any{
		"general.architecture":   "llama",
		"llama.block_count":      uint64(1) << 62,
		"llama.embedding_length": uint64(1) << 40,
	}}
	if got := estimateMB(1<<20, meta, 4096); got != maxEstimateMB {
		t.Fatalf("estimate for an absurd header: got %d want %d", got, maxEstimateMB)
	}
	if got := estimateMB(math.MaxInt64, &gguf.Metadata{KV: map[string]any{}}, 2048); got != maxEstimateMB {
		t.Fatalf("estimate for an absurd size: got %d", got)
	}
}

func TestLoadRejectsAbsurdHeaderUnderBudget(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "huge.gguf")
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	kvs := []gguf.KV{
		{Key: "general.architecture", Value: "llama"},
		{Key: "llama.block_count", Value: uint64(1) << 62},
		{Key: "llama.embedding_length", Value: uint64(1) << 40},
	}
	if err := gguf.Encode(f, kvs, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	f.Close()

	eng := newFakeEngine()
	b, _ := newTestBridge(t, eng, func(c *Config) { c.BudgetMB = 4096 })
	initialized(t, b)
	_, err = b.Load(testCtx(t), p)
	wantKind(t, err, KindOutOfMemory)
	if eng.loadCount() != 0 {
		t.Fatalf("engine invoked for a model over budget")
	}
}
