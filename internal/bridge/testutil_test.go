package bridge

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/rs/zerolog"

	"llamabridge/internal/engine"
	"llamabridge/internal/gguf/gguftest"
)

// fakeEngine is an in-memory engine. Models panic if used after Close so
// tests catch frees that race a generation.
type fakeEngine struct {
	mu        sync.Mutex
	initErr   error
	loadErr   error
	loadPanic bool
	genErr    error
	tokens    []string
	// block, when set, makes Generate wait until it is closed or ctx ends.
	block     chan struct{}
	inits     int
	shutdowns int
	loads     []string
	opts      []engine.LoadOptions
	models    []*fakeModel
	params    []engine.Params

	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{tokens: []string{"hello", " ", "world"}}
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inits++
	return e.initErr
}

func (e *fakeEngine) Load(path string, opts engine.LoadOptions) (engine.Model, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loadPanic {
		panic("engine exploded")
	}
	e.loads = append(e.loads, path)
	e.opts = append(e.opts, opts)
	if e.loadErr != nil {
		return nil, e.loadErr
	}
	m := &fakeModel{e: e, path: path}
	e.models = append(e.models, m)
	return m, nil
}

func (e *fakeEngine) Shutdown() {
	e.mu.Lock()
	e.shutdowns++
	e.mu.Unlock()
}

func (e *fakeEngine) loadCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.loads)
}

func (e *fakeEngine) model(i int) *fakeModel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.models[i]
}

func (e *fakeEngine) lastParams() engine.Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params[len(e.params)-1]
}

type fakeModel struct {
	e      *fakeEngine
	path   string
	closed atomic.Bool
	calls  atomic.Int32
}

func (m *fakeModel) Generate(ctx context.Context, prompt string, p engine.Params, onToken func(string) error) (engine.Result, error) {
	if m.closed.Load() {
		panic("generate on closed model " + m.path)
	}
	m.calls.Add(1)
	n := m.e.active.Add(1)
	defer m.e.active.Add(-1)
	for {
		cur := m.e.maxActive.Load()
		if n <= cur || m.e.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}

	m.e.mu.Lock()
	m.e.params = append(m.e.params, p)
	tokens, genErr, block := m.e.tokens, m.e.genErr, m.e.block
	m.e.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return engine.Result{}, ctx.Err()
		}
	}
	if genErr != nil {
		return engine.Result{}, genErr
	}
	var b strings.Builder
	n2 := 0
	for _, t := range tokens {
		if n2 >= p.MaxTokens {
			break
		}
		if onToken != nil {
			if err := onToken(t); err != nil {
				return engine.Result{}, err
			}
		}
		b.WriteString(t)
		n2++
	}
	reason := engine.FinishStop
	if n2 >= p.MaxTokens {
		reason = engine.FinishLength
	}
	return engine.Result{Content: b.String(), Tokens: n2, FinishReason: reason}, nil
}

func (m *fakeModel) Close() error {
	if m.closed.Swap(true) {
		return errors.New("double close")
	}
	return nil
}

// heapAllocator hands out Go-heap NUL-terminated buffers and panics on a
// double free, standing in for C.CString/C.free.
type heapAllocator struct {
	mu    sync.Mutex
	bufs  map[unsafe.Pointer][]byte
	frees int
}

func newHeapAllocator() *heapAllocator {
	return &heapAllocator{bufs: make(map[unsafe.Pointer][]byte)}
}

func (a *heapAllocator) CString(s string) unsafe.Pointer {
	b := append([]byte(s), 0)
	p := unsafe.Pointer(&b[0])
	a.mu.Lock()
	a.bufs[p] = b
	a.mu.Unlock()
	return p
}

func (a *heapAllocator) Free(p unsafe.Pointer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.bufs[p]; !ok {
		panic("free of unknown pointer")
	}
	delete(a.bufs, p)
	a.frees++
}

// String reads a live buffer back.
func (a *heapAllocator) String(t *testing.T, p unsafe.Pointer) string {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.bufs[p]
	if !ok {
		t.Fatalf("pointer %p is not a live buffer", p)
	}
	return string(b[:len(b)-1])
}

func newTestBridge(t *testing.T, eng *fakeEngine, mutate func(*Config)) (*Bridge, *MemoryPublisher) {
	t.Helper()
	pub := NewMemoryPublisher()
	cfg := Config{
		Engine:       eng,
		ContextSize:  2048,
		MaxWait:      2 * time.Second,
		DrainTimeout: 200 * time.Millisecond,
		Logger:       zerolog.Nop(),
		Publisher:    pub,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	b := NewWithConfig(cfg)
	t.Cleanup(b.Cleanup)
	return b, pub
}

func initialized(t *testing.T, b *Bridge) *Bridge {
	t.Helper()
	if err := b.Initialize(testCtx(t)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return b
}

func writeModel(t *testing.T, dir, name string) string {
	t.Helper()
	return gguftest.Write(t, dir, name, gguftest.Model{Name: strings.TrimSuffix(name, filepath.Ext(name))})
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

func wantKind(t *testing.T, err error, k Kind) {
	t.Helper()
	if got := KindOf(err); got != k {
		t.Fatalf("expected kind %s, got %s (err=%v)", k, got, err)
	}
}
