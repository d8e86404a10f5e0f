//go:build llama

package engine

import (
	"testing"

	llama "github.com/go-skynet/go-llama.cpp"
)

func applyModelOptions(opts LoadOptions) llama.ModelOptions {
	mo := llama.DefaultModelOptions
	for _, o := range modelOptions(opts) {
		o(&mo)
	}
	return mo
}

func TestModelOptionsKeepMMapDefault(t *testing.T) {
	if got := applyModelOptions(LoadOptions{}); got.MMap != llama.DefaultModelOptions.MMap {
		t.Fatalf("zero options changed mmap to %v", got.MMap)
	}
	off := false
	if got := applyModelOptions(LoadOptions{MMap: &off}); got.MMap {
		t.Fatalf("explicit mmap=false ignored")
	}
	if got := applyModelOptions(LoadOptions{ContextSize: 4096, GPULayers: 8}); got.ContextSize != 4096 || got.NGPULayers != 8 {
		t.Fatalf("options not applied: %+v", got)
	}
}
