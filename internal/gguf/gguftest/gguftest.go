// Package gguftest writes small synthetic GGUF files for tests.
package gguftest

import (
	"os"
	"path/filepath"
	"testing"

	"llamabridge/internal/gguf"
)

// Model describes a fixture. Zero fields get small llama-like defaults.
type Model struct {
	Arch          string
	Name          string
	FileType      uint32
	ContextLength uint32
	Tokens        []string
	// PadBytes appends filler after the header so the file has a realistic size.
	PadBytes int
}

// Write creates dir/name as a GGUF file described by m and returns its path.
func Write(t testing.TB, dir, name string, m Model) string {
	t.Helper()
	if m.Arch == "" {
		m.Arch = "llama"
	}
	if m.ContextLength == 0 {
		m.ContextLength = 2048
	}
	if m.Tokens == nil {
		m.Tokens = []string{"<unk>", "<s>", "</s>", "hello", "world"}
	}
	kvs := []gguf.KV{
		{Key: "general.architecture", Value: m.Arch},
		{Key: "general.file_type", Value: m.FileType},
		{Key: m.Arch + ".context_length", Value: m.ContextLength},
		{Key: m.Arch + ".embedding_length", Value: uint32(64)},
		{Key: m.Arch + ".block_count", Value: uint32(2)},
		{Key: "tokenizer.ggml.tokens", Value: m.Tokens},
		{Key: "tokenizer.ggml.scores", Value: make([]float32, len(m.Tokens))},
	}
	if m.Name != "" {
		kvs = append(kvs, gguf.KV{Key: "general.name", Value: m.Name})
	}
	tensors := []gguf.TensorInfo{
		{Name: "token_embd.weight", Shape: []uint64{64, uint64(len(m.Tokens))}, Type: 0},
		{Name: "output_norm.weight", Shape: []uint64{64}, Type: 0, Offset: uint64(64 * len(m.Tokens) * 4)},
	}

	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("create %s: %v", p, err)
	}
	defer f.Close()
	if err := gguf.Encode(f, kvs, tensors); err != nil {
		t.Fatalf("encode %s: %v", p, err)
	}
	if m.PadBytes > 0 {
		if _, err := f.Write(make([]byte, m.PadBytes)); err != nil {
			t.Fatalf("pad %s: %v", p, err)
		}
	}
	return p
}

// WriteRaw creates dir/name with arbitrary content, for malformed fixtures.
func WriteRaw(t testing.TB, dir, name string, content []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, content, 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}
