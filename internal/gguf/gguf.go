// Package gguf reads the header of GGUF model containers.
//
// Only the metadata section and the tensor directory are decoded; tensor data
// is never touched. The bridge uses this to reject files the inference engine
// would choke on and to describe a loaded model without asking the engine.
package gguf

import (
	"errors"
	"fmt"
)

// Magic is the four byte container signature ("GGUF", little endian 0x46554747).
const Magic = "GGUF"

// Value type tags as stored in the container.
const (
	typeUint8 uint32 = iota
	typeInt8
	typeUint16
	typeInt16
	typeUint32
	typeInt32
	typeFloat32
	typeBool
	typeString
	typeArray
	typeUint64
	typeInt64
	typeFloat64
)

// Upper bounds applied while decoding. Real models stay far below these; a
// header claiming more is treated as malformed rather than allocated.
const (
	maxStringLen  = 16 << 20
	maxArrayLen   = 1 << 26
	maxKeyValues  = 1 << 20
	maxTensors    = 1 << 20
	maxTensorDims = 8
)

var (
	// ErrNotGGUF is returned when the file does not start with the GGUF magic.
	ErrNotGGUF = errors.New("not a gguf file")
	// ErrUnsupportedVersion is returned for container versions other than 2 and 3.
	ErrUnsupportedVersion = errors.New("unsupported gguf version")
	// ErrMalformed is returned for truncated or inconsistent headers.
	ErrMalformed = errors.New("malformed gguf header")
)

// ArrayValue records the element type and length of an array key. Array
// contents (token lists, merges) are skipped.
type ArrayValue struct {
	Type uint32
	Len  uint64
}

// TensorInfo is one entry of the tensor directory.
type TensorInfo struct {
	Name   string
	Shape  []uint64
	Type   uint32
	Offset uint64
}

// Elements returns the number of scalar elements in the tensor.
func (t TensorInfo) Elements() uint64 {
	if len(t.Shape) == 0 {
		return 0
	}
	n := uint64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Metadata is the decoded header of a model container.
type Metadata struct {
	Version     uint32
	TensorCount uint64
	KVCount     uint64

	// KV holds scalar values keyed by their full name, and ArrayValue for arrays.
	KV map[string]any

	Tensors []TensorInfo
}

// String returns the string value for key, or "".
func (m *Metadata) String(key string) string {
	s, _ := m.KV[key].(string)
	return s
}

// Uint returns an unsigned integer value for key, converting any integer type.
func (m *Metadata) Uint(key string) uint64 {
	switch v := m.KV[key].(type) {
	case uint8:
		return uint64(v)
	case uint16:
		return uint64(v)
	case uint32:
		return uint64(v)
	case uint64:
		return v
	case int8:
		return uint64(max(v, 0))
	case int16:
		return uint64(max(v, 0))
	case int32:
		return uint64(max(v, 0))
	case int64:
		return uint64(max(v, 0))
	}
	return 0
}

// Architecture returns general.architecture, e.g. "llama".
func (m *Metadata) Architecture() string { return m.String("general.architecture") }

// Name returns general.name.
func (m *Metadata) Name() string { return m.String("general.name") }

// FileType returns the quantization of the bulk of the weights.
func (m *Metadata) FileType() FileType {
	if _, ok := m.KV["general.file_type"]; !ok {
		return FileTypeUnknown
	}
	return FileType(m.Uint("general.file_type"))
}

// ArchUint returns an architecture scoped integer, e.g. ArchUint("context_length")
// reads "llama.context_length" for llama models.
func (m *Metadata) ArchUint(key string) uint64 {
	return m.Uint(m.Architecture() + "." + key)
}

// ContextLength is the training context window of the model.
func (m *Metadata) ContextLength() uint64 { return m.ArchUint("context_length") }

// EmbeddingLength is the hidden size of the model.
func (m *Metadata) EmbeddingLength() uint64 { return m.ArchUint("embedding_length") }

// BlockCount is the number of transformer blocks.
func (m *Metadata) BlockCount() uint64 { return m.ArchUint("block_count") }

// VocabSize is the number of tokenizer tokens, when the vocabulary is embedded.
func (m *Metadata) VocabSize() uint64 {
	if a, ok := m.KV["tokenizer.ggml.tokens"].(ArrayValue); ok {
		return a.Len
	}
	return 0
}

// ParameterCount returns the total number of weights. It prefers the sum over
// the tensor directory and falls back to general.parameter_count.
func (m *Metadata) ParameterCount() uint64 {
	var n uint64
	for _, t := range m.Tensors {
		n += t.Elements()
	}
	if n == 0 {
		n = m.Uint("general.parameter_count")
	}
	return n
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}
