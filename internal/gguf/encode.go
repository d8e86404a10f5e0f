package gguf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// KV is an ordered key/value pair for Encode.
type KV struct {
	Key   string
	Value any
}

// Encode writes a GGUF version 3 header with the given metadata and tensor
// directory. No tensor data is written, which is enough for Read and for
// fixtures that exercise header validation.
func Encode(w io.Writer, kvs []KV, tensors []TensorInfo) error {
	bw := bufio.NewWriter(w)
	e := &encoder{w: bw}
	e.raw([]byte(Magic))
	e.put(uint32(3))
	e.put(uint64(len(tensors)))
	e.put(uint64(len(kvs)))
	for _, kv := range kvs {
		e.str(kv.Key)
		e.value(kv.Value)
	}
	for _, t := range tensors {
		e.str(t.Name)
		e.put(uint32(len(t.Shape)))
		for _, d := range t.Shape {
			e.put(d)
		}
		e.put(t.Type)
		e.put(t.Offset)
	}
	if e.err != nil {
		return e.err
	}
	return bw.Flush()
}

type encoder struct {
	w   io.Writer
	err error
}

func (e *encoder) raw(b []byte) {
	if e.err == nil {
		_, e.err = e.w.Write(b)
	}
}

func (e *encoder) put(v any) {
	if e.err == nil {
		e.err = binary.Write(e.w, binary.LittleEndian, v)
	}
}

func (e *encoder) str(s string) {
	e.put(uint64(len(s)))
	e.raw([]byte(s))
}

func (e *encoder) value(v any) {
	switch v := v.(type) {
	case uint8:
		e.put(typeUint8)
		e.put(v)
	case int8:
		e.put(typeInt8)
		e.put(v)
	case uint16:
		e.put(typeUint16)
		e.put(v)
	case int16:
		e.put(typeInt16)
		e.put(v)
	case uint32:
		e.put(typeUint32)
		e.put(v)
	case int32:
		e.put(typeInt32)
		e.put(v)
	case uint64:
		e.put(typeUint64)
		e.put(v)
	case int64:
		e.put(typeInt64)
		e.put(v)
	case float32:
		e.put(typeFloat32)
		e.put(v)
	case float64:
		e.put(typeFloat64)
		e.put(v)
	case bool:
		e.put(typeBool)
		e.put(v)
	case string:
		e.put(typeString)
		e.str(v)
	case []string:
		e.put(typeArray)
		e.put(typeString)
		e.put(uint64(len(v)))
		for _, s := range v {
			e.str(s)
		}
	case []int32:
		e.put(typeArray)
		e.put(typeInt32)
		e.put(uint64(len(v)))
		e.put(v)
	case []float32:
		e.put(typeArray)
		e.put(typeFloat32)
		e.put(uint64(len(v)))
		e.put(v)
	default:
		if e.err == nil {
			e.err = fmt.Errorf("gguf: unsupported value type %T", v)
		}
	}
}
