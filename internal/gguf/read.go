package gguf

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Probe opens path and decodes its GGUF header.
func Probe(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read decodes a GGUF header from r. Reading stops after the tensor directory.
func Read(r io.Reader) (*Metadata, error) {
	d := &decoder{r: bufio.NewReaderSize(r, 32<<10)}

	var magic [4]byte
	if _, err := io.ReadFull(d.r, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotGGUF, err)
	}
	if string(magic[:]) != Magic {
		return nil, fmt.Errorf("%w: magic %q", ErrNotGGUF, magic[:])
	}

	m := &Metadata{KV: make(map[string]any)}
	var err error
	if m.Version, err = read[uint32](d); err != nil {
		return nil, d.wrap(err)
	}
	if m.Version != 2 && m.Version != 3 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, m.Version)
	}
	if m.TensorCount, err = read[uint64](d); err != nil {
		return nil, d.wrap(err)
	}
	if m.KVCount, err = read[uint64](d); err != nil {
		return nil, d.wrap(err)
	}
	if m.TensorCount > maxTensors {
		return nil, malformed("tensor count %d", m.TensorCount)
	}
	if m.KVCount > maxKeyValues {
		return nil, malformed("key/value count %d", m.KVCount)
	}

	for i := uint64(0); i < m.KVCount; i++ {
		key, value, err := d.readKeyValue()
		if err != nil {
			return nil, d.wrap(fmt.Errorf("key/value %d: %w", i, err))
		}
		m.KV[key] = value
	}

	m.Tensors = make([]TensorInfo, 0, m.TensorCount)
	for i := uint64(0); i < m.TensorCount; i++ {
		t, err := d.readTensor()
		if err != nil {
			return nil, d.wrap(fmt.Errorf("tensor %d: %w", i, err))
		}
		m.Tensors = append(m.Tensors, t)
	}
	return m, nil
}

type decoder struct {
	r *bufio.Reader
}

// wrap turns short reads into ErrMalformed; other errors pass through.
func (d *decoder) wrap(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated: %v", ErrMalformed, err)
	}
	return err
}

func read[T any](d *decoder) (v T, err error) {
	err = binary.Read(d.r, binary.LittleEndian, &v)
	return v, err
}

func (d *decoder) readString() (string, error) {
	n, err := read[uint64](d)
	if err != nil {
		return "", err
	}
	if n > maxStringLen {
		return "", malformed("string length %d", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) skipString() error {
	n, err := read[uint64](d)
	if err != nil {
		return err
	}
	if n > maxStringLen {
		return malformed("string length %d", n)
	}
	_, err = d.r.Discard(int(n))
	return err
}

func (d *decoder) readKeyValue() (string, any, error) {
	key, err := d.readString()
	if err != nil {
		return "", nil, err
	}
	t, err := read[uint32](d)
	if err != nil {
		return "", nil, err
	}
	if t == typeArray {
		v, err := d.readArray()
		return key, v, err
	}
	v, err := d.readScalar(t)
	return key, v, err
}

func (d *decoder) readScalar(t uint32) (any, error) {
	switch t {
	case typeUint8:
		return read[uint8](d)
	case typeInt8:
		return read[int8](d)
	case typeUint16:
		return read[uint16](d)
	case typeInt16:
		return read[int16](d)
	case typeUint32:
		return read[uint32](d)
	case typeInt32:
		return read[int32](d)
	case typeUint64:
		return read[uint64](d)
	case typeInt64:
		return read[int64](d)
	case typeFloat32:
		return read[float32](d)
	case typeFloat64:
		return read[float64](d)
	case typeBool:
		return read[bool](d)
	case typeString:
		return d.readString()
	default:
		return nil, malformed("value type %d", t)
	}
}

func (d *decoder) readArray() (ArrayValue, error) {
	t, err := read[uint32](d)
	if err != nil {
		return ArrayValue{}, err
	}
	n, err := read[uint64](d)
	if err != nil {
		return ArrayValue{}, err
	}
	if n > maxArrayLen {
		return ArrayValue{}, malformed("array length %d", n)
	}
	a := ArrayValue{Type: t, Len: n}
	if t == typeString {
		for i := uint64(0); i < n; i++ {
			if err := d.skipString(); err != nil {
				return ArrayValue{}, err
			}
		}
		return a, nil
	}
	size := scalarSize(t)
	if size == 0 {
		return ArrayValue{}, malformed("array element type %d", t)
	}
	if _, err := d.r.Discard(int(n) * size); err != nil {
		return ArrayValue{}, err
	}
	return a, nil
}

func (d *decoder) readTensor() (TensorInfo, error) {
	name, err := d.readString()
	if err != nil {
		return TensorInfo{}, err
	}
	dims, err := read[uint32](d)
	if err != nil {
		return TensorInfo{}, err
	}
	if dims > maxTensorDims {
		return TensorInfo{}, malformed("tensor %s has %d dimensions", name, dims)
	}
	shape := make([]uint64, dims)
	for i := range shape {
		if shape[i], err = read[uint64](d); err != nil {
			return TensorInfo{}, err
		}
	}
	typ, err := read[uint32](d)
	if err != nil {
		return TensorInfo{}, err
	}
	offset, err := read[uint64](d)
	if err != nil {
		return TensorInfo{}, err
	}
	return TensorInfo{Name: name, Shape: shape, Type: typ, Offset: offset}, nil
}

func scalarSize(t uint32) int {
	switch t {
	case typeUint8, typeInt8, typeBool:
		return 1
	case typeUint16, typeInt16:
		return 2
	case typeUint32, typeInt32, typeFloat32:
		return 4
	case typeUint64, typeInt64, typeFloat64:
		return 8
	}
	return 0
}
