package typed

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/codewandler/notify-go/internal/reflector"
)

// Codec converts values to and from state data.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// JSON encodes values as compact JSON. Empty data decodes to the zero
// value, so freshly created states read as T{}.
func JSON[T any]() Codec[T] {
	return jsonCodec[T]{typeName: reflector.TypeInfoFor[T]().Name}
}

type jsonCodec[T any] struct{ typeName string }

func (jsonCodec[T]) Encode(v T) ([]byte, error) { return json.Marshal(v) }

func (c jsonCodec[T]) Decode(data []byte) (v T, err error) {
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, &DecodeError{Type: c.typeName, Actual: len(data), Err: err}
	}
	return v, nil
}

// Binary encodes fixed-layout values little-endian with encoding/binary.
// Decoding requires exactly the size of T. It panics if T has no fixed
// layout.
func Binary[T any]() Codec[T] {
	ti := reflector.TypeInfoFor[T]()
	if !ti.Fixed() {
		panic(fmt.Sprintf("typed: %s has no fixed binary layout", ti.Name))
	}
	return binaryCodec[T]{ti: ti}
}

type binaryCodec[T any] struct{ ti reflector.TypeInfo }

func (c binaryCodec[T]) Encode(v T) ([]byte, error) {
	return binary.Append(make([]byte, 0, c.ti.Size), binary.LittleEndian, v)
}

func (c binaryCodec[T]) Decode(data []byte) (v T, err error) {
	if len(data) != c.ti.Size {
		return v, &DecodeError{Type: c.ti.Name, Expected: c.ti.Size, Actual: len(data)}
	}
	if _, err := binary.Decode(data, binary.LittleEndian, &v); err != nil {
		return v, &DecodeError{Type: c.ti.Name, Expected: c.ti.Size, Actual: len(data), Err: err}
	}
	return v, nil
}

// BinarySlice encodes a slice of fixed-layout elements back to back.
// Decoding requires a multiple of the element size; empty data is an
// empty slice.
func BinarySlice[T any]() Codec[[]T] {
	ti := reflector.TypeInfoFor[T]()
	if !ti.Fixed() || ti.Size == 0 {
		panic(fmt.Sprintf("typed: %s has no fixed binary layout", ti.Name))
	}
	return binarySliceCodec[T]{ti: ti}
}

type binarySliceCodec[T any] struct{ ti reflector.TypeInfo }

func (c binarySliceCodec[T]) Encode(v []T) ([]byte, error) {
	return binary.Append(make([]byte, 0, len(v)*c.ti.Size), binary.LittleEndian, v)
}

func (c binarySliceCodec[T]) Decode(data []byte) ([]T, error) {
	if len(data)%c.ti.Size != 0 {
		return nil, &DecodeError{Type: "[]" + c.ti.Name, Expected: c.ti.Size, Actual: len(data), Multiple: true}
	}
	v := make([]T, len(data)/c.ti.Size)
	if _, err := binary.Decode(data, binary.LittleEndian, v); err != nil {
		return nil, &DecodeError{Type: "[]" + c.ti.Name, Expected: c.ti.Size, Actual: len(data), Multiple: true, Err: err}
	}
	return v, nil
}

// UUID stores a uuid.UUID as its 16 raw bytes.
func UUID() Codec[uuid.UUID] { return uuidCodec{} }

type uuidCodec struct{}

func (uuidCodec) Encode(v uuid.UUID) ([]byte, error) { return v.MarshalBinary() }

func (uuidCodec) Decode(data []byte) (uuid.UUID, error) {
	if len(data) != 16 {
		return uuid.Nil, &DecodeError{Type: "uuid.UUID", Expected: 16, Actual: len(data)}
	}
	v, err := uuid.FromBytes(data)
	if err != nil {
		return uuid.Nil, &DecodeError{Type: "uuid.UUID", Expected: 16, Actual: len(data), Err: err}
	}
	return v, nil
}

// Bytes passes data through, copying in both directions.
func Bytes() Codec[[]byte] { return bytesCodec{} }

type bytesCodec struct{}

func (bytesCodec) Encode(v []byte) ([]byte, error)    { return bytes.Clone(v), nil }
func (bytesCodec) Decode(data []byte) ([]byte, error) { return bytes.Clone(data), nil }

// String stores text as raw bytes.
func String() Codec[string] { return stringCodec{} }

type stringCodec struct{}

func (stringCodec) Encode(v string) ([]byte, error)    { return []byte(v), nil }
func (stringCodec) Decode(data []byte) (string, error) { return string(data), nil }
