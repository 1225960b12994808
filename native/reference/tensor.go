// tensor.go - Tensor-Speicher der Referenz-Runtime
// Enthaelt: tensor struct, AllocateTensor(), DeleteTensor(), Tensor-Abfragen

package reference

import (
	"slices"
	"unsafe"

	"github.com/ollama/tfbind/native"
)

type tensor struct {
	dtype native.DataType
	dims  []int64
	data  []byte
}

// alignedBytes allokiert einen auf 8 Byte ausgerichteten Puffer
func alignedBytes(n int) []byte {
	if n == 0 {
		return []byte{}
	}
	words := make([]uint64, (n+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(words))), n)
}

func numElements(dims []int64) int64 {
	n := int64(1)
	for _, d := range dims {
		n *= d
	}
	return n
}

func newTensor(dtype native.DataType, dims []int64) *tensor {
	return &tensor{
		dtype: dtype,
		dims:  slices.Clone(dims),
		data:  alignedBytes(int(numElements(dims)) * dtype.Size()),
	}
}

func (t *tensor) numElements() int64 {
	return numElements(t.dims)
}

func (t *tensor) clone() *tensor {
	c := newTensor(t.dtype, t.dims)
	copy(c.data, t.data)
	return c
}

// view interpretiert einen Puffer als Slice von T
func view[T any](b []byte) []T {
	var zero T
	n := len(b) / int(unsafe.Sizeof(zero))
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), n)
}

// AllocateTensor implementiert native.API
func (r *Runtime) AllocateTensor(dt native.DataType, dims []int64, byteLen int) native.Handle {
	t := &tensor{dtype: dt, dims: slices.Clone(dims), data: alignedBytes(byteLen)}
	return r.add(t)
}

// DeleteTensor implementiert native.API
func (r *Runtime) DeleteTensor(h native.Handle) {
	lookup[*tensor](r, h)
	r.remove(h)
}

// TensorType implementiert native.API
func (r *Runtime) TensorType(h native.Handle) native.DataType {
	return lookup[*tensor](r, h).dtype
}

// TensorNumDims implementiert native.API
func (r *Runtime) TensorNumDims(h native.Handle) int {
	return len(lookup[*tensor](r, h).dims)
}

// TensorDim implementiert native.API
func (r *Runtime) TensorDim(h native.Handle, i int) int64 {
	return lookup[*tensor](r, h).dims[i]
}

// TensorByteSize implementiert native.API
func (r *Runtime) TensorByteSize(h native.Handle) int {
	return len(lookup[*tensor](r, h).data)
}

// TensorData implementiert native.API
func (r *Runtime) TensorData(h native.Handle) []byte {
	return lookup[*tensor](r, h).data
}
