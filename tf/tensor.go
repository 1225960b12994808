// tensor.go - Host-Tensoren mit nativem Puffer
//
// Dieses Modul enthält:
// - Tensor: Handle, DataType und Shape eines nativen Tensors
// - NewTensor/NewTensorOf/NewTensorFromBytes: Konstruktoren
// - Value/ValuesAs/Bytes: Rückrichtung nach Go
// - Reshape, WithData, Close
package tf

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"unsafe"

	bfloat16 "github.com/d4l3k/go-bfloat16"

	"github.com/ollama/tfbind/format"
	"github.com/ollama/tfbind/native"
)

// Tensor ist ein n-dimensionales Array im Speicher der nativen Runtime
type Tensor struct {
	rt    *Runtime
	g     *guard
	dtype DataType
	dims  []int64
}

// wrapTensor übernimmt ein frisch erzeugtes natives Tensor-Handle
func (rt *Runtime) wrapTensor(h native.Handle) *Tensor {
	api := rt.api

	dims := make([]int64, api.TensorNumDims(h))
	for i := range dims {
		dims[i] = api.TensorDim(h, i)
	}

	t := &Tensor{
		rt:    rt,
		dtype: api.TensorType(h),
		dims:  dims,
		g: rt.newGuard(KindTensor, h, 0, func(h native.Handle) error {
			api.DeleteTensor(h)
			return nil
		}),
	}
	attach(t, t.g)
	return t
}

// allocTensor erzeugt einen Tensor und lässt fill den nativen Puffer
// beschreiben. Scheitert fill, wird der Tensor wieder freigegeben.
func (rt *Runtime) allocTensor(dt DataType, dims []int64, fill func(buf []byte) error) (*Tensor, error) {
	if err := rt.checkOpen(); err != nil {
		return nil, err
	}
	if err := checkDataType(dt); err != nil {
		return nil, err
	}
	if err := checkDims(dims, dt.Size()); err != nil {
		return nil, err
	}

	size := int(numElements(dims)) * dt.Size()
	h := rt.api.AllocateTensor(dt, dims, size)
	if h == native.Nil {
		return nil, &NativeError{Code: ResourceExhausted, Message: fmt.Sprintf("cannot allocate %s", format.HumanBytes(int64(size))), Op: "AllocateTensor"}
	}

	t := rt.wrapTensor(h)
	if err := t.g.borrowMut(func(h native.Handle) error {
		buf := rt.api.TensorData(h)
		if len(buf) != size {
			return &ShapeMismatchError{Shape: MakeShape(dims...), Detail: fmt.Sprintf("native buffer has %d bytes, want %d", len(buf), size)}
		}
		return fill(buf)
	}); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// NewTensor erstellt einen Tensor aus einem Go-Skalar oder (verschachtelten)
// Slices. Die Shape ergibt sich aus der Verschachtelung.
func NewTensor(rt *Runtime, value any) (*Tensor, error) {
	v := reflect.ValueOf(value)
	if !v.IsValid() {
		return nil, &UnsupportedDtypeError{GoType: "nil"}
	}

	dims, elem, err := inspect(v)
	if err != nil {
		return nil, err
	}

	dt, conv, err := dataTypeOf(elem)
	if err != nil {
		return nil, err
	}

	order := rt.api.ByteOrder()
	f := &filler{
		dt:     dt,
		order:  order,
		rank:   len(dims),
		direct: !conv && order == hostOrder,
	}

	return rt.allocTensor(dt, dims, func(buf []byte) error {
		_, err := f.fill(buf, v, 0)
		return err
	})
}

// NewTensorOf erstellt einen Tensor vom Typ dt aus einem flachen Go-Slice und
// konvertiert jedes Element, z.B. []float32 nach Half oder BFloat16
func NewTensorOf(rt *Runtime, dt DataType, dims []int64, flat any) (*Tensor, error) {
	v := reflect.ValueOf(flat)
	if !v.IsValid() || v.Kind() != reflect.Slice {
		return nil, &UnsupportedDtypeError{DataType: dt, GoType: fmt.Sprintf("%T", flat)}
	}
	if err := checkDataType(dt); err != nil {
		return nil, err
	}
	if err := checkDims(dims, dt.Size()); err != nil {
		return nil, err
	}
	if n := numElements(dims); int64(v.Len()) != n {
		return nil, &ShapeMismatchError{Shape: MakeShape(dims...), Detail: fmt.Sprintf("got %d elements, want %d", v.Len(), n)}
	}

	order := rt.api.ByteOrder()
	if fs, ok := flat.([]float32); ok && dt == BFloat16 && order == binary16Order {
		return rt.allocTensor(dt, dims, func(buf []byte) error {
			copy(buf, bfloat16.EncodeFloat32(fs))
			return nil
		})
	}

	size := dt.Size()
	return rt.allocTensor(dt, dims, func(buf []byte) error {
		for i := range v.Len() {
			s, err := readScalar(v.Index(i))
			if err != nil {
				return err
			}
			if err := encodeElem(order, dt, buf[i*size:], s); err != nil {
				return err
			}
		}
		return nil
	})
}

// NewTensorFromBytes erstellt einen Tensor aus Rohdaten in der
// Byte-Reihenfolge der nativen Runtime
func NewTensorFromBytes(rt *Runtime, dt DataType, dims []int64, data []byte) (*Tensor, error) {
	if err := checkDataType(dt); err != nil {
		return nil, err
	}
	if err := checkDims(dims, dt.Size()); err != nil {
		return nil, err
	}
	if want := numElements(dims) * int64(dt.Size()); int64(len(data)) != want {
		return nil, &ShapeMismatchError{Shape: MakeShape(dims...), Detail: fmt.Sprintf("got %d bytes of %v, want %d", len(data), dt, want)}
	}

	return rt.allocTensor(dt, dims, func(buf []byte) error {
		copy(buf, data)
		return nil
	})
}

// DataType gibt den Elementtyp zurück
func (t *Tensor) DataType() DataType { return t.dtype }

// Shape gibt eine Kopie der Dimensionen zurück
func (t *Tensor) Shape() []int64 { return slices.Clone(t.dims) }

// NumElements ist das Produkt der Dimensionen
func (t *Tensor) NumElements() int64 { return numElements(t.dims) }

// ByteSize ist die Größe des Puffers in Bytes
func (t *Tensor) ByteSize() int { return int(t.NumElements()) * t.dtype.Size() }

// LogValue gibt den Tensor als slog-Wert zurück
func (t *Tensor) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("handle", t.g.entry),
		slog.String("dtype", t.dtype.String()),
		slog.Any("shape", t.dims),
		slog.String("size", format.HumanBytes(int64(t.ByteSize()))),
	)
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(%v, %v)", t.dtype, MakeShape(t.dims...))
}

// WithData ruft fn mit einer geliehenen Sicht auf den nativen Puffer auf.
// Die Sicht darf fn nicht überleben.
func (t *Tensor) WithData(fn func(data []byte) error) error {
	return t.g.borrow(func(h native.Handle) error {
		return fn(t.rt.api.TensorData(h))
	})
}

// Bytes gibt eine Kopie des Puffers in nativer Byte-Reihenfolge zurück
func (t *Tensor) Bytes() ([]byte, error) {
	var out []byte
	err := t.WithData(func(data []byte) error {
		out = slices.Clone(data)
		return nil
	})
	return out, err
}

// Value gibt den Inhalt als Go-Wert des natürlichen Typs zurück: einen
// Skalar bei Rang 0, sonst entsprechend verschachtelte Slices
func (t *Tensor) Value() (any, error) {
	elem, ok := goTypes[t.dtype]
	if !ok {
		return nil, &UnsupportedDtypeError{DataType: t.dtype}
	}

	n := int(t.NumElements())
	flat := reflect.MakeSlice(reflect.SliceOf(elem), n, n)
	if err := t.WithData(func(data []byte) error {
		convertBuffer(rawBytes(flat, t.dtype.Size()), hostOrder, data, t.rt.api.ByteOrder(), t.dtype)
		return nil
	}); err != nil {
		return nil, err
	}

	if len(t.dims) == 0 {
		return flat.Index(0).Interface(), nil
	}
	return nest(flat, t.dims).Interface(), nil
}

// nest teilt ein flaches Slice in verschachtelte Slices auf
func nest(flat reflect.Value, dims []int64) reflect.Value {
	if len(dims) == 1 {
		return flat
	}

	typ := flat.Type()
	for range dims[1:] {
		typ = reflect.SliceOf(typ)
	}

	stride := int(numElements(dims[1:]))
	out := reflect.MakeSlice(typ, int(dims[0]), int(dims[0]))
	for i := range int(dims[0]) {
		out.Index(i).Set(nest(flat.Slice(i*stride, (i+1)*stride), dims[1:]))
	}
	return out
}

// binary16Order ist die Reihenfolge, in der go-bfloat16 kodiert
var binary16Order binary.ByteOrder = binary.LittleEndian

// ValuesAs liest alle Elemente flach als T. Nicht darstellbare Werte ergeben
// ErrOutOfRange statt abgeschnittener Werte.
func ValuesAs[T any](t *Tensor) ([]T, error) {
	target, err := hostLayout(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	if err := checkDataType(t.dtype); err != nil {
		return nil, err
	}

	n := int(t.NumElements())
	out := make([]T, n)
	dst := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(out))), n*target.Size())
	order := t.rt.api.ByteOrder()

	err = t.WithData(func(src []byte) error {
		switch {
		case target == t.dtype:
			convertBuffer(dst, hostOrder, src, order, t.dtype)
			return nil
		case target == Float && t.dtype == BFloat16 && order == binary16Order && hostOrder == binary16Order:
			copy(dst, rawBytes(reflect.ValueOf(bfloat16.DecodeFloat32(src)), 4))
			return nil
		}

		ss, ts := t.dtype.Size(), target.Size()
		for i := range n {
			if err := encodeElem(hostOrder, target, dst[i*ts:], decodeElem(order, t.dtype, src[i*ss:])); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Reshape erstellt einen neuen Tensor mit denselben Daten und anderer Shape
func (t *Tensor) Reshape(dims ...int64) (*Tensor, error) {
	if err := checkDims(dims, t.dtype.Size()); err != nil {
		return nil, err
	}
	if numElements(dims) != t.NumElements() {
		return nil, &ShapeMismatchError{
			Shape:  MakeShape(dims...),
			Detail: fmt.Sprintf("cannot reshape %d elements of %v", t.NumElements(), MakeShape(t.dims...)),
		}
	}

	var out *Tensor
	err := t.WithData(func(src []byte) error {
		var err error
		out, err = t.rt.allocTensor(t.dtype, dims, func(buf []byte) error {
			copy(buf, src)
			return nil
		})
		return err
	})
	return out, err
}

// Close gibt den nativen Tensor frei
func (t *Tensor) Close() error {
	return t.g.close()
}

// guards der Tensoren in derselben Reihenfolge
func tensorGuards(ts []*Tensor) []*guard {
	gs := make([]*guard, len(ts))
	for i, t := range ts {
		gs[i] = t.g
	}
	return gs
}
