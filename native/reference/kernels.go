// kernels.go - Rechenkerne der Referenz-Runtime
// Enthaelt: elementweise Operationen, MatMul (gonum BLAS), Optimierer-Updates

package reference

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/blas/blas64"

	"github.com/ollama/tfbind/native"
)

type number interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

type arith int

const (
	arithAdd arith = iota
	arithSub
	arithMul
)

type unary int

const (
	unaryNeg unary = iota
	unarySquare
	unaryZeros
	unaryOnes
)

func binaryKernel[T number](op arith, a, b, out []T) {
	for i := range out {
		x, y := a[0], b[0]
		if len(a) > 1 {
			x = a[i]
		}
		if len(b) > 1 {
			y = b[i]
		}

		switch op {
		case arithAdd:
			out[i] = x + y
		case arithSub:
			out[i] = x - y
		case arithMul:
			out[i] = x * y
		}
	}
}

func unaryKernel[T number](op unary, in, out []T) {
	for i := range out {
		switch op {
		case unaryNeg:
			out[i] = -in[i]
		case unarySquare:
			out[i] = in[i] * in[i]
		case unaryZeros:
			out[i] = 0
		case unaryOnes:
			out[i] = 1
		}
	}
}

// broadcastDims bestimmt die Ergebnis-Shape; nur gleiche Shapes oder ein
// Skalar-Operand werden unterstuetzt
func broadcastDims(a, b []int64) ([]int64, bool) {
	switch {
	case slices.Equal(a, b):
		return a, true
	case numElements(a) == 1:
		return b, true
	case numElements(b) == 1:
		return a, true
	default:
		return nil, false
	}
}

func binaryOp(op arith, a, b *tensor) (*tensor, error) {
	if a.dtype != b.dtype {
		return nil, errorf(native.InvalidArgument, "cannot compute with %v and %v tensors", a.dtype, b.dtype)
	}

	dims, ok := broadcastDims(a.dims, b.dims)
	if !ok {
		return nil, errorf(native.InvalidArgument, "Incompatible shapes: %v vs. %v", a.dims, b.dims)
	}

	out := newTensor(a.dtype, dims)
	if out.numElements() == 0 {
		return out, nil
	}

	switch a.dtype {
	case native.Float:
		binaryKernel(op, view[float32](a.data), view[float32](b.data), view[float32](out.data))
	case native.Double:
		binaryKernel(op, view[float64](a.data), view[float64](b.data), view[float64](out.data))
	case native.Int8:
		binaryKernel(op, view[int8](a.data), view[int8](b.data), view[int8](out.data))
	case native.Int16:
		binaryKernel(op, view[int16](a.data), view[int16](b.data), view[int16](out.data))
	case native.Int32:
		binaryKernel(op, view[int32](a.data), view[int32](b.data), view[int32](out.data))
	case native.Int64:
		binaryKernel(op, view[int64](a.data), view[int64](b.data), view[int64](out.data))
	case native.Uint8:
		binaryKernel(op, view[uint8](a.data), view[uint8](b.data), view[uint8](out.data))
	case native.Uint16:
		binaryKernel(op, view[uint16](a.data), view[uint16](b.data), view[uint16](out.data))
	case native.Uint32:
		binaryKernel(op, view[uint32](a.data), view[uint32](b.data), view[uint32](out.data))
	case native.Uint64:
		binaryKernel(op, view[uint64](a.data), view[uint64](b.data), view[uint64](out.data))
	default:
		return nil, errorf(native.Unimplemented, "no kernel for type %v", a.dtype)
	}

	return out, nil
}

func unaryOp(op unary, in *tensor) (*tensor, error) {
	out := newTensor(in.dtype, in.dims)
	if out.numElements() == 0 {
		return out, nil
	}

	switch in.dtype {
	case native.Float:
		unaryKernel(op, view[float32](in.data), view[float32](out.data))
	case native.Double:
		unaryKernel(op, view[float64](in.data), view[float64](out.data))
	case native.Int8:
		unaryKernel(op, view[int8](in.data), view[int8](out.data))
	case native.Int16:
		unaryKernel(op, view[int16](in.data), view[int16](out.data))
	case native.Int32:
		unaryKernel(op, view[int32](in.data), view[int32](out.data))
	case native.Int64:
		unaryKernel(op, view[int64](in.data), view[int64](out.data))
	case native.Uint8:
		unaryKernel(op, view[uint8](in.data), view[uint8](out.data))
	case native.Uint16:
		unaryKernel(op, view[uint16](in.data), view[uint16](out.data))
	case native.Uint32:
		unaryKernel(op, view[uint32](in.data), view[uint32](out.data))
	case native.Uint64:
		unaryKernel(op, view[uint64](in.data), view[uint64](out.data))
	case native.Bool:
		if op == unaryZeros || op == unaryOnes {
			v := byte(0)
			if op == unaryOnes {
				v = 1
			}
			for i := range out.data {
				out.data[i] = v
			}
			return out, nil
		}
		fallthrough
	default:
		return nil, errorf(native.Unimplemented, "no kernel for type %v", in.dtype)
	}

	return out, nil
}

// matmulDims berechnet m, k, n unter Beruecksichtigung der Transponierung
func matmulDims(a, b []int64, ta, tb bool) (m, k, n int64, err error) {
	if len(a) != 2 || len(b) != 2 {
		return 0, 0, 0, errorf(native.InvalidArgument, "In[0] and In[1] must be matrices: %v, %v", a, b)
	}

	m, k = a[0], a[1]
	if ta {
		m, k = k, m
	}
	k2, n := b[0], b[1]
	if tb {
		k2, n = n, k2
	}

	if k >= 0 && k2 >= 0 && k != k2 {
		return 0, 0, 0, errorf(native.InvalidArgument, "Matrix size-incompatible: In[0]: %v, In[1]: %v", a, b)
	}
	return m, k, n, nil
}

func transpose(t bool) blas.Transpose {
	if t {
		return blas.Trans
	}
	return blas.NoTrans
}

func matmul(a, b *tensor, ta, tb bool) (*tensor, error) {
	if a.dtype != b.dtype {
		return nil, errorf(native.InvalidArgument, "MatMul: mismatched types %v and %v", a.dtype, b.dtype)
	}

	m, k, n, err := matmulDims(a.dims, b.dims, ta, tb)
	if err != nil {
		return nil, err
	}

	out := newTensor(a.dtype, []int64{m, n})
	if m == 0 || n == 0 || k == 0 {
		return out, nil
	}

	switch a.dtype {
	case native.Float:
		blas32.Gemm(transpose(ta), transpose(tb), 1,
			blas32.General{Rows: int(a.dims[0]), Cols: int(a.dims[1]), Stride: int(a.dims[1]), Data: view[float32](a.data)},
			blas32.General{Rows: int(b.dims[0]), Cols: int(b.dims[1]), Stride: int(b.dims[1]), Data: view[float32](b.data)},
			0,
			blas32.General{Rows: int(m), Cols: int(n), Stride: int(n), Data: view[float32](out.data)})
	case native.Double:
		blas64.Gemm(transpose(ta), transpose(tb), 1,
			blas64.General{Rows: int(a.dims[0]), Cols: int(a.dims[1]), Stride: int(a.dims[1]), Data: view[float64](a.data)},
			blas64.General{Rows: int(b.dims[0]), Cols: int(b.dims[1]), Stride: int(b.dims[1]), Data: view[float64](b.data)},
			0,
			blas64.General{Rows: int(m), Cols: int(n), Stride: int(n), Data: view[float64](out.data)})
	default:
		return nil, errorf(native.Unimplemented, "MatMul: no kernel for type %v", a.dtype)
	}

	return out, nil
}

// =============================================================================
// Optimierer-Updates
// =============================================================================

func scalar[T number](t *tensor) (T, error) {
	v := view[T](t.data)
	if len(v) != 1 {
		return 0, errorf(native.InvalidArgument, "expected scalar, got shape %v", t.dims)
	}
	return v[0], nil
}

func gradientDescent[T float32 | float64](v, delta []T, alpha T) {
	for i := range v {
		v[i] -= alpha * delta[i]
	}
}

func adadelta[T float32 | float64](v, accum, accumUpdate, grad []T, lr, rho, eps T) {
	for i := range v {
		g := grad[i]
		accum[i] = accum[i]*rho + g*g*(1-rho)
		update := T(math.Sqrt(float64(accumUpdate[i]+eps))) / T(math.Sqrt(float64(accum[i]+eps))) * g
		accumUpdate[i] = accumUpdate[i]*rho + update*update*(1-rho)
		v[i] -= update * lr
	}
}

func sameShape(ts ...*tensor) bool {
	for _, t := range ts[1:] {
		if !slices.Equal(t.dims, ts[0].dims) || t.dtype != ts[0].dtype {
			return false
		}
	}
	return true
}

func applyGradientDescent(v, alpha, delta *tensor) error {
	if !sameShape(v, delta) {
		return errorf(native.InvalidArgument, "var and delta do not have the same shape: %v %v", v.dims, delta.dims)
	}

	switch v.dtype {
	case native.Float:
		a, err := scalar[float32](alpha)
		if err != nil {
			return err
		}
		gradientDescent(view[float32](v.data), view[float32](delta.data), a)
	case native.Double:
		a, err := scalar[float64](alpha)
		if err != nil {
			return err
		}
		gradientDescent(view[float64](v.data), view[float64](delta.data), a)
	default:
		return errorf(native.Unimplemented, "ApplyGradientDescent: no kernel for type %v", v.dtype)
	}
	return nil
}

func applyAdadelta(v, accum, accumUpdate, lr, rho, eps, grad *tensor) error {
	if !sameShape(v, accum, accumUpdate, grad) {
		return errorf(native.InvalidArgument, "var, accum, accum_update and grad must have the same shape: %v %v %v %v",
			v.dims, accum.dims, accumUpdate.dims, grad.dims)
	}

	switch v.dtype {
	case native.Float:
		return applyAdadeltaTyped[float32](v, accum, accumUpdate, lr, rho, eps, grad)
	case native.Double:
		return applyAdadeltaTyped[float64](v, accum, accumUpdate, lr, rho, eps, grad)
	default:
		return errorf(native.Unimplemented, "ApplyAdadelta: no kernel for type %v", v.dtype)
	}
}

func applyAdadeltaTyped[T float32 | float64](v, accum, accumUpdate, lr, rho, eps, grad *tensor) error {
	var hyper [3]T
	for i, t := range []*tensor{lr, rho, eps} {
		x, err := scalar[T](t)
		if err != nil {
			return err
		}
		hyper[i] = x
	}
	adadelta(view[T](v.data), view[T](accum.data), view[T](accumUpdate.data), view[T](grad.data), hyper[0], hyper[1], hyper[2])
	return nil
}

// scalarOf erzeugt einen Skalar-Tensor mit dem Wert x
func scalarOf(dtype native.DataType, x float64) (*tensor, error) {
	t := newTensor(dtype, nil)
	switch dtype {
	case native.Float:
		view[float32](t.data)[0] = float32(x)
	case native.Double:
		view[float64](t.data)[0] = x
	case native.Int32:
		view[int32](t.data)[0] = int32(x)
	case native.Int64:
		view[int64](t.data)[0] = int64(x)
	default:
		return nil, errorf(native.Unimplemented, "no constant of type %v", dtype)
	}
	return t, nil
}
