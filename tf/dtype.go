// dtype.go - Elementtypen und Status-Codes
// Enthält: DataType/Code als Aliase der nativen Typen, Go-Typ-Zuordnung

package tf

import (
	"reflect"

	"github.com/x448/float16"

	"github.com/ollama/tfbind/native"
)

// DataType ist der Elementtyp eines Tensors
type DataType = native.DataType

const (
	Float      = native.Float
	Double     = native.Double
	Int32      = native.Int32
	Uint8      = native.Uint8
	Int16      = native.Int16
	Int8       = native.Int8
	String     = native.String
	Complex64  = native.Complex64
	Int64      = native.Int64
	Bool       = native.Bool
	BFloat16   = native.BFloat16
	Uint16     = native.Uint16
	Complex128 = native.Complex128
	Half       = native.Half
	Resource   = native.Resource
	Variant    = native.Variant
	Uint32     = native.Uint32
	Uint64     = native.Uint64
)

// Code ist der Ergebniscode eines nativen Aufrufs
type Code = native.Code

const (
	OK                 = native.OK
	Cancelled          = native.Cancelled
	Unknown            = native.Unknown
	InvalidArgument    = native.InvalidArgument
	DeadlineExceeded   = native.DeadlineExceeded
	NotFound           = native.NotFound
	AlreadyExists      = native.AlreadyExists
	PermissionDenied   = native.PermissionDenied
	ResourceExhausted  = native.ResourceExhausted
	FailedPrecondition = native.FailedPrecondition
	Aborted            = native.Aborted
	OutOfRange         = native.OutOfRange
	Unimplemented      = native.Unimplemented
	Internal           = native.Internal
	Unavailable        = native.Unavailable
	DataLoss           = native.DataLoss
	Unauthenticated    = native.Unauthenticated
)

// BFloat16Value ist ein bfloat16-Element in seiner Bit-Darstellung
type BFloat16Value uint16

var (
	typeHalf     = reflect.TypeFor[float16.Float16]()
	typeBFloat16 = reflect.TypeFor[BFloat16Value]()
)

// goTypes bildet DataType auf den natürlichen Go-Elementtyp ab
var goTypes = map[DataType]reflect.Type{
	Float:      reflect.TypeFor[float32](),
	Double:     reflect.TypeFor[float64](),
	Int8:       reflect.TypeFor[int8](),
	Int16:      reflect.TypeFor[int16](),
	Int32:      reflect.TypeFor[int32](),
	Int64:      reflect.TypeFor[int64](),
	Uint8:      reflect.TypeFor[uint8](),
	Uint16:     reflect.TypeFor[uint16](),
	Uint32:     reflect.TypeFor[uint32](),
	Uint64:     reflect.TypeFor[uint64](),
	Bool:       reflect.TypeFor[bool](),
	Complex64:  reflect.TypeFor[complex64](),
	Complex128: reflect.TypeFor[complex128](),
	Half:       typeHalf,
	BFloat16:   typeBFloat16,
}

// dataTypeOf bestimmt den DataType für einen Go-Elementtyp. Go int/uint
// werden auf 64 Bit abgebildet; copy meldet dann, dass konvertiert werden muss.
func dataTypeOf(t reflect.Type) (dt DataType, copy bool, err error) {
	switch t {
	case typeHalf:
		return Half, false, nil
	case typeBFloat16:
		return BFloat16, false, nil
	}

	switch t.Kind() {
	case reflect.Float32:
		return Float, false, nil
	case reflect.Float64:
		return Double, false, nil
	case reflect.Int8:
		return Int8, false, nil
	case reflect.Int16:
		return Int16, false, nil
	case reflect.Int32:
		return Int32, false, nil
	case reflect.Int64:
		return Int64, false, nil
	case reflect.Int:
		return Int64, true, nil
	case reflect.Uint8:
		return Uint8, false, nil
	case reflect.Uint16:
		return Uint16, false, nil
	case reflect.Uint32:
		return Uint32, false, nil
	case reflect.Uint64:
		return Uint64, false, nil
	case reflect.Uint:
		return Uint64, true, nil
	case reflect.Bool:
		return Bool, false, nil
	case reflect.Complex64:
		return Complex64, false, nil
	case reflect.Complex128:
		return Complex128, false, nil
	}

	return 0, false, &UnsupportedDtypeError{GoType: t.String()}
}

// checkDataType lehnt Typen ohne festes Speicherlayout ab
func checkDataType(dt DataType) error {
	if _, ok := goTypes[dt]; !ok {
		return &UnsupportedDtypeError{DataType: dt}
	}
	return nil
}
