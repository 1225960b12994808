// marshal.go - Type Marshal zwischen Go-Werten und nativen Tensor-Puffern
//
// Dieses Modul enthält:
// - scalar: typneutrales Element für den Konvertierungspfad
// - decodeElem/encodeElem: ein Element lesen/schreiben mit Bereichsprüfung
// - inspect/fill: Shape aus verschachtelten Slices ableiten und Puffer füllen
// - convertBuffer: Puffer zwischen Byte-Reihenfolgen kopieren
package tf

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"unsafe"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
	"golang.org/x/sys/cpu"
)

var hostOrder binary.ByteOrder = binary.LittleEndian

func init() {
	if cpu.IsBigEndian {
		hostOrder = binary.BigEndian
	}
}

const (
	maxHalf     = 65504
	maxBFloat16 = 3.3895313892515355e38
)

type scalarKind uint8

const (
	kindFloat scalarKind = iota
	kindInt
	kindUint
	kindBool
	kindComplex
)

func (k scalarKind) String() string {
	switch k {
	case kindFloat:
		return "float"
	case kindInt:
		return "int"
	case kindUint:
		return "uint"
	case kindBool:
		return "bool"
	default:
		return "complex"
	}
}

// scalar ist ein einzelnes Element ohne Bindung an ein Speicherlayout
type scalar struct {
	kind scalarKind
	f    float64
	i    int64
	u    uint64
	c    complex128
}

func (s scalar) String() string {
	switch s.kind {
	case kindFloat:
		return fmt.Sprint(s.f)
	case kindInt:
		return fmt.Sprint(s.i)
	case kindUint:
		return fmt.Sprint(s.u)
	case kindBool:
		return fmt.Sprint(s.u != 0)
	default:
		return fmt.Sprint(s.c)
	}
}

func bf16Bits(f float32) uint16 {
	return binary.LittleEndian.Uint16(bfloat16.EncodeFloat32([]float32{f}))
}

func bf16Float(bits uint16) float32 {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], bits)
	return bfloat16.DecodeFloat32(b[:])[0]
}

func decodeElem(order binary.ByteOrder, dt DataType, b []byte) scalar {
	switch dt {
	case Float:
		return scalar{kind: kindFloat, f: float64(math.Float32frombits(order.Uint32(b)))}
	case Double:
		return scalar{kind: kindFloat, f: math.Float64frombits(order.Uint64(b))}
	case Half:
		return scalar{kind: kindFloat, f: float64(float16.Frombits(order.Uint16(b)).Float32())}
	case BFloat16:
		return scalar{kind: kindFloat, f: float64(bf16Float(order.Uint16(b)))}
	case Int8:
		return scalar{kind: kindInt, i: int64(int8(b[0]))}
	case Int16:
		return scalar{kind: kindInt, i: int64(int16(order.Uint16(b)))}
	case Int32:
		return scalar{kind: kindInt, i: int64(int32(order.Uint32(b)))}
	case Int64:
		return scalar{kind: kindInt, i: int64(order.Uint64(b))}
	case Uint8:
		return scalar{kind: kindUint, u: uint64(b[0])}
	case Uint16:
		return scalar{kind: kindUint, u: uint64(order.Uint16(b))}
	case Uint32:
		return scalar{kind: kindUint, u: uint64(order.Uint32(b))}
	case Uint64:
		return scalar{kind: kindUint, u: order.Uint64(b)}
	case Bool:
		var u uint64
		if b[0] != 0 {
			u = 1
		}
		return scalar{kind: kindBool, u: u}
	case Complex64:
		re := math.Float32frombits(order.Uint32(b))
		im := math.Float32frombits(order.Uint32(b[4:]))
		return scalar{kind: kindComplex, c: complex(float64(re), float64(im))}
	case Complex128:
		re := math.Float64frombits(order.Uint64(b))
		im := math.Float64frombits(order.Uint64(b[8:]))
		return scalar{kind: kindComplex, c: complex(re, im)}
	}

	panic(fmt.Sprintf("tf: decode of unsupported dtype %v", dt))
}

func outOfRange(s scalar, dt DataType) error {
	return fmt.Errorf("%w: %s %v cannot be represented as %v", ErrOutOfRange, s.kind, s, dt)
}

func unsupported(s scalar, dt DataType) error {
	return &UnsupportedDtypeError{DataType: dt, GoType: s.kind.String()}
}

// mantissa ist die Anzahl signifikanter Bits eines Gleitkommatyps
func mantissa(dt DataType) uint {
	switch dt {
	case Half:
		return 11
	case BFloat16:
		return 8
	case Float, Complex64:
		return 24
	default:
		return 53
	}
}

// toFloat erlaubt Runden zwischen Gleitkommatypen, aber nur exakte
// Ganzzahlen und keinen Überlauf
func (s scalar) toFloat(dt DataType, limit float64) (float64, error) {
	var f float64
	switch s.kind {
	case kindFloat:
		f = s.f
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return f, nil
		}
	case kindInt:
		if new(big.Float).SetPrec(mantissa(dt)).SetInt64(s.i).Acc() != big.Exact {
			return 0, outOfRange(s, dt)
		}
		f = float64(s.i)
	case kindUint:
		if new(big.Float).SetPrec(mantissa(dt)).SetUint64(s.u).Acc() != big.Exact {
			return 0, outOfRange(s, dt)
		}
		f = float64(s.u)
	default:
		return 0, unsupported(s, dt)
	}

	if math.Abs(f) > limit {
		return 0, outOfRange(s, dt)
	}
	return f, nil
}

func (s scalar) toInt(dt DataType, lo, hi int64) (int64, error) {
	switch s.kind {
	case kindInt:
		if s.i < lo || s.i > hi {
			return 0, outOfRange(s, dt)
		}
		return s.i, nil
	case kindUint:
		if s.u > uint64(hi) {
			return 0, outOfRange(s, dt)
		}
		return int64(s.u), nil
	case kindFloat:
		if math.IsNaN(s.f) || math.Trunc(s.f) != s.f || s.f < float64(lo) || s.f >= float64(hi)+1 {
			return 0, outOfRange(s, dt)
		}
		return int64(s.f), nil
	default:
		return 0, unsupported(s, dt)
	}
}

func (s scalar) toUint(dt DataType, hi uint64) (uint64, error) {
	switch s.kind {
	case kindUint:
		if s.u > hi {
			return 0, outOfRange(s, dt)
		}
		return s.u, nil
	case kindInt:
		if s.i < 0 || uint64(s.i) > hi {
			return 0, outOfRange(s, dt)
		}
		return uint64(s.i), nil
	case kindFloat:
		if math.IsNaN(s.f) || math.Trunc(s.f) != s.f || s.f < 0 || s.f >= float64(hi)+1 {
			return 0, outOfRange(s, dt)
		}
		return uint64(s.f), nil
	default:
		return 0, unsupported(s, dt)
	}
}

func (s scalar) toComplex(dt DataType, limit float64) (complex128, error) {
	if s.kind == kindComplex {
		if math.Abs(real(s.c)) > limit || math.Abs(imag(s.c)) > limit {
			return 0, outOfRange(s, dt)
		}
		return s.c, nil
	}

	f, err := s.toFloat(dt, limit)
	if err != nil {
		return 0, err
	}
	return complex(f, 0), nil
}

// encodeElem schreibt s als dt in b. Nicht darstellbare Werte ergeben
// ErrOutOfRange statt abgeschnittener Werte.
func encodeElem(order binary.ByteOrder, dt DataType, b []byte, s scalar) error {
	switch dt {
	case Float:
		f, err := s.toFloat(dt, math.MaxFloat32)
		if err != nil {
			return err
		}
		order.PutUint32(b, math.Float32bits(float32(f)))
	case Double:
		f, err := s.toFloat(dt, math.MaxFloat64)
		if err != nil {
			return err
		}
		order.PutUint64(b, math.Float64bits(f))
	case Half:
		f, err := s.toFloat(dt, maxHalf)
		if err != nil {
			return err
		}
		order.PutUint16(b, float16.Fromfloat32(float32(f)).Bits())
	case BFloat16:
		f, err := s.toFloat(dt, maxBFloat16)
		if err != nil {
			return err
		}
		order.PutUint16(b, bf16Bits(float32(f)))
	case Int8:
		i, err := s.toInt(dt, math.MinInt8, math.MaxInt8)
		if err != nil {
			return err
		}
		b[0] = byte(int8(i))
	case Int16:
		i, err := s.toInt(dt, math.MinInt16, math.MaxInt16)
		if err != nil {
			return err
		}
		order.PutUint16(b, uint16(int16(i)))
	case Int32:
		i, err := s.toInt(dt, math.MinInt32, math.MaxInt32)
		if err != nil {
			return err
		}
		order.PutUint32(b, uint32(int32(i)))
	case Int64:
		i, err := s.toInt(dt, math.MinInt64, math.MaxInt64)
		if err != nil {
			return err
		}
		order.PutUint64(b, uint64(i))
	case Uint8:
		u, err := s.toUint(dt, math.MaxUint8)
		if err != nil {
			return err
		}
		b[0] = byte(u)
	case Uint16:
		u, err := s.toUint(dt, math.MaxUint16)
		if err != nil {
			return err
		}
		order.PutUint16(b, uint16(u))
	case Uint32:
		u, err := s.toUint(dt, math.MaxUint32)
		if err != nil {
			return err
		}
		order.PutUint32(b, uint32(u))
	case Uint64:
		u, err := s.toUint(dt, math.MaxUint64)
		if err != nil {
			return err
		}
		order.PutUint64(b, u)
	case Bool:
		if s.kind != kindBool {
			return unsupported(s, dt)
		}
		b[0] = byte(s.u)
	case Complex64:
		c, err := s.toComplex(dt, math.MaxFloat32)
		if err != nil {
			return err
		}
		order.PutUint32(b, math.Float32bits(float32(real(c))))
		order.PutUint32(b[4:], math.Float32bits(float32(imag(c))))
	case Complex128:
		c, err := s.toComplex(dt, math.MaxFloat64)
		if err != nil {
			return err
		}
		order.PutUint64(b, math.Float64bits(real(c)))
		order.PutUint64(b[8:], math.Float64bits(imag(c)))
	default:
		return &UnsupportedDtypeError{DataType: dt}
	}
	return nil
}

// readScalar liest ein Go-Element per reflect
func readScalar(v reflect.Value) (scalar, error) {
	switch v.Type() {
	case typeHalf:
		return scalar{kind: kindFloat, f: float64(float16.Frombits(uint16(v.Uint())).Float32())}, nil
	case typeBFloat16:
		return scalar{kind: kindFloat, f: float64(bf16Float(uint16(v.Uint())))}, nil
	}

	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return scalar{kind: kindFloat, f: v.Float()}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return scalar{kind: kindInt, i: v.Int()}, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return scalar{kind: kindUint, u: v.Uint()}, nil
	case reflect.Bool:
		var u uint64
		if v.Bool() {
			u = 1
		}
		return scalar{kind: kindBool, u: u}, nil
	case reflect.Complex64, reflect.Complex128:
		return scalar{kind: kindComplex, c: v.Complex()}, nil
	}

	return scalar{}, &UnsupportedDtypeError{GoType: v.Type().String()}
}

func isList(t reflect.Type) bool {
	return t.Kind() == reflect.Slice || t.Kind() == reflect.Array
}

// inspect leitet Shape und Elementtyp aus verschachtelten Slices ab und
// prüft, dass sie rechteckig sind
func inspect(v reflect.Value) (dims []int64, elem reflect.Type, err error) {
	elem = v.Type()
	for isList(elem) {
		elem = elem.Elem()
	}

	cur := v
	for isList(cur.Type()) {
		dims = append(dims, int64(cur.Len()))
		if cur.Len() == 0 {
			for t := cur.Type().Elem(); isList(t); t = t.Elem() {
				if t.Kind() == reflect.Array {
					dims = append(dims, int64(t.Len()))
				} else {
					dims = append(dims, 0)
				}
			}
			break
		}
		cur = cur.Index(0)
	}

	if err := checkRect(v, dims, 0); err != nil {
		return nil, nil, err
	}
	return dims, elem, nil
}

func checkRect(v reflect.Value, dims []int64, depth int) error {
	if depth == len(dims) {
		return nil
	}
	if int64(v.Len()) != dims[depth] {
		return &ShapeMismatchError{
			Shape:  MakeShape(dims...),
			Detail: fmt.Sprintf("ragged input: length %d at depth %d", v.Len(), depth),
		}
	}
	for i := range v.Len() {
		if err := checkRect(v.Index(i), dims, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// rawBytes ist der Speicher eines Slices als Bytes
func rawBytes(v reflect.Value, size int) []byte {
	if v.Len() == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(v.UnsafePointer()), v.Len()*size)
}

// filler schreibt verschachtelte Go-Werte in einen nativen Puffer
type filler struct {
	dt     DataType
	order  binary.ByteOrder
	rank   int
	direct bool
}

func (f *filler) fill(dst []byte, v reflect.Value, depth int) ([]byte, error) {
	size := f.dt.Size()

	if depth == f.rank {
		s, err := readScalar(v)
		if err != nil {
			return nil, err
		}
		if err := encodeElem(f.order, f.dt, dst, s); err != nil {
			return nil, err
		}
		return dst[size:], nil
	}

	// Innerstes Slice mit identischem Layout: ein einziges copy
	if f.direct && depth == f.rank-1 && v.Kind() == reflect.Slice {
		n := copy(dst, rawBytes(v, size))
		return dst[n:], nil
	}

	for i := range v.Len() {
		var err error
		if dst, err = f.fill(dst, v.Index(i), depth+1); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// convertBuffer kopiert Elemente von src nach dst und dreht bei
// unterschiedlicher Byte-Reihenfolge jedes Element einzeln
func convertBuffer(dst []byte, dstOrder binary.ByteOrder, src []byte, srcOrder binary.ByteOrder, dt DataType) {
	n := copy(dst, src)
	if dstOrder == srcOrder {
		return
	}

	part := dt.Size()
	if dt == Complex64 || dt == Complex128 {
		part /= 2
	}
	if part <= 1 {
		return
	}

	for off := 0; off+part <= n; off += part {
		b := dst[off : off+part]
		for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
			b[i], b[j] = b[j], b[i]
		}
	}
}

// hostLayout bestimmt den DataType mit demselben Speicherlayout wie t
func hostLayout(t reflect.Type) (DataType, error) {
	switch t.Kind() {
	case reflect.Int:
		if t.Size() == 4 {
			return Int32, nil
		}
		return Int64, nil
	case reflect.Uint:
		if t.Size() == 4 {
			return Uint32, nil
		}
		return Uint64, nil
	}

	dt, _, err := dataTypeOf(t)
	return dt, err
}
