package tf

import (
	"encoding/binary"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeDecodeBigEndian(t *testing.T) {
	cases := []struct {
		dt   DataType
		in   scalar
		want []byte
	}{
		{Int32, scalar{kind: kindInt, i: 1}, []byte{0, 0, 0, 1}},
		{Uint16, scalar{kind: kindUint, u: 0x0102}, []byte{1, 2}},
		{Float, scalar{kind: kindFloat, f: 1}, []byte{0x3f, 0x80, 0, 0}},
		{Double, scalar{kind: kindFloat, f: -2}, []byte{0xc0, 0, 0, 0, 0, 0, 0, 0}},
		{Half, scalar{kind: kindFloat, f: 1}, []byte{0x3c, 0}},
		{BFloat16, scalar{kind: kindFloat, f: 1}, []byte{0x3f, 0x80}},
		{Complex64, scalar{kind: kindComplex, c: 1 + 2i}, []byte{0x3f, 0x80, 0, 0, 0x40, 0, 0, 0}},
		{Bool, scalar{kind: kindBool, u: 1}, []byte{1}},
	}

	for _, tt := range cases {
		t.Run(tt.dt.String(), func(t *testing.T) {
			b := make([]byte, tt.dt.Size())
			if err := encodeElem(binary.BigEndian, tt.dt, b, tt.in); err != nil {
				t.Fatalf("encodeElem: %v", err)
			}
			if diff := cmp.Diff(tt.want, b); diff != "" {
				t.Errorf("encodeElem (-want +got):\n%s", diff)
			}

			if got := decodeElem(binary.BigEndian, tt.dt, b); got != tt.in {
				t.Errorf("decodeElem = %v, erwartet %v", got, tt.in)
			}
		})
	}
}

func TestConvertBuffer(t *testing.T) {
	cases := []struct {
		dt   DataType
		src  []byte
		want []byte
	}{
		{Int32, []byte{1, 2, 3, 4, 5, 6, 7, 8}, []byte{4, 3, 2, 1, 8, 7, 6, 5}},
		{Half, []byte{1, 2, 3, 4}, []byte{2, 1, 4, 3}},
		{Complex64, []byte{1, 2, 3, 4, 5, 6, 7, 8}, []byte{4, 3, 2, 1, 8, 7, 6, 5}},
		{Uint8, []byte{1, 2, 3}, []byte{1, 2, 3}},
		{Bool, []byte{1, 0}, []byte{1, 0}},
	}

	for _, tt := range cases {
		t.Run(tt.dt.String(), func(t *testing.T) {
			dst := make([]byte, len(tt.src))
			convertBuffer(dst, binary.LittleEndian, tt.src, binary.BigEndian, tt.dt)
			if diff := cmp.Diff(tt.want, dst); diff != "" {
				t.Errorf("convertBuffer (-want +got):\n%s", diff)
			}

			same := make([]byte, len(tt.src))
			convertBuffer(same, binary.BigEndian, tt.src, binary.BigEndian, tt.dt)
			if diff := cmp.Diff(tt.src, same); diff != "" {
				t.Errorf("convertBuffer gleiche Reihenfolge (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeRange(t *testing.T) {
	cases := []struct {
		name string
		dt   DataType
		in   scalar
		err  error
	}{
		{"int8 overflow", Int8, scalar{kind: kindInt, i: 128}, ErrOutOfRange},
		{"int8 min", Int8, scalar{kind: kindInt, i: -128}, nil},
		{"uint negative", Uint32, scalar{kind: kindInt, i: -1}, ErrOutOfRange},
		{"uint64 to int64", Int64, scalar{kind: kindUint, u: math.MaxUint64}, ErrOutOfRange},
		{"float to int exact", Int16, scalar{kind: kindFloat, f: 12}, nil},
		{"float to int fraction", Int16, scalar{kind: kindFloat, f: 12.5}, ErrOutOfRange},
		{"nan to int", Int32, scalar{kind: kindFloat, f: math.NaN()}, ErrOutOfRange},
		{"double to float overflow", Float, scalar{kind: kindFloat, f: 1e39}, ErrOutOfRange},
		{"inf to float", Float, scalar{kind: kindFloat, f: math.Inf(1)}, nil},
		{"int to double inexact", Double, scalar{kind: kindInt, i: 1<<53 + 1}, ErrOutOfRange},
		{"complex to float", Float, scalar{kind: kindComplex, c: 1i}, ErrUnsupportedDtype},
		{"int to bool", Bool, scalar{kind: kindInt, i: 1}, ErrUnsupportedDtype},
		{"float to complex", Complex128, scalar{kind: kindFloat, f: 2}, nil},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			b := make([]byte, 16)
			err := encodeElem(binary.LittleEndian, tt.dt, b, tt.in)
			if !errors.Is(err, tt.err) {
				t.Errorf("encodeElem = %v, erwartet %v", err, tt.err)
			}
		})
	}
}

func TestInspect(t *testing.T) {
	cases := []struct {
		name string
		v    any
		dims []int64
	}{
		{"scalar", int16(1), nil},
		{"vector", []float32{1, 2}, []int64{2}},
		{"matrix", [][]int64{{1, 2, 3}, {4, 5, 6}}, []int64{2, 3}},
		{"empty outer", [][][]bool{}, []int64{0, 0, 0}},
		{"array inner", [][4]uint8{}, []int64{0, 4}},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			dims, _, err := inspect(reflect.ValueOf(tt.v))
			if err != nil {
				t.Fatalf("inspect: %v", err)
			}
			if diff := cmp.Diff(tt.dims, dims); diff != "" {
				t.Errorf("dims (-want +got):\n%s", diff)
			}
		})
	}
}
