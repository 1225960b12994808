// shape.go - Tensor-Shapes
// Enthält: Shape, ScalarShape(), MakeShape(), Shape-Abfragen

package tf

import (
	"fmt"
	"math"
	"math/bits"
	"slices"
	"strings"
)

// Shape ist die Form eines Tensors oder eines Graph-Ausgangs. Dimensionen
// von -1 sind unbekannt; ein nil-dims mit unknownRank bedeutet unbekannten Rang.
type Shape struct {
	dims        []int64
	unknownRank bool
}

// ScalarShape ist die Shape mit Rang 0
func ScalarShape() Shape { return Shape{dims: []int64{}} }

// MakeShape erstellt eine Shape aus Dimensionen (-1 = unbekannt)
func MakeShape(dims ...int64) Shape {
	return Shape{dims: slices.Clone(dims)}
}

// UnknownShape ist eine Shape mit unbekanntem Rang
func UnknownShape() Shape { return Shape{unknownRank: true} }

// NumDimensions gibt den Rang zurück, -1 bei unbekanntem Rang
func (s Shape) NumDimensions() int {
	if s.unknownRank {
		return -1
	}
	return len(s.dims)
}

// Size gibt die Dimension i zurück
func (s Shape) Size(i int) int64 { return s.dims[i] }

// Dims gibt eine Kopie der Dimensionen zurück
func (s Shape) Dims() []int64 { return slices.Clone(s.dims) }

// IsFullyDefined meldet, ob Rang und alle Dimensionen bekannt sind
func (s Shape) IsFullyDefined() bool {
	return !s.unknownRank && !slices.ContainsFunc(s.dims, func(d int64) bool { return d < 0 })
}

// NumElements ist das Produkt der Dimensionen, -1 wenn nicht voll bekannt
func (s Shape) NumElements() int64 {
	if !s.IsFullyDefined() {
		return -1
	}
	return numElements(s.dims)
}

// Equal vergleicht zwei Shapes inklusive unbekannter Dimensionen
func (s Shape) Equal(o Shape) bool {
	return s.unknownRank == o.unknownRank && slices.Equal(s.dims, o.dims)
}

func (s Shape) String() string {
	if s.unknownRank {
		return "?"
	}

	parts := make([]string, len(s.dims))
	for i, d := range s.dims {
		if d < 0 {
			parts[i] = "?"
		} else {
			parts[i] = fmt.Sprint(d)
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func numElements(dims []int64) int64 {
	n := int64(1)
	for _, d := range dims {
		n *= d
	}
	return n
}

// checkDims lehnt bei konkreten Tensoren negative Dimensionen und
// Puffer ab, deren Größe in Bytes nicht in int passt
func checkDims(dims []int64, elemSize int) error {
	for i, d := range dims {
		if d < 0 {
			return &ShapeMismatchError{Shape: MakeShape(dims...), Detail: fmt.Sprintf("dimension %d is negative", i)}
		}
	}
	if slices.Contains(dims, 0) {
		return nil
	}

	n := uint64(max(elemSize, 1))
	for _, d := range dims {
		hi, lo := bits.Mul64(n, uint64(d))
		if hi != 0 || lo > math.MaxInt {
			return &ShapeMismatchError{Shape: MakeShape(dims...), Detail: "element count overflows"}
		}
		n = lo
	}
	return nil
}
