// ops.go - Typisierte Op-Wrapper
//
// Jeder Wrapper fügt genau eine Operation über den Scope hinzu und gibt
// ihren ersten Ausgang zurück.
package op

import (
	"maps"
	"slices"

	"github.com/ollama/tfbind/tf"
)

type attrs map[string]tf.AttrValue

// build fügt eine Operation mit Namen, Control-Dependencies und Gerät des
// Scopes hinzu
func build(s *Scope, opType, name string, inputs []tf.Output, as attrs) (*tf.Operation, error) {
	b := s.graph.NewOperation(opType, name)
	for _, in := range inputs {
		b.AddInput(in)
	}
	for _, c := range s.controls {
		b.AddControlInput(c)
	}
	if s.device != "" {
		b.SetDevice(s.device)
	}
	for _, k := range slices.Sorted(maps.Keys(as)) {
		b.SetAttr(k, as[k])
	}
	return b.Finish()
}

// typed setzt das Attribut T aus dem ersten Eingang
func typed(s *Scope, opType string, inputs ...tf.Output) (tf.Output, error) {
	op, err := build(s, opType, s.opName(opType), inputs, attrs{"T": tf.AttrType(inputs[0].DataType())})
	if err != nil {
		return tf.Output{}, err
	}
	return op.Output(0), nil
}

// Const fügt eine Konstante aus einem Go-Wert hinzu
func Const(s *Scope, value any) (tf.Output, error) {
	return constNamed(s, s.opName("Const"), value)
}

func constNamed(s *Scope, name string, value any) (tf.Output, error) {
	t, err := tf.NewTensor(s.graph.Runtime(), value)
	if err != nil {
		return tf.Output{}, err
	}
	defer t.Close()

	return constTensor(s, name, t)
}

// ConstTensor fügt eine Konstante mit einer Kopie von t hinzu
func ConstTensor(s *Scope, t *tf.Tensor) (tf.Output, error) {
	return constTensor(s, s.opName("Const"), t)
}

func constTensor(s *Scope, name string, t *tf.Tensor) (tf.Output, error) {
	op, err := build(s, "Const", name, nil, attrs{
		"dtype": tf.AttrType(t.DataType()),
		"value": tf.AttrTensor{Tensor: t},
	})
	if err != nil {
		return tf.Output{}, err
	}
	return op.Output(0), nil
}

// Placeholder fügt einen Eingang hinzu, der bei jedem Lauf gefüttert
// werden muss
func Placeholder(s *Scope, dtype tf.DataType, shape tf.Shape) (tf.Output, error) {
	op, err := build(s, "Placeholder", s.opName("Placeholder"), nil, attrs{
		"dtype": tf.AttrType(dtype),
		"shape": tf.AttrShape(shape),
	})
	if err != nil {
		return tf.Output{}, err
	}
	return op.Output(0), nil
}

func Identity(s *Scope, x tf.Output) (tf.Output, error) { return typed(s, "Identity", x) }

// Add addiert elementweise (AddV2)
func Add(s *Scope, x, y tf.Output) (tf.Output, error) { return typed(s, "AddV2", x, y) }

func Sub(s *Scope, x, y tf.Output) (tf.Output, error) { return typed(s, "Sub", x, y) }
func Mul(s *Scope, x, y tf.Output) (tf.Output, error) { return typed(s, "Mul", x, y) }
func Neg(s *Scope, x tf.Output) (tf.Output, error)    { return typed(s, "Neg", x) }
func Square(s *Scope, x tf.Output) (tf.Output, error) { return typed(s, "Square", x) }

func ZerosLike(s *Scope, x tf.Output) (tf.Output, error) { return typed(s, "ZerosLike", x) }
func OnesLike(s *Scope, x tf.Output) (tf.Output, error)  { return typed(s, "OnesLike", x) }

// MatMul multipliziert zwei Matrizen, optional transponiert
func MatMul(s *Scope, a, b tf.Output, transposeA, transposeB bool) (tf.Output, error) {
	op, err := build(s, "MatMul", s.opName("MatMul"), []tf.Output{a, b}, attrs{
		"T":           tf.AttrType(a.DataType()),
		"transpose_a": tf.AttrBool(transposeA),
		"transpose_b": tf.AttrBool(transposeB),
	})
	if err != nil {
		return tf.Output{}, err
	}
	return op.Output(0), nil
}

// NoOp tut nichts; mit WithControlDependencies bündelt sie Operationen
func NoOp(s *Scope) (*tf.Operation, error) {
	return build(s, "NoOp", s.opName("NoOp"), nil, nil)
}

// Assign schreibt value in die Variable ref
func Assign(s *Scope, ref, value tf.Output) (*tf.Operation, error) {
	return build(s, "Assign", s.opName("Assign"), []tf.Output{ref, value}, attrs{"T": tf.AttrType(value.DataType())})
}

// ApplyGradientDescent: var -= alpha * delta
func ApplyGradientDescent(s *Scope, v, alpha, delta tf.Output) (*tf.Operation, error) {
	return build(s, "ApplyGradientDescent", s.opName("ApplyGradientDescent"),
		[]tf.Output{v, alpha, delta}, attrs{"T": tf.AttrType(alpha.DataType())})
}

// ApplyAdadelta aktualisiert var und die beiden Akkumulatoren
func ApplyAdadelta(s *Scope, v, accum, accumUpdate, lr, rho, epsilon, grad tf.Output) (*tf.Operation, error) {
	return build(s, "ApplyAdadelta", s.opName("ApplyAdadelta"),
		[]tf.Output{v, accum, accumUpdate, lr, rho, epsilon, grad}, attrs{"T": tf.AttrType(lr.DataType())})
}
