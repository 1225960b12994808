// variable.go - Zustandsbehaftete Variablen
// Enthält: VariableBuilder, Variable

package op

import (
	"errors"
	"fmt"

	"github.com/ollama/tfbind/tf"
)

// Variable ist eine VariableV2-Operation mit ihrem Initialisierer. Vor dem
// ersten Lesen muss Initializer ausgeführt werden.
type Variable struct {
	name        string
	output      tf.Output
	initializer *tf.Operation
	dtype       tf.DataType
	shape       tf.Shape
}

func (v *Variable) Name() string               { return v.name }
func (v *Variable) Output() tf.Output          { return v.output }
func (v *Variable) Initializer() *tf.Operation { return v.initializer }
func (v *Variable) DataType() tf.DataType      { return v.dtype }
func (v *Variable) Shape() tf.Shape            { return v.shape }

// VariableBuilder konfiguriert eine neue Variable
type VariableBuilder struct {
	initial    *tf.Output
	constValue any
	shape      *tf.Shape
	dtype      tf.DataType
}

// NewVariable beginnt eine neue Variable
func NewVariable() *VariableBuilder {
	return &VariableBuilder{}
}

// InitialValue initialisiert die Variable aus einem Graph-Ausgang
func (b *VariableBuilder) InitialValue(o tf.Output) *VariableBuilder {
	b.initial, b.constValue = &o, nil
	return b
}

// ConstInitialValue initialisiert die Variable mit einer Konstanten
func (b *VariableBuilder) ConstInitialValue(value any) *VariableBuilder {
	b.initial, b.constValue = nil, value
	return b
}

// Shape legt die Shape fest; ohne Angabe gilt die des Anfangswerts
func (b *VariableBuilder) Shape(s tf.Shape) *VariableBuilder {
	b.shape = &s
	return b
}

// DataType legt den Typ fest; ohne Angabe gilt der des Anfangswerts
func (b *VariableBuilder) DataType(dt tf.DataType) *VariableBuilder {
	b.dtype = dt
	return b
}

// Build fügt VariableV2 und Assign hinzu. Der Name kommt aus dem Scope.
func (b *VariableBuilder) Build(s *Scope) (*Variable, error) {
	name := s.opName("Variable")

	var initial tf.Output
	switch {
	case b.initial != nil:
		initial = *b.initial
	case b.constValue != nil:
		var err error
		if initial, err = constNamed(s, name+"/initial_value", b.constValue); err != nil {
			return nil, fmt.Errorf("variable %s: %w", name, err)
		}
	default:
		return nil, fmt.Errorf("variable %s: %w", name, errors.New("no initial value"))
	}

	dtype := b.dtype
	if dtype == 0 {
		dtype = initial.DataType()
	}

	var shape tf.Shape
	if b.shape != nil {
		shape = *b.shape
	} else {
		var err error
		if shape, err = initial.Shape(); err != nil {
			return nil, fmt.Errorf("variable %s: %w", name, err)
		}
	}

	v, err := build(s, "VariableV2", name, nil, attrs{
		"dtype":       tf.AttrType(dtype),
		"shape":       tf.AttrShape(shape),
		"container":   tf.AttrString(""),
		"shared_name": tf.AttrString(""),
	})
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", name, err)
	}

	assign, err := build(s, "Assign", name+"/Assign", []tf.Output{v.Output(0), initial}, attrs{"T": tf.AttrType(dtype)})
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", name, err)
	}

	return &Variable{
		name:        name,
		output:      v.Output(0),
		initializer: assign,
		dtype:       dtype,
		shape:       shape,
	}, nil
}
