package train

import (
	"fmt"

	"github.com/ollama/tfbind/tf"
	"github.com/ollama/tfbind/tf/op"
)

// Vorgaben nach M. D. Zeiler, https://arxiv.org/abs/1212.5701
const (
	defaultAdadeltaLearningRate float32 = 0.001
	defaultAdadeltaRho          float32 = 0.95
	defaultAdadeltaEpsilon      float32 = 1e-8
)

// AdadeltaOptimizer implementiert Adadelta. Nicht gesetzte Parameter werden
// beim Anwenden als Konstanten angelegt.
type AdadeltaOptimizer struct {
	learningRate *tf.Output
	rho          *tf.Output
	epsilon      *tf.Output
}

func NewAdadeltaOptimizer() *AdadeltaOptimizer {
	return &AdadeltaOptimizer{}
}

// SetLearningRate setzt die Lernrate, Vorgabe 0.001
func (o *AdadeltaOptimizer) SetLearningRate(lr tf.Output) *AdadeltaOptimizer {
	o.learningRate = &lr
	return o
}

// SetRho setzt die Abklingrate, Vorgabe 0.95
func (o *AdadeltaOptimizer) SetRho(rho tf.Output) *AdadeltaOptimizer {
	o.rho = &rho
	return o
}

// SetEpsilon setzt die Konditionierung, Vorgabe 1e-8
func (o *AdadeltaOptimizer) SetEpsilon(eps tf.Output) *AdadeltaOptimizer {
	o.epsilon = &eps
	return o
}

func orConst(s *op.Scope, v *tf.Output, def float32) (tf.Output, error) {
	if v != nil {
		return *v, nil
	}
	return op.Const(s, def)
}

// zerosSlot legt eine mit Nullen initialisierte Variable in der Form von
// primary an. Das ZerosLike liest primary und hängt deshalb von dessen
// Initialisierer ab.
func zerosSlot(s *op.Scope, primary *op.Variable) (*op.Variable, error) {
	zeros, err := op.ZerosLike(s.WithControlDependencies(primary.Initializer()), primary.Output())
	if err != nil {
		return nil, err
	}
	return op.NewVariable().
		InitialValue(zeros).
		Shape(primary.Shape()).
		DataType(primary.DataType()).
		Build(s)
}

func (o *AdadeltaOptimizer) ApplyGradients(s *op.Scope, gvs []GradAndVar) ([]*op.Variable, *tf.Operation, error) {
	lr, err := orConst(s, o.learningRate, defaultAdadeltaLearningRate)
	if err != nil {
		return nil, nil, err
	}
	rho, err := orConst(s, o.rho, defaultAdadeltaRho)
	if err != nil {
		return nil, nil, err
	}
	eps, err := orConst(s, o.epsilon, defaultAdadeltaEpsilon)
	if err != nil {
		return nil, nil, err
	}

	var slots []*op.Variable
	var apply []*tf.Operation
	for _, gv := range gvs {
		if gv.Grad == nil {
			continue
		}

		vs := s.SubScope(gv.Var.Name())
		accum, err := zerosSlot(vs.SubScope("accum"), gv.Var)
		if err != nil {
			return nil, nil, fmt.Errorf("adadelta slot accum for %s: %w", gv.Var.Name(), err)
		}
		accumUpdate, err := zerosSlot(vs.SubScope("accum_update"), gv.Var)
		if err != nil {
			return nil, nil, fmt.Errorf("adadelta slot accum_update for %s: %w", gv.Var.Name(), err)
		}

		a, err := op.ApplyAdadelta(vs, gv.Var.Output(), accum.Output(), accumUpdate.Output(), lr, rho, eps, *gv.Grad)
		if err != nil {
			return nil, nil, err
		}
		apply = append(apply, a)
		slots = append(slots, accum, accumUpdate)
	}

	step, err := group(s, apply)
	if err != nil {
		return nil, nil, err
	}
	return slots, step, nil
}
