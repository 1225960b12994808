// Package train baut Trainingsschritte aus symbolischen Gradienten.
package train

import (
	"fmt"

	"github.com/ollama/tfbind/tf"
	"github.com/ollama/tfbind/tf/op"
)

// GradAndVar ist der Gradient einer Variablen. Grad ist nil, wenn die
// Variable den Verlust nicht beeinflusst.
type GradAndVar struct {
	Grad *tf.Output
	Var  *op.Variable
}

// Optimizer fügt die Operationen für einen Optimierungsschritt hinzu
type Optimizer interface {
	// ApplyGradients gibt die neu angelegten Zustandsvariablen und die
	// Operation für genau einen Schritt zurück
	ApplyGradients(s *op.Scope, gvs []GradAndVar) ([]*op.Variable, *tf.Operation, error)
}

// ComputeGradients berechnet die Gradienten von loss nach vars
func ComputeGradients(s *op.Scope, loss tf.Output, vars []*op.Variable) ([]GradAndVar, error) {
	xs := make([]tf.Output, len(vars))
	for i, v := range vars {
		xs[i] = v.Output()
	}

	grads, err := s.Graph().AddGradients("", []tf.Output{loss}, xs, nil)
	if err != nil {
		return nil, fmt.Errorf("compute gradients: %w", err)
	}

	gvs := make([]GradAndVar, len(vars))
	for i, v := range vars {
		gvs[i] = GradAndVar{Grad: grads[i], Var: v}
	}
	return gvs, nil
}

// Minimize verbindet ComputeGradients und ApplyGradients
func Minimize(s *op.Scope, opt Optimizer, loss tf.Output, vars []*op.Variable) ([]*op.Variable, *tf.Operation, error) {
	gvs, err := ComputeGradients(s, loss, vars)
	if err != nil {
		return nil, nil, err
	}
	return opt.ApplyGradients(s, gvs)
}

// group bündelt Operationen in einer NoOp
func group(s *op.Scope, ops []*tf.Operation) (*tf.Operation, error) {
	return op.NoOp(s.WithControlDependencies(ops...))
}
