package train

import (
	"github.com/ollama/tfbind/tf"
	"github.com/ollama/tfbind/tf/op"
)

// GradientDescentOptimizer: var -= learningRate * grad
type GradientDescentOptimizer struct {
	LearningRate tf.Output
}

func NewGradientDescentOptimizer(learningRate tf.Output) *GradientDescentOptimizer {
	return &GradientDescentOptimizer{LearningRate: learningRate}
}

func (o *GradientDescentOptimizer) ApplyGradients(s *op.Scope, gvs []GradAndVar) ([]*op.Variable, *tf.Operation, error) {
	var apply []*tf.Operation
	for _, gv := range gvs {
		if gv.Grad == nil {
			continue
		}
		a, err := op.ApplyGradientDescent(s, gv.Var.Output(), o.LearningRate, *gv.Grad)
		if err != nil {
			return nil, nil, err
		}
		apply = append(apply, a)
	}

	step, err := group(s, apply)
	if err != nil {
		return nil, nil, err
	}
	return nil, step, nil
}
