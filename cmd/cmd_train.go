// cmd_train.go - train Command
// Hauptfunktionen: TrainHandler, newOptimizer, newTrainCmd
package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ollama/tfbind/tf"
	"github.com/ollama/tfbind/tf/op"
	"github.com/ollama/tfbind/train"
)

// newOptimizer - Erstellt den Optimizer nach Name
func newOptimizer(s *op.Scope, name string, lr float32) (train.Optimizer, error) {
	rate, err := op.Const(s.WithOpName("learning_rate"), lr)
	if err != nil {
		return nil, err
	}

	switch name {
	case "sgd", "gradient-descent":
		return train.NewGradientDescentOptimizer(rate), nil
	case "adadelta":
		return train.NewAdadeltaOptimizer().SetLearningRate(rate), nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q (want sgd or adadelta)", name)
	}
}

// TrainHandler - Minimiert x*x ab einem Startwert und gibt x pro Schritt aus
func TrainHandler(cmd *cobra.Command, _ []string) (err error) {
	steps, _ := cmd.Flags().GetInt("steps")
	lr, _ := cmd.Flags().GetFloat32("learning-rate")
	start, _ := cmd.Flags().GetFloat32("start")
	name, _ := cmd.Flags().GetString("optimizer")

	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, rt.Close()) }()

	s, err := op.NewScope(rt)
	if err != nil {
		return err
	}
	defer s.Graph().Close()

	x, err := op.NewVariable().ConstInitialValue(start).Build(s.WithOpName("x"))
	if err != nil {
		return err
	}
	loss, err := op.Square(s.WithOpName("loss"), x.Output())
	if err != nil {
		return err
	}

	opt, err := newOptimizer(s, name, lr)
	if err != nil {
		return err
	}
	slots, step, err := train.Minimize(s.SubScope("train"), opt, loss, []*op.Variable{x})
	if err != nil {
		return err
	}

	sess, err := tf.NewSession(s.Graph(), nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	setup := sess.NewRunArgs().AddTarget(x.Initializer())
	for _, v := range slots {
		setup.AddTarget(v.Initializer())
	}
	if err := setup.Run(cmd.Context()); err != nil {
		return err
	}

	args := sess.NewRunArgs().AddTarget(step)
	defer args.Close()
	tok := args.RequestFetch(x.Output().Op, x.Output().Index)

	out := cmd.OutOrStdout()
	for i := range steps {
		if err := args.Run(cmd.Context()); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}

		t, err := args.Fetch(tok)
		if err != nil {
			return err
		}
		v, err := tf.ValuesAs[float32](t)
		t.Close()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "step %d: x = %.6g\n", i+1, v[0])
	}
	return nil
}

// newTrainCmd - Erstellt den train Command
func newTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Minimize x*x with an optimizer and print x after each step",
		Args:  cobra.NoArgs,
		RunE:  TrainHandler,
	}

	cmd.Flags().Int("steps", 10, "Number of training steps")
	cmd.Flags().Float32("learning-rate", 0.1, "Learning rate")
	cmd.Flags().Float32("start", 3, "Initial value of x")
	cmd.Flags().String("optimizer", "sgd", "Optimizer (sgd, adadelta)")
	return cmd
}
