package train

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ollama/tfbind/native/reference"
	"github.com/ollama/tfbind/tf"
	"github.com/ollama/tfbind/tf/op"
)

func newTestScope(t *testing.T) *op.Scope {
	t.Helper()

	rt, err := tf.NewRuntime(
		tf.WithAPI(reference.New()),
		tf.WithLogger(slog.New(slog.DiscardHandler)),
		tf.WithStrict(false),
		tf.WithLeakCheck(true),
	)
	require.NoError(t, err)

	s, err := op.NewScope(rt)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := s.Graph().Close(); err != nil {
			t.Errorf("Graph.Close: %v", err)
		}
		if err := rt.Close(); err != nil {
			t.Errorf("Runtime.Close: %v", err)
		}
	})
	return s
}

// minimizeSquare minimiert x*x ab x = 3 und gibt x nach jedem Schritt zurück
func minimizeSquare(t *testing.T, s *op.Scope, opt Optimizer, steps int) []float32 {
	t.Helper()

	x, err := op.NewVariable().ConstInitialValue(float32(3)).Build(s.WithOpName("x"))
	require.NoError(t, err)

	loss, err := op.Mul(s, x.Output(), x.Output())
	require.NoError(t, err)

	slots, step, err := Minimize(s, opt, loss, []*op.Variable{x})
	require.NoError(t, err)

	sess, err := tf.NewSession(s.Graph(), nil)
	require.NoError(t, err)
	defer sess.Close()

	setup := sess.NewRunArgs().AddTarget(x.Initializer())
	for _, v := range slots {
		setup.AddTarget(v.Initializer())
	}
	require.NoError(t, setup.Run(t.Context()))

	args := sess.NewRunArgs().AddTarget(step)
	fetch := args.RequestFetch(x.Output().Op, 0)
	defer args.Close()

	var values []float32
	for range steps {
		require.NoError(t, args.Run(t.Context()))

		out, err := args.Fetch(fetch)
		require.NoError(t, err)

		v, err := tf.ValuesAs[float32](out)
		require.NoError(t, err)
		require.Len(t, v, 1)
		values = append(values, v[0])

		require.NoError(t, out.Close())
	}
	return values
}

func TestGradientDescent(t *testing.T) {
	s := newTestScope(t)

	lr, err := op.Const(s, float32(0.1))
	require.NoError(t, err)

	got := minimizeSquare(t, s, NewGradientDescentOptimizer(lr), 3)
	want := []float32{2.4, 1.92, 1.536}
	for i := range want {
		require.InDelta(t, want[i], got[i], 0.01, "Schritt %d", i+1)
	}
}

func TestAdadelta(t *testing.T) {
	s := newTestScope(t)

	lr, err := op.Const(s, float32(0.1))
	require.NoError(t, err)

	got := minimizeSquare(t, s, NewAdadeltaOptimizer().SetLearningRate(lr), 3)

	bounds := [][2]float32{{2.99994, 2.99996}, {2.99990, 2.99992}, {2.99985, 2.99987}}
	for i, b := range bounds {
		if got[i] < b[0] || got[i] > b[1] {
			t.Errorf("Schritt %d: x = %v, erwartet in [%v, %v]", i+1, got[i], b[0], b[1])
		}
	}
}

func TestAdadeltaSlots(t *testing.T) {
	s := newTestScope(t)

	x, err := op.NewVariable().ConstInitialValue([]float32{1, 2}).Build(s.WithOpName("x"))
	require.NoError(t, err)
	loss, err := op.Square(s, x.Output())
	require.NoError(t, err)

	slots, step, err := Minimize(s, NewAdadeltaOptimizer(), loss, []*op.Variable{x})
	require.NoError(t, err)
	require.NotNil(t, step)
	require.Len(t, slots, 2)

	for i, prefix := range []string{"x/accum/", "x/accum_update/"} {
		if got := slots[i].Name(); got != prefix+"Variable" {
			t.Errorf("slot %d: Name() = %q, erwartet %q", i, got, prefix+"Variable")
		}
		if !slots[i].Shape().Equal(x.Shape()) {
			t.Errorf("slot %d: Shape() = %v", i, slots[i].Shape())
		}
	}
}

func TestComputeGradientsUnreachable(t *testing.T) {
	s := newTestScope(t)

	x, err := op.NewVariable().ConstInitialValue(float32(1)).Build(s.WithOpName("x"))
	require.NoError(t, err)
	y, err := op.NewVariable().ConstInitialValue(float32(2)).Build(s.WithOpName("y"))
	require.NoError(t, err)

	loss, err := op.Square(s, x.Output())
	require.NoError(t, err)

	gvs, err := ComputeGradients(s, loss, []*op.Variable{x, y})
	require.NoError(t, err)
	require.Len(t, gvs, 2)

	if gvs[0].Grad == nil || gvs[0].Var != x {
		t.Errorf("Gradient nach x fehlt: %+v", gvs[0])
	}
	if gvs[1].Grad != nil {
		t.Errorf("Gradient nach y = %v, erwartet nil", gvs[1].Grad)
	}

	// Variablen ohne Gradient werden übergangen
	_, step, err := NewGradientDescentOptimizer(x.Output()).ApplyGradients(s, gvs)
	require.NoError(t, err)
	if step.Type() != "NoOp" {
		t.Errorf("step.Type() = %q", step.Type())
	}
}
