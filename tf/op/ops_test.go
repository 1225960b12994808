package op

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/ollama/tfbind/tf"
)

// run führt fetch mit den feeds aus und gibt die Werte als float32 zurück
func run(t *testing.T, s *Scope, feeds map[tf.Output]any, fetch tf.Output) []float32 {
	t.Helper()

	rt := s.Graph().Runtime()
	in := make(map[tf.Output]*tf.Tensor, len(feeds))
	for o, v := range feeds {
		tensor, err := tf.NewTensor(rt, v)
		require.NoError(t, err)
		defer tensor.Close()
		in[o] = tensor
	}

	sess, err := tf.NewSession(s.Graph(), nil)
	require.NoError(t, err)
	defer sess.Close()

	out, err := sess.Run(t.Context(), in, []tf.Output{fetch}, nil)
	require.NoError(t, err)
	defer out[0].Close()

	got, err := tf.ValuesAs[float32](out[0])
	require.NoError(t, err)
	return got
}

func TestArithmetic(t *testing.T) {
	s := newTestScope(t)

	x, err := Placeholder(s.WithOpName("x"), tf.Float, tf.MakeShape(3))
	require.NoError(t, err)
	c, err := Const(s, []float32{1, 2, 3})
	require.NoError(t, err)

	build := map[string]func() (tf.Output, error){
		"add":    func() (tf.Output, error) { return Add(s, x, c) },
		"sub":    func() (tf.Output, error) { return Sub(s, x, c) },
		"mul":    func() (tf.Output, error) { return Mul(s, x, c) },
		"neg":    func() (tf.Output, error) { return Neg(s, x) },
		"square": func() (tf.Output, error) { return Square(s, x) },
		"id":     func() (tf.Output, error) { return Identity(s, x) },
		"zeros":  func() (tf.Output, error) { return ZerosLike(s, x) },
		"ones":   func() (tf.Output, error) { return OnesLike(s, x) },
	}
	want := map[string][]float32{
		"add":    {5, 7, 9},
		"sub":    {3, 3, 3},
		"mul":    {4, 10, 18},
		"neg":    {-4, -5, -6},
		"square": {16, 25, 36},
		"id":     {4, 5, 6},
		"zeros":  {0, 0, 0},
		"ones":   {1, 1, 1},
	}

	for name, fn := range build {
		t.Run(name, func(t *testing.T) {
			out, err := fn()
			require.NoError(t, err)

			got := run(t, s, map[tf.Output]any{x: []float32{4, 5, 6}}, out)
			if diff := cmp.Diff(want[name], got); diff != "" {
				t.Errorf("%s (-want +got):\n%s", name, diff)
			}
		})
	}
}

func TestMatMul(t *testing.T) {
	s := newTestScope(t)

	a, err := Const(s, [][]float32{{1, 2}, {3, 4}})
	require.NoError(t, err)
	b, err := Const(s, [][]float32{{5, 6}, {7, 8}})
	require.NoError(t, err)

	cases := []struct {
		ta, tb bool
		want   []float32
	}{
		{false, false, []float32{19, 22, 43, 50}},
		{true, false, []float32{26, 30, 38, 44}},
		{false, true, []float32{17, 23, 39, 53}},
	}
	for _, tt := range cases {
		out, err := MatMul(s, a, b, tt.ta, tt.tb)
		require.NoError(t, err)

		shape, err := out.Shape()
		require.NoError(t, err)
		if !shape.Equal(tf.MakeShape(2, 2)) {
			t.Errorf("Shape() = %v", shape)
		}

		if diff := cmp.Diff(tt.want, run(t, s, nil, out)); diff != "" {
			t.Errorf("MatMul(ta=%v, tb=%v) (-want +got):\n%s", tt.ta, tt.tb, diff)
		}
	}
}

func TestVariable(t *testing.T) {
	s := newTestScope(t)

	v, err := NewVariable().ConstInitialValue([]float32{1, 2}).Build(s.WithOpName("w"))
	require.NoError(t, err)

	if v.Name() != "w" || v.DataType() != tf.Float || !v.Shape().Equal(tf.MakeShape(2)) {
		t.Errorf("Variable = %s %v %v", v.Name(), v.DataType(), v.Shape())
	}
	if v.Initializer().Name() != "w/Assign" {
		t.Errorf("Initializer().Name() = %q", v.Initializer().Name())
	}
	if op, err := s.Graph().Operation("w/initial_value"); err != nil || op == nil {
		t.Errorf("w/initial_value fehlt: %v", err)
	}

	doubled, err := Add(s, v.Output(), v.Output())
	require.NoError(t, err)

	sess, err := tf.NewSession(s.Graph(), nil)
	require.NoError(t, err)
	defer sess.Close()

	// vor dem Initialisieren
	if _, err := sess.Run(t.Context(), nil, []tf.Output{doubled}, nil); !tf.IsCode(err, tf.FailedPrecondition) {
		t.Errorf("Lesen vor Initialisierung = %v, erwartet FailedPrecondition", err)
	}

	_, err = sess.Run(t.Context(), nil, nil, []*tf.Operation{v.Initializer()})
	require.NoError(t, err)

	out, err := sess.Run(t.Context(), nil, []tf.Output{doubled}, nil)
	require.NoError(t, err)
	defer out[0].Close()

	got, err := tf.ValuesAs[float32](out[0])
	require.NoError(t, err)
	if diff := cmp.Diff([]float32{2, 4}, got); diff != "" {
		t.Errorf("w+w (-want +got):\n%s", diff)
	}

	if _, err := NewVariable().Build(s); err == nil {
		t.Error("Variable ohne Anfangswert sollte fehlschlagen")
	}
}
