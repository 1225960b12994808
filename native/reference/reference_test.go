package reference

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ollama/tfbind/native"
)

type fixture struct {
	t  *testing.T
	r  *Runtime
	g  native.Handle
	st native.Handle
}

func newFixture(t *testing.T) *fixture {
	r := New()
	f := &fixture{t: t, r: r, g: r.NewGraph(), st: r.NewStatus()}
	t.Cleanup(func() {
		r.DeleteStatus(f.st)
		r.DeleteGraph(f.g)
		if n := r.Live(); n != 0 {
			t.Errorf("Live() = %d nach dem Aufraeumen", n)
		}
	})
	return f
}

func (f *fixture) check(what string) {
	f.t.Helper()
	if c := f.r.StatusCode(f.st); c != native.OK {
		f.t.Fatalf("%s: %v: %s", what, c, f.r.StatusMessage(f.st))
	}
}

func (f *fixture) tensor(dt native.DataType, dims []int64, data []byte) native.Handle {
	h := f.r.AllocateTensor(dt, dims, len(data))
	copy(f.r.TensorData(h), data)
	return h
}

func (f *fixture) scalar(x float32) native.Handle {
	t, err := scalarOf(native.Float, float64(x))
	if err != nil {
		f.t.Fatal(err)
	}
	return f.tensor(native.Float, nil, t.data)
}

func (f *fixture) op(opType, name string, build func(d native.Handle), inputs ...native.Handle) native.Handle {
	f.t.Helper()

	d := f.r.NewOperation(f.g, opType, name)
	for _, in := range inputs {
		f.r.AddInput(d, native.Port{Op: in})
	}
	if build != nil {
		build(d)
	}
	h := f.r.FinishOperation(d, f.st)
	f.check("FinishOperation " + name)
	return h
}

func (f *fixture) constant(name string, t native.Handle) native.Handle {
	defer f.r.DeleteTensor(t)
	return f.op("Const", name, func(d native.Handle) {
		f.r.SetAttrType(d, "dtype", f.r.TensorType(t))
		f.r.SetAttrTensor(d, "value", t, f.st)
		f.check("SetAttrTensor")
	})
}

func (f *fixture) run(s native.Handle, fetch ...native.Handle) []float32 {
	f.t.Helper()

	ports := make([]native.Port, len(fetch))
	for i, h := range fetch {
		ports[i] = native.Port{Op: h}
	}
	outs := f.r.SessionRun(s, nil, nil, ports, nil, f.st)
	f.check("SessionRun")

	var values []float32
	for _, h := range outs {
		values = append(values, view[float32](f.r.TensorData(h))...)
		f.r.DeleteTensor(h)
	}
	return values
}

func (f *fixture) session() native.Handle {
	f.t.Helper()

	o := f.r.NewSessionOptions()
	defer f.r.DeleteSessionOptions(o)

	s := f.r.NewSession(f.g, o, f.st)
	f.check("NewSession")
	f.t.Cleanup(func() {
		f.r.CloseSession(s, f.st)
		f.r.DeleteSession(s, f.st)
	})
	return s
}

func TestElementwise(t *testing.T) {
	f := newFixture(t)

	a := f.constant("a", f.scalar(3))
	b := f.constant("b", f.scalar(4))

	setT := func(d native.Handle) { f.r.SetAttrType(d, "T", native.Float) }
	add := f.op("AddV2", "add", setT, a, b)
	sub := f.op("Sub", "sub", setT, a, b)
	mul := f.op("Mul", "mul", setT, a, b)
	sq := f.op("Square", "sq", setT, a)
	neg := f.op("Neg", "neg", setT, b)

	s := f.session()
	got := f.run(s, add, sub, mul, sq, neg)
	if diff := cmp.Diff([]float32{7, -1, 12, 9, -4}, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestMatMulKernel(t *testing.T) {
	f := newFixture(t)

	mat := func(v ...float32) native.Handle {
		b := make([]byte, 4*len(v))
		copy(view[float32](b), v)
		return f.tensor(native.Float, []int64{2, 2}, b)
	}

	a := f.constant("a", mat(1, 2, 3, 4))
	b := f.constant("b", mat(5, 6, 7, 8))
	mm := f.op("MatMul", "mm", nil, a, b)

	dims, rank := f.r.GraphTensorShape(f.g, native.Port{Op: mm}, f.st)
	f.check("GraphTensorShape")
	if rank != 2 || !cmp.Equal(dims, []int64{2, 2}) {
		t.Errorf("GraphTensorShape = %v, %d", dims, rank)
	}

	s := f.session()
	if diff := cmp.Diff([]float32{19, 22, 43, 50}, f.run(s, mm)); diff != "" {
		t.Errorf("MatMul (-want +got):\n%s", diff)
	}
}

func TestPlaceholderWithoutFeed(t *testing.T) {
	f := newFixture(t)

	p := f.op("Placeholder", "p", func(d native.Handle) {
		f.r.SetAttrType(d, "dtype", native.Float)
	})

	s := f.session()
	outs := f.r.SessionRun(s, nil, nil, []native.Port{{Op: p}}, nil, f.st)
	if outs != nil {
		t.Errorf("SessionRun = %v, erwartet nil", outs)
	}
	if c := f.r.StatusCode(f.st); c != native.InvalidArgument {
		t.Errorf("StatusCode = %v, erwartet INVALID_ARGUMENT", c)
	}
	if msg := f.r.StatusMessage(f.st); !strings.Contains(msg, "must feed a value for placeholder tensor 'p'") {
		t.Errorf("StatusMessage = %q", msg)
	}
}

func TestFinishOperationConsumesDescription(t *testing.T) {
	f := newFixture(t)

	before := f.r.Live()
	d := f.r.NewOperation(f.g, "Unknown", "u")
	if h := f.r.FinishOperation(d, f.st); h != native.Nil {
		t.Errorf("FinishOperation = %v, erwartet Nil", h)
	}
	if c := f.r.StatusCode(f.st); c != native.NotFound {
		t.Errorf("StatusCode = %v, erwartet NOT_FOUND", c)
	}
	if n := f.r.Live(); n != before {
		t.Errorf("Live() = %d, vorher %d", n, before)
	}
}

func TestGradientOfMul(t *testing.T) {
	f := newFixture(t)

	x := f.constant("x", f.scalar(3))
	y := f.op("Mul", "y", nil, x, x)

	grads := f.r.AddGradients(f.g, "", []native.Port{{Op: y}}, []native.Port{{Op: x}}, nil, f.st)
	f.check("AddGradients")
	if len(grads) != 1 || grads[0].Op == native.Nil {
		t.Fatalf("AddGradients = %v", grads)
	}
	if name := f.r.OperationName(grads[0].Op); !strings.HasPrefix(name, "gradients/") {
		t.Errorf("Gradienten-Op %q liegt nicht unter gradients/", name)
	}

	s := f.session()
	if diff := cmp.Diff([]float32{6}, f.run(s, grads[0].Op)); diff != "" {
		t.Errorf("d(x*x)/dx (-want +got):\n%s", diff)
	}
}

func TestGradientUndefinedRollsBack(t *testing.T) {
	f := newFixture(t)

	x := f.op("Placeholder", "x", func(d native.Handle) {
		f.r.SetAttrType(d, "dtype", native.Float)
		f.r.SetAttrShape(d, "shape", []int64{2, 2}, 2)
	})
	y := f.op("MatMul", "y", func(d native.Handle) {
		f.r.SetAttrBool(d, "transpose_a", true)
	}, x, x)

	var pos, before int
	for f.r.GraphNextOperation(f.g, &pos) != native.Nil {
		before++
	}

	grads := f.r.AddGradients(f.g, "", []native.Port{{Op: y}}, []native.Port{{Op: x}}, nil, f.st)
	if grads != nil || f.r.StatusCode(f.st) != native.Unimplemented {
		t.Fatalf("AddGradients = %v, %v", grads, f.r.StatusCode(f.st))
	}

	pos = 0
	after := 0
	for f.r.GraphNextOperation(f.g, &pos) != native.Nil {
		after++
	}
	if after != before {
		t.Errorf("Operationen nach Fehler: %d, vorher %d", after, before)
	}
}

func TestParseConfig(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, 6)
	// unbekanntes Feld wird übersprungen
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("gpu"))
	b = protowire.AppendTag(b, 7, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)

	c, err := ParseConfig(b)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Config{IntraOpThreads: 6, AllowSoftPlacement: true}, c); diff != "" {
		t.Errorf("ParseConfig (-want +got):\n%s", diff)
	}

	if _, err := ParseConfig([]byte{0x10}); err == nil {
		t.Error("abgeschnittene ConfigProto sollte fehlschlagen")
	}
}

func TestRegisteredOps(t *testing.T) {
	for _, name := range []string{"Const", "Placeholder", "AddV2", "MatMul", "VariableV2", "Assign", "ApplyAdadelta"} {
		if _, ok := opDefs[name]; !ok {
			t.Errorf("Op %s ist nicht registriert", name)
		}
	}
	if ops := Ops(); len(ops) != len(opDefs) {
		t.Errorf("Ops() = %d Eintraege, erwartet %d", len(ops), len(opDefs))
	}
}
