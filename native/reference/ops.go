// ops.go - Offene Op-Registry der Referenz-Runtime
//
// Dieses Modul enthaelt:
// - opDef: Anzahl Eingaenge, Ref-Eingaenge, Shape-Inferenz, Kernel, Gradient
// - register: Registriert einen Op-Typ
// - Die unterstuetzten Op-Typen (Const, Placeholder, AddV2, MatMul, ...)
package reference

import (
	"fmt"
	"slices"

	"github.com/ollama/tfbind/native"
)

type opDef struct {
	// inputs ist die Anzahl der Eingaenge, -1 fuer beliebig viele
	inputs int

	// refs sind Eingaenge, die eine Variable direkt referenzieren
	refs []int

	// assigns markiert Ops, die eine Variable initialisieren duerfen
	assigns bool

	infer   func(op *operation) ([]outSpec, error)
	compute func(rc *runCtx, op *operation, in []*tensor) ([]*tensor, error)

	// grad berechnet die Gradienten der Eingaenge aus denen der Ausgaenge;
	// nil bedeutet "kein Gradient definiert"
	grad func(gb *gradBuilder, op *operation, dy []input) ([]input, error)
}

func (d *opDef) isRef(i int) bool {
	return slices.Contains(d.refs, i)
}

var opDefs = make(map[string]*opDef)

func register(name string, def *opDef) {
	if _, ok := opDefs[name]; ok {
		panic("reference: op already registered: " + name)
	}
	opDefs[name] = def
}

// Ops gibt die Namen aller registrierten Op-Typen sortiert zurueck
func Ops() []string {
	names := make([]string, 0, len(opDefs))
	for name := range opDefs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// =============================================================================
// Shape-Inferenz
// =============================================================================

func sameAsInput(op *operation) ([]outSpec, error) {
	return []outSpec{op.spec(0)}, nil
}

func noOutputs(*operation) ([]outSpec, error) {
	return nil, nil
}

func checkTypeAttr(op *operation, dtype native.DataType) error {
	if t, ok := op.attrType("T"); ok && t != dtype {
		return errorf(native.InvalidArgument, "op '%s': attr T is %v but input has type %v", op.name, t, dtype)
	}
	return nil
}

func elementwiseSpec(op *operation) ([]outSpec, error) {
	a, b := op.spec(0), op.spec(1)
	if a.dtype != b.dtype {
		return nil, errorf(native.InvalidArgument, "op '%s': inputs have different types %v and %v", op.name, a.dtype, b.dtype)
	}
	if err := checkTypeAttr(op, a.dtype); err != nil {
		return nil, err
	}

	if a.rank < 0 || b.rank < 0 {
		return []outSpec{{dtype: a.dtype, rank: -1}}, nil
	}

	if len(a.dims) == len(b.dims) {
		dims := make([]int64, len(a.dims))
		compatible := true
		for i := range dims {
			switch {
			case a.dims[i] == b.dims[i], b.dims[i] < 0:
				dims[i] = a.dims[i]
			case a.dims[i] < 0:
				dims[i] = b.dims[i]
			default:
				compatible = false
			}
		}
		if compatible {
			return []outSpec{knownSpec(a.dtype, dims)}, nil
		}
	}

	if dims, ok := broadcastDims(a.dims, b.dims); ok && !slices.Contains(a.dims, -1) && !slices.Contains(b.dims, -1) {
		return []outSpec{knownSpec(a.dtype, dims)}, nil
	}

	return nil, errorf(native.InvalidArgument, "Incompatible shapes: %v vs. %v", a.dims, b.dims)
}

func shapeFromAttr(op *operation, name string) (dims []int64, rank int) {
	sa, ok := op.attrs[name].(shapeAttr)
	if !ok {
		return nil, -1
	}
	return sa.dims, sa.rank
}

func binaryCompute(op arith) func(*runCtx, *operation, []*tensor) ([]*tensor, error) {
	return func(_ *runCtx, _ *operation, in []*tensor) ([]*tensor, error) {
		out, err := binaryOp(op, in[0], in[1])
		if err != nil {
			return nil, err
		}
		return []*tensor{out}, nil
	}
}

func unaryCompute(op unary) func(*runCtx, *operation, []*tensor) ([]*tensor, error) {
	return func(_ *runCtx, _ *operation, in []*tensor) ([]*tensor, error) {
		out, err := unaryOp(op, in[0])
		if err != nil {
			return nil, err
		}
		return []*tensor{out}, nil
	}
}

func init() {
	register("Const", &opDef{
		inputs: 0,
		infer: func(op *operation) ([]outSpec, error) {
			dtype, ok := op.attrType("dtype")
			if !ok {
				return nil, errorf(native.InvalidArgument, "NodeDef '%s' missing attr 'dtype'", op.name)
			}
			value, ok := op.attrs["value"].(*tensor)
			if !ok {
				return nil, errorf(native.InvalidArgument, "NodeDef '%s' missing attr 'value'", op.name)
			}
			if value.dtype != dtype {
				return nil, errorf(native.InvalidArgument, "Const '%s': value has type %v, dtype is %v", op.name, value.dtype, dtype)
			}
			return []outSpec{knownSpec(dtype, value.dims)}, nil
		},
		compute: func(_ *runCtx, op *operation, _ []*tensor) ([]*tensor, error) {
			return []*tensor{op.attrs["value"].(*tensor)}, nil
		},
	})

	register("Placeholder", &opDef{
		inputs: 0,
		infer: func(op *operation) ([]outSpec, error) {
			dtype, ok := op.attrType("dtype")
			if !ok {
				return nil, errorf(native.InvalidArgument, "NodeDef '%s' missing attr 'dtype'", op.name)
			}
			dims, rank := shapeFromAttr(op, "shape")
			return []outSpec{{dtype: dtype, dims: dims, rank: rank}}, nil
		},
		compute: func(_ *runCtx, op *operation, _ []*tensor) ([]*tensor, error) {
			return nil, errorf(native.InvalidArgument, "You must feed a value for placeholder tensor '%s' with dtype %v",
				op.name, op.outputs[0].dtype)
		},
	})

	register("Identity", &opDef{
		inputs: 1,
		infer:  sameAsInput,
		compute: func(_ *runCtx, _ *operation, in []*tensor) ([]*tensor, error) {
			return []*tensor{in[0]}, nil
		},
		grad: func(_ *gradBuilder, _ *operation, dy []input) ([]input, error) {
			return []input{dy[0]}, nil
		},
	})

	register("NoOp", &opDef{
		inputs: 0,
		infer:  noOutputs,
		compute: func(*runCtx, *operation, []*tensor) ([]*tensor, error) {
			return nil, nil
		},
	})

	addDef := &opDef{
		inputs:  2,
		infer:   elementwiseSpec,
		compute: binaryCompute(arithAdd),
		grad: func(gb *gradBuilder, op *operation, dy []input) ([]input, error) {
			if err := gb.requireSameShape(op); err != nil {
				return nil, err
			}
			return []input{dy[0], dy[0]}, nil
		},
	}
	register("Add", addDef)
	register("AddV2", addDef)

	register("Sub", &opDef{
		inputs:  2,
		infer:   elementwiseSpec,
		compute: binaryCompute(arithSub),
		grad: func(gb *gradBuilder, op *operation, dy []input) ([]input, error) {
			if err := gb.requireSameShape(op); err != nil {
				return nil, err
			}
			neg, err := gb.add("Neg", dy[0])
			if err != nil {
				return nil, err
			}
			return []input{dy[0], neg}, nil
		},
	})

	register("Mul", &opDef{
		inputs:  2,
		infer:   elementwiseSpec,
		compute: binaryCompute(arithMul),
		grad: func(gb *gradBuilder, op *operation, dy []input) ([]input, error) {
			if err := gb.requireSameShape(op); err != nil {
				return nil, err
			}
			da, err := gb.add("Mul", dy[0], op.inputs[1])
			if err != nil {
				return nil, err
			}
			db, err := gb.add("Mul", dy[0], op.inputs[0])
			if err != nil {
				return nil, err
			}
			return []input{da, db}, nil
		},
	})

	register("Neg", &opDef{
		inputs:  1,
		infer:   sameAsInput,
		compute: unaryCompute(unaryNeg),
		grad: func(gb *gradBuilder, _ *operation, dy []input) ([]input, error) {
			neg, err := gb.add("Neg", dy[0])
			if err != nil {
				return nil, err
			}
			return []input{neg}, nil
		},
	})

	register("Square", &opDef{
		inputs:  1,
		infer:   sameAsInput,
		compute: unaryCompute(unarySquare),
		grad: func(gb *gradBuilder, op *operation, dy []input) ([]input, error) {
			two, err := gb.constant(op.spec(0).dtype, 2)
			if err != nil {
				return nil, err
			}
			twoX, err := gb.add("Mul", two, op.inputs[0])
			if err != nil {
				return nil, err
			}
			dx, err := gb.add("Mul", dy[0], twoX)
			if err != nil {
				return nil, err
			}
			return []input{dx}, nil
		},
	})

	register("ZerosLike", &opDef{
		inputs:  1,
		infer:   sameAsInput,
		compute: unaryCompute(unaryZeros),
		grad:    constantGrad,
	})

	register("OnesLike", &opDef{
		inputs:  1,
		infer:   sameAsInput,
		compute: unaryCompute(unaryOnes),
		grad:    constantGrad,
	})

	register("MatMul", &opDef{
		inputs: 2,
		infer: func(op *operation) ([]outSpec, error) {
			a, b := op.spec(0), op.spec(1)
			if a.dtype != b.dtype {
				return nil, errorf(native.InvalidArgument, "MatMul '%s': inputs have different types %v and %v", op.name, a.dtype, b.dtype)
			}
			if a.dtype != native.Float && a.dtype != native.Double {
				return nil, errorf(native.InvalidArgument, "MatMul '%s': type %v is not supported", op.name, a.dtype)
			}
			if a.rank < 0 || b.rank < 0 {
				return []outSpec{{dtype: a.dtype, dims: []int64{-1, -1}, rank: 2}}, nil
			}
			m, _, n, err := matmulDims(a.dims, b.dims, op.attrBool("transpose_a"), op.attrBool("transpose_b"))
			if err != nil {
				return nil, err
			}
			return []outSpec{knownSpec(a.dtype, []int64{m, n})}, nil
		},
		compute: func(_ *runCtx, op *operation, in []*tensor) ([]*tensor, error) {
			out, err := matmul(in[0], in[1], op.attrBool("transpose_a"), op.attrBool("transpose_b"))
			if err != nil {
				return nil, err
			}
			return []*tensor{out}, nil
		},
		grad: func(gb *gradBuilder, op *operation, dy []input) ([]input, error) {
			if op.attrBool("transpose_a") || op.attrBool("transpose_b") {
				return nil, errorf(native.Unimplemented, "MatMul gradient with transposed inputs is not supported")
			}
			da, err := gb.addWithAttrs("MatMul", map[string]any{"transpose_b": true}, dy[0], op.inputs[1])
			if err != nil {
				return nil, err
			}
			db, err := gb.addWithAttrs("MatMul", map[string]any{"transpose_a": true}, op.inputs[0], dy[0])
			if err != nil {
				return nil, err
			}
			return []input{da, db}, nil
		},
	})

	registerVariableOps()
}

func constantGrad(_ *gradBuilder, op *operation, _ []input) ([]input, error) {
	return make([]input, len(op.inputs)), nil
}

// =============================================================================
// Variablen
// =============================================================================

func registerVariableOps() {
	register("VariableV2", &opDef{
		inputs: 0,
		infer: func(op *operation) ([]outSpec, error) {
			dtype, ok := op.attrType("dtype")
			if !ok {
				return nil, errorf(native.InvalidArgument, "NodeDef '%s' missing attr 'dtype'", op.name)
			}
			dims, rank := shapeFromAttr(op, "shape")
			return []outSpec{{dtype: dtype, dims: dims, rank: rank}}, nil
		},
		compute: func(rc *runCtx, op *operation, _ []*tensor) ([]*tensor, error) {
			v, err := rc.variable(op, false)
			if err != nil {
				return nil, err
			}
			return []*tensor{v}, nil
		},
	})

	register("Assign", &opDef{
		inputs:  2,
		refs:    []int{0},
		assigns: true,
		infer: func(op *operation) ([]outSpec, error) {
			ref, value := op.spec(0), op.spec(1)
			if ref.dtype != value.dtype {
				return nil, errorf(native.InvalidArgument, "Assign '%s': ref has type %v, value has type %v", op.name, ref.dtype, value.dtype)
			}
			return []outSpec{value}, nil
		},
		compute: func(_ *runCtx, op *operation, in []*tensor) ([]*tensor, error) {
			ref, value := in[0], in[1]
			if dims, rank := shapeFromAttr(op.inputs[0].op, "shape"); rank >= 0 && !slices.Equal(dims, value.dims) {
				return nil, errorf(native.InvalidArgument, "Assign '%s': shape %v does not match variable shape %v", op.name, value.dims, dims)
			}
			c := value.clone()
			ref.dtype, ref.dims, ref.data = c.dtype, c.dims, c.data
			return []*tensor{ref}, nil
		},
	})

	register("ApplyGradientDescent", &opDef{
		inputs: 3,
		refs:   []int{0},
		infer:  sameAsInput,
		compute: func(_ *runCtx, _ *operation, in []*tensor) ([]*tensor, error) {
			if err := applyGradientDescent(in[0], in[1], in[2]); err != nil {
				return nil, err
			}
			return []*tensor{in[0]}, nil
		},
	})

	register("ApplyAdadelta", &opDef{
		inputs: 7,
		refs:   []int{0, 1, 2},
		infer:  sameAsInput,
		compute: func(_ *runCtx, _ *operation, in []*tensor) ([]*tensor, error) {
			if err := applyAdadelta(in[0], in[1], in[2], in[3], in[4], in[5], in[6]); err != nil {
				return nil, err
			}
			return []*tensor{in[0]}, nil
		},
	})
}

// String beschreibt eine Operation fuer Fehlermeldungen
func (o *operation) String() string {
	return fmt.Sprintf("%s (%s)", o.name, o.opType)
}
