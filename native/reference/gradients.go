// gradients.go - Symbolische Gradienten der Referenz-Runtime
//
// Dieses Modul enthaelt:
// - AddGradients: Fuegt Gradienten-Operationen fuer d(sum ys)/d(xs) hinzu
// - gradBuilder: Hilfsfunktionen, mit denen die Gradienten der Op-Typen
//   neue Operationen anlegen
package reference

import (
	"fmt"
	"slices"
	"strings"

	"github.com/emirpasic/gods/v2/stacks/arraystack"

	"github.com/ollama/tfbind/native"
)

const defaultGradientPrefix = "gradients"

type gradBuilder struct {
	r      *Runtime
	g      *graph
	prefix string
	scope  string
	added  int
}

// name erzeugt einen im Graphen eindeutigen Namen unterhalb von prefix/scope
func (gb *gradBuilder) name(opType string) string {
	base := gb.prefix + "/"
	if gb.scope != "" {
		base += gb.scope + "/"
	}
	base += opType

	name := base
	for i := 1; ; i++ {
		if _, ok := gb.g.byName[name]; !ok {
			return name
		}
		name = fmt.Sprintf("%s_%d", base, i)
	}
}

func (gb *gradBuilder) add(opType string, inputs ...input) (input, error) {
	return gb.addWithAttrs(opType, nil, inputs...)
}

func (gb *gradBuilder) addWithAttrs(opType string, attrs map[string]any, inputs ...input) (input, error) {
	op := &operation{
		g:      gb.g,
		name:   gb.name(opType),
		opType: opType,
		inputs: inputs,
		attrs:  make(map[string]any, len(attrs)),
	}
	for k, v := range attrs {
		op.attrs[k] = v
	}

	if err := gb.r.addLocked(gb.g, op); err != nil {
		return input{}, err
	}
	gb.added++
	return input{op: op}, nil
}

func (gb *gradBuilder) constant(dtype native.DataType, x float64) (input, error) {
	t, err := scalarOf(dtype, x)
	if err != nil {
		return input{}, err
	}
	return gb.addWithAttrs("Const", map[string]any{"dtype": dtype, "value": t})
}

// requireSameShape lehnt Gradienten ueber Broadcasting ab
func (gb *gradBuilder) requireSameShape(op *operation) error {
	a, b := op.spec(0), op.spec(1)
	if a.rank < 0 || b.rank < 0 || !slices.Equal(a.dims, b.dims) {
		return errorf(native.Unimplemented, "gradient of %s with broadcasting inputs %v and %v is not supported",
			op, a.dims, b.dims)
	}
	return nil
}

// sum addiert alle Beitraege zu einem Gradienten
func (gb *gradBuilder) sum(parts []input) (input, error) {
	acc := parts[0]
	for _, p := range parts[1:] {
		var err error
		acc, err = gb.add("AddV2", acc, p)
		if err != nil {
			return input{}, err
		}
	}
	return acc, nil
}

// rollback entfernt alle seit Beginn hinzugefuegten Operationen
func (gb *gradBuilder) rollback() {
	n := len(gb.g.ops) - gb.added
	for _, op := range gb.g.ops[n:] {
		delete(gb.g.byName, op.name)
		gb.r.remove(op.h)
	}
	gb.g.ops = gb.g.ops[:n]
	gb.added = 0
}

func (r *Runtime) gradientPrefix(g *graph, prefix string) (string, error) {
	taken := func(p string) string {
		for _, op := range g.ops {
			if op.name == p || strings.HasPrefix(op.name, p+"/") {
				return op.name
			}
		}
		return ""
	}

	if prefix != "" {
		if node := taken(prefix); node != "" {
			return "", errorf(native.InvalidArgument, "prefix [%s] conflicts with existing node in the graph named [%s]", prefix, node)
		}
		return prefix, nil
	}

	prefix = defaultGradientPrefix
	for i := 1; taken(prefix) != ""; i++ {
		prefix = fmt.Sprintf("%s_%d", defaultGradientPrefix, i)
	}
	return prefix, nil
}

// AddGradients implementiert native.API
func (r *Runtime) AddGradients(gh native.Handle, prefix string, ys, xs, dxs []native.Port, st native.Handle) []native.Port {
	g := lookup[*graph](r, gh)

	g.mu.Lock()
	defer g.mu.Unlock()

	out, err := r.addGradientsLocked(g, prefix, ys, xs, dxs)
	r.setStatus(st, err)
	if err != nil {
		return nil
	}
	return out
}

func (r *Runtime) addGradientsLocked(g *graph, prefix string, ys, xs, dxs []native.Port) ([]native.Port, error) {
	if g.byName == nil {
		return nil, errorf(native.FailedPrecondition, "graph has been deleted")
	}
	if len(dxs) != 0 && len(dxs) != len(ys) {
		return nil, errorf(native.InvalidArgument, "got %d dxs for %d ys", len(dxs), len(ys))
	}

	resolveAll := func(ps []native.Port) ([]input, error) {
		ins := make([]input, len(ps))
		for i, p := range ps {
			in, err := r.resolve(g, p)
			if err != nil {
				return nil, err
			}
			ins[i] = in
		}
		return ins, nil
	}

	yIns, err := resolveAll(ys)
	if err != nil {
		return nil, err
	}
	xIns, err := resolveAll(xs)
	if err != nil {
		return nil, err
	}
	dxIns, err := resolveAll(dxs)
	if err != nil {
		return nil, err
	}

	prefix, err = r.gradientPrefix(g, prefix)
	if err != nil {
		return nil, err
	}

	// Operationen, von denen ein y abhaengt
	reach := make(map[*operation]bool)
	stack := arraystack.New[*operation]()
	for _, y := range yIns {
		stack.Push(y.op)
	}
	for !stack.Empty() {
		op, _ := stack.Pop()
		if reach[op] {
			continue
		}
		reach[op] = true
		for _, in := range op.inputs {
			stack.Push(in.op)
		}
	}

	// Operationen, die von einem x abhaengen; die Erstellungsreihenfolge
	// ist topologisch
	ops := slices.Clone(g.ops)
	isX := make(map[input]bool, len(xIns))
	for _, x := range xIns {
		isX[x] = true
	}
	active := make(map[*operation]bool)
	flows := func(in input) bool { return isX[in] || active[in.op] }
	for _, op := range ops {
		if slices.ContainsFunc(op.inputs, flows) {
			active[op] = true
		}
	}

	gb := &gradBuilder{r: r, g: g, prefix: prefix}
	grads := make(map[input][]input)

	fail := func(err error) ([]native.Port, error) {
		gb.rollback()
		return nil, err
	}

	for i, y := range yIns {
		dy := input{}
		if len(dxIns) > 0 {
			dy = dxIns[i]
		} else if dy, err = gb.add("OnesLike", y); err != nil {
			return fail(err)
		}
		grads[y] = append(grads[y], dy)
	}

	for _, op := range slices.Backward(ops) {
		if !reach[op] || !active[op] {
			continue
		}

		dy := make([]input, len(op.outputs))
		flowing := false
		for k := range op.outputs {
			parts := grads[input{op: op, index: k}]
			if len(parts) == 0 {
				continue
			}
			gb.scope = op.name + "_grad"
			if dy[k], err = gb.sum(parts); err != nil {
				return fail(err)
			}
			flowing = true
		}
		if !flowing {
			continue
		}

		if op.def.grad == nil {
			return fail(errorf(native.Unimplemented, "No gradient defined for op: %s", op.opType))
		}

		gb.scope = op.name + "_grad"
		dxIn, err := op.def.grad(gb, op, dy)
		if err != nil {
			return fail(err)
		}
		for i, in := range op.inputs {
			if dxIn[i].op == nil || !flows(in) {
				continue
			}
			grads[in] = append(grads[in], dxIn[i])
		}
	}

	out := make([]native.Port, len(xIns))
	for i, x := range xIns {
		parts := grads[x]
		if len(parts) == 0 {
			continue
		}
		gb.scope = x.op.name + "_grad"
		sum, err := gb.sum(parts)
		if err != nil {
			return fail(err)
		}
		out[i] = native.Port{Op: sum.op.h, Index: sum.index}
	}
	return out, nil
}
