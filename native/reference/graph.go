// graph.go - Graph und Operationsbeschreibungen der Referenz-Runtime
//
// Dieses Modul enthaelt:
// - graph, operation, opDesc: interne Strukturen
// - NewGraph/DeleteGraph: Lebenszyklus
// - NewOperation bis FinishOperation: Aufbau von Operationen
// - Operations- und Shape-Abfragen
package reference

import (
	"slices"
	"sync"

	"github.com/ollama/tfbind/native"
)

// input adressiert einen Ausgang einer Operation innerhalb eines Graphen
type input struct {
	op    *operation
	index int
}

// outSpec ist die statisch bekannte Beschreibung eines Ausgangs.
// rank < 0 bedeutet unbekannter Rang.
type outSpec struct {
	dtype native.DataType
	dims  []int64
	rank  int
}

func knownSpec(dtype native.DataType, dims []int64) outSpec {
	return outSpec{dtype: dtype, dims: slices.Clone(dims), rank: len(dims)}
}

type shapeAttr struct {
	dims []int64
	rank int
}

type graph struct {
	mu     sync.RWMutex
	h      native.Handle
	ops    []*operation
	byName map[string]*operation

	// sessions zaehlt lebende Sessions; deleteRequested verschiebt das
	// Freigeben bis zur letzten Session
	sessions        int
	deleteRequested bool
}

type operation struct {
	h        native.Handle
	g        *graph
	name     string
	opType   string
	device   string
	inputs   []input
	controls []*operation
	attrs    map[string]any
	outputs  []outSpec
	def      *opDef
}

func (o *operation) attrType(name string) (native.DataType, bool) {
	dt, ok := o.attrs[name].(native.DataType)
	return dt, ok
}

func (o *operation) attrBool(name string) bool {
	b, _ := o.attrs[name].(bool)
	return b
}

func (o *operation) spec(i int) outSpec {
	in := o.inputs[i]
	return in.op.outputs[in.index]
}

type opDesc struct {
	g   *graph
	op  *operation
	err error
}

// NewGraph implementiert native.API
func (r *Runtime) NewGraph() native.Handle {
	g := &graph{byName: make(map[string]*operation)}
	g.h = r.add(g)
	return g.h
}

// DeleteGraph implementiert native.API. Lebende Sessions halten den Graphen
// am Leben, wie bei TF_DeleteGraph.
func (r *Runtime) DeleteGraph(h native.Handle) {
	g := lookup[*graph](r, h)

	g.mu.Lock()
	if g.sessions > 0 {
		g.deleteRequested = true
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()

	r.freeGraph(g)
}

func (r *Runtime) freeGraph(g *graph) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, op := range g.ops {
		r.remove(op.h)
	}
	g.ops = nil
	g.byName = nil
	r.remove(g.h)
}

// GraphOperationByName implementiert native.API
func (r *Runtime) GraphOperationByName(h native.Handle, name string) native.Handle {
	g := lookup[*graph](r, h)

	g.mu.RLock()
	defer g.mu.RUnlock()

	if op, ok := g.byName[name]; ok {
		return op.h
	}
	return native.Nil
}

// GraphNextOperation implementiert native.API
func (r *Runtime) GraphNextOperation(h native.Handle, pos *int) native.Handle {
	g := lookup[*graph](r, h)

	g.mu.RLock()
	defer g.mu.RUnlock()

	if *pos >= len(g.ops) {
		return native.Nil
	}
	op := g.ops[*pos]
	*pos++
	return op.h
}

// GraphTensorShape implementiert native.API
func (r *Runtime) GraphTensorShape(h native.Handle, out native.Port, st native.Handle) ([]int64, int) {
	g := lookup[*graph](r, h)

	g.mu.RLock()
	defer g.mu.RUnlock()

	in, err := r.resolve(g, out)
	r.setStatus(st, err)
	if err != nil {
		return nil, -1
	}

	spec := in.op.outputs[in.index]
	return slices.Clone(spec.dims), spec.rank
}

// resolve wandelt einen Port in einen graph-internen Eingang um
func (r *Runtime) resolve(g *graph, p native.Port) (input, error) {
	op := lookup[*operation](r, p.Op)
	if op.g != g {
		return input{}, errorf(native.InvalidArgument, "operation '%s' belongs to a different graph", op.name)
	}
	if p.Index < 0 || p.Index >= len(op.outputs) {
		return input{}, errorf(native.OutOfRange, "node '%s' (type: '%s', num of outputs: %d) does not have output %d",
			op.name, op.opType, len(op.outputs), p.Index)
	}
	return input{op: op, index: p.Index}, nil
}

// =============================================================================
// Operationsbeschreibung
// =============================================================================

// NewOperation implementiert native.API
func (r *Runtime) NewOperation(h native.Handle, opType, name string) native.Handle {
	g := lookup[*graph](r, h)
	d := &opDesc{
		g: g,
		op: &operation{
			g:      g,
			name:   name,
			opType: opType,
			attrs:  make(map[string]any),
		},
	}
	return r.add(d)
}

func (r *Runtime) desc(h native.Handle) *opDesc {
	return lookup[*opDesc](r, h)
}

func (d *opDesc) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

// AddInput implementiert native.API
func (r *Runtime) AddInput(h native.Handle, p native.Port) {
	d := r.desc(h)
	d.g.mu.RLock()
	in, err := r.resolve(d.g, p)
	d.g.mu.RUnlock()
	if err != nil {
		d.fail(err)
		return
	}
	d.op.inputs = append(d.op.inputs, in)
}

// AddInputList implementiert native.API
func (r *Runtime) AddInputList(h native.Handle, ps []native.Port) {
	for _, p := range ps {
		r.AddInput(h, p)
	}
}

// AddControlInput implementiert native.API
func (r *Runtime) AddControlInput(h native.Handle, oh native.Handle) {
	d := r.desc(h)
	op := lookup[*operation](r, oh)
	if op.g != d.g {
		d.fail(errorf(native.InvalidArgument, "control input '%s' belongs to a different graph", op.name))
		return
	}
	d.op.controls = append(d.op.controls, op)
}

// SetDevice implementiert native.API
func (r *Runtime) SetDevice(h native.Handle, device string) {
	r.desc(h).op.device = device
}

// SetAttrString implementiert native.API
func (r *Runtime) SetAttrString(h native.Handle, name, value string) {
	r.desc(h).op.attrs[name] = value
}

// SetAttrInt implementiert native.API
func (r *Runtime) SetAttrInt(h native.Handle, name string, value int64) {
	r.desc(h).op.attrs[name] = value
}

// SetAttrIntList implementiert native.API
func (r *Runtime) SetAttrIntList(h native.Handle, name string, values []int64) {
	r.desc(h).op.attrs[name] = slices.Clone(values)
}

// SetAttrFloat implementiert native.API
func (r *Runtime) SetAttrFloat(h native.Handle, name string, value float32) {
	r.desc(h).op.attrs[name] = value
}

// SetAttrFloatList implementiert native.API
func (r *Runtime) SetAttrFloatList(h native.Handle, name string, values []float32) {
	r.desc(h).op.attrs[name] = slices.Clone(values)
}

// SetAttrBool implementiert native.API
func (r *Runtime) SetAttrBool(h native.Handle, name string, value bool) {
	r.desc(h).op.attrs[name] = value
}

// SetAttrBoolList implementiert native.API
func (r *Runtime) SetAttrBoolList(h native.Handle, name string, values []bool) {
	r.desc(h).op.attrs[name] = slices.Clone(values)
}

// SetAttrType implementiert native.API
func (r *Runtime) SetAttrType(h native.Handle, name string, value native.DataType) {
	r.desc(h).op.attrs[name] = value
}

// SetAttrTypeList implementiert native.API
func (r *Runtime) SetAttrTypeList(h native.Handle, name string, values []native.DataType) {
	r.desc(h).op.attrs[name] = slices.Clone(values)
}

// SetAttrShape implementiert native.API
func (r *Runtime) SetAttrShape(h native.Handle, name string, dims []int64, numDims int) {
	if numDims < 0 {
		r.desc(h).op.attrs[name] = shapeAttr{rank: -1}
		return
	}
	r.desc(h).op.attrs[name] = shapeAttr{dims: slices.Clone(dims[:numDims]), rank: numDims}
}

// SetAttrTensor implementiert native.API; der Tensor wird kopiert
func (r *Runtime) SetAttrTensor(h native.Handle, name string, th native.Handle, st native.Handle) {
	d := r.desc(h)
	t := lookup[*tensor](r, th)

	var err error
	switch {
	case t.dtype.Size() == 0:
		err = errorf(native.Unimplemented, "tensor attribute of type %v is not supported", t.dtype)
	case numElements(t.dims)*int64(t.dtype.Size()) != int64(len(t.data)):
		err = errorf(native.InvalidArgument, "malformed tensor: %d bytes for shape %v of type %v", len(t.data), t.dims, t.dtype)
	default:
		d.op.attrs[name] = t.clone()
	}

	// der Fehler bleibt an der Beschreibung haengen, FinishOperation meldet ihn erneut
	if err != nil {
		d.fail(err)
	}
	r.setStatus(st, err)
}

// FinishOperation implementiert native.API. Die Beschreibung wird in
// jedem Fall verbraucht.
func (r *Runtime) FinishOperation(h native.Handle, st native.Handle) native.Handle {
	d := r.desc(h)
	r.remove(h)

	if d.err != nil {
		r.setStatus(st, d.err)
		return native.Nil
	}

	d.g.mu.Lock()
	defer d.g.mu.Unlock()

	if err := r.addLocked(d.g, d.op); err != nil {
		r.setStatus(st, err)
		return native.Nil
	}

	r.setStatus(st, nil)
	return d.op.h
}

// addLocked prueft und fuegt eine Operation hinzu; g.mu muss gehalten werden
func (r *Runtime) addLocked(g *graph, op *operation) error {
	if g.byName == nil {
		return errorf(native.FailedPrecondition, "graph has been deleted")
	}
	if op.name == "" {
		return errorf(native.InvalidArgument, "node name must not be empty (type: '%s')", op.opType)
	}
	if _, ok := g.byName[op.name]; ok {
		return errorf(native.InvalidArgument, "Duplicate node name in graph: '%s'", op.name)
	}

	def, ok := opDefs[op.opType]
	if !ok {
		return errorf(native.NotFound, "Op type not registered '%s' in binary", op.opType)
	}
	if def.inputs >= 0 && len(op.inputs) != def.inputs {
		return errorf(native.InvalidArgument, "NodeDef '%s' (op '%s') expected %d inputs, got %d",
			op.name, op.opType, def.inputs, len(op.inputs))
	}

	outputs, err := def.infer(op)
	if err != nil {
		if _, ok := err.(*opError); !ok {
			err = errorf(native.InvalidArgument, "%s", err.Error())
		}
		return err
	}

	op.def = def
	op.outputs = outputs
	op.h = r.add(op)
	g.ops = append(g.ops, op)
	g.byName[op.name] = op
	return nil
}

// =============================================================================
// Operationsabfragen
// =============================================================================

// OperationName implementiert native.API
func (r *Runtime) OperationName(h native.Handle) string {
	return lookup[*operation](r, h).name
}

// OperationOpType implementiert native.API
func (r *Runtime) OperationOpType(h native.Handle) string {
	return lookup[*operation](r, h).opType
}

// OperationDevice implementiert native.API
func (r *Runtime) OperationDevice(h native.Handle) string {
	return lookup[*operation](r, h).device
}

// OperationNumInputs implementiert native.API
func (r *Runtime) OperationNumInputs(h native.Handle) int {
	return len(lookup[*operation](r, h).inputs)
}

// OperationNumOutputs implementiert native.API
func (r *Runtime) OperationNumOutputs(h native.Handle) int {
	return len(lookup[*operation](r, h).outputs)
}

// OperationOutputType implementiert native.API
func (r *Runtime) OperationOutputType(p native.Port) native.DataType {
	op := lookup[*operation](r, p.Op)
	return op.outputs[p.Index].dtype
}
