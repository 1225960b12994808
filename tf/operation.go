// operation.go - Operationen und ihre Ausgänge
// Enthält: Operation, Output, OpBuilder

package tf

import (
	"fmt"
	"log/slog"

	"github.com/ollama/tfbind/native"
)

// Operation ist ein Knoten im Graphen. Sie gehört dem Graphen und wird nie
// einzeln freigegeben.
type Operation struct {
	graph *Graph
	h     native.Handle

	name        string
	opType      string
	device      string
	numInputs   int
	outputTypes []DataType
}

// newOperation liest die unveränderlichen Eigenschaften einmalig; der
// Graph muss ausgeliehen sein
func (gr *Graph) newOperation(h native.Handle) *Operation {
	api := gr.rt.api

	op := &Operation{
		graph:     gr,
		h:         h,
		name:      api.OperationName(h),
		opType:    api.OperationOpType(h),
		device:    api.OperationDevice(h),
		numInputs: api.OperationNumInputs(h),
	}

	op.outputTypes = make([]DataType, api.OperationNumOutputs(h))
	for i := range op.outputTypes {
		op.outputTypes[i] = api.OperationOutputType(native.Port{Op: h, Index: i})
	}
	return op
}

func (op *Operation) Name() string       { return op.name }
func (op *Operation) Type() string       { return op.opType }
func (op *Operation) Device() string     { return op.device }
func (op *Operation) NumInputs() int     { return op.numInputs }
func (op *Operation) NumOutputs() int    { return len(op.outputTypes) }
func (op *Operation) Graph() *Graph      { return op.graph }
func (op *Operation) Output(i int) Output { return Output{Op: op, Index: i} }

func (op *Operation) String() string {
	return fmt.Sprintf("%s (%s)", op.name, op.opType)
}

// LogValue gibt die Operation als slog-Wert zurück
func (op *Operation) LogValue() slog.Value {
	return slog.GroupValue(slog.String("name", op.name), slog.String("type", op.opType))
}

// Output ist ein Ausgang einer Operation
type Output struct {
	Op    *Operation
	Index int
}

func (o Output) port() native.Port {
	return native.Port{Op: o.Op.h, Index: o.Index}
}

func (o Output) String() string {
	if o.Op == nil {
		return fmt.Sprintf("<nil>:%d", o.Index)
	}
	return fmt.Sprintf("%s:%d", o.Op.name, o.Index)
}

// DataType gibt den Elementtyp des Ausgangs zurück
func (o Output) DataType() DataType {
	if o.Op == nil || o.Index < 0 || o.Index >= len(o.Op.outputTypes) {
		return 0
	}
	return o.Op.outputTypes[o.Index]
}

// Shape gibt die statisch bekannte Shape des Ausgangs zurück
func (o Output) Shape() (Shape, error) {
	if o.Op == nil {
		return Shape{}, fmt.Errorf("tf: shape of %s: nil operation", o)
	}
	gr := o.Op.graph
	var s Shape
	err := gr.g.borrow(func(gh native.Handle) error {
		return gr.rt.withStatus("GraphTensorShape", func(st native.Handle) {
			dims, rank := gr.rt.api.GraphTensorShape(gh, o.port(), st)
			if rank < 0 {
				s = UnknownShape()
			} else {
				s = MakeShape(dims[:rank]...)
			}
		})
	})
	if err != nil {
		return Shape{}, err
	}
	return s, nil
}

type builderInput struct {
	single Output
	list   []Output
	isList bool
}

type namedAttr struct {
	name  string
	value AttrValue
}

// OpBuilder sammelt Eingänge und Attribute einer neuen Operation auf der
// Host-Seite. Erst Finish ruft die native Runtime.
type OpBuilder struct {
	graph    *Graph
	opType   string
	name     string
	device   string
	inputs   []builderInput
	controls []*Operation
	attrs    []namedAttr
}

// NewOperation beginnt eine neue Operation vom Typ opType
func (gr *Graph) NewOperation(opType, name string) *OpBuilder {
	return &OpBuilder{graph: gr, opType: opType, name: name}
}

func (b *OpBuilder) AddInput(in Output) *OpBuilder {
	b.inputs = append(b.inputs, builderInput{single: in})
	return b
}

func (b *OpBuilder) AddInputList(ins []Output) *OpBuilder {
	b.inputs = append(b.inputs, builderInput{list: ins, isList: true})
	return b
}

func (b *OpBuilder) AddControlInput(op *Operation) *OpBuilder {
	b.controls = append(b.controls, op)
	return b
}

func (b *OpBuilder) SetDevice(device string) *OpBuilder {
	b.device = device
	return b
}

func (b *OpBuilder) SetAttr(name string, value AttrValue) *OpBuilder {
	b.attrs = append(b.attrs, namedAttr{name: name, value: value})
	return b
}

func (b *OpBuilder) checkGraph(op *Operation) error {
	if op == nil {
		return fmt.Errorf("tf: %s %q: nil operation", b.opType, b.name)
	}
	if op.graph != b.graph {
		return fmt.Errorf("tf: %s %q: %s belongs to a different graph", b.opType, b.name, op)
	}
	return nil
}

// attrTensors prüft die Tensor-Attribute, bevor eine native Beschreibung
// entsteht
func (b *OpBuilder) attrTensors() ([]*Tensor, error) {
	var ts []*Tensor
	for _, a := range b.attrs {
		switch v := a.value.(type) {
		case nil:
			return nil, fmt.Errorf("tf: %s %q: attr %q: nil value", b.opType, b.name, a.name)
		case AttrTensor:
			if v.Tensor == nil {
				return nil, fmt.Errorf("tf: %s %q: attr %q: nil tensor", b.opType, b.name, a.name)
			}
			if v.Tensor.rt != b.graph.rt {
				return nil, fmt.Errorf("tf: %s %q: attr %q: tensor belongs to a different runtime", b.opType, b.name, a.name)
			}
			ts = append(ts, v.Tensor)
		}
	}
	return ts, nil
}

// Finish fügt die Operation unter exklusiver Ausleihe des Graphen hinzu.
// Host-seitige Fehler entstehen vor der nativen Beschreibung; existiert sie,
// wird FinishOperation in jedem Fall aufgerufen.
func (b *OpBuilder) Finish() (*Operation, error) {
	for _, in := range b.inputs {
		ins := in.list
		if !in.isList {
			ins = []Output{in.single}
		}
		for _, o := range ins {
			if err := b.checkGraph(o.Op); err != nil {
				return nil, err
			}
		}
	}
	for _, c := range b.controls {
		if err := b.checkGraph(c); err != nil {
			return nil, err
		}
	}
	ts, err := b.attrTensors()
	if err != nil {
		return nil, err
	}

	gr := b.graph
	rt, api := gr.rt, gr.rt.api

	var op *Operation
	err = gr.g.borrowMut(func(gh native.Handle) error {
		return borrowAll(tensorGuards(ts), func(ths []native.Handle) error {
			held := make(heldTensors, len(ts))
			for i, t := range ts {
				held[t] = ths[i]
			}

			d := api.NewOperation(gh, b.opType, b.name)

			for _, in := range b.inputs {
				if in.isList {
					ports := make([]native.Port, len(in.list))
					for i, o := range in.list {
						ports[i] = o.port()
					}
					api.AddInputList(d, ports)
				} else {
					api.AddInput(d, in.single.port())
				}
			}
			for _, c := range b.controls {
				api.AddControlInput(d, c.h)
			}
			if b.device != "" {
				api.SetDevice(d, b.device)
			}

			// native Attributfehler bleiben an der Beschreibung haengen
			var attrErr error
			for _, a := range b.attrs {
				if err := a.value.setAttr(rt, d, a.name, held); err != nil && attrErr == nil {
					attrErr = fmt.Errorf("attr %q: %w", a.name, err)
				}
			}

			var h native.Handle
			if err := rt.withStatus("FinishOperation", func(st native.Handle) {
				h = api.FinishOperation(d, st)
			}); err != nil {
				return err
			}
			if attrErr != nil {
				return attrErr
			}

			op = gr.newOperation(h)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("tf: add %s %q: %w", b.opType, b.name, err)
	}

	rt.logger.Debug("operation added", "op", op)
	return op, nil
}
