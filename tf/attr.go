// attr.go - Attributwerte für Operationen
// Enthält: AttrValue und die getaggten Varianten (Int, Float, Bool, String,
// Type, Shape, Tensor und Listenformen)

package tf

import (
	"errors"

	"github.com/ollama/tfbind/native"
)

// AttrValue ist ein Attributwert einer Operation
type AttrValue interface {
	setAttr(rt *Runtime, desc native.Handle, name string, held heldTensors) error
}

// heldTensors sind die während Finish ausgeliehenen Tensoren der Attribute
type heldTensors map[*Tensor]native.Handle

type (
	AttrInt    int64
	AttrInts   []int64
	AttrFloat  float32
	AttrFloats []float32
	AttrBool   bool
	AttrBools  []bool
	AttrString string
	AttrType   DataType
	AttrTypes  []DataType
)

// AttrShape ist ein Shape-Attribut; UnknownShape() setzt unbekannten Rang
type AttrShape Shape

// AttrTensor ist ein Tensor-Attribut. Der Tensor wird beim Setzen kopiert
// und bleibt im Besitz des Aufrufers.
type AttrTensor struct {
	Tensor *Tensor
}

func (v AttrInt) setAttr(rt *Runtime, d native.Handle, name string, _ heldTensors) error {
	rt.api.SetAttrInt(d, name, int64(v))
	return nil
}

func (v AttrInts) setAttr(rt *Runtime, d native.Handle, name string, _ heldTensors) error {
	rt.api.SetAttrIntList(d, name, v)
	return nil
}

func (v AttrFloat) setAttr(rt *Runtime, d native.Handle, name string, _ heldTensors) error {
	rt.api.SetAttrFloat(d, name, float32(v))
	return nil
}

func (v AttrFloats) setAttr(rt *Runtime, d native.Handle, name string, _ heldTensors) error {
	rt.api.SetAttrFloatList(d, name, v)
	return nil
}

func (v AttrBool) setAttr(rt *Runtime, d native.Handle, name string, _ heldTensors) error {
	rt.api.SetAttrBool(d, name, bool(v))
	return nil
}

func (v AttrBools) setAttr(rt *Runtime, d native.Handle, name string, _ heldTensors) error {
	rt.api.SetAttrBoolList(d, name, v)
	return nil
}

func (v AttrString) setAttr(rt *Runtime, d native.Handle, name string, _ heldTensors) error {
	rt.api.SetAttrString(d, name, string(v))
	return nil
}

func (v AttrType) setAttr(rt *Runtime, d native.Handle, name string, _ heldTensors) error {
	rt.api.SetAttrType(d, name, DataType(v))
	return nil
}

func (v AttrTypes) setAttr(rt *Runtime, d native.Handle, name string, _ heldTensors) error {
	rt.api.SetAttrTypeList(d, name, v)
	return nil
}

func (v AttrShape) setAttr(rt *Runtime, d native.Handle, name string, _ heldTensors) error {
	s := Shape(v)
	rt.api.SetAttrShape(d, name, s.dims, s.NumDimensions())
	return nil
}

func (v AttrTensor) setAttr(rt *Runtime, d native.Handle, name string, held heldTensors) error {
	th, ok := held[v.Tensor]
	if !ok {
		return errors.New("tensor is not borrowed")
	}
	return rt.withStatus("SetAttrTensor", func(st native.Handle) {
		rt.api.SetAttrTensor(d, name, th, st)
	})
}
