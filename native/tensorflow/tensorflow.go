//go:build tensorflow

// tensorflow.go - cgo-Bindung an libtensorflow
// Enthält: API struct, alle native.API-Methoden als dünne TF_*-Aufrufe

package tensorflow

// #cgo LDFLAGS: -ltensorflow
// #include <stdlib.h>
// #include <stdint.h>
// #include "tensorflow/c/c_api.h"
import "C"

import (
	"encoding/binary"
	"errors"
	"unsafe"

	"golang.org/x/sys/cpu"

	"github.com/ollama/tfbind/native"
)

func init() {
	native.Register("tensorflow", func() (native.API, error) {
		if C.GoString(C.TF_Version()) == "" {
			return nil, errors.New("tensorflow: libtensorflow reports no version")
		}
		return &API{}, nil
	})
}

// API ruft die TensorFlow-C-API direkt auf. Handles sind die C-Zeiger.
type API struct{}

func status(h native.Handle) *C.TF_Status       { return (*C.TF_Status)(unsafe.Pointer(h)) }
func graph(h native.Handle) *C.TF_Graph         { return (*C.TF_Graph)(unsafe.Pointer(h)) }
func operation(h native.Handle) *C.TF_Operation { return (*C.TF_Operation)(unsafe.Pointer(h)) }
func tensor(h native.Handle) *C.TF_Tensor       { return (*C.TF_Tensor)(unsafe.Pointer(h)) }
func session(h native.Handle) *C.TF_Session     { return (*C.TF_Session)(unsafe.Pointer(h)) }
func options(h native.Handle) *C.TF_SessionOptions {
	return (*C.TF_SessionOptions)(unsafe.Pointer(h))
}

func desc(h native.Handle) *C.TF_OperationDescription {
	return (*C.TF_OperationDescription)(unsafe.Pointer(h))
}

func handle[T any](p *T) native.Handle {
	return native.Handle(uintptr(unsafe.Pointer(p)))
}

func output(p native.Port) C.TF_Output {
	return C.TF_Output{oper: operation(p.Op), index: C.int(p.Index)}
}

func outputs(ps []native.Port) []C.TF_Output {
	out := make([]C.TF_Output, len(ps))
	for i, p := range ps {
		out[i] = output(p)
	}
	return out
}

// first liefert einen Zeiger auf das erste Element oder nil
func first[T any](s []T) *T {
	if len(s) == 0 {
		return nil
	}
	return &s[0]
}

// cstring ruft fn mit einer C-Kopie von s auf
func cstring(s string, fn func(*C.char)) {
	cs := C.CString(s)
	defer C.free(unsafe.Pointer(cs))
	fn(cs)
}

func (*API) Name() string { return "tensorflow" }

func (*API) Version() string { return C.GoString(C.TF_Version()) }

// ByteOrder: libtensorflow speichert Tensoren in Host-Reihenfolge
func (*API) ByteOrder() binary.ByteOrder {
	if cpu.IsBigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Status

func (*API) NewStatus() native.Handle       { return handle(C.TF_NewStatus()) }
func (*API) DeleteStatus(s native.Handle)   { C.TF_DeleteStatus(status(s)) }
func (*API) StatusCode(s native.Handle) native.Code {
	return native.Code(C.TF_GetCode(status(s)))
}

func (*API) StatusMessage(s native.Handle) string {
	return C.GoString(C.TF_Message(status(s)))
}

// Graph

func (*API) NewGraph() native.Handle     { return handle(C.TF_NewGraph()) }
func (*API) DeleteGraph(g native.Handle) { C.TF_DeleteGraph(graph(g)) }

func (*API) GraphOperationByName(g native.Handle, name string) (op native.Handle) {
	cstring(name, func(cs *C.char) {
		op = handle(C.TF_GraphOperationByName(graph(g), cs))
	})
	return op
}

func (*API) GraphNextOperation(g native.Handle, pos *int) native.Handle {
	p := C.size_t(*pos)
	op := C.TF_GraphNextOperation(graph(g), &p)
	*pos = int(p)
	return handle(op)
}

func (*API) GraphTensorShape(g native.Handle, out native.Port, st native.Handle) ([]int64, int) {
	o := output(out)
	n := C.TF_GraphGetTensorNumDims(graph(g), o, status(st))
	if C.TF_GetCode(status(st)) != C.TF_OK || n < 0 {
		return nil, int(n)
	}

	dims := make([]int64, n)
	C.TF_GraphGetTensorShape(graph(g), o, (*C.int64_t)(first(dims)), n, status(st))
	return dims, int(n)
}

func (*API) AddGradients(g native.Handle, prefix string, ys, xs, dxs []native.Port, st native.Handle) []native.Port {
	cy, cx := outputs(ys), outputs(xs)
	var cdx *C.TF_Output
	if len(dxs) > 0 {
		cdx = first(outputs(dxs))
	}
	dy := make([]C.TF_Output, len(xs))

	var cprefix *C.char
	if prefix != "" {
		cprefix = C.CString(prefix)
		defer C.free(unsafe.Pointer(cprefix))
	}

	C.TF_AddGradientsWithPrefix(graph(g), cprefix,
		first(cy), C.int(len(cy)),
		first(cx), C.int(len(cx)),
		cdx, status(st), first(dy))

	ports := make([]native.Port, len(dy))
	for i, o := range dy {
		ports[i] = native.Port{Op: handle(o.oper), Index: int(o.index)}
	}
	return ports
}

// Operationen

func (*API) NewOperation(g native.Handle, opType, name string) native.Handle {
	ct, cn := C.CString(opType), C.CString(name)
	defer C.free(unsafe.Pointer(ct))
	defer C.free(unsafe.Pointer(cn))
	return handle(C.TF_NewOperation(graph(g), ct, cn))
}

func (*API) AddInput(d native.Handle, in native.Port) { C.TF_AddInput(desc(d), output(in)) }

func (*API) AddInputList(d native.Handle, ins []native.Port) {
	co := outputs(ins)
	C.TF_AddInputList(desc(d), first(co), C.int(len(co)))
}

func (*API) AddControlInput(d native.Handle, op native.Handle) {
	C.TF_AddControlInput(desc(d), operation(op))
}

func (*API) SetDevice(d native.Handle, device string) {
	cstring(device, func(cs *C.char) { C.TF_SetDevice(desc(d), cs) })
}

func (*API) SetAttrString(d native.Handle, name, value string) {
	cv := C.CString(value)
	defer C.free(unsafe.Pointer(cv))
	cstring(name, func(cn *C.char) {
		C.TF_SetAttrString(desc(d), cn, unsafe.Pointer(cv), C.size_t(len(value)))
	})
}

func (*API) SetAttrInt(d native.Handle, name string, value int64) {
	cstring(name, func(cn *C.char) { C.TF_SetAttrInt(desc(d), cn, C.int64_t(value)) })
}

func (*API) SetAttrIntList(d native.Handle, name string, values []int64) {
	cstring(name, func(cn *C.char) {
		C.TF_SetAttrIntList(desc(d), cn, (*C.int64_t)(first(values)), C.int(len(values)))
	})
}

func (*API) SetAttrFloat(d native.Handle, name string, value float32) {
	cstring(name, func(cn *C.char) { C.TF_SetAttrFloat(desc(d), cn, C.float(value)) })
}

func (*API) SetAttrFloatList(d native.Handle, name string, values []float32) {
	cstring(name, func(cn *C.char) {
		C.TF_SetAttrFloatList(desc(d), cn, (*C.float)(first(values)), C.int(len(values)))
	})
}

func boolByte(b bool) C.uchar {
	if b {
		return 1
	}
	return 0
}

func (*API) SetAttrBool(d native.Handle, name string, value bool) {
	cstring(name, func(cn *C.char) { C.TF_SetAttrBool(desc(d), cn, boolByte(value)) })
}

func (*API) SetAttrBoolList(d native.Handle, name string, values []bool) {
	cb := make([]C.uchar, len(values))
	for i, v := range values {
		cb[i] = boolByte(v)
	}
	cstring(name, func(cn *C.char) {
		C.TF_SetAttrBoolList(desc(d), cn, first(cb), C.int(len(cb)))
	})
}

func (*API) SetAttrType(d native.Handle, name string, value native.DataType) {
	cstring(name, func(cn *C.char) { C.TF_SetAttrType(desc(d), cn, C.TF_DataType(value)) })
}

func (*API) SetAttrTypeList(d native.Handle, name string, values []native.DataType) {
	ct := make([]C.TF_DataType, len(values))
	for i, v := range values {
		ct[i] = C.TF_DataType(v)
	}
	cstring(name, func(cn *C.char) {
		C.TF_SetAttrTypeList(desc(d), cn, first(ct), C.int(len(ct)))
	})
}

func (*API) SetAttrShape(d native.Handle, name string, dims []int64, numDims int) {
	cstring(name, func(cn *C.char) {
		C.TF_SetAttrShape(desc(d), cn, (*C.int64_t)(first(dims)), C.int(numDims))
	})
}

func (*API) SetAttrTensor(d native.Handle, name string, t native.Handle, st native.Handle) {
	cstring(name, func(cn *C.char) { C.TF_SetAttrTensor(desc(d), cn, tensor(t), status(st)) })
}

func (*API) FinishOperation(d native.Handle, st native.Handle) native.Handle {
	return handle(C.TF_FinishOperation(desc(d), status(st)))
}

func (*API) OperationName(op native.Handle) string {
	return C.GoString(C.TF_OperationName(operation(op)))
}

func (*API) OperationOpType(op native.Handle) string {
	return C.GoString(C.TF_OperationOpType(operation(op)))
}

func (*API) OperationDevice(op native.Handle) string {
	return C.GoString(C.TF_OperationDevice(operation(op)))
}

func (*API) OperationNumInputs(op native.Handle) int {
	return int(C.TF_OperationNumInputs(operation(op)))
}

func (*API) OperationNumOutputs(op native.Handle) int {
	return int(C.TF_OperationNumOutputs(operation(op)))
}

func (*API) OperationOutputType(out native.Port) native.DataType {
	return native.DataType(C.TF_OperationOutputType(output(out)))
}

// Tensoren

func (*API) AllocateTensor(dt native.DataType, dims []int64, byteLen int) native.Handle {
	t := C.TF_AllocateTensor(C.TF_DataType(dt), (*C.int64_t)(first(dims)), C.int(len(dims)), C.size_t(byteLen))
	return handle(t)
}

func (*API) DeleteTensor(t native.Handle)                 { C.TF_DeleteTensor(tensor(t)) }
func (*API) TensorType(t native.Handle) native.DataType   { return native.DataType(C.TF_TensorType(tensor(t))) }
func (*API) TensorNumDims(t native.Handle) int            { return int(C.TF_NumDims(tensor(t))) }
func (*API) TensorDim(t native.Handle, i int) int64       { return int64(C.TF_Dim(tensor(t), C.int(i))) }
func (*API) TensorByteSize(t native.Handle) int           { return int(C.TF_TensorByteSize(tensor(t))) }

func (*API) TensorData(t native.Handle) []byte {
	n := C.TF_TensorByteSize(tensor(t))
	if n == 0 {
		return []byte{}
	}
	return unsafe.Slice((*byte)(C.TF_TensorData(tensor(t))), int(n))
}

// Sessions

func (*API) NewSessionOptions() native.Handle       { return handle(C.TF_NewSessionOptions()) }
func (*API) DeleteSessionOptions(o native.Handle)   { C.TF_DeleteSessionOptions(options(o)) }

func (*API) SetTarget(o native.Handle, target string) {
	cstring(target, func(cs *C.char) { C.TF_SetTarget(options(o), cs) })
}

func (*API) SetConfig(o native.Handle, proto []byte, st native.Handle) {
	var p unsafe.Pointer
	if len(proto) > 0 {
		p = C.CBytes(proto)
		defer C.free(p)
	}
	C.TF_SetConfig(options(o), p, C.size_t(len(proto)), status(st))
}

func (*API) NewSession(g native.Handle, o native.Handle, st native.Handle) native.Handle {
	return handle(C.TF_NewSession(graph(g), options(o), status(st)))
}

func (*API) CloseSession(s native.Handle, st native.Handle) {
	C.TF_CloseSession(session(s), status(st))
}

func (*API) DeleteSession(s native.Handle, st native.Handle) {
	C.TF_DeleteSession(session(s), status(st))
}

func (*API) SessionRun(s native.Handle, inputs []native.Port, inputValues []native.Handle,
	fetches []native.Port, targets []native.Handle, st native.Handle,
) []native.Handle {
	ci := outputs(inputs)
	cv := make([]*C.TF_Tensor, len(inputValues))
	for i, h := range inputValues {
		cv[i] = tensor(h)
	}
	co := outputs(fetches)
	ct := make([]*C.TF_Operation, len(targets))
	for i, h := range targets {
		ct[i] = operation(h)
	}
	results := make([]*C.TF_Tensor, len(fetches))

	C.TF_SessionRun(session(s), nil,
		first(ci), first(cv), C.int(len(ci)),
		first(co), first(results), C.int(len(co)),
		first(ct), C.int(len(ct)),
		nil, status(st))

	out := make([]native.Handle, len(results))
	for i, t := range results {
		out[i] = handle(t)
	}
	return out
}
