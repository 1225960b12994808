// api.go - Die native C-API als Go-Interface
//
// Jede Methode entspricht einer Funktion der TensorFlow-C-API. Fehlbare
// Aufrufe nehmen ein Status-Handle als Out-Parameter; Ausgaben eines
// Aufrufs sind nur gueltig, wenn der Status danach OK meldet.
//
// Besitz: "(owned)" markiert Handles, die der Aufrufer freigeben muss.
// Nebenlaeufigkeit: "[shared]" darf parallel zu anderen [shared]-Aufrufen
// auf demselben Objekt laufen, "[exclusive]" braucht exklusiven Zugriff.
package native

import "encoding/binary"

// API ist die Aufrufoberflaeche einer nativen Tensor-Runtime.
type API interface {
	// Name ist der Registrierungsname der Implementierung
	Name() string

	// Version gibt die Version der nativen Bibliothek zurueck
	Version() string

	// ByteOrder ist die Byte-Reihenfolge der nativen Tensor-Puffer
	ByteOrder() binary.ByteOrder

	// NewStatus erstellt einen Status (owned, DeleteStatus). Ein Status
	// gehoert genau einem Aufrufer und wird nie geteilt.
	NewStatus() Handle
	DeleteStatus(s Handle)
	StatusCode(s Handle) Code
	StatusMessage(s Handle) string

	// NewGraph erstellt einen leeren Graphen (owned, DeleteGraph) [exclusive].
	NewGraph() Handle
	DeleteGraph(g Handle)

	// GraphOperationByName sucht eine Operation; Nil wenn unbekannt [shared].
	// Operationen gehoeren dem Graphen und werden nie einzeln freigegeben.
	GraphOperationByName(g Handle, name string) Handle

	// GraphNextOperation iteriert ueber alle Operationen; Nil am Ende [shared].
	GraphNextOperation(g Handle, pos *int) Handle

	// GraphTensorShape liefert die statisch bekannte Shape eines Ausgangs.
	// rank < 0 bedeutet unbekannter Rang, unbekannte Dimensionen sind -1 [shared].
	GraphTensorShape(g Handle, out Port, status Handle) (dims []int64, rank int)

	// AddGradients fuegt Gradienten-Operationen fuer d(sum ys)/d(xs) hinzu.
	// Ein Ergebnis-Port mit Op == Nil bedeutet: kein Gradient [exclusive].
	AddGradients(g Handle, prefix string, ys, xs, dxs []Port, status Handle) []Port

	// NewOperation beginnt eine Operationsbeschreibung. Die Beschreibung wird
	// von FinishOperation verbraucht, auch im Fehlerfall [exclusive].
	NewOperation(g Handle, opType, name string) Handle
	AddInput(desc Handle, in Port)
	AddInputList(desc Handle, ins []Port)
	AddControlInput(desc Handle, op Handle)
	SetDevice(desc Handle, device string)
	SetAttrString(desc Handle, name, value string)
	SetAttrInt(desc Handle, name string, value int64)
	SetAttrIntList(desc Handle, name string, values []int64)
	SetAttrFloat(desc Handle, name string, value float32)
	SetAttrFloatList(desc Handle, name string, values []float32)
	SetAttrBool(desc Handle, name string, value bool)
	SetAttrBoolList(desc Handle, name string, values []bool)
	SetAttrType(desc Handle, name string, value DataType)
	SetAttrTypeList(desc Handle, name string, values []DataType)
	// SetAttrShape mit numDims < 0 setzt eine Shape mit unbekanntem Rang
	SetAttrShape(desc Handle, name string, dims []int64, numDims int)
	// SetAttrTensor kopiert den Tensor; der Aufrufer behaelt seinen Besitz
	SetAttrTensor(desc Handle, name string, t Handle, status Handle)
	FinishOperation(desc Handle, status Handle) Handle

	// Operationsabfragen [shared]
	OperationName(op Handle) string
	OperationOpType(op Handle) string
	OperationDevice(op Handle) string
	OperationNumInputs(op Handle) int
	OperationNumOutputs(op Handle) int
	OperationOutputType(out Port) DataType

	// AllocateTensor erstellt einen Tensor mit nativem Puffer (owned, DeleteTensor).
	AllocateTensor(dt DataType, dims []int64, byteLen int) Handle
	DeleteTensor(t Handle)
	TensorType(t Handle) DataType
	TensorNumDims(t Handle) int
	TensorDim(t Handle, i int) int64
	TensorByteSize(t Handle) int
	// TensorData ist eine geliehene Sicht auf den nativen Puffer; sie ist
	// nur bis DeleteTensor gueltig und darf den Tensor nicht ueberleben.
	TensorData(t Handle) []byte

	// SessionOptions (owned, DeleteSessionOptions) [exclusive]
	NewSessionOptions() Handle
	DeleteSessionOptions(o Handle)
	SetTarget(o Handle, target string)
	// SetConfig erwartet eine serialisierte tensorflow.ConfigProto
	SetConfig(o Handle, proto []byte, status Handle)

	// NewSession bindet eine Session an den Graphen (owned, CloseSession +
	// DeleteSession). Der Graph muss jede Session ueberleben.
	NewSession(g Handle, opts Handle, status Handle) Handle
	CloseSession(s Handle, status Handle)
	DeleteSession(s Handle, status Handle)

	// SessionRun fuehrt den Graphen aus [shared]. Eingabe-Tensoren bleiben
	// im Besitz des Aufrufers, die zurueckgegebenen Tensoren sind owned.
	// Meldet der Status einen Fehler, sind die Ausgaben ungueltig.
	SessionRun(s Handle, inputs []Port, inputValues []Handle, outputs []Port, targets []Handle, status Handle) []Handle
}
