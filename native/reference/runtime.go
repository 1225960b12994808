// runtime.go - In-Process Referenz-Runtime
//
// Dieses Modul enthaelt:
// - Runtime: Handle-Tabelle und Status-Objekte
// - New: Erstellt eine neue Runtime
// - init: Registriert die Runtime als "reference"
//
// Die Referenz-Runtime bildet die Semantik der TensorFlow-C-API fuer eine
// kleine Menge von Operationen nach. Sie existiert, damit die Bindung ohne
// libtensorflow getestet und vorgefuehrt werden kann. Ungueltige Handles
// fuehren zu einem panic, so wie die echte Bibliothek abstuerzen wuerde.
package reference

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/cpu"

	"github.com/ollama/tfbind/native"
)

// Version ist die gemeldete Version der Referenz-Runtime
const Version = "2.16.1-reference"

func init() {
	native.Register("reference", func() (native.API, error) {
		return New(), nil
	})
}

// Runtime implementiert native.API vollstaendig in Go
type Runtime struct {
	mu      sync.Mutex
	next    native.Handle
	objects map[native.Handle]any
}

// New erstellt eine leere Runtime
func New() *Runtime {
	return &Runtime{objects: make(map[native.Handle]any)}
}

// Name implementiert native.API
func (r *Runtime) Name() string { return "reference" }

// Version implementiert native.API
func (r *Runtime) Version() string { return Version }

// ByteOrder meldet die Byte-Reihenfolge des Hosts; die Kernels lesen die
// Puffer direkt.
func (r *Runtime) ByteOrder() binary.ByteOrder {
	if cpu.IsBigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Live gibt die Anzahl der lebenden Objekte (inkl. Operationen) zurueck
func (r *Runtime) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.objects)
}

func (r *Runtime) add(obj any) native.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	r.objects[r.next] = obj
	return r.next
}

func (r *Runtime) remove(h native.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.objects[h]; !ok {
		panic(fmt.Sprintf("reference: release of invalid handle %#x", uintptr(h)))
	}
	delete(r.objects, h)
}

// lookup loest ein Handle auf den erwarteten Objekttyp auf
func lookup[T any](r *Runtime, h native.Handle) T {
	r.mu.Lock()
	obj, ok := r.objects[h]
	r.mu.Unlock()

	t, isT := obj.(T)
	if !ok || !isT {
		panic(fmt.Sprintf("reference: invalid %T handle %#x", t, uintptr(h)))
	}
	return t
}

// =============================================================================
// Status
// =============================================================================

type status struct {
	code native.Code
	msg  string
}

// opError ist ein Fehler mit TF-Code, der in einen Status uebertragen wird
type opError struct {
	code native.Code
	msg  string
}

func (e *opError) Error() string { return e.code.String() + ": " + e.msg }

func errorf(code native.Code, format string, args ...any) error {
	return &opError{code: code, msg: fmt.Sprintf(format, args...)}
}

// NewStatus implementiert native.API
func (r *Runtime) NewStatus() native.Handle {
	return r.add(&status{})
}

// DeleteStatus implementiert native.API
func (r *Runtime) DeleteStatus(s native.Handle) {
	lookup[*status](r, s)
	r.remove(s)
}

// StatusCode implementiert native.API
func (r *Runtime) StatusCode(s native.Handle) native.Code {
	return lookup[*status](r, s).code
}

// StatusMessage implementiert native.API
func (r *Runtime) StatusMessage(s native.Handle) string {
	return lookup[*status](r, s).msg
}

// setStatus uebertraegt err in den Status; nil setzt OK
func (r *Runtime) setStatus(s native.Handle, err error) {
	st := lookup[*status](r, s)
	if err == nil {
		st.code, st.msg = native.OK, ""
		return
	}

	if oe, ok := err.(*opError); ok {
		st.code, st.msg = oe.code, oe.msg
		return
	}

	st.code, st.msg = native.Internal, err.Error()
}
