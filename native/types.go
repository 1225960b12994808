// types.go - Grundtypen der nativen C-API-Schnittstelle
// Enthaelt: Handle, Port, Code, DataType

// Package native beschreibt die C-API-Oberflaeche der Tensor-Runtime.
//
// Alles in diesem Paket ist roh: Handles sind undurchsichtige Adressen der
// nativen Runtime und werden ausschliesslich an die API zurueckgegeben.
// Besitz und Lebensdauer verwaltet das Paket tf.
package native

import "fmt"

// Handle ist eine undurchsichtige Referenz auf eine native Ressource
// (Graph, Session, Tensor, Status, SessionOptions, Operation).
type Handle uintptr

// Nil ist das ungueltige Handle.
const Nil Handle = 0

// Port adressiert einen Ausgang einer Operation (TF_Output).
type Port struct {
	Op    Handle
	Index int
}

// Code ist der Ergebniscode eines nativen Aufrufs (TF_Code).
type Code int

const (
	OK                 Code = 0
	Cancelled          Code = 1
	Unknown            Code = 2
	InvalidArgument    Code = 3
	DeadlineExceeded   Code = 4
	NotFound           Code = 5
	AlreadyExists      Code = 6
	PermissionDenied   Code = 7
	ResourceExhausted  Code = 8
	FailedPrecondition Code = 9
	Aborted            Code = 10
	OutOfRange         Code = 11
	Unimplemented      Code = 12
	Internal           Code = 13
	Unavailable        Code = 14
	DataLoss           Code = 15
	Unauthenticated    Code = 16
)

var codeNames = map[Code]string{
	OK:                 "OK",
	Cancelled:          "CANCELLED",
	Unknown:            "UNKNOWN",
	InvalidArgument:    "INVALID_ARGUMENT",
	DeadlineExceeded:   "DEADLINE_EXCEEDED",
	NotFound:           "NOT_FOUND",
	AlreadyExists:      "ALREADY_EXISTS",
	PermissionDenied:   "PERMISSION_DENIED",
	ResourceExhausted:  "RESOURCE_EXHAUSTED",
	FailedPrecondition: "FAILED_PRECONDITION",
	Aborted:            "ABORTED",
	OutOfRange:         "OUT_OF_RANGE",
	Unimplemented:      "UNIMPLEMENTED",
	Internal:           "INTERNAL",
	Unavailable:        "UNAVAILABLE",
	DataLoss:           "DATA_LOSS",
	Unauthenticated:    "UNAUTHENTICATED",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("CODE(%d)", int(c))
}

// DataType ist der Elementtyp eines Tensors (TF_DataType).
type DataType int

const (
	Float      DataType = 1
	Double     DataType = 2
	Int32      DataType = 3
	Uint8      DataType = 4
	Int16      DataType = 5
	Int8       DataType = 6
	String     DataType = 7
	Complex64  DataType = 8
	Int64      DataType = 9
	Bool       DataType = 10
	BFloat16   DataType = 14
	Uint16     DataType = 17
	Complex128 DataType = 18
	Half       DataType = 19
	Resource   DataType = 20
	Variant    DataType = 21
	Uint32     DataType = 22
	Uint64     DataType = 23
)

// Size gibt die Groesse eines Elements in Bytes zurueck.
// 0 bedeutet: kein fester Speicherlayout (String, Resource, Variant).
func (dt DataType) Size() int {
	switch dt {
	case Int8, Uint8, Bool:
		return 1
	case Int16, Uint16, Half, BFloat16:
		return 2
	case Float, Int32, Uint32:
		return 4
	case Double, Int64, Uint64, Complex64:
		return 8
	case Complex128:
		return 16
	default:
		return 0
	}
}

func (dt DataType) String() string {
	switch dt {
	case Float:
		return "float"
	case Double:
		return "double"
	case Int32:
		return "int32"
	case Uint8:
		return "uint8"
	case Int16:
		return "int16"
	case Int8:
		return "int8"
	case String:
		return "string"
	case Complex64:
		return "complex64"
	case Int64:
		return "int64"
	case Bool:
		return "bool"
	case BFloat16:
		return "bfloat16"
	case Uint16:
		return "uint16"
	case Complex128:
		return "complex128"
	case Half:
		return "half"
	case Resource:
		return "resource"
	case Variant:
		return "variant"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	default:
		return fmt.Sprintf("dtype(%d)", int(dt))
	}
}
