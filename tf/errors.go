// errors.go - Fehlertaxonomie der Bindung
// Enthält: Sentinel-Fehler, NativeError, ShapeMismatchError,
// UnsupportedDtypeError, LeakError

package tf

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrShapeMismatch: Datenlänge passt nicht zur Shape, oder verschachtelte
	// Slices sind nicht rechteckig
	ErrShapeMismatch = errors.New("tf: shape mismatch")

	// ErrUnsupportedDtype: Elementtyp hat keine Darstellung auf der anderen Seite
	ErrUnsupportedDtype = errors.New("tf: unsupported dtype")

	// ErrDoubleRelease: ein Handle wurde zweimal freigegeben
	ErrDoubleRelease = errors.New("tf: double release")

	// ErrUseAfterRelease: ein Handle wurde nach der Freigabe benutzt
	ErrUseAfterRelease = errors.New("tf: use after release")

	// ErrNotRegistered: das Handle ist der Registry unbekannt
	ErrNotRegistered = errors.New("tf: handle not registered")

	// ErrTeardownOrder: ein Elternobjekt soll vor seinen Kindern freigegeben werden
	ErrTeardownOrder = errors.New("tf: teardown order violated")

	// ErrOutOfRange: ein Wert ist im Zieltyp nicht darstellbar
	ErrOutOfRange = errors.New("tf: value out of range")

	// ErrRuntimeClosed: die Runtime wurde bereits geschlossen
	ErrRuntimeClosed = errors.New("tf: runtime closed")

	// ErrLeakedHandles: beim Schließen der Runtime lebten noch Handles
	ErrLeakedHandles = errors.New("tf: leaked handles")
)

// NativeError ist ein fehlgeschlagener nativer Aufruf. Code und Message
// stammen unverändert aus dem Status.
type NativeError struct {
	Code    Code
	Message string

	// Op ist der Name des nativen Aufrufs, z.B. "SessionRun"
	Op string
}

func (e *NativeError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("tf: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("tf: %s: %s: %s", e.Op, e.Code, e.Message)
}

// Is vergleicht nur den Code, damit errors.Is(err, &NativeError{Code: NotFound})
// funktioniert
func (e *NativeError) Is(target error) bool {
	t, ok := target.(*NativeError)
	return ok && t.Code == e.Code && t.Message == "" && t.Op == ""
}

// IsCode meldet, ob err ein NativeError mit dem Code c ist
func IsCode(err error, c Code) bool {
	var ne *NativeError
	return errors.As(err, &ne) && ne.Code == c
}

// ShapeMismatchError beschreibt, welche Shape bzw. Länge erwartet wurde
type ShapeMismatchError struct {
	Shape  Shape
	Detail string
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("tf: shape mismatch for %v: %s", e.Shape, e.Detail)
}

func (e *ShapeMismatchError) Unwrap() error { return ErrShapeMismatch }

// UnsupportedDtypeError nennt den nicht abbildbaren Typ
type UnsupportedDtypeError struct {
	DataType DataType
	GoType   string
}

func (e *UnsupportedDtypeError) Error() string {
	switch {
	case e.GoType == "":
		return fmt.Sprintf("tf: unsupported dtype %v", e.DataType)
	case e.DataType == 0:
		return fmt.Sprintf("tf: unsupported Go type %s", e.GoType)
	default:
		return fmt.Sprintf("tf: cannot convert between %s and %v", e.GoType, e.DataType)
	}
}

func (e *UnsupportedDtypeError) Unwrap() error { return ErrUnsupportedDtype }

// LeakError listet die Handles, die beim Schließen noch lebten
type LeakError struct {
	Handles []Entry
}

func (e *LeakError) Error() string {
	parts := make([]string, len(e.Handles))
	for i, h := range e.Handles {
		parts[i] = h.String()
	}
	return fmt.Sprintf("tf: %d leaked handles: %s", len(e.Handles), strings.Join(parts, ", "))
}

func (e *LeakError) Unwrap() error { return ErrLeakedHandles }
