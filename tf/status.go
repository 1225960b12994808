// status.go - Status Bridge
// Enthält: withStatus(), statusError() für jeden fehlbaren nativen Aufruf

package tf

import "github.com/ollama/tfbind/native"

// withStatus erstellt einen eigenen Status, führt fn aus und übersetzt einen
// Nicht-OK-Status in einen NativeError. Der Status wird auf jedem Pfad
// freigegeben.
func (rt *Runtime) withStatus(op string, fn func(st native.Handle)) error {
	api := rt.api
	g := rt.newGuard(KindStatus, api.NewStatus(), 0, func(h native.Handle) error {
		api.DeleteStatus(h)
		return nil
	})
	defer g.close()

	var err error
	if berr := g.borrowMut(func(st native.Handle) error {
		fn(st)
		err = rt.statusError(op, st)
		return nil
	}); berr != nil {
		return berr
	}
	return err
}

func (rt *Runtime) statusError(op string, st native.Handle) error {
	code := rt.api.StatusCode(st)
	if code == native.OK {
		return nil
	}
	return &NativeError{Code: code, Message: rt.api.StatusMessage(st), Op: op}
}
