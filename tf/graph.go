// graph.go - Berechnungsgraph
//
// Dieses Modul enthält:
// - Graph: Besitz des nativen Graphen
// - Operation/Operations: Suche und Iteration
// - AddGradients: Symbolische Gradienten
package tf

import (
	"fmt"

	"github.com/ollama/tfbind/native"
)

// Graph ist ein Datenflussgraph. Operationen werden über NewOperation
// hinzugefügt und leben so lange wie der Graph.
type Graph struct {
	rt *Runtime
	g  *guard
}

// NewGraph erstellt einen leeren Graphen
func (rt *Runtime) NewGraph() (*Graph, error) {
	if err := rt.checkOpen(); err != nil {
		return nil, err
	}

	api := rt.api
	gr := &Graph{rt: rt}
	gr.g = rt.newGuard(KindGraph, api.NewGraph(), 0, func(h native.Handle) error {
		api.DeleteGraph(h)
		return nil
	})
	attach(gr, gr.g)
	return gr, nil
}

// Runtime gibt die besitzende Runtime zurück
func (gr *Graph) Runtime() *Runtime { return gr.rt }

// Close gibt den Graphen frei. Solange Sessions auf dem Graphen leben,
// schlägt Close mit ErrTeardownOrder fehl.
func (gr *Graph) Close() error {
	return gr.g.close()
}

// Operation sucht eine Operation nach Namen. Existiert sie nicht, ist das
// Ergebnis nil ohne Fehler.
func (gr *Graph) Operation(name string) (*Operation, error) {
	var op *Operation
	err := gr.g.borrow(func(gh native.Handle) error {
		if h := gr.rt.api.GraphOperationByName(gh, name); h != native.Nil {
			op = gr.newOperation(h)
		}
		return nil
	})
	return op, err
}

// Operations gibt alle Operationen in Erstellungsreihenfolge zurück
func (gr *Graph) Operations() ([]*Operation, error) {
	var ops []*Operation
	err := gr.g.borrow(func(gh native.Handle) error {
		pos := 0
		for {
			h := gr.rt.api.GraphNextOperation(gh, &pos)
			if h == native.Nil {
				return nil
			}
			ops = append(ops, gr.newOperation(h))
		}
	})
	return ops, err
}

func (gr *Graph) ports(what string, outs []Output) ([]native.Port, error) {
	ps := make([]native.Port, len(outs))
	for i, o := range outs {
		if o.Op == nil {
			return nil, fmt.Errorf("tf: %s[%d]: nil operation", what, i)
		}
		if o.Op.graph != gr {
			return nil, fmt.Errorf("tf: %s[%d]: %s belongs to a different graph", what, i, o)
		}
		ps[i] = o.port()
	}
	return ps, nil
}

// AddGradients fügt Operationen für die partiellen Ableitungen der Summe von
// ys nach xs hinzu. dxs sind optionale Anfangsgradienten (sonst Einsen).
// Ist ein x von keinem y erreichbar, ist der Eintrag im Ergebnis nil.
func (gr *Graph) AddGradients(prefix string, ys, xs, dxs []Output) ([]*Output, error) {
	yp, err := gr.ports("ys", ys)
	if err != nil {
		return nil, err
	}
	xp, err := gr.ports("xs", xs)
	if err != nil {
		return nil, err
	}
	dxp, err := gr.ports("dxs", dxs)
	if err != nil {
		return nil, err
	}
	if len(dxs) > 0 && len(dxs) != len(ys) {
		return nil, fmt.Errorf("tf: AddGradients: got %d dxs for %d ys", len(dxs), len(ys))
	}

	var grads []*Output
	err = gr.g.borrowMut(func(gh native.Handle) error {
		var out []native.Port
		if err := gr.rt.withStatus("AddGradients", func(st native.Handle) {
			out = gr.rt.api.AddGradients(gh, prefix, yp, xp, dxp, st)
		}); err != nil {
			return err
		}

		grads = make([]*Output, len(out))
		cache := make(map[native.Handle]*Operation)
		for i, p := range out {
			if p.Op == native.Nil {
				continue
			}
			op, ok := cache[p.Op]
			if !ok {
				op = gr.newOperation(p.Op)
				cache[p.Op] = op
			}
			grads[i] = &Output{Op: op, Index: p.Index}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return grads, nil
}
