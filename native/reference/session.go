// session.go - Sessions und Graph-Ausfuehrung der Referenz-Runtime
//
// Dieses Modul enthaelt:
// - sessionOptions: Target und geparste ConfigProto
// - session: Variablen-Zustand, Lauf-Serialisierung
// - SessionRun: Auswertung mit Memoisierung pro Lauf
package reference

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ollama/tfbind/native"
)

// Feldnummern aus tensorflow/core/protobuf/config.proto
const (
	configIntraOpThreads     protowire.Number = 2
	configInterOpThreads     protowire.Number = 5
	configAllowSoftPlacement protowire.Number = 7
	configLogDevicePlacement protowire.Number = 8
)

// Config ist der von der Referenz-Runtime ausgewertete Teil der ConfigProto
type Config struct {
	IntraOpThreads     int32
	InterOpThreads     int32
	AllowSoftPlacement bool
	LogDevicePlacement bool
}

// ParseConfig dekodiert eine serialisierte ConfigProto. Unbekannte Felder
// werden uebersprungen.
func ParseConfig(b []byte) (Config, error) {
	var c Config
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return c, protowire.ParseError(n)
		}
		b = b[n:]

		if typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return c, protowire.ParseError(n)
			}
			switch num {
			case configIntraOpThreads:
				c.IntraOpThreads = int32(v)
			case configInterOpThreads:
				c.InterOpThreads = int32(v)
			case configAllowSoftPlacement:
				c.AllowSoftPlacement = protowire.DecodeBool(v)
			case configLogDevicePlacement:
				c.LogDevicePlacement = protowire.DecodeBool(v)
			}
			b = b[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return c, protowire.ParseError(n)
		}
		b = b[n:]
	}
	return c, nil
}

type sessionOptions struct {
	target string
	config Config
}

// NewSessionOptions implementiert native.API
func (r *Runtime) NewSessionOptions() native.Handle {
	return r.add(&sessionOptions{})
}

// DeleteSessionOptions implementiert native.API
func (r *Runtime) DeleteSessionOptions(h native.Handle) {
	lookup[*sessionOptions](r, h)
	r.remove(h)
}

// SetTarget implementiert native.API
func (r *Runtime) SetTarget(h native.Handle, target string) {
	lookup[*sessionOptions](r, h).target = target
}

// SetConfig implementiert native.API
func (r *Runtime) SetConfig(h native.Handle, proto []byte, st native.Handle) {
	o := lookup[*sessionOptions](r, h)
	c, err := ParseConfig(proto)
	if err != nil {
		r.setStatus(st, errorf(native.InvalidArgument, "Unparseable ConfigProto: %v", err))
		return
	}
	o.config = c
	r.setStatus(st, nil)
}

// =============================================================================
// Session
// =============================================================================

type session struct {
	h      native.Handle
	g      *graph
	config Config

	// run serialisiert Laeufe, da Variablen-Zustand geteilt wird
	run    chan struct{}
	closed bool
	vars   map[*operation]*tensor
}

// SessionConfig gibt die Konfiguration einer Session zurueck
func (r *Runtime) SessionConfig(h native.Handle) Config {
	return lookup[*session](r, h).config
}

// NewSession implementiert native.API
func (r *Runtime) NewSession(gh native.Handle, oh native.Handle, st native.Handle) native.Handle {
	g := lookup[*graph](r, gh)
	o := lookup[*sessionOptions](r, oh)

	if o.target != "" {
		r.setStatus(st, errorf(native.InvalidArgument, "target '%s' is not supported by the reference runtime", o.target))
		return native.Nil
	}

	g.mu.Lock()
	if g.deleteRequested || g.byName == nil {
		g.mu.Unlock()
		r.setStatus(st, errorf(native.FailedPrecondition, "graph has been deleted"))
		return native.Nil
	}
	g.sessions++
	g.mu.Unlock()

	s := &session{
		g:      g,
		config: o.config,
		run:    make(chan struct{}, 1),
		vars:   make(map[*operation]*tensor),
	}
	s.h = r.add(s)
	r.setStatus(st, nil)
	return s.h
}

// CloseSession implementiert native.API
func (r *Runtime) CloseSession(h native.Handle, st native.Handle) {
	s := lookup[*session](r, h)

	s.run <- struct{}{}
	s.closed = true
	<-s.run

	r.setStatus(st, nil)
}

// DeleteSession implementiert native.API
func (r *Runtime) DeleteSession(h native.Handle, st native.Handle) {
	s := lookup[*session](r, h)
	r.remove(h)

	g := s.g
	g.mu.Lock()
	g.sessions--
	free := g.sessions == 0 && g.deleteRequested
	g.mu.Unlock()

	if free {
		r.freeGraph(g)
	}

	r.setStatus(st, nil)
}

// SessionRun implementiert native.API
func (r *Runtime) SessionRun(h native.Handle, inputs []native.Port, inputValues []native.Handle,
	outputs []native.Port, targets []native.Handle, st native.Handle,
) []native.Handle {
	s := lookup[*session](r, h)

	s.run <- struct{}{}
	defer func() { <-s.run }()

	if s.closed {
		r.setStatus(st, errorf(native.FailedPrecondition, "Session has been closed."))
		return nil
	}

	s.g.mu.RLock()
	defer s.g.mu.RUnlock()

	results, err := r.runLocked(s, inputs, inputValues, outputs, targets)
	r.setStatus(st, err)
	if err != nil {
		return nil
	}

	handles := make([]native.Handle, len(results))
	for i, t := range results {
		handles[i] = r.add(t.clone())
	}
	return handles
}

func (r *Runtime) runLocked(s *session, inputs []native.Port, inputValues []native.Handle,
	outputs []native.Port, targets []native.Handle,
) ([]*tensor, error) {
	if len(inputs) != len(inputValues) {
		return nil, errorf(native.InvalidArgument, "%d inputs but %d input values", len(inputs), len(inputValues))
	}

	rc := &runCtx{
		s:     s,
		feeds: make(map[input]*tensor, len(inputs)),
		memo:  make(map[*operation][]*tensor),
	}

	for i, p := range inputs {
		in, err := r.resolve(s.g, p)
		if err != nil {
			return nil, err
		}
		t := lookup[*tensor](r, inputValues[i])
		if want := in.op.outputs[in.index].dtype; t.dtype != want {
			return nil, errorf(native.InvalidArgument, "feed for '%s' has type %v, expected %v",
				in.op.name, t.dtype, want)
		}
		rc.feeds[in] = t
	}

	for _, th := range targets {
		op := lookup[*operation](r, th)
		if op.g != s.g {
			return nil, errorf(native.InvalidArgument, "target '%s' belongs to a different graph", op.name)
		}
		if _, err := rc.eval(op); err != nil {
			return nil, err
		}
	}

	results := make([]*tensor, len(outputs))
	for i, p := range outputs {
		in, err := r.resolve(s.g, p)
		if err != nil {
			return nil, err
		}
		t, err := rc.value(in)
		if err != nil {
			return nil, err
		}
		results[i] = t
	}

	return results, nil
}

// runCtx haelt die Zwischenergebnisse eines einzelnen Laufs
type runCtx struct {
	s     *session
	feeds map[input]*tensor
	memo  map[*operation][]*tensor
}

func (rc *runCtx) value(in input) (*tensor, error) {
	if t, ok := rc.feeds[in]; ok {
		return t, nil
	}
	outs, err := rc.eval(in.op)
	if err != nil {
		return nil, err
	}
	return outs[in.index], nil
}

// variable gibt den Speicher einer Variablen zurueck. Nur initialisierende
// Ops duerfen ihn anlegen.
func (rc *runCtx) variable(op *operation, create bool) (*tensor, error) {
	if op.opType != "VariableV2" {
		return nil, errorf(native.InvalidArgument, "'%s' is not a variable", op.name)
	}

	if v, ok := rc.s.vars[op]; ok {
		return v, nil
	}
	if !create {
		return nil, errorf(native.FailedPrecondition, "Attempting to use uninitialized value %s", op.name)
	}

	v := &tensor{dtype: op.outputs[0].dtype}
	rc.s.vars[op] = v
	return v, nil
}

func (rc *runCtx) eval(op *operation) ([]*tensor, error) {
	if outs, ok := rc.memo[op]; ok {
		return outs, nil
	}

	for _, c := range op.controls {
		if _, err := rc.eval(c); err != nil {
			return nil, err
		}
	}

	in := make([]*tensor, len(op.inputs))
	for i, inp := range op.inputs {
		var err error
		if op.def.isRef(i) {
			in[i], err = rc.variable(inp.op, op.def.assigns)
		} else {
			in[i], err = rc.value(inp)
		}
		if err != nil {
			return nil, err
		}
	}

	outs, err := op.def.compute(rc, op, in)
	if err != nil {
		if oe, ok := err.(*opError); ok {
			return nil, &opError{code: oe.code, msg: oe.msg + "\n\t [[{{node " + op.name + "}}]]"}
		}
		return nil, err
	}

	rc.memo[op] = outs
	return outs, nil
}
