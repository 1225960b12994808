// session.go - Ausführung eines Graphen
//
// Dieses Modul enthält:
// - Session: an genau einen Graphen gebunden
// - Run: Feeds, Fetches, Targets mit optionalem Watchdog
// - borrowAll: Geteilte Ausleihe mehrerer Tensoren
package tf

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/ollama/tfbind/native"
)

// Session führt Operationen eines Graphen aus. Run darf nebenläufig
// aufgerufen werden.
type Session struct {
	rt    *Runtime
	graph *Graph
	g     *guard
}

// NewSession erstellt eine Session auf gr. Der Graph muss die Session
// überleben. Mit opts == nil gelten DefaultSessionOptions.
func NewSession(gr *Graph, opts *SessionOptions) (*Session, error) {
	rt := gr.rt
	if err := rt.checkOpen(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = DefaultSessionOptions()
	}

	og, err := opts.newNative(rt)
	if err != nil {
		return nil, fmt.Errorf("tf: session options: %w", err)
	}
	defer og.close()

	api := rt.api
	s := &Session{rt: rt, graph: gr}
	err = gr.g.borrow(func(gh native.Handle) error {
		return og.borrow(func(oh native.Handle) error {
			var sh native.Handle
			if err := rt.withStatus("NewSession", func(st native.Handle) {
				sh = api.NewSession(gh, oh, st)
			}); err != nil {
				return err
			}

			// Registrierung unter der Ausleihe, damit der Graph nicht
			// dazwischen freigegeben werden kann
			s.g = rt.newGuard(KindSession, sh, gr.g.id(), func(h native.Handle) error {
				return errors.Join(
					rt.withStatus("CloseSession", func(st native.Handle) { api.CloseSession(h, st) }),
					rt.withStatus("DeleteSession", func(st native.Handle) { api.DeleteSession(h, st) }),
				)
			})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("tf: new session: %w", err)
	}

	attach(s, s.g)
	rt.logger.Debug("session created", "session", s.g, "target", opts.Target)
	return s, nil
}

// Graph gibt den gebundenen Graphen zurück
func (s *Session) Graph() *Graph { return s.graph }

// LogValue gibt die Session als slog-Wert zurück
func (s *Session) LogValue() slog.Value { return s.g.LogValue() }

// Close schließt und löscht die native Session
func (s *Session) Close() error {
	return s.g.close()
}

func (s *Session) checkOp(what string, op *Operation) error {
	if op == nil {
		return fmt.Errorf("tf: run: %s: nil operation", what)
	}
	if op.graph != s.graph {
		return fmt.Errorf("tf: run: %s %s belongs to a different graph", what, op)
	}
	return nil
}

type runResult struct {
	handles []native.Handle
	err     error
}

// Run führt den Graphen aus: feeds ersetzen Ausgänge durch Tensoren,
// fetches werden als neue Tensoren zurückgegeben, targets nur ausgeführt.
// Die Ergebnisse gehören dem Aufrufer. Endet ctx vor dem nativen Aufruf,
// gibt Run ctx.Err() zurück und später eintreffende Ergebnisse werden
// verworfen.
func (s *Session) Run(ctx context.Context, feeds map[Output]*Tensor, fetches []Output, targets []*Operation) ([]*Tensor, error) {
	inputs := make([]native.Port, 0, len(feeds))
	values := make([]*Tensor, 0, len(feeds))
	for o, t := range feeds {
		if err := s.checkOp("feed", o.Op); err != nil {
			return nil, err
		}
		if t == nil {
			return nil, fmt.Errorf("tf: run: feed %s: nil tensor", o)
		}
		inputs = append(inputs, o.port())
		values = append(values, t)
	}

	outputs := make([]native.Port, len(fetches))
	for i, o := range fetches {
		if err := s.checkOp("fetch", o.Op); err != nil {
			return nil, err
		}
		outputs[i] = o.port()
	}

	ops := make([]native.Handle, len(targets))
	for i, op := range targets {
		if err := s.checkOp("target", op); err != nil {
			return nil, err
		}
		ops[i] = op.h
	}

	if s.rt.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.rt.runTimeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	exec := func() runResult {
		var r runResult
		r.err = s.g.borrow(func(sh native.Handle) error {
			return s.graph.g.borrow(func(native.Handle) error {
				return borrowAll(tensorGuards(values), func(vh []native.Handle) error {
					return s.rt.withStatus("SessionRun", func(st native.Handle) {
						r.handles = s.rt.api.SessionRun(sh, inputs, vh, outputs, ops, st)
					})
				})
			})
		})
		return r
	}

	var r runResult
	if ctx.Done() == nil {
		r = exec()
	} else {
		var ok bool
		if r, ok = s.watch(ctx, exec); !ok {
			return nil, ctx.Err()
		}
	}

	if r.err != nil {
		s.discard(r.handles)
		return nil, fmt.Errorf("tf: run: %w", r.err)
	}
	if len(r.handles) != len(fetches) {
		s.discard(r.handles)
		return nil, &NativeError{Code: Internal, Message: fmt.Sprintf("got %d outputs for %d fetches", len(r.handles), len(fetches)), Op: "SessionRun"}
	}

	out := make([]*Tensor, len(r.handles))
	for i, h := range r.handles {
		out[i] = s.rt.wrapTensor(h)
	}
	return out, nil
}

// watch führt exec in einer eigenen Goroutine aus. Endet ctx zuerst, wird
// das Ergebnis verworfen, sobald es eintrifft.
func (s *Session) watch(ctx context.Context, exec func() runResult) (runResult, bool) {
	var mu sync.Mutex
	abandoned := false
	done := make(chan runResult, 1)

	go func() {
		r := exec()

		mu.Lock()
		defer mu.Unlock()
		if abandoned {
			s.rt.logger.Debug("discarding outputs of abandoned run", "session", s.g, "outputs", len(r.handles))
			s.discard(r.handles)
			return
		}
		done <- r
	}()

	select {
	case r := <-done:
		return r, true
	case <-ctx.Done():
		mu.Lock()
		abandoned = true
		mu.Unlock()

		// das Ergebnis kann vor dem Setzen von abandoned angekommen sein
		select {
		case r := <-done:
			s.discard(r.handles)
		default:
		}

		s.rt.logger.Warn("run abandoned", "session", s.g, "error", ctx.Err())
		return runResult{}, false
	}
}

// discard löscht native Ausgaben, die nie an den Aufrufer gehen
func (s *Session) discard(hs []native.Handle) {
	for _, h := range hs {
		if h != native.Nil {
			s.rt.api.DeleteTensor(h)
		}
	}
}

// borrowAll leiht alle guards geteilt und ruft fn mit den Handles in der
// Reihenfolge von gs auf. Jeder guard wird nur einmal und nach ID sortiert
// ausgeliehen.
func borrowAll(gs []*guard, fn func(hs []native.Handle) error) error {
	index := make(map[*guard]int, len(gs))
	var uniq []*guard
	for _, g := range gs {
		if _, ok := index[g]; !ok {
			index[g] = 0
			uniq = append(uniq, g)
		}
	}
	slices.SortFunc(uniq, func(a, b *guard) int { return cmp.Compare(a.id(), b.id()) })
	for i, g := range uniq {
		index[g] = i
	}

	uh := make([]native.Handle, len(uniq))
	var step func(i int) error
	step = func(i int) error {
		if i < len(uniq) {
			return uniq[i].borrow(func(h native.Handle) error {
				uh[i] = h
				return step(i + 1)
			})
		}

		hs := make([]native.Handle, len(gs))
		for j, g := range gs {
			hs[j] = uh[index[g]]
		}
		return fn(hs)
	}
	return step(0)
}
