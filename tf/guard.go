// guard.go - Lifetime Guard für native Handles
//
// Dieses Modul enthält:
// - guard: Besitz eines Handles, geteilte und exklusive Ausleihe
// - close: Explizite Freigabe, genau einmal
// - collect: Freigabe durch runtime.AddCleanup, wenn der Besitzer
//   unerreichbar wurde
package tf

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/ollama/tfbind/logutil"
	"github.com/ollama/tfbind/native"
)

type guard struct {
	rt    *Runtime
	entry Entry

	// mu: RLock für geteilte, Lock für exklusive Ausleihe und Freigabe
	mu       sync.RWMutex
	h        native.Handle
	release  func(native.Handle) error
	released bool
}

// newGuard übernimmt den Besitz von h und registriert es
func (rt *Runtime) newGuard(kind Kind, h native.Handle, parent uint64, release func(native.Handle) error) *guard {
	g := &guard{rt: rt, h: h, release: release}
	g.entry = rt.registry.register(kind, h, parent, g)
	rt.logger.Log(context.TODO(), logutil.LevelTrace, "handle created", "handle", g.entry)
	return g
}

// attach gibt g automatisch frei, sobald owner unerreichbar wird
func attach[T any](owner *T, g *guard) {
	runtime.AddCleanup(owner, func(g *guard) { g.collect() }, g)
}

// LogValue gibt das Handle als slog-Wert zurück
func (g *guard) LogValue() slog.Value { return g.entry.LogValue() }

func (g *guard) id() uint64 { return g.entry.ID }

// borrow leiht das Handle für nur lesende Aufrufe
func (g *guard) borrow(fn func(h native.Handle) error) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.released {
		return g.rt.misuse(fmt.Errorf("%w: %s", ErrUseAfterRelease, g.entry))
	}
	return fn(g.h)
}

// borrowMut leiht das Handle exklusiv für verändernde Aufrufe
func (g *guard) borrowMut(fn func(h native.Handle) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.released {
		return g.rt.misuse(fmt.Errorf("%w: %s", ErrUseAfterRelease, g.entry))
	}
	return fn(g.h)
}

// isReleased meldet, ob das Handle bereits freigegeben ist
func (g *guard) isReleased() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.released
}

// close gibt das Handle explizit frei
func (g *guard) close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.released {
		return g.rt.misuse(fmt.Errorf("%w: %s", ErrDoubleRelease, g.entry))
	}

	next, _, err := g.rt.registry.deregister(g.id(), nil)
	if err != nil {
		return g.rt.misuse(fmt.Errorf("release %s: %w", g.entry, err))
	}

	g.finishLocked(next)
	return nil
}

// collect läuft im Cleanup, niemals mit panic
func (g *guard) collect() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.released {
		return
	}

	g.rt.logger.Warn("handle leaked, releasing in cleanup", "handle", g.entry)
	g.releaseOrDeferLocked()
}

// closeLeaked gibt ein beim Schließen der Runtime noch lebendes Handle frei
func (g *guard) closeLeaked() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.released {
		return
	}

	g.rt.logger.Warn("handle leaked, releasing on runtime close", "handle", g.entry)
	g.releaseOrDeferLocked()
}

// releaseOrDeferLocked gibt frei oder merkt die Freigabe vor, bis das
// letzte Kind freigegeben wurde
func (g *guard) releaseOrDeferLocked() {
	next, deferred, err := g.rt.registry.deregister(g.id(), g.releaseDeferred)
	switch {
	case err != nil:
		g.rt.logger.Error("cannot release handle", "handle", g.entry, "error", err)
	case deferred:
		g.rt.logger.Debug("release deferred until dependents are released", "handle", g.entry)
	default:
		g.finishLocked(next)
	}
}

func (g *guard) releaseDeferred() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.released {
		return
	}

	next, _, err := g.rt.registry.deregister(g.id(), nil)
	if err != nil {
		g.rt.logger.Error("cannot release handle", "handle", g.entry, "error", err)
		return
	}
	g.finishLocked(next)
}

// finishLocked ruft den nativen Deleter; Fehler werden nur geloggt
func (g *guard) finishLocked(next func()) {
	h := g.h
	g.h = native.Nil
	g.released = true

	if err := g.release(h); err != nil {
		g.rt.logger.Error("native release failed", "handle", g.entry, "error", err)
	} else {
		g.rt.logger.Log(context.TODO(), logutil.LevelTrace, "handle released", "handle", g.entry)
	}

	if next != nil {
		next()
	}
}
