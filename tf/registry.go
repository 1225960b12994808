// registry.go - Handle-Registry
//
// Dieses Modul enthält:
// - Kind, Entry: Beschreibung eines lebenden Handles
// - Registry: Registrierung in Erstellungsreihenfolge, Eltern/Kind-Zählung
// - deregister: Freigabe mit Prüfung der Teardown-Reihenfolge
package tf

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/ollama/tfbind/native"
)

// Kind ist die Art eines nativen Handles
type Kind int

const (
	KindStatus Kind = iota
	KindTensor
	KindGraph
	KindSessionOptions
	KindSession
)

func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindTensor:
		return "tensor"
	case KindGraph:
		return "graph"
	case KindSessionOptions:
		return "session_options"
	case KindSession:
		return "session"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// teardownOrder ist die Freigabereihenfolge in Runtime.Close
var teardownOrder = []Kind{KindSession, KindTensor, KindSessionOptions, KindStatus, KindGraph}

// Entry beschreibt ein registriertes Handle
type Entry struct {
	ID      uint64
	Kind    Kind
	Handle  native.Handle
	Parent  uint64
	Created time.Time
}

func (e Entry) String() string {
	return fmt.Sprintf("%s#%d", e.Kind, e.ID)
}

// LogValue gibt den Eintrag als slog-Wert zurück
func (e Entry) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("kind", e.Kind.String()),
		slog.Uint64("id", e.ID),
	}
	if e.Parent != 0 {
		attrs = append(attrs, slog.Uint64("parent", e.Parent))
	}
	return slog.GroupValue(attrs...)
}

type record struct {
	entry Entry
	guard *guard
}

// Registry verfolgt alle lebenden Handles einer Runtime
type Registry struct {
	mu       sync.Mutex
	next     uint64
	entries  *orderedmap.OrderedMap[uint64, *record]
	children map[uint64]int

	// deferred hält Freigaben von Eltern, deren Kinder noch leben
	deferred map[uint64]func()
}

func newRegistry() *Registry {
	return &Registry{
		entries:  orderedmap.New[uint64, *record](),
		children: make(map[uint64]int),
		deferred: make(map[uint64]func()),
	}
}

func (r *Registry) register(kind Kind, h native.Handle, parent uint64, g *guard) Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	e := Entry{ID: r.next, Kind: kind, Handle: h, Parent: parent, Created: time.Now()}
	r.entries.Set(e.ID, &record{entry: e, guard: g})
	if parent != 0 {
		r.children[parent]++
	}
	return e
}

// deregister entfernt einen Eintrag. Hat er noch Kinder, schlägt es mit
// ErrTeardownOrder fehl; ist onOrder gesetzt, wird onOrder stattdessen
// vorgemerkt und beim Freigeben des letzten Kindes zurückgegeben.
func (r *Registry) deregister(id uint64, onOrder func()) (next func(), deferred bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.entries.Get(id)
	if !ok {
		return nil, false, fmt.Errorf("%w: id %d", ErrNotRegistered, id)
	}

	if n := r.children[id]; n > 0 {
		if onOrder != nil {
			r.deferred[id] = onOrder
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("%w: %s still has %d dependent handles", ErrTeardownOrder, rec.entry, n)
	}

	r.entries.Delete(id)
	delete(r.deferred, id)

	if p := rec.entry.Parent; p != 0 {
		r.children[p]--
		if r.children[p] <= 0 {
			delete(r.children, p)
			if fn, ok := r.deferred[p]; ok {
				delete(r.deferred, p)
				next = fn
			}
		}
	}

	return next, false, nil
}

// Lookup gibt den Eintrag zu id zurück
func (r *Registry) Lookup(id uint64) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.entries.Get(id)
	if !ok {
		return Entry{}, false
	}
	return rec.entry, true
}

// Live gibt alle lebenden Einträge in Erstellungsreihenfolge zurück
func (r *Registry) Live() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	live := make([]Entry, 0, r.entries.Len())
	for pair := r.entries.Oldest(); pair != nil; pair = pair.Next() {
		live = append(live, pair.Value.entry)
	}
	return live
}

// Len gibt die Anzahl lebender Einträge zurück
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries.Len()
}

// Children gibt die Anzahl lebender Kinder eines Eintrags zurück
func (r *Registry) Children(id uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.children[id]
}

// CheckLeaks meldet alle lebenden Handles als LeakError
func (r *Registry) CheckLeaks() error {
	if live := r.Live(); len(live) > 0 {
		return &LeakError{Handles: live}
	}
	return nil
}

func (r *Registry) guards(kind Kind) []*guard {
	r.mu.Lock()
	defer r.mu.Unlock()

	var gs []*guard
	for pair := r.entries.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.entry.Kind == kind {
			gs = append(gs, pair.Value.guard)
		}
	}
	return gs
}
