// Package op baut Graphen aus typisierten Op-Wrappern.
//
// Ein Scope trägt Namespace, Op-Name, Control-Dependencies und Gerät für
// die nächste Operation. Abgeleitete Scopes teilen den Graphen und die
// Namensvergabe mit ihrem Ursprung.
package op

import (
	"fmt"
	"slices"
	"sync"

	"github.com/ollama/tfbind/tf"
)

// names vergibt eindeutige Namen innerhalb eines Graphen
type names struct {
	mu     sync.Mutex
	counts map[string]int
}

func (n *names) unique(base string) string {
	n.mu.Lock()
	defer n.mu.Unlock()

	c := n.counts[base]
	n.counts[base] = c + 1
	if c == 0 {
		return base
	}
	return fmt.Sprintf("%s_%d", base, c)
}

// claim markiert einen fest vergebenen Namen als belegt
func (n *names) claim(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.counts[name] == 0 {
		n.counts[name] = 1
	}
}

type Scope struct {
	graph    *tf.Graph
	ops      *names
	scopes   *names
	ns       string
	name     string
	controls []*tf.Operation
	device   string
}

// NewScope erstellt einen Root-Scope auf einem neuen Graphen
func NewScope(rt *tf.Runtime) (*Scope, error) {
	g, err := rt.NewGraph()
	if err != nil {
		return nil, err
	}
	return NewScopeOf(g), nil
}

// NewScopeOf erstellt einen Root-Scope auf einem bestehenden Graphen
func NewScopeOf(g *tf.Graph) *Scope {
	return &Scope{
		graph:  g,
		ops:    &names{counts: make(map[string]int)},
		scopes: &names{counts: make(map[string]int)},
	}
}

// Graph gibt den Graphen des Scopes zurück
func (s *Scope) Graph() *tf.Graph { return s.graph }

func (s *Scope) clone() *Scope {
	c := *s
	c.controls = slices.Clone(s.controls)
	return &c
}

func (s *Scope) prefixed(name string) string {
	if s.ns == "" {
		return name
	}
	return s.ns + "/" + name
}

// SubScope erstellt einen Scope mit dem Namespace ns unterhalb von s.
// Ein wiederholtes ns wird zu ns_1, ns_2, ...
func (s *Scope) SubScope(ns string) *Scope {
	c := s.clone()
	c.ns = s.scopes.unique(s.prefixed(ns))
	c.name = ""
	return c
}

// WithOpName legt den Namen der nächsten Operation fest
func (s *Scope) WithOpName(name string) *Scope {
	c := s.clone()
	c.name = name
	return c
}

// WithControlDependencies fügt jeder Operation des Scopes ops als
// Control-Inputs hinzu
func (s *Scope) WithControlDependencies(ops ...*tf.Operation) *Scope {
	c := s.clone()
	c.controls = append(c.controls, ops...)
	return c
}

// WithDevice legt das Gerät aller Operationen des Scopes fest
func (s *Scope) WithDevice(device string) *Scope {
	c := s.clone()
	c.device = device
	return c
}

// UniqueName gibt einen noch freien Namen für opType zurück: ns/Type,
// ns/Type_1, ...
func (s *Scope) UniqueName(opType string) string {
	return s.ops.unique(s.prefixed(opType))
}

// opName ist der Name der nächsten Operation
func (s *Scope) opName(opType string) string {
	if s.name == "" {
		return s.UniqueName(opType)
	}
	name := s.prefixed(s.name)
	s.ops.claim(name)
	return name
}
