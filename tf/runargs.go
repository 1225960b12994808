// runargs.go - Builder für Session-Läufe
// Enthält: RunArgs, FetchToken

package tf

import (
	"context"
	"errors"
	"fmt"
)

// FetchToken identifiziert einen angeforderten Fetch
type FetchToken int

// RunArgs sammelt Feeds, Fetches und Targets eines Laufs. Nach Run werden
// die Ergebnisse über Fetch abgeholt; nicht abgeholte Ergebnisse gibt Close
// frei.
type RunArgs struct {
	session *Session
	feeds   map[Output]*Tensor
	fetches []Output
	targets []*Operation
	results []*Tensor
	ran     bool
}

// NewRunArgs erstellt einen Builder für s
func (s *Session) NewRunArgs() *RunArgs {
	return &RunArgs{session: s, feeds: make(map[Output]*Tensor)}
}

// AddFeed ersetzt den Ausgang o durch t. t bleibt im Besitz des Aufrufers.
func (a *RunArgs) AddFeed(o Output, t *Tensor) *RunArgs {
	a.feeds[o] = t
	return a
}

// AddTarget führt op aus, ohne ein Ergebnis zu liefern
func (a *RunArgs) AddTarget(op *Operation) *RunArgs {
	a.targets = append(a.targets, op)
	return a
}

// RequestFetch fordert den Ausgang index von op an
func (a *RunArgs) RequestFetch(op *Operation, index int) FetchToken {
	a.fetches = append(a.fetches, Output{Op: op, Index: index})
	return FetchToken(len(a.fetches) - 1)
}

// Run führt den Lauf aus. Noch nicht abgeholte Ergebnisse eines früheren
// Laufs werden vorher freigegeben.
func (a *RunArgs) Run(ctx context.Context) error {
	if err := a.Close(); err != nil {
		return err
	}

	results, err := a.session.Run(ctx, a.feeds, a.fetches, a.targets)
	if err != nil {
		a.ran = false
		return err
	}
	a.ran = true
	a.results = results
	return nil
}

// Fetch übergibt das Ergebnis zu tok an den Aufrufer. Jedes Ergebnis kann
// nur einmal abgeholt werden.
func (a *RunArgs) Fetch(tok FetchToken) (*Tensor, error) {
	if !a.ran {
		return nil, errors.New("tf: fetch before run")
	}
	i := int(tok)
	if i < 0 || i >= len(a.results) {
		return nil, fmt.Errorf("tf: unknown fetch token %d", tok)
	}

	t := a.results[i]
	if t == nil {
		return nil, fmt.Errorf("tf: fetch token %d already fetched", tok)
	}
	a.results[i] = nil
	return t, nil
}

// Close gibt alle nicht abgeholten Ergebnisse frei
func (a *RunArgs) Close() error {
	var errs []error
	for i, t := range a.results {
		if t != nil {
			errs = append(errs, t.Close())
			a.results[i] = nil
		}
	}
	return errors.Join(errs...)
}
