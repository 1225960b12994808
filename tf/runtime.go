// runtime.go - Einstiegspunkt der Bindung
//
// Dieses Modul enthält:
// - Runtime: native API, Handle-Registry, Logger und Richtlinien
// - NewRuntime: Öffnet eine native Runtime mit Optionen
// - Close: Gibt übrig gebliebene Handles in Abhängigkeitsreihenfolge frei
package tf

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ollama/tfbind/envconfig"
	"github.com/ollama/tfbind/native"
)

// Runtime besitzt alle nativen Handles, die über sie erstellt werden
type Runtime struct {
	api      native.API
	id       uuid.UUID
	logger   *slog.Logger
	registry *Registry

	strict     bool
	leakCheck  bool
	runTimeout time.Duration

	mu     sync.RWMutex
	closed bool
}

type options struct {
	native     string
	api        native.API
	logger     *slog.Logger
	strict     bool
	leakCheck  bool
	runTimeout time.Duration
}

// Option konfiguriert NewRuntime
type Option func(*options)

// WithNative wählt die native Runtime nach Registrierungsnamen
func WithNative(name string) Option {
	return func(o *options) { o.native = name }
}

// WithAPI verwendet eine bereits geöffnete native API
func WithAPI(api native.API) Option {
	return func(o *options) { o.api = api }
}

// WithLogger setzt den Logger (Default: slog.Default())
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStrict überschreibt TFBIND_STRICT
func WithStrict(strict bool) Option {
	return func(o *options) { o.strict = strict }
}

// WithLeakCheck überschreibt TFBIND_LEAK_CHECK
func WithLeakCheck(check bool) Option {
	return func(o *options) { o.leakCheck = check }
}

// WithRunTimeout überschreibt TFBIND_RUN_TIMEOUT
func WithRunTimeout(d time.Duration) Option {
	return func(o *options) { o.runTimeout = d }
}

// NewRuntime öffnet eine native Runtime
func NewRuntime(opts ...Option) (*Runtime, error) {
	o := options{
		native:     envconfig.Native(),
		logger:     slog.Default(),
		strict:     envconfig.Strict(),
		leakCheck:  envconfig.LeakCheck(false),
		runTimeout: envconfig.RunTimeout(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	api := o.api
	if api == nil {
		name := o.native
		if name == "" {
			name = native.Default()
		}
		if name == "" {
			return nil, errors.New("tf: no native runtime registered")
		}

		var err error
		api, err = native.Open(name)
		if err != nil {
			return nil, fmt.Errorf("tf: open native runtime: %w", err)
		}
	}

	id := uuid.New()
	rt := &Runtime{
		api:        api,
		id:         id,
		logger:     o.logger.With("runtime", id.String(), "native", api.Name()),
		registry:   newRegistry(),
		strict:     o.strict,
		leakCheck:  o.leakCheck,
		runTimeout: o.runTimeout,
	}

	rt.logger.Debug("runtime opened", "version", api.Version(), "strict", rt.strict)
	return rt, nil
}

// API gibt die native API zurück
func (rt *Runtime) API() native.API { return rt.api }

// ID identifiziert die Runtime in Logs
func (rt *Runtime) ID() uuid.UUID { return rt.id }

// Version gibt die Version der nativen Bibliothek zurück
func (rt *Runtime) Version() string { return rt.api.Version() }

// Registry gibt die Handle-Registry zurück
func (rt *Runtime) Registry() *Registry { return rt.registry }

// Logger gibt den Logger der Runtime zurück
func (rt *Runtime) Logger() *slog.Logger { return rt.logger }

// checkOpen muss vor jeder neuen Allokation aufgerufen werden
func (rt *Runtime) checkOpen() error {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	if rt.closed {
		return ErrRuntimeClosed
	}
	return nil
}

// misuse behandelt einen Programmierfehler: loggen, im Strict-Modus panic
func (rt *Runtime) misuse(err error) error {
	rt.logger.Error("handle misuse", "error", err)
	if rt.strict {
		panic(err)
	}
	return err
}

// Close gibt alle noch lebenden Handles frei (Sessions, dann Tensoren, dann
// Graphen) und schließt die Runtime. Mit Leak-Check meldet Close die
// freigegebenen Handles als LeakError.
func (rt *Runtime) Close() error {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return rt.misuse(fmt.Errorf("%w: runtime %s", ErrDoubleRelease, rt.id))
	}
	rt.closed = true
	rt.mu.Unlock()

	leaked := rt.registry.Live()
	for _, kind := range teardownOrder {
		for _, g := range rt.registry.guards(kind) {
			g.closeLeaked()
		}
	}

	rt.logger.Debug("runtime closed", "leaked", len(leaked))
	if rt.leakCheck && len(leaked) > 0 {
		return &LeakError{Handles: leaked}
	}
	return nil
}
