// config_utils.go - Getter-Konstruktoren und Export der Konfiguration
//
// Dieses Modul enthaelt:
// - Bool/BoolWithDefault, Duration, Threads: Getter pro Variablentyp
// - EnvVar, AsMap, Values: Beschreibung aller Variablen fuer CLI und Logs
package envconfig

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"
)

// invalid meldet einen nicht lesbaren Wert einmal pro Abfrage
func invalid(key, value string, def any) {
	slog.Warn("invalid environment variable, using default", "key", key, "value", value, "default", def)
}

// BoolWithDefault liest key als Bool. Gesetzte, aber nicht lesbare Werte
// zaehlen als true.
func BoolWithDefault(key string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		s := Var(key)
		if s == "" {
			return defaultValue
		}
		b, err := strconv.ParseBool(s)
		return err != nil || b
	}
}

// Bool liest key als Bool mit Default false
func Bool(key string) func() bool {
	return func() bool { return BoolWithDefault(key)(false) }
}

// Duration liest key als Dauer ("250ms", "1m") oder ganze Sekunden.
// Negative Werte ergeben 0.
func Duration(key string) func() time.Duration {
	return func() time.Duration {
		s := Var(key)
		if s == "" {
			return 0
		}

		d, err := time.ParseDuration(s)
		if err != nil {
			n, nerr := strconv.ParseInt(s, 10, 64)
			if nerr != nil {
				invalid(key, s, 0)
				return 0
			}
			d = time.Duration(n) * time.Second
		}
		return max(d, 0)
	}
}

// Threads liest key als Thread-Anzahl zwischen 0 und MaxInt32
func Threads(key string) func() int32 {
	return func() int32 {
		s := Var(key)
		if s == "" {
			return 0
		}
		n, err := strconv.ParseUint(s, 10, 31)
		if err != nil || n > math.MaxInt32 {
			invalid(key, s, 0)
			return 0
		}
		return int32(n)
	}
}

// =============================================================================
// Export
// =============================================================================

// EnvVar beschreibt eine Variable mit aktuellem Wert
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

type doc struct {
	name, description string
	value             func() any
}

var docs = []doc{
	{"TFBIND_DEBUG", "Show additional debug information (e.g. TFBIND_DEBUG=1)", func() any { return LogLevel() }},
	{"TFBIND_NATIVE", "Native runtime to use (default: tensorflow if built in, else reference)", func() any { return Native() }},
	{"TFBIND_RUN_TIMEOUT", "Abandon a session run after this duration (default: no timeout)", func() any { return RunTimeout() }},
	{"TFBIND_STRICT", "Panic on double release, use after release and teardown order errors", func() any { return Strict() }},
	{"TFBIND_LEAK_CHECK", "Fail Runtime.Close when handles are still live", func() any { return LeakCheck(false) }},
	{"TFBIND_INTRA_OP_THREADS", "Threads used within a single operation (default: runtime decides)", func() any { return IntraOpThreads() }},
	{"TFBIND_INTER_OP_THREADS", "Threads used across independent operations (default: runtime decides)", func() any { return InterOpThreads() }},
}

// AsMap gibt alle Variablen nach Name zurueck
func AsMap() map[string]EnvVar {
	m := make(map[string]EnvVar, len(docs))
	for _, d := range docs {
		m[d.name] = EnvVar{Name: d.name, Value: d.value(), Description: d.description}
	}
	return m
}

// Values gibt die aktuellen Werte als Strings zurueck
func Values() map[string]string {
	vals := make(map[string]string, len(docs))
	for k, v := range AsMap() {
		vals[k] = fmt.Sprint(v.Value)
	}
	return vals
}
