// config.go - Haupt-Konfigurationsfunktionen fuer tfbind
//
// Dieses Modul enthaelt:
// - LogLevel: Gibt Log-Level zurueck (TFBIND_DEBUG)
// - Native: Gibt die gewaehlte native Runtime zurueck (TFBIND_NATIVE)
// - RunTimeout: Timeout fuer Session-Laeufe (TFBIND_RUN_TIMEOUT)
// - Var: Liest eine Environment-Variable
//
// Weitere Konfigurationen sind ausgelagert:
// - config_features.go: Feature-Flags und Session-Defaults
// - config_utils.go: Utility-Funktionen und AsMap/Values
package envconfig

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via TFBIND_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("TFBIND_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Native gibt den Namen der nativen Runtime zurueck
// Konfigurierbar via TFBIND_NATIVE
// Default: leer = bevorzugte registrierte Runtime
func Native() string {
	return strings.ToLower(Var("TFBIND_NATIVE"))
}

// RunTimeout ist das Timeout fuer einen einzelnen Session-Lauf
// Konfigurierbar via TFBIND_RUN_TIMEOUT (Dauer oder Sekunden)
// 0 oder negative Werte = kein Timeout (Default)
var RunTimeout = Duration("TFBIND_RUN_TIMEOUT")

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
