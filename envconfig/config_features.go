// config_features.go - Feature-Flags und Session-Defaults
//
// Dieses Modul enthaelt:
// - Feature-Flags (Strict, LeakCheck)
// - Thread-Einstellungen fuer neue Sessions
package envconfig

// =============================================================================
// Feature-Flags
// =============================================================================

var (
	// Strict laesst Programmierfehler (doppelte Freigabe, Benutzung nach
	// Freigabe, falsche Teardown-Reihenfolge) in einem panic enden
	Strict = Bool("TFBIND_STRICT")

	// LeakCheck laesst Runtime.Close mit Fehler enden, wenn noch Handles leben
	LeakCheck = BoolWithDefault("TFBIND_LEAK_CHECK")
)

// =============================================================================
// Thread-Einstellungen
// =============================================================================

var (
	// IntraOpThreads setzt die Threads innerhalb einer Operation
	// Konfigurierbar via TFBIND_INTRA_OP_THREADS (0 = Runtime entscheidet)
	IntraOpThreads = Threads("TFBIND_INTRA_OP_THREADS")

	// InterOpThreads setzt die Threads zwischen unabhaengigen Operationen
	// Konfigurierbar via TFBIND_INTER_OP_THREADS (0 = Runtime entscheidet)
	InterOpThreads = Threads("TFBIND_INTER_OP_THREADS")
)
