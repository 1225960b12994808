// Package all registriert alle verfügbaren nativen Runtimes.
package all

import (
	_ "github.com/ollama/tfbind/native/reference"
	_ "github.com/ollama/tfbind/native/tensorflow"
)
