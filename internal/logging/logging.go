// Package logging provides small prefixed loggers for each component,
// following the scoped-logger-per-subsystem style the teacher uses in
// cmd/autobuilder (logWriter) rather than pulling in a logging framework.
package logging

import (
	"fmt"
	"log"
	"os"

	"github.com/mattn/go-isatty"
)

// isTerminal mirrors the teacher's batch.go package-level terminal check: we
// only colorize the component tag when stderr is an actual terminal.
var isTerminal = isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

const (
	colorReset = "\033[0m"
	colorDim   = "\033[2m"
)

// New returns a *log.Logger prefixed with the given component name, e.g.
// "[scheduler] ".
func New(component string) *log.Logger {
	prefix := fmt.Sprintf("[%s] ", component)
	if isTerminal {
		prefix = colorDim + prefix + colorReset
	}
	return log.New(os.Stderr, prefix, log.LstdFlags)
}

// Base is a component-less logger used by main and other top-level glue.
var Base = log.New(os.Stderr, "", log.LstdFlags)
