package sync

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

// console is the driver's message sink. Basic output and warnings are muted
// by quiet; verbose output additionally requires a raised verbosity level.
type console struct {
	// quiet mutes all output.
	quiet bool
	// verbose is the verbosity level.
	verbose int
	// out receives normal output.
	out io.Writer
	// warn colors warning lines.
	warn *color.Color
}

// newConsole creates a console for the specified options, writing to
// standard output.
func newConsole(options *Options) *console {
	return &console{
		quiet:   options.Quiet,
		verbose: options.Verbose,
		out:     os.Stdout,
		warn:    color.New(color.FgYellow),
	}
}

// Basic prints a line unless muted.
func (c *console) Basic(format string, args ...interface{}) {
	if c.quiet {
		return
	}
	fmt.Fprintf(c.out, format+"\n", args...)
}

// Verbose prints a line at verbosity 1 or higher.
func (c *console) Verbose(format string, args ...interface{}) {
	if c.quiet || c.verbose < 1 {
		return
	}
	fmt.Fprintf(c.out, format+"\n", args...)
}

// Warning prints a highlighted warning line unless muted.
func (c *console) Warning(format string, args ...interface{}) {
	if c.quiet {
		return
	}
	c.warn.Fprintf(c.out, "warning: "+format+"\n", args...)
}
