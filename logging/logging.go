// Package logging builds the per-component loggers: a plain log.Logger whose prefix names
// the component in color.
package logging

import (
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/logrusorgru/aurora"
)

// Colorizer is an aurora color function, e.g. aurora.Cyan.
type Colorizer func(arg interface{}) aurora.Value

// New returns a logger prefixed by the bracketed, upper-cased @name.
func New(name string, color Colorizer, w io.Writer) *log.Logger {
	prefix := fmt.Sprintf("[%s] ", strings.ToUpper(name))
	if color != nil {
		prefix = color(prefix).String()
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmsgprefix)
}

// Discard returns a logger that drops everything, for tests.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}
