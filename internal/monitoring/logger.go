// Package monitoring holds the process-wide diagnostic logger and the
// data-quality counters reported by the tracking engine.
package monitoring

import (
	"log"
	"strconv"
	"strings"
)

// Logf is the sink for every engine log line. Replace it with SetLogger to
// redirect or silence the engine.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger installs f as the engine logger; nil discards all output.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	Logf = f
}

// Component returns a logger that prefixes every line with "[name] ".
// The returned function resolves Logf at call time, so SetLogger applies to
// loggers created before it was called.
func Component(name string) func(format string, v ...interface{}) {
	prefix := "[" + name + "] "
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}

// LogCounters writes the non-zero counters of c as one line.
func LogCounters(c *Counters) {
	var b strings.Builder
	for _, name := range c.Names() {
		if v := c.Get(name); v != 0 {
			if b.Len() > 0 {
				b.WriteString(" ")
			}
			b.WriteString(name)
			b.WriteString("=")
			b.WriteString(strconv.FormatInt(v, 10))
		}
	}
	if b.Len() == 0 {
		b.WriteString("none")
	}
	Logf("[monitoring] counters: %s", b.String())
}
