// Package otalog is the CLI's small structured-logging wrapper: stdlib
// log.Logger for the actual writing, mitchellh/colorstring for severity
// coloring, matching the style of yuan22-payload_extract's direct
// log.Fatalln/log.Println usage generalized to the interpreter's
// three-tier error handling (spec §7): info, warn (tier-3 soft skip),
// error (tier-2 partition-scoped failure).
package otalog

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/mitchellh/colorstring"
)

var std = log.New(os.Stderr, "", 0)

// SetOutput redirects where Info/Warn/Error/Fatal write — tests use this
// to capture output instead of Stderr.
func SetOutput(w io.Writer) { std.SetOutput(w) }

// Info logs a routine progress message.
func Info(format string, args ...any) {
	std.Println(colorstring.Color("[blue][bold]info:[reset] " + fmt.Sprintf(format, args...)))
}

// Warn logs a recoverable, operation-scoped failure: the interpreter
// skipped one operation and continues (spec §7 tier 3).
func Warn(format string, args ...any) {
	std.Println(colorstring.Color("[yellow][bold]warn:[reset] " + fmt.Sprintf(format, args...)))
}

// Error logs a partition-scoped failure: the partition is added to the
// failure set and extraction continues with the rest (spec §7 tier 2).
func Error(format string, args ...any) {
	std.Println(colorstring.Color("[red][bold]error:[reset] " + fmt.Sprintf(format, args...)))
}

// Fatal logs a structural, unrecoverable failure and exits (spec §7 tier
// 1) — mirrors the teacher's log.Fatalln call sites.
func Fatal(format string, args ...any) {
	std.Println(colorstring.Color("[red][bold]fatal:[reset] " + fmt.Sprintf(format, args...)))
	os.Exit(1)
}
