package benchdb

import (
	"io"
	"log/slog"
)

// Output is handed to a call's computation so it can write console output and
// structured logs that get captured into the stored entry. Nothing is
// captured through ambient process streams; only what goes through these
// writers is recorded.
type Output struct {
	// Stdout and Stderr capture console output.
	Stdout io.Writer
	Stderr io.Writer

	// Log records structured log entries into the entry's logging field.
	Log *slog.Logger
}

// Call describes one benchmarked invocation: a function name, its argument
// mapping, and the computation itself. The name and arguments are what gets
// fingerprinted; the computation is opaque.
type Call struct {
	// Func names the computation. Together with the arguments it forms the
	// identity of the invocation.
	Func string

	// Args are the invocation arguments, a JSON-like mapping.
	Args map[string]any

	// Defaults are filled into Args for keys the caller did not pass, so an
	// explicitly-passed default value and an omitted one fingerprint
	// identically.
	Defaults map[string]any

	// Do executes the computation. Its return value becomes the stored
	// result payload.
	Do func(out *Output) (any, error)
}

// arguments merges defaults and args, dropping names in exclude. The result
// is what gets fingerprinted and stored as the entry's parameters.
func (c *Call) arguments(exclude map[string]struct{}) map[string]any {
	merged := make(map[string]any, len(c.Args)+len(c.Defaults))
	for k, v := range c.Defaults {
		merged[k] = v
	}
	for k, v := range c.Args {
		merged[k] = v
	}
	for k := range exclude {
		delete(merged, k)
	}
	return merged
}
