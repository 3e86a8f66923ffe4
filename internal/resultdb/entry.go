package resultdb

import "github.com/benchdb/benchdb/internal/fingerprint"

// Well-known entry fields maintained by the database. Everything else in an
// entry (result payload, captured output, timing) is opaque to this layer.
const (
	// FieldEnv holds the resolved environment snapshot on iterated entries.
	// It is split back out on insert and never stored inside the result log.
	FieldEnv = "env"

	// FieldEnvFingerprint identifies the environment snapshot of an entry.
	FieldEnvFingerprint = "env_fingerprint"

	// FieldArgsFingerprint identifies the invocation arguments of an entry.
	FieldArgsFingerprint = "args_fingerprint"

	// FieldParameters holds the canonicalized invocation arguments.
	FieldParameters = "parameters"

	// FieldArgv holds the command line of the recording process.
	FieldArgv = "argv"
)

// Entry is one stored benchmark result: a JSON-like mapping carrying the
// result payload plus the fields above. Entries yielded by iteration have
// their environment snapshot attached under FieldEnv.
type Entry map[string]any

// ArgsFingerprint returns the argument identity of the entry.
func (e Entry) ArgsFingerprint() string {
	s, _ := e[FieldArgsFingerprint].(string)
	return s
}

// EnvFingerprint returns the environment identity of the entry.
func (e Entry) EnvFingerprint() string {
	s, _ := e[FieldEnvFingerprint].(string)
	return s
}

// Env returns the attached environment snapshot, if resolved.
func (e Entry) Env() any {
	return e[FieldEnv]
}

// Fingerprint returns the content digest of the whole entry.
func (e Entry) Fingerprint() string {
	return fingerprint.Of(map[string]any(e))
}

// clone returns a shallow copy so callers can mutate iterated entries freely.
func (e Entry) clone() Entry {
	out := make(Entry, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}
