// Package resultdb implements the result database: one content-addressed set
// of argument fingerprints, one append-only log of result entries, and one
// deduplicated dictionary of environment snapshots, all sharing a directory
// on a (possibly networked) filesystem.
package resultdb

import (
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/benchdb/benchdb/internal/env"
	"github.com/benchdb/benchdb/internal/fingerprint"
	"github.com/benchdb/benchdb/internal/logdb"
	"github.com/maruel/ksid"
)

// Directory layout under the database path.
const (
	argFingerprintsDir = "arg_fingerprints"
	resultsDir         = "results"
	envInfoDir         = "env_info"
)

// Options configures a DB. The zero value is ready to use.
type Options struct {
	// Logger receives warnings about skipped records. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// Env supplies environment snapshots for Add. Defaults to a fresh
	// Collector rooted at the working directory.
	Env *env.Collector

	// Namer overrides fragment naming for the underlying stores (tests).
	Namer *logdb.Namer
}

// DB is the result database. A DB instance is safe for concurrent use within
// one process. Across processes, Contains/Add/All are safe by the append-only
// fragment design; Compact and Rebuild must be run by a single coordinating
// process with no concurrent writers.
type DB struct {
	logger *slog.Logger
	env    *env.Collector
	lopts  *logdb.Options

	mu      sync.Mutex
	path    string
	args    *logdb.Set
	results *logdb.Log
	envs    *logdb.Dict

	skipped atomic.Int64
}

// Open creates or opens the database at path. It fails if the directory holds
// an incompatible database format.
func Open(path string, opts *Options) (*DB, error) {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := opts.Env
	if collector == nil {
		collector = &env.Collector{}
	}
	if err := checkInfoFile(path); err != nil {
		return nil, err
	}
	lopts := &logdb.Options{Logger: logger, Namer: opts.Namer}
	args, err := logdb.OpenSet(filepath.Join(path, argFingerprintsDir), lopts)
	if err != nil {
		return nil, err
	}
	results, err := logdb.Open(filepath.Join(path, resultsDir), lopts)
	if err != nil {
		return nil, err
	}
	envs, err := logdb.OpenDict(filepath.Join(path, envInfoDir), lopts)
	if err != nil {
		return nil, err
	}
	return &DB{
		logger:  logger,
		env:     collector,
		lopts:   lopts,
		path:    path,
		args:    args,
		results: results,
		envs:    envs,
	}, nil
}

// Path returns the database directory.
func (d *DB) Path() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.path
}

// ArgFingerprintsPath returns the directory of the argument-fingerprint
// store, the one watchers observe for other writers' flushes.
func (d *DB) ArgFingerprintsPath() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return filepath.Join(d.path, argFingerprintsDir)
}

// Contains reports whether an entry with the given argument fingerprint has
// been recorded. It may return a false negative for entries freshly written
// by another process (the set is loaded once at open); it never returns a
// false positive.
func (d *DB) Contains(argFingerprint string) bool {
	return d.args.Contains(argFingerprint)
}

// Refresh rescans the argument-fingerprint store, shrinking the window in
// which Contains can miss other writers' fresh entries.
func (d *DB) Refresh() {
	d.args.Reload()
}

// Add records a new result. It captures the current environment snapshot,
// deduplicates it by fingerprint, marks the argument fingerprint as seen, and
// appends an entry carrying the result payload plus identity, parameter, and
// command-line fields. This is the only path that creates environment
// snapshots.
func (d *DB) Add(argFingerprint string, argData any, result map[string]any) error {
	snapshot := d.env.Snapshot()
	envFingerprint := fingerprint.Of(snapshot)
	if err := d.envs.Set(envFingerprint, snapshot); err != nil {
		return err
	}
	if err := d.args.Add(argFingerprint); err != nil {
		return err
	}
	entry := make(map[string]any, len(result)+4)
	for k, v := range result {
		entry[k] = v
	}
	entry[FieldEnvFingerprint] = envFingerprint
	entry[FieldArgsFingerprint] = argFingerprint
	entry[FieldParameters] = argData
	entry[FieldArgv] = os.Args
	if _, err := d.results.Append(entry); err != nil {
		return err
	}
	return nil
}

// Insert replays a previously-iterated entry, splitting it back into its
// environment and result parts. Used by rebuilds and for copying entries
// between databases.
func (d *DB) Insert(entry Entry) error {
	return d.insertInto(entry, d.args, d.results, d.envs)
}

func (d *DB) insertInto(entry Entry, args *logdb.Set, results *logdb.Log, envs *logdb.Dict) error {
	envFingerprint := entry.EnvFingerprint()
	if err := args.Add(entry.ArgsFingerprint()); err != nil {
		return err
	}
	if envData, ok := entry[FieldEnv]; ok {
		if err := envs.Set(envFingerprint, envData); err != nil {
			return err
		}
	}
	stored := entry.clone()
	delete(stored, FieldEnv)
	if _, err := results.Append(map[string]any(stored)); err != nil {
		return err
	}
	return nil
}

// All iterates over every entry, each enriched with its environment snapshot.
// Entries whose snapshot cannot be resolved (deleted by a racing writer) are
// skipped and counted, not yielded.
func (d *DB) All() iter.Seq[Entry] {
	d.mu.Lock()
	results, envs := d.results, d.envs
	d.mu.Unlock()
	return d.allFrom(results, envs)
}

func (d *DB) allFrom(results *logdb.Log, envs *logdb.Dict) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for record := range results.All() {
			m, ok := record.(map[string]any)
			if !ok {
				d.logger.Warn("skipping non-mapping result record", "path", results.Path())
				continue
			}
			entry := Entry(m).clone()
			envData, ok := envs.Get(entry.EnvFingerprint())
			if !ok {
				d.skipped.Add(1)
				d.logger.Warn("skipping entry with unresolved environment",
					"args_fingerprint", entry.ArgsFingerprint(),
					"env_fingerprint", entry.EnvFingerprint())
				continue
			}
			entry[FieldEnv] = envData
			if !yield(entry) {
				return
			}
		}
	}
}

// Front returns the first entry, useful as a preview of the stored shape.
func (d *DB) Front() (Entry, bool) {
	for entry := range d.All() {
		return entry, true
	}
	return nil, false
}

// Skipped returns how many entries were dropped during iteration because
// their environment snapshot could not be resolved. This is why Len can
// exceed the number of iterated entries.
func (d *DB) Skipped() int64 {
	return d.skipped.Load()
}

// Len returns the number of distinct argument fingerprints recorded.
func (d *DB) Len() int {
	return d.args.Len()
}

// Fingerprint returns an order-independent digest of the whole database: the
// sorted multiset of per-entry fingerprints, fingerprinted again. It is
// invariant under compaction and under rebuilds that drop nothing.
func (d *DB) Fingerprint() string {
	return fingerprint.OfAll(func(yield func(any) bool) {
		for entry := range d.All() {
			if !yield(map[string]any(entry)) {
				return
			}
		}
	})
}

// Compact compacts the three underlying stores. The stores are keyed
// independently so the order does not matter. Must be run by a single
// coordinating process with no concurrent writers.
func (d *DB) Compact() error {
	if err := d.args.Compact(); err != nil {
		return err
	}
	if err := d.results.Compact(); err != nil {
		return err
	}
	return d.envs.Compact()
}

// Transform maps an entry to its replacement during a rebuild. Returning nil
// drops the entry.
type Transform func(Entry) Entry

// Rebuild rewrites the database through transform: the live result and
// environment stores are atomically set aside under unique names, fresh empty
// stores are created, every old entry is replayed through transform one at a
// time, surviving entries are inserted, the old stores are deleted, and the
// fresh stores are compacted. Requires exclusive access: not safe with any
// concurrent reader or writer.
func (d *DB) Rebuild(transform Transform) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	suffix := ksid.NewID().String()
	oldResults, oldEnvs := d.results, d.envs
	if err := oldResults.Move(filepath.Join(d.path, resultsDir+"-old-"+suffix)); err != nil {
		return fmt.Errorf("failed to set result store aside: %w", err)
	}
	if err := oldEnvs.Move(filepath.Join(d.path, envInfoDir+"-old-"+suffix)); err != nil {
		return fmt.Errorf("failed to set environment store aside: %w", err)
	}

	results, err := logdb.Open(filepath.Join(d.path, resultsDir), d.lopts)
	if err != nil {
		return err
	}
	envs, err := logdb.OpenDict(filepath.Join(d.path, envInfoDir), d.lopts)
	if err != nil {
		return err
	}
	if err := d.args.Clear(); err != nil {
		return err
	}

	for entry := range d.allFrom(oldResults, oldEnvs) {
		replacement := transform(entry)
		if replacement == nil {
			continue
		}
		if err := d.insertInto(replacement, d.args, results, envs); err != nil {
			return err
		}
	}
	d.results, d.envs = results, envs

	if err := oldResults.Delete(); err != nil {
		return err
	}
	if err := oldEnvs.Delete(); err != nil {
		return err
	}
	if err := d.args.Compact(); err != nil {
		return err
	}
	if err := d.results.Compact(); err != nil {
		return err
	}
	return d.envs.Compact()
}

// Clear removes all content but keeps the database usable.
func (d *DB) Clear() error {
	if err := d.args.Clear(); err != nil {
		return err
	}
	if err := d.results.Clear(); err != nil {
		return err
	}
	if err := d.envs.Clear(); err != nil {
		return err
	}
	d.skipped.Store(0)
	return nil
}

// Delete removes the database directory entirely. The DB must not be used
// afterwards.
func (d *DB) Delete() error {
	if err := d.args.Delete(); err != nil {
		return err
	}
	if err := d.results.Delete(); err != nil {
		return err
	}
	if err := d.envs.Delete(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := os.RemoveAll(d.path); err != nil {
		return fmt.Errorf("failed to delete database directory %s: %w", d.path, err)
	}
	return nil
}

// Move relocates the whole database directory. It fails before touching any
// data if newPath already exists. Not safe with concurrent writers.
func (d *DB) Move(newPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := os.Stat(newPath); err == nil {
		return fmt.Errorf("cannot move database to %s: %w", newPath, logdb.ErrDestinationExists)
	}
	if err := writeInfoFile(newPath); err != nil {
		return err
	}
	if err := d.args.Move(filepath.Join(newPath, argFingerprintsDir)); err != nil {
		return err
	}
	if err := d.results.Move(filepath.Join(newPath, resultsDir)); err != nil {
		return err
	}
	if err := d.envs.Move(filepath.Join(newPath, envInfoDir)); err != nil {
		return err
	}
	_ = os.Remove(filepath.Join(d.path, infoFileName))
	_ = os.Remove(d.path) // only if now empty
	d.path = newPath
	return nil
}
