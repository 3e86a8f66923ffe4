package logdb

import (
	"bytes"
	"fmt"
	"iter"
	"sync"

	"github.com/benchdb/benchdb/internal/fingerprint"
)

// Dict is a last-write-wins dictionary backed by a Log. Each record is a JSON
// object (a single-key delta, or the whole mapping after compaction); later
// records override earlier ones for the same key. Writing a value that is
// structurally identical to the stored one is a no-op so identical payloads
// are stored once.
type Dict struct {
	mu     sync.Mutex
	log    *Log
	values map[string]any
}

// OpenDict opens or creates the dictionary stored at path and loads it. A
// stored record that is not a JSON object fails with ErrSchema: the directory
// does not hold a Dict.
func OpenDict(path string, opts *Options) (*Dict, error) {
	log, err := Open(path, opts)
	if err != nil {
		return nil, err
	}
	d := &Dict{log: log, values: map[string]any{}}
	if err := d.load(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dict) load() error {
	for record := range d.log.All() {
		m, ok := record.(map[string]any)
		if !ok {
			return fmt.Errorf("store at %s holds a %T record: %w", d.log.Path(), record, ErrSchema)
		}
		for k, v := range m {
			d.values[k] = v
		}
	}
	return nil
}

// Get returns the value stored under key.
func (d *Dict) Get(key string) (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.values[key]
	return v, ok
}

// Contains reports whether key is present.
func (d *Dict) Contains(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Set stores value under key. If the stored value is structurally identical
// the write is suppressed entirely.
func (d *Dict) Set(key string, value any) error {
	c := fingerprint.Normalize(value)
	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.values[key]; ok && bytes.Equal(fingerprint.Canonical(old), fingerprint.Canonical(c)) {
		return nil
	}
	if _, err := d.log.Append(map[string]any{key: c}); err != nil {
		return fmt.Errorf("failed to append dict entry: %w", err)
	}
	d.values[key] = c
	return nil
}

// Len returns the number of keys.
func (d *Dict) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.values)
}

// All iterates over key/value pairs in no particular order.
func (d *Dict) All() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		d.mu.Lock()
		snapshot := make(map[string]any, len(d.values))
		for k, v := range d.values {
			snapshot[k] = v
		}
		d.mu.Unlock()
		for k, v := range snapshot {
			if !yield(k, v) {
				return
			}
		}
	}
}

// Compact rewrites the backing log as one record holding the whole current
// mapping and folds it into the archive. Not safe with concurrent writers.
func (d *Dict) Compact() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.load(); err != nil { // pick up writes from other processes
		return err
	}
	if err := d.log.Clear(); err != nil {
		return err
	}
	if len(d.values) > 0 {
		if _, err := d.log.Append(d.values); err != nil {
			return err
		}
	}
	return d.log.Compact()
}

// Clear removes all entries from memory and disk.
func (d *Dict) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values = map[string]any{}
	return d.log.Clear()
}

// Delete removes the backing directory entirely.
func (d *Dict) Delete() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values = map[string]any{}
	return d.log.Delete()
}

// Move relocates the backing directory. Used by database rebuilds to set the
// live store aside; not safe with concurrent writers.
func (d *Dict) Move(newPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.log.Move(newPath)
}
