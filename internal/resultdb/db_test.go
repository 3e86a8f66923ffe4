package resultdb

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/benchdb/benchdb/internal/env"
	"github.com/benchdb/benchdb/internal/fingerprint"
)

func openTestDB(t *testing.T, path string) *DB {
	t.Helper()
	db, err := Open(path, &Options{Env: &env.Collector{Dir: t.TempDir()}})
	if err != nil {
		t.Fatal(err)
	}
	return db
}

// testEntry builds a fixed, fully-populated entry so content fingerprints are
// reproducible across database instances.
func testEntry(i int) Entry {
	return Entry{
		"result":            map[string]any{"value": i},
		"timestamp":         "2026-08-29T12:00:00Z",
		"runtime":           0.25,
		"stdout":            nil,
		"stderr":            nil,
		"logging":           []any{},
		FieldArgsFingerprint: fingerprint.Of(map[string]any{"i": i}),
		FieldEnvFingerprint:  fingerprint.Of("shared test environment"),
		FieldParameters:      map[string]any{"func": "f", "args": map[string]any{"i": i}},
		FieldArgv:            []any{"worker"},
		FieldEnv:             map[string]any{"hostname": "fixed", "go_version": "go1.25"},
	}
}

func entryCount(db *DB) int {
	n := 0
	for range db.All() {
		n++
	}
	return n
}

func TestDBAddAndContains(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	fp := fingerprint.Of(map[string]any{"n": 1})
	if db.Contains(fp) {
		t.Error("fresh database contains a fingerprint")
	}
	if err := db.Add(fp, map[string]any{"n": 1}, map[string]any{"result": 42}); err != nil {
		t.Fatal(err)
	}
	if !db.Contains(fp) {
		t.Error("fingerprint missing after add")
	}
	if db.Len() != 1 {
		t.Errorf("Len = %d, want 1", db.Len())
	}
	entry, ok := db.Front()
	if !ok {
		t.Fatal("no entry to iterate")
	}
	if entry.ArgsFingerprint() != fp {
		t.Errorf("args fingerprint = %q, want %q", entry.ArgsFingerprint(), fp)
	}
	if entry.Env() == nil {
		t.Error("iterated entry lacks its environment snapshot")
	}
	if entry["result"] != int64(42) {
		t.Errorf("result = %v, want 42", entry["result"])
	}
}

func TestDBEnvironmentDeduplicated(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	for i := range 5 {
		fp := fingerprint.Of(i)
		if err := db.Add(fp, map[string]any{"i": i}, map[string]any{"result": i}); err != nil {
			t.Fatal(err)
		}
	}
	if got := db.envs.Len(); got != 1 {
		t.Errorf("environment store holds %d snapshots, want 1", got)
	}
}

func TestDBInsertRoundTrip(t *testing.T) {
	src := openTestDB(t, t.TempDir())
	if err := src.Insert(testEntry(1)); err != nil {
		t.Fatal(err)
	}
	original, ok := src.Front()
	if !ok {
		t.Fatal("no entry in source")
	}

	dst := openTestDB(t, t.TempDir())
	if err := dst.Insert(original); err != nil {
		t.Fatal(err)
	}
	copied, ok := dst.Front()
	if !ok {
		t.Fatal("no entry in destination")
	}
	if original.Fingerprint() != copied.Fingerprint() {
		t.Error("round-tripped entry is not fingerprint-equal")
	}
}

func TestDBInfoFileVersionCheck(t *testing.T) {
	path := t.TempDir()
	openTestDB(t, path)
	if err := os.WriteFile(filepath.Join(path, infoFileName), []byte(`{"version":"v2.0.0"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path, nil); err == nil {
		t.Fatal("opened a database with an incompatible format version")
	}
}

func TestDBFingerprintInvariantUnderCompaction(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	for i := range 50 {
		if err := db.Insert(testEntry(i)); err != nil {
			t.Fatal(err)
		}
	}
	if db.Len() != 50 {
		t.Fatalf("Len = %d, want 50", db.Len())
	}
	// Re-inserting identical entries must not grow the fingerprint set.
	for i := range 50 {
		if err := db.Insert(testEntry(i)); err != nil {
			t.Fatal(err)
		}
	}
	if db.Len() != 50 {
		t.Fatalf("Len after duplicate inserts = %d, want 50", db.Len())
	}

	before := db.Fingerprint()
	if err := db.Compact(); err != nil {
		t.Fatal(err)
	}
	if db.Len() != 50 {
		t.Fatalf("Len after compaction = %d, want 50", db.Len())
	}
	dupBefore := entryCount(db)
	if after := db.Fingerprint(); after != before {
		t.Errorf("fingerprint changed under compaction: %q != %q", after, before)
	}
	if dupAfter := entryCount(db); dupAfter != dupBefore {
		t.Errorf("entry count changed under compaction: %d != %d", dupAfter, dupBefore)
	}

	if err := db.Insert(testEntry(1000)); err != nil {
		t.Fatal(err)
	}
	if err := db.Compact(); err != nil {
		t.Fatal(err)
	}
	if got := db.Fingerprint(); got == before {
		t.Error("fingerprint unchanged after adding a distinct entry")
	}
}

func TestDBFingerprintOrderIndependent(t *testing.T) {
	a := openTestDB(t, t.TempDir())
	b := openTestDB(t, t.TempDir())
	for i := range 10 {
		if err := a.Insert(testEntry(i)); err != nil {
			t.Fatal(err)
		}
	}
	for i := 9; i >= 0; i-- {
		if err := b.Insert(testEntry(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.Compact(); err != nil { // one compacted, one loose
		t.Fatal(err)
	}
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("fingerprint depends on insertion order or physical layout")
	}
}

func TestDBSkipsEntriesWithMissingEnvironment(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	if err := db.Insert(testEntry(1)); err != nil {
		t.Fatal(err)
	}
	orphan := testEntry(2)
	orphan[FieldEnvFingerprint] = "0000missing"
	delete(orphan, FieldEnv)
	if err := db.Insert(orphan); err != nil {
		t.Fatal(err)
	}

	if got := entryCount(db); got != 1 {
		t.Fatalf("iterated %d entries, want the orphan dropped", got)
	}
	if db.Len() != 2 {
		t.Errorf("Len = %d, want 2; the length/iteration asymmetry is intentional", db.Len())
	}
	if db.Skipped() == 0 {
		t.Error("skipped counter not incremented")
	}
}

func TestDBRebuild(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db := openTestDB(t, path)
	for i := range 6 {
		if err := db.Insert(testEntry(i)); err != nil {
			t.Fatal(err)
		}
	}
	err := db.Rebuild(func(e Entry) Entry {
		params := e[FieldParameters].(map[string]any)
		args := params["args"].(map[string]any)
		if args["i"].(int64)%2 == 0 {
			return nil // drop even entries
		}
		return e
	})
	if err != nil {
		t.Fatal(err)
	}
	if db.Len() != 3 {
		t.Errorf("Len after rebuild = %d, want 3", db.Len())
	}
	for entry := range db.All() {
		args := entry[FieldParameters].(map[string]any)["args"].(map[string]any)
		if args["i"].(int64)%2 == 0 {
			t.Errorf("dropped entry %v survived the rebuild", args["i"])
		}
	}

	// The side directories must be gone.
	entries, err := os.ReadDir(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		switch e.Name() {
		case argFingerprintsDir, resultsDir, envInfoDir, infoFileName:
		default:
			t.Errorf("unexpected leftover %s after rebuild", e.Name())
		}
	}

	// A hand-built database with only the surviving entries is
	// content-identical.
	want := openTestDB(t, t.TempDir())
	for _, i := range []int{1, 3, 5} {
		if err := want.Insert(testEntry(i)); err != nil {
			t.Fatal(err)
		}
	}
	if db.Fingerprint() != want.Fingerprint() {
		t.Error("rebuilt database differs from the hand-built equivalent")
	}
}

func TestDBClearKeepsIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db := openTestDB(t, path)
	if err := db.Insert(testEntry(1)); err != nil {
		t.Fatal(err)
	}
	if err := db.Clear(); err != nil {
		t.Fatal(err)
	}
	if db.Len() != 0 || entryCount(db) != 0 {
		t.Error("content survived clear")
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("clear removed the database directory")
	}
	// Still usable.
	if err := db.Insert(testEntry(2)); err != nil {
		t.Fatal(err)
	}
	if db.Len() != 1 {
		t.Errorf("Len = %d, want 1", db.Len())
	}
}

func TestDBDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db := openTestDB(t, path)
	if err := db.Insert(testEntry(1)); err != nil {
		t.Fatal(err)
	}
	if err := db.Delete(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("delete left the database directory behind")
	}
}

func TestDBMove(t *testing.T) {
	base := t.TempDir()
	db := openTestDB(t, filepath.Join(base, "old"))
	if err := db.Insert(testEntry(1)); err != nil {
		t.Fatal(err)
	}
	before := db.Fingerprint()

	dst := filepath.Join(base, "new")
	if err := db.Move(dst); err != nil {
		t.Fatal(err)
	}
	if db.Path() != dst {
		t.Errorf("path = %s, want %s", db.Path(), dst)
	}
	if got := db.Fingerprint(); got != before {
		t.Error("content changed across move")
	}
	if err := db.Move(dst); err == nil {
		t.Error("move onto the current path succeeded")
	}
}

func TestDBMoveRejectsExistingDestination(t *testing.T) {
	base := t.TempDir()
	db := openTestDB(t, filepath.Join(base, "a"))
	taken := filepath.Join(base, "b")
	if err := os.MkdirAll(taken, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := db.Move(taken); err == nil {
		t.Fatal("move onto an existing path succeeded")
	}
	// Nothing was touched.
	if _, err := os.Stat(filepath.Join(base, "a", infoFileName)); err != nil {
		t.Errorf("source damaged by failed move: %v", err)
	}
}

func TestDBRebuildTwice(t *testing.T) {
	// Two rebuilds in a row must generate distinct side-path names.
	db := openTestDB(t, filepath.Join(t.TempDir(), "db"))
	for i := range 3 {
		if err := db.Insert(testEntry(i)); err != nil {
			t.Fatal(err)
		}
	}
	keep := func(e Entry) Entry { return e }
	before := db.Fingerprint()
	for pass := range 2 {
		if err := db.Rebuild(keep); err != nil {
			t.Fatalf("rebuild pass %d: %v", pass, err)
		}
	}
	if got := db.Fingerprint(); got != before {
		t.Errorf("no-op rebuilds changed the fingerprint: %q != %q", got, before)
	}
}

func TestMajor(t *testing.T) {
	tests := []struct {
		version string
		want    string
	}{
		{"v1.0.0", "1"},
		{"1.2.3", "1"},
		{"v10.0", "10"},
		{"2", "2"},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			if got := major(tt.version); got != tt.want {
				t.Errorf("major(%q) = %q, want %q", tt.version, got, tt.want)
			}
		})
	}
}

func TestDBFrontEmpty(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	if entry, ok := db.Front(); ok {
		t.Errorf("Front on empty database = %v", entry)
	}
}

func BenchmarkDBInsert(b *testing.B) {
	db, err := Open(b.TempDir(), &Options{Env: &env.Collector{Dir: b.TempDir()}})
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; b.Loop(); i++ {
		if err := db.Insert(testEntry(i)); err != nil {
			b.Fatal(err)
		}
	}
	_ = fmt.Sprint(db.Len())
}
