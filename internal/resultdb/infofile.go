package resultdb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// infoFileName marks a directory as a benchdb database and records its
// format version.
const infoFileName = "benchdb.json"

// formatVersion is the database format written by this package. Databases
// with a different major version are rejected on open.
const formatVersion = "v1.0.0"

type infoFile struct {
	Version string `json:"version"`
}

// checkInfoFile verifies the database format at path, creating the directory
// and info file if they do not exist yet.
func checkInfoFile(path string) error {
	infoPath := filepath.Join(path, infoFileName)
	data, err := os.ReadFile(infoPath)
	if os.IsNotExist(err) {
		return writeInfoFile(path)
	}
	if err != nil {
		return fmt.Errorf("failed to read database info file %s: %w", infoPath, err)
	}
	var info infoFile
	if err := json.Unmarshal(data, &info); err != nil {
		return fmt.Errorf("failed to parse database info file %s: %w", infoPath, err)
	}
	if major(info.Version) != major(formatVersion) {
		return fmt.Errorf("database at %s has incompatible format version %q (want %s)", path, info.Version, formatVersion)
	}
	return nil
}

func major(version string) string {
	v := strings.TrimPrefix(version, "v")
	if i := strings.IndexByte(v, '.'); i >= 0 {
		return v[:i]
	}
	return v
}

func writeInfoFile(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create database directory %s: %w", path, err)
	}
	data, err := json.Marshal(infoFile{Version: formatVersion})
	if err != nil {
		return err
	}
	infoPath := filepath.Join(path, infoFileName)
	if err := os.WriteFile(infoPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write database info file %s: %w", infoPath, err)
	}
	return nil
}
