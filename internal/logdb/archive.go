package logdb

import (
	"archive/zip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// archiveName is the compacted archive within a log directory. It holds one
// newline-delimited JSON member per folded fragment.
const archiveName = "archive.zip"

// zstdMethod is the zip compression method ID assigned to Zstandard.
const zstdMethod = 93

func newArchiveWriter(w io.Writer) *zip.Writer {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zstdMethod, func(out io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(out)
	})
	return zw
}

func openArchive(path string) (*zip.ReadCloser, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	zr.RegisterDecompressor(zstdMethod, func(r io.Reader) io.ReadCloser {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return io.NopCloser(errReader{err})
		}
		return dec.IOReadCloser()
	})
	return zr, nil
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

// compactDir folds every non-empty loose fragment in dir into the archive.
// The archive is rewritten to a temporary file (previously folded members are
// copied in their raw compressed form) and renamed into place; fragments are
// deleted only after the rename succeeds, so an interrupted compaction never
// loses data.
func compactDir(dir string, logger *slog.Logger) error {
	var folded []string
	for _, name := range listFragments(dir) {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil {
			logger.Warn("skipping unreadable fragment", "path", path, "error", err)
			continue
		}
		if info.Size() <= 0 {
			// Assume an interrupted write; leave it for inspection.
			logger.Warn("skipping zero-size fragment", "path", path)
			continue
		}
		folded = append(folded, name)
	}
	if len(folded) == 0 {
		return nil
	}

	tmp, err := os.CreateTemp(dir, "archive-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary archive: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	zw := newArchiveWriter(tmp)
	archivePath := filepath.Join(dir, archiveName)
	if old, err := openArchive(archivePath); err == nil {
		for _, member := range old.File {
			if err := zw.Copy(member); err != nil {
				_ = old.Close()
				cleanup()
				return fmt.Errorf("failed to carry over archive member %s: %w", member.Name, err)
			}
		}
		_ = old.Close()
	} else if !os.IsNotExist(err) {
		cleanup()
		return fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}

	for _, name := range folded {
		path := filepath.Join(dir, name)
		f, err := os.Open(path)
		if err != nil {
			cleanup()
			return fmt.Errorf("failed to open fragment %s: %w", path, err)
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zstdMethod})
		if err != nil {
			_ = f.Close()
			cleanup()
			return fmt.Errorf("failed to add archive member %s: %w", name, err)
		}
		n, err := io.Copy(w, f)
		_ = f.Close()
		if err != nil {
			cleanup()
			return fmt.Errorf("failed to compress fragment %s: %w", path, err)
		}
		logger.Info("folded fragment into archive", "fragment", name, "bytes", n)
	}
	if err := zw.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close archive: %w", err)
	}
	if err := os.Rename(tmpPath, archivePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace archive: %w", err)
	}

	// The fragments are durably included now; reclaim them.
	for _, name := range folded {
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove folded fragment %s: %w", path, err)
		}
	}
	return nil
}

// iterArchive yields every record of every archive member, skipping corrupt
// members and malformed lines. Returns false if the consumer stopped early.
func iterArchive(dir string, logger *slog.Logger, yield func(any) bool) bool {
	archivePath := filepath.Join(dir, archiveName)
	zr, err := openArchive(archivePath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("failed to open archive", "path", archivePath, "error", err)
		}
		return true
	}
	defer func() {
		_ = zr.Close()
	}()
	for _, member := range zr.File {
		r, err := member.Open()
		if err != nil {
			logger.Warn("skipping corrupt archive member", "path", archivePath, "member", member.Name, "error", err)
			continue
		}
		ok := yieldLines(r, archivePath+"!"+member.Name, logger, yield)
		_ = r.Close()
		if !ok {
			return false
		}
	}
	return true
}
