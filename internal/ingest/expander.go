package ingest

import (
	"archive/zip"
	"compress/flate"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Entry is one member of an expanded archive.
type Entry struct {
	Name  string // name inside the archive
	Path  string // destination path on local disk
	IsDir bool
}

// Expander validates zip archives and unpacks them to local disk.
type Expander struct {
	logger Logger
}

func NewExpander(logger Logger) *Expander {
	return &Expander{logger: logger}
}

// Expand extracts every member of the archive at archivePath below destDir and
// returns the entries in archive order. Errors caused by the archive content
// (invalid container, bad checksum, unsupported compression, entry names
// escaping destDir) wrap ErrBadArchive.
func (e *Expander) Expand(archivePath, destDir string) ([]Entry, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		if r != nil {
			r.Close()
		}
		if isMalformed(err) {
			return nil, fmt.Errorf("opening %s: %w: %v", filepath.Base(archivePath), ErrBadArchive, err)
		}
		return nil, fmt.Errorf("opening %s: %w", filepath.Base(archivePath), err)
	}
	defer r.Close()

	// Validate every name before writing anything.
	for _, f := range r.File {
		if !filepath.IsLocal(filepath.FromSlash(f.Name)) {
			return nil, fmt.Errorf("entry %q: %w: path escapes destination", f.Name, ErrBadArchive)
		}
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	entries := make([]Entry, 0, len(r.File))
	for _, f := range r.File {
		dest := filepath.Join(destDir, filepath.FromSlash(f.Name))
		entry := Entry{Name: f.Name, Path: dest, IsDir: f.FileInfo().IsDir()}

		if entry.IsDir {
			if err := os.MkdirAll(dest, 0755); err != nil {
				return nil, fmt.Errorf("creating directory %s: %w", dest, err)
			}
		} else if err := extractMember(f, dest); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	e.logger.Info("archive extracted", "archive", filepath.Base(archivePath), "dest", destDir, "entries", len(entries))
	return entries, nil
}

// extractMember writes one zip member to dest, creating parent directories.
func extractMember(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", f.Name, err)
	}

	rc, err := f.Open()
	if err != nil {
		if isMalformed(err) {
			return fmt.Errorf("entry %q: %w: %v", f.Name, ErrBadArchive, err)
		}
		return fmt.Errorf("opening entry %q: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}

	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		if isMalformed(err) {
			return fmt.Errorf("entry %q: %w: %v", f.Name, ErrBadArchive, err)
		}
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", dest, err)
	}
	return nil
}

func isMalformed(err error) bool {
	var corrupt flate.CorruptInputError
	if errors.As(err, &corrupt) {
		return true
	}
	return errors.Is(err, zip.ErrFormat) ||
		errors.Is(err, zip.ErrAlgorithm) ||
		errors.Is(err, zip.ErrChecksum) ||
		errors.Is(err, zip.ErrInsecurePath) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
