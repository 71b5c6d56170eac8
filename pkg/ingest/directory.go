package ingest

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/Mindburn-Labs/veritas/pkg/kernelerr"
)

// Entry types recorded by Directory.
const (
	EntryFile      = "file"
	EntryDirectory = "directory"
)

// DirEntry is one filesystem entry found by Directory. SizeBytes is set for
// files only.
type DirEntry struct {
	Type      string `json:"type"`
	Path      string `json:"path"`
	SizeBytes *int64 `json:"size_bytes,omitempty"`
}

// DirectoryOptions controls Directory.
type DirectoryOptions struct {
	// Recursive descends into subdirectories instead of recording them.
	Recursive bool
}

// Directory lists the entries below path in byte order of their names.
// Hidden files are included. Anything other than a regular file or a
// directory fails with INVALID_INPUT.
func Directory(path string, opts DirectoryOptions) ([]DirEntry, error) {
	if path == "" {
		return nil, kernelerr.NewInvalidInput("directory path must be a non-empty string", kernelerr.StageIngest, nil)
	}
	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil, kernelerr.NewIOFailure("unable to resolve path",
			map[string]any{"path": path, "error": err.Error()})
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, kernelerr.NewIOFailure("cannot access directory",
			map[string]any{"path": resolved, "error": err.Error()})
	}
	if !info.IsDir() {
		return nil, kernelerr.NewInvalidInput("path is not a directory", kernelerr.StageIngest,
			map[string]any{"path": resolved})
	}

	var out []DirEntry
	if err := walk(resolved, opts.Recursive, &out); err != nil {
		return nil, err
	}
	logger().Debug("directory ingested", "path", resolved, "entries", len(out), "recursive", opts.Recursive)
	return out, nil
}

func walk(dir string, recursive bool, out *[]DirEntry) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return kernelerr.NewIOFailure("failed to read directory",
			map[string]any{"path": dir, "error": err.Error()})
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	sort.Strings(names)

	for _, name := range names {
		full := filepath.Join(dir, name)
		info, err := os.Stat(full)
		if err != nil {
			return kernelerr.NewIOFailure("failed to stat path",
				map[string]any{"path": full, "error": err.Error()})
		}

		switch {
		case info.IsDir():
			if recursive {
				if err := walk(full, true, out); err != nil {
					return err
				}
				continue
			}
			*out = append(*out, DirEntry{Type: EntryDirectory, Path: full})
		case info.Mode().IsRegular():
			size := info.Size()
			*out = append(*out, DirEntry{Type: EntryFile, Path: full, SizeBytes: &size})
		default:
			return kernelerr.NewInvalidInput("unsupported filesystem entry", kernelerr.StageIngest,
				map[string]any{"path": full, "mode": info.Mode().String()})
		}
	}
	return nil
}
