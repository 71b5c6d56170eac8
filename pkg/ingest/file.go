// Package ingest captures files and directory listings as raw, content
// addressed artifacts. It records bytes and structure only; nothing is
// parsed or interpreted.
package ingest

import (
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Mindburn-Labs/veritas/pkg/digest"
	"github.com/Mindburn-Labs/veritas/pkg/kernelerr"
)

// ArtifactTypeFile tags a single-file artifact.
const ArtifactTypeFile = "INGEST_FILE"

// FileArtifact is the ingest record for one file. It carries no timestamps
// or other host metadata.
type FileArtifact struct {
	Type           string `json:"type"`
	Path           string `json:"path"`
	Filename       string `json:"filename"`
	SizeBytes      int64  `json:"size_bytes"`
	HashSHA256     string `json:"hash_sha256"`
	RawBytesBase64 string `json:"raw_bytes_base64"`
}

func logger() *slog.Logger {
	return slog.Default().With("component", "ingest")
}

// File reads path byte for byte and returns its artifact.
func File(path string) (*FileArtifact, error) {
	if path == "" {
		return nil, kernelerr.NewInvalidInput("file path must be a non-empty string", kernelerr.StageIngest, nil)
	}
	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil, kernelerr.NewIOFailure("unable to resolve path",
			map[string]any{"path": path, "error": err.Error()})
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, kernelerr.NewIOFailure("unable to stat file",
			map[string]any{"path": resolved, "error": err.Error()})
	}
	if !info.Mode().IsRegular() {
		return nil, kernelerr.NewInvalidInput("path is not a regular file", kernelerr.StageIngest,
			map[string]any{"path": resolved})
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, kernelerr.NewIOFailure("unable to read file bytes",
			map[string]any{"path": resolved, "error": err.Error()})
	}

	sum, err := digest.Lookup(digest.SHA256)
	if err != nil {
		return nil, err
	}
	artifact := &FileArtifact{
		Type:           ArtifactTypeFile,
		Path:           resolved,
		Filename:       filepath.Base(resolved),
		SizeBytes:      int64(len(data)),
		HashSHA256:     sum(data),
		RawBytesBase64: base64.StdEncoding.EncodeToString(data),
	}
	logger().Debug("file ingested", "path", resolved, "size_bytes", artifact.SizeBytes)
	return artifact, nil
}
