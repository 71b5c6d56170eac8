package ingest

import (
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/veritas/pkg/canonicalize"
	"github.com/Mindburn-Labs/veritas/pkg/kernelerr"
)

// ManifestVersion is the manifest format version.
const ManifestVersion = "1.0"

// manifestNamespace scopes manifest ids.
var manifestNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("veritas.ingest.manifest"))

// Artifact is one manifest line.
type Artifact struct {
	AbsolutePath string `json:"absolute_path"`
	RelativePath string `json:"relative_path"`
	ByteSize     int64  `json:"byte_size"`
}

// Manifest is a structural inventory of ingested artifacts.
type Manifest struct {
	ManifestVersion string     `json:"manifest_version"`
	ManifestID      string     `json:"manifest_id"`
	ArtifactCount   int        `json:"artifact_count"`
	Artifacts       []Artifact `json:"artifacts"`
}

// BuildManifest sorts artifacts by relative_path and rejects duplicates.
// The manifest id is a name-based UUID over the canonical manifest body, so
// the same inventory always gets the same id.
func BuildManifest(artifacts []Artifact) (*Manifest, error) {
	records := make([]Artifact, len(artifacts))
	for i, a := range artifacts {
		if a.AbsolutePath == "" || !filepath.IsAbs(a.AbsolutePath) || a.RelativePath == "" || a.ByteSize < 0 {
			return nil, kernelerr.NewInvalidInput("invalid manifest artifact", kernelerr.StageIngest,
				map[string]any{"index": i})
		}
		records[i] = a
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].RelativePath < records[j].RelativePath
	})
	for i := 1; i < len(records); i++ {
		if records[i].RelativePath == records[i-1].RelativePath {
			return nil, kernelerr.NewInvalidInput("duplicate manifest path", kernelerr.StageIngest,
				map[string]any{"relative_path": records[i].RelativePath})
		}
	}

	m := &Manifest{
		ManifestVersion: ManifestVersion,
		ArtifactCount:   len(records),
		Artifacts:       records,
	}
	body, err := canonicalize.Marshal(map[string]any{
		"manifest_version": m.ManifestVersion,
		"artifact_count":   m.ArtifactCount,
		"artifacts":        m.Artifacts,
	})
	if err != nil {
		return nil, err
	}
	m.ManifestID = uuid.NewSHA1(manifestNamespace, body).String()
	return m, nil
}

// ManifestFromDirectory builds a manifest of every file below root.
// Relative paths use forward slashes.
func ManifestFromDirectory(root string, opts DirectoryOptions) (*Manifest, error) {
	entries, err := Directory(root, opts)
	if err != nil {
		return nil, err
	}
	base, err := filepath.Abs(root)
	if err != nil {
		return nil, kernelerr.NewIOFailure("unable to resolve path",
			map[string]any{"path": root, "error": err.Error()})
	}

	artifacts := make([]Artifact, 0, len(entries))
	for _, e := range entries {
		if e.Type != EntryFile {
			continue
		}
		rel, err := filepath.Rel(base, e.Path)
		if err != nil {
			return nil, kernelerr.NewInvariantViolation("entry outside of root", kernelerr.StageIngest,
				map[string]any{"path": e.Path})
		}
		artifacts = append(artifacts, Artifact{
			AbsolutePath: e.Path,
			RelativePath: filepath.ToSlash(rel),
			ByteSize:     *e.SizeBytes,
		})
	}
	return BuildManifest(artifacts)
}
