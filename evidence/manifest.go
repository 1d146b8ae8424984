package evidence

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

type Artifact struct {
	RelativePath string            `json:"relative_path"`
	Module       string            `json:"module"`
	CollectedAt  string            `json:"collected_at"`
	SizeBytes    int64             `json:"size_bytes"`
	SHA256       string            `json:"sha256"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type Manifest struct {
	CaseID    string            `json:"case_id"`
	Image     string            `json:"image"`
	Profile   string            `json:"profile,omitempty"`
	CreatedAt string            `json:"created_at"`
	Artifacts []Artifact        `json:"artifacts"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Record writes data under outputDir/rel and returns the hashed artifact.
func Record(fs afero.Fs, outputDir, rel, module string, data []byte, meta map[string]string) (Artifact, error) {
	path := filepath.Join(outputDir, filepath.FromSlash(rel))
	if err := WriteFileAtomic(fs, path, data, 0o600); err != nil {
		return Artifact{}, err
	}
	return Describe(fs, outputDir, rel, module, meta)
}

// Describe hashes an existing file under outputDir.
func Describe(fs afero.Fs, outputDir, rel, module string, meta map[string]string) (Artifact, error) {
	sha, size, err := SHA256File(fs, filepath.Join(outputDir, filepath.FromSlash(rel)))
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{
		RelativePath: filepath.ToSlash(rel),
		Module:       module,
		CollectedAt:  time.Now().UTC().Format(time.RFC3339Nano),
		SizeBytes:    size,
		SHA256:       sha,
		Metadata:     meta,
	}, nil
}

func WriteManifest(fs afero.Fs, outputDir string, m Manifest) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(fs, filepath.Join(outputDir, "manifest.json"), b, 0o600)
}
