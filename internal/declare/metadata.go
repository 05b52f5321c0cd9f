package declare

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/SBN-ALCF/sam-globus-keepup/internal/catalog"
)

// sidecarSuffix is appended to the full data file name to locate its
// per-file metadata, e.g. run1_reco2.root -> run1_reco2.root.json.
const sidecarSuffix = ".json"

// BuilderConfig is the per-batch configuration of the metadata stage.
type BuilderConfig struct {
	// Template is the caller-supplied base metadata applied to every file.
	Template catalog.Metadata

	// Algorithms is the checksum set to compute. Defaults to
	// DefaultAlgorithms when empty.
	Algorithms []string

	// Sidecar requires a <path>.json metadata file next to each data file
	// and merges it over the template.
	Sidecar bool
}

// MetadataBuilder computes sizes and checksums and assembles the merged
// declaration record for each task.
//
// Merge precedence, lowest to highest: batch template, per-file sidecar,
// computed fields (file_name, file_size, checksum). Computed fields always
// win on key collision.
type MetadataBuilder struct {
	cfg BuilderConfig
}

// NewMetadataBuilder validates the configuration and returns a builder.
func NewMetadataBuilder(cfg BuilderConfig) (*MetadataBuilder, error) {
	if len(cfg.Algorithms) == 0 {
		cfg.Algorithms = DefaultAlgorithms
	}
	if err := ValidateAlgorithms(cfg.Algorithms); err != nil {
		return nil, err
	}
	return &MetadataBuilder{cfg: cfg}, nil
}

// Build fills the task's Size, Checksums and Metadata in place.
//
// Failures are per-file: a vanished or unreadable file reports
// ErrUnreadableFile, a missing required sidecar reports ErrSidecarMissing.
// Neither aborts the batch. The source file is only ever read.
func (b *MetadataBuilder) Build(task *FileTask) error {
	info, err := os.Stat(task.Path)
	if err != nil {
		return unreadablef(task.Path, "stat: %v", err)
	}
	if !info.Mode().IsRegular() {
		return unreadablef(task.Path, "not a regular file")
	}
	task.Size = info.Size()

	sums, err := FileChecksums(task.Path, b.cfg.Algorithms)
	if err != nil {
		return err
	}
	task.Checksums = sums

	merged := CloneMetadata(b.cfg.Template)
	if b.cfg.Sidecar {
		sidecar, err := loadSidecar(task.Path)
		if err != nil {
			return err
		}
		merged = MergeMetadata(merged, sidecar)
	}

	merged["file_name"] = filepath.Base(task.Path)
	merged["file_size"] = task.Size
	merged["checksum"] = RenderChecksums(task.Checksums)

	task.Metadata = merged
	return nil
}

func loadSidecar(path string) (catalog.Metadata, error) {
	sidecarPath := path + sidecarSuffix
	raw, err := os.ReadFile(sidecarPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &PathError{Kind: ErrSidecarMissing, Path: path, Msg: sidecarPath}
		}
		return nil, unreadablef(sidecarPath, "read sidecar: %v", err)
	}

	var md catalog.Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, &PathError{Kind: ErrSidecarMissing, Path: path,
			Msg: fmt.Sprintf("unparseable sidecar %s: %v", sidecarPath, err)}
	}
	return md, nil
}

// CloneMetadata shallow-copies a record so batch templates are never
// mutated by per-file merges.
func CloneMetadata(md catalog.Metadata) catalog.Metadata {
	clone := make(catalog.Metadata, len(md))
	for k, v := range md {
		clone[k] = v
	}
	return clone
}

// MergeMetadata overlays over onto base, returning base. Keys in over win.
func MergeMetadata(base, over catalog.Metadata) catalog.Metadata {
	for k, v := range over {
		base[k] = v
	}
	return base
}

// LoadTemplate reads a batch metadata template from a JSON file.
func LoadTemplate(path string) (catalog.Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading metadata template: %w", err)
	}
	var md catalog.Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, fmt.Errorf("parsing metadata template %s: %w", path, err)
	}
	return md, nil
}
