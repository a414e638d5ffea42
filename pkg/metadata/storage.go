package metadata

import (
	"fmt"
	"os"

	"github.com/AlxHnr/nano-backup-go/pkg/repository"
)

// Save serialises m and writes it to the repository's metadata file via a
// raw-mode repository write, so that the file benefits from the same
// atomic-commit/fsync discipline as content files (spec §4.1, §4.5 "write
// Metadata to the repository"). This mirrors mutagen/pkg/encoding's
// MarshalAndSave, but targets the repository's commit protocol
// (pkg/repository.Writer) instead of filesystem.WriteFileAtomic directly.
func Save(m *Metadata, repo *repository.Repository) error {
	data, err := m.MarshalBinary()
	if err != nil {
		return fmt.Errorf("unable to marshal metadata: %w", err)
	}

	writer, err := repo.OpenWriterRaw(repo.MetadataPath())
	if err != nil {
		return fmt.Errorf("unable to open metadata writer: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		return fmt.Errorf("unable to write metadata: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("unable to commit metadata: %w", err)
	}
	return nil
}

// Load reads and decodes the metadata file from the repository. If no
// metadata file exists yet (a brand-new repository), it returns a fresh,
// empty Metadata rather than an error.
func Load(repo *repository.Repository) (*Metadata, error) {
	data, err := os.ReadFile(repo.MetadataPath())
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("unable to read metadata file: %w", err)
	}
	m, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("unable to decode metadata file: %w", err)
	}
	return m, nil
}
