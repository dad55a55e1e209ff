package caseindex

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/evidex/indexer/internal/indexing"
)

const indexVersionFile = ".index_version"

// ReadSchemaVersion reads the document layout version of the case index.
// A missing or unreadable file counts as version 0.
func ReadSchemaVersion(caseDir string) int {
	data, err := os.ReadFile(filepath.Join(caseDir, indexVersionFile))
	if err != nil {
		return 0
	}
	version, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return version
}

// WriteSchemaVersion records the current document layout version
func WriteSchemaVersion(caseDir string) error {
	versionPath := filepath.Join(caseDir, indexVersionFile)
	if err := os.MkdirAll(filepath.Dir(versionPath), 0755); err != nil {
		return fmt.Errorf("failed to create case directory: %w", err)
	}
	content := strconv.Itoa(indexing.IndexSchemaVersion)
	if err := os.WriteFile(versionPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write index version: %w", err)
	}
	return nil
}
