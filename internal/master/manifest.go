package master

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// manifestFile is the optional per-project metadata file. It overlays entry
// point overrides and human descriptions on discovered functions:
//
//	[functions.resize]
//	entry = "handle"
//	description = "Resize an image to the requested dimensions."
const manifestFile = "functions.toml"

type manifestEntry struct {
	Entry       string `toml:"entry"`
	Description string `toml:"description"`
}

type manifest struct {
	Functions map[string]manifestEntry `toml:"functions"`
}

// loadManifest reads the project manifest if present. A missing file is an
// empty manifest; a malformed file fails the deploy.
func loadManifest(projectDir string) (map[string]manifestEntry, error) {
	path := filepath.Join(projectDir, manifestFile)
	var m manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		if os.IsNotExist(err) {
			return map[string]manifestEntry{}, nil
		}
		return nil, fmt.Errorf("parse %s: %w", manifestFile, err)
	}
	if m.Functions == nil {
		m.Functions = map[string]manifestEntry{}
	}
	return m.Functions, nil
}
