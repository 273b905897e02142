package gate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/animus-labs/animus-deploy/internal/release"
)

// Manifest is the subset of manifest.json the gate inspects.
type Manifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Description  string            `json:"description,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
	Permissions  []string          `json:"permissions,omitempty"`
}

func ReadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

// Problems returns blocking issues followed by warnings.
func (m Manifest) Problems() (issues []string, warnings []string) {
	if strings.TrimSpace(m.Name) == "" {
		issues = append(issues, "manifest name is required")
	}
	if strings.TrimSpace(m.Version) == "" {
		issues = append(issues, "manifest version is required")
	} else if _, err := release.Parse(m.Version); err != nil {
		issues = append(issues, fmt.Sprintf("manifest version %q is not a semantic version", m.Version))
	}
	if strings.TrimSpace(m.Description) == "" {
		warnings = append(warnings, "manifest description is empty")
	}
	for _, p := range m.Permissions {
		if strings.TrimSpace(p) == "*" {
			warnings = append(warnings, "manifest requests wildcard permissions")
			break
		}
	}
	return issues, warnings
}

var errNoManifestVersion = errors.New("manifest has no version")

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
