package pluginpkg

import (
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// ManifestFileName is the manifest entry looked up inside a plugin archive.
const ManifestFileName = "manifest.json"

// maxManifestSize bounds the manifest entry read from an archive (1 MiB).
const maxManifestSize = 1 << 20

// Manifest is the wire format of manifest.json inside a plugin package.
type Manifest struct {
	ID              string               `json:"id"`
	Version         string               `json:"version"`
	Name            string               `json:"name,omitempty"`
	Author          string               `json:"author,omitempty"`
	Dependencies    []ManifestDependency `json:"dependencies,omitempty"`
	ExtensionPoints []ExtensionPoint     `json:"extensionPoints,omitempty"`
	Services        []ManifestService    `json:"services,omitempty"`
	Capabilities    ManifestCapabilities `json:"capabilities,omitempty"`
}

// ManifestDependency mirrors one entry of the manifest "dependencies" list.
type ManifestDependency struct {
	ID         string `json:"id"`
	MinVersion string `json:"minVersion,omitempty"`
	MaxVersion string `json:"maxVersion,omitempty"`
	Optional   bool   `json:"optional,omitempty"`
}

// ManifestService mirrors one entry of the manifest "services" list.
type ManifestService struct {
	Name  string `json:"name"`
	Class string `json:"class"`
}

// ManifestCapabilities is the manifest "capabilities" object. Either field
// may be empty; a plugin can declare both a model provider and a tool.
type ManifestCapabilities struct {
	Provider string `json:"provider,omitempty"`
	Tool     string `json:"tool,omitempty"`
}

// decodeManifest parses raw manifest bytes and converts them into a
// validated PluginDescriptor. fileName is only used for error context.
func decodeManifest(raw []byte, fileName string) (*PluginDescriptor, error) {
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &MalformedPackageError{FileName: fileName, Reason: fmt.Sprintf("invalid manifest JSON: %v", err)}
	}
	return m.toDescriptor(fileName)
}

func (m *Manifest) toDescriptor(fileName string) (*PluginDescriptor, error) {
	if m.ID == "" {
		return nil, &MalformedPackageError{FileName: fileName, Reason: "manifest missing required field: id"}
	}
	if m.Version == "" {
		return nil, &MalformedPackageError{FileName: fileName, Reason: "manifest missing required field: version"}
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return nil, &MalformedPackageError{FileName: fileName, Reason: fmt.Sprintf("invalid semantic version %q: %v", m.Version, err)}
	}

	desc := &PluginDescriptor{
		ID:              m.ID,
		Version:         m.Version,
		Name:            m.Name,
		Author:          m.Author,
		ExtensionPoints: append([]ExtensionPoint(nil), m.ExtensionPoints...),
	}

	// Dependencies keep declaration order; duplicate IDs collapse to the
	// first declaration.
	seen := make(map[string]bool, len(m.Dependencies))
	for _, d := range m.Dependencies {
		if d.ID == "" {
			return nil, &MalformedPackageError{FileName: fileName, Reason: "dependency entry missing id"}
		}
		if d.ID == m.ID {
			return nil, &MalformedPackageError{FileName: fileName, Reason: "plugin declares a dependency on itself"}
		}
		if seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		for _, bound := range []string{d.MinVersion, d.MaxVersion} {
			if bound == "" {
				continue
			}
			if _, err := semver.NewVersion(bound); err != nil {
				return nil, &MalformedPackageError{FileName: fileName, Reason: fmt.Sprintf("dependency %s has invalid version bound %q: %v", d.ID, bound, err)}
			}
		}
		desc.Dependencies = append(desc.Dependencies, Dependency(d))
	}

	for _, s := range m.Services {
		if s.Name == "" || s.Class == "" {
			return nil, &MalformedPackageError{FileName: fileName, Reason: "service entry missing name or class"}
		}
		desc.Services = append(desc.Services, ServiceBinding(s))
	}

	if m.Capabilities.Provider != "" {
		desc.Capabilities = append(desc.Capabilities, Capability{
			Kind:         CapabilityModelProvider,
			ProviderCode: m.Capabilities.Provider,
		})
	}
	if m.Capabilities.Tool != "" {
		desc.Capabilities = append(desc.Capabilities, Capability{
			Kind:     CapabilityTool,
			ToolName: m.Capabilities.Tool,
		})
	}

	return desc, nil
}
