package pluginpkg

// CapabilityKind tags the role a plugin declares.
type CapabilityKind string

const (
	CapabilityModelProvider CapabilityKind = "model_provider"
	CapabilityTool          CapabilityKind = "tool"
)

// Capability is a tagged variant describing one role a plugin exposes.
// Exactly one of ProviderCode or ToolName is set, depending on Kind.
type Capability struct {
	Kind         CapabilityKind `json:"kind"`
	ProviderCode string         `json:"providerCode,omitempty"`
	ToolName     string         `json:"toolName,omitempty"`
}

// Dependency is one declared dependency of a plugin. MinVersion and
// MaxVersion bound the acceptable registered version (inclusive); either
// may be empty for an open bound. Optional dependencies that are absent
// from the registry produce warnings instead of failures.
type Dependency struct {
	ID         string `json:"id"`
	MinVersion string `json:"minVersion,omitempty"`
	MaxVersion string `json:"maxVersion,omitempty"`
	Optional   bool   `json:"optional,omitempty"`
}

// ExtensionPoint binds a named slot to the implementation a plugin provides.
type ExtensionPoint struct {
	Point          string `json:"point"`
	Implementation string `json:"implementation"`
}

// ServiceBinding declares a named service a plugin exposes.
type ServiceBinding struct {
	Name  string `json:"name"`
	Class string `json:"class"`
}

// PluginDescriptor is the parsed, immutable metadata for one plugin
// package/version. Descriptors are created by the Parser and must not be
// mutated after registration.
type PluginDescriptor struct {
	ID              string           `json:"id"`
	Version         string           `json:"version"`
	Name            string           `json:"name,omitempty"`
	Author          string           `json:"author,omitempty"`
	Dependencies    []Dependency     `json:"dependencies,omitempty"`
	ExtensionPoints []ExtensionPoint `json:"extensionPoints,omitempty"`
	Services        []ServiceBinding `json:"services,omitempty"`
	Capabilities    []Capability     `json:"capabilities,omitempty"`
}

// UniqueIdentifier returns the "id:version" key tenants pin at install time.
func (d *PluginDescriptor) UniqueIdentifier() string {
	return d.ID + ":" + d.Version
}

// ModelProvider returns the model-provider capability, if declared.
func (d *PluginDescriptor) ModelProvider() (Capability, bool) {
	for _, c := range d.Capabilities {
		if c.Kind == CapabilityModelProvider {
			return c, true
		}
	}
	return Capability{}, false
}

// Tool returns the tool capability, if declared.
func (d *PluginDescriptor) Tool() (Capability, bool) {
	for _, c := range d.Capabilities {
		if c.Kind == CapabilityTool {
			return c, true
		}
	}
	return Capability{}, false
}

// Clone returns a deep copy. Registry reads hand out clones so callers can
// never alias the registered descriptor.
func (d *PluginDescriptor) Clone() *PluginDescriptor {
	out := *d
	out.Dependencies = append([]Dependency(nil), d.Dependencies...)
	out.ExtensionPoints = append([]ExtensionPoint(nil), d.ExtensionPoints...)
	out.Services = append([]ServiceBinding(nil), d.Services...)
	out.Capabilities = append([]Capability(nil), d.Capabilities...)
	return &out
}
