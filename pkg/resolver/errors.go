package resolver

import (
	"fmt"
	"strings"
)

// MissingDependencyError reports a required dependency absent from the
// registry snapshot.
type MissingDependencyError struct {
	PluginID     string
	DependencyID string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("plugin %s requires dependency %s which is not registered", e.PluginID, e.DependencyID)
}

// VersionRangeError reports a registered dependency whose version falls
// outside the declared [MinVersion, MaxVersion] range.
type VersionRangeError struct {
	PluginID     string
	DependencyID string
	Registered   string
	MinVersion   string
	MaxVersion   string
}

func (e *VersionRangeError) Error() string {
	return fmt.Sprintf("plugin %s requires %s in range [%s, %s] but version %s is registered",
		e.PluginID, e.DependencyID, e.MinVersion, e.MaxVersion, e.Registered)
}

// CircularDependencyError reports a cycle in the dependency graph. Cycle
// holds the plugin IDs along the cycle, ending where it started.
type CircularDependencyError struct {
	Cycle []string
}

func (e *CircularDependencyError) Error() string {
	return "circular plugin dependency: " + strings.Join(e.Cycle, " -> ")
}
