package registry

import (
	"errors"
	"fmt"
	"strings"
)

// ErrStillReferenced blocks removal of a plugin that installation rows
// still reference.
var ErrStillReferenced = errors.New("plugin is still referenced by tenant installations")

// VersionConflictError rejects a registry upgrade that would break a
// tenant whose enabled installation pins an incompatible version.
type VersionConflictError struct {
	PluginID   string
	OldVersion string
	NewVersion string
	Pins       []string
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("cannot upgrade plugin %s from %s to %s: incompatible enabled installations pin %s",
		e.PluginID, e.OldVersion, e.NewVersion, strings.Join(e.Pins, ", "))
}
