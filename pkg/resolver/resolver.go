// Package resolver validates plugin dependency graphs against a registry
// snapshot: existence of required dependencies, semantic version ranges,
// and absence of cycles. Resolution is a pure function over its inputs and
// never mutates shared state.
package resolver

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/aistack/plugin-registry/pkg/pluginpkg"
)

// Snapshot is a point-in-time view of registered descriptors by plugin ID.
type Snapshot map[string]*pluginpkg.PluginDescriptor

// Resolution is the successful outcome of a resolve call. Order lists the
// reachable dependency subgraph topologically, dependencies before
// dependents, with equal-priority siblings in manifest declaration order.
// For a dependency-free single candidate it is just that candidate.
type Resolution struct {
	Order    []string
	Warnings []string
}

// ResolveOne validates a single candidate against the snapshot.
func ResolveOne(candidate *pluginpkg.PluginDescriptor, snapshot Snapshot) (*Resolution, error) {
	return Resolve([]*pluginpkg.PluginDescriptor{candidate}, snapshot)
}

// Resolve validates a batch of candidates against the snapshot. Checks run
// in order: cycle detection, required-dependency existence, version ranges.
// Candidates may depend on each other; a candidate shadows a registered
// descriptor with the same ID.
func Resolve(candidates []*pluginpkg.PluginDescriptor, snapshot Snapshot) (*Resolution, error) {
	nodes := make(map[string]*pluginpkg.PluginDescriptor, len(snapshot)+len(candidates))
	for id, desc := range snapshot {
		nodes[id] = desc
	}
	for _, c := range candidates {
		nodes[c.ID] = c
	}

	if cycle := findCycle(candidates, nodes); cycle != nil {
		return nil, &CircularDependencyError{Cycle: cycle}
	}

	res := &Resolution{}
	for _, c := range candidates {
		for _, dep := range c.Dependencies {
			target, ok := nodes[dep.ID]
			if !ok {
				if dep.Optional {
					res.Warnings = append(res.Warnings,
						fmt.Sprintf("optional dependency %s of plugin %s is not registered", dep.ID, c.ID))
					continue
				}
				return nil, &MissingDependencyError{PluginID: c.ID, DependencyID: dep.ID}
			}
			ok, err := versionInRange(target.Version, dep.MinVersion, dep.MaxVersion)
			if err != nil {
				return nil, fmt.Errorf("check version range for %s -> %s: %w", c.ID, dep.ID, err)
			}
			if !ok {
				return nil, &VersionRangeError{
					PluginID:     c.ID,
					DependencyID: dep.ID,
					Registered:   target.Version,
					MinVersion:   dep.MinVersion,
					MaxVersion:   dep.MaxVersion,
				}
			}
		}
	}

	res.Order = topoOrder(candidates, nodes)
	return res, nil
}

// versionInRange reports whether version satisfies the inclusive
// [min, max] range. Empty bounds are open.
func versionInRange(version, min, max string) (bool, error) {
	if min == "" && max == "" {
		return true, nil
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("invalid registered version %q: %w", version, err)
	}
	var parts []string
	if min != "" {
		parts = append(parts, ">="+min)
	}
	if max != "" {
		parts = append(parts, "<="+max)
	}
	c, err := semver.NewConstraint(strings.Join(parts, ", "))
	if err != nil {
		return false, fmt.Errorf("invalid version range [%s, %s]: %w", min, max, err)
	}
	return c.Check(v), nil
}

// findCycle runs a depth-first traversal with a recursion stack from each
// candidate and returns the first cycle found, or nil. Edges to unknown
// nodes are skipped; existence is checked separately.
func findCycle(candidates []*pluginpkg.PluginDescriptor, nodes map[string]*pluginpkg.PluginDescriptor) []string {
	visited := make(map[string]bool, len(nodes))
	onStack := make(map[string]bool, len(nodes))
	var path []string
	var cycle []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		for _, dep := range nodes[id].Dependencies {
			next, ok := nodes[dep.ID]
			if !ok {
				continue
			}
			if onStack[next.ID] {
				start := 0
				for i, p := range path {
					if p == next.ID {
						start = i
						break
					}
				}
				cycle = append(append([]string{}, path[start:]...), next.ID)
				return true
			}
			if !visited[next.ID] && dfs(next.ID) {
				return true
			}
		}

		path = path[:len(path)-1]
		onStack[id] = false
		return false
	}

	for _, c := range candidates {
		if !visited[c.ID] && dfs(c.ID) {
			return cycle
		}
	}
	return nil
}

// topoOrder returns the reachable subgraph in dependencies-first order.
// Must only be called on an acyclic graph.
func topoOrder(candidates []*pluginpkg.PluginDescriptor, nodes map[string]*pluginpkg.PluginDescriptor) []string {
	var order []string
	done := make(map[string]bool, len(nodes))

	var visit func(id string)
	visit = func(id string) {
		if done[id] {
			return
		}
		done[id] = true
		for _, dep := range nodes[id].Dependencies {
			if _, ok := nodes[dep.ID]; ok {
				visit(dep.ID)
			}
		}
		order = append(order, id)
	}

	for _, c := range candidates {
		visit(c.ID)
	}
	return order
}
