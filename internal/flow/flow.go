// Package flow computes the processing order of object types from their
// declared parent relationships.
package flow

import (
	"fmt"
	"sort"
	"strings"
)

// ObjectSpec describes one object type enrolled in a migration.
type ObjectSpec struct {
	Name   string
	Active bool
	// Filter is an optional query predicate applied at extraction.
	Filter string
	// QuickDeployIDs restricts the run to records whose Id or Name appears
	// in the list; empty means all records.
	QuickDeployIDs []string
	// TargetOperation selects the load mode, e.g. "Insert and Update" or
	// "Delete All and Insert All".
	TargetOperation string
}

// DependencyEdge declares that Object's records reference Parent's records,
// so Parent must be processed first.
type DependencyEdge struct {
	Object string
	Parent string
}

// ProcessingOrder is the resolved object sequencing for one run. Download
// visits parents before children; Upload is its exact reverse; Roots are
// the objects with no effective parents. Objects without ordering
// constraints keep their enrollment order in Download.
type ProcessingOrder struct {
	Download []string
	Upload   []string
	Roots    []string
}

// CycleError reports a dependency cycle among the named objects.
type CycleError struct {
	Objects []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle among objects: %s", strings.Join(e.Objects, ", "))
}

// Resolve orders the enrolled objects so every parent precedes its children,
// using a queue-based topological sort. Edges naming a blank parent, a parent
// outside the enrolled set, or the object itself are treated as satisfied.
// A cycle yields a *CycleError naming the unresolved objects.
func Resolve(specs []ObjectSpec, edges []DependencyEdge) (ProcessingOrder, error) {
	enrolled := make(map[string]bool, len(specs))
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		if enrolled[s.Name] {
			continue
		}
		enrolled[s.Name] = true
		names = append(names, s.Name)
	}

	indegree := make(map[string]int, len(names))
	children := make(map[string][]string)
	hasParent := make(map[string]bool)
	seen := make(map[string]bool)
	for _, e := range edges {
		if e.Parent == "" || e.Parent == e.Object {
			continue
		}
		if !enrolled[e.Object] || !enrolled[e.Parent] {
			continue
		}
		hasParent[e.Object] = true
		key := e.Parent + "\x00" + e.Object
		if seen[key] {
			continue
		}
		seen[key] = true
		indegree[e.Object]++
		children[e.Parent] = append(children[e.Parent], e.Object)
	}

	queue := make([]string, 0, len(names))
	for _, name := range names {
		if indegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	order := make([]string, 0, len(names))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		order = append(order, name)
		for _, child := range children[name] {
			indegree[child]--
			if indegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if len(order) != len(names) {
		var cyclic []string
		for _, name := range names {
			if indegree[name] > 0 {
				cyclic = append(cyclic, name)
			}
		}
		sort.Strings(cyclic)
		return ProcessingOrder{}, &CycleError{Objects: cyclic}
	}

	upload := make([]string, len(order))
	for i, name := range order {
		upload[len(order)-1-i] = name
	}
	var roots []string
	for _, name := range names {
		if !hasParent[name] {
			roots = append(roots, name)
		}
	}
	return ProcessingOrder{Download: order, Upload: upload, Roots: roots}, nil
}
