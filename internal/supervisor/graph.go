package supervisor

import (
	"errors"
	"fmt"
	"sort"

	"github.com/loykin/botgate/internal/process"
)

var (
	ErrDuplicateName     = errors.New("duplicate process name")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrCyclicDependency  = errors.New("cyclic dependency")
)

// topoSort orders process names so every process appears after all of its
// dependencies (Kahn's algorithm). Names are visited in sorted order so the
// result is deterministic. Unknown or cyclic dependencies are rejected and
// nothing may be started from a rejected graph.
func topoSort(specs map[string]process.Spec) ([]string, error) {
	names := make([]string, 0, len(specs))
	for n := range specs {
		names = append(names, n)
	}
	sort.Strings(names)

	indeg := make(map[string]int, len(specs))
	dependents := make(map[string][]string, len(specs))
	for _, n := range names {
		indeg[n] += 0
		for _, d := range specs[n].DependsOn {
			if _, ok := specs[d]; !ok {
				return nil, fmt.Errorf("%w: process %s depends on %s", ErrUnknownDependency, n, d)
			}
			indeg[n]++
			dependents[d] = append(dependents[d], n)
		}
	}

	queue := make([]string, 0, len(names))
	for _, n := range names {
		if indeg[n] == 0 {
			queue = append(queue, n)
		}
	}
	order := make([]string, 0, len(names))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, m := range dependents[n] {
			indeg[m]--
			if indeg[m] == 0 {
				queue = append(queue, m)
			}
		}
		sort.Strings(queue)
	}
	if len(order) != len(names) {
		var cyc []string
		for _, n := range names {
			if indeg[n] > 0 {
				cyc = append(cyc, n)
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrCyclicDependency, cyc)
	}
	return order, nil
}
