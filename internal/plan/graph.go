package plan

import (
	"sort"

	"github.com/hostbridge/hostbridge/internal/toolerr"
)

// computeLevels runs Kahn's algorithm over the task graph and groups task ids
// into execution levels. A task lands on the smallest level greater than
// every dependency's level, so independent tasks share a level and each
// level is sorted for deterministic scheduling.
func computeLevels(tasks []*Task) ([][]string, error) {
	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		known[t.ID] = true
	}

	inDegree := make(map[string]int, len(tasks))
	adj := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		inDegree[t.ID] = 0
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if !known[dep] {
				return nil, toolerr.InvalidParamf("Task '%s' depends on unknown task '%s'", t.ID, dep)
			}
			inDegree[t.ID]++
			adj[dep] = append(adj[dep], t.ID)
		}
	}

	var queue []string
	for _, t := range tasks {
		if inDegree[t.ID] == 0 {
			queue = append(queue, t.ID)
		}
	}
	sort.Strings(queue)

	var levels [][]string
	visited := 0
	for len(queue) > 0 {
		levels = append(levels, queue)
		var next []string
		for _, id := range queue {
			visited++
			for _, dependent := range adj[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.Strings(next)
		queue = next
	}

	if visited != len(tasks) {
		return nil, toolerr.InvalidParamf("Cycle detected in task dependency graph: plan cannot be executed")
	}
	return levels, nil
}

// transitiveDependents returns the ids of every task reachable from id
// through reverse depends_on edges.
func transitiveDependents(id string, tasks []*Task) map[string]bool {
	dependents := make(map[string]bool)
	queue := []string{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, t := range tasks {
			if dependents[t.ID] {
				continue
			}
			for _, dep := range t.DependsOn {
				if dep == current {
					dependents[t.ID] = true
					queue = append(queue, t.ID)
					break
				}
			}
		}
	}
	return dependents
}
