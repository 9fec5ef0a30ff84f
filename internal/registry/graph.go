// Package registry loads persisted stage definitions and validates
// their dependency graph before the executor is allowed to run.
// Validation and execution are deliberately separate phases: a
// malformed configuration is rejected before any trace write or stage
// invocation happens.
package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/drishiq/dialogue-engine/internal/domain"
)

// UnknownDependency is a dependency edge pointing at a stage id that
// does not exist in the loaded set.
type UnknownDependency struct {
	StageID   string `json:"stage_id"`
	DependsOn string `json:"depends_on"`
}

// Validation is the result of checking a stage set's dependency graph.
type Validation struct {
	Valid               bool                `json:"valid"`
	Cycles              [][]string          `json:"cycles,omitempty"`
	UnknownDependencies []UnknownDependency `json:"unknown_dependencies,omitempty"`
}

// Err converts an invalid validation into a configuration error.
func (v Validation) Err() error {
	if v.Valid {
		return nil
	}
	var parts []string
	for _, c := range v.Cycles {
		parts = append(parts, "cycle: "+strings.Join(c, " -> "))
	}
	for _, u := range v.UnknownDependencies {
		parts = append(parts, fmt.Sprintf("stage %s depends on unknown stage %s", u.StageID, u.DependsOn))
	}
	return domain.ErrConfiguration(strings.Join(parts, "; "))
}

// ValidateGraph checks for unknown dependency targets and for cycles
// among required edges. Optional edges never make a graph invalid.
func ValidateGraph(stages []domain.StageDefinition) Validation {
	byID := make(map[string]domain.StageDefinition, len(stages))
	for _, s := range stages {
		byID[s.StageID] = s
	}

	v := Validation{Valid: true}

	for _, s := range stages {
		for _, dep := range s.Dependencies {
			if _, ok := byID[dep.DependsOn]; !ok {
				v.UnknownDependencies = append(v.UnknownDependencies, UnknownDependency{
					StageID:   s.StageID,
					DependsOn: dep.DependsOn,
				})
			}
		}
	}

	v.Cycles = findRequiredCycles(stages, byID)

	if len(v.Cycles) > 0 || len(v.UnknownDependencies) > 0 {
		v.Valid = false
	}
	return v
}

// findRequiredCycles runs Kahn's algorithm over required edges; any
// nodes left with unmet in-degree are part of at least one cycle,
// which is then traced out for the error report.
func findRequiredCycles(stages []domain.StageDefinition, byID map[string]domain.StageDefinition) [][]string {
	indegree := make(map[string]int, len(stages))
	dependents := make(map[string][]string)

	for _, s := range stages {
		indegree[s.StageID] += 0
		for _, dep := range s.Dependencies {
			if dep.Type != domain.DependencyRequired {
				continue
			}
			if _, ok := byID[dep.DependsOn]; !ok {
				continue
			}
			indegree[s.StageID]++
			dependents[dep.DependsOn] = append(dependents[dep.DependsOn], s.StageID)
		}
	}

	queue := make([]string, 0, len(stages))
	for id, d := range indegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	var remaining []string
	for id, d := range indegree {
		if d > 0 {
			remaining = append(remaining, id)
		}
	}
	if len(remaining) == 0 {
		return nil
	}
	sort.Strings(remaining)

	// Trace each cycle by walking required edges inside the remainder.
	inRemainder := make(map[string]bool, len(remaining))
	for _, id := range remaining {
		inRemainder[id] = true
	}

	var cycles [][]string
	visited := make(map[string]bool)
	for _, start := range remaining {
		if visited[start] {
			continue
		}
		path := []string{}
		index := map[string]int{}
		cur := start
		for {
			if at, ok := index[cur]; ok {
				cycle := append([]string{}, path[at:]...)
				cycle = append(cycle, cur)
				cycles = append(cycles, cycle)
				for _, id := range path {
					visited[id] = true
				}
				break
			}
			index[cur] = len(path)
			path = append(path, cur)

			next := ""
			for _, dep := range byID[cur].Dependencies {
				if dep.Type == domain.DependencyRequired && inRemainder[dep.DependsOn] {
					next = dep.DependsOn
					break
				}
			}
			if next == "" {
				for _, id := range path {
					visited[id] = true
				}
				break
			}
			cur = next
		}
	}
	return cycles
}

// TopologicalOrder computes an execution order using Kahn's algorithm
// restricted to required edges. Among stages whose required
// dependencies are all met, stages whose optional dependencies are
// also met are preferred, then lower position, then lexicographic
// stage id. Edges pointing outside the given set (e.g. at stages
// filtered out as inactive) are ignored for ordering; the executor
// handles their skip semantics separately.
func TopologicalOrder(stages []domain.StageDefinition) ([]string, error) {
	byID := make(map[string]domain.StageDefinition, len(stages))
	for _, s := range stages {
		byID[s.StageID] = s
	}

	requiredLeft := make(map[string]int, len(stages))
	dependents := make(map[string][]string)
	for _, s := range stages {
		requiredLeft[s.StageID] += 0
		for _, dep := range s.Dependencies {
			if dep.Type != domain.DependencyRequired {
				continue
			}
			if _, ok := byID[dep.DependsOn]; !ok {
				continue
			}
			requiredLeft[s.StageID]++
			dependents[dep.DependsOn] = append(dependents[dep.DependsOn], s.StageID)
		}
	}

	done := make(map[string]bool, len(stages))
	order := make([]string, 0, len(stages))

	for len(order) < len(stages) {
		var ready []domain.StageDefinition
		for _, s := range stages {
			if !done[s.StageID] && requiredLeft[s.StageID] == 0 {
				ready = append(ready, s)
			}
		}
		if len(ready) == 0 {
			v := ValidateGraph(stages)
			return nil, v.Err()
		}

		sort.Slice(ready, func(i, j int) bool {
			oi := optionalUnmet(ready[i], byID, done)
			oj := optionalUnmet(ready[j], byID, done)
			if oi != oj {
				return oi < oj
			}
			if ready[i].Position != ready[j].Position {
				return ready[i].Position < ready[j].Position
			}
			return ready[i].StageID < ready[j].StageID
		})

		next := ready[0]
		done[next.StageID] = true
		order = append(order, next.StageID)
		for _, dep := range dependents[next.StageID] {
			requiredLeft[dep]--
		}
	}

	return order, nil
}

func optionalUnmet(s domain.StageDefinition, byID map[string]domain.StageDefinition, done map[string]bool) int {
	n := 0
	for _, dep := range s.Dependencies {
		if dep.Type != domain.DependencyOptional {
			continue
		}
		if _, ok := byID[dep.DependsOn]; !ok {
			continue
		}
		if !done[dep.DependsOn] {
			n++
		}
	}
	return n
}
