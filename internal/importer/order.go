package importer

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/issai/internal/document"
	"github.com/roach88/issai/internal/entity"
)

// dependencyGraph maps each ref to the refs it links to.
type dependencyGraph map[entity.Ref][]entity.Ref

func buildGraph(d *document.Document) dependencyGraph {
	graph := make(dependencyGraph, len(d.Entities))
	for ref, e := range d.Entities {
		deps := e.Targets()
		slices.Sort(deps)
		graph[ref] = slices.Compact(deps)
	}
	return graph
}

// dependencyLevels splits the document into batches that can be imported
// in sequence. Every entity's link targets live in earlier levels, so a
// level may be processed concurrently once its predecessors are done.
//
// Within a level entities are ordered by kind rank, then ref.
// A dependency cycle is a structural error naming its members.
func dependencyLevels(d *document.Document) ([][]entity.Ref, error) {
	graph := buildGraph(d)

	pending := make(map[entity.Ref]int, len(graph)) // unresolved dependency count
	dependants := make(map[entity.Ref][]entity.Ref, len(graph))
	for ref, deps := range graph {
		pending[ref] = len(deps)
		for _, dep := range deps {
			dependants[dep] = append(dependants[dep], ref)
		}
	}

	byRankThenRef := func(a, b entity.Ref) int {
		ka, kb := d.Entities[a].Kind.Rank(), d.Entities[b].Kind.Rank()
		if ka != kb {
			return cmp.Compare(ka, kb)
		}
		return cmp.Compare(a, b)
	}

	var current []entity.Ref
	for ref, n := range pending {
		if n == 0 {
			current = append(current, ref)
		}
	}

	var levels [][]entity.Ref
	placed := 0
	for len(current) > 0 {
		slices.SortFunc(current, byRankThenRef)
		levels = append(levels, current)
		placed += len(current)

		var next []entity.Ref
		for _, ref := range current {
			for _, dependant := range dependants[ref] {
				pending[dependant]--
				if pending[dependant] == 0 {
					next = append(next, dependant)
				}
			}
		}
		current = next
	}

	if placed == len(graph) {
		return levels, nil
	}

	// Whatever is left sits on or behind a cycle
	remaining := make(dependencyGraph)
	for ref, n := range pending {
		if n > 0 {
			remaining[ref] = graph[ref]
		}
	}
	return nil, cycleError(d, remaining)
}

// cycleError reports every cycle among the unplaced entities.
func cycleError(d *document.Document, graph dependencyGraph) error {
	var cycles [][]entity.Ref
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			slices.Sort(scc)
			cycles = append(cycles, scc)
		}
	}
	slices.SortFunc(cycles, func(a, b []entity.Ref) int { return cmp.Compare(a[0], b[0]) })

	if len(cycles) == 0 {
		// Unreachable for a valid document: nodes left by Kahn always lead to a cycle
		return entity.NewStructuralError(0, "dependency order could not be resolved")
	}

	var parts []string
	for _, scc := range cycles {
		names := make([]string, 0, len(scc)+1)
		for _, ref := range scc {
			names = append(names, fmt.Sprintf("%s (ref %d)", d.Entities[ref].Label(), ref))
		}
		names = append(names, names[0])
		parts = append(parts, strings.Join(names, " -> "))
	}
	return entity.NewStructuralError(cycles[0][0], "dependency cycle: "+strings.Join(parts, "; "))
}

func hasSelfLoop(node entity.Ref, graph dependencyGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Edges to nodes outside graph are ignored.
func tarjanSCC(graph dependencyGraph) [][]entity.Ref {
	var (
		index   = 0
		stack   []entity.Ref
		indices = make(map[entity.Ref]int)
		lowlink = make(map[entity.Ref]int)
		onStack = make(map[entity.Ref]bool)
		sccs    [][]entity.Ref
	)

	var strongConnect func(entity.Ref)
	strongConnect = func(v entity.Ref) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, inGraph := graph[w]; !inGraph {
				continue
			}
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root: pop its component
		if lowlink[v] == indices[v] {
			var scc []entity.Ref
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]entity.Ref, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}
