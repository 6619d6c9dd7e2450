// SPDX-License-Identifier: MPL-2.0

// Package dag provides directed acyclic graph operations for ordering
// component builds: topological sorting, cycle detection, and dependency
// queries used to schedule components whose inputs are ready.
package dag

import (
	"fmt"
	"strings"
)

type (
	// CycleError indicates that the graph contains a cycle, preventing
	// topological ordering.
	CycleError struct {
		// Cycle contains the nodes involved in the cycle (enough of them to
		// identify the problem, not necessarily a minimal cycle).
		Cycle []string
	}

	// Graph is a directed graph over string-keyed nodes. An edge from A to B
	// means "A must complete before B starts", i.e. B depends on A.
	Graph struct {
		// dependents maps each node to the nodes that depend on it.
		dependents map[string][]string
		// dependencies maps each node to the nodes it depends on.
		dependencies map[string][]string
		// nodes holds all nodes in insertion order for deterministic output.
		nodes []string
		// nodeSet provides O(1) node existence lookup.
		nodeSet map[string]bool
	}
)

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		dependents:   make(map[string][]string),
		dependencies: make(map[string][]string),
		nodeSet:      make(map[string]bool),
	}
}

// AddNode adds a node to the graph. Adding an existing node is a no-op.
func (g *Graph) AddNode(name string) {
	if g.nodeSet[name] {
		return
	}
	g.nodeSet[name] = true
	g.nodes = append(g.nodes, name)
}

// AddEdge records that "from" must complete before "to". Both nodes are
// implicitly added if missing.
func (g *Graph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	g.dependents[from] = append(g.dependents[from], to)
	g.dependencies[to] = append(g.dependencies[to], from)
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.nodes...)
}

// Dependencies returns the nodes that name directly depends on.
func (g *Graph) Dependencies(name string) []string {
	return append([]string(nil), g.dependencies[name]...)
}

// TransitiveDependents returns every node downstream of name, in insertion
// order. A failed node takes this whole subtree down with it.
func (g *Graph) TransitiveDependents(name string) []string {
	reached := make(map[string]bool)
	var visit func(node string)
	visit = func(node string) {
		for _, dep := range g.dependents[node] {
			if !reached[dep] {
				reached[dep] = true
				visit(dep)
			}
		}
	}
	visit(name)

	var result []string
	for _, node := range g.nodes {
		if reached[node] {
			result = append(result, node)
		}
	}
	return result
}

// TopologicalSort returns a valid build order using Kahn's algorithm, failing
// with CycleError if the graph contains a cycle. The order is deterministic:
// nodes at the same topological depth appear in insertion order.
func (g *Graph) TopologicalSort() ([]string, error) {
	if len(g.nodes) == 0 {
		return nil, nil
	}

	inDegree := make(map[string]int, len(g.nodes))
	for _, node := range g.nodes {
		inDegree[node] = len(g.dependencies[node])
	}

	queue := make([]string, 0, len(g.nodes))
	for _, node := range g.nodes {
		if inDegree[node] == 0 {
			queue = append(queue, node)
		}
	}

	var result []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		for _, dependent := range g.dependents[node] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(result) != len(g.nodes) {
		// Every node still carrying in-degree sits on or behind a cycle.
		var cycleNodes []string
		for _, node := range g.nodes {
			if inDegree[node] > 0 {
				cycleNodes = append(cycleNodes, node)
			}
		}
		return nil, &CycleError{Cycle: cycleNodes}
	}

	return result, nil
}
