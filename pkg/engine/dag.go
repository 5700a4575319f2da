package engine

import (
	"fmt"
	"sort"
	"strings"
)

// DAGBuilder builds a directed acyclic graph from desired-state resources.
// It performs topological sorting with declaration-order tie-breaking so the
// resulting order is deterministic for a given topology.
type DAGBuilder struct {
	// nodes maps resource IDs to their nodes
	nodes map[string]*ResourceNode

	// order holds resource IDs in declaration order
	order []string

	// adjacencyList maps resource IDs to their dependents
	adjacencyList map[string][]string

	// reverseAdjacencyList maps resource IDs to their dependencies
	reverseAdjacencyList map[string][]string

	// inDegree tracks the number of incoming edges for each node
	inDegree map[string]int

	// levels maps execution level to resource IDs at that level
	levels [][]string

	// topoOrder is the flattened topological order
	topoOrder []string
}

// NewDAGBuilder creates a new DAG builder.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{
		nodes:                make(map[string]*ResourceNode),
		order:                make([]string, 0),
		adjacencyList:        make(map[string][]string),
		reverseAdjacencyList: make(map[string][]string),
		inDegree:             make(map[string]int),
		levels:               make([][]string, 0),
		topoOrder:            make([]string, 0),
	}
}

// BuildGraph constructs an execution graph from desired-state resources.
// It validates dependencies, detects cycles, and computes execution levels.
func (b *DAGBuilder) BuildGraph(nodes []ResourceNode) (*ExecutionGraph, error) {
	if len(nodes) == 0 {
		return &ExecutionGraph{
			Nodes: make(map[string]*GraphNode),
			Edges: make([]GraphEdge, 0),
			Roots: make([]string, 0),
			Depth: 0,
		}, nil
	}

	if err := b.initialize(nodes); err != nil {
		return nil, err
	}

	if err := b.detectCycles(); err != nil {
		return nil, err
	}

	if err := b.computeLevels(); err != nil {
		return nil, err
	}

	return b.buildExecutionGraph(), nil
}

// initialize sets up the internal data structures from resource nodes.
func (b *DAGBuilder) initialize(nodes []ResourceNode) error {
	// First pass: index all nodes in declaration order
	for i := range nodes {
		node := &nodes[i]
		if node.ID == "" {
			return NewPermanentError("resource has empty ID", nil).
				WithCode(ErrCodeValidation)
		}

		if _, exists := b.nodes[node.ID]; exists {
			return NewPermanentError(fmt.Sprintf("duplicate resource ID: %s", node.ID), nil).
				WithCode(ErrCodeValidation)
		}

		b.nodes[node.ID] = node
		b.order = append(b.order, node.ID)
		b.adjacencyList[node.ID] = make([]string, 0)
		b.reverseAdjacencyList[node.ID] = make([]string, 0)
		b.inDegree[node.ID] = 0
	}

	// Second pass: build adjacency lists and validate dependencies
	for _, id := range b.order {
		node := b.nodes[id]
		for _, dep := range node.DependsOn {
			// Validate dependency target exists
			if _, exists := b.nodes[dep]; !exists {
				return NewPermanentError(
					fmt.Sprintf("resource %s depends on undeclared resource %s", node.ID, dep),
					nil,
				).WithCode(ErrCodeValidation).WithResource(node.ID)
			}

			// Edge from dependency to dependent
			// (the dependency must be applied before the dependent)
			b.adjacencyList[dep] = append(b.adjacencyList[dep], node.ID)
			b.reverseAdjacencyList[node.ID] = append(b.reverseAdjacencyList[node.ID], dep)
			b.inDegree[node.ID]++
		}
	}

	return nil
}

// detectCycles uses depth-first search to detect circular dependencies.
func (b *DAGBuilder) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	path := make([]string, 0)

	for _, id := range b.order {
		if !visited[id] {
			if cycle, err := b.detectCyclesUtil(id, visited, recStack, path); err != nil {
				return NewPermanentError(
					fmt.Sprintf("circular dependency detected: %s", formatCycle(cycle)),
					err,
				).WithCode(ErrCodeCycleDetected)
			}
		}
	}

	return nil
}

// detectCyclesUtil performs DFS to detect cycles in the dependency graph.
func (b *DAGBuilder) detectCyclesUtil(
	nodeID string,
	visited map[string]bool,
	recStack map[string]bool,
	path []string,
) ([]string, error) {
	visited[nodeID] = true
	recStack[nodeID] = true
	path = append(path, nodeID)

	for _, dependent := range b.adjacencyList[nodeID] {
		if !visited[dependent] {
			if cycle, err := b.detectCyclesUtil(dependent, visited, recStack, path); err != nil {
				return cycle, err
			}
		} else if recStack[dependent] {
			// Found a cycle - construct the cycle path
			cycleStart := -1
			for i, id := range path {
				if id == dependent {
					cycleStart = i
					break
				}
			}
			if cycleStart >= 0 {
				return append(path[cycleStart:], dependent), fmt.Errorf("cycle detected")
			}
		}
	}

	recStack[nodeID] = false
	return nil, nil
}

// computeLevels assigns execution levels using Kahn's algorithm. Nodes within
// a level are ordered by declaration position, which makes the flattened
// topological order stable across runs.
func (b *DAGBuilder) computeLevels() error {
	inDegreeCopy := make(map[string]int)
	for id, degree := range b.inDegree {
		inDegreeCopy[id] = degree
	}

	// Roots, in declaration order
	currentLevel := make([]string, 0)
	for _, id := range b.order {
		if inDegreeCopy[id] == 0 {
			currentLevel = append(currentLevel, id)
		}
	}

	if len(currentLevel) == 0 && len(b.nodes) > 0 {
		return NewPermanentError("no root resources found - all resources have dependencies", nil).
			WithCode(ErrCodeCycleDetected)
	}

	processedCount := 0
	for len(currentLevel) > 0 {
		b.sortByPosition(currentLevel)
		b.levels = append(b.levels, currentLevel)
		b.topoOrder = append(b.topoOrder, currentLevel...)
		processedCount += len(currentLevel)

		nextLevel := make([]string, 0)
		for _, nodeID := range currentLevel {
			for _, dependent := range b.adjacencyList[nodeID] {
				inDegreeCopy[dependent]--
				if inDegreeCopy[dependent] == 0 {
					nextLevel = append(nextLevel, dependent)
				}
			}
		}

		currentLevel = nextLevel
	}

	// Should never happen once cycle detection has passed
	if processedCount != len(b.nodes) {
		return NewPermanentError("failed to order all resources - possible cycle", nil).
			WithCode(ErrCodeInternal)
	}

	return nil
}

// sortByPosition orders resource IDs by their declaration position.
func (b *DAGBuilder) sortByPosition(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		return b.nodes[ids[i]].Position < b.nodes[ids[j]].Position
	})
}

// buildExecutionGraph creates the final ExecutionGraph structure.
func (b *DAGBuilder) buildExecutionGraph() *ExecutionGraph {
	graph := &ExecutionGraph{
		Nodes: make(map[string]*GraphNode),
		Edges: make([]GraphEdge, 0),
		Roots: make([]string, 0),
		Depth: len(b.levels),
	}

	for level, ids := range b.levels {
		for _, id := range ids {
			graph.Nodes[id] = &GraphNode{
				ID:           id,
				Level:        level,
				Dependencies: b.reverseAdjacencyList[id],
				Dependents:   b.adjacencyList[id],
			}

			if level == 0 {
				graph.Roots = append(graph.Roots, id)
			}
		}
	}

	for _, id := range b.order {
		node := b.nodes[id]
		for _, dep := range node.DependsOn {
			graph.Edges = append(graph.Edges, GraphEdge{From: dep, To: node.ID})
		}
	}

	return graph
}

// TopoOrder returns resource IDs in stable topological order: every
// resource's dependencies appear before it, ties broken by declaration order.
func (b *DAGBuilder) TopoOrder() []string {
	return b.topoOrder
}

// ReverseTopoOrder returns resource IDs in reverse topological order, the
// order in which resources must be deleted (dependents before dependencies).
func (b *DAGBuilder) ReverseTopoOrder() []string {
	out := make([]string, len(b.topoOrder))
	for i, id := range b.topoOrder {
		out[len(b.topoOrder)-1-i] = id
	}
	return out
}

// GetLevels returns the computed execution levels.
// Each level contains resource IDs whose dependencies are all in earlier levels.
func (b *DAGBuilder) GetLevels() [][]string {
	return b.levels
}

// ToDOT generates a DOT format representation of the DAG for visualization.
// The ops map annotates resources with their planned operation, coloring the
// nodes accordingly. The output can be rendered with Graphviz tools.
func (b *DAGBuilder) ToDOT(ops map[string]OperationType) string {
	var sb strings.Builder

	sb.WriteString("digraph Topology {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range b.levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")

		for _, id := range ids {
			node := b.nodes[id]
			label := fmt.Sprintf("%s\\n%s", node.ID, node.Kind)
			color := "white"
			if op, ok := ops[id]; ok {
				label = fmt.Sprintf("%s\\n%s", label, op)
				color = getOperationColor(op)
			}

			sb.WriteString(fmt.Sprintf("    \"%s\" [label=\"%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
				id, label, color))
		}

		sb.WriteString("  }\n\n")
	}

	for _, id := range b.order {
		node := b.nodes[id]
		for _, dep := range node.DependsOn {
			sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\";\n", dep, node.ID))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	return strings.Join(cycle, " -> ")
}

// getOperationColor returns a color for visualizing operation types.
func getOperationColor(op OperationType) string {
	switch op {
	case OperationCreate:
		return "lightgreen"
	case OperationUpdate:
		return "lightblue"
	case OperationDelete:
		return "lightcoral"
	case OperationNoop:
		return "lightgray"
	default:
		return "white"
	}
}

// ValidateGraph performs additional validation on the built graph.
func (b *DAGBuilder) ValidateGraph(graph *ExecutionGraph) error {
	// Verify all nodes are represented in the graph
	if len(graph.Nodes) != len(b.nodes) {
		return NewPermanentError("graph node count mismatch", nil).
			WithCode(ErrCodeInternal)
	}

	// Verify all edges are valid
	for _, edge := range graph.Edges {
		if _, exists := graph.Nodes[edge.From]; !exists {
			return NewPermanentError(fmt.Sprintf("edge references non-existent node: %s", edge.From), nil).
				WithCode(ErrCodeInternal)
		}
		if _, exists := graph.Nodes[edge.To]; !exists {
			return NewPermanentError(fmt.Sprintf("edge references non-existent node: %s", edge.To), nil).
				WithCode(ErrCodeInternal)
		}
	}

	// Verify root nodes have no dependencies
	for _, rootID := range graph.Roots {
		node := graph.Nodes[rootID]
		if len(node.Dependencies) > 0 {
			return NewPermanentError(fmt.Sprintf("root node %s has dependencies", rootID), nil).
				WithCode(ErrCodeInternal)
		}
	}

	return nil
}
