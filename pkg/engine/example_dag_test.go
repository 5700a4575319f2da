package engine_test

import (
	"context"
	"fmt"
	"log"

	"github.com/groundworkhq/groundwork/pkg/engine"
)

// Example_dagExecution demonstrates building the dependency graph for a
// small network topology: a network carrying a subnet and a firewall
// rule, with a compute instance inside the subnet.
func Example_dagExecution() {
	nodes := []engine.ResourceNode{
		{
			ID:         "net-001",
			Kind:       engine.KindNetwork,
			Properties: map[string]interface{}{"cidr": "10.0.0.0/16", "region": "eu-central"},
		},
		{
			ID:         "subnet-001",
			Kind:       engine.KindSubnet,
			Properties: map[string]interface{}{"network": "net-001", "cidr": "10.0.1.0/24"},
			DependsOn:  []string{"net-001"},
		},
		{
			ID:         "fw-001",
			Kind:       engine.KindFirewallRule,
			Properties: map[string]interface{}{"network": "net-001", "direction": "ingress", "port": 443},
			DependsOn:  []string{"net-001"},
		},
		{
			ID:         "vm-001",
			Kind:       engine.KindComputeInstance,
			Properties: map[string]interface{}{"subnet": "subnet-001", "image": "debian-12", "zone": "a"},
			DependsOn:  []string{"subnet-001"},
		},
	}

	builder := engine.NewDAGBuilder()
	graph, err := builder.BuildGraph(nodes)
	if err != nil {
		log.Fatalf("Failed to build graph: %v", err)
	}

	fmt.Printf("Execution graph depth: %d levels\n", graph.Depth)
	fmt.Printf("Root nodes: %v\n", graph.Roots)

	for level, ids := range builder.GetLevels() {
		fmt.Printf("Level %d: %v\n", level, ids)
	}

	// Creates walk the graph forward; removals walk it backward
	fmt.Printf("Create order: %v\n", builder.TopoOrder())
	fmt.Printf("Delete order: %v\n", builder.ReverseTopoOrder())

	// Output:
	// Execution graph depth: 3 levels
	// Root nodes: [net-001]
	// Level 0: [net-001]
	// Level 1: [subnet-001 fw-001]
	// Level 2: [vm-001]
	// Create order: [net-001 subnet-001 fw-001 vm-001]
	// Delete order: [vm-001 fw-001 subnet-001 net-001]
}

// Example_plannerWorkflow demonstrates planning a topology from scratch.
func Example_plannerWorkflow() {
	ctx := context.Background()

	// No provider consultation is needed for pure creates
	planner := engine.NewPlanner(nil, engine.DefaultPlannerOptions())

	desired := []engine.ResourceNode{
		{
			ID:         "net-001",
			Kind:       engine.KindNetwork,
			Properties: map[string]interface{}{"cidr": "10.0.0.0/16"},
		},
		{
			ID:         "subnet-001",
			Kind:       engine.KindSubnet,
			Properties: map[string]interface{}{"network": "net-001", "cidr": "10.0.1.0/24"},
			DependsOn:  []string{"net-001"},
		},
	}

	plan, err := planner.Plan(ctx, desired, nil)
	if err != nil {
		log.Fatalf("Failed to plan: %v", err)
	}

	fmt.Printf("Plan summary: %d to create, %d to update, %d to delete\n",
		plan.Summary.ToCreate, plan.Summary.ToUpdate, plan.Summary.ToDelete)

	for _, op := range plan.Operations {
		fmt.Printf("%s %s\n", op.Type, op.ResourceID)
	}

	if err := planner.ValidatePlan(ctx, plan); err != nil {
		log.Fatalf("Plan validation failed: %v", err)
	}
	fmt.Println("Plan validated")

	// A second plan against the applied state would be empty; the planner
	// only emits operations for observed differences.

	// Output:
	// Plan summary: 2 to create, 0 to update, 0 to delete
	// create net-001
	// create subnet-001
	// Plan validated
}
