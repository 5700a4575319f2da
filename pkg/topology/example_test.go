package topology_test

import (
	"context"
	"fmt"
	"log"

	"github.com/groundworkhq/groundwork/pkg/engine"
	"github.com/groundworkhq/groundwork/pkg/topology"
)

func Example_declarationOrder() {
	loader := topology.NewLoader()
	parsed, err := loader.ParseInline(context.Background(), `
resources: {
	"net-prod": {
		kind: "network"
		properties: {cidr: "10.0.0.0/16"}
	}
	"subnet-a": {
		kind: "subnet"
		properties: {
			network: "net-prod"
			cidr:    "10.0.1.0/24"
		}
		depends_on: ["net-prod"]
	}
}
`)
	if err != nil {
		log.Fatal(err)
	}

	topo, err := parsed.ToTopology()
	if err != nil {
		log.Fatal(err)
	}

	for _, r := range topo.Resources {
		fmt.Printf("%d %s %s\n", r.Position, r.Kind, r.ID)
	}
	// Output:
	// 0 network net-prod
	// 1 subnet subnet-a
}

func ExampleSchemaRegistry_ValidateProperties() {
	registry := topology.NewSchemaRegistry()

	err := registry.ValidateProperties(context.Background(), engine.KindFirewallRule, map[string]interface{}{
		"network":   "net-prod",
		"direction": "sideways",
	})
	fmt.Println("valid:", err == nil)
	// Output: valid: false
}
