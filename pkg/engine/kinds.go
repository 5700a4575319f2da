package engine

import (
	"fmt"
)

// Kind identifies the kind of an infrastructure resource.
type Kind string

const (
	// KindNetwork is an isolated virtual network.
	KindNetwork Kind = "network"

	// KindSubnet is an address range within a network, pinned to a zone.
	KindSubnet Kind = "subnet"

	// KindGateway attaches a network to the outside world.
	KindGateway Kind = "gateway"

	// KindRouteTable holds routing rules for a subnet.
	KindRouteTable Kind = "route-table"

	// KindFirewallRule is a single ingress or egress rule on a network.
	KindFirewallRule Kind = "firewall-rule"

	// KindComputeInstance is a virtual machine. Creating one emits a
	// connection endpoint consumed by the handoff bridge.
	KindComputeInstance Kind = "compute-instance"
)

// Kinds lists all known resource kinds.
func Kinds() []Kind {
	return []Kind{
		KindNetwork,
		KindSubnet,
		KindGateway,
		KindRouteTable,
		KindFirewallRule,
		KindComputeInstance,
	}
}

// Validate checks if the kind is known.
func (k Kind) Validate() error {
	switch k {
	case KindNetwork, KindSubnet, KindGateway, KindRouteTable,
		KindFirewallRule, KindComputeInstance:
		return nil
	default:
		return fmt.Errorf("invalid resource kind: %s", k)
	}
}

// immutableProperties maps each kind to the properties that cannot change in
// place. A diff touching one of these forces delete-and-recreate.
var immutableProperties = map[Kind]map[string]bool{
	KindNetwork: {
		"cidr":   true,
		"region": true,
	},
	KindSubnet: {
		"network": true,
		"cidr":    true,
		"zone":    true,
	},
	KindGateway: {
		"network": true,
	},
	KindRouteTable: {
		"subnet": true,
	},
	KindFirewallRule: {
		"network":   true,
		"direction": true,
	},
	KindComputeInstance: {
		"subnet": true,
		"image":  true,
		"zone":   true,
	},
}

// IsImmutableProperty reports whether the named property of the given kind
// forces replacement when its value changes.
func IsImmutableProperty(kind Kind, property string) bool {
	props, ok := immutableProperties[kind]
	if !ok {
		return false
	}
	return props[property]
}

// ImmutableProperties returns the immutable property names for a kind.
func ImmutableProperties(kind Kind) []string {
	props := immutableProperties[kind]
	out := make([]string, 0, len(props))
	for name := range props {
		out = append(out, name)
	}
	return out
}

// EndpointFromProperties extracts a connection endpoint from a state property
// mapping. Providers populate address, ssh_port, ssh_user and credential_ref
// on compute-instance creation.
func EndpointFromProperties(props map[string]interface{}) (Endpoint, bool) {
	ep := Endpoint{}

	addr, ok := props["address"].(string)
	if !ok || addr == "" {
		return ep, false
	}
	ep.Address = addr

	switch v := props["ssh_port"].(type) {
	case int:
		ep.Port = v
	case int64:
		ep.Port = int(v)
	case float64:
		ep.Port = int(v)
	}

	if user, ok := props["ssh_user"].(string); ok {
		ep.User = user
	}
	if ref, ok := props["credential_ref"].(string); ok {
		ep.CredentialRef = ref
	}

	return ep, true
}
