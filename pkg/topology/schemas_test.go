package topology

import (
	"context"
	"testing"

	"github.com/groundworkhq/groundwork/pkg/engine"
)

func TestValidateProperties(t *testing.T) {
	tests := []struct {
		name    string
		kind    engine.Kind
		props   map[string]interface{}
		wantErr bool
	}{
		{
			name: "valid network",
			kind: engine.KindNetwork,
			props: map[string]interface{}{
				"cidr":   "10.0.0.0/16",
				"region": "eu-west-1",
				"mtu":    1500,
			},
		},
		{
			name:    "network missing cidr",
			kind:    engine.KindNetwork,
			props:   map[string]interface{}{"region": "eu-west-1"},
			wantErr: true,
		},
		{
			name:    "network malformed cidr",
			kind:    engine.KindNetwork,
			props:   map[string]interface{}{"cidr": "10.0.0.0"},
			wantErr: true,
		},
		{
			name: "network undeclared property",
			kind: engine.KindNetwork,
			props: map[string]interface{}{
				"cidr":  "10.0.0.0/16",
				"color": "blue",
			},
			wantErr: true,
		},
		{
			name: "valid subnet",
			kind: engine.KindSubnet,
			props: map[string]interface{}{
				"network": "net-prod",
				"cidr":    "10.0.1.0/24",
				"zone":    "a",
			},
		},
		{
			name:    "gateway invalid type",
			kind:    engine.KindGateway,
			props:   map[string]interface{}{"network": "net-prod", "type": "vpn"},
			wantErr: true,
		},
		{
			name: "valid firewall rule",
			kind: engine.KindFirewallRule,
			props: map[string]interface{}{
				"network":    "net-prod",
				"direction":  "ingress",
				"protocol":   "tcp",
				"port_range": "80-443",
				"source":     "0.0.0.0/0",
			},
		},
		{
			name: "firewall invalid direction",
			kind: engine.KindFirewallRule,
			props: map[string]interface{}{
				"network":   "net-prod",
				"direction": "inbound",
			},
			wantErr: true,
		},
		{
			name: "firewall invalid port range",
			kind: engine.KindFirewallRule,
			props: map[string]interface{}{
				"network":    "net-prod",
				"direction":  "egress",
				"port_range": "http",
			},
			wantErr: true,
		},
		{
			name: "valid compute instance",
			kind: engine.KindComputeInstance,
			props: map[string]interface{}{
				"subnet":         "subnet-a",
				"image":          "debian-12",
				"ssh_user":       "admin",
				"credential_ref": "file:/secrets/web.key",
			},
		},
		{
			name: "compute instance bare credential",
			kind: engine.KindComputeInstance,
			props: map[string]interface{}{
				"subnet":         "subnet-a",
				"image":          "debian-12",
				"credential_ref": "super-secret-key",
			},
			wantErr: true,
		},
		{
			name: "compute instance port out of range",
			kind: engine.KindComputeInstance,
			props: map[string]interface{}{
				"subnet":   "subnet-a",
				"image":    "debian-12",
				"ssh_port": 70000,
			},
			wantErr: true,
		},
		{
			name: "valid route table",
			kind: engine.KindRouteTable,
			props: map[string]interface{}{
				"subnet": "subnet-a",
				"routes": []interface{}{
					map[string]interface{}{
						"destination": "0.0.0.0/0",
						"next_hop":    "gw-1",
					},
				},
			},
		},
		{
			name: "route missing next hop",
			kind: engine.KindRouteTable,
			props: map[string]interface{}{
				"subnet": "subnet-a",
				"routes": []interface{}{
					map[string]interface{}{"destination": "0.0.0.0/0"},
				},
			},
			wantErr: true,
		},
	}

	registry := NewSchemaRegistry()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := registry.ValidateProperties(context.Background(), tt.kind, tt.props)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateProperties() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidatePropertiesUnknownKind(t *testing.T) {
	registry := NewSchemaRegistry()
	err := registry.ValidateProperties(context.Background(), engine.Kind("volume"), map[string]interface{}{"size": "10G"})
	if err == nil {
		t.Fatal("expected error for unregistered kind")
	}
}

func TestRegisterSchema(t *testing.T) {
	registry := NewSchemaRegistry()

	custom := `
#Schema: {
	endpoint: string & =~"^https?://"
	retries?: int & >=0
}
`
	if err := registry.RegisterSchema("webhook", custom); err != nil {
		t.Fatalf("RegisterSchema() error = %v", err)
	}
	if _, ok := registry.GetSchema("webhook"); !ok {
		t.Fatal("registered schema not found")
	}

	ctx := context.Background()
	if err := registry.ValidateAgainstSchema(ctx, "webhook", map[string]interface{}{"endpoint": "https://example.com"}); err != nil {
		t.Errorf("valid data rejected: %v", err)
	}
	if err := registry.ValidateAgainstSchema(ctx, "webhook", map[string]interface{}{"endpoint": "ftp://example.com"}); err == nil {
		t.Error("expected error for non-matching endpoint")
	}

	if err := registry.RegisterSchema("broken", `endpoint: string`); err == nil {
		t.Error("expected error for schema without #Schema definition")
	}
	if err := registry.RegisterSchema("invalid", `#Schema: {`); err == nil {
		t.Error("expected error for malformed schema")
	}
}

func TestListSchemas(t *testing.T) {
	registry := NewSchemaRegistry()
	names := registry.ListSchemas()

	want := map[string]bool{
		"workspace":        false,
		"resource":         false,
		"network":          false,
		"subnet":           false,
		"gateway":          false,
		"route-table":      false,
		"firewall-rule":    false,
		"compute-instance": false,
	}
	for _, name := range names {
		if _, ok := want[name]; ok {
			want[name] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("built-in schema %q not listed", name)
		}
	}
}

func TestValidateWorkspaceSchema(t *testing.T) {
	registry := NewSchemaRegistry()
	ctx := context.Background()

	valid := map[string]interface{}{
		"name":       "production",
		"state_path": "state/prod.db",
		"bootstrap": map[string]interface{}{
			"tasklist": "playbooks/bootstrap.yaml",
			"role":     "web",
		},
	}
	if err := registry.ValidateAgainstSchema(ctx, "workspace", valid); err != nil {
		t.Errorf("valid workspace rejected: %v", err)
	}

	invalid := map[string]interface{}{"name": "has spaces"}
	if err := registry.ValidateAgainstSchema(ctx, "workspace", invalid); err == nil {
		t.Error("expected error for workspace name with spaces")
	}

	if err := registry.ValidateAgainstSchema(ctx, "no-such-schema", valid); err == nil {
		t.Error("expected error for unknown schema")
	}
}
