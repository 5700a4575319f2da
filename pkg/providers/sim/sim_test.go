package sim

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/groundworkhq/groundwork/pkg/engine"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	p := New(zerolog.Nop())
	if err := p.Init(context.Background(), engine.ProviderConfig{Name: ProviderName}); err != nil {
		t.Fatalf("failed to init provider: %v", err)
	}
	return p
}

func createNetwork(t *testing.T, p *Provider, id string) *engine.ApplyResponse {
	t.Helper()
	resp, err := p.Apply(context.Background(), engine.ApplyRequest{
		ResourceID:        id,
		Kind:              engine.KindNetwork,
		Operation:         engine.OperationCreate,
		DesiredProperties: map[string]interface{}{"cidr": "10.0.0.0/16"},
	})
	if err != nil {
		t.Fatalf("failed to create network: %v", err)
	}
	return resp
}

func TestCreateNetwork(t *testing.T) {
	p := newTestProvider(t)

	resp := createNetwork(t, p, "net")
	if resp.ProviderID != "sim-network-0001" {
		t.Errorf("expected provider ID 'sim-network-0001', got '%s'", resp.ProviderID)
	}
	if resp.Status != engine.ResourceStatusReady {
		t.Errorf("expected status ready, got %s", resp.Status)
	}

	read, err := p.Read(context.Background(), engine.ReadRequest{ResourceID: "net", Kind: engine.KindNetwork})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !read.Exists {
		t.Fatal("expected resource to exist after create")
	}
	if read.Properties["cidr"] != "10.0.0.0/16" {
		t.Errorf("expected cidr preserved, got %v", read.Properties["cidr"])
	}
}

func TestCreateDuplicate(t *testing.T) {
	p := newTestProvider(t)
	createNetwork(t, p, "net")

	_, err := p.Apply(context.Background(), engine.ApplyRequest{
		ResourceID:        "net",
		Kind:              engine.KindNetwork,
		Operation:         engine.OperationCreate,
		DesiredProperties: map[string]interface{}{"cidr": "10.1.0.0/16"},
	})
	if err == nil {
		t.Fatal("expected error for duplicate create, got nil")
	}
	if !engine.HasCode(err, engine.ErrCodeAlreadyExists) {
		t.Errorf("expected ALREADY_EXISTS, got %v", err)
	}
}

func TestComputeInstanceEndpoint(t *testing.T) {
	p := newTestProvider(t)

	resp, err := p.Apply(context.Background(), engine.ApplyRequest{
		ResourceID: "vm",
		Kind:       engine.KindComputeInstance,
		Operation:  engine.OperationCreate,
		DesiredProperties: map[string]interface{}{
			"subnet":         "subnet-1",
			"image":          "debian-12",
			"zone":           "a",
			"credential_ref": "env:VM_KEY",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ep, ok := engine.EndpointFromProperties(resp.Properties)
	if !ok {
		t.Fatal("expected compute-instance create to emit an endpoint")
	}
	if ep.Address == "" {
		t.Error("expected an address")
	}
	if ep.Port != 22 {
		t.Errorf("expected ssh port 22, got %d", ep.Port)
	}
	if ep.User != "root" {
		t.Errorf("expected default ssh user 'root', got '%s'", ep.User)
	}
	if ep.CredentialRef != "env:VM_KEY" {
		t.Errorf("expected credential ref passed through, got '%s'", ep.CredentialRef)
	}

	computed := map[string]bool{}
	for _, name := range resp.Computed {
		computed[name] = true
	}
	if !computed["address"] || !computed["ssh_port"] {
		t.Errorf("expected address and ssh_port marked computed, got %v", resp.Computed)
	}
}

func TestDeterministicIDs(t *testing.T) {
	first := newTestProvider(t)
	second := newTestProvider(t)

	for _, p := range []*Provider{first, second} {
		createNetwork(t, p, "net")
		if _, err := p.Apply(context.Background(), engine.ApplyRequest{
			ResourceID: "subnet",
			Kind:       engine.KindSubnet,
			Operation:  engine.OperationCreate,
			DesiredProperties: map[string]interface{}{
				"network": "net", "cidr": "10.0.1.0/24", "zone": "a",
			},
		}); err != nil {
			t.Fatalf("failed to create subnet: %v", err)
		}
	}

	a, _ := first.Read(context.Background(), engine.ReadRequest{ResourceID: "subnet"})
	b, _ := second.Read(context.Background(), engine.ReadRequest{ResourceID: "subnet"})
	if a.ProviderID != b.ProviderID {
		t.Errorf("expected identical provider IDs across fresh providers, got %s and %s",
			a.ProviderID, b.ProviderID)
	}
}

func TestUpdateKeepsComputedProperties(t *testing.T) {
	p := newTestProvider(t)

	created, err := p.Apply(context.Background(), engine.ApplyRequest{
		ResourceID: "vm",
		Kind:       engine.KindComputeInstance,
		Operation:  engine.OperationCreate,
		DesiredProperties: map[string]interface{}{
			"subnet": "subnet-1", "image": "debian-12", "zone": "a",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updated, err := p.Apply(context.Background(), engine.ApplyRequest{
		ResourceID: "vm",
		Kind:       engine.KindComputeInstance,
		Operation:  engine.OperationUpdate,
		DesiredProperties: map[string]interface{}{
			"subnet": "subnet-1", "image": "debian-12", "zone": "a",
			"labels": map[string]interface{}{"tier": "web"},
		},
		PlannedChanges: []engine.Change{{Path: ".labels", Action: engine.ChangeActionAdd}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Properties["address"] != created.Properties["address"] {
		t.Errorf("expected computed address to survive update, got %v", updated.Properties["address"])
	}
}

func TestUpdateImmutableProperty(t *testing.T) {
	p := newTestProvider(t)
	createNetwork(t, p, "net")

	_, err := p.Apply(context.Background(), engine.ApplyRequest{
		ResourceID:        "net",
		Kind:              engine.KindNetwork,
		Operation:         engine.OperationUpdate,
		DesiredProperties: map[string]interface{}{"cidr": "10.9.0.0/16"},
		PlannedChanges:    []engine.Change{{Path: ".cidr", Action: engine.ChangeActionModify}},
	})
	if err == nil {
		t.Fatal("expected error for in-place immutable change, got nil")
	}
	if !engine.HasCode(err, engine.ErrCodeReplacement) {
		t.Errorf("expected REPLACEMENT_REQUIRED, got %v", err)
	}
}

func TestPlanRequiresRecreate(t *testing.T) {
	p := newTestProvider(t)

	resp, err := p.Plan(context.Background(), engine.PlanRequest{
		ResourceID: "net",
		Kind:       engine.KindNetwork,
		Operation:  engine.OperationUpdate,
		Changes:    []engine.Change{{Path: ".cidr", Action: engine.ChangeActionModify}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.RequiresRecreate {
		t.Error("expected cidr change to require recreate")
	}

	resp, err = p.Plan(context.Background(), engine.PlanRequest{
		ResourceID: "net",
		Kind:       engine.KindNetwork,
		Operation:  engine.OperationUpdate,
		Changes:    []engine.Change{{Path: ".labels", Action: engine.ChangeActionModify}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.RequiresRecreate {
		t.Error("expected label change to update in place")
	}
}

func TestDestroyIdempotent(t *testing.T) {
	p := newTestProvider(t)
	createNetwork(t, p, "net")

	for i := 0; i < 2; i++ {
		resp, err := p.Destroy(context.Background(), engine.DestroyRequest{ResourceID: "net", Kind: engine.KindNetwork})
		if err != nil {
			t.Fatalf("unexpected error on destroy %d: %v", i, err)
		}
		if !resp.Success {
			t.Errorf("expected destroy %d to succeed", i)
		}
	}

	read, _ := p.Read(context.Background(), engine.ReadRequest{ResourceID: "net"})
	if read.Exists {
		t.Error("expected resource gone after destroy")
	}
}

func TestValidate(t *testing.T) {
	p := newTestProvider(t)

	tests := []struct {
		name        string
		kind        engine.Kind
		props       map[string]interface{}
		expectError bool
	}{
		{
			name:  "valid network",
			kind:  engine.KindNetwork,
			props: map[string]interface{}{"cidr": "10.0.0.0/16"},
		},
		{
			name:        "network missing cidr",
			kind:        engine.KindNetwork,
			props:       map[string]interface{}{},
			expectError: true,
		},
		{
			name:        "subnet missing zone",
			kind:        engine.KindSubnet,
			props:       map[string]interface{}{"network": "net", "cidr": "10.0.1.0/24"},
			expectError: true,
		},
		{
			name: "valid firewall rule",
			kind: engine.KindFirewallRule,
			props: map[string]interface{}{
				"network": "net", "direction": "ingress",
			},
		},
		{
			name: "firewall rule bad direction",
			kind: engine.KindFirewallRule,
			props: map[string]interface{}{
				"network": "net", "direction": "sideways",
			},
			expectError: true,
		},
		{
			name:        "unknown kind",
			kind:        engine.Kind("load-balancer"),
			props:       map[string]interface{}{},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Validate(context.Background(), tt.kind, tt.props)
			if tt.expectError && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("expected no error, got: %v", err)
			}
			if tt.expectError && err != nil && !engine.HasCode(err, engine.ErrCodeValidation) {
				t.Errorf("expected VALIDATION_ERROR, got %v", err)
			}
		})
	}
}

func TestSchemaAndMetadata(t *testing.T) {
	p := New(zerolog.Nop())

	schema, err := p.Schema()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(schema.Kinds) != len(engine.Kinds()) {
		t.Errorf("expected schema for %d kinds, got %d", len(engine.Kinds()), len(schema.Kinds))
	}
	net := schema.Kinds[engine.KindNetwork]
	if net == nil {
		t.Fatal("expected network schema")
	}
	found := false
	for _, prop := range net.Immutable {
		if prop == "cidr" {
			found = true
		}
	}
	if !found {
		t.Error("expected cidr listed immutable for network")
	}

	meta := p.Metadata()
	if meta.Name != ProviderName {
		t.Errorf("expected name '%s', got '%s'", ProviderName, meta.Name)
	}
	if !meta.Serves(engine.KindComputeInstance) {
		t.Error("expected sim to serve compute-instance")
	}
}
