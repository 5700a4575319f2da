package engine

import (
	"testing"
)

func TestHost_Validate(t *testing.T) {
	valid := &Host{Name: "web-1", Address: "10.0.0.1"}
	if err := valid.Validate(); err != nil {
		t.Errorf("Expected valid host, got: %v", err)
	}

	cases := []struct {
		name string
		host Host
	}{
		{"empty name", Host{Address: "10.0.0.1"}},
		{"empty address", Host{Name: "web-1"}},
		{"negative port", Host{Name: "web-1", Address: "10.0.0.1", Port: -1}},
		{"port too large", Host{Name: "web-1", Address: "10.0.0.1", Port: 70000}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.host.Validate()
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !HasCode(err, ErrCodeValidation) {
				t.Errorf("Expected code %s, got: %v", ErrCodeValidation, err)
			}
		})
	}
}

func TestHost_Endpoint(t *testing.T) {
	host := &Host{
		Name:          "web-1",
		Address:       "10.0.0.1",
		Port:          2222,
		User:          "deploy",
		CredentialRef: "env:SSH_KEY",
	}

	ep := host.Endpoint()
	if ep.Address != "10.0.0.1" || ep.Port != 2222 || ep.User != "deploy" {
		t.Errorf("Unexpected endpoint: %+v", ep)
	}
	if ep.CredentialRef != "env:SSH_KEY" {
		t.Errorf("Expected credential reference preserved, got %s", ep.CredentialRef)
	}
}

func TestHostFromEndpoint(t *testing.T) {
	host := HostFromEndpoint("vm-web", Endpoint{
		Address: "203.0.113.4",
		Port:    22,
		User:    "admin",
	})

	if host.Name != "vm-web" || host.Address != "203.0.113.4" {
		t.Errorf("Unexpected host: %+v", host)
	}
	if !host.Become {
		t.Error("Expected bootstrap hosts to permit privilege elevation")
	}
}

func TestInventory_AddHost_Duplicate(t *testing.T) {
	inv := NewInventory()

	if err := inv.AddHost(&Host{Name: "web-1", Address: "10.0.0.1"}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	err := inv.AddHost(&Host{Name: "web-1", Address: "10.0.0.2"})
	if err == nil {
		t.Fatal("Expected error for duplicate host, got nil")
	}
	if !HasCode(err, ErrCodeValidation) {
		t.Errorf("Expected code %s, got: %v", ErrCodeValidation, err)
	}
}

func TestInventory_AddHost_Invalid(t *testing.T) {
	inv := NewInventory()

	if err := inv.AddHost(&Host{Name: "web-1"}); err == nil {
		t.Fatal("Expected error for host without address, got nil")
	}
}

func TestInventory_AddRole(t *testing.T) {
	inv := NewInventory()
	_ = inv.AddHost(&Host{Name: "web-1", Address: "10.0.0.1"})
	_ = inv.AddHost(&Host{Name: "web-2", Address: "10.0.0.2"})

	if err := inv.AddRole("web", "web-1", "web-2"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	role := inv.Role("web")
	if role == nil || len(role.Hosts) != 2 {
		t.Fatalf("Unexpected role: %+v", role)
	}
}

func TestInventory_AddRole_UnknownMember(t *testing.T) {
	inv := NewInventory()
	_ = inv.AddHost(&Host{Name: "web-1", Address: "10.0.0.1"})

	err := inv.AddRole("web", "web-1", "ghost")
	if err == nil {
		t.Fatal("Expected error for unknown member, got nil")
	}
	if !HasCode(err, ErrCodeValidation) {
		t.Errorf("Expected code %s, got: %v", ErrCodeValidation, err)
	}
}

func TestInventory_AddRole_Duplicate(t *testing.T) {
	inv := NewInventory()
	_ = inv.AddHost(&Host{Name: "web-1", Address: "10.0.0.1"})
	_ = inv.AddRole("web", "web-1")

	if err := inv.AddRole("web", "web-1"); err == nil {
		t.Fatal("Expected error for duplicate role, got nil")
	}
}

func TestInventory_Hosts_DeclarationOrder(t *testing.T) {
	inv := NewInventory()
	_ = inv.AddHost(&Host{Name: "zulu", Address: "10.0.0.3"})
	_ = inv.AddHost(&Host{Name: "alpha", Address: "10.0.0.1"})
	_ = inv.AddHost(&Host{Name: "mike", Address: "10.0.0.2"})

	hosts := inv.Hosts()
	want := []string{"zulu", "alpha", "mike"}
	for i, name := range want {
		if hosts[i].Name != name {
			t.Errorf("Expected %s at position %d, got %s", name, i, hosts[i].Name)
		}
	}
}

func TestInventory_SelectHosts_All(t *testing.T) {
	inv := NewInventory()
	_ = inv.AddHost(&Host{Name: "web-1", Address: "10.0.0.1"})
	_ = inv.AddHost(&Host{Name: "db-1", Address: "10.0.0.2"})

	for _, selector := range []string{"", "all"} {
		hosts, err := inv.SelectHosts(selector)
		if err != nil {
			t.Fatalf("Expected no error for %q, got: %v", selector, err)
		}
		if len(hosts) != 2 {
			t.Errorf("Expected 2 hosts for %q, got %d", selector, len(hosts))
		}
	}
}

func TestInventory_SelectHosts_Role(t *testing.T) {
	inv := NewInventory()
	_ = inv.AddHost(&Host{Name: "web-1", Address: "10.0.0.1"})
	_ = inv.AddHost(&Host{Name: "db-1", Address: "10.0.0.2"})
	_ = inv.AddRole("web", "web-1")

	hosts, err := inv.SelectHosts("web")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(hosts) != 1 || hosts[0].Name != "web-1" {
		t.Errorf("Unexpected selection: %+v", hosts)
	}
}

func TestInventory_SelectHosts_UnknownRole(t *testing.T) {
	inv := NewInventory()
	_ = inv.AddHost(&Host{Name: "web-1", Address: "10.0.0.1"})

	_, err := inv.SelectHosts("db")
	if err == nil {
		t.Fatal("Expected error for unknown role, got nil")
	}
	if !HasCode(err, ErrCodeNotFound) {
		t.Errorf("Expected code %s, got: %v", ErrCodeNotFound, err)
	}
}

func TestInventory_SelectHosts_Labels(t *testing.T) {
	inv := NewInventory()
	_ = inv.AddHost(&Host{Name: "web-1", Address: "10.0.0.1", Labels: map[string]string{"os": "debian", "tier": "edge"}})
	_ = inv.AddHost(&Host{Name: "web-2", Address: "10.0.0.2", Labels: map[string]string{"os": "debian", "tier": "core"}})
	_ = inv.AddHost(&Host{Name: "db-1", Address: "10.0.0.3", Labels: map[string]string{"os": "alma"}})

	hosts, err := inv.SelectHosts("os=debian")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(hosts) != 2 {
		t.Errorf("Expected 2 debian hosts, got %d", len(hosts))
	}

	hosts, err = inv.SelectHosts("os=debian,tier=edge")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(hosts) != 1 || hosts[0].Name != "web-1" {
		t.Errorf("Unexpected selection: %+v", hosts)
	}

	hosts, err = inv.SelectHosts("os=freebsd")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(hosts) != 0 {
		t.Errorf("Expected no matches, got %d", len(hosts))
	}
}

func TestInventory_RolesOfHost(t *testing.T) {
	inv := NewInventory()
	_ = inv.AddHost(&Host{Name: "web-1", Address: "10.0.0.1"})
	_ = inv.AddRole("web", "web-1")
	_ = inv.AddRole("all-servers", "web-1")
	_ = inv.AddRole("monitoring", "web-1")

	roles := inv.RolesOfHost("web-1")
	want := []string{"all-servers", "monitoring", "web"}
	if len(roles) != len(want) {
		t.Fatalf("Expected %d roles, got %v", len(want), roles)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Errorf("Expected sorted roles %v, got %v", want, roles)
			break
		}
	}
}

func TestInventory_Validate_HostWithoutRole(t *testing.T) {
	inv := NewInventory()
	_ = inv.AddHost(&Host{Name: "web-1", Address: "10.0.0.1"})
	_ = inv.AddHost(&Host{Name: "stray", Address: "10.0.0.9"})
	_ = inv.AddRole("web", "web-1")

	err := inv.Validate()
	if err == nil {
		t.Fatal("Expected error for host without role, got nil")
	}
	if !HasCode(err, ErrCodeValidation) {
		t.Errorf("Expected code %s, got: %v", ErrCodeValidation, err)
	}
}

func TestInventory_Validate_AllHostsInRoles(t *testing.T) {
	inv := NewInventory()
	_ = inv.AddHost(&Host{Name: "web-1", Address: "10.0.0.1"})
	_ = inv.AddRole("web", "web-1")

	if err := inv.Validate(); err != nil {
		t.Errorf("Expected valid inventory, got: %v", err)
	}
}
