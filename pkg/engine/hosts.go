package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Host represents a managed host in the inventory.
type Host struct {
	// Name is the inventory name of the host, unique within the inventory.
	Name string `json:"name"`

	// Address is the IP address or hostname used to connect.
	Address string `json:"address"`

	// Port is the SSH port. Zero means the default port.
	Port int `json:"port,omitempty"`

	// User is the login user.
	User string `json:"user,omitempty"`

	// CredentialRef references the credential used to authenticate
	// ("file:<path>" or "env:<name>"). Secrets are referenced, never embedded.
	CredentialRef string `json:"credential_ref,omitempty"`

	// Become permits privilege elevation on this host. Tasks still request
	// elevation per action; this flag only allows it.
	Become bool `json:"become,omitempty"`

	// Labels are key-value pairs for selecting hosts.
	Labels map[string]string `json:"labels,omitempty"`

	// Vars are per-host variables exposed to guard expressions and
	// parameter expansion.
	Vars map[string]interface{} `json:"vars,omitempty"`
}

// Validate checks the host definition.
func (h *Host) Validate() error {
	if h.Name == "" {
		return NewPermanentError("host has empty name", nil).
			WithCode(ErrCodeValidation)
	}
	if h.Address == "" {
		return NewPermanentError("host has empty address", nil).
			WithCode(ErrCodeValidation).
			WithHost(h.Name)
	}
	if h.Port < 0 || h.Port > 65535 {
		return NewPermanentError(fmt.Sprintf("host has invalid port %d", h.Port), nil).
			WithCode(ErrCodeValidation).
			WithHost(h.Name)
	}
	return nil
}

// Endpoint returns the host's connection endpoint.
func (h *Host) Endpoint() Endpoint {
	return Endpoint{
		Address:       h.Address,
		Port:          h.Port,
		User:          h.User,
		CredentialRef: h.CredentialRef,
	}
}

// HostFromEndpoint builds an inventory host from a connection endpoint, as
// emitted by a compute-instance Create. The handoff bridge uses this to
// place new instances into their bootstrap role.
func HostFromEndpoint(name string, ep Endpoint) *Host {
	return &Host{
		Name:          name,
		Address:       ep.Address,
		Port:          ep.Port,
		User:          ep.User,
		CredentialRef: ep.CredentialRef,
		Become:        true,
	}
}

// Role is a named host group. Task lists target roles, never hosts directly.
type Role struct {
	// Name is the role name, unique within the inventory.
	Name string `json:"name"`

	// Hosts lists member host names in declaration order.
	Hosts []string `json:"hosts"`
}

// Inventory is the set of hosts and roles a task run operates on. It is
// loaded once at run start and treated as read-only for the duration of
// the run.
type Inventory struct {
	hosts map[string]*Host
	roles map[string]*Role

	// hostOrder preserves host declaration order for stable iteration.
	hostOrder []string
	roleOrder []string
}

// NewInventory creates an empty inventory.
func NewInventory() *Inventory {
	return &Inventory{
		hosts: make(map[string]*Host),
		roles: make(map[string]*Role),
	}
}

// AddHost adds a host to the inventory.
func (inv *Inventory) AddHost(host *Host) error {
	if err := host.Validate(); err != nil {
		return err
	}
	if _, exists := inv.hosts[host.Name]; exists {
		return NewPermanentError(fmt.Sprintf("duplicate host: %s", host.Name), nil).
			WithCode(ErrCodeValidation).
			WithHost(host.Name)
	}
	inv.hosts[host.Name] = host
	inv.hostOrder = append(inv.hostOrder, host.Name)
	return nil
}

// AddRole adds a role with the given member hosts. Members must already be
// in the inventory.
func (inv *Inventory) AddRole(name string, hostNames ...string) error {
	if name == "" {
		return NewPermanentError("role has empty name", nil).
			WithCode(ErrCodeValidation)
	}
	if _, exists := inv.roles[name]; exists {
		return NewPermanentError(fmt.Sprintf("duplicate role: %s", name), nil).
			WithCode(ErrCodeValidation)
	}
	for _, h := range hostNames {
		if _, ok := inv.hosts[h]; !ok {
			return NewPermanentError(
				fmt.Sprintf("role %s references unknown host %s", name, h), nil).
				WithCode(ErrCodeValidation).
				WithHost(h)
		}
	}
	members := make([]string, len(hostNames))
	copy(members, hostNames)
	inv.roles[name] = &Role{Name: name, Hosts: members}
	inv.roleOrder = append(inv.roleOrder, name)
	return nil
}

// Host returns the host with the given name, or nil.
func (inv *Inventory) Host(name string) *Host {
	return inv.hosts[name]
}

// Hosts returns all hosts in declaration order.
func (inv *Inventory) Hosts() []*Host {
	out := make([]*Host, 0, len(inv.hostOrder))
	for _, name := range inv.hostOrder {
		out = append(out, inv.hosts[name])
	}
	return out
}

// Role returns the role with the given name, or nil.
func (inv *Inventory) Role(name string) *Role {
	return inv.roles[name]
}

// Roles returns all roles in declaration order.
func (inv *Inventory) Roles() []*Role {
	out := make([]*Role, 0, len(inv.roleOrder))
	for _, name := range inv.roleOrder {
		out = append(out, inv.roles[name])
	}
	return out
}

// HostsInRole returns the member hosts of a role in declaration order.
func (inv *Inventory) HostsInRole(role string) []*Host {
	r := inv.roles[role]
	if r == nil {
		return nil
	}
	out := make([]*Host, 0, len(r.Hosts))
	for _, name := range r.Hosts {
		if h := inv.hosts[name]; h != nil {
			out = append(out, h)
		}
	}
	return out
}

// RolesOfHost returns the names of the roles the host belongs to, sorted.
func (inv *Inventory) RolesOfHost(host string) []string {
	out := make([]string, 0)
	for name, role := range inv.roles {
		for _, member := range role.Hosts {
			if member == host {
				out = append(out, name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// SelectHosts selects hosts by selector. A selector is "all" (or empty) for
// every host, a role name, or a label selector "key1=value1,key2=value2".
func (inv *Inventory) SelectHosts(selector string) ([]*Host, error) {
	if selector == "" || selector == "all" {
		return inv.Hosts(), nil
	}

	if role := inv.roles[selector]; role != nil {
		return inv.HostsInRole(selector), nil
	}

	if !strings.Contains(selector, "=") {
		return nil, NewPermanentError(fmt.Sprintf("unknown role: %s", selector), nil).
			WithCode(ErrCodeNotFound)
	}

	labels := parseSelector(selector)
	selected := make([]*Host, 0)
	for _, name := range inv.hostOrder {
		host := inv.hosts[name]
		if matchesLabels(host.Labels, labels) {
			selected = append(selected, host)
		}
	}
	return selected, nil
}

// Validate checks inventory consistency. Every host must belong to at
// least one role before task execution.
func (inv *Inventory) Validate() error {
	for _, name := range inv.hostOrder {
		if len(inv.RolesOfHost(name)) == 0 {
			return NewPermanentError(
				fmt.Sprintf("host %s belongs to no role", name), nil).
				WithCode(ErrCodeValidation).
				WithHost(name)
		}
	}
	return nil
}

// Len returns the number of hosts in the inventory.
func (inv *Inventory) Len() int {
	return len(inv.hosts)
}

// parseSelector parses a label selector string into a map.
// Format: "key1=value1,key2=value2"
func parseSelector(selector string) map[string]string {
	labels := make(map[string]string)

	if selector == "" || selector == "all" {
		return labels
	}

	pairs := strings.Split(selector, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			labels[key] = value
		}
	}

	return labels
}

// matchesLabels checks if host labels match the selector labels.
func matchesLabels(hostLabels, selectorLabels map[string]string) bool {
	if len(selectorLabels) == 0 {
		return true
	}

	for key, value := range selectorLabels {
		hostValue, ok := hostLabels[key]
		if !ok || hostValue != value {
			return false
		}
	}

	return true
}
