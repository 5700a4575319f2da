package inventory

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/groundworkhq/groundwork/pkg/engine"
)

// InventoryDecl mirrors the YAML inventory document.
type InventoryDecl struct {
	// Hosts are the managed hosts in declaration order.
	Hosts []HostDecl `yaml:"hosts" json:"hosts" validate:"required,min=1,dive"`

	// Roles group hosts for targeting. Every host must belong to at
	// least one role.
	Roles []RoleDecl `yaml:"roles" json:"roles" validate:"required,min=1,dive"`
}

// HostDecl is one host as written in YAML.
type HostDecl struct {
	Name          string                 `yaml:"name" json:"name" validate:"required"`
	Address       string                 `yaml:"address" json:"address" validate:"required"`
	Port          int                    `yaml:"port,omitempty" json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	User          string                 `yaml:"user,omitempty" json:"user,omitempty"`
	CredentialRef string                 `yaml:"credential_ref,omitempty" json:"credential_ref,omitempty"`
	Become        bool                   `yaml:"become,omitempty" json:"become,omitempty"`
	Labels        map[string]string      `yaml:"labels,omitempty" json:"labels,omitempty"`
	Vars          map[string]interface{} `yaml:"vars,omitempty" json:"vars,omitempty"`
}

// RoleDecl is one role as written in YAML.
type RoleDecl struct {
	Name  string   `yaml:"name" json:"name" validate:"required"`
	Hosts []string `yaml:"hosts" json:"hosts" validate:"required,min=1"`
}

// ToInventory converts the declaration into the engine's inventory form.
func (d *InventoryDecl) ToInventory() (*engine.Inventory, error) {
	inv := engine.NewInventory()

	for i := range d.Hosts {
		decl := &d.Hosts[i]
		if err := validateCredentialRef(decl.CredentialRef); err != nil {
			return nil, fmt.Errorf("host %s: %w", decl.Name, err)
		}
		host := &engine.Host{
			Name:          decl.Name,
			Address:       decl.Address,
			Port:          decl.Port,
			User:          decl.User,
			CredentialRef: decl.CredentialRef,
			Become:        decl.Become,
			Labels:        decl.Labels,
			Vars:          decl.Vars,
		}
		if err := inv.AddHost(host); err != nil {
			return nil, err
		}
	}

	for i := range d.Roles {
		if err := inv.AddRole(d.Roles[i].Name, d.Roles[i].Hosts...); err != nil {
			return nil, err
		}
	}

	if err := inv.Validate(); err != nil {
		return nil, err
	}
	return inv, nil
}

// validateCredentialRef enforces that credentials are referenced, not
// embedded: only "env:<name>" and "file:<path>" schemes are accepted.
func validateCredentialRef(ref string) error {
	if ref == "" {
		return nil
	}
	if strings.HasPrefix(ref, "env:") || strings.HasPrefix(ref, "file:") {
		if len(ref) <= strings.Index(ref, ":")+1 {
			return fmt.Errorf("credential_ref %q has an empty target", ref)
		}
		return nil
	}
	return fmt.Errorf("credential_ref %q must use the env: or file: scheme", ref)
}

// Loader parses YAML inventories.
type Loader struct {
	validator *validator.Validate
}

// NewLoader creates an inventory loader.
func NewLoader() *Loader {
	return &Loader{validator: validator.New()}
}

// Load reads and parses an inventory file.
func (l *Loader) Load(path string) (*engine.Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory %s: %w", path, err)
	}
	inv, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("inventory %s: %w", path, err)
	}
	return inv, nil
}

// Parse parses an inventory from YAML bytes. Unknown fields are
// rejected so typos do not silently drop settings.
func (l *Loader) Parse(data []byte) (*engine.Inventory, error) {
	var decl InventoryDecl
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&decl); err != nil {
		return nil, fmt.Errorf("failed to parse inventory YAML: %w", err)
	}

	if err := l.validator.Struct(decl); err != nil {
		return nil, fmt.Errorf("invalid inventory: %w", err)
	}

	return decl.ToInventory()
}
