package topology

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/groundworkhq/groundwork/pkg/engine"
)

// SchemaRegistry holds compiled CUE schemas for workspace blocks,
// resource declarations, and per-kind property sets. Definitions are
// closed, so undeclared properties are rejected.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a registry with all built-in schemas
// registered.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	sr.registerBuiltins()
	return sr
}

func (sr *SchemaRegistry) registerBuiltins() {
	builtins := map[string]string{
		"workspace":                        workspaceSchema,
		"resource":                         resourceSchema,
		string(engine.KindNetwork):         networkSchema,
		string(engine.KindSubnet):          subnetSchema,
		string(engine.KindGateway):         gatewaySchema,
		string(engine.KindRouteTable):      routeTableSchema,
		string(engine.KindFirewallRule):    firewallRuleSchema,
		string(engine.KindComputeInstance): computeInstanceSchema,
	}
	// Built-in schemas are constants covered by tests.
	for name, schema := range builtins {
		_ = sr.RegisterSchema(name, schema)
	}
}

// RegisterSchema compiles a schema source and stores its #Schema
// definition under the given name, replacing any existing entry.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.MakePath(cue.Def("#Schema")))
	if !def.Exists() {
		return fmt.Errorf("schema %s has no #Schema definition", name)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.schemas[name] = def
	return nil
}

// GetSchema returns a registered schema definition by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	schema, ok := sr.schemas[name]
	return schema, ok
}

// ListSchemas returns the names of all registered schemas, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateAgainstSchema checks data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, name string, data interface{}) error {
	schema, ok := sr.GetSchema(name)
	if !ok {
		return fmt.Errorf("schema not found: %s", name)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data for schema %s: %w", name, err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema %s: %w", name, err)
	}
	return nil
}

// ValidateProperties checks a resource's declared properties against
// the schema registered for its kind.
func (sr *SchemaRegistry) ValidateProperties(ctx context.Context, kind engine.Kind, props map[string]interface{}) error {
	if props == nil {
		props = map[string]interface{}{}
	}
	return sr.ValidateAgainstSchema(ctx, string(kind), props)
}

const cidrPattern = `=~"^([0-9]{1,3}\\.){3}[0-9]{1,3}/[0-9]{1,2}$"`

const workspaceSchema = `
#Schema: {
	name: string & =~"^[a-zA-Z0-9_-]+$"
	state_path?: string
	policy_paths?: [...string]
	bootstrap?: {
		tasklist:      string
		role:          string & =~"^[a-zA-Z0-9_-]+$"
		wait_timeout?: string
	}
}
`

const resourceSchema = `
#Schema: {
	id?:  string & =~"^[a-zA-Z0-9_-]+$"
	kind: "network" | "subnet" | "gateway" | "route-table" | "firewall-rule" | "compute-instance"
	properties: {...}
	depends_on?: [...string]
	labels?: {[string]: string}
	protect?: bool
}
`

const networkSchema = `
#Schema: {
	cidr:         string & ` + cidrPattern + `
	region?:      string
	mtu?:         int & >=576 & <=9216
	description?: string
}
`

const subnetSchema = `
#Schema: {
	network:      string
	cidr:         string & ` + cidrPattern + `
	zone?:        string
	description?: string
}
`

const gatewaySchema = `
#Schema: {
	network:      string
	type?:        "internet" | "nat"
	description?: string
}
`

const routeTableSchema = `
#Schema: {
	subnet: string
	routes?: [...{
		destination: string & ` + cidrPattern + `
		next_hop:    string
	}]
	description?: string
}
`

const firewallRuleSchema = `
#Schema: {
	network:      string
	direction:    "ingress" | "egress"
	protocol?:    "tcp" | "udp" | "icmp" | "any"
	port_range?:  string & =~"^[0-9]+(-[0-9]+)?$"
	source?:      string
	destination?: string
	description?: string
}
`

const computeInstanceSchema = `
#Schema: {
	subnet:          string
	image:           string
	size?:           string
	zone?:           string
	ssh_user?:       string
	ssh_port?:       int & >0 & <65536
	credential_ref?: string & =~"^(env|file):.+$"
	user_data?:      string
	description?:    string
}
`
