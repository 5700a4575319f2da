// Package sim is a deterministic in-process provider. It serves every
// resource kind against an in-memory cloud so plans, applies, and the
// handoff bridge can be exercised without a real backend. Test suites
// and the default workspace setup both run on it.
package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/groundworkhq/groundwork/pkg/engine"
)

// ProviderName is the registered name of the sim provider.
const ProviderName = "sim"

// ProviderVersion follows the module release.
const ProviderVersion = "1.0.0"

// requiredProperties lists the properties each kind must declare.
var requiredProperties = map[engine.Kind][]string{
	engine.KindNetwork:         {"cidr"},
	engine.KindSubnet:          {"network", "cidr", "zone"},
	engine.KindGateway:         {"network"},
	engine.KindRouteTable:      {"subnet"},
	engine.KindFirewallRule:    {"network", "direction"},
	engine.KindComputeInstance: {"subnet", "image", "zone"},
}

// record is one simulated resource.
type record struct {
	providerID string
	kind       engine.Kind
	properties map[string]interface{}
	computed   []string
}

// Provider simulates a strongly consistent cloud. Provider IDs and
// computed instance endpoints are deterministic in creation order, so
// repeated runs against a fresh provider produce identical state.
type Provider struct {
	logger zerolog.Logger

	mu          sync.Mutex
	initialized bool
	state       map[string]*record
	sequence    int
}

// New creates an empty sim provider.
func New(logger zerolog.Logger) *Provider {
	return &Provider{
		logger: logger.With().Str("provider", ProviderName).Logger(),
		state:  make(map[string]*record),
	}
}

// Init initializes the provider.
func (p *Provider) Init(ctx context.Context, config engine.ProviderConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return fmt.Errorf("provider already initialized")
	}
	p.initialized = true
	return nil
}

// Read retrieves the current state of a resource.
func (p *Provider) Read(ctx context.Context, req engine.ReadRequest) (*engine.ReadResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.state[req.ResourceID]
	if !ok {
		return &engine.ReadResponse{Exists: false}, nil
	}
	return &engine.ReadResponse{
		Exists:     true,
		ProviderID: rec.providerID,
		Properties: copyProperties(rec.properties),
		Status:     engine.ResourceStatusReady,
	}, nil
}

// Plan refines a pending diff. The sim cloud can update anything in
// place except the built-in immutable properties.
func (p *Provider) Plan(ctx context.Context, req engine.PlanRequest) (*engine.PlanResponse, error) {
	resp := &engine.PlanResponse{}
	for _, change := range req.Changes {
		if engine.IsImmutableProperty(req.Kind, propertyName(change)) {
			resp.RequiresRecreate = true
			break
		}
	}
	return resp, nil
}

// Apply executes a Create or Update.
func (p *Provider) Apply(ctx context.Context, req engine.ApplyRequest) (*engine.ApplyResponse, error) {
	if err := p.Validate(ctx, req.Kind, req.DesiredProperties); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch req.Operation {
	case engine.OperationCreate:
		if _, exists := p.state[req.ResourceID]; exists {
			return nil, engine.NewConflictError(
				fmt.Sprintf("resource %s already exists", req.ResourceID), nil).
				WithCode(engine.ErrCodeAlreadyExists).
				WithResource(req.ResourceID)
		}
		return p.create(req)

	case engine.OperationUpdate:
		rec, exists := p.state[req.ResourceID]
		if !exists {
			return nil, engine.NewPermanentError(
				fmt.Sprintf("resource %s not found", req.ResourceID), nil).
				WithCode(engine.ErrCodeNotFound).
				WithResource(req.ResourceID)
		}
		return p.update(rec, req)

	default:
		return nil, engine.NewPermanentError(
			fmt.Sprintf("apply does not support operation %s", req.Operation), nil).
			WithCode(engine.ErrCodeValidation).
			WithResource(req.ResourceID)
	}
}

// create realizes a new resource. Caller holds the lock.
func (p *Provider) create(req engine.ApplyRequest) (*engine.ApplyResponse, error) {
	p.sequence++
	rec := &record{
		providerID: fmt.Sprintf("sim-%s-%04d", req.Kind, p.sequence),
		kind:       req.Kind,
		properties: copyProperties(req.DesiredProperties),
	}

	if req.Kind == engine.KindComputeInstance {
		// Deterministic endpoint from the creation sequence. The handoff
		// bridge reads these to bootstrap the instance.
		rec.properties["address"] = fmt.Sprintf("203.0.113.%d", 10+p.sequence%240)
		rec.properties["ssh_port"] = 22
		if _, ok := rec.properties["ssh_user"]; !ok {
			rec.properties["ssh_user"] = "root"
		}
		rec.computed = []string{"address", "ssh_port", "ssh_user"}
	}

	p.state[req.ResourceID] = rec
	p.logger.Debug().
		Str("resource", req.ResourceID).
		Str("provider_id", rec.providerID).
		Msg("created resource")

	return &engine.ApplyResponse{
		ProviderID: rec.providerID,
		Properties: copyProperties(rec.properties),
		Computed:   append([]string(nil), rec.computed...),
		Status:     engine.ResourceStatusReady,
	}, nil
}

// update applies declared properties over the existing record, keeping
// computed values. Caller holds the lock.
func (p *Provider) update(rec *record, req engine.ApplyRequest) (*engine.ApplyResponse, error) {
	for _, change := range req.PlannedChanges {
		if name := propertyName(change); engine.IsImmutableProperty(req.Kind, name) {
			return nil, engine.NewPermanentError(
				fmt.Sprintf("property %s of %s cannot change in place", name, req.ResourceID), nil).
				WithCode(engine.ErrCodeReplacement).
				WithResource(req.ResourceID)
		}
	}

	computed := make(map[string]interface{}, len(rec.computed))
	for _, name := range rec.computed {
		computed[name] = rec.properties[name]
	}
	rec.properties = copyProperties(req.DesiredProperties)
	for name, value := range computed {
		rec.properties[name] = value
	}

	p.logger.Debug().Str("resource", req.ResourceID).Msg("updated resource")

	return &engine.ApplyResponse{
		ProviderID: rec.providerID,
		Properties: copyProperties(rec.properties),
		Computed:   append([]string(nil), rec.computed...),
		Status:     engine.ResourceStatusReady,
	}, nil
}

// Destroy removes the resource. Destroying a resource that is already
// gone succeeds.
func (p *Provider) Destroy(ctx context.Context, req engine.DestroyRequest) (*engine.DestroyResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.state[req.ResourceID]; ok {
		delete(p.state, req.ResourceID)
		p.logger.Debug().Str("resource", req.ResourceID).Msg("destroyed resource")
	}
	return &engine.DestroyResponse{Success: true}, nil
}

// Validate checks declared properties against the kind's requirements.
func (p *Provider) Validate(ctx context.Context, kind engine.Kind, properties map[string]interface{}) error {
	if err := kind.Validate(); err != nil {
		return engine.NewPermanentError("unknown resource kind", err).
			WithCode(engine.ErrCodeValidation)
	}

	var missing []string
	for _, name := range requiredProperties[kind] {
		value, ok := properties[name]
		if !ok || value == nil || value == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return engine.NewPermanentError(
			fmt.Sprintf("kind %s is missing required properties %v", kind, missing), nil).
			WithCode(engine.ErrCodeValidation)
	}

	if kind == engine.KindFirewallRule {
		if dir, _ := properties["direction"].(string); dir != "ingress" && dir != "egress" {
			return engine.NewPermanentError(
				fmt.Sprintf("firewall-rule direction must be ingress or egress, got %q", dir), nil).
				WithCode(engine.ErrCodeValidation)
		}
	}
	return nil
}

// Schema returns the schema for every kind the sim provider serves.
func (p *Provider) Schema() (*engine.ProviderSchema, error) {
	kinds := make(map[engine.Kind]*engine.KindSchema, len(requiredProperties))
	for _, kind := range engine.Kinds() {
		kinds[kind] = &engine.KindSchema{
			Kind:        kind,
			Description: fmt.Sprintf("simulated %s", kind),
			Required:    append([]string(nil), requiredProperties[kind]...),
			Immutable:   engine.ImmutableProperties(kind),
		}
	}
	return &engine.ProviderSchema{Version: "1", Kinds: kinds}, nil
}

// Metadata returns the provider metadata.
func (p *Provider) Metadata() engine.ProviderMetadata {
	return engine.ProviderMetadata{
		Name:        ProviderName,
		Version:     ProviderVersion,
		Description: "deterministic in-memory cloud for development and tests",
		Kinds:       engine.Kinds(),
	}
}

// Close releases the provider. The simulated state is discarded.
func (p *Provider) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = make(map[string]*record)
	p.initialized = false
	return nil
}

// propertyName strips the leading dot from a change path.
func propertyName(c engine.Change) string {
	name := c.Path
	if len(name) > 0 && name[0] == '.' {
		name = name[1:]
	}
	return name
}

func copyProperties(props map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
