package engine

import (
	"context"
	"encoding/json"
	"time"
)

// Provider is the interface all resource providers implement. The engine
// routes each resource kind to exactly one provider through the registry;
// the same contract is served in-process (sim) and by WASM plugins.
type Provider interface {
	// Init initializes the provider with configuration.
	// This is called once when the provider is loaded.
	Init(ctx context.Context, config ProviderConfig) error

	// Read retrieves the current state of a resource from the backing system.
	Read(ctx context.Context, req ReadRequest) (*ReadResponse, error)

	// Plan lets the provider refine a pending diff, in particular whether
	// the change forces delete-and-recreate.
	Plan(ctx context.Context, req PlanRequest) (*PlanResponse, error)

	// Apply executes a Create or Update operation and returns the new state.
	Apply(ctx context.Context, req ApplyRequest) (*ApplyResponse, error)

	// Destroy removes the resource completely.
	Destroy(ctx context.Context, req DestroyRequest) (*DestroyResponse, error)

	// Validate validates declared properties against the provider's schema
	// before any plan is computed.
	Validate(ctx context.Context, kind Kind, properties map[string]interface{}) error

	// Schema returns the schema for this provider's resource kinds.
	Schema() (*ProviderSchema, error)

	// Metadata returns information about this provider.
	Metadata() ProviderMetadata

	// Close releases provider resources. Idempotent.
	Close(ctx context.Context) error
}

// ProviderConfig contains provider initialization configuration.
type ProviderConfig struct {
	// Name is the name of the provider.
	Name string `json:"name"`

	// Version is the version of the provider.
	Version string `json:"version"`

	// Config is provider-specific configuration.
	Config json.RawMessage `json:"config,omitempty"`

	// Capabilities are the capabilities granted to this provider.
	Capabilities []string `json:"capabilities,omitempty"`

	// WorkDir is the working directory for the provider.
	WorkDir string `json:"work_dir,omitempty"`

	// Timeout is the default timeout for provider operations.
	Timeout time.Duration `json:"timeout"`
}

// ReadRequest contains the parameters for a Read operation.
type ReadRequest struct {
	// ResourceID is the unique identifier of the resource.
	ResourceID string `json:"resource_id"`

	// Kind is the resource kind.
	Kind Kind `json:"kind"`

	// ProviderID is the provider-assigned identifier, when known.
	ProviderID string `json:"provider_id,omitempty"`

	// Properties is the last-known property mapping, to help the provider
	// locate the resource when no provider ID is recorded.
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// ReadResponse contains the result of a Read operation.
type ReadResponse struct {
	// Exists indicates whether the resource exists.
	Exists bool `json:"exists"`

	// ProviderID is the provider-assigned identifier of the resource.
	ProviderID string `json:"provider_id,omitempty"`

	// Properties is the actual property mapping observed.
	Properties map[string]interface{} `json:"properties,omitempty"`

	// Status is the provider's view of the resource status.
	Status ResourceStatus `json:"status,omitempty"`
}

// PlanRequest contains the parameters for a Plan operation.
type PlanRequest struct {
	// ResourceID is the unique identifier of the resource.
	ResourceID string `json:"resource_id"`

	// Kind is the resource kind.
	Kind Kind `json:"kind"`

	// DesiredProperties is the declared property mapping.
	DesiredProperties map[string]interface{} `json:"desired_properties"`

	// PriorState is the observed state before the operation. Nil for Create.
	PriorState *ObservedResource `json:"prior_state,omitempty"`

	// Operation is the operation type determined by the diff.
	Operation OperationType `json:"operation"`

	// Changes are the property changes computed by the diff.
	Changes []Change `json:"changes,omitempty"`
}

// PlanResponse contains the result of a Plan operation.
type PlanResponse struct {
	// RequiresRecreate indicates the resource must be recreated because a
	// change cannot be applied in place.
	RequiresRecreate bool `json:"requires_recreate"`

	// Warnings are non-fatal warnings about the plan.
	Warnings []string `json:"warnings,omitempty"`
}

// ApplyRequest contains the parameters for an Apply operation.
type ApplyRequest struct {
	// ResourceID is the unique identifier of the resource.
	ResourceID string `json:"resource_id"`

	// Kind is the resource kind.
	Kind Kind `json:"kind"`

	// Operation is Create or Update.
	Operation OperationType `json:"operation"`

	// DesiredProperties is the declared property mapping to realize.
	DesiredProperties map[string]interface{} `json:"desired_properties"`

	// PriorState is the observed state before the operation. Nil for Create.
	PriorState *ObservedResource `json:"prior_state,omitempty"`

	// PlannedChanges are the changes from the plan phase.
	PlannedChanges []Change `json:"planned_changes,omitempty"`
}

// ApplyResponse contains the result of an Apply operation.
type ApplyResponse struct {
	// ProviderID is the provider-assigned identifier after the operation.
	ProviderID string `json:"provider_id"`

	// Properties is the resulting property mapping, including computed
	// values. For a compute-instance Create this carries the connection
	// endpoint (address, ssh_port, ssh_user, credential_ref).
	Properties map[string]interface{} `json:"properties"`

	// Computed names the properties the provider computed. Computed
	// properties never count as drift when absent from the declaration.
	Computed []string `json:"computed,omitempty"`

	// Status is the resource status after the operation.
	Status ResourceStatus `json:"status,omitempty"`

	// Events are events that occurred during the operation.
	Events []ProviderEvent `json:"events,omitempty"`
}

// DestroyRequest contains the parameters for a Destroy operation.
type DestroyRequest struct {
	// ResourceID is the unique identifier of the resource.
	ResourceID string `json:"resource_id"`

	// Kind is the resource kind.
	Kind Kind `json:"kind"`

	// ProviderID is the provider-assigned identifier of the resource.
	ProviderID string `json:"provider_id,omitempty"`

	// Properties is the last-known property mapping.
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// DestroyResponse contains the result of a Destroy operation.
type DestroyResponse struct {
	// Success indicates whether the destruction was successful.
	Success bool `json:"success"`

	// Events are events that occurred during the operation.
	Events []ProviderEvent `json:"events,omitempty"`
}

// ProviderEvent represents an event emitted by a provider during execution.
type ProviderEvent struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Message is a human-readable message.
	Message string `json:"message"`

	// Data contains event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// ProviderSchema defines the schema for a provider's resource kinds.
type ProviderSchema struct {
	// Version is the schema version.
	Version string `json:"version"`

	// Kinds maps resource kinds to their schemas.
	Kinds map[Kind]*KindSchema `json:"kinds"`
}

// KindSchema defines the schema for one resource kind.
type KindSchema struct {
	// Kind is the resource kind this schema describes.
	Kind Kind `json:"kind"`

	// Description describes what this kind manages.
	Description string `json:"description"`

	// Required lists property names that must be declared.
	Required []string `json:"required,omitempty"`

	// Immutable lists provider-specific immutable properties, in addition
	// to the built-in tables. Changing one forces replacement.
	Immutable []string `json:"immutable,omitempty"`

	// PropertiesSchema is an optional JSON schema for the property mapping.
	PropertiesSchema json.RawMessage `json:"properties_schema,omitempty"`
}

// ProviderMetadata contains information about a provider.
type ProviderMetadata struct {
	// Name is the provider name.
	Name string `json:"name"`

	// Version is the provider version.
	Version string `json:"version"`

	// Description describes what this provider does.
	Description string `json:"description"`

	// Author is the provider author/maintainer.
	Author string `json:"author,omitempty"`

	// License is the provider license.
	License string `json:"license,omitempty"`

	// Repository is the source repository URL.
	Repository string `json:"repository,omitempty"`

	// Kinds lists the resource kinds this provider serves. The registry
	// routes on this list.
	Kinds []Kind `json:"kinds"`

	// RequiredCapabilities lists capabilities this provider needs.
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
}

// Serves reports whether the provider handles the given kind.
func (m ProviderMetadata) Serves(kind Kind) bool {
	for _, k := range m.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// ProviderCapability represents a capability that can be granted to providers.
type ProviderCapability string

const (
	// CapabilityNetOutbound allows outbound network connections.
	CapabilityNetOutbound ProviderCapability = "net:outbound"

	// CapabilityNetInbound allows inbound network connections.
	CapabilityNetInbound ProviderCapability = "net:inbound"

	// CapabilityFSTemp allows temporary file system access.
	CapabilityFSTemp ProviderCapability = "fs:temp"

	// CapabilityFSRead allows read-only file system access.
	CapabilityFSRead ProviderCapability = "fs:read"

	// CapabilityFSWrite allows write file system access.
	CapabilityFSWrite ProviderCapability = "fs:write"

	// CapabilityExecAgent allows delegating actions to the remote agent.
	CapabilityExecAgent ProviderCapability = "exec:agent"

	// CapabilityEnvRead allows reading environment variables.
	CapabilityEnvRead ProviderCapability = "env:read"

	// CapabilitySecretsRead allows reading secrets.
	CapabilitySecretsRead ProviderCapability = "secrets:read"
)

// ProviderManifest represents the manifest file for a provider plugin.
type ProviderManifest struct {
	// Metadata is provider metadata.
	Metadata ProviderMetadata `json:"metadata"`

	// Schema is the provider schema.
	Schema *ProviderSchema `json:"schema,omitempty"`

	// Entrypoint is the WASM module entrypoint.
	Entrypoint string `json:"entrypoint"`

	// Checksum is the SHA256 checksum of the WASM module.
	Checksum string `json:"checksum"`
}
