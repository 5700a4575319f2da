package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational findings.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed but do not
	// block an apply.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that block an apply.
	SeverityError Severity = "error"

	// SeverityCritical is for violations that block an apply and demand
	// immediate attention.
	SeverityCritical Severity = "critical"
)

// Blocks reports whether a violation of this severity prevents an apply.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Valid reports whether the severity is one of the known levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	default:
		return false
	}
}

// Policy is one named Rego policy evaluated against plans.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy source.
	Rego string `json:"rego"`

	// Severity is the default severity for violations that do not carry
	// their own.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is where the policy was loaded from. Empty for builtins.
	Source string `json:"source,omitempty"`

	// LoadedAt is when the policy was loaded or last reloaded.
	LoadedAt time.Time `json:"loaded_at"`
}

// Input is the document handed to policy evaluation. Rego rules see it
// as `input`.
type Input struct {
	// Plan is the execution plan under evaluation. Rules inspect
	// input.plan.operations.
	Plan interface{} `json:"plan"`

	// Resources maps resource IDs to their declared nodes, so rules can
	// join operations back to labels and properties.
	Resources map[string]interface{} `json:"resources"`

	// Context provides evaluation context.
	Context Context `json:"context"`
}

// Context provides context information for policy evaluation.
type Context struct {
	// User is the user initiating the apply.
	User string `json:"user,omitempty"`

	// Workspace is the workspace name from the topology.
	Workspace string `json:"workspace,omitempty"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// Destroy indicates the plan came from a destroy.
	Destroy bool `json:"destroy,omitempty"`
}

// Finding is one deny result produced by a policy rule before it is
// converted into an engine violation or warning.
type Finding struct {
	// Policy is the policy that produced the finding.
	Policy string `json:"policy"`

	// Message is the human-readable finding message.
	Message string `json:"message"`

	// Severity is the finding severity.
	Severity Severity `json:"severity"`

	// ResourceID is the resource the finding concerns, if any.
	ResourceID string `json:"resource_id,omitempty"`
}
