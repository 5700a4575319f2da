package topology

import (
	"fmt"
	"time"

	"github.com/groundworkhq/groundwork/pkg/engine"
)

// ResourceDecl is a single resource declaration as written in a topology
// document, before conversion into the engine's node form.
type ResourceDecl struct {
	// ID is the unique identifier for this resource (e.g., "net-prod").
	ID string `json:"id" validate:"required"`

	// Kind is the resource kind.
	Kind string `json:"kind" validate:"required,oneof=network subnet gateway route-table firewall-rule compute-instance"`

	// Properties is the declared property mapping.
	Properties map[string]interface{} `json:"properties" validate:"required"`

	// DependsOn lists resource IDs that must exist before this resource.
	DependsOn []string `json:"depends_on,omitempty"`

	// Labels are key-value pairs for organizing and selecting resources.
	Labels map[string]string `json:"labels,omitempty"`

	// Protect prevents delete and replacement operations for this resource.
	Protect bool `json:"protect,omitempty"`
}

// WorkspaceDecl is the workspace block of a topology document.
type WorkspaceDecl struct {
	// Name is the workspace name.
	Name string `json:"name" validate:"required"`

	// StatePath is the state database location.
	StatePath string `json:"state_path,omitempty"`

	// PolicyPaths are policy files or directories evaluated before apply.
	PolicyPaths []string `json:"policy_paths,omitempty"`

	// Bootstrap binds a task list to compute-instance creations.
	Bootstrap *BootstrapDecl `json:"bootstrap,omitempty"`
}

// BootstrapDecl configures the handoff from instance creation to the
// task runner.
type BootstrapDecl struct {
	// Tasklist is the path of the task list to run on new instances.
	Tasklist string `json:"tasklist" validate:"required"`

	// Role is the role name new instances are placed into.
	Role string `json:"role" validate:"required"`

	// WaitTimeout bounds the initial reachability wait, as a Go duration
	// string (e.g., "10m").
	WaitTimeout string `json:"wait_timeout,omitempty"`
}

// ParsedTopology is the raw result of parsing topology sources.
type ParsedTopology struct {
	// Workspace is the workspace configuration.
	Workspace WorkspaceDecl `json:"workspace"`

	// Variables are workspace variables merged into the declaration.
	Variables map[string]interface{} `json:"variables,omitempty"`

	// Resources are the declared resources in declaration order.
	Resources []ResourceDecl `json:"resources"`

	// SourceFiles are the CUE files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the topology was parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists any validation errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the CUE path to the error (e.g., "resources.net-prod").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity"`
}

// ToTopology converts the parsed declaration into the engine's topology
// form. Positions follow declaration order; they break ties during
// topological ordering so plans are reproducible.
func (pt *ParsedTopology) ToTopology() (*engine.Topology, error) {
	resources := make([]engine.ResourceNode, len(pt.Resources))
	for i, decl := range pt.Resources {
		resources[i] = engine.ResourceNode{
			ID:         decl.ID,
			Kind:       engine.Kind(decl.Kind),
			Properties: decl.Properties,
			DependsOn:  decl.DependsOn,
			Labels:     decl.Labels,
			Protect:    decl.Protect,
			Position:   i,
		}
	}

	settings := engine.WorkspaceSettings{
		Name:        pt.Workspace.Name,
		StatePath:   pt.Workspace.StatePath,
		PolicyPaths: pt.Workspace.PolicyPaths,
	}
	if pt.Workspace.Bootstrap != nil {
		binding := &engine.BootstrapBinding{
			Tasklist: pt.Workspace.Bootstrap.Tasklist,
			Role:     pt.Workspace.Bootstrap.Role,
		}
		if raw := pt.Workspace.Bootstrap.WaitTimeout; raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid bootstrap wait_timeout %q: %w", raw, err)
			}
			binding.WaitTimeout = d
		}
		settings.Bootstrap = binding
	}

	return &engine.Topology{
		Source:    formatSourceFiles(pt.SourceFiles),
		ParsedAt:  pt.ParsedAt,
		Resources: resources,
		Variables: pt.Variables,
		Workspace: settings,
	}, nil
}

// formatSourceFiles formats source files for display.
func formatSourceFiles(files []string) string {
	if len(files) == 0 {
		return "inline"
	}
	if len(files) == 1 {
		return files[0]
	}
	return fmt.Sprintf("%s (+%d more)", files[0], len(files)-1)
}
