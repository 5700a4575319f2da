package policy

import (
	"time"
)

// BuiltinPolicies returns the policies compiled into the engine. They are
// always loaded; file-based policies are added on top of them.
func BuiltinPolicies() []Policy {
	return []Policy{
		protectedResourcesPolicy(),
		openIngressPolicy(),
		replacementOptInPolicy(),
		massDeletePolicy(),
	}
}

// protectedResourcesPolicy blocks deletion of resources that are marked
// protected in the declaration.
func protectedResourcesPolicy() Policy {
	return Policy{
		Name:        "protected-resources",
		Description: "Blocks delete and replacement operations on resources labeled protected",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"safety", "deletion"},
		LoadedAt:    time.Now(),
		Rego: `package groundwork.policies.protected

import rego.v1

deny contains violation if {
	some op in input.plan.operations
	op.type == "delete"
	resource := input.resources[op.resource_id]
	resource.labels.protected == "true"

	violation := {
		"message": sprintf("operation would delete protected resource %s", [op.resource_id]),
		"severity": "critical",
		"resource": op.resource_id,
	}
}

deny contains violation if {
	some op in input.plan.operations
	op.type == "create"
	op.replacement
	resource := input.resources[op.resource_id]
	resource.labels.protected == "true"

	violation := {
		"message": sprintf("operation would recreate protected resource %s", [op.resource_id]),
		"severity": "critical",
		"resource": op.resource_id,
	}
}`,
	}
}

// openIngressPolicy flags firewall rules that open sensitive ports to the
// whole internet.
func openIngressPolicy() Policy {
	return Policy{
		Name:        "open-ingress",
		Description: "Blocks firewall rules admitting 0.0.0.0/0 on administrative ports",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"network", "security"},
		LoadedAt:    time.Now(),
		Rego: `package groundwork.policies.ingress

import rego.v1

admin_ports := {22, 3389, 5985, 5986}

deny contains violation if {
	some op in input.plan.operations
	op.type in {"create", "update"}
	op.kind == "firewall-rule"
	props := op.desired.properties
	props.direction == "ingress"
	props.source == "0.0.0.0/0"
	some port in admin_ports
	port >= props.port_from
	port <= props.port_to

	violation := {
		"message": sprintf("firewall rule %s opens administrative port %d to 0.0.0.0/0", [op.resource_id, port]),
		"severity": "error",
		"resource": op.resource_id,
	}
}

deny contains violation if {
	some op in input.plan.operations
	op.type in {"create", "update"}
	op.kind == "firewall-rule"
	props := op.desired.properties
	props.direction == "ingress"
	props.source == "0.0.0.0/0"
	not admin_port_in_range(props)

	violation := {
		"message": sprintf("firewall rule %s admits 0.0.0.0/0 - review the exposed port range", [op.resource_id]),
		"severity": "warning",
		"resource": op.resource_id,
	}
}

admin_port_in_range(props) if {
	some port in admin_ports
	port >= props.port_from
	port <= props.port_to
}`,
	}
}

// replacementOptInPolicy requires an explicit label before a plan may
// recreate a resource over an immutable property change.
func replacementOptInPolicy() Policy {
	return Policy{
		Name:        "replacement-opt-in",
		Description: "Requires the allow-replace label on resources a plan would recreate",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety", "replacement"},
		LoadedAt:    time.Now(),
		Rego: `package groundwork.policies.replacement

import rego.v1

deny contains violation if {
	some op in input.plan.operations
	op.type == "create"
	op.replacement
	resource := input.resources[op.resource_id]
	not resource.labels["allow-replace"] == "true"

	violation := {
		"message": sprintf("plan recreates %s over an immutable property change; set label allow-replace=true to permit it", [op.resource_id]),
		"severity": "error",
		"resource": op.resource_id,
	}
}`,
	}
}

// massDeletePolicy warns when one plan removes many resources at once.
func massDeletePolicy() Policy {
	return Policy{
		Name:        "mass-delete",
		Description: "Warns when a single plan deletes more than three resources",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"safety", "deletion"},
		LoadedAt:    time.Now(),
		Rego: `package groundwork.policies.massdelete

import rego.v1

max_deletes := 3

deny contains violation if {
	not input.context.destroy
	deletes := count([op |
		some op in input.plan.operations
		op.type == "delete"
	])
	deletes > max_deletes

	violation := {
		"message": sprintf("plan deletes %d resources - review carefully", [deletes]),
		"severity": "warning",
	}
}`,
	}
}
