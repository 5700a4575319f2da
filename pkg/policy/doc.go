// Package policy gates plans with Open Policy Agent.
//
// Policies are Rego modules whose deny rules inspect a plan's operations
// and the declared resources they act on. They run between plan and
// apply: a violation with severity error or critical blocks the apply,
// lower severities surface as warnings.
//
// # Input
//
// Every policy is evaluated once per plan with this input document:
//
//	{
//	    "plan":      { "id": ..., "operations": [ ... ] },
//	    "resources": { "<resource-id>": { "kind": ..., "labels": ..., ... } },
//	    "context":   { "user": ..., "workspace": ..., "destroy": ... }
//	}
//
// A rule typically joins an operation back to its declaration:
//
//	package groundwork.policies.backup
//
//	import rego.v1
//
//	deny contains violation if {
//	    some op in input.plan.operations
//	    op.type == "create"
//	    op.kind == "compute-instance"
//	    resource := input.resources[op.resource_id]
//	    not resource.labels.backup
//
//	    violation := {
//	        "message": sprintf("instance %s has no backup label", [op.resource_id]),
//	        "severity": "error",
//	        "resource": op.resource_id,
//	    }
//	}
//
// # Builtins and file policies
//
// BuiltinPolicies are always loaded: protected-resources, open-ingress,
// replacement-opt-in, and mass-delete. File policies (.rego or .json)
// are loaded on top and may shadow a builtin by name. Rego files carry
// metadata in their leading comment block:
//
//	# description: blocks subnets wider than /16
//	# severity: error
//	# tags: network, sizing
//
// The loader can watch its source paths and recompile changed policies
// with a short debounce.
//
// Each policy's deny query is prepared once at load time and reused for
// every evaluation.
package policy
