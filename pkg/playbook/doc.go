// Package playbook loads YAML task lists into the engine's task form
// and provides the Starlark guard evaluator the runner consults before
// acting on a host. Duration fields are Go duration strings; unknown
// YAML fields are rejected at parse time.
package playbook
