// Package inventory loads YAML host inventories into the engine's
// inventory form. Hosts carry connection endpoints and labels; roles
// group hosts for targeting, and every host must belong to at least
// one role. Credentials are referenced through env: or file: schemes,
// never embedded.
package inventory
