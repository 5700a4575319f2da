package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/groundworkhq/groundwork/pkg/agent/protocol"
)

// ServiceEnsureHandler converges a systemd unit onto a desired run
// state and boot enablement.
type ServiceEnsureHandler struct{}

// Handle applies the requested state. Restarts and reloads always run
// and always count as a change; start, stop and enablement are
// idempotent against the unit's current state.
func (h *ServiceEnsureHandler) Handle(ctx context.Context, params *protocol.ServiceEnsureParams, eventCh chan<- *protocol.EventMessage) (*protocol.ServiceEnsureResult, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("service name is required")
	}
	if params.State == "" && params.Enabled == nil {
		return nil, fmt.Errorf("state or enabled is required")
	}

	active := h.isActive(ctx, params.Name)
	enabled := h.isEnabled(ctx, params.Name)

	result := &protocol.ServiceEnsureResult{}

	switch params.State {
	case "":
		// Enablement-only change.
	case "started":
		if active {
			result.Actions = append(result.Actions, "already-started")
		} else {
			if err := h.systemctl(ctx, params.Become, "start", params.Name); err != nil {
				return nil, err
			}
			result.Actions = append(result.Actions, "started")
			result.Changed = true
		}
	case "stopped":
		if !active {
			result.Actions = append(result.Actions, "already-stopped")
		} else {
			if err := h.systemctl(ctx, params.Become, "stop", params.Name); err != nil {
				return nil, err
			}
			result.Actions = append(result.Actions, "stopped")
			result.Changed = true
		}
	case "restarted":
		if err := h.systemctl(ctx, params.Become, "restart", params.Name); err != nil {
			return nil, err
		}
		result.Actions = append(result.Actions, "restarted")
		result.Changed = true
	case "reloaded":
		if err := h.systemctl(ctx, params.Become, "reload", params.Name); err != nil {
			return nil, err
		}
		result.Actions = append(result.Actions, "reloaded")
		result.Changed = true
	default:
		return nil, fmt.Errorf("invalid service state: %q", params.State)
	}

	if params.Enabled != nil && *params.Enabled != enabled {
		verb := "enable"
		if !*params.Enabled {
			verb = "disable"
		}
		if err := h.systemctl(ctx, params.Become, verb, params.Name); err != nil {
			return nil, err
		}
		result.Actions = append(result.Actions, verb+"d")
		result.Changed = true
	}

	result.ActiveState = h.activeState(ctx, params.Name)
	result.Enabled = h.isEnabled(ctx, params.Name)
	return result, nil
}

func (h *ServiceEnsureHandler) systemctl(ctx context.Context, become bool, verb, name string) error {
	if _, err := runCmd(ctx, become, "systemctl", verb, name); err != nil {
		return fmt.Errorf("failed to %s %s: %w", verb, name, err)
	}
	return nil
}

// isActive probes the unit's run state. is-active exits non-zero for
// anything but active.
func (h *ServiceEnsureHandler) isActive(ctx context.Context, name string) bool {
	out, err := runCmd(ctx, false, "systemctl", "is-active", name)
	return err == nil && out == "active"
}

func (h *ServiceEnsureHandler) isEnabled(ctx context.Context, name string) bool {
	out, err := runCmd(ctx, false, "systemctl", "is-enabled", name)
	return err == nil && out == "enabled"
}

func (h *ServiceEnsureHandler) activeState(ctx context.Context, name string) string {
	out, _ := runCmd(ctx, false, "systemctl", "show", name, "--property=ActiveState", "--value")
	return strings.TrimSpace(out)
}
