package handlers

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/groundworkhq/groundwork/pkg/agent/protocol"
)

// PkgEnsureHandler converges a package onto a desired state through the
// host's native package manager.
type PkgEnsureHandler struct{}

// Handle ensures the package is present, absent or at the latest
// available version.
func (h *PkgEnsureHandler) Handle(ctx context.Context, params *protocol.PkgEnsureParams, eventCh chan<- *protocol.EventMessage) (*protocol.PkgEnsureResult, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("package name is required")
	}

	manager := params.Manager
	if manager == "" {
		var err error
		manager, err = detectPackageManager()
		if err != nil {
			return nil, err
		}
	}
	if err := validManager(manager); err != nil {
		return nil, err
	}

	installed, currentVersion := h.installedVersion(ctx, manager, params.Name)

	result := &protocol.PkgEnsureResult{
		Manager:         manager,
		PreviousVersion: currentVersion,
	}

	switch params.State {
	case "present":
		if installed {
			result.Action = "already-present"
			result.Version = currentVersion
			return result, nil
		}
		emit(eventCh, protocol.EventLevelInfo, fmt.Sprintf("installing %s", params.Name))
		if err := h.run(ctx, params.Become, manager, installArgs(manager, params.Name, params.Version)); err != nil {
			return nil, fmt.Errorf("failed to install %s: %w", params.Name, err)
		}
		result.Changed = true
		result.Action = "installed"
		_, result.Version = h.installedVersion(ctx, manager, params.Name)

	case "absent":
		if !installed {
			result.Action = "already-absent"
			return result, nil
		}
		emit(eventCh, protocol.EventLevelInfo, fmt.Sprintf("removing %s", params.Name))
		if err := h.run(ctx, params.Become, manager, removeArgs(manager, params.Name)); err != nil {
			return nil, fmt.Errorf("failed to remove %s: %w", params.Name, err)
		}
		result.Changed = true
		result.Action = "removed"

	case "latest":
		emit(eventCh, protocol.EventLevelInfo, fmt.Sprintf("upgrading %s", params.Name))
		if err := h.run(ctx, params.Become, manager, installArgs(manager, params.Name, "")); err != nil {
			return nil, fmt.Errorf("failed to upgrade %s: %w", params.Name, err)
		}
		_, newVersion := h.installedVersion(ctx, manager, params.Name)
		result.Version = newVersion
		switch {
		case !installed:
			result.Changed = true
			result.Action = "installed"
		case newVersion != currentVersion:
			result.Changed = true
			result.Action = "upgraded"
		default:
			result.Action = "already-present"
		}

	default:
		return nil, fmt.Errorf("invalid package state: %q", params.State)
	}

	return result, nil
}

// installedVersion probes whether the package is installed. A failed
// query means not installed.
func (h *PkgEnsureHandler) installedVersion(ctx context.Context, manager, name string) (bool, string) {
	var out string
	var err error
	switch manager {
	case "apt":
		out, err = runCmd(ctx, false, "dpkg-query", "-W", "-f=${Version}", name)
	default:
		out, err = runCmd(ctx, false, "rpm", "-q", "--queryformat", "%{VERSION}-%{RELEASE}", name)
	}
	if err != nil {
		return false, ""
	}
	return true, strings.TrimSpace(out)
}

// run invokes the manager binary. Debian frontends are forced
// non-interactive; the agent has no tty to answer prompts on.
func (h *PkgEnsureHandler) run(ctx context.Context, become bool, manager string, args []string) error {
	argv := append([]string{managerBinary(manager)}, args...)
	if manager == "apt" {
		argv = append([]string{"env", "DEBIAN_FRONTEND=noninteractive"}, argv...)
	}
	_, err := runCmd(ctx, become, argv...)
	return err
}

// installArgs builds the install arguments, pinning a version when
// requested. Debian pins with name=version, rpm families with
// name-version.
func installArgs(manager, name, version string) []string {
	spec := name
	if version != "" {
		if manager == "apt" {
			spec = name + "=" + version
		} else {
			spec = name + "-" + version
		}
	}
	switch manager {
	case "zypper":
		return []string{"--non-interactive", "install", spec}
	default:
		return []string{"install", "-y", spec}
	}
}

// removeArgs builds the remove arguments.
func removeArgs(manager, name string) []string {
	switch manager {
	case "zypper":
		return []string{"--non-interactive", "remove", name}
	default:
		return []string{"remove", "-y", name}
	}
}

// managerBinary maps a manager identifier to the binary to invoke.
func managerBinary(manager string) string {
	if manager == "apt" {
		return "apt-get"
	}
	return manager
}

// validManager rejects unknown manager identifiers.
func validManager(manager string) error {
	switch manager {
	case "apt", "dnf", "yum", "zypper":
		return nil
	default:
		return fmt.Errorf("unsupported package manager: %q", manager)
	}
}

// detectPackageManager finds the first supported manager on PATH.
func detectPackageManager() (string, error) {
	for _, mgr := range []string{"apt-get", "dnf", "yum", "zypper"} {
		if _, err := exec.LookPath(mgr); err == nil {
			if mgr == "apt-get" {
				return "apt", nil
			}
			return mgr, nil
		}
	}
	return "", fmt.Errorf("no supported package manager found")
}
