package handlers

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/groundworkhq/groundwork/pkg/agent/protocol"
)

// UserEnsureHandler converges a local user account onto a desired
// state. Group membership changes take effect on new login sessions
// only, so a task list pairs this action with reset_connection when the
// connecting user is modified.
type UserEnsureHandler struct{}

// userRecord is the current state of an account as read from the host.
type userRecord struct {
	UID     int
	GID     int
	Home    string
	Shell   string
	Primary string
	Groups  []string // supplementary
}

// Handle creates, modifies or removes the account.
func (h *UserEnsureHandler) Handle(ctx context.Context, params *protocol.UserEnsureParams, eventCh chan<- *protocol.EventMessage) (*protocol.UserEnsureResult, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("user name is required")
	}

	state := params.State
	if state == "" {
		state = "present"
	}

	current := h.lookup(ctx, params.Name)
	result := &protocol.UserEnsureResult{}

	switch state {
	case "present":
		if current == nil {
			emit(eventCh, protocol.EventLevelInfo, fmt.Sprintf("creating user %s", params.Name))
			argv := append([]string{"useradd"}, useraddArgs(params)...)
			if _, err := runCmd(ctx, params.Become, argv...); err != nil {
				return nil, fmt.Errorf("failed to create user %s: %w", params.Name, err)
			}
			result.Changed = true
			result.Action = "created"
		} else {
			modArgs := usermodArgs(params, current)
			if len(modArgs) == 0 {
				result.Action = "already-present"
			} else {
				argv := append([]string{"usermod"}, modArgs...)
				if _, err := runCmd(ctx, params.Become, argv...); err != nil {
					return nil, fmt.Errorf("failed to modify user %s: %w", params.Name, err)
				}
				result.Changed = true
				result.Action = "modified"
			}
		}
		if rec := h.lookup(ctx, params.Name); rec != nil {
			result.UID = rec.UID
			result.GID = rec.GID
		}

	case "absent":
		if current == nil {
			result.Action = "already-absent"
			return result, nil
		}
		// The home directory is left in place.
		if _, err := runCmd(ctx, params.Become, "userdel", params.Name); err != nil {
			return nil, fmt.Errorf("failed to remove user %s: %w", params.Name, err)
		}
		result.Changed = true
		result.Action = "removed"

	default:
		return nil, fmt.Errorf("invalid user state: %q", state)
	}

	return result, nil
}

// lookup reads the account from the user database. A missing account
// returns nil.
func (h *UserEnsureHandler) lookup(ctx context.Context, name string) *userRecord {
	out, err := runCmd(ctx, false, "getent", "passwd", name)
	if err != nil {
		return nil
	}
	fields := strings.Split(out, ":")
	if len(fields) < 7 {
		return nil
	}

	rec := &userRecord{
		Home:  fields[5],
		Shell: fields[6],
	}
	rec.UID, _ = strconv.Atoi(fields[2])
	rec.GID, _ = strconv.Atoi(fields[3])

	if primary, err := runCmd(ctx, false, "id", "-gn", name); err == nil {
		rec.Primary = primary
	}
	if all, err := runCmd(ctx, false, "id", "-nG", name); err == nil {
		for _, g := range strings.Fields(all) {
			if g != rec.Primary {
				rec.Groups = append(rec.Groups, g)
			}
		}
	}
	return rec
}

// useraddArgs builds the useradd arguments for a new account.
func useraddArgs(params *protocol.UserEnsureParams) []string {
	var args []string
	if params.UID > 0 {
		args = append(args, "-u", strconv.Itoa(params.UID))
	}
	if params.System {
		args = append(args, "-r")
	}
	if params.Shell != "" {
		args = append(args, "-s", params.Shell)
	}
	if params.Home != "" {
		args = append(args, "-d", params.Home)
	}
	if params.CreateHome {
		args = append(args, "-m")
	}
	if len(params.Groups) > 0 {
		args = append(args, "-G", strings.Join(params.Groups, ","))
	}
	return append(args, params.Name)
}

// usermodArgs builds the usermod arguments needed to converge an
// existing account. An empty slice means nothing to change.
func usermodArgs(params *protocol.UserEnsureParams, current *userRecord) []string {
	var args []string
	if params.Shell != "" && params.Shell != current.Shell {
		args = append(args, "-s", params.Shell)
	}
	if params.Home != "" && params.Home != current.Home {
		args = append(args, "-d", params.Home)
	}
	if params.UID > 0 && params.UID != current.UID {
		args = append(args, "-u", strconv.Itoa(params.UID))
	}
	if len(params.Groups) > 0 {
		if params.Append {
			if missing := missingGroups(params.Groups, current.Groups); len(missing) > 0 {
				args = append(args, "-a", "-G", strings.Join(missing, ","))
			}
		} else if !sameGroups(params.Groups, current.Groups) {
			args = append(args, "-G", strings.Join(params.Groups, ","))
		}
	}
	if len(args) == 0 {
		return nil
	}
	return append(args, params.Name)
}

// missingGroups returns the desired groups the account is not yet in,
// in declaration order.
func missingGroups(desired, current []string) []string {
	have := make(map[string]bool, len(current))
	for _, g := range current {
		have[g] = true
	}
	var missing []string
	for _, g := range desired {
		if !have[g] {
			missing = append(missing, g)
		}
	}
	return missing
}

// sameGroups compares two group sets ignoring order.
func sameGroups(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
