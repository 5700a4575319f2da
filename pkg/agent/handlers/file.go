package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/groundworkhq/groundwork/pkg/agent/protocol"
)

// defaultReadLimit caps file.read payloads.
const defaultReadLimit = 10 * 1024 * 1024

// FileWriteHandler writes files with optional mode, ownership and backup.
type FileWriteHandler struct{}

// Handle writes the file. Content, mode and ownership are compared
// first; when everything already matches the write is skipped.
func (h *FileWriteHandler) Handle(ctx context.Context, params *protocol.FileWriteParams, eventCh chan<- *protocol.EventMessage) (*protocol.FileWriteResult, error) {
	if params.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	mode := os.FileMode(0o644)
	if params.Mode != "" {
		parsed, err := strconv.ParseUint(params.Mode, 8, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid mode %q: %w", params.Mode, err)
		}
		mode = os.FileMode(parsed)
	}

	uid, gid, err := lookupIDs(params.Owner, params.Group)
	if err != nil {
		return nil, err
	}

	content := []byte(params.Content)
	result := &protocol.FileWriteResult{
		Checksum: checksum(content),
		Size:     int64(len(content)),
	}

	info, err := os.Stat(params.Path)
	exists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat %s: %w", params.Path, err)
	}

	if exists {
		if fileMatches(params.Path, info, content, params.Mode != "", mode, uid, gid) {
			result.Changed = false
			result.Action = "already-present"
			return result, nil
		}
		result.Action = "updated"

		if params.Backup {
			backupPath := params.Path + ".bak"
			if err := copyFile(params.Path, backupPath); err != nil {
				return nil, fmt.Errorf("failed to back up %s: %w", params.Path, err)
			}
			result.BackupPath = backupPath
		}
	} else {
		if !params.Create {
			return nil, fmt.Errorf("%s does not exist and create is not set", params.Path)
		}
		result.Action = "created"
		if err := os.MkdirAll(filepath.Dir(params.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create parent directory: %w", err)
		}
	}

	if err := os.WriteFile(params.Path, content, mode); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", params.Path, err)
	}
	// WriteFile only applies the mode to new files.
	if params.Mode != "" {
		if err := os.Chmod(params.Path, mode); err != nil {
			return nil, fmt.Errorf("failed to chmod %s: %w", params.Path, err)
		}
	}
	if uid >= 0 || gid >= 0 {
		if err := os.Chown(params.Path, uid, gid); err != nil {
			return nil, fmt.Errorf("failed to chown %s: %w", params.Path, err)
		}
	}

	result.Changed = true
	return result, nil
}

// FileReadHandler reads files with metadata and a size cap.
type FileReadHandler struct{}

// Handle reads up to MaxBytes of the file and reports its metadata.
func (h *FileReadHandler) Handle(ctx context.Context, params *protocol.FileReadParams, eventCh chan<- *protocol.EventMessage) (*protocol.FileReadResult, error) {
	if params.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	limit := params.MaxBytes
	if limit <= 0 {
		limit = defaultReadLimit
	}

	info, err := os.Stat(params.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", params.Path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", params.Path)
	}

	f, err := os.Open(params.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", params.Path, err)
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", params.Path, err)
	}

	result := &protocol.FileReadResult{
		Content:   string(content),
		Size:      info.Size(),
		Mode:      fmt.Sprintf("%04o", info.Mode().Perm()),
		Checksum:  checksum(content),
		Truncated: info.Size() > limit,
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		result.UID = int(st.Uid)
		result.GID = int(st.Gid)
	}
	return result, nil
}

// checksum returns the hex sha256 of content.
func checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// lookupIDs resolves owner and group names to numeric IDs. Unset names
// resolve to -1, which os.Chown treats as unchanged.
func lookupIDs(owner, group string) (int, int, error) {
	uid, gid := -1, -1
	if owner != "" {
		u, err := user.Lookup(owner)
		if err != nil {
			return 0, 0, fmt.Errorf("unknown owner %q: %w", owner, err)
		}
		uid, err = strconv.Atoi(u.Uid)
		if err != nil {
			return 0, 0, fmt.Errorf("non-numeric uid for %q: %w", owner, err)
		}
	}
	if group != "" {
		g, err := user.LookupGroup(group)
		if err != nil {
			return 0, 0, fmt.Errorf("unknown group %q: %w", group, err)
		}
		gid, err = strconv.Atoi(g.Gid)
		if err != nil {
			return 0, 0, fmt.Errorf("non-numeric gid for %q: %w", group, err)
		}
	}
	return uid, gid, nil
}

// fileMatches reports whether the file already has the desired content,
// mode and ownership.
func fileMatches(path string, info os.FileInfo, content []byte, checkMode bool, mode os.FileMode, uid, gid int) bool {
	if info.Size() != int64(len(content)) {
		return false
	}
	existing, err := os.ReadFile(path)
	if err != nil || checksum(existing) != checksum(content) {
		return false
	}
	if checkMode && info.Mode().Perm() != mode.Perm() {
		return false
	}
	if uid >= 0 || gid >= 0 {
		st, ok := info.Sys().(*syscall.Stat_t)
		if !ok {
			return false
		}
		if uid >= 0 && int(st.Uid) != uid {
			return false
		}
		if gid >= 0 && int(st.Gid) != gid {
			return false
		}
	}
	return true
}
