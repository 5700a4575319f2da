package ssh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/sftp"
)

// Upload copies a local file to the remote path over SFTP, makes it
// executable, and verifies the content hash. Part of the agent
// transport contract.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string) error {
	client := c.getClient()
	if client == nil {
		return newTransportError("upload", fmt.Errorf("not connected"))
	}

	localSum, err := fileChecksum(localPath)
	if err != nil {
		return newTransportError("upload", err)
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return newTransportError("upload", err)
	}
	defer sftpClient.Close()

	// Skip the transfer when the remote copy already matches.
	if sum, err := remoteChecksum(sftpClient, remotePath); err == nil && sum == localSum {
		c.logger.Debug().Str("path", remotePath).Msg("remote file up to date")
		return nil
	}

	if dir := filepath.Dir(remotePath); dir != "" && dir != "/" && dir != "." {
		if err := sftpClient.MkdirAll(dir); err != nil {
			return newTransportError("upload", fmt.Errorf("failed to create %s: %w", dir, err))
		}
	}

	src, err := os.Open(localPath)
	if err != nil {
		return newTransportError("upload", err)
	}
	defer src.Close()

	dst, err := sftpClient.Create(remotePath)
	if err != nil {
		return newTransportError("upload", fmt.Errorf("failed to create %s: %w", remotePath, err))
	}

	written, err := copyWithContext(ctx, dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = sftpClient.Remove(remotePath)
		return newTransportError("upload", err)
	}

	if err := sftpClient.Chmod(remotePath, 0o755); err != nil {
		return newTransportError("upload", fmt.Errorf("failed to chmod %s: %w", remotePath, err))
	}

	remoteSum, err := remoteChecksum(sftpClient, remotePath)
	if err != nil {
		return newTransportError("upload", fmt.Errorf("failed to verify %s: %w", remotePath, err))
	}
	if remoteSum != localSum {
		_ = sftpClient.Remove(remotePath)
		return newTransportError("upload",
			fmt.Errorf("checksum mismatch for %s: local %s remote %s", remotePath, localSum, remoteSum))
	}

	c.logger.Debug().
		Str("path", remotePath).
		Int64("bytes", written).
		Msg("uploaded file")
	return nil
}

// copyWithContext copies src to dst, aborting when ctx is cancelled.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			written += int64(w)
			if werr != nil {
				return written, werr
			}
			if w != n {
				return written, io.ErrShortWrite
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return written, nil
			}
			return written, rerr
		}
	}
}

// fileChecksum returns the hex SHA-256 of a local file.
func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// remoteChecksum returns the hex SHA-256 of a remote file read over SFTP.
func remoteChecksum(sftpClient *sftp.Client, path string) (string, error) {
	f, err := sftpClient.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
