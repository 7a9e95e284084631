//go:build unix

package store

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// createOwnerOnly creates path atomically with O_EXCL so two concurrent
// bootstraps can never silently interleave writes, and 0o600 permissions
// so the group secret is never group- or world-readable even for the
// instant between creation and the final Fchmod some filesystems need.
func createOwnerOnly(path string, data []byte) error {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CREAT|unix.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("groupkeyfile: create %s: %w", path, err)
	}
	defer unix.Close(fd)

	if err := unix.Fchmod(fd, 0o600); err != nil {
		return fmt.Errorf("groupkeyfile: chmod %s: %w", path, err)
	}
	for written := 0; written < len(data); {
		n, err := unix.Write(fd, data[written:])
		if err != nil {
			return fmt.Errorf("groupkeyfile: write %s: %w", path, err)
		}
		written += n
	}
	return nil
}
