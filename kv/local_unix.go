//go:build unix

package kv

import (
	"os"

	"golang.org/x/sys/unix"
)

// syncDir makes a rename durable by fsyncing the parent directory.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()

	err = unix.Fsync(int(d.Fd()))
	if err == unix.EINVAL || err == unix.ENOTSUP {
		// Some filesystems do not support fsync on directories.
		return nil
	}
	return err
}
