//go:build unix

package daemon

import (
	"os"

	"golang.org/x/sys/unix"
)

// openControlFile opens the xl2tpd control FIFO without blocking on a
// missing reader; a dead xl2tpd surfaces as an open error instead of a hang.
func openControlFile(path string) (*os.File, error) {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return os.NewFile(uintptr(fd), path), nil
}
