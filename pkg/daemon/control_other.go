//go:build !unix

package daemon

import "os"

func openControlFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY, 0)
}
