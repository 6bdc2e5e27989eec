//go:build linux

package sysinfo

import (
	"bytes"

	"golang.org/x/sys/unix"
)

func osDescription() string {
	var uname unix.Utsname
	if err := unix.Uname(&uname); err != nil {
		return "Linux"
	}
	return "Linux " + charsToString(uname.Release[:])
}

func charsToString(chars []byte) string {
	if idx := bytes.IndexByte(chars, 0); idx != -1 {
		chars = chars[:idx]
	}
	return string(chars)
}
