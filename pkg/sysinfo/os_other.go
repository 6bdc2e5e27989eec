//go:build !linux

package sysinfo

import (
	"runtime"
	"strings"
)

func osDescription() string {
	return strings.ToUpper(runtime.GOOS[:1]) + runtime.GOOS[1:]
}
