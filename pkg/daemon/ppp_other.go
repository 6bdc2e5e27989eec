//go:build !linux

package daemon

import (
	"fmt"
	"net"
	"strings"
)

func (c *execController) HasPPPInterface() (bool, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false, fmt.Errorf("failed to list network interfaces: %w", err)
	}
	for _, iface := range interfaces {
		if strings.HasPrefix(iface.Name, "ppp") {
			return true, nil
		}
	}
	return false, nil
}
