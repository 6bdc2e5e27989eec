//go:build linux

package daemon

import (
	"fmt"
	"strings"

	"github.com/vishvananda/netlink"
)

// HasPPPInterface reports whether any ppp interface is present, the
// establishment indicator for the L2TP/PPP layer.
func (c *execController) HasPPPInterface() (bool, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return false, fmt.Errorf("failed to list network interfaces: %w", err)
	}
	for _, link := range links {
		if strings.HasPrefix(link.Attrs().Name, "ppp") {
			return true, nil
		}
	}
	return false, nil
}
