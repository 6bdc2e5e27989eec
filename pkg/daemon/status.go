package daemon

import (
	"os/exec"
	"strings"
)

// State is the daemon-reported condition of a named connection policy,
// parsed from status command text. Never cached: the daemon is the sole
// source of truth and changes state asynchronously.
type State int

const (
	StateAbsent State = iota
	StateConnecting
	StateEstablished
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateEstablished:
		return "ESTABLISHED"
	default:
		return "ABSENT"
	}
}

// StateFromStatus classifies strongSwan status output for the named
// connection. Lines look like:
//
//	vpnmon-ny1[1]: ESTABLISHED 5 seconds ago, 10.0.0.2[...]...10.0.0.1[...]
//	vpnmon-ny1[1]: CONNECTING, 10.0.0.2[%any]...10.0.0.1[%any]
func StateFromStatus(output, conn string) State {
	for _, line := range strings.Split(output, "\n") {
		if !mentionsConnection(line, conn) {
			continue
		}
		if strings.Contains(line, "ESTABLISHED") {
			return StateEstablished
		}
		if strings.Contains(line, "CONNECTING") {
			return StateConnecting
		}
	}
	return StateAbsent
}

// mentionsConnection matches conn at the daemon's token boundary. strongSwan
// prints "name[serial]:" for SAs and "name:" for loaded configs; a plain
// substring check would let one connection name match a longer sibling.
func mentionsConnection(s, conn string) bool {
	return strings.Contains(s, conn+"[") || strings.Contains(s, conn+":")
}

func lookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
