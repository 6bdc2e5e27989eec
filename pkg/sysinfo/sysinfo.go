package sysinfo

import (
	"os"
	"os/user"
)

// Host identifies the monitoring instance in persisted records.
type Host struct {
	Identifier string
	Username   string
	OS         string
	PublicIP   string
	Version    string
}

// Collect gathers host identity. monitorID, when set, overrides the hostname
// so several instances on one network can be told apart.
func Collect(monitorID, version string) *Host {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown"
	}
	if monitorID != "" {
		hostname = monitorID
	}

	username := "unknown"
	if u, err := user.Current(); err == nil && u.Username != "" {
		username = u.Username
	} else if env := os.Getenv("USER"); env != "" {
		username = env
	}

	return &Host{
		Identifier: hostname,
		Username:   username,
		OS:         osDescription(),
		Version:    version,
	}
}
