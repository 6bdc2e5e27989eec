package target

import (
	"errors"
	"strings"

	"github.com/asaskevich/govalidator"
	"github.com/sirupsen/logrus"
)

// Credentials carries the L2TP/IPSec authentication material for one server.
type Credentials struct {
	Username     string
	Password     string
	PresharedKey string
}

// Server is a single VPN endpoint under test. Parsed once at startup and
// read-only afterward.
type Server struct {
	Name        string
	Address     string
	Credentials *Credentials
}

// ConnectionName returns the daemon policy name used for this server.
func (s *Server) ConnectionName() string {
	return "vpnmon-" + s.Name
}

// Parse parses a comma separated list of server specifications of the form
// name:address or name:address:username:password:psk. Entries with any other
// field count are skipped with a warning, matching the tolerant behavior
// expected from hand-edited environment values.
func Parse(spec string) ([]*Server, error) {
	var servers []*Server
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.Split(entry, ":")
		if len(parts) != 2 && len(parts) != 5 {
			logrus.WithField("entry", entry).Warn("skipping invalid server specification")
			continue
		}

		server := &Server{
			Name:    strings.TrimSpace(parts[0]),
			Address: strings.TrimSpace(parts[1]),
		}
		if server.Name == "" || server.Address == "" {
			logrus.WithField("entry", entry).Warn("skipping server specification with empty name or address")
			continue
		}
		if !govalidator.IsIP(server.Address) && !govalidator.IsDNSName(server.Address) {
			logrus.WithFields(logrus.Fields{
				"entry":   entry,
				"address": server.Address,
			}).Warn("skipping server specification with invalid address")
			continue
		}

		if len(parts) == 5 {
			server.Credentials = &Credentials{
				Username:     parts[2],
				Password:     parts[3],
				PresharedKey: parts[4],
			}
		}

		servers = append(servers, server)
	}

	if len(servers) == 0 {
		return nil, errors.New("no valid servers configured")
	}
	return servers, nil
}
