package publicip

import (
	"time"

	externalip "github.com/glendc/go-external-ip"
	"github.com/sirupsen/logrus"
)

// Resolve returns the host's public IP as seen by external lookup services,
// or an empty string if none of them answered. Best effort only; results are
// informational and failure never blocks monitoring.
func Resolve(timeout time.Duration) string {
	consensus := externalip.DefaultConsensus(&externalip.ConsensusConfig{Timeout: timeout}, nil)
	ip, err := consensus.ExternalIP()
	if err != nil {
		logrus.WithError(err).Warn("could not determine public IP")
		return ""
	}
	return ip.String()
}
