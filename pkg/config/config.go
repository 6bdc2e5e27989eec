package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Servers is a comma separated list of
	// name:address[:username:password:psk] specifications.
	Servers   string `required:"true"`
	MonitorId string `split_words:"true"`
	// Interval between monitoring passes; 0 means a single run.
	Interval time.Duration `default:"0s"`

	Database *Database
	Probe    *Probe
	Tunnel   *Tunnel
	Daemon   *Daemon
	PublicIp *PublicIp `split_words:"true"`
}

type Database struct {
	Path string `default:"vpnmon.db"`
}

type Probe struct {
	Timeout time.Duration `default:"5s"`
	// FailureIsFatal aborts the attempt on a failed ICMP probe. Disable for
	// peers that block ICMP.
	FailureIsFatal bool `split_words:"true" default:"true"`
}

type Tunnel struct {
	MaxWait      time.Duration `split_words:"true" default:"30s"`
	PollInterval time.Duration `split_words:"true" default:"2s"`
	// RequireL2tp makes IPSec-only establishment count as failure.
	RequireL2tp      bool          `split_words:"true" default:"false"`
	L2tpWait         time.Duration `split_words:"true" default:"10s"`
	L2tpPollInterval time.Duration `split_words:"true" default:"1s"`
}

type Daemon struct {
	IpsecPath      string        `split_words:"true" default:"ipsec"`
	StrongswanPath string        `split_words:"true" default:"strongswan"`
	StarterPath    string        `split_words:"true" default:"/usr/lib/ipsec/starter"`
	Xl2tpdPath     string        `split_words:"true" default:"xl2tpd"`
	ControlFile    string        `split_words:"true" default:"/var/run/xl2tpd/l2tp-control"`
	CommandTimeout time.Duration `split_words:"true" default:"15s"`
	SettleDelay    time.Duration `split_words:"true" default:"2s"`
}

type PublicIp struct {
	Timeout time.Duration `default:"10s"`
}

func Load(prefix string) (*Config, error) {
	prefix = strings.ToUpper(prefix)
	prefix = strings.ReplaceAll(prefix, "-", "_")
	prefix = strings.ReplaceAll(prefix, " ", "_")
	var config Config
	if err := envconfig.Process(prefix, &config); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Servers) == "" {
		return errors.New("at least one server must be specified")
	}
	if c.Database.Path == "" {
		return errors.New("database path cannot be empty")
	}
	if c.Tunnel.MaxWait <= 0 {
		return errors.New("tunnel max wait must be positive")
	}
	if c.Tunnel.PollInterval <= 0 {
		return errors.New("tunnel poll interval must be positive")
	}
	if c.Probe.Timeout <= 0 {
		return errors.New("probe timeout must be positive")
	}
	if c.Interval < 0 {
		return errors.New("interval cannot be negative")
	}
	return nil
}
