package main

import (
	"context"
	"flag"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"go.uber.org/automaxprocs/maxprocs"

	"vpnmon/pkg/config"
	"vpnmon/pkg/daemon"
	"vpnmon/pkg/datastore"
	"vpnmon/pkg/monitor"
	"vpnmon/pkg/ping"
	"vpnmon/pkg/proc"
	"vpnmon/pkg/publicip"
	"vpnmon/pkg/sysinfo"
	"vpnmon/pkg/target"
	"vpnmon/pkg/tunnel"
	"vpnmon/pkg/vpnconf"
)

const (
	appName = "vpnmon"
	version = "1.0.0"
)

func main() {
	healthCheck := flag.Bool("health-check", false, "verify database reachability and required binaries, then exit")
	singleRun := flag.Bool("single-run", false, "run one monitoring pass and exit")
	flag.Parse()

	logrus.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "severity",
			logrus.FieldKeyMsg:   "message",
		},
		TimestampFormat: time.RFC3339,
	})

	conf, err := config.Load(appName)
	if err != nil {
		logrus.
			WithError(err).
			Fatal("failed to initialize config")
		return
	}

	if _, err := maxprocs.Set(maxprocs.Logger(logrus.Printf)); err != nil {
		logrus.
			WithError(err).
			Error("failed to set maxprocs")
		return
	}

	db, err := datastore.Open(conf.Database.Path)
	if err != nil {
		logrus.
			WithError(err).
			Fatal("failed to initialize datastore")
		return
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if *healthCheck {
		code := runHealthCheck(ctx, conf, db)
		db.Close()
		os.Exit(code)
	}

	servers, err := target.Parse(conf.Servers)
	if err != nil {
		logrus.
			WithError(err).
			Fatal("failed to parse server list")
		return
	}

	host := sysinfo.Collect(conf.MonitorId, version)
	host.PublicIP = publicip.Resolve(conf.PublicIp.Timeout)
	logrus.WithFields(logrus.Fields{
		"host":      host.Identifier,
		"os":        host.OS,
		"public_ip": host.PublicIP,
		"version":   host.Version,
	}).Info("monitor identity collected")

	runner := proc.NewRunner()
	controller := daemon.NewController(runner, daemon.Options{
		IPSecPath:      conf.Daemon.IpsecPath,
		StrongswanPath: conf.Daemon.StrongswanPath,
		CharonPath:     conf.Daemon.StarterPath,
		XL2TPDPath:     conf.Daemon.Xl2tpdPath,
		ControlFile:    conf.Daemon.ControlFile,
		CommandTimeout: conf.Daemon.CommandTimeout,
		SettleDelay:    conf.Daemon.SettleDelay,
		Poll: daemon.PollPolicy{
			MaxWait:  conf.Tunnel.MaxWait,
			Interval: conf.Tunnel.PollInterval,
		},
	})
	materializer := vpnconf.NewMaterializer(vpnconf.DefaultPaths())
	attempter := tunnel.NewAttempter(controller, materializer, ping.NewProber(runner), tunnel.Policy{
		ProbeTimeout:        conf.Probe.Timeout,
		ProbeFailureIsFatal: conf.Probe.FailureIsFatal,
		RequireL2TP:         conf.Tunnel.RequireL2tp,
		L2TPWait:            conf.Tunnel.L2tpWait,
		L2TPPollInterval:    conf.Tunnel.L2tpPollInterval,
	})

	scheduler := monitor.NewScheduler(servers, attempter, db, host, conf.Interval)

	if *singleRun || conf.Interval <= 0 {
		failed := false
		for _, outcome := range scheduler.RunOnce(ctx) {
			if !outcome.Success {
				failed = true
			}
		}
		if failed {
			db.Close()
			os.Exit(1)
		}
		return
	}

	scheduler.Run(ctx)
}

// runHealthCheck verifies that everything outside this process is in place:
// the database answers and the external daemon binaries exist.
func runHealthCheck(ctx context.Context, conf *config.Config, db *datastore.DB) int {
	var result *multierror.Error

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		result = multierror.Append(result, err)
	}

	for _, binary := range []string{conf.Daemon.IpsecPath, conf.Daemon.Xl2tpdPath, "ping"} {
		if _, err := exec.LookPath(binary); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		logrus.WithError(err).Error("health check failed")
		return 1
	}
	logrus.Info("health check passed")
	return 0
}
