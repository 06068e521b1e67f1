package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/danmuck/mavwire/internal/config"
	"github.com/danmuck/mavwire/internal/connection"
	"github.com/danmuck/mavwire/internal/dialect/common"
	"github.com/danmuck/mavwire/internal/logging"
	"github.com/danmuck/mavwire/internal/observability"
)

const (
	configOptionName   = "config"
	logLevelOptionName = "log-level"
	metricsOptionName  = "metrics"
)

// app is the state shared by every subcommand once flags are parsed.
type app struct {
	configPath string
	logLevel   string
	metrics    bool
	cfg        config.Config
}

func newRootCommand(out io.Writer) *cobra.Command {
	a := &app{cfg: config.Default()}
	cmd := &cobra.Command{
		Use:           "mavctl",
		Short:         "Talk MAVLink over tcp, udp and serial links",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			if a.configPath != "" {
				cfg, err := config.Load(a.configPath)
				if err != nil {
					return err
				}
				a.cfg = cfg
			}
			if a.logLevel != "" {
				a.cfg.LogLevel = a.logLevel
			}
			if a.cfg.LogLevel != "" && !logging.SetLevel(a.cfg.LogLevel) {
				return fmt.Errorf("unknown log level %q", a.cfg.LogLevel)
			}
			return nil
		},
	}
	cmd.SetOut(out)
	cmd.PersistentFlags().StringVar(&a.configPath, configOptionName, "", "Path to a TOML config file")
	cmd.PersistentFlags().StringVar(&a.logLevel, logLevelOptionName, "", "Log level: trace, debug, info, warn, error, off")
	cmd.PersistentFlags().BoolVar(&a.metrics, metricsOptionName, false, "Serve /metrics and /links on metrics.listen")

	cmd.AddCommand(newListenCommand(a))
	cmd.AddCommand(newHeartbeatCommand(a))
	cmd.AddCommand(newIntervalCommand(a))
	cmd.AddCommand(newInspectCommand(a))
	cmd.AddCommand(newPcapCommand(a))
	cmd.AddCommand(newSessionsCommand(a))
	cmd.AddCommand(newReplayCommand(a))
	cmd.AddCommand(newRelayCommand(a))
	cmd.AddCommand(newConfigCommand(a))
	return cmd
}

// address picks the first positional argument, falling back to link.address.
func (a *app) address(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if a.cfg.Link.Address == "" {
		return "", errors.New("no link address: pass one or set link.address")
	}
	return a.cfg.Link.Address, nil
}

func (a *app) openLink(ctx context.Context, address string) (*connection.Link, error) {
	connCfg, err := a.cfg.ConnectionConfig()
	if err != nil {
		return nil, err
	}
	return connection.Open(ctx, address, common.Dialect{}, connCfg)
}

// serveMetrics starts the observability server in the background when
// --metrics is set and tracks link under name.
func (a *app) serveMetrics(ctx context.Context, name string, link observability.StatsSource) func() {
	if !a.metrics {
		return func() {}
	}
	untrack := observability.TrackLink(name, link)
	srv := observability.NewServer("mavctl")
	go func() {
		if err := srv.Run(ctx, a.cfg.Metrics.Listen); err != nil {
			log := logging.Component("mavctl")
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	return untrack
}
