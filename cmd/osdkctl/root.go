package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/osdkctl/internal/config"
	"github.com/danmuck/osdkctl/internal/link"
	"github.com/danmuck/osdkctl/internal/node"
	"github.com/danmuck/osdkctl/internal/observability"
	"github.com/danmuck/osdkctl/internal/sim"
	"github.com/danmuck/osdkctl/internal/vehicle"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const defaultConfigPath = "osdkctl.toml"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "osdkctl",
		Short:         "Command/ACK gateway for an OSDK flight controller",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newConfigCmd(), newVersionCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var (
		path     string
		linkKind string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Bring up the vehicle link and serve the node API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(path, linkKind)
			if err != nil {
				return err
			}
			observability.InitLogger(cfg.NodeID)
			log.Info().Str("path", path).Str("link", cfg.Link).Msg("osdkctl.run loaded config")
			return runNode(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", defaultConfigPath, "config file")
	cmd.Flags().StringVar(&linkKind, "link", "", "override link kind: serial|sim")
	return cmd
}

func loadConfig(path, linkKind string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if linkKind != "" {
		cfg.Link = linkKind
		if err := config.Validate(cfg); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

// runNode initializes the vehicle and serves until ctx ends. In sim mode the
// simulated vehicle runs in the same group on the far end of a pipe.
func runNode(ctx context.Context, cfg config.Config) error {
	g, gctx := errgroup.WithContext(ctx)

	openers := vehicle.SerialOpeners(cfg.Vehicle)
	var simEnd link.Link
	if cfg.Link == config.LinkSim {
		gwEnd, vehEnd := link.Pipe()
		simEnd = vehEnd
		veh := sim.New(cfg.Sim, vehEnd)
		g.Go(func() error { return veh.Run(gctx) })
		openers = vehicle.Openers{
			Main: func(context.Context) (link.Link, error) { return gwEnd, nil },
		}
	}
	stopSim := func() {
		if simEnd != nil {
			_ = simEnd.Close()
		}
	}

	gw, err := vehicle.InitVehicle(gctx, cfg.Vehicle, openers)
	if err != nil {
		stopSim()
		_ = g.Wait()
		log.Error().Err(err).Msg("osdkctl.run vehicle init failed")
		return err
	}

	bridge := node.NewBridge(node.Options{
		ID:              cfg.NodeID,
		Addr:            cfg.AdminAddr,
		CORSOrigins:     cfg.CORSOrigins,
		Workers:         cfg.Workers,
		PublishInterval: cfg.PublishInterval,
		AdminToken:      cfg.AdminToken,
		TLS: node.TLSOptions{
			CertFile:     cfg.TLSCertFile,
			KeyFile:      cfg.TLSKeyFile,
			ClientCAFile: cfg.TLSClientCAFile,
		},
	}, gw)
	g.Go(func() error { return bridge.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		err := gw.Close()
		stopSim()
		return err
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("node stopped: %w", err)
	}
	log.Info().Str("node", cfg.NodeID).Msg("osdkctl.run clean shutdown")
	return nil
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or check config files",
	}

	var (
		kind  string
		force bool
	)
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a config template",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := defaultConfigPath
			if len(args) == 1 {
				target = args[0]
			}
			if err := config.WriteTemplate(target, kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config template to %s\n", kind, target)
			return nil
		},
	}
	initCmd.Flags().StringVar(&kind, "kind", config.LinkSerial, "template kind: serial|sim")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Load and validate a config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := defaultConfigPath
			if len(args) == 1 {
				target = args[0]
			}
			cfg, err := config.Load(target)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "validated %s: node=%s link=%s workers=%d\n", target, cfg.NodeID, cfg.Link, cfg.Workers)
			return nil
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "osdkctl", node.Version)
		},
	}
}
