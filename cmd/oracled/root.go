package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/GPTx-global/near-oracle/oracle/config"
	"github.com/GPTx-global/near-oracle/oracle/daemon"
	"github.com/GPTx-global/near-oracle/oracle/log"
)

const (
	flagHome     = "home"
	flagLogLevel = "log-level"
	flagSpec     = "spec"
	flagEndpoint = "endpoint"
	flagContract = "contract"
	flagInterval = "interval"
)

// NewRootCmd creates the oracled command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "oracled",
		Short:         "NEAR oracle node: polls the oracle contract for requests it can serve",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String(flagHome, config.DefaultHome(), "directory for config and logs")
	rootCmd.PersistentFlags().String(flagLogLevel, "", "log level (debug|info|error|none), overrides the config file")

	rootCmd.AddCommand(
		startCmd(),
		scanCmd(),
		configCmd(),
	)

	return rootCmd
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the polling loop until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.Print()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := daemon.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to create daemon: %w", err)
			}

			if err := d.WaitForNode(ctx); err != nil {
				d.Stop()
				return fmt.Errorf("node at %s is not reachable: %w", cfg.Chain.Endpoint, err)
			}

			if err := d.Start(); err != nil {
				d.Stop()
				return fmt.Errorf("failed to start daemon: %w", err)
			}

			go d.Monitor()

			<-ctx.Done()
			log.Infof("shutting down")
			d.Stop()

			return nil
		},
	}

	addOverrideFlags(cmd)

	return cmd
}

func scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a single poll cycle and print the match result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.Health.Enabled = false

			d, err := daemon.New(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to create daemon: %w", err)
			}
			defer d.Stop()

			res := d.RunOnce(cmd.Context())
			if res.Err != nil {
				return res.Err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d requests)\n", res.Match, res.Requests)

			return nil
		},
	}

	addOverrideFlags(cmd)

	return cmd
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			data, err := toml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}

			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func addOverrideFlags(cmd *cobra.Command) {
	cmd.Flags().String(flagSpec, "", "request spec to look for")
	cmd.Flags().String(flagEndpoint, "", "NEAR RPC endpoint")
	cmd.Flags().String(flagContract, "", "oracle contract account")
	cmd.Flags().Duration(flagInterval, 0, "poll interval")
}

// loadConfig reads the config file under --home, applies command line
// overrides and sets up logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	home, _ := cmd.Flags().GetString(flagHome)

	cfg, err := config.Load(home)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Lookup(flagSpec) != nil {
		if v, _ := cmd.Flags().GetString(flagSpec); v != "" {
			cfg.Oracle.RequestSpec = v
		}
		if v, _ := cmd.Flags().GetString(flagEndpoint); v != "" {
			cfg.Chain.Endpoint = v
		}
		if v, _ := cmd.Flags().GetString(flagContract); v != "" {
			cfg.Chain.Contract = v
		}
		if v, _ := cmd.Flags().GetDuration(flagInterval); v > 0 {
			cfg.Oracle.PollInterval = config.Duration(v)
		}
	}

	if v, _ := cmd.Flags().GetString(flagLogLevel); v != "" {
		cfg.Log.Level = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := log.SetLevel(cfg.Log.Level); err != nil {
		return nil, err
	}
	if cfg.Log.ToFile {
		if err := log.ResetLogger(home); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}
