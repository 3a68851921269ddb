package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	autoscalerrun "github.com/rzbill/llmq/internal/cmd/autoscaler"
	clientcmd "github.com/rzbill/llmq/internal/cmd/client"
	serverrun "github.com/rzbill/llmq/internal/cmd/server"
	workerrun "github.com/rzbill/llmq/internal/cmd/worker"
	cfgpkg "github.com/rzbill/llmq/internal/config"
	logpkg "github.com/rzbill/llmq/pkg/log"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "llmq",
		Short:         "llmq broker, workers and autoscaler",
		Long:          "llmq moves inference requests through a durable broker to a pool of workers and scales the pool on queue depth.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", os.Getenv("LLMQ_CONFIG"), "Config file (.yaml, .yml or .json)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug|info|warn|error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: text|json")

	rootCmd.AddCommand(
		newBrokerCommand(),
		newWorkerCommand(),
		newAutoscalerCommand(),
		newConfigCommand(),
		clientcmd.NewQueueCommand(),
		clientcmd.NewCallCommand(),
		clientcmd.NewLoadgenCommand(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		cancel()
		os.Exit(1)
	}
}

// loadConfig resolves file, then env, then command-line log flags.
func loadConfig(cmd *cobra.Command) (cfgpkg.Config, logpkg.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return cfgpkg.Config{}, nil, err
	}
	cfgpkg.FromEnv(&cfg)
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.Log.Format = v
	}
	if err := cfg.Validate(); err != nil {
		return cfgpkg.Config{}, nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := logpkg.ApplyConfig(cfg.Log)
	if err != nil {
		return cfgpkg.Config{}, nil, err
	}
	logpkg.SetDefaultLogger(logger)
	return cfg, logger, nil
}

func newBrokerCommand() *cobra.Command {
	brokerCmd := &cobra.Command{Use: "broker", Short: "Broker commands"}
	startCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the broker (gRPC and management HTTP)",
		Aliases: []string{"run"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("data-dir") {
				cfg.Broker.DataDir, _ = flags.GetString("data-dir")
			}
			if flags.Changed("grpc") {
				cfg.Broker.GRPCAddr, _ = flags.GetString("grpc")
			}
			if flags.Changed("http") {
				cfg.Broker.HTTPAddr, _ = flags.GetString("http")
			}
			if flags.Changed("fsync") {
				cfg.Broker.Fsync, _ = flags.GetString("fsync")
			}
			if flags.Changed("fsync-interval") {
				d, _ := flags.GetDuration("fsync-interval")
				cfg.Broker.FsyncInterval = cfgpkg.Duration(d)
			}
			opts, err := serverrun.OptionsFromConfig(cfg)
			if err != nil {
				return err
			}
			opts.Logger = logger
			if err := serverrun.Run(cmd.Context(), opts); err != nil {
				return fmt.Errorf("broker: %w", err)
			}
			return nil
		},
	}
	startCmd.Flags().String("data-dir", "", "Data directory (default: OS application data directory)")
	startCmd.Flags().String("grpc", ":50051", "gRPC listen address")
	startCmd.Flags().String("http", ":15672", "Management HTTP listen address (empty disables)")
	startCmd.Flags().String("fsync", "always", "Fsync mode: always|interval|never")
	startCmd.Flags().Duration("fsync-interval", 5*time.Millisecond, "Group-commit window when --fsync=interval")
	brokerCmd.AddCommand(startCmd)
	return brokerCmd
}

func newWorkerCommand() *cobra.Command {
	workerCmd := &cobra.Command{Use: "worker", Short: "Worker commands"}
	startCmd := &cobra.Command{
		Use:     "start",
		Short:   "Consume requests from the work queue and reply",
		Aliases: []string{"run"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			for name, dst := range map[string]*string{
				"broker":        &cfg.Worker.BrokerAddr,
				"queue":         &cfg.Worker.Queue,
				"dlq":           &cfg.Worker.DeadLetterQueue,
				"http":          &cfg.Worker.HTTPAddr,
				"processor-url": &cfg.Worker.ProcessorURL,
			} {
				if flags.Changed(name) {
					*dst, _ = flags.GetString(name)
				}
			}
			return workerrun.Run(cmd.Context(), cfg, logger)
		},
	}
	startCmd.Flags().String("broker", "127.0.0.1:50051", "Broker gRPC address")
	startCmd.Flags().String("queue", "llm_queue", "Work queue")
	startCmd.Flags().String("dlq", "llm_queue.dlq", "Dead-letter queue (empty drops rejected requests)")
	startCmd.Flags().String("http", ":8000", "HTTP address for /chat, /health and /metrics (empty disables)")
	startCmd.Flags().String("processor-url", "", "Forward requests to this inference endpoint instead of the built-in lexicon")
	workerCmd.AddCommand(startCmd)
	return workerCmd
}

func newAutoscalerCommand() *cobra.Command {
	asCmd := &cobra.Command{Use: "autoscaler", Short: "Autoscaler commands"}
	startCmd := &cobra.Command{
		Use:     "start",
		Short:   "Scale worker services on queue depth",
		Aliases: []string{"run"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("source") {
				cfg.Autoscaler.Source, _ = flags.GetString("source")
			}
			if flags.Changed("deployer") {
				cfg.Autoscaler.Deployer.Kind, _ = flags.GetString("deployer")
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return autoscalerrun.Run(cmd.Context(), cfg, logger)
		},
	}
	startCmd.Flags().String("source", cfgpkg.SourceAPI, "Backlog source: api|prometheus")
	startCmd.Flags().String("deployer", cfgpkg.DeployerCompose, "Deployer: compose|kubernetes")
	asCmd.AddCommand(startCmd)
	return asCmd
}

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{Use: "config", Short: "Configuration commands"}
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer func() { _ = enc.Close() }()
			return enc.Encode(cfg)
		},
	}
	configCmd.AddCommand(showCmd)
	return configCmd
}
